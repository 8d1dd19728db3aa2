package server

import (
	"encoding/json"
	"net/http"

	"UltimateDJ/logger"
	"UltimateDJ/model"
	"UltimateDJ/repository"

	"github.com/gorilla/mux"
)

// ListTracksHandler 返回全部曲目
func (s *Server) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.tracks.List(r.Context())
	if err != nil {
		logger.Error("[Tracks] 查询曲库失败", logger.ErrorField(err))
		http.Error(w, "Failed to retrieve tracks", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// SearchTracksHandler 按标题或艺术家搜索
func (s *Server) SearchTracksHandler(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]
	tracks, err := s.tracks.Search(r.Context(), query, repository.DefaultSearchLimit)
	if err != nil {
		logger.Error("[Tracks] 搜索失败", logger.String("query", query), logger.ErrorField(err))
		http.Error(w, "Failed to search tracks", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler 返回单个曲目
func (s *Server) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	track, err := s.tracks.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("[Tracks] 查询曲目失败", logger.String("id", id), logger.ErrorField(err))
		http.Error(w, "Failed to retrieve track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// PatchTrackHandler 更新 BPM、歌词偏移或元数据
func (s *Server) PatchTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch model.TrackPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.Empty() {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}
	if patch.BPM != nil && *patch.BPM <= 0 {
		http.Error(w, "bpm must be positive", http.StatusBadRequest)
		return
	}
	if patch.Title != nil && *patch.Title == "" {
		http.Error(w, "title must not be empty", http.StatusBadRequest)
		return
	}

	track, err := s.tracks.Update(r.Context(), id, patch)
	if err != nil {
		logger.Error("[Tracks] 更新曲目失败", logger.String("id", id), logger.ErrorField(err))
		http.Error(w, "Failed to update track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	logger.Info("[Tracks] 曲目已更新", logger.String("id", id))
	writeJSON(w, http.StatusOK, track)
}

// DeleteTrackHandler 从曲库删除曲目
func (s *Server) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found, err := s.tracks.Delete(r.Context(), id)
	if err != nil {
		logger.Error("[Tracks] 删除曲目失败", logger.String("id", id), logger.ErrorField(err))
		http.Error(w, "Failed to delete track", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	logger.Info("[Tracks] 曲目已删除", logger.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}
