package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"UltimateDJ/logger"
	"UltimateDJ/storage"
)

// MediaHandler 从 MinIO 或本地目录提供媒体文件
func (s *Server) MediaHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/media/")
	obj, info, err := s.media.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrBadKey):
			http.Error(w, "Invalid media path", http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			logger.Error("[Media] 读取媒体失败", logger.String("key", key), logger.ErrorField(err))
			http.Error(w, "Failed to read media", http.StatusInternalServerError)
		}
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000") // 缓存一年
	http.ServeContent(w, r, path.Base(info.Key), info.LastModified, obj)
}
