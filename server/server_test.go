package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/auth"
	"UltimateDJ/core/relay"
	"UltimateDJ/model"
	"UltimateDJ/storage"

	"github.com/gorilla/websocket"
)

type fakeTracks struct {
	mu     sync.Mutex
	tracks map[string]*model.Track
}

func newFakeTracks(tracks ...*model.Track) *fakeTracks {
	f := &fakeTracks{tracks: make(map[string]*model.Track)}
	for _, t := range tracks {
		f.tracks[t.ID] = t
	}
	return f
}

func (f *fakeTracks) List(context.Context) ([]*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Track
	for _, t := range f.tracks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTracks) GetByID(_ context.Context, id string) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[id], nil
}

func (f *fakeTracks) Search(_ context.Context, q string, _ int) ([]*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Track
	for _, t := range f.tracks {
		if strings.Contains(strings.ToLower(t.Title), strings.ToLower(q)) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTracks) Update(_ context.Context, id string, p model.TrackPatch) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tracks[id]
	if t == nil {
		return nil, nil
	}
	if p.BPM != nil {
		t.BPM = model.Float64Ptr(*p.BPM)
	}
	if p.LyricsOffset != nil {
		t.LyricsOffset = *p.LyricsOffset
	}
	return t, nil
}

func (f *fakeTracks) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracks[id]; !ok {
		return false, nil
	}
	delete(f.tracks, id)
	return true, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]string
}

func (p *fakePresence) Join(_ context.Context, id, role string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = role
	return nil
}

func (p *fakePresence) Leave(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
	return nil
}

func (p *fakePresence) role(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[id]
}

type harness struct {
	srv      *httptest.Server
	tracks   *fakeTracks
	presence *fakePresence
	relay    *relay.Relay
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "song.mp3"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := relay.New(relay.NewHub(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	h := &harness{
		tracks: newFakeTracks(
			&model.Track{ID: "t1", Title: "Around the World", MediaPath: "song.mp3"},
			&model.Track{ID: "t2", Title: "Digital Love"},
		),
		presence: &fakePresence{online: make(map[string]string)},
		relay:    r,
	}
	s := New(Options{
		Config:   cfg,
		Relay:    r,
		Tracks:   h.tracks,
		Media:    storage.NewLocalStore(root),
		Presence: h.presence,
	})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		cancel()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func openConfig() *config.Config {
	return &config.Config{ListenAddr: ":0"}
}

func TestTrackRoutes(t *testing.T) {
	h := newHarness(t, openConfig())

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"list", http.MethodGet, "/api/tracks", nil, http.StatusOK},
		{"get", http.MethodGet, "/api/tracks/t1", nil, http.StatusOK},
		{"missing", http.MethodGet, "/api/tracks/nope", nil, http.StatusNotFound},
		{"search", http.MethodGet, "/api/tracks/search/digital", nil, http.StatusOK},
		{"patch bpm", http.MethodPatch, "/api/tracks/t1", model.TrackPatch{BPM: model.Float64Ptr(121.5)}, http.StatusOK},
		{"patch empty", http.MethodPatch, "/api/tracks/t1", model.TrackPatch{}, http.StatusBadRequest},
		{"patch negative bpm", http.MethodPatch, "/api/tracks/t1", model.TrackPatch{BPM: model.Float64Ptr(-1)}, http.StatusBadRequest},
		{"patch missing", http.MethodPatch, "/api/tracks/nope", model.TrackPatch{BPM: model.Float64Ptr(100)}, http.StatusNotFound},
		{"state", http.MethodGet, "/api/state", nil, http.StatusOK},
		{"token disabled", http.MethodPost, "/api/auth/token", TokenRequest{Role: "display"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, "", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	track, _ := h.tracks.GetByID(context.Background(), "t1")
	if bpm, ok := track.StoredBPM(); !ok || bpm != 121.5 {
		t.Errorf("stored bpm = %v %v", bpm, ok)
	}

	resp := h.do(t, http.MethodGet, "/api/tracks/search/digital", "", nil)
	var found []model.Track
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "t2" {
		t.Errorf("search = %+v", found)
	}
}

func TestDeleteTrack(t *testing.T) {
	h := newHarness(t, openConfig())

	// 各步骤依次作用于同一个曲库
	steps := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"delete", http.MethodDelete, "/api/tracks/t2", http.StatusNoContent},
		{"gone", http.MethodGet, "/api/tracks/t2", http.StatusNotFound},
		{"delete again", http.MethodDelete, "/api/tracks/t2", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/tracks/nope", http.StatusNotFound},
		{"other kept", http.MethodGet, "/api/tracks/t1", http.StatusOK},
	}
	for _, st := range steps {
		resp := h.do(t, st.method, st.path, "", nil)
		if resp.StatusCode != st.status {
			t.Errorf("%s: status = %d, want %d", st.name, resp.StatusCode, st.status)
		}
	}

	resp := h.do(t, http.MethodGet, "/api/tracks", "", nil)
	var left []model.Track
	if err := json.NewDecoder(resp.Body).Decode(&left); err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].ID != "t1" {
		t.Errorf("library after delete = %+v", left)
	}
}

func TestStateReportsCanonicalSnapshot(t *testing.T) {
	h := newHarness(t, openConfig())
	resp := h.do(t, http.MethodGet, "/api/state", "", nil)
	var state model.DJState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Equal(model.NewDJState()) {
		t.Errorf("state = %+v", state)
	}
}

func TestAuthRoles(t *testing.T) {
	hash, err := auth.HashPassphrase("booth")
	if err != nil {
		t.Fatal(err)
	}
	cfg := openConfig()
	cfg.AuthSecret = "secret"
	cfg.ControlPassphraseHash = hash
	h := newHarness(t, cfg)

	if resp := h.do(t, http.MethodGet, "/api/tracks", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous list = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodPost, "/api/auth/token", "", TokenRequest{Role: "controller", Passphrase: "crowd"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong passphrase = %d", resp.StatusCode)
	}

	issue := func(req TokenRequest) TokenResponse {
		resp := h.do(t, http.MethodPost, "/api/auth/token", "", req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("issue %s = %d", req.Role, resp.StatusCode)
		}
		var out TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return out
	}
	display := issue(TokenRequest{Role: "display"})
	controller := issue(TokenRequest{Role: "controller", Passphrase: "booth"})
	if display.ID == "" || display.ID == controller.ID {
		t.Errorf("ids = %q %q", display.ID, controller.ID)
	}

	patch := model.TrackPatch{LyricsOffset: new(int)}
	if resp := h.do(t, http.MethodGet, "/api/tracks", display.Token, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("display list = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodPatch, "/api/tracks/t1", display.Token, patch); resp.StatusCode != http.StatusForbidden {
		t.Errorf("display patch = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodPatch, "/api/tracks/t1", controller.Token, patch); resp.StatusCode != http.StatusOK {
		t.Errorf("controller patch = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodDelete, "/api/tracks/t2", display.Token, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("display delete = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodDelete, "/api/tracks/t2", controller.Token, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("controller delete = %d", resp.StatusCode)
	}
}

func TestMediaRanges(t *testing.T) {
	h := newHarness(t, openConfig())

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/media/song.mp3", nil)
	req.Header.Set("Range", "bytes=2-5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent || string(body) != "2345" {
		t.Errorf("range = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q", ct)
	}

	if resp := h.do(t, http.MethodGet, "/media/missing.mp3", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing = %d", resp.StatusCode)
	}
}

func TestWebSocketJoinsRelay(t *testing.T) {
	cfg := openConfig()
	cfg.AuthSecret = "secret"
	h := newHarness(t, cfg)

	token, err := auth.IssueToken("secret", "11111111-1111-1111-1111-111111111111", auth.RoleDisplay, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"

	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token succeeded")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var evt model.Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != model.EventSyncState {
		t.Fatalf("first event = %s", evt.Type)
	}
	if role := h.presence.role("11111111-1111-1111-1111-111111111111"); role != auth.RoleDisplay {
		t.Errorf("presence role = %q", role)
	}
}

func TestPresenceSurvivesSharedToken(t *testing.T) {
	cfg := openConfig()
	cfg.AuthSecret = "secret"
	h := newHarness(t, cfg)

	const id = "22222222-2222-2222-2222-222222222222"
	token, err := auth.IssueToken("secret", id, auth.RoleDisplay, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatal(err)
		}
		return conn
	}
	first := dial()
	second := dial()
	defer second.Close()

	first.Close()
	waitFor(t, func() bool { return h.relay.Hub().Count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if role := h.presence.role(id); role != auth.RoleDisplay {
		t.Errorf("presence after one of two closed = %q", role)
	}

	second.Close()
	waitFor(t, func() bool { return h.presence.role(id) == "" })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
