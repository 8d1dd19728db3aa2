package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/relay"
	"UltimateDJ/logger"
	"UltimateDJ/repository"
	"UltimateDJ/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Presence 记录在线参与者，可为 nil
type Presence interface {
	Join(ctx context.Context, id, role string) error
	Leave(ctx context.Context, id string) error
}

// Options 服务器依赖
type Options struct {
	Config   *config.Config
	Relay    *relay.Relay
	Tracks   repository.TrackRepository
	Media    storage.MediaStore
	Presence Presence
}

// Server 中继的 HTTP 入口：曲库 API、事件 websocket、媒体文件
type Server struct {
	cfg      *config.Config
	relay    *relay.Relay
	tracks   repository.TrackRepository
	media    storage.MediaStore
	presence Presence
	upgrader websocket.Upgrader
	router   *mux.Router

	// 同一参与者可能有多条连接，最后一条断开时才离线
	connMu    sync.Mutex
	connCount map[string]int
}

// New 创建服务器并注册路由
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		relay:     opts.Relay,
		tracks:    opts.Tracks,
		media:     opts.Media,
		presence:  opts.Presence,
		connCount: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 视图可能来自任意来源
			},
		},
	}
	s.router = s.routes()
	return s
}

// Handler 返回根路由
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 小时

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// 曲库
	router.HandleFunc("/api/tracks", s.AuthMiddleware(s.ListTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/search/{query}", s.AuthMiddleware(s.SearchTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", s.AuthMiddleware(s.GetTrackHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", s.AuthMiddleware(s.ControllerOnly(s.PatchTrackHandler))).Methods(http.MethodPatch)
	router.HandleFunc("/api/tracks/{id}", s.AuthMiddleware(s.ControllerOnly(s.DeleteTrackHandler))).Methods(http.MethodDelete)

	// 状态与认证
	router.HandleFunc("/api/state", s.AuthMiddleware(s.StateHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/token", s.TokenHandler).Methods(http.MethodPost)

	// 事件通道
	router.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)

	// 媒体文件，支持 Range
	router.PathPrefix("/media/").HandlerFunc(s.MediaHandler).Methods(http.MethodGet, http.MethodHead)

	return router
}

// StateHandler 返回当前规范状态
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Snapshot())
}

// ListenAndServe 启动服务器，ctx 结束时优雅关闭
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// 长连接与大文件不设置 WriteTimeout
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay server starting", logger.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	// 创建一个5秒超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", logger.ErrorField(err))
	}
}
