package server

import (
	"context"
	"net/http"
	"time"

	"UltimateDJ/logger"

	"github.com/google/uuid"
)

// WebSocketHandler 升级连接并交给中继；令牌可放在 Authorization 头或 token 参数中
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	p, ok := s.authenticate(w, r, token)
	if !ok {
		return
	}

	id := p.ID
	if want := r.URL.Query().Get("id"); id == "" && want != "" {
		if _, err := uuid.Parse(want); err == nil {
			id = want
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[WS] 升级连接失败", logger.ErrorField(err))
		return
	}

	s.connOpened(id)
	s.updatePresence(func(ctx context.Context) error { return s.presence.Join(ctx, id, p.Role) })
	defer func() {
		if s.connClosed(id) {
			s.updatePresence(func(ctx context.Context) error { return s.presence.Leave(ctx, id) })
		}
	}()

	// 请求上下文在升级后仍然有效，直到处理函数返回
	s.relay.Serve(r.Context(), conn, id, p.Role)
}

func (s *Server) updatePresence(fn func(ctx context.Context) error) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("[WS] 更新在线列表失败", logger.ErrorField(err))
	}
}

func (s *Server) connOpened(id string) {
	s.connMu.Lock()
	s.connCount[id]++
	s.connMu.Unlock()
}

// connClosed 返回该参与者是否已没有连接
func (s *Server) connClosed(id string) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connCount[id]--
	if s.connCount[id] > 0 {
		return false
	}
	delete(s.connCount, id)
	return true
}
