package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"UltimateDJ/core/auth"
	"UltimateDJ/logger"

	"github.com/google/uuid"
)

type ctxKey int

const participantKey ctxKey = iota

// Participant 已认证的调用方
type Participant struct {
	ID   string
	Role string
}

// TokenRequest POST /api/auth/token 请求体
type TokenRequest struct {
	Role       string `json:"role"`
	Passphrase string `json:"passphrase"`
	ID         string `json:"id"`
}

// TokenResponse 签发结果
type TokenResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Role  string `json:"role"`
}

// TokenHandler 签发参与者令牌；控制端需要口令
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthSecret == "" {
		http.Error(w, "Authentication is disabled", http.StatusNotFound)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("[Auth] 解析请求体失败", logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !auth.ValidRole(req.Role) {
		http.Error(w, "Role must be controller or display", http.StatusBadRequest)
		return
	}
	if req.Role == auth.RoleController {
		if !auth.CheckPassphrase(s.cfg.ControlPassphraseHash, req.Passphrase) {
			logger.Warn("[Auth] 控制端口令错误")
			http.Error(w, "Invalid passphrase", http.StatusUnauthorized)
			return
		}
	}

	id := req.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	token, err := auth.IssueToken(s.cfg.AuthSecret, id, req.Role, auth.DefaultTokenTTL)
	if err != nil {
		logger.Error("[Auth] 签发令牌失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ID: id, Role: req.Role})
}

// AuthMiddleware 校验 Bearer 令牌；未配置密钥时所有调用方都视为控制端
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.authenticate(w, r, bearerToken(r))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), participantKey, p)))
	}
}

// ControllerOnly 拒绝显示端的写操作
func (s *Server) ControllerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ParticipantFromContext(r.Context())
		if !ok || p.Role != auth.RoleController {
			http.Error(w, "Display participants are read-only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// ParticipantFromContext 读取中间件写入的参与者
func ParticipantFromContext(ctx context.Context) (Participant, bool) {
	p, ok := ctx.Value(participantKey).(Participant)
	return p, ok
}

// authenticate 写出错误响应并返回 false 表示拒绝
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, token string) (Participant, bool) {
	if s.cfg.AuthSecret == "" {
		return Participant{Role: auth.RoleController}, true
	}
	if token == "" {
		http.Error(w, "Authorization header is required", http.StatusUnauthorized)
		return Participant{}, false
	}
	claims, err := auth.ParseToken(s.cfg.AuthSecret, token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return Participant{}, false
	}
	return Participant{ID: claims.Subject, Role: claims.Role}, true
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
