package http

import (
	"context"
	"net/http"
	"strings"

	"incomes/internal/core"
	"incomes/internal/log"
)

type contextKey string

const userContextKey contextKey = "user"

// currentUser returns the user stored by requireAuth.
func currentUser(ctx context.Context) core.User {
	u, _ := ctx.Value(userContextKey).(core.User)
	return u
}

// requireAuth resolves the bearer token to an active user.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "未登录")
			return
		}
		user, err := s.deps.Auth.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, err, "")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, log.LoggerContextKey, log.FromContext(ctx).With(log.FieldUserID, user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r.Context()).IsAdmin() {
			writeDetail(w, http.StatusForbidden, "需要管理员权限")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLogin accepts form-encoded or JSON credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, invalidParam("invalid request body"), "")
		return
	}
	username := p.Get("username")
	password := p.GetRaw("password")
	if username == "" || password == "" {
		writeError(w, r, invalidParam("username and password are required"), "")
		return
	}

	token, user, err := s.deps.Auth.Login(r.Context(), username, password)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        toUserResponse(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(currentUser(r.Context())))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, invalidParam("invalid request body"), "")
		return
	}
	oldPassword := p.GetRaw("old_password")
	newPassword := p.GetRaw("new_password")
	if oldPassword == "" || newPassword == "" {
		writeError(w, r, invalidParam("old_password and new_password are required"), "")
		return
	}

	user := currentUser(r.Context())
	if err := s.deps.Auth.ChangePassword(r.Context(), user.ID, oldPassword, newPassword); err != nil {
		writeError(w, r, err, "用户不存在")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

