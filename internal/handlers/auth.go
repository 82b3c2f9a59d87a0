package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/services"
)

// AuthHandler serves login, logout and the current user.
type AuthHandler struct {
	Identity     *services.IdentityService
	Users        *services.UserService
	SecureCookie bool
	Log          *slog.Logger
}

func NewAuthHandler(identity *services.IdentityService, users *services.UserService, secure bool, log *slog.Logger) *AuthHandler {
	return &AuthHandler{Identity: identity, Users: users, SecureCookie: secure, Log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	User      any    `json:"user"`
}

// Login: POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrAccountDisabled) {
		httpx.JSONError(w, http.StatusForbidden, "account_inactive", nil)
		return
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	auth.SetSessionCookie(w, res.Token, res.ExpiresAt, h.SecureCookie)
	httpx.JSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.UTC().Format(http.TimeFormat),
		User:      res.User,
	})
}

// Logout: POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.SecureCookie)
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "logged_out"})
}

// Me: GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	u, err := h.Users.Me(r.Context(), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}
