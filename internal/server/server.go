// Package server assembles the HTTP routes and middleware.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/handlers"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/services"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Login attempts: 10 per IP per hour. Other API calls: 100 per IP per 15 minutes.
var (
	LoginRate  = rate.Every(6 * time.Minute)
	LoginBurst = 10
	APIRate    = rate.Every(9 * time.Second)
	APIBurst   = 100
)

// Deps are the collaborators the router wires together.
type Deps struct {
	DB       *gorm.DB
	Issuer   *auth.Issuer
	Gate     *policy.AuthGate
	Identity *services.IdentityService
	Users    *services.UserService
	Posts    *services.PostService
	Threads  *services.ThreadService
	Log      *slog.Logger

	// UploadDir is served under /uploads/ when attachments are stored locally.
	UploadDir    string
	SecureCookie bool

	// Nil limiters disable rate limiting.
	LoginLimiter *IPLimiter
	APILimiter   *IPLimiter
}

// New returns the application handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	ah := handlers.NewAuthHandler(d.Identity, d.Users, d.SecureCookie, d.Log)
	ph := handlers.NewPostHandler(d.Posts, d.Log)
	th := handlers.NewThreadHandler(d.Threads, d.Log)
	uh := handlers.NewUserHandler(d.Users, d.Log)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(d.Identity.Verify)(h)
	}
	admin := func(action gate.Action, h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(d.Identity.Verify)(d.Gate.RequirePermission(policy.ResourceUser, action)(h))
	}

	health := healthHandler(d.DB)
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /healthz", health)
	if d.UploadDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))
	}

	// Auth
	var login http.Handler = http.HandlerFunc(ah.Login)
	if d.LoginLimiter != nil {
		login = d.LoginLimiter.Middleware(login)
	}
	mux.Handle("POST /api/auth/login", login)
	mux.HandleFunc("POST /api/auth/logout", ah.Logout)
	mux.Handle("GET /api/auth/me", authed(ah.Me))

	// Feed
	mux.Handle("GET /api/posts", authed(ph.List))
	mux.Handle("POST /api/posts", authed(ph.Create))
	mux.Handle("GET /api/posts/{id}", authed(ph.Get))
	mux.Handle("PUT /api/posts/{id}", authed(ph.Update))
	mux.Handle("DELETE /api/posts/{id}", authed(ph.Delete))
	mux.Handle("PATCH /api/posts/{id}/pin", authed(ph.Pin))
	mux.Handle("POST /api/posts/{id}/comments", authed(ph.Comment))
	mux.Handle("POST /api/posts/{id}/like", authed(ph.Like))

	// Messaging
	mux.Handle("GET /api/threads", authed(th.List))
	mux.Handle("GET /api/threads/unread", authed(th.Unread))
	mux.Handle("POST /api/threads", authed(th.Create))
	mux.Handle("GET /api/threads/{id}", authed(th.Get))
	mux.Handle("POST /api/threads/{id}/messages", authed(th.AddMessage))
	mux.Handle("POST /api/threads/{id}/read", authed(th.MarkRead))

	// Users
	mux.Handle("GET /api/users/me", authed(ah.Me))
	mux.Handle("GET /api/users/me/students", authed(uh.MyStudents))
	mux.Handle("GET /api/users/me/classes", authed(uh.MyClasses))
	mux.Handle("POST /api/users", admin(gate.ActionCreate, uh.Create))
	mux.Handle("GET /api/users", admin(gate.ActionList, uh.List))
	mux.Handle("PATCH /api/users/{id}", admin(gate.ActionUpdate, uh.SetActive))
	mux.Handle("POST /api/users/{id}/students", admin(gate.ActionUpdate, uh.LinkStudent))
	mux.Handle("POST /api/users/{id}/classes", admin(gate.ActionUpdate, uh.AssignClass))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
	})

	var h http.Handler = mux
	if d.APILimiter != nil {
		h = d.APILimiter.Middleware(h)
	}
	h = auth.Middleware(d.Issuer)(h)
	h = withRecover(d.Log, h)
	return withLogging(d.Log, h)
}

func healthHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
