package policy

import (
	"context"
	"net/http"

	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/httpx"
)

// AuthGate is the application's authorization point: role profiles first,
// then the resource policy registered for the resource type.
type AuthGate struct {
	Gate *gate.Gate[*Actor]
}

// NewAuthGate wires the role profiles and the post and thread policies. Thread
// creation is judged on the student the thread would be about, every other
// thread action on the thread itself.
func NewAuthGate() *AuthGate {
	g := gate.New[*Actor](roleTable)
	g.Register(ResourcePost, PostPolicy{})
	g.Register(ResourceThread, gate.Route[*Actor](ThreadPolicy{}, map[gate.Action]gate.Policy[*Actor]{
		gate.ActionCreate: StudentThreadPolicy{},
	}))
	return &AuthGate{Gate: g}
}

// Authorize returns nil when a may perform action, a *gate.Denial otherwise.
func (ag *AuthGate) Authorize(ctx context.Context, a *Actor, action gate.Action, resourceType string, resource any) error {
	return ag.Gate.Authorize(ctx, a, action, resourceType, resource)
}

// CanProfile checks only the role profile.
func (ag *AuthGate) CanProfile(ctx context.Context, a *Actor, action gate.Action, resourceType string) bool {
	return ag.Gate.CanProfile(ctx, a, action, resourceType)
}

// RequirePermission is middleware checking the request actor's role profile.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.CanProfile(r.Context(), a, action, resourceType) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
