package policy

import (
	"context"
	"slices"

	"github.com/diewo77/ecole/internal/models"
)

// Actor is the authenticated user performing an operation, together with the
// relationship data the capability checks need. It is resolved once per request.
type Actor struct {
	ID        uint
	Role      models.Role
	Email     string
	FirstName string
	LastName  string
	// ClassID is the student's own class.
	ClassID *uint
	// TaughtClassIDs is filled for professors.
	TaughtClassIDs []uint
	// ChildIDs and ChildClassIDs are filled for parents. A child without a
	// class contributes no class id.
	ChildIDs      []uint
	ChildClassIDs []uint
}

func (a *Actor) Is(role models.Role) bool { return a != nil && a.Role == role }

// Teaches reports whether a professor teaches classID.
func (a *Actor) Teaches(classID uint) bool {
	return slices.Contains(a.TaughtClassIDs, classID)
}

// IsParentOf reports whether a guardianship link to studentID exists.
func (a *Actor) IsParentOf(studentID uint) bool {
	return slices.Contains(a.ChildIDs, studentID)
}

type ctxKey struct{}

// WithActor stores the actor in ctx. Only the HTTP layer uses this; services
// take the actor as an explicit argument.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(*Actor)
	return a, ok && a != nil
}
