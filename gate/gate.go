// Package gate is the authorization kernel: a subject is first checked against
// its profile's "resource:action" permissions, then against the policy
// registered for the resource type when a concrete resource is at hand.
//
// The kernel knows nothing about the application's subjects; U is typically a
// pointer to a resolved actor.
package gate

import "context"

// Gate combines profile permissions with per-resource policies.
type Gate[U comparable] struct {
	resolver ProfileResolver[U]
	policies map[string]Policy[U]
}

// New returns a gate resolving profiles with resolver.
func New[U comparable](resolver ProfileResolver[U]) *Gate[U] {
	return &Gate[U]{resolver: resolver, policies: make(map[string]Policy[U])}
}

// Register sets the policy consulted for resourceType, replacing any previous one.
func (g *Gate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns nil or a *Denial naming the stage that refused. A nil
// resource skips the policy stage, which is how list and create checks run
// before anything is loaded.
func (g *Gate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	if stage, ok := g.profileStage(ctx, user, action, resourceType); !ok {
		return &Denial{Stage: stage, Resource: resourceType, Action: action}
	}
	if resource == nil {
		return nil
	}
	if p, ok := g.policies[resourceType]; ok && !p.Can(ctx, user, action, resource) {
		return &Denial{Stage: StagePolicy, Resource: resourceType, Action: action}
	}
	return nil
}

// CanProfile runs only the subject and profile stages.
func (g *Gate[U]) CanProfile(ctx context.Context, user U, action Action, resourceType string) bool {
	_, ok := g.profileStage(ctx, user, action, resourceType)
	return ok
}

func (g *Gate[U]) profileStage(ctx context.Context, user U, action Action, resourceType string) (Stage, bool) {
	var zero U
	if user == zero {
		return StageSubject, false
	}
	profile, err := g.resolver.Resolve(ctx, user)
	if err != nil || profile == nil {
		return StageSubject, false
	}
	if !profile.HasPermission(NewPermission(resourceType, action)) {
		return StageProfile, false
	}
	return "", true
}
