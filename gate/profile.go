package gate

import (
	"context"
	"slices"
)

// Profile is a named permission set.
type Profile interface {
	Name() string
	HasPermission(permission Permission) bool
	Permissions() []Permission
}

// ProfileResolver finds the profile of a subject. A nil profile denies everything.
type ProfileResolver[U any] interface {
	Resolve(ctx context.Context, user U) (Profile, error)
}

// StaticProfile is an immutable profile. grants is indexed [resource][action]
// and its "*" keys hold the wildcards.
type StaticProfile struct {
	name   string
	perms  []Permission
	grants map[string]map[Action]bool
}

func NewStaticProfile(name string, permissions ...Permission) *StaticProfile {
	p := &StaticProfile{name: name, grants: make(map[string]map[Action]bool)}
	for _, perm := range permissions {
		res, act, ok := perm.Cut()
		if !ok {
			continue
		}
		if p.grants[res] == nil {
			p.grants[res] = make(map[Action]bool)
		}
		if !p.grants[res][act] {
			p.grants[res][act] = true
			p.perms = append(p.perms, perm)
		}
	}
	slices.Sort(p.perms)
	return p
}

func (p *StaticProfile) Name() string { return p.name }

// Permissions returns the granted permissions, sorted.
func (p *StaticProfile) Permissions() []Permission { return slices.Clone(p.perms) }

func (p *StaticProfile) HasPermission(requested Permission) bool {
	res, act, ok := requested.Cut()
	if !ok {
		return false
	}
	for _, r := range []string{res, Wildcard} {
		if acts := p.grants[r]; acts[act] || acts[Wildcard] {
			return true
		}
	}
	return false
}

// Table resolves a subject through a key derived from it, typically its role.
type Table[U any, K comparable] struct {
	key      func(U) K
	profiles map[K]Profile
}

func NewTable[U any, K comparable](key func(U) K) *Table[U, K] {
	return &Table[U, K]{key: key, profiles: make(map[K]Profile)}
}

// Set assigns the profile for key and returns t for chaining.
func (t *Table[U, K]) Set(key K, p Profile) *Table[U, K] {
	t.profiles[key] = p
	return t
}

// Lookup returns the profile stored under key, or nil.
func (t *Table[U, K]) Lookup(key K) Profile { return t.profiles[key] }

func (t *Table[U, K]) Resolve(_ context.Context, user U) (Profile, error) {
	return t.profiles[t.key(user)], nil
}
