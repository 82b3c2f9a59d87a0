package gate

import "strings"

// Permission is written "resource:action", e.g. "post:create". Either half
// may be the wildcard "*".
type Permission string

const (
	Wildcard                 = "*"
	PermissionAll Permission = "*:*"
)

func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// Cut splits p into its resource type and action. ok is false when p has no
// separator.
func (p Permission) Cut() (resourceType string, action Action, ok bool) {
	res, act, ok := strings.Cut(string(p), ":")
	return res, Action(act), ok
}

// Matches reports whether holding p grants requested.
func (p Permission) Matches(requested Permission) bool {
	if p == requested {
		return true
	}
	res, act, ok := p.Cut()
	if !ok {
		return false
	}
	reqRes, reqAct, ok := requested.Cut()
	if !ok {
		return false
	}
	return (res == Wildcard || res == reqRes) && (act == Wildcard || act == reqAct)
}
