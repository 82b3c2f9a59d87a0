package policy

import (
	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
)

// Resource types known to the gate.
const (
	ResourcePost   = "post"
	ResourceThread = "thread"
	ResourceUser   = "user"
)

// Actions beyond the gate's CRUD set.
const (
	ActionPin     gate.Action = "pin"
	ActionComment gate.Action = "comment"
	ActionLike    gate.Action = "like"
	ActionReply   gate.Action = "reply"
	ActionRead    gate.Action = "read"
	ActionOversee gate.Action = "oversee"
)

var memberPermissions = []gate.Permission{
	"post:list", "post:view", "post:update", "post:delete", "post:comment", "post:like",
	"thread:list", "thread:view", "thread:create", "thread:reply", "thread:read",
}

func withPerms(extra ...gate.Permission) []gate.Permission {
	return append(append([]gate.Permission{}, memberPermissions...), extra...)
}

// roleTable is the single source of truth for what each role may attempt.
// Relationship checks (class, guardianship, authorship) live in the policies.
var roleTable = gate.NewTable(func(a *Actor) models.Role { return a.Role }).
	Set(models.RoleDirection, gate.NewStaticProfile(string(models.RoleDirection), gate.PermissionAll)).
	Set(models.RoleProfessor, gate.NewStaticProfile(string(models.RoleProfessor), withPerms("post:create")...)).
	Set(models.RoleStudent, gate.NewStaticProfile(string(models.RoleStudent), withPerms("post:create")...)).
	Set(models.RoleParent, gate.NewStaticProfile(string(models.RoleParent), withPerms()...))

// RoleProfile returns the gate profile of role, or nil for an unknown role.
func RoleProfile(role models.Role) gate.Profile {
	return roleTable.Lookup(role)
}

func roleCan(role models.Role, resourceType string, action gate.Action) bool {
	p := RoleProfile(role)
	return p != nil && p.HasPermission(gate.NewPermission(resourceType, action))
}
