package models

import (
	"errors"
	"strings"
)

// Role is the closed set of account kinds.
type Role string

const (
	RoleDirection Role = "DIRECTION"
	RoleProfessor Role = "PROFESSOR"
	RoleParent    Role = "PARENT"
	RoleStudent   Role = "STUDENT"
)

// Roles lists every valid role.
var Roles = []Role{RoleDirection, RoleProfessor, RoleParent, RoleStudent}

var ErrInvalidRole = errors.New("invalid role")

// ParseRole converts untrusted input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleDirection, RoleProfessor, RoleParent, RoleStudent:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// PostType categorises feed posts.
type PostType string

const (
	PostScolarite PostType = "SCOLARITE"
	PostActivite  PostType = "ACTIVITE"
	PostUrgent    PostType = "URGENT"
	PostGeneral   PostType = "GENERAL"
)

var PostTypes = []PostType{PostScolarite, PostActivite, PostUrgent, PostGeneral}

var ErrInvalidPostType = errors.New("invalid post type")

// ParsePostType is case-sensitive: the wire values are the upper-case names.
func ParsePostType(s string) (PostType, error) {
	t := PostType(s)
	if !t.Valid() {
		return "", ErrInvalidPostType
	}
	return t, nil
}

func (t PostType) Valid() bool {
	switch t {
	case PostScolarite, PostActivite, PostUrgent, PostGeneral:
		return true
	}
	return false
}

// ClassScope says whether something is school-wide or bound to one class.
// The zero value is the global scope.
type ClassScope struct {
	id       uint
	specific bool
}

// GlobalScope is the school-wide scope.
func GlobalScope() ClassScope { return ClassScope{} }

// ClassScopeOf binds a scope to class id.
func ClassScopeOf(id uint) ClassScope { return ClassScope{id: id, specific: true} }

// ScopeFromPtr maps a nullable class column to a scope.
func ScopeFromPtr(id *uint) ClassScope {
	if id == nil {
		return GlobalScope()
	}
	return ClassScopeOf(*id)
}

// ClassID returns the class and true for a class scope, or 0 and false for the global scope.
func (s ClassScope) ClassID() (uint, bool) { return s.id, s.specific }

func (s ClassScope) IsGlobal() bool { return !s.specific }

// Ptr is the inverse of ScopeFromPtr.
func (s ClassScope) Ptr() *uint {
	if !s.specific {
		return nil
	}
	id := s.id
	return &id
}
