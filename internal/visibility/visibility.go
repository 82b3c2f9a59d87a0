// Package visibility turns an actor's role and relationships into a post
// filter that is pushed down into the feed query.
package visibility

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"gorm.io/gorm"
)

// AllClasses is the sentinel a client sends to mean "no class filter".
const AllClasses = "all"

var ErrInvalidClassFilter = errors.New("invalid class filter")

// ClassFilter is the class a staff member asked to narrow the feed to.
// The zero value means no filter.
type ClassFilter struct {
	ClassID uint
	Set     bool
}

// ParseClassFilter accepts "", "all" or a positive class id.
func ParseClassFilter(raw string) (ClassFilter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, AllClasses) {
		return ClassFilter{}, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return ClassFilter{}, ErrInvalidClassFilter
	}
	return ClassFilter{ClassID: uint(id), Set: true}, nil
}

// Predicate describes which posts an actor may list.
type Predicate struct {
	// Unrestricted predicates match every post.
	Unrestricted bool
	// IncludeGlobal matches posts without a class.
	IncludeGlobal bool
	// ClassIDs matches posts of these classes.
	ClassIDs []uint
}

// For computes the predicate of a. Students and parents cannot narrow or widen
// their feed, so filter only applies to staff.
func For(a *policy.Actor, filter ClassFilter) Predicate {
	switch a.Role {
	case models.RoleDirection, models.RoleProfessor:
		if filter.Set {
			return Predicate{ClassIDs: []uint{filter.ClassID}}
		}
		return Predicate{Unrestricted: true}
	case models.RoleStudent:
		p := Predicate{IncludeGlobal: true}
		if a.ClassID != nil {
			p.ClassIDs = []uint{*a.ClassID}
		}
		return p
	case models.RoleParent:
		ids := slices.Clone(a.ChildClassIDs)
		slices.Sort(ids)
		return Predicate{IncludeGlobal: true, ClassIDs: slices.Compact(ids)}
	}
	return Predicate{IncludeGlobal: true}
}

// Allows evaluates the predicate against a single post scope.
func (p Predicate) Allows(scope models.ClassScope) bool {
	if p.Unrestricted {
		return true
	}
	id, ok := scope.ClassID()
	if !ok {
		return p.IncludeGlobal
	}
	return slices.Contains(p.ClassIDs, id)
}

// Apply adds the predicate to a query over the posts table.
func (p Predicate) Apply(db *gorm.DB) *gorm.DB {
	switch {
	case p.Unrestricted:
		return db
	case p.IncludeGlobal && len(p.ClassIDs) > 0:
		return db.Where("(posts.class_id IS NULL OR posts.class_id IN ?)", p.ClassIDs)
	case p.IncludeGlobal:
		return db.Where("posts.class_id IS NULL")
	case len(p.ClassIDs) > 0:
		return db.Where("posts.class_id IN ?", p.ClassIDs)
	}
	return db.Where("1 = 0")
}

// Ordered applies the feed ordering: pinned first, newest first, then id so
// pages never overlap when timestamps tie.
func Ordered(db *gorm.DB) *gorm.DB {
	return db.Order("posts.is_pinned DESC").Order("posts.created_at DESC").Order("posts.id ASC")
}
