package policy

import (
	"slices"

	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
)

// The predicates below are pure: callers load the relationship data into the
// Actor (and the resource) before asking.

// CanCreatePost is true for every role except PARENT.
func CanCreatePost(role models.Role) bool {
	return roleCan(role, ResourcePost, gate.ActionCreate)
}

// CanPin is true only for DIRECTION.
func CanPin(role models.Role) bool {
	return roleCan(role, ResourcePost, ActionPin)
}

// CanPostToClass checks a class-scoped post target. Global posts need no check.
func CanPostToClass(a *Actor, classID uint) bool {
	switch a.Role {
	case models.RoleDirection:
		return true
	case models.RoleProfessor:
		return a.Teaches(classID)
	case models.RoleStudent:
		return a.ClassID != nil && *a.ClassID == classID
	}
	return false
}

// CanEditOrDeletePost allows the author and DIRECTION.
func CanEditOrDeletePost(a *Actor, authorID uint) bool {
	return a.ID == authorID || a.Role == models.RoleDirection
}

// CanCreateThread checks the initiator's relationship with the student the
// thread is about.
func CanCreateThread(a *Actor, student *models.User) bool {
	switch a.Role {
	case models.RoleDirection, models.RoleStudent:
		return true
	case models.RoleParent:
		return a.IsParentOf(student.ID)
	case models.RoleProfessor:
		return student.ClassID != nil && a.Teaches(*student.ClassID)
	}
	return false
}

// CanAccessThread lets DIRECTION into every thread and others into threads
// they participate in.
func CanAccessThread(a *Actor, participantIDs []uint) bool {
	return a.Role == models.RoleDirection || slices.Contains(participantIDs, a.ID)
}

// IsParticipant is the literal membership check, without the DIRECTION bypass.
func IsParticipant(a *Actor, participantIDs []uint) bool {
	return slices.Contains(participantIDs, a.ID)
}

var recipientRoles = map[models.Role][]models.Role{
	models.RoleParent:    {models.RoleProfessor, models.RoleDirection},
	models.RoleProfessor: {models.RoleDirection},
	models.RoleDirection: {models.RoleParent, models.RoleProfessor, models.RoleDirection},
}

// RecipientAllowed reports whether initiator may open a thread with a user of role recipient.
func RecipientAllowed(initiator, recipient models.Role) bool {
	return slices.Contains(recipientRoles[initiator], recipient)
}

// AllowedRecipients lists the recipient roles open to initiator.
func AllowedRecipients(initiator models.Role) []models.Role {
	return slices.Clone(recipientRoles[initiator])
}
