package policy

import (
	"context"

	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
)

// PostPolicy applies the per-post checks once the role profile allowed the action.
type PostPolicy struct{}

func (PostPolicy) Can(_ context.Context, a *Actor, action gate.Action, resource any) bool {
	post, ok := resource.(*models.Post)
	if !ok || post == nil {
		return false
	}
	switch action {
	case gate.ActionCreate:
		if classID, scoped := post.Scope().ClassID(); scoped {
			return CanPostToClass(a, classID)
		}
		return true
	case gate.ActionUpdate, gate.ActionDelete:
		return CanEditOrDeletePost(a, post.AuthorID)
	}
	return true
}

// ThreadPolicy guards thread access. Reading a transcript and replying accept
// DIRECTION; marking as read needs a participant row.
type ThreadPolicy struct{}

func (ThreadPolicy) Can(_ context.Context, a *Actor, action gate.Action, resource any) bool {
	thread, ok := resource.(*models.MessageThread)
	if !ok || thread == nil {
		return false
	}
	switch action {
	case ActionRead:
		return IsParticipant(a, thread.ParticipantIDs())
	default:
		return CanAccessThread(a, thread.ParticipantIDs())
	}
}

// StudentThreadPolicy checks that an actor may open a thread about a student.
type StudentThreadPolicy struct{}

func (StudentThreadPolicy) Can(_ context.Context, a *Actor, _ gate.Action, resource any) bool {
	student, ok := resource.(*models.User)
	return ok && student != nil && CanCreateThread(a, student)
}
