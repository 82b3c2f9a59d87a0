package services

import (
	"time"

	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
)

// UserRef is the public projection of a user embedded in other resources.
type UserRef struct {
	ID        uint        `json:"id"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Role      models.Role `json:"role"`
}

func userRef(u *models.User) UserRef {
	return UserRef{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role}
}

func actorRef(a *policy.Actor) UserRef {
	return UserRef{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Role: a.Role}
}

type ClassRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type CommentView struct {
	ID        uint      `json:"id"`
	PostID    uint      `json:"postId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Author    UserRef   `json:"author"`
}

type PostView struct {
	ID          uint                `json:"id"`
	Content     string              `json:"content"`
	Type        models.PostType     `json:"type"`
	IsPinned    bool                `json:"isPinned"`
	ClassID     *uint               `json:"classId"`
	Class       *ClassRef           `json:"class,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	Author      UserRef             `json:"author"`
	Attachments []models.Attachment `json:"attachments"`
	Comments    []CommentView       `json:"comments"`
	LikesCount  int64               `json:"likesCount"`
	LikedByMe   bool                `json:"likedByMe"`
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

type PostPage struct {
	Posts      []PostView `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

// LikeState is the result of a like toggle.
type LikeState struct {
	Liked      bool  `json:"liked"`
	LikesCount int64 `json:"likesCount"`
}

type MessageView struct {
	ID          uint                `json:"id"`
	ThreadID    uint                `json:"threadId"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"createdAt"`
	Sender      UserRef             `json:"sender"`
	Attachments []models.Attachment `json:"attachments"`
}

type StudentRef struct {
	UserRef
	ClassID *uint `json:"classId,omitempty"`
}

type ThreadView struct {
	ID            uint          `json:"id"`
	Student       *StudentRef   `json:"student,omitempty"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	CreatedAt     time.Time     `json:"createdAt"`
	Participants  []UserRef     `json:"participants"`
	LastMessage   *MessageView  `json:"lastMessage,omitempty"`
	UnreadCount   int64         `json:"unreadCount"`
	Messages      []MessageView `json:"messages,omitempty"`
}

type ThreadUnread struct {
	ThreadID uint  `json:"threadId"`
	Count    int64 `json:"count"`
}

type UnreadSummary struct {
	Total   int64          `json:"total"`
	Threads []ThreadUnread `json:"threads"`
}

func messageView(m *models.Message) MessageView {
	atts := m.Attachments
	if atts == nil {
		atts = []models.Attachment{}
	}
	return MessageView{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		Sender:      userRef(&m.Sender),
		Attachments: atts,
	}
}

func threadView(t *models.MessageThread) ThreadView {
	v := ThreadView{
		ID:            t.ID,
		LastMessageAt: t.LastMessageAt,
		CreatedAt:     t.CreatedAt,
		Participants:  make([]UserRef, 0, len(t.Participants)),
	}
	if t.Student != nil {
		v.Student = &StudentRef{UserRef: userRef(t.Student), ClassID: t.Student.ClassID}
	}
	for i := range t.Participants {
		v.Participants = append(v.Participants, userRef(&t.Participants[i].User))
	}
	return v
}
