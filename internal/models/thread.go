package models

import "time"

// MessageThread is a conversation between two users, usually about a student.
type MessageThread struct {
	ID            uint                `gorm:"primaryKey"`
	StudentID     *uint               `gorm:"index"`
	Student       *User               `gorm:"foreignKey:StudentID"`
	LastMessageAt time.Time           `gorm:"not null;index"`
	CreatedAt     time.Time
	Participants  []ThreadParticipant `gorm:"foreignKey:ThreadID"`
	Messages      []Message           `gorm:"foreignKey:ThreadID"`
}

// ParticipantIDs lists the user ids of the loaded participants.
func (t *MessageThread) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(t.Participants))
	for _, p := range t.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

type ThreadParticipant struct {
	ID       uint `gorm:"primaryKey"`
	ThreadID uint `gorm:"not null;uniqueIndex:idx_thread_participant"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_thread_participant;index"`
	User     User `gorm:"foreignKey:UserID"`
	JoinedAt time.Time
}

type Message struct {
	ID          uint         `gorm:"primaryKey"`
	ThreadID    uint         `gorm:"not null;index"`
	SenderID    uint         `gorm:"not null;index"`
	Sender      User         `gorm:"foreignKey:SenderID"`
	Content     string       `gorm:"size:2000;not null"`
	CreatedAt   time.Time    `gorm:"index"`
	Attachments []Attachment `gorm:"foreignKey:MessageID"`
}

// ThreadRead is a user's unread watermark for a thread.
type ThreadRead struct {
	ID         uint      `gorm:"primaryKey"`
	ThreadID   uint      `gorm:"not null;uniqueIndex:idx_thread_read"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_thread_read"`
	LastReadAt time.Time `gorm:"not null"`
}

// All returns every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Class{}, &User{}, &ProfessorClass{}, &ParentStudent{},
		&Post{}, &Attachment{}, &Comment{}, &Like{},
		&MessageThread{}, &ThreadParticipant{}, &Message{}, &ThreadRead{},
	}
}
