package models

import "time"

const (
	PostContentMax    = 1000
	MessageContentMax = 2000
)

// Post is a feed announcement. A nil ClassID makes it school-wide.
type Post struct {
	ID          uint         `gorm:"primaryKey"`
	AuthorID    uint         `gorm:"not null;index"`
	Author      User         `gorm:"foreignKey:AuthorID"`
	Content     string       `gorm:"size:1000;not null"`
	Type        PostType     `gorm:"size:20;not null"`
	IsPinned    bool         `gorm:"not null;index"`
	ClassID     *uint        `gorm:"index"`
	Class       *Class       `gorm:"foreignKey:ClassID"`
	CreatedAt   time.Time    `gorm:"index"`
	UpdatedAt   time.Time
	Attachments []Attachment `gorm:"foreignKey:PostID"`
	Comments    []Comment    `gorm:"foreignKey:PostID"`
	Likes       []Like       `gorm:"foreignKey:PostID"`
}

// Scope reports the post's audience.
func (p *Post) Scope() ClassScope { return ScopeFromPtr(p.ClassID) }

// Attachment belongs to exactly one of a post or a message.
type Attachment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PostID     *uint     `gorm:"index" json:"postId,omitempty"`
	MessageID  *uint     `gorm:"index" json:"messageId,omitempty"`
	URL        string    `gorm:"size:1024;not null" json:"url"`
	StorageKey string    `gorm:"size:512;not null" json:"-"`
	Filename   string    `gorm:"size:255;not null" json:"filename"`
	MimeType   string    `gorm:"size:100;not null" json:"mimeType"`
	Size       int64     `gorm:"not null" json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Comment struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"not null;index"`
	AuthorID  uint   `gorm:"not null;index"`
	Author    User   `gorm:"foreignKey:AuthorID"`
	Content   string `gorm:"size:1000;not null"`
	CreatedAt time.Time
}

// Like is present while a user likes a post.
type Like struct {
	ID        uint `gorm:"primaryKey"`
	PostID    uint `gorm:"not null;uniqueIndex:idx_like_post_user"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_like_post_user"`
	CreatedAt time.Time
}
