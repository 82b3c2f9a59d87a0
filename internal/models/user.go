package models

import "time"

// User is any account of the school: staff, parents and students.
// Users are disabled, never deleted.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"column:password;size:255;not null" json:"-"`
	Role         Role      `gorm:"size:20;not null;index" json:"role"`
	FirstName    string    `gorm:"size:100;not null" json:"firstName"`
	LastName     string    `gorm:"size:100;not null" json:"lastName"`
	IsActive     bool      `gorm:"not null" json:"isActive"`
	// ClassID is only meaningful for students.
	ClassID *uint  `gorm:"index" json:"classId,omitempty"`
	Class   *Class `gorm:"foreignKey:ClassID" json:"class,omitempty"`
}

// Class is a static reference entity such as "3ème B".
type Class struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProfessorClass records that a professor teaches a class.
type ProfessorClass struct {
	ID          uint  `gorm:"primaryKey"`
	ProfessorID uint  `gorm:"not null;uniqueIndex:idx_professor_class"`
	ClassID     uint  `gorm:"not null;uniqueIndex:idx_professor_class;index"`
	Professor   User  `gorm:"foreignKey:ProfessorID"`
	Class       Class `gorm:"foreignKey:ClassID"`
}

// ParentStudent records guardianship.
type ParentStudent struct {
	ID        uint `gorm:"primaryKey"`
	ParentID  uint `gorm:"not null;uniqueIndex:idx_parent_student"`
	StudentID uint `gorm:"not null;uniqueIndex:idx_parent_student;index"`
	Parent    User `gorm:"foreignKey:ParentID"`
	Student   User `gorm:"foreignKey:StudentID"`
}
