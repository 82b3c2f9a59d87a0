package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/validation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService manages accounts and their school relationships.
type UserService struct {
	db   *gorm.DB
	gate *policy.AuthGate
}

func NewUserService(db *gorm.DB, g *policy.AuthGate) *UserService {
	return &UserService{db: db, gate: g}
}

type CreateUserInput struct {
	Email     string
	Password  string
	Role      string
	FirstName string
	LastName  string
	ClassID   *uint
}

func (s *UserService) require(ctx context.Context, a *policy.Actor, action gate.Action) error {
	if !s.gate.CanProfile(ctx, a, action, policy.ResourceUser) {
		return ErrForbidden
	}
	return nil
}

// Create registers a new active account.
func (s *UserService) Create(ctx context.Context, a *policy.Actor, in CreateUserInput) (*models.User, error) {
	if err := s.require(ctx, a, gate.ActionCreate); err != nil {
		return nil, err
	}
	v := make(validation.Violations)
	role, err := models.ParseRole(in.Role)
	if err != nil {
		v.Add("role", "invalid_value")
	}
	email := NormalizeEmail(in.Email)
	validation.Required("email", email, v)
	if email != "" && !strings.Contains(email, "@") {
		v.Add("email", "invalid_email")
	}
	validation.Required("password", in.Password, v)
	validation.Required("firstName", in.FirstName, v)
	validation.Required("lastName", in.LastName, v)
	if err := validationErr(v); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrConflict
	}
	var classID *uint
	if role == models.RoleStudent && in.ClassID != nil {
		if err := db.First(&models.Class{}, *in.ClassID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, invalid("classId", "unknown_class")
			}
			return nil, err
		}
		classID = in.ClassID
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
		ClassID:      classID,
	}
	if err := db.Omit(clause.Associations).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", translate(err))
	}
	return &u, nil
}

// List returns every account, newest first.
func (s *UserService) List(ctx context.Context, a *policy.Actor) ([]models.User, error) {
	if err := s.require(ctx, a, gate.ActionList); err != nil {
		return nil, err
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, a *policy.Actor, id uint, active bool) (*models.User, error) {
	if err := s.require(ctx, a, gate.ActionUpdate); err != nil {
		return nil, err
	}
	if id == a.ID && !active {
		return nil, invalid("isActive", "cannot_disable_self")
	}
	db := s.db.WithContext(ctx)
	var u models.User
	if err := db.First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	if err := db.Model(&u).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	u.IsActive = active
	return &u, nil
}

// LinkParentStudent records guardianship. Linking twice is a no-op.
func (s *UserService) LinkParentStudent(ctx context.Context, a *policy.Actor, parentID, studentID uint) error {
	if err := s.require(ctx, a, gate.ActionUpdate); err != nil {
		return err
	}
	if err := s.expectRole(ctx, parentID, models.RoleParent, "parentId"); err != nil {
		return err
	}
	if err := s.expectRole(ctx, studentID, models.RoleStudent, "studentId"); err != nil {
		return err
	}
	link := models.ParentStudent{ParentID: parentID, StudentID: studentID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&link).Error
}

// AssignProfessorClass records that a professor teaches a class. Idempotent.
func (s *UserService) AssignProfessorClass(ctx context.Context, a *policy.Actor, professorID, classID uint) error {
	if err := s.require(ctx, a, gate.ActionUpdate); err != nil {
		return err
	}
	if err := s.expectRole(ctx, professorID, models.RoleProfessor, "professorId"); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).First(&models.Class{}, classID).Error; err != nil {
		return translate(err)
	}
	pc := models.ProfessorClass{ProfessorID: professorID, ClassID: classID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&pc).Error
}

func (s *UserService) expectRole(ctx context.Context, id uint, role models.Role, field string) error {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return translate(err)
	}
	if u.Role != role {
		return invalid(field, "wrong_role")
	}
	return nil
}

// Me returns the actor's own account.
func (s *UserService) Me(ctx context.Context, a *policy.Actor) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Preload("Class").First(&u, a.ID).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// MyStudents lists the students the actor deals with: a parent's children, a
// professor's pupils, every student for DIRECTION.
func (s *UserService) MyStudents(ctx context.Context, a *policy.Actor) ([]models.User, error) {
	q := s.db.WithContext(ctx).Model(&models.User{}).Preload("Class").
		Where("users.role = ?", models.RoleStudent)
	switch a.Role {
	case models.RoleParent:
		if len(a.ChildIDs) == 0 {
			return []models.User{}, nil
		}
		q = q.Where("users.id IN ?", a.ChildIDs)
	case models.RoleProfessor:
		if len(a.TaughtClassIDs) == 0 {
			return []models.User{}, nil
		}
		q = q.Where("users.is_active = ? AND users.class_id IN ?", true, a.TaughtClassIDs)
	case models.RoleDirection:
		q = q.Where("users.is_active = ?", true)
	default:
		return []models.User{}, nil
	}
	var students []models.User
	if err := q.Order("users.last_name").Order("users.first_name").Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// MyClasses lists every class for DIRECTION and the taught classes for a professor.
func (s *UserService) MyClasses(ctx context.Context, a *policy.Actor) ([]models.Class, error) {
	q := s.db.WithContext(ctx).Model(&models.Class{})
	switch a.Role {
	case models.RoleDirection:
	case models.RoleProfessor:
		if len(a.TaughtClassIDs) == 0 {
			return []models.Class{}, nil
		}
		q = q.Where("id IN ?", a.TaughtClassIDs)
	default:
		return []models.Class{}, nil
	}
	var classes []models.Class
	if err := q.Order("name").Find(&classes).Error; err != nil {
		return nil, err
	}
	return classes, nil
}
