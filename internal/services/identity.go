package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/validation"
	"gorm.io/gorm"
)

// IdentityService logs users in and resolves session tokens to actors.
type IdentityService struct {
	db     *gorm.DB
	issuer *auth.Issuer
}

func NewIdentityService(db *gorm.DB, issuer *auth.Issuer) *IdentityService {
	return &IdentityService{db: db, issuer: issuer}
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

// NormalizeEmail is applied to every stored and looked-up address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login checks credentials and issues a session token.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	v := make(validation.Violations)
	validation.Required("email", email, v)
	validation.Required("password", password, v)
	if err := validationErr(v); err != nil {
		return nil, err
	}

	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	token, exp, err := s.issuer.Issue(u.ID, u.Email, string(u.Role))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// Authenticate reloads the token's user and builds the actor. The token alone
// is never trusted: deleted or disabled users are rejected.
func (s *IdentityService) Authenticate(ctx context.Context, claims *auth.Claims) (*policy.Actor, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	return s.LoadActor(ctx, &u)
}

// Verify adapts Authenticate to auth.RequireAuth.
func (s *IdentityService) Verify(ctx context.Context, claims *auth.Claims) (context.Context, error) {
	a, err := s.Authenticate(ctx, claims)
	if err != nil {
		return nil, err
	}
	return policy.WithActor(ctx, a), nil
}

// LoadActor resolves the relationship data the capability checks need for u.
func (s *IdentityService) LoadActor(ctx context.Context, u *models.User) (*policy.Actor, error) {
	a := &policy.Actor{
		ID:        u.ID,
		Role:      u.Role,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
	db := s.db.WithContext(ctx)
	switch u.Role {
	case models.RoleStudent:
		a.ClassID = u.ClassID
	case models.RoleProfessor:
		if err := db.Model(&models.ProfessorClass{}).
			Where("professor_id = ?", u.ID).
			Order("class_id").
			Pluck("class_id", &a.TaughtClassIDs).Error; err != nil {
			return nil, fmt.Errorf("load taught classes: %w", err)
		}
	case models.RoleParent:
		var children []models.User
		if err := db.Model(&models.User{}).
			Joins("JOIN parent_students ps ON ps.student_id = users.id").
			Where("ps.parent_id = ? AND users.role = ?", u.ID, models.RoleStudent).
			Order("users.id").
			Find(&children).Error; err != nil {
			return nil, fmt.Errorf("load children: %w", err)
		}
		for _, c := range children {
			a.ChildIDs = append(a.ChildIDs, c.ID)
			if c.ClassID != nil {
				a.ChildClassIDs = append(a.ChildClassIDs, *c.ClassID)
			}
		}
	}
	return a, nil
}
