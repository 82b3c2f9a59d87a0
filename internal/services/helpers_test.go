package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// stepClock advances by step on every call so consecutive writes never share a timestamp.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// school is a small fixture: two classes, staff, students and parents.
type school struct {
	db       *gorm.DB
	store    *storage.Memory
	gate     *policy.AuthGate
	identity *IdentityService
	posts    *PostService
	threads  *ThreadService
	users    *UserService

	class7, class9 models.Class

	direction, direction2 *policy.Actor
	prof7, prof9          *policy.Actor
	student7, student9    *policy.Actor
	parent7, parentBoth   *policy.Actor
	orphan                *policy.Actor
	noClass               *models.User
}

func newSchool(t *testing.T) *school {
	t.Helper()
	db := setupTestDB(t)
	clock := newStepClock()
	store := storage.NewMemory()
	att := NewAttachmentService(store, "test", nil)
	att.now = clock.Now
	g := policy.NewAuthGate()
	s := &school{
		db:       db,
		store:    store,
		gate:     g,
		identity: NewIdentityService(db, nil),
		posts:    NewPostService(db, g, att).WithClock(clock.Now),
		threads:  NewThreadService(db, g, att).WithClock(clock.Now),
		users:    NewUserService(db, g),
	}

	s.class7 = models.Class{Name: "3ème B"}
	s.class9 = models.Class{Name: "4ème A"}
	require.NoError(t, db.Create(&s.class7).Error)
	require.NoError(t, db.Create(&s.class9).Error)

	mk := func(email string, role models.Role, classID *uint) *models.User {
		u := &models.User{Email: email, PasswordHash: "x", Role: role, FirstName: strings.Split(email, "@")[0], LastName: "Test", IsActive: true, ClassID: classID}
		require.NoError(t, db.Create(u).Error)
		return u
	}
	dir := mk("admin@ecole.test", models.RoleDirection, nil)
	dir2 := mk("admin2@ecole.test", models.RoleDirection, nil)
	p7 := mk("prof7@ecole.test", models.RoleProfessor, nil)
	p9 := mk("prof9@ecole.test", models.RoleProfessor, nil)
	s7 := mk("leo@ecole.test", models.RoleStudent, &s.class7.ID)
	s9 := mk("julie@ecole.test", models.RoleStudent, &s.class9.ID)
	s.noClass = mk("nina@ecole.test", models.RoleStudent, nil)
	par7 := mk("parent7@ecole.test", models.RoleParent, nil)
	parBoth := mk("parent79@ecole.test", models.RoleParent, nil)
	orphan := mk("orphan@ecole.test", models.RoleParent, nil)

	require.NoError(t, db.Create(&[]models.ProfessorClass{
		{ProfessorID: p7.ID, ClassID: s.class7.ID},
		{ProfessorID: p9.ID, ClassID: s.class9.ID},
	}).Error)
	require.NoError(t, db.Create(&[]models.ParentStudent{
		{ParentID: par7.ID, StudentID: s7.ID},
		{ParentID: parBoth.ID, StudentID: s7.ID},
		{ParentID: parBoth.ID, StudentID: s9.ID},
	}).Error)

	actor := func(u *models.User) *policy.Actor {
		a, err := s.identity.LoadActor(context.Background(), u)
		require.NoError(t, err)
		return a
	}
	s.direction, s.direction2 = actor(dir), actor(dir2)
	s.prof7, s.prof9 = actor(p7), actor(p9)
	s.student7, s.student9 = actor(s7), actor(s9)
	s.parent7, s.parentBoth = actor(par7), actor(parBoth)
	s.orphan = actor(orphan)
	return s
}

func (s *school) everyone() []*policy.Actor {
	return []*policy.Actor{s.direction, s.direction2, s.prof7, s.prof9, s.student7, s.student9, s.parent7, s.parentBoth, s.orphan}
}

func pdfUpload(name string) Upload {
	return Upload{
		Filename:    name,
		ContentType: "application/pdf",
		Size:        8,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("%PDF-1.4")), nil },
	}
}

func uintPtr(v uint) *uint { return &v }
