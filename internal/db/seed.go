package db

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed seed.yaml
var defaultSeed []byte

// Fixture is the YAML seed document.
type Fixture struct {
	Password string          `yaml:"password"`
	Classes  []string        `yaml:"classes"`
	Users    []FixtureUser   `yaml:"users"`
	Threads  []FixtureThread `yaml:"threads"`
}

type FixtureUser struct {
	Email     string   `yaml:"email"`
	Role      string   `yaml:"role"`
	FirstName string   `yaml:"firstName"`
	LastName  string   `yaml:"lastName"`
	Class     string   `yaml:"class"`
	Teaches   []string `yaml:"teaches"`
	Children  []string `yaml:"children"`
}

type FixtureThread struct {
	Student      string           `yaml:"student"`
	Participants []string         `yaml:"participants"`
	Messages     []FixtureMessage `yaml:"messages"`
}

type FixtureMessage struct {
	From    string `yaml:"from"`
	Content string `yaml:"content"`
}

// ParseFixture decodes a seed document.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if f.Password == "" {
		return nil, errors.New("seed: password is required")
	}
	return &f, nil
}

// Seed loads the embedded development fixture.
func Seed(db *gorm.DB) error {
	f, err := ParseFixture(defaultSeed)
	if err != nil {
		return err
	}
	return SeedFixture(db, f)
}

// SeedFixture inserts the fixture in one transaction. Rows that already exist
// (matched by class name, user email, link pair) are left untouched, so it is
// safe to run repeatedly.
func SeedFixture(db *gorm.DB, f *Fixture) error {
	hash, err := auth.HashPassword(f.Password)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		classes := map[string]uint{}
		for _, name := range f.Classes {
			c := models.Class{Name: name}
			if err := tx.Where(models.Class{Name: name}).FirstOrCreate(&c).Error; err != nil {
				return fmt.Errorf("seed class %q: %w", name, err)
			}
			classes[name] = c.ID
		}

		users := map[string]uint{}
		for _, fu := range f.Users {
			role, err := models.ParseRole(fu.Role)
			if err != nil {
				return fmt.Errorf("seed user %s: %w", fu.Email, err)
			}
			u := models.User{
				Email:        fu.Email,
				PasswordHash: hash,
				Role:         role,
				FirstName:    fu.FirstName,
				LastName:     fu.LastName,
				IsActive:     true,
			}
			if fu.Class != "" {
				id, ok := classes[fu.Class]
				if !ok {
					return fmt.Errorf("seed user %s: unknown class %q", fu.Email, fu.Class)
				}
				u.ClassID = &id
			}
			var got models.User
			if err := tx.Where(models.User{Email: fu.Email}).Attrs(u).FirstOrCreate(&got).Error; err != nil {
				return fmt.Errorf("seed user %s: %w", fu.Email, err)
			}
			users[fu.Email] = got.ID
		}

		for _, fu := range f.Users {
			for _, name := range fu.Teaches {
				cid, ok := classes[name]
				if !ok {
					return fmt.Errorf("seed %s teaches unknown class %q", fu.Email, name)
				}
				link := models.ProfessorClass{ProfessorID: users[fu.Email], ClassID: cid}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
					return err
				}
			}
			for _, child := range fu.Children {
				sid, ok := users[child]
				if !ok {
					return fmt.Errorf("seed %s: unknown child %q", fu.Email, child)
				}
				link := models.ParentStudent{ParentID: users[fu.Email], StudentID: sid}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
					return err
				}
			}
		}

		for i, ft := range f.Threads {
			if err := seedThread(tx, users, ft); err != nil {
				return fmt.Errorf("seed thread %d: %w", i, err)
			}
		}
		return nil
	})
}

func seedThread(tx *gorm.DB, users map[string]uint, ft FixtureThread) error {
	if len(ft.Participants) != 2 {
		return errors.New("a thread has exactly two participants")
	}
	sid, ok := users[ft.Student]
	if !ok {
		return fmt.Errorf("unknown student %q", ft.Student)
	}
	a, b := users[ft.Participants[0]], users[ft.Participants[1]]
	if a == 0 || b == 0 {
		return errors.New("unknown participant")
	}

	var existing int64
	err := tx.Model(&models.MessageThread{}).
		Where("student_id = ?", sid).
		Where("EXISTS (SELECT 1 FROM thread_participants tp WHERE tp.thread_id = message_threads.id AND tp.user_id = ?)", a).
		Where("EXISTS (SELECT 1 FROM thread_participants tp WHERE tp.thread_id = message_threads.id AND tp.user_id = ?)", b).
		Count(&existing).Error
	if err != nil || existing > 0 {
		return err
	}

	// Messages are spaced a second apart, the last one at now.
	now := time.Now().UTC().Truncate(time.Microsecond)
	start := now.Add(-time.Duration(len(ft.Messages)) * time.Second)
	thread := models.MessageThread{StudentID: &sid, LastMessageAt: start, CreatedAt: start}
	if err := tx.Create(&thread).Error; err != nil {
		return err
	}
	for _, uid := range []uint{a, b} {
		p := models.ThreadParticipant{ThreadID: thread.ID, UserID: uid, JoinedAt: start}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
	}
	for i, fm := range ft.Messages {
		from, ok := users[fm.From]
		if !ok {
			return fmt.Errorf("unknown sender %q", fm.From)
		}
		at := start.Add(time.Duration(i+1) * time.Second)
		m := models.Message{ThreadID: thread.ID, SenderID: from, Content: fm.Content, CreatedAt: at}
		if err := tx.Omit(clause.Associations).Create(&m).Error; err != nil {
			return err
		}
		thread.LastMessageAt = at
	}
	return tx.Model(&thread).Update("last_message_at", thread.LastMessageAt).Error
}
