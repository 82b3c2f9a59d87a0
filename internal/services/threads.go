package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/validation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadService runs direct messaging about students.
type ThreadService struct {
	db          *gorm.DB
	gate        *policy.AuthGate
	attachments *AttachmentService
	now         func() time.Time
}

func NewThreadService(db *gorm.DB, g *policy.AuthGate, attachments *AttachmentService) *ThreadService {
	return &ThreadService{db: db, gate: g, attachments: attachments, now: time.Now}
}

// WithClock replaces the service clock.
func (s *ThreadService) WithClock(now func() time.Time) *ThreadService {
	s.now = now
	return s
}

func (s *ThreadService) timestamp() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

// CreateThreadInput names the student and the recipient, either explicitly by
// id or by role. RecipientID wins when both are given.
type CreateThreadInput struct {
	StudentID     uint
	RecipientID   *uint
	RecipientRole string
}

type CreateThreadResult struct {
	Thread  *ThreadView
	Created bool
}

// Create opens a thread about a student, or returns the existing one between
// the same two users about the same student.
func (s *ThreadService) Create(ctx context.Context, a *policy.Actor, in CreateThreadInput) (*CreateThreadResult, error) {
	v := make(validation.Violations)
	validation.Positive("studentId", int64(in.StudentID), v)
	var recipientRole models.Role
	if in.RecipientID == nil {
		role, err := models.ParseRole(in.RecipientRole)
		if err != nil {
			v.Add("recipientRole", "invalid_value")
		}
		recipientRole = role
	}
	if err := validationErr(v); err != nil {
		return nil, err
	}
	if !s.gate.CanProfile(ctx, a, gate.ActionCreate, policy.ResourceThread) {
		return nil, ErrForbidden
	}
	if in.RecipientID == nil && !policy.RecipientAllowed(a.Role, recipientRole) {
		return nil, ErrForbidden
	}

	db := s.db.WithContext(ctx)
	var student models.User
	if err := db.Where("id = ? AND role = ?", in.StudentID, models.RoleStudent).First(&student).Error; err != nil {
		return nil, translate(err)
	}
	if a.Role == models.RoleProfessor && student.ClassID == nil {
		return nil, ErrNotFound
	}
	if err := s.gate.Authorize(ctx, a, gate.ActionCreate, policy.ResourceThread, &student); err != nil {
		return nil, translate(err)
	}

	recipient, err := s.resolveRecipient(ctx, a, &student, in.RecipientID, recipientRole)
	if err != nil {
		return nil, err
	}
	if recipient.ID == a.ID {
		return nil, invalid("recipient", "self_thread")
	}

	existing, err := s.findExisting(ctx, student.ID, a.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if existing != 0 {
		view, err := s.view(ctx, a, existing, false)
		if err != nil {
			return nil, err
		}
		return &CreateThreadResult{Thread: view}, nil
	}

	now := s.timestamp()
	thread := models.MessageThread{StudentID: &student.ID, LastMessageAt: now, CreatedAt: now}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&thread).Error; err != nil {
			return err
		}
		participants := []models.ThreadParticipant{
			{ThreadID: thread.ID, UserID: a.ID, JoinedAt: now},
			{ThreadID: thread.ID, UserID: recipient.ID, JoinedAt: now},
		}
		return tx.Omit(clause.Associations).Create(&participants).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	view, err := s.view(ctx, a, thread.ID, false)
	if err != nil {
		return nil, err
	}
	return &CreateThreadResult{Thread: view, Created: true}, nil
}

func (s *ThreadService) resolveRecipient(ctx context.Context, a *policy.Actor, student *models.User, id *uint, role models.Role) (*models.User, error) {
	db := s.db.WithContext(ctx).Where("users.is_active = ?", true)
	var u models.User
	if id != nil {
		if err := db.First(&u, *id).Error; err != nil {
			return nil, translate(err)
		}
		if !policy.RecipientAllowed(a.Role, u.Role) {
			return nil, ErrForbidden
		}
		return &u, nil
	}

	var err error
	switch role {
	case models.RoleDirection:
		err = db.Where("role = ? AND id <> ?", models.RoleDirection, a.ID).Order("id").First(&u).Error
	case models.RoleProfessor:
		// First active professor, not necessarily one teaching the student.
		err = db.Where("role = ?", models.RoleProfessor).Order("id").First(&u).Error
	case models.RoleParent:
		err = db.Joins("JOIN parent_students ps ON ps.parent_id = users.id").
			Where("ps.student_id = ? AND users.role = ?", student.ID, models.RoleParent).
			Order("users.id").
			First(&u).Error
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// findExisting returns the id of a thread about studentID whose participants
// include both users, or 0.
func (s *ThreadService) findExisting(ctx context.Context, studentID, userA, userB uint) (uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.MessageThread{}).
		Where("message_threads.student_id = ?", studentID).
		Where("EXISTS (SELECT 1 FROM thread_participants p WHERE p.thread_id = message_threads.id AND p.user_id = ?)", userA).
		Where("EXISTS (SELECT 1 FROM thread_participants p WHERE p.thread_id = message_threads.id AND p.user_id = ?)", userB).
		Order("message_threads.id").
		Limit(1).
		Pluck("message_threads.id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find thread: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// AddMessage appends a message and moves the thread's lastMessageAt in the
// same transaction.
func (s *ThreadService) AddMessage(ctx context.Context, a *policy.Actor, threadID uint, content string, files []Upload) (*MessageView, error) {
	content = strings.TrimSpace(content)
	v := make(validation.Violations)
	validation.LengthBetween("content", content, 1, models.MessageContentMax, v)
	if err := validationErr(v); err != nil {
		return nil, err
	}
	if err := s.attachments.Validate(files); err != nil {
		return nil, err
	}
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(ctx, a, policy.ActionReply, policy.ResourceThread, thread); err != nil {
		return nil, translate(err)
	}

	atts, err := s.attachments.Ingest(ctx, "messages", files)
	if err != nil {
		return nil, err
	}
	now := s.timestamp()
	msg := models.Message{ThreadID: thread.ID, SenderID: a.ID, Content: content, CreatedAt: now}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&msg).Error; err != nil {
			return err
		}
		for i := range atts {
			atts[i].MessageID = &msg.ID
		}
		if len(atts) > 0 {
			if err := tx.Create(&atts).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.MessageThread{}).
			Where("id = ?", thread.ID).
			Update("last_message_at", now).Error
	})
	if err != nil {
		s.attachments.Discard(context.WithoutCancel(ctx), atts)
		return nil, fmt.Errorf("add message: %w", err)
	}
	msg.Attachments = atts
	view := messageView(&msg)
	view.Sender = actorRef(a)
	return &view, nil
}

// List returns the actor's threads, most recently active first. With all set,
// DIRECTION lists every thread of the school.
func (s *ThreadService) List(ctx context.Context, a *policy.Actor, all bool) ([]ThreadView, error) {
	if !s.gate.CanProfile(ctx, a, gate.ActionList, policy.ResourceThread) {
		return nil, ErrForbidden
	}
	if all && !s.gate.CanProfile(ctx, a, policy.ActionOversee, policy.ResourceThread) {
		return nil, ErrForbidden
	}
	q := s.db.WithContext(ctx).Model(&models.MessageThread{}).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("thread_participants.id") }).
		Preload("Participants.User").
		Preload("Student")
	if !all {
		q = q.Where("EXISTS (SELECT 1 FROM thread_participants p WHERE p.thread_id = message_threads.id AND p.user_id = ?)", a.ID)
	}
	var threads []models.MessageThread
	if err := q.Order("message_threads.last_message_at DESC").Order("message_threads.id DESC").Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if len(threads) == 0 {
		return []ThreadView{}, nil
	}

	ids := make([]uint, len(threads))
	var mine []uint
	for i := range threads {
		ids[i] = threads[i].ID
		if policy.IsParticipant(a, threads[i].ParticipantIDs()) {
			mine = append(mine, threads[i].ID)
		}
	}
	last, err := s.lastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	unread, err := s.unreadCounts(ctx, a.ID, mine)
	if err != nil {
		return nil, err
	}

	out := make([]ThreadView, 0, len(threads))
	for i := range threads {
		tv := threadView(&threads[i])
		if m, ok := last[threads[i].ID]; ok {
			mv := messageView(&m)
			tv.LastMessage = &mv
		}
		tv.UnreadCount = unread[threads[i].ID]
		out = append(out, tv)
	}
	return out, nil
}

// Get returns a thread with its full transcript, oldest message first.
func (s *ThreadService) Get(ctx context.Context, a *policy.Actor, id uint) (*ThreadView, error) {
	return s.view(ctx, a, id, true)
}

func (s *ThreadService) view(ctx context.Context, a *policy.Actor, id uint, transcript bool) (*ThreadView, error) {
	q := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("thread_participants.id") }).
		Preload("Participants.User").
		Preload("Student")
	if transcript {
		q = q.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.created_at ASC").Order("messages.id ASC")
		}).
			Preload("Messages.Sender").
			Preload("Messages.Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("attachments.id") })
	}
	var thread models.MessageThread
	if err := q.First(&thread, id).Error; err != nil {
		return nil, translate(err)
	}
	if err := s.gate.Authorize(ctx, a, gate.ActionView, policy.ResourceThread, &thread); err != nil {
		return nil, translate(err)
	}
	tv := threadView(&thread)
	if transcript {
		tv.Messages = make([]MessageView, 0, len(thread.Messages))
		for i := range thread.Messages {
			tv.Messages = append(tv.Messages, messageView(&thread.Messages[i]))
		}
		if n := len(tv.Messages); n > 0 {
			last := tv.Messages[n-1]
			tv.LastMessage = &last
		}
	} else {
		last, err := s.lastMessages(ctx, []uint{id})
		if err != nil {
			return nil, err
		}
		if m, ok := last[id]; ok {
			mv := messageView(&m)
			tv.LastMessage = &mv
		}
	}
	if policy.IsParticipant(a, thread.ParticipantIDs()) {
		unread, err := s.unreadCounts(ctx, a.ID, []uint{id})
		if err != nil {
			return nil, err
		}
		tv.UnreadCount = unread[id]
	}
	return &tv, nil
}

// MarkAsRead moves the actor's unread watermark to now. Only participants
// have a watermark.
func (s *ThreadService) MarkAsRead(ctx context.Context, a *policy.Actor, threadID uint) error {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(ctx, a, policy.ActionRead, policy.ResourceThread, thread); err != nil {
		return translate(err)
	}
	read := models.ThreadRead{ThreadID: threadID, UserID: a.ID, LastReadAt: s.timestamp()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_at"}),
	}).Create(&read).Error
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCount totals unread messages over the actor's threads.
func (s *ThreadService) UnreadCount(ctx context.Context, a *policy.Actor) (*UnreadSummary, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.ThreadParticipant{}).
		Where("user_id = ?", a.ID).
		Order("thread_id").
		Pluck("thread_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	counts, err := s.unreadCounts(ctx, a.ID, ids)
	if err != nil {
		return nil, err
	}
	sum := &UnreadSummary{Threads: []ThreadUnread{}}
	for _, id := range ids {
		if n := counts[id]; n > 0 {
			sum.Total += n
			sum.Threads = append(sum.Threads, ThreadUnread{ThreadID: id, Count: n})
		}
	}
	return sum, nil
}

func (s *ThreadService) load(ctx context.Context, id uint) (*models.MessageThread, error) {
	var thread models.MessageThread
	if err := s.db.WithContext(ctx).Preload("Participants").First(&thread, id).Error; err != nil {
		return nil, translate(err)
	}
	return &thread, nil
}

type threadCount struct {
	ThreadID uint
	N        int64
}

// unreadCounts counts, per thread, messages from others newer than the user's
// watermark, falling back to the thread's creation time.
func (s *ThreadService) unreadCounts(ctx context.Context, userID uint, threadIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	var rows []threadCount
	err := s.db.WithContext(ctx).Raw(`
SELECT m.thread_id AS thread_id, COUNT(*) AS n
FROM messages m
JOIN message_threads t ON t.id = m.thread_id
LEFT JOIN thread_reads r ON r.thread_id = m.thread_id AND r.user_id = ?
WHERE m.thread_id IN ?
  AND m.sender_id <> ?
  AND m.created_at > COALESCE(r.last_read_at, t.created_at)
GROUP BY m.thread_id`, userID, threadIDs, userID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	for _, r := range rows {
		out[r.ThreadID] = r.N
	}
	return out, nil
}

// lastMessages loads the newest message of each thread.
func (s *ThreadService) lastMessages(ctx context.Context, threadIDs []uint) (map[uint]models.Message, error) {
	out := make(map[uint]models.Message, len(threadIDs))
	latest := s.db.Model(&models.Message{}).
		Select("MAX(id)").
		Where("thread_id IN ?", threadIDs).
		Group("thread_id")
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Attachments").
		Where("id IN (?)", latest).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}
	for _, m := range msgs {
		out[m.ThreadID] = m
	}
	return out, nil
}
