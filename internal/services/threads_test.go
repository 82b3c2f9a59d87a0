package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openThread(t *testing.T, s *school, a *policy.Actor, studentID uint, role models.Role) *ThreadView {
	t.Helper()
	res, err := s.threads.Create(context.Background(), a, CreateThreadInput{StudentID: studentID, RecipientRole: string(role)})
	require.NoError(t, err)
	return res.Thread
}

func unreadFor(t *testing.T, s *school, a *policy.Actor, threadID uint) int64 {
	t.Helper()
	sum, err := s.threads.UnreadCount(context.Background(), a)
	require.NoError(t, err)
	for _, tu := range sum.Threads {
		if tu.ThreadID == threadID {
			return tu.Count
		}
	}
	return 0
}

func TestCreateThreadIsReused(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	in := CreateThreadInput{StudentID: s.student7.ID, RecipientRole: string(models.RoleProfessor)}

	first, err := s.threads.Create(ctx, s.parent7, in)
	require.NoError(t, err)
	assert.True(t, first.Created)
	second, err := s.threads.Create(ctx, s.parent7, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Thread.ID, second.Thread.ID)

	var n int64
	require.NoError(t, s.db.Model(&models.MessageThread{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	var participants int64
	require.NoError(t, s.db.Model(&models.ThreadParticipant{}).Where("thread_id = ?", first.Thread.ID).Count(&participants).Error)
	assert.EqualValues(t, 2, participants)
}

func TestCreateThreadRecipientResolution(t *testing.T) {
	s := newSchool(t)

	// Direction resolves to another direction account.
	th := openThread(t, s, s.direction, s.student7.ID, models.RoleDirection)
	ids := []uint{th.Participants[0].ID, th.Participants[1].ID}
	assert.ElementsMatch(t, []uint{s.direction.ID, s.direction2.ID}, ids)

	// Parent role resolves through the guardianship link.
	th = openThread(t, s, s.prof9, s.student9.ID, models.RoleDirection)
	assert.Equal(t, s.student9.ID, th.Student.ID)

	th = openThread(t, s, s.direction, s.student9.ID, models.RoleParent)
	assert.Contains(t, []uint{th.Participants[0].ID, th.Participants[1].ID}, s.parentBoth.ID)

	// Explicit recipient wins over role.
	res, err := s.threads.Create(context.Background(), s.parent7, CreateThreadInput{StudentID: s.student7.ID, RecipientID: &s.prof7.ID, RecipientRole: "DIRECTION"})
	require.NoError(t, err)
	assert.Contains(t, []uint{res.Thread.Participants[0].ID, res.Thread.Participants[1].ID}, s.prof7.ID)
}

func TestCreateThreadPermissions(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		actor *policy.Actor
		in    CreateThreadInput
		want  error
	}{
		{"parent not linked", s.parent7, CreateThreadInput{StudentID: s.student9.ID, RecipientRole: "PROFESSOR"}, ErrForbidden},
		{"professor other class", s.prof7, CreateThreadInput{StudentID: s.student9.ID, RecipientRole: "DIRECTION"}, ErrForbidden},
		{"professor to parent", s.prof7, CreateThreadInput{StudentID: s.student7.ID, RecipientRole: "PARENT"}, ErrForbidden},
		{"parent to parent by id", s.parent7, CreateThreadInput{StudentID: s.student7.ID, RecipientID: &s.parentBoth.ID}, ErrForbidden},
		{"student initiator", s.student7, CreateThreadInput{StudentID: s.student7.ID, RecipientRole: "PROFESSOR"}, ErrForbidden},
		{"unknown student", s.direction, CreateThreadInput{StudentID: 9999, RecipientRole: "PARENT"}, ErrNotFound},
		{"not a student", s.direction, CreateThreadInput{StudentID: s.prof7.ID, RecipientRole: "PROFESSOR"}, ErrNotFound},
		{"student without class", s.prof7, CreateThreadInput{StudentID: s.noClass.ID, RecipientRole: "DIRECTION"}, ErrNotFound},
		{"no parent linked", s.direction, CreateThreadInput{StudentID: s.noClass.ID, RecipientRole: "PARENT"}, ErrNotFound},
	}
	for _, c := range cases {
		_, err := s.threads.Create(ctx, c.actor, c.in)
		assert.ErrorIs(t, err, c.want, c.name)
	}

	_, err := s.threads.Create(ctx, s.direction, CreateThreadInput{StudentID: s.student7.ID, RecipientID: &s.direction.ID})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "self_thread", verr.Violations["recipient"])

	_, err = s.threads.Create(ctx, s.direction, CreateThreadInput{StudentID: s.student7.ID, RecipientRole: "JANITOR"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid_value", verr.Violations["recipientRole"])
}

func TestUnreadCountMonotonicity(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	th := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)
	prof := s.prof7
	if th.Participants[0].ID != s.parent7.ID && th.Participants[1].ID != s.parent7.ID {
		t.Fatalf("parent missing from participants")
	}

	assert.Zero(t, unreadFor(t, s, s.parent7, th.ID))
	_, err := s.threads.AddMessage(ctx, prof, th.ID, "Bonjour", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unreadFor(t, s, s.parent7, th.ID))
	assert.Zero(t, unreadFor(t, s, prof, th.ID), "own messages are never unread")

	_, err = s.threads.AddMessage(ctx, prof, th.ID, "Êtes-vous disponible ?", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unreadFor(t, s, s.parent7, th.ID))

	require.NoError(t, s.threads.MarkAsRead(ctx, s.parent7, th.ID))
	assert.Zero(t, unreadFor(t, s, s.parent7, th.ID))

	_, err = s.threads.AddMessage(ctx, prof, th.ID, "Merci", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unreadFor(t, s, s.parent7, th.ID))

	list, err := s.threads.List(ctx, s.parent7, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 1, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "Merci", list[0].LastMessage.Content)
}

func TestMarkAsReadRequiresParticipant(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	th := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)

	assert.ErrorIs(t, s.threads.MarkAsRead(ctx, s.direction, th.ID), ErrForbidden)
	assert.ErrorIs(t, s.threads.MarkAsRead(ctx, s.prof9, th.ID), ErrForbidden)
	assert.ErrorIs(t, s.threads.MarkAsRead(ctx, s.parent7, 9999), ErrNotFound)
	require.NoError(t, s.threads.MarkAsRead(ctx, s.parent7, th.ID))
	require.NoError(t, s.threads.MarkAsRead(ctx, s.parent7, th.ID))

	var n int64
	require.NoError(t, s.db.Model(&models.ThreadRead{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestThreadAccess(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	th := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)

	_, err := s.threads.AddMessage(ctx, s.parentBoth, th.ID, "intrus", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.threads.Get(ctx, s.prof9, th.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Direction reads and replies to any thread.
	_, err = s.threads.AddMessage(ctx, s.direction, th.ID, "La direction suit ce dossier", nil)
	require.NoError(t, err)
	full, err := s.threads.Get(ctx, s.direction, th.ID)
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	assert.Zero(t, full.UnreadCount)

	_, err = s.threads.AddMessage(ctx, s.parent7, th.ID, "   ", nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestListThreadsScopes(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	older := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)
	newer := openThread(t, s, s.parentBoth, s.student9.ID, models.RoleDirection)

	_, err := s.threads.AddMessage(ctx, s.parent7, older.ID, "up", nil)
	require.NoError(t, err)

	mine, err := s.threads.List(ctx, s.direction, false)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, newer.ID, mine[0].ID)

	all, err := s.threads.List(ctx, s.direction, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID, "most recently active first")
	assert.Zero(t, all[0].UnreadCount, "no watermark for non-participants")

	_, err = s.threads.List(ctx, s.prof7, true)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAddMessageIsAtomic(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	th := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)
	var before models.MessageThread
	require.NoError(t, s.db.First(&before, th.ID).Error)

	require.NoError(t, s.db.Callback().Update().Before("gorm:update").Register("test:fail_touch", func(tx *gorm.DB) {
		if tx.Statement.Table == "message_threads" {
			_ = tx.AddError(errors.New("connection reset"))
		}
	}))

	_, err := s.threads.AddMessage(ctx, s.prof7, th.ID, "Bonjour", []Upload{pdfUpload("bulletin.pdf")})
	require.Error(t, err)

	var msgs int64
	require.NoError(t, s.db.Model(&models.Message{}).Where("thread_id = ?", th.ID).Count(&msgs).Error)
	assert.Zero(t, msgs, "message must roll back with the timestamp")
	var after models.MessageThread
	require.NoError(t, s.db.First(&after, th.ID).Error)
	assert.True(t, before.LastMessageAt.Equal(after.LastMessageAt))
	var atts int64
	require.NoError(t, s.db.Model(&models.Attachment{}).Count(&atts).Error)
	assert.Zero(t, atts)
	assert.Equal(t, 0, s.store.Len(), "uploaded blob must be discarded")
}

func TestAddMessageWithAttachments(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	th := openThread(t, s, s.parent7, s.student7.ID, models.RoleProfessor)

	m, err := s.threads.AddMessage(ctx, s.parent7, th.ID, "Certificat médical", []Upload{pdfUpload("certificat.pdf")})
	require.NoError(t, err)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "application/pdf", m.Attachments[0].MimeType)

	full, err := s.threads.Get(ctx, s.prof7, th.ID)
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	require.Len(t, full.Messages[0].Attachments, 1)
	assert.True(t, full.LastMessageAt.Equal(full.Messages[0].CreatedAt))
}
