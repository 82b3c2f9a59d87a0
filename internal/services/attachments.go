package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	MaxAttachments    = 5
	MaxAttachmentSize = 5 << 20
)

// Upload is one file received from a client, not yet stored.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func (u Upload) mimeType() string {
	ct := strings.TrimSpace(u.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(u.Filename))); byExt != "" {
			ct = byExt
		}
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

func allowedMime(mt string) bool {
	return strings.HasPrefix(mt, "image/") || mt == "application/pdf"
}

// AttachmentService validates uploads and stores them in the object store.
// Callers persist the returned rows and call Discard if that fails.
type AttachmentService struct {
	store  storage.Store
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

func NewAttachmentService(store storage.Store, prefix string, log *slog.Logger) *AttachmentService {
	if log == nil {
		log = slog.Default()
	}
	return &AttachmentService{store: store, prefix: prefix, log: log, now: time.Now}
}

// Validate checks count, size and type limits without touching the store.
func (s *AttachmentService) Validate(files []Upload) error {
	if len(files) > MaxAttachments {
		return invalid("attachments", "too_many_files")
	}
	for i, f := range files {
		field := fmt.Sprintf("attachments[%d]", i)
		switch {
		case f.Size > MaxAttachmentSize:
			return invalid(field, "file_too_large")
		case !allowedMime(f.mimeType()):
			return invalid(field, "unsupported_type")
		case f.Open == nil:
			return invalid(field, "required")
		}
	}
	return nil
}

// Ingest uploads files concurrently under folder. On any failure the blobs
// already stored are deleted and an *UploadError is returned.
func (s *AttachmentService) Ingest(ctx context.Context, folder string, files []Upload) ([]models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := s.Validate(files); err != nil {
		return nil, err
	}
	out := make([]models.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			rc, err := f.Open()
			if err != nil {
				return err
			}
			defer rc.Close()
			mt := f.mimeType()
			obj, err := s.store.Put(gctx, s.objectKey(folder, f.Filename), rc, mt)
			if err != nil {
				return err
			}
			out[i] = models.Attachment{
				URL:        obj.URL,
				StorageKey: obj.Key,
				Filename:   f.Filename,
				MimeType:   mt,
				Size:       obj.Size,
				CreatedAt:  s.now().UTC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stored := make([]models.Attachment, 0, len(out))
		for _, a := range out {
			if a.StorageKey != "" {
				stored = append(stored, a)
			}
		}
		s.Discard(context.WithoutCancel(ctx), stored)
		return nil, &UploadError{Err: err}
	}
	return out, nil
}

// Discard deletes stored blobs whose rows were never persisted (or were
// deleted). Failures are logged: the blob is orphaned, not the request failed.
func (s *AttachmentService) Discard(ctx context.Context, atts []models.Attachment) {
	for _, a := range atts {
		if a.StorageKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, a.StorageKey); err != nil {
			s.log.Warn("attachment compensation failed", "key", a.StorageKey, "err", err)
		}
	}
}

func (s *AttachmentService) objectKey(folder, filename string) string {
	name := fmt.Sprintf("%d_%s_%s", s.now().UnixMilli(), uuid.NewString()[:8], SanitizeFilename(filename))
	return path.Join(s.prefix, folder, name)
}

// SanitizeFilename keeps letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	clean = strings.Trim(clean, ".")
	if len(clean) > 100 {
		clean = clean[len(clean)-100:]
	}
	if clean == "" {
		return "file"
	}
	return clean
}
