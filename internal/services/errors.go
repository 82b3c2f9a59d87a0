package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/validation"
	"gorm.io/gorm"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("conflict")
	ErrAccountDisabled    = auth.ErrAccountDisabled
)

// ValidationError reports malformed input, field by field.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f, code := range e.Violations {
		fields = append(fields, f+"="+code)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// validationErr returns nil when v is empty.
func validationErr(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

func invalid(field, code string) error {
	return &ValidationError{Violations: validation.Violations{field: code}}
}

// UploadError wraps an object store failure.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload failed: %v", e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// translate maps datastore and gate errors onto the service taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	case errors.Is(err, gate.ErrUnauthorized):
		return ErrForbidden
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	}
	return err
}
