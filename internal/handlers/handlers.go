// Package handlers exposes the services as JSON endpoints.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/services"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = services.MaxAttachments*services.MaxAttachmentSize + 1<<20
)

var errBadID = errors.New("bad id")

// writeError maps the service error taxonomy onto HTTP statuses. Unexpected
// errors are logged and answered without detail.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var verr *services.ValidationError
	var uerr *services.UploadError
	switch {
	case errors.As(err, &verr):
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", verr.Violations)
	case errors.Is(err, services.ErrForbidden):
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, services.ErrNotFound):
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
	case errors.Is(err, services.ErrAccountDisabled):
		httpx.JSONError(w, http.StatusUnauthorized, "account_disabled", nil)
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, services.ErrConflict):
		httpx.JSONError(w, http.StatusConflict, "conflict", nil)
	case errors.As(err, &uerr):
		log.Error("upload failed", "method", r.Method, "path", r.URL.Path, "err", err)
		httpx.JSONError(w, http.StatusInternalServerError, "upload_failed", nil)
	default:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

func badRequest(w http.ResponseWriter, code string, details any) {
	httpx.JSONError(w, http.StatusBadRequest, code, details)
}

// requireActor returns the request actor or answers 401.
func requireActor(w http.ResponseWriter, r *http.Request) (*policy.Actor, bool) {
	a, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	return a, true
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return uint(id), nil
}

// pathID reads a positive id path value, answering 400 when malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := parseID(r.PathValue(name))
	if err != nil {
		badRequest(w, "invalid_id", map[string]string{name: "invalid_id"})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst, maxJSONBody); err != nil {
		badRequest(w, "invalid_json", nil)
		return false
	}
	return true
}

// strictBool accepts only a JSON boolean literal.
func strictBool(raw json.RawMessage) (bool, bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// optionalID decodes a class or user reference that may be absent, null, a
// number or a numeric string. present is false when the field was omitted.
func optionalID(raw json.RawMessage) (id *uint, present bool, err error) {
	s := string(bytes.TrimSpace(raw))
	if s == "" {
		return nil, false, nil
	}
	if s == "null" || s == `""` {
		return nil, true, nil
	}
	if unq, uerr := strconv.Unquote(s); uerr == nil {
		s = unq
	}
	v, err := parseID(s)
	if err != nil {
		return nil, true, err
	}
	return &v, true, nil
}

func formID(v string) (*uint, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "null" {
		return nil, nil
	}
	id, err := parseID(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// uploads converts multipart file headers into service uploads.
func uploads(form *multipart.Form, field string) []services.Upload {
	if form == nil {
		return nil
	}
	headers := form.File[field]
	out := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		out = append(out, services.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return out
}

// parseMultipart reads a multipart body bounded by the attachment limits.
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		badRequest(w, "invalid_multipart", nil)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
