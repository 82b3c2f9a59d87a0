package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/services"
)

// ThreadHandler serves direct messaging.
type ThreadHandler struct {
	Svc *services.ThreadService
	Log *slog.Logger
}

func NewThreadHandler(svc *services.ThreadService, log *slog.Logger) *ThreadHandler {
	return &ThreadHandler{Svc: svc, Log: log}
}

// List: GET /api/threads, or ?scope=all for DIRECTION oversight.
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	threads, err := h.Svc.List(r.Context(), a, r.URL.Query().Get("scope") == "all")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, threads)
}

// Get: GET /api/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	thread, err := h.Svc.Get(r.Context(), a, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, thread)
}

type createThreadRequest struct {
	StudentID     json.RawMessage `json:"studentId"`
	RecipientID   json.RawMessage `json:"recipientId"`
	RecipientRole string          `json:"recipientRole"`
}

// Create: POST /api/threads. Answers 201 for a new thread and 200 when an
// existing one is reused.
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if !decode(w, r, &req) {
		return
	}
	studentID, _, err := optionalID(req.StudentID)
	if err != nil || studentID == nil {
		badRequest(w, "validation_failed", map[string]string{"studentId": "invalid_id"})
		return
	}
	recipientID, _, err := optionalID(req.RecipientID)
	if err != nil {
		badRequest(w, "validation_failed", map[string]string{"recipientId": "invalid_id"})
		return
	}
	res, err := h.Svc.Create(r.Context(), a, services.CreateThreadInput{
		StudentID:     *studentID,
		RecipientID:   recipientID,
		RecipientRole: req.RecipientRole,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, res.Thread)
}

// AddMessage: POST /api/threads/{id}/messages, JSON or multipart with "attachments".
func (h *ThreadHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var content string
	var files []services.Upload
	if httpx.IsMultipart(r) {
		if !parseMultipart(w, r) {
			return
		}
		content = r.FormValue("content")
		files = uploads(r.MultipartForm, "attachments")
	} else {
		var req struct {
			Content string `json:"content"`
		}
		if !decode(w, r, &req) {
			return
		}
		content = req.Content
	}
	msg, err := h.Svc.AddMessage(r.Context(), a, id, content, files)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

// MarkRead: POST /api/threads/{id}/read
func (h *ThreadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Svc.MarkAsRead(r.Context(), a, id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.NoContent(w)
}

// Unread: GET /api/threads/unread
func (h *ThreadHandler) Unread(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	sum, err := h.Svc.UnreadCount(r.Context(), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
