package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/services"
	"github.com/diewo77/ecole/internal/visibility"
)

// PostHandler serves the feed.
type PostHandler struct {
	Svc *services.PostService
	Log *slog.Logger
}

func NewPostHandler(svc *services.PostService, log *slog.Logger) *PostHandler {
	return &PostHandler{Svc: svc, Log: log}
}

// List: GET /api/posts?classId=&page=&limit=
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	filter, err := visibility.ParseClassFilter(r.URL.Query().Get("classId"))
	if err != nil {
		badRequest(w, "validation_failed", map[string]string{"classId": "invalid_value"})
		return
	}
	page, err := h.Svc.List(r.Context(), a, services.ListPostsInput{
		Class: filter,
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", services.DefaultPageSize),
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

// Get: GET /api/posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := h.Svc.Get(r.Context(), a, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, post)
}

type createPostRequest struct {
	Content  string          `json:"content"`
	Type     string          `json:"type"`
	IsPinned *bool           `json:"isPinned"`
	ClassID  json.RawMessage `json:"classId"`
}

// Create: POST /api/posts, JSON or multipart with "attachments" files.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in services.CreatePostInput
	if httpx.IsMultipart(r) {
		if !parseMultipart(w, r) {
			return
		}
		classID, err := formID(r.FormValue("classId"))
		if err != nil {
			badRequest(w, "validation_failed", map[string]string{"classId": "invalid_value"})
			return
		}
		in = services.CreatePostInput{
			Content:     r.FormValue("content"),
			Type:        r.FormValue("type"),
			IsPinned:    r.FormValue("isPinned") == "true",
			ClassID:     classID,
			Attachments: uploads(r.MultipartForm, "attachments"),
		}
	} else {
		var req createPostRequest
		if !decode(w, r, &req) {
			return
		}
		classID, _, err := optionalID(req.ClassID)
		if err != nil {
			badRequest(w, "validation_failed", map[string]string{"classId": "invalid_value"})
			return
		}
		in = services.CreatePostInput{Content: req.Content, Type: req.Type, ClassID: classID}
		if req.IsPinned != nil {
			in.IsPinned = *req.IsPinned
		}
	}
	post, err := h.Svc.Create(r.Context(), a, in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, post)
}

type updatePostRequest struct {
	Content string          `json:"content"`
	Type    *string         `json:"type"`
	ClassID json.RawMessage `json:"classId"`
}

// Update: PUT /api/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updatePostRequest
	if !decode(w, r, &req) {
		return
	}
	classID, present, err := optionalID(req.ClassID)
	if err != nil {
		badRequest(w, "validation_failed", map[string]string{"classId": "invalid_value"})
		return
	}
	post, err := h.Svc.Update(r.Context(), a, id, services.UpdatePostInput{
		Content: req.Content,
		Type:    req.Type,
		ClassID: services.OptionalClass{Set: present, ID: classID},
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, post)
}

// Delete: DELETE /api/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), a, id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.NoContent(w)
}

// Pin: PATCH /api/posts/{id}/pin with {"isPinned": bool}
func (h *PostHandler) Pin(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsPinned json.RawMessage `json:"isPinned"`
	}
	if !decode(w, r, &req) {
		return
	}
	pinned, ok := strictBool(req.IsPinned)
	if !ok {
		badRequest(w, "validation_failed", map[string]string{"isPinned": "must_be_boolean"})
		return
	}
	post, err := h.Svc.SetPinned(r.Context(), a, id, pinned)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, post)
}

// Comment: POST /api/posts/{id}/comments
func (h *PostHandler) Comment(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.AddComment(r.Context(), a, id, req.Content)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

// Like: POST /api/posts/{id}/like toggles the caller's like.
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	state, err := h.Svc.ToggleLike(r.Context(), a, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}
