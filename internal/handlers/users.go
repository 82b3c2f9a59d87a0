package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/diewo77/ecole/httpx"
	"github.com/diewo77/ecole/internal/services"
)

// UserHandler serves account administration and the "my" listings.
type UserHandler struct {
	Svc *services.UserService
	Log *slog.Logger
}

func NewUserHandler(svc *services.UserService, log *slog.Logger) *UserHandler {
	return &UserHandler{Svc: svc, Log: log}
}

type createUserRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	Role      string          `json:"role"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	ClassID   json.RawMessage `json:"classId"`
}

// Create: POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	classID, _, err := optionalID(req.ClassID)
	if err != nil {
		badRequest(w, "validation_failed", map[string]string{"classId": "invalid_value"})
		return
	}
	u, err := h.Svc.Create(r.Context(), a, services.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		ClassID:   classID,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

// List: GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	users, err := h.Svc.List(r.Context(), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

// SetActive: PATCH /api/users/{id} with {"isActive": bool}
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive json.RawMessage `json:"isActive"`
	}
	if !decode(w, r, &req) {
		return
	}
	active, ok := strictBool(req.IsActive)
	if !ok {
		badRequest(w, "validation_failed", map[string]string{"isActive": "must_be_boolean"})
		return
	}
	u, err := h.Svc.SetActive(r.Context(), a, id, active)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

// LinkStudent: POST /api/users/{id}/students with {"studentId": n}
func (h *UserHandler) LinkStudent(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	parentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		StudentID json.RawMessage `json:"studentId"`
	}
	if !decode(w, r, &req) {
		return
	}
	studentID, _, err := optionalID(req.StudentID)
	if err != nil || studentID == nil {
		badRequest(w, "validation_failed", map[string]string{"studentId": "invalid_id"})
		return
	}
	if err := h.Svc.LinkParentStudent(r.Context(), a, parentID, *studentID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.NoContent(w)
}

// AssignClass: POST /api/users/{id}/classes with {"classId": n}
func (h *UserHandler) AssignClass(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	profID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ClassID json.RawMessage `json:"classId"`
	}
	if !decode(w, r, &req) {
		return
	}
	classID, _, err := optionalID(req.ClassID)
	if err != nil || classID == nil {
		badRequest(w, "validation_failed", map[string]string{"classId": "invalid_id"})
		return
	}
	if err := h.Svc.AssignProfessorClass(r.Context(), a, profID, *classID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.NoContent(w)
}

// MyStudents: GET /api/users/me/students
func (h *UserHandler) MyStudents(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	students, err := h.Svc.MyStudents(r.Context(), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, students)
}

// MyClasses: GET /api/users/me/classes
func (h *UserHandler) MyClasses(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	classes, err := h.Svc.MyClasses(r.Context(), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, classes)
}
