package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/internal/config"
	"github.com/diewo77/ecole/internal/db"
	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/services"
	"github.com/diewo77/ecole/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type testApp struct {
	h     http.Handler
	db    *gorm.DB
	store *storage.Memory
}

func newTestApp(t *testing.T, tweak func(*Deps)) *testApp {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gdb, err := db.Open(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, log)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gdb))
	require.NoError(t, db.Seed(gdb))

	issuer := auth.NewIssuer("test-secret", time.Hour)
	g := policy.NewAuthGate()
	store := storage.NewMemory()
	att := services.NewAttachmentService(store, "ecole", log)
	d := Deps{
		DB:       gdb,
		Issuer:   issuer,
		Gate:     g,
		Identity: services.NewIdentityService(gdb, issuer),
		Users:    services.NewUserService(gdb, g),
		Posts:    services.NewPostService(gdb, g, att),
		Threads:  services.NewThreadService(gdb, g, att),
		Log:      log,
	}
	if tweak != nil {
		tweak(&d)
	}
	return &testApp{h: New(d), db: gdb, store: store}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.h.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (a *testApp) userID(t *testing.T, email string) uint {
	t.Helper()
	var u models.User
	require.NoError(t, a.db.Where("email = ?", email).First(&u).Error)
	return u.ID
}

func (a *testApp) classID(t *testing.T, name string) uint {
	t.Helper()
	var c models.Class
	require.NoError(t, a.db.Where("name = ?", name).First(&c).Error)
	return c.ID
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out.Error
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, nil)
	rr := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)
}

func TestAPIRequiresAuth(t *testing.T) {
	app := newTestApp(t, nil)
	for _, path := range []string{"/api/posts", "/api/threads", "/api/threads/unread", "/api/auth/me"} {
		rr := app.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := app.do(t, http.MethodGet, "/api/posts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@ecole.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rr))

	rr = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": " Admin@Ecole.com ", "password": "password123"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	app.h.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"admin@ecole.com"`)
	assert.NotContains(t, me.Body.String(), "password")
}

func TestLoginRateLimited(t *testing.T) {
	app := newTestApp(t, func(d *Deps) {
		d.LoginLimiter = NewIPLimiter(rate.Every(time.Hour), 2)
	})
	body := map[string]string{"email": "admin@ecole.com", "password": "wrong"}
	for i := 0; i < 2; i++ {
		rr := app.do(t, http.MethodPost, "/api/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := app.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestDisabledAccountRejected(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")
	student := app.login(t, "julie@ecole.com")
	julie := app.userID(t, "julie@ecole.com")

	rr := app.do(t, http.MethodPatch, fmt.Sprintf("/api/users/%d", julie), admin, map[string]any{"isActive": "false"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = app.do(t, http.MethodPatch, fmt.Sprintf("/api/users/%d", julie), admin, map[string]any{"isActive": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = app.do(t, http.MethodGet, "/api/posts", student, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "account_disabled", errorCode(t, rr))

	rr = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "julie@ecole.com", "password": "password123"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "account_inactive", errorCode(t, rr))
}

func TestUrgentGlobalPostFirstForEveryone(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")
	prof := app.login(t, "prof@ecole.com")

	rr := app.do(t, http.MethodPost, "/api/posts", prof, map[string]any{
		"content": "Sortie au musée", "type": "ACTIVITE", "classId": app.classID(t, "3ème B"),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = app.do(t, http.MethodPost, "/api/posts", admin, map[string]any{
		"content": "Fermeture exceptionnelle", "type": "URGENT", "classId": nil, "isPinned": true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	for _, email := range []string{"admin@ecole.com", "prof@ecole.com", "student@ecole.com", "julie@ecole.com", "parent@ecole.com"} {
		rr := app.do(t, http.MethodGet, "/api/posts", app.login(t, email), nil)
		require.Equal(t, http.StatusOK, rr.Code, email)
		var page services.PostPage
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		require.NotEmpty(t, page.Posts, email)
		assert.Equal(t, "Fermeture exceptionnelle", page.Posts[0].Content, email)
	}

	rr = app.do(t, http.MethodGet, "/api/posts", app.login(t, "julie@ecole.com"), nil)
	var page services.PostPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Len(t, page.Posts, 1, "class 3ème B post must not reach 4ème A")
}

func TestProfessorCannotPostToUntaughtClass(t *testing.T) {
	app := newTestApp(t, nil)
	prof := app.login(t, "prof@ecole.com")
	rr := app.do(t, http.MethodPost, "/api/posts", prof, map[string]any{
		"content": "Devoir", "type": "SCOLARITE", "classId": app.classID(t, "4ème A"),
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", errorCode(t, rr))

	parent := app.login(t, "parent@ecole.com")
	rr = app.do(t, http.MethodPost, "/api/posts", parent, map[string]any{"content": "x", "type": "GENERAL"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestPostValidationAndPin(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")

	rr := app.do(t, http.MethodPost, "/api/posts", admin, map[string]any{"content": "", "type": "NEWS"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var verr struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verr))
	assert.Equal(t, "validation_failed", verr.Error)
	assert.Equal(t, "required", verr.Details["content"])
	assert.Equal(t, "invalid_post_type", verr.Details["type"])

	rr = app.do(t, http.MethodPost, "/api/posts", admin, map[string]any{"content": "Info", "type": "GENERAL"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var post services.PostView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &post))

	pinPath := fmt.Sprintf("/api/posts/%d/pin", post.ID)
	rr = app.do(t, http.MethodPatch, pinPath, admin, map[string]any{"isPinned": "yes"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = app.do(t, http.MethodPatch, pinPath, app.login(t, "prof@ecole.com"), map[string]any{"isPinned": true})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = app.do(t, http.MethodPatch, pinPath, admin, map[string]any{"isPinned": true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"isPinned":true`)

	rr = app.do(t, http.MethodPatch, "/api/posts/999/pin", admin, map[string]any{"isPinned": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = app.do(t, http.MethodGet, "/api/posts/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLikeCommentAndDelete(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")
	student := app.login(t, "student@ecole.com")

	rr := app.do(t, http.MethodPost, "/api/posts", admin, map[string]any{"content": "Kermesse", "type": "ACTIVITE"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var post services.PostView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &post))
	base := fmt.Sprintf("/api/posts/%d", post.ID)

	rr = app.do(t, http.MethodPost, base+"/like", student, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"liked":true,"likesCount":1}`, rr.Body.String())
	rr = app.do(t, http.MethodPost, base+"/like", student, nil)
	assert.JSONEq(t, `{"liked":false,"likesCount":0}`, rr.Body.String())

	rr = app.do(t, http.MethodPost, base+"/comments", student, map[string]string{"content": "Super !"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = app.do(t, http.MethodDelete, base, student, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = app.do(t, http.MethodDelete, base, admin, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = app.do(t, http.MethodGet, base, admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMultipartPostWithAttachment(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content", "Menu de la cantine"))
	require.NoError(t, mw.WriteField("type", "GENERAL"))
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="attachments"; filename="menu.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 menu"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/posts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	rr := httptest.NewRecorder()
	app.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var post services.PostView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &post))
	require.Len(t, post.Attachments, 1)
	assert.Equal(t, "menu.pdf", post.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", post.Attachments[0].MimeType)
	assert.Equal(t, 1, app.store.Len())
}

func TestThreadCreateReuseAndUnread(t *testing.T) {
	app := newTestApp(t, nil)
	parent := app.login(t, "parent@ecole.com")
	admin := app.login(t, "admin@ecole.com")
	leo := app.userID(t, "student@ecole.com")

	// The seed already holds a parent/direction thread about Léo.
	rr := app.do(t, http.MethodPost, "/api/threads", parent, map[string]any{"studentId": leo, "recipientRole": "DIRECTION"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var reused services.ThreadView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reused))

	rr = app.do(t, http.MethodPost, "/api/threads", parent, map[string]any{"studentId": leo, "recipientRole": "PROFESSOR"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created services.ThreadView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.NotEqual(t, reused.ID, created.ID)

	rr = app.do(t, http.MethodPost, "/api/threads", parent, map[string]any{"studentId": app.userID(t, "julie@ecole.com"), "recipientRole": "DIRECTION"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = app.do(t, http.MethodPost, fmt.Sprintf("/api/threads/%d/read", reused.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = app.do(t, http.MethodPost, fmt.Sprintf("/api/threads/%d/messages", reused.ID), parent, map[string]string{"content": "Merci"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = app.do(t, http.MethodGet, "/api/threads/unread", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sum services.UnreadSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.Equal(t, int64(1), sum.Total)

	rr = app.do(t, http.MethodGet, fmt.Sprintf("/api/threads/%d", reused.ID), app.login(t, "prof@ecole.com"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = app.do(t, http.MethodGet, "/api/threads?scope=all", parent, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = app.do(t, http.MethodGet, "/api/threads?scope=all", app.login(t, "admin2@ecole.com"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []services.ThreadView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestUserAdministration(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.login(t, "admin@ecole.com")
	student := app.login(t, "student@ecole.com")

	rr := app.do(t, http.MethodGet, "/api/users", student, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = app.do(t, http.MethodGet, "/api/users", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "$2a$")

	rr = app.do(t, http.MethodPost, "/api/users", admin, map[string]any{
		"email": "prof2@ecole.com", "password": "password123", "role": "PROFESSOR", "firstName": "Anne", "lastName": "Leroy",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var prof models.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &prof))

	rr = app.do(t, http.MethodPost, "/api/users", admin, map[string]any{
		"email": "prof2@ecole.com", "password": "password123", "role": "PROFESSOR", "firstName": "Anne", "lastName": "Leroy",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	class4A := app.classID(t, "4ème A")
	path := fmt.Sprintf("/api/users/%d/classes", prof.ID)
	rr = app.do(t, http.MethodPost, path, admin, map[string]any{"classId": class4A})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	rr = app.do(t, http.MethodPost, path, admin, map[string]any{"classId": class4A})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = app.do(t, http.MethodGet, "/api/users/me/classes", app.login(t, "prof2@ecole.com"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "4ème A"))

	rr = app.do(t, http.MethodGet, "/api/users/me/students", app.login(t, "parent@ecole.com"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Léo")
	assert.NotContains(t, rr.Body.String(), "Julie")
}

func TestUnknownAPIRoute(t *testing.T) {
	app := newTestApp(t, nil)
	rr := app.do(t, http.MethodGet, "/api/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorCode(t, rr))
}
