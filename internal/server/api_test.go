package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/handlers"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/storage"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

type threadCreated struct {
	Thread models.ThreadResponse `json:"thread"`
	Post   models.PostResponse   `json:"post"`
}

type threadView struct {
	Thread     models.ThreadResponse `json:"thread"`
	Subscribed bool                  `json:"subscribed"`
}

type threadList struct {
	Threads []models.ThreadResponse `json:"threads"`
	Total   int64                   `json:"total"`
}

type postList struct {
	Posts []models.PostResponse `json:"posts"`
	Total int64                 `json:"total"`
}

type voteResult struct {
	Message   string `json:"message"`
	Value     int    `json:"value"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	Score     int    `json:"score"`
}

func (e *testEnv) category(name string) models.Category {
	e.t.Helper()
	c := models.Category{Name: name, Slug: models.Slugify(name, 64)}
	require.NoError(e.t, e.db.Create(&c).Error)
	return c
}

func (e *testEnv) tag(name string) models.Tag {
	e.t.Helper()
	tag := models.Tag{Name: name, Slug: models.Slugify(name, 32)}
	require.NoError(e.t, e.db.Create(&tag).Error)
	return tag
}

func (e *testEnv) createThread(token string, categoryID int, title string, tags ...string) threadCreated {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/threads", token, map[string]any{
		"title":       title,
		"content":     "<p>" + title + " body</p>",
		"category_id": categoryID,
		"tags":        tags,
	})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[threadCreated](e.t, w)
}

func (e *testEnv) reply(token string, threadID int, content string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, fmt.Sprintf("/api/threads/%d/posts", threadID), token, map[string]any{"content": content})
}

func (e *testEnv) viewThread(token string, id int) threadView {
	e.t.Helper()
	w := e.do(http.MethodGet, fmt.Sprintf("/api/threads/%d", id), token, nil)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return decode[threadView](e.t, w)
}

func (e *testEnv) upload(path, token, filename string, data []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(e.t, err)
	_, err = fw.Write(data)
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	registered := decode[models.AuthResponse](t, w)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "alice", registered.User.Username)
	assert.Equal(t, models.RoleUser, registered.User.Role)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"duplicate email", map[string]any{"username": "alice2", "email": "alice@example.com", "password": "correct-horse"}, http.StatusConflict},
		{"duplicate username", map[string]any{"username": "alice", "email": "other@example.com", "password": "correct-horse"}, http.StatusConflict},
		{"bad username", map[string]any{"username": "a!", "email": "a@example.com", "password": "correct-horse"}, http.StatusBadRequest},
		{"short password", map[string]any{"username": "bobby", "email": "bob@example.com", "password": "short"}, http.StatusBadRequest},
		{"bad email", map[string]any{"username": "bobby", "email": "nope", "password": "correct-horse"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.do(http.MethodPost, "/api/auth/register", "", tt.body).Code)
		})
	}

	w = e.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "ALICE@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[models.AuthResponse](t, w)

	w = e.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "alice@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "nobody@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/api/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "email", me["auth_provider"])
	assert.Equal(t, false, me["banned"])

	assert.Contains(t, e.events.published(), webhooks.EventUserRegistered)
	assert.Equal(t, 1, e.search.saved[search.IndexUsers])
}

func TestOTPSignIn(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]any{"email": "otp@example.com", "code": "424242", "username": "otp_user"}

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/auth/otp/verify", "", body).Code)
	assert.Equal(t, http.StatusAccepted,
		e.do(http.MethodPost, "/api/auth/otp/request", "", map[string]any{"email": "OTP@example.com"}).Code)

	wrong := map[string]any{"email": "otp@example.com", "code": "000000"}
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/auth/otp/verify", "", wrong).Code)

	w := e.do(http.MethodPost, "/api/auth/otp/verify", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[models.AuthResponse](t, w)
	assert.Equal(t, "otp_user", first.User.Username)
	assert.Equal(t, "otp", first.User.AuthProvider)
	assert.True(t, first.User.EmailVerified)

	w = e.do(http.MethodPost, "/api/auth/otp/verify", "", body)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[models.AuthResponse](t, w)
	assert.Equal(t, first.User.ID, again.User.ID)

	var count int64
	e.db.Model(&models.User{}).Where("email = ?", "otp@example.com").Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestOTPDisabled(t *testing.T) {
	e := newTestEnv(t, func(_ *testEnv, d *handlers.Deps) { d.OTP = nil })

	w := e.do(http.MethodPost, "/api/auth/otp/request", "", map[string]any{"email": "x@example.com"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGoogleLogin(t *testing.T) {
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub":            "google-1",
			"email":          "Gina@Example.com",
			"email_verified": "true",
			"picture":        "https://img.example/gina.png",
		})
	}))
	defer google.Close()

	e := newTestEnv(t, func(_ *testEnv, d *handlers.Deps) {
		d.Google = &auth.GoogleVerifier{Endpoint: google.URL, Client: google.Client()}
	})
	existing, _ := e.user("gina", models.RoleUser)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/auth/google", "", map[string]any{"token": "bad"}).Code)

	w := e.do(http.MethodPost, "/api/auth/google", "", map[string]any{"token": "good"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.AuthResponse](t, w)
	assert.Equal(t, existing.ID, resp.User.ID)
	assert.Equal(t, "https://img.example/gina.png", resp.User.Avatar)
	assert.True(t, resp.User.EmailVerified)

	var linked models.User
	require.NoError(t, e.db.First(&linked, existing.ID).Error)
	assert.Equal(t, "google-1", linked.GoogleID)
}

func TestProfileAndUploads(t *testing.T) {
	e := newTestEnv(t, func(_ *testEnv, d *handlers.Deps) { d.Uploads = fakeUploads{} })
	u, token := e.user("carol", models.RoleUser)
	cat := e.category("General")
	e.createThread(token, cat.ID, "Carol says hi")

	w := e.do(http.MethodGet, "/api/users/carol", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, profile["thread_count"])
	assert.EqualValues(t, 1, profile["post_count"])
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/users/nobody", "", nil).Code)

	w = e.do(http.MethodPut, "/api/users/me", token, map[string]any{"bio": "Gopher"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Gopher", decode[models.User](t, w).Bio)
	assert.Equal(t, http.StatusBadRequest,
		e.do(http.MethodPut, "/api/users/me", token, map[string]any{"avatar": "javascript:alert(1)"}).Code)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	w = e.upload("/api/uploads", token, "pic.png", png)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, w)["url"], "https://cdn.test/images/"))

	assert.Equal(t, http.StatusBadRequest, e.upload("/api/uploads", token, "notes.txt", []byte("plain text")).Code)

	justOver := append(png, make([]byte, storage.MaxUploadSize)...)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.upload("/api/uploads", token, "big.png", justOver).Code)
	huge := append(png, make([]byte, 3*storage.MaxUploadSize)...)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.upload("/api/uploads", token, "huge.png", huge).Code)

	w = e.upload("/api/users/me/avatar", token, "me.png", png)
	require.Equal(t, http.StatusOK, w.Code)
	var stored models.User
	require.NoError(t, e.db.First(&stored, u.ID).Error)
	assert.True(t, strings.HasPrefix(stored.Avatar, "https://cdn.test/avatars/"))
}

func TestUploadsDisabled(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.user("dave", models.RoleUser)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	assert.Equal(t, http.StatusServiceUnavailable, e.upload("/api/uploads", token, "pic.png", png).Code)
}

func TestCategoryLifecycle(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.user("admin", models.RoleAdmin)
	_, member := e.user("member", models.RoleUser)

	w := e.do(http.MethodPost, "/api/categories", admin, map[string]any{"name": "General Talk", "description": "Anything"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	general := decode[models.Category](t, w)
	assert.Equal(t, "general-talk", general.Slug)

	assert.Equal(t, http.StatusConflict,
		e.do(http.MethodPost, "/api/categories", admin, map[string]any{"name": "General talk"}).Code)

	w = e.do(http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Category](t, w), 1)

	// a cached list must not survive a write
	require.Equal(t, http.StatusCreated,
		e.do(http.MethodPost, "/api/categories", admin, map[string]any{"name": "Help"}).Code)
	assert.Len(t, decode[[]models.Category](t, e.do(http.MethodGet, "/api/categories", "", nil)), 2)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/categories/general-talk", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/categories/missing", "", nil).Code)

	w = e.do(http.MethodPut, fmt.Sprintf("/api/categories/%d", general.ID), admin,
		map[string]any{"name": "General", "description": "Off-topic"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "General", decode[models.Category](t, w).Name)

	created := e.createThread(member, general.ID, "First thread")
	for _, c := range decode[[]models.Category](t, e.do(http.MethodGet, "/api/categories", "", nil)) {
		if c.ID == general.ID {
			assert.EqualValues(t, 1, c.ThreadCount)
		}
	}

	path := fmt.Sprintf("/api/categories/%d", general.ID)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodDelete, path, admin, nil).Code)

	require.Equal(t, http.StatusOK,
		e.do(http.MethodDelete, fmt.Sprintf("/api/threads/%d", created.Thread.ID), member, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, path, admin, nil).Code)
}

func TestTags(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.user("admin", models.RoleAdmin)
	_, mod := e.user("mod", models.RoleModerator)
	_, member := e.user("member", models.RoleUser)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/tags", member, map[string]any{"name": "Go"}).Code)

	w := e.do(http.MethodPost, "/api/tags", mod, map[string]any{"name": "Go"})
	require.Equal(t, http.StatusCreated, w.Code)
	goTag := decode[models.Tag](t, w)
	assert.Equal(t, "go", goTag.Slug)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/tags", mod, map[string]any{"name": "GO"}).Code)

	cat := e.category("General")
	created := e.createThread(member, cat.ID, "Tagged thread", "go")
	require.Len(t, created.Thread.Tags, 1)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, fmt.Sprintf("/api/tags/%d", goTag.ID), mod, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, fmt.Sprintf("/api/tags/%d", goTag.ID), admin, nil).Code)

	assert.Empty(t, decode[[]models.Tag](t, e.do(http.MethodGet, "/api/tags", "", nil)))
	assert.Empty(t, e.viewThread("", created.Thread.ID).Thread.Tags)
}

func TestThreadsAndPosts(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.user("alice", models.RoleUser)
	bob, bobToken := e.user("bob", models.RoleUser)
	cat := e.category("General")
	e.tag("Go")
	e.tag("SQL")

	w := e.do(http.MethodPost, "/api/threads", alice, map[string]any{
		"title":       "Hello world",
		"content":     `<p onclick="x()">First</p><script>alert(1)</script>`,
		"category_id": cat.ID,
		"tags":        []string{"sql", "go", "Go"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[threadCreated](t, w)
	thread := created.Thread
	assert.Equal(t, "hello-world", thread.Slug)
	assert.Equal(t, 1, thread.PostCount)
	require.Len(t, thread.Tags, 2)
	assert.Equal(t, "Go", thread.Tags[0].Name)
	assert.NotContains(t, created.Post.Content, "script")
	assert.NotContains(t, created.Post.Content, "onclick")

	bad := []map[string]any{
		{"title": "Unknown tag", "content": "x", "category_id": cat.ID, "tags": []string{"rust"}},
		{"title": "Too many", "content": "x", "category_id": cat.ID, "tags": []string{"a", "b", "c", "d", "e", "f"}},
		{"title": "Blank", "content": "<script>only</script>", "category_id": cat.ID},
		{"title": "No", "content": "x", "category_id": cat.ID},
		{"title": "      ", "content": "x", "category_id": cat.ID},
		{"title": "  ab  ", "content": "x", "category_id": cat.ID},
	}
	for _, body := range bad {
		assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/threads", alice, body).Code, body["title"])
	}
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/threads", alice,
		map[string]any{"title": "Nowhere", "content": "x", "category_id": 999}).Code)

	assert.Equal(t, 1, e.viewThread("", thread.ID).Thread.ViewCount)
	view := e.viewThread(alice, thread.ID)
	assert.Equal(t, 2, view.Thread.ViewCount)
	assert.True(t, view.Subscribed)
	assert.False(t, e.viewThread(bobToken, thread.ID).Subscribed)

	w = e.reply(bobToken, thread.ID, "<p>Welcome!</p>")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reply := decode[models.PostResponse](t, w)
	assert.Equal(t, bob.ID, reply.Author.ID)
	assert.Equal(t, 2, e.viewThread("", thread.ID).Thread.PostCount)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/threads/%d/posts", thread.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	posts := decode[postList](t, w)
	assert.EqualValues(t, 2, posts.Total)
	assert.Equal(t, created.Post.ID, posts.Posts[0].ID)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/threads/999/posts", "", nil).Code)

	// pages are cached per thread until a write to that thread
	stray := models.Post{ThreadID: thread.ID, AuthorID: bob.ID, Content: "<p>stray</p>"}
	require.NoError(t, e.db.Create(&stray).Error)
	posts = decode[postList](t, e.do(http.MethodGet, fmt.Sprintf("/api/threads/%d/posts", thread.ID), "", nil))
	assert.EqualValues(t, 2, posts.Total)
	require.NoError(t, e.db.Unscoped().Delete(&stray).Error)

	// editing
	postPath := fmt.Sprintf("/api/posts/%d", reply.ID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, postPath, alice, map[string]any{"content": "hijack"}).Code)
	w = e.do(http.MethodPut, postPath, bobToken, map[string]any{"content": "<p>Welcome aboard!</p>"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode[models.PostResponse](t, w).EditedAt)

	threadPath := fmt.Sprintf("/api/threads/%d", thread.ID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, threadPath, bobToken, map[string]any{"title": "Mine now"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, threadPath, alice, map[string]any{"title": "     "}).Code)
	w = e.do(http.MethodPut, threadPath, alice, map[string]any{"title": "Hello again", "tags": []string{"go"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.ThreadResponse](t, w)
	assert.Equal(t, "Hello again", updated.Title)
	assert.Len(t, updated.Tags, 1)

	// voting toggles
	votePath := postPath + "/vote"
	steps := []struct {
		value int
		want  voteResult
	}{
		{1, voteResult{Message: "Vote recorded", Value: 1, Upvotes: 1, Score: 1}},
		{1, voteResult{Message: "Vote removed"}},
		{-1, voteResult{Message: "Vote recorded", Value: -1, Downvotes: 1, Score: -1}},
		{1, voteResult{Message: "Vote updated", Value: 1, Upvotes: 1, Score: 1}},
	}
	for _, s := range steps {
		w := e.do(http.MethodPost, votePath, alice, map[string]any{"value": s.value})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, s.want, decode[voteResult](t, w))
	}
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, votePath, alice, map[string]any{"value": 2}).Code)

	posts = decode[postList](t, e.do(http.MethodGet, fmt.Sprintf("/api/threads/%d/posts", thread.ID), "", nil))
	assert.EqualValues(t, 2, posts.Total)
	assert.Equal(t, 1, posts.Posts[1].Upvotes)
	assert.Contains(t, posts.Posts[1].Content, "aboard")

	// deleting
	firstPath := fmt.Sprintf("/api/posts/%d", created.Post.ID)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodDelete, firstPath, alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, postPath, alice, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, postPath, bobToken, nil).Code)
	assert.Equal(t, 1, e.viewThread("", thread.ID).Thread.PostCount)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, postPath, bobToken, nil).Code)

	// subscriptions
	subPath := threadPath + "/subscribe"
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, subPath, bobToken, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, subPath, bobToken, nil).Code)
	assert.True(t, e.viewThread(bobToken, thread.ID).Subscribed)
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, subPath, bobToken, nil).Code)
	assert.False(t, e.viewThread(bobToken, thread.ID).Subscribed)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, threadPath, bobToken, nil).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, threadPath, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, threadPath, "", nil).Code)
	assert.Contains(t, e.search.deleted[search.IndexThreads], fmt.Sprint(thread.ID))

	assert.Subset(t, e.events.published(), []string{
		webhooks.EventThreadCreated,
		webhooks.EventThreadUpdated,
		webhooks.EventPostCreated,
		webhooks.EventPostUpdated,
		webhooks.EventPostDeleted,
		webhooks.EventThreadDeleted,
	})
	assert.Positive(t, e.search.saved[search.IndexThreads])
	assert.Positive(t, e.search.saved[search.IndexPosts])
}

func TestThreadListing(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.user("alice", models.RoleUser)
	_, bob := e.user("bob", models.RoleUser)
	_, mod := e.user("mod", models.RoleModerator)
	general := e.category("General")
	help := e.category("Help")
	e.tag("Go")

	older := e.createThread(alice, general.ID, "Older thread", "go")
	newer := e.createThread(bob, help.ID, "Newer thread")

	list := func(query string) threadList {
		t.Helper()
		w := e.do(http.MethodGet, "/api/threads"+query, "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[threadList](t, w)
	}
	ids := func(l threadList) []int {
		out := make([]int, len(l.Threads))
		for i, th := range l.Threads {
			out[i] = th.ID
		}
		return out
	}

	assert.Equal(t, []int{newer.Thread.ID, older.Thread.ID}, ids(list("?sort=latest")))

	w := e.do(http.MethodPost, fmt.Sprintf("/api/threads/%d/pin", older.Thread.ID), mod, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]bool](t, w)["pinned"])
	assert.Equal(t, []int{older.Thread.ID, newer.Thread.ID}, ids(list("?sort=latest")))

	assert.Equal(t, []int{older.Thread.ID}, ids(list("?tag=go")))
	assert.Equal(t, []int{newer.Thread.ID}, ids(list("?category=help")))
	assert.Equal(t, []int{newer.Thread.ID}, ids(list("?author=bob")))

	paged := list("?sort=latest&limit=1&page=2")
	assert.EqualValues(t, 2, paged.Total)
	assert.Equal(t, []int{newer.Thread.ID}, ids(paged))

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/threads?category=missing", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/threads?sort=random", "", nil).Code)
}

func TestLockedThread(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.user("alice", models.RoleUser)
	_, mod := e.user("mod", models.RoleModerator)
	cat := e.category("General")
	thread := e.createThread(alice, cat.ID, "Heated debate").Thread

	lockPath := fmt.Sprintf("/api/threads/%d/lock", thread.ID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, lockPath, alice, nil).Code)
	w := e.do(http.MethodPost, lockPath, mod, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]bool](t, w)["locked"])

	assert.Equal(t, http.StatusForbidden, e.reply(alice, thread.ID, "one more thing").Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, fmt.Sprintf("/api/threads/%d", thread.ID), alice,
		map[string]any{"title": "Calm debate"}).Code)
	assert.Equal(t, http.StatusCreated, e.reply(mod, thread.ID, "Locked, take it elsewhere").Code)

	w = e.do(http.MethodPost, lockPath, mod, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]bool](t, w)["locked"])
	assert.Equal(t, http.StatusCreated, e.reply(alice, thread.ID, "thanks").Code)
}

func TestModeration(t *testing.T) {
	e := newTestEnv(t)
	admin, adminToken := e.user("admin", models.RoleAdmin)
	mod, modToken := e.user("mod", models.RoleModerator)
	other, _ := e.user("othermod", models.RoleModerator)
	member, memberToken := e.user("member", models.RoleUser)
	cat := e.category("General")

	banPath := func(id int) string { return fmt.Sprintf("/api/mod/users/%d/ban", id) }

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, banPath(admin.ID), modToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, banPath(other.ID), modToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, banPath(mod.ID), modToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, banPath(999), modToken, nil).Code)

	w := e.do(http.MethodPost, banPath(member.ID), modToken, map[string]any{"reason": "spam"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	banned := decode[models.User](t, w)
	assert.NotNil(t, banned.BannedAt)
	assert.Equal(t, "spam", banned.BanReason)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, banPath(member.ID), modToken, nil).Code)

	// banned users can still read and see themselves
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/me", memberToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/threads", memberToken, map[string]any{
		"title": "Still here", "content": "hi", "category_id": cat.ID,
	}).Code)

	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, banPath(member.ID), modToken, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodDelete, banPath(member.ID), modToken, nil).Code)
	e.createThread(memberToken, cat.ID, "Back again")
	assert.Contains(t, e.events.published(), webhooks.EventUserBanned)

	rolePath := func(id int) string { return fmt.Sprintf("/api/admin/users/%d/role", id) }
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, rolePath(member.ID), modToken, map[string]any{"role": "moderator"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, rolePath(member.ID), adminToken, map[string]any{"role": "owner"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, rolePath(admin.ID), adminToken, map[string]any{"role": "user"}).Code)

	w = e.do(http.MethodPut, rolePath(member.ID), adminToken, map[string]any{"role": "moderator"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleModerator, decode[models.User](t, w).Role)
	// the new role applies to the existing token
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/mod/reports", memberToken, nil).Code)
}

func TestReports(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.user("alice", models.RoleUser)
	_, bob := e.user("bob", models.RoleUser)
	_, mod := e.user("mod", models.RoleModerator)
	cat := e.category("General")
	thread := e.createThread(alice, cat.ID, "Questionable").Thread

	report := map[string]any{"target_type": "thread", "target_id": thread.ID, "reason": "off topic"}
	w := e.do(http.MethodPost, "/api/reports", bob, report)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	assert.Equal(t, "open", created["status"])

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/reports", bob, report).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/reports", bob,
		map[string]any{"target_type": "post", "target_id": 999, "reason": "gone"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/reports", bob,
		map[string]any{"target_type": "category", "target_id": cat.ID, "reason": "meh"}).Code)

	w = e.do(http.MethodGet, "/api/mod/reports", mod, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])

	id := int(created["id"].(float64))
	path := fmt.Sprintf("/api/mod/reports/%d", id)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, path, mod, map[string]any{"status": "open"}).Code)
	w = e.do(http.MethodPut, path, mod, map[string]any{"status": "resolved", "note": "moved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "resolved", decode[map[string]any](t, w)["status"])
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPut, path, mod, map[string]any{"status": "dismissed"}).Code)

	w = e.do(http.MethodGet, "/api/mod/reports", mod, nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["total"])
	w = e.do(http.MethodGet, "/api/mod/reports?status=resolved", mod, nil)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])

	// a closed report no longer blocks a fresh one
	assert.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/reports", bob, report).Code)
	assert.Subset(t, e.events.published(), []string{webhooks.EventReportCreated, webhooks.EventReportResolved})
}

func TestSearch(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/api/search?q=goroutines&category=general&tags=go,sql&tags=go&author=ann&page=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := e.search.lastQuery()
	assert.Equal(t, search.IndexThreads, q.Index)
	assert.Equal(t, "goroutines", q.Text)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, [][]string{
		{"category:general"},
		{"tags:go", "tags:sql"},
		{"author:ann"},
	}, q.FacetFilters)

	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/search?index=users&q=ann&category=ignored", "", nil).Code)
	q = e.search.lastQuery()
	assert.Equal(t, search.IndexUsers, q.Index)
	assert.Empty(t, q.FacetFilters)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/search?index=secrets", "", nil).Code)

	w = e.do(http.MethodGet, "/api/search/all?q=go", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[map[string]search.Result](t, w)
	assert.Len(t, all, len(search.Indices))
	assert.Equal(t, search.IndexTags, all[search.IndexTags].Index)

	e.search.err = errors.New("service down")
	assert.Equal(t, http.StatusBadGateway, e.do(http.MethodGet, "/api/search?q=go", "", nil).Code)
	assert.Equal(t, http.StatusBadGateway, e.do(http.MethodGet, "/api/search/all?q=go", "", nil).Code)
}

func TestAnalyticsUnavailable(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.user("admin", models.RoleAdmin)

	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/api/admin/analytics", admin, nil).Code)
}

func TestWebhookAdmin(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.user("admin", models.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/admin/webhooks", admin,
		map[string]any{"url": "ftp://hooks.example"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/admin/webhooks", admin,
		map[string]any{"url": "https://hooks.example", "events": []string{"thread.exploded"}}).Code)

	w := e.do(http.MethodPost, "/api/admin/webhooks", admin, map[string]any{
		"url":    "https://hooks.example/forum",
		"events": []string{webhooks.EventThreadCreated, webhooks.EventPostCreated},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Webhook models.Webhook `json:"webhook"`
		Secret  string         `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Secret, 64)
	assert.Equal(t, "thread.created,post.created", created.Webhook.Events)
	assert.True(t, created.Webhook.Active)

	w = e.do(http.MethodGet, "/api/admin/webhooks", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Secret)

	path := fmt.Sprintf("/api/admin/webhooks/%d", created.Webhook.ID)
	w = e.do(http.MethodPut, path, admin, map[string]any{"active": false, "rotate_secret": true})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode[map[string]any](t, w)
	assert.NotEmpty(t, rotated["secret"])
	assert.NotEqual(t, created.Secret, rotated["secret"])

	w = e.do(http.MethodPost, path+"/test", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["success"])

	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path+"/deliveries", admin, nil).Code)
}

func TestWebhookDelivery(t *testing.T) {
	type received struct {
		event     string
		signature string
		body      []byte
	}
	got := make(chan received, 8)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{r.Header.Get(webhooks.HeaderEvent), r.Header.Get(webhooks.HeaderSignature), body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	e := newTestEnv(t, func(e *testEnv, d *handlers.Deps) {
		dispatcher := webhooks.NewDispatcher(e.db, 2*time.Second, 1)
		t.Cleanup(dispatcher.Close)
		d.Webhooks = dispatcher
	})
	_, admin := e.user("admin", models.RoleAdmin)
	_, member := e.user("member", models.RoleUser)
	cat := e.category("General")

	const secret = "a-very-long-shared-secret"
	w := e.do(http.MethodPost, "/api/admin/webhooks", admin, map[string]any{
		"url":    receiver.URL,
		"events": []string{webhooks.EventThreadCreated},
		"secret": secret,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Webhook models.Webhook `json:"webhook"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	path := fmt.Sprintf("/api/admin/webhooks/%d", created.Webhook.ID)

	next := func() received {
		t.Helper()
		select {
		case r := <-got:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no webhook delivery received")
			return received{}
		}
	}

	w = e.do(http.MethodPost, path+"/test", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ping := decode[models.WebhookDelivery](t, w)
	assert.True(t, ping.Success)
	assert.Equal(t, http.StatusNoContent, ping.StatusCode)

	r := next()
	assert.Equal(t, webhooks.EventPing, r.event)
	assert.True(t, webhooks.Verify(secret, r.body, r.signature))

	thread := e.createThread(member, cat.ID, "Announce me").Thread
	r = next()
	assert.Equal(t, webhooks.EventThreadCreated, r.event)
	assert.True(t, webhooks.Verify(secret, r.body, r.signature))
	assert.False(t, webhooks.Verify("wrong-secret", r.body, r.signature))

	var payload struct {
		Event string                `json:"event"`
		Data  models.ThreadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.body, &payload))
	assert.Equal(t, webhooks.EventThreadCreated, payload.Event)
	assert.Equal(t, thread.ID, payload.Data.ID)

	require.Eventually(t, func() bool {
		w := e.do(http.MethodGet, path+"/deliveries", admin, nil)
		return w.Code == http.StatusOK && len(decode[[]models.WebhookDelivery](t, w)) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
