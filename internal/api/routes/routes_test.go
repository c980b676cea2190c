package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"Quill/internal/api/handlers/account"
	"Quill/internal/api/handlers/post"
	"Quill/internal/api/middleware"
	"Quill/internal/core/auth"
	"Quill/internal/core/ids"
	"Quill/internal/core/posts"
	"Quill/internal/core/preferences"
	"Quill/internal/docstore/memory"
	"Quill/internal/realtime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	provider, err := auth.NewProvider(auth.NewDocumentRepository(store), auth.Config{
		Secret:     []byte("routes-test-secret"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, nil)
	require.NoError(t, err)
	cookies, err := middleware.NewCookieStore(strings.Repeat("c", middleware.MinCookieSecretLength), false)
	require.NoError(t, err)
	authMiddleware := middleware.NewAuthMiddleware(provider, cookies)

	postService := posts.NewPostService(realtime.NewSyncAdapter(store), ids.NewSessionGenerator(), nil)

	r := chi.NewRouter()
	limiter := RegisterAccountRoutes(r, provider, cookies, authMiddleware)
	t.Cleanup(limiter.Stop)
	RegisterPostRoutes(r, postService, authMiddleware, nil)
	RegisterPreferencesRoutes(r, preferences.NewService(store, nil), authMiddleware)
	RegisterHealthRoutes(r, store)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &payload)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, out.Bytes()
}

func (c *client) decode(method, path string, body any, wantStatus int, v any) {
	c.t.Helper()
	status, data := c.do(method, path, body)
	require.Equal(c.t, wantStatus, status, "%s %s: %s", method, path, data)
	if v != nil {
		require.NoError(c.t, json.Unmarshal(data, v))
	}
}

func register(t *testing.T, srv *httptest.Server, email string) *client {
	t.Helper()
	anon := &client{t: t, base: srv.URL}
	var res account.SessionResponse
	anon.decode(http.MethodPost, "/api/account/register",
		account.CredentialsInput{Email: email, Password: "secret1"}, http.StatusCreated, &res)
	require.NotEmpty(t, res.Token)
	return &client{t: t, base: srv.URL, token: res.Token}
}

func errorType(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error
}

func TestAccountRoutes(t *testing.T) {
	srv := newTestServer(t)
	anon := &client{t: t, base: srv.URL}

	status, data := anon.do(http.MethodPost, "/api/account/register",
		account.CredentialsInput{Email: "bad", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidRequest", errorType(t, data))

	alice := register(t, srv, "alice@example.com")
	status, _ = anon.do(http.MethodPost, "/api/account/register",
		account.CredentialsInput{Email: "alice@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusConflict, status)

	var me account.UserView
	alice.decode(http.MethodGet, "/api/account/me", nil, http.StatusOK, &me)
	assert.Equal(t, "alice@example.com", me.Email)
	_, raw := alice.do(http.MethodGet, "/api/account/me", nil)
	assert.NotContains(t, string(raw), "passwordHash")

	status, _ = anon.do(http.MethodPost, "/api/account/login",
		account.CredentialsInput{Email: "alice@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)

	var login account.SessionResponse
	anon.decode(http.MethodPost, "/api/account/login",
		account.CredentialsInput{Email: "alice@example.com", Password: "secret1"}, http.StatusOK, &login)
	assert.Equal(t, me.ID, login.User.ID)

	alice.decode(http.MethodPost, "/api/account/logout", nil, http.StatusNoContent, nil)
	status, _ = alice.do(http.MethodGet, "/api/account/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAccountRoutes_SessionCookie(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "alice@example.com")

	payload, err := json.Marshal(account.CredentialsInput{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/account/login", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	require.NotNil(t, session, "login should set the session cookie")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/account/me", nil)
	require.NoError(t, err)
	req.AddCookie(session)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostRoutes_Lifecycle(t *testing.T) {
	srv := newTestServer(t)
	anon := &client{t: t, base: srv.URL}
	alice := register(t, srv, "alice@example.com")
	bob := register(t, srv, "bob@example.com")

	status, _ := anon.do(http.MethodPost, "/api/posts", posts.CreatePostRequest{Title: "T", Content: "C"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = alice.do(http.MethodPost, "/api/posts", posts.CreatePostRequest{Title: "  ", Content: "C"})
	assert.Equal(t, http.StatusBadRequest, status)

	var created posts.PostView
	alice.decode(http.MethodPost, "/api/posts",
		posts.CreatePostRequest{Title: "First", Content: "Hello"}, http.StatusCreated, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.CanEdit)
	base := "/api/posts/" + created.ID

	var list post.ListResponse
	anon.decode(http.MethodGet, "/api/posts", nil, http.StatusOK, &list)
	require.Len(t, list.Posts, 1)
	assert.False(t, list.Posts[0].CanEdit)
	bob.decode(http.MethodGet, "/api/posts?author=me", nil, http.StatusOK, &list)
	assert.Empty(t, list.Posts)
	alice.decode(http.MethodGet, "/api/posts?author=me", nil, http.StatusOK, &list)
	assert.Len(t, list.Posts, 1)
	status, _ = anon.do(http.MethodGet, "/api/posts?author=me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var view posts.PostView
	bob.decode(http.MethodPost, base+"/like", nil, http.StatusOK, &view)
	assert.Equal(t, 1, view.Post.Likes.Int())

	status, data := bob.do(http.MethodPost, base+"/ratings", post.RateInput{Value: 6})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidRequest", errorType(t, data))
	bob.decode(http.MethodPost, base+"/ratings", post.RateInput{Value: 3}, http.StatusOK, nil)
	alice.decode(http.MethodPost, base+"/ratings", post.RateInput{Value: 5}, http.StatusOK, &view)
	assert.Equal(t, 4.0, view.RatingAverage)
	assert.Equal(t, 2, view.RatingCount)

	bob.decode(http.MethodPost, base+"/comments", post.CommentInput{Text: "Nice"}, http.StatusOK, &view)
	require.Len(t, view.Post.Comments, 1)
	commentID := view.Post.Comments[0].ID
	alice.decode(http.MethodPost, base+"/comments/"+commentID+"/replies",
		post.CommentInput{Text: "Thanks"}, http.StatusOK, &view)
	require.Len(t, view.Post.Comments[0].Replies, 1)
	assert.Equal(t, 2, view.CommentCount)

	status, data = alice.do(http.MethodPost, base+"/comments/missing/replies", post.CommentInput{Text: "?"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ParentNotFound", errorType(t, data))

	status, _ = bob.do(http.MethodPost, base+"/comments/"+commentID+"/reactions", post.ReactInput{Reaction: "love"})
	assert.Equal(t, http.StatusBadRequest, status)
	replyID := view.Post.Comments[0].Replies[0].ID
	bob.decode(http.MethodPost, base+"/comments/"+replyID+"/reactions",
		post.ReactInput{Reaction: posts.ReactionDislike}, http.StatusOK, &view)
	assert.Equal(t, 1, view.Post.Comments[0].Replies[0].Dislikes.Int())

	status, data = bob.do(http.MethodPatch, base, posts.EditPostRequest{Title: "Mine", Content: "now"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NotAuthorized", errorType(t, data))
	alice.decode(http.MethodPatch, base, posts.EditPostRequest{Title: " Edited ", Content: " body "}, http.StatusOK, &view)
	assert.Equal(t, "Edited", view.Post.Title)
	assert.NotNil(t, view.Post.UpdatedAt)

	anon.decode(http.MethodGet, base, nil, http.StatusOK, &view)
	assert.Equal(t, "Edited", view.Post.Title)
	assert.Equal(t, 1, view.Post.Likes.Int())

	status, _ = bob.do(http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusForbidden, status)
	alice.decode(http.MethodDelete, base, nil, http.StatusNoContent, nil)
	status, data = anon.do(http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PostNotFound", errorType(t, data))
}

func TestPostRoutes_Stream(t *testing.T) {
	srv := newTestServer(t)
	alice := register(t, srv, "alice@example.com")

	var created posts.PostView
	alice.decode(http.MethodPost, "/api/posts",
		posts.CreatePostRequest{Title: "Live", Content: "Body"}, http.StatusCreated, &created)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/posts/" + created.ID + "/stream"
	header := http.Header{"Authorization": []string{"Bearer " + alice.token}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	next := func() post.StreamMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg post.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := next()
	assert.Equal(t, post.FrameSnapshot, first.Type)
	require.NotNil(t, first.Post)
	assert.True(t, first.Post.CanEdit)

	alice.decode(http.MethodPost, "/api/posts/"+created.ID+"/like", nil, http.StatusOK, nil)

	var states []posts.MutationState
	for len(states) < 2 {
		msg := next()
		require.Equal(t, post.FrameUpdate, msg.Type)
		if msg.Mutation != nil {
			states = append(states, msg.Mutation.State)
			assert.Equal(t, 1, msg.Post.Post.Likes.Int())
		}
	}
	assert.Equal(t, []posts.MutationState{posts.MutationPending, posts.MutationCommitted}, states)

	alice.decode(http.MethodDelete, "/api/posts/"+created.ID, nil, http.StatusNoContent, nil)
	for {
		msg := next()
		if msg.Type == post.FrameDeleted {
			break
		}
	}
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestPostRoutes_StreamMissingPost(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/posts/nope/stream")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreferencesRoutes(t *testing.T) {
	srv := newTestServer(t)
	alice := register(t, srv, "alice@example.com")

	var prefs preferences.Preferences
	alice.decode(http.MethodGet, "/api/preferences", nil, http.StatusOK, &prefs)
	assert.Equal(t, preferences.ThemeLight, prefs.Theme)

	alice.decode(http.MethodPut, "/api/preferences",
		map[string]any{"theme": "dark", "collapsed": map[string]bool{"c1": true}}, http.StatusOK, &prefs)
	assert.Equal(t, preferences.ThemeDark, prefs.Theme)
	assert.True(t, prefs.Collapsed["c1"])

	status, _ := alice.do(http.MethodPut, "/api/preferences", map[string]any{"theme": "neon"})
	assert.Equal(t, http.StatusBadRequest, status)

	anon := &client{t: t, base: srv.URL}
	status, _ = anon.do(http.MethodGet, "/api/preferences", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t)
	anon := &client{t: t, base: srv.URL}
	status, _ := anon.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}
