package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/notifeed/internal/notification"
)

func do(t *testing.T, srv *httptest.Server, method, path, token string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestServer_RequiresToken(t *testing.T) {
	s := New(WithToken("secret"))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/notifications/user/1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body["message"]), "Authentication required")

	resp, _ = do(t, srv, http.MethodGet, "/notifications/user/1", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListPaginates(t *testing.T) {
	s := New()
	s.Seed("1", Generate(25, time.Now())...)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, body := do(t, srv, http.MethodGet, "/notifications/user/1?page=2&limit=20", "")
	var page []notification.Notification
	require.NoError(t, json.Unmarshal(body["notifications"], &page))
	assert.Len(t, page, 5)

	_, body = do(t, srv, http.MethodGet, "/notifications/user/1?page=3&limit=20", "")
	require.NoError(t, json.Unmarshal(body["notifications"], &page))
	assert.Empty(t, page)
	assert.Equal(t, 2, s.Calls(RouteList))
}

func TestServer_ReadAndDelete(t *testing.T) {
	s := New()
	s.Seed("1", Generate(3, time.Now())...)
	ids := s.Notifications("1")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPatch, "/notifications/"+ids[0].ID.String()+"/read/1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, s.UnreadCount("1"))

	_, body := do(t, srv, http.MethodGet, "/notifications/user/1/unread-count", "")
	assert.Equal(t, "2", string(body["unreadCount"]))

	resp, _ = do(t, srv, http.MethodDelete, "/notifications/"+ids[1].ID.String()+"/user/1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, s.Notifications("1"), 2)

	resp, body = do(t, srv, http.MethodDelete, "/notifications/"+ids[1].ID.String()+"/user/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body["message"]), "not found")

	resp, _ = do(t, srv, http.MethodPatch, "/notifications/user/1/read-all", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, s.UnreadCount("1"))
}

func TestServer_FailNext(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	s.FailNext(RouteUnreadCount, http.StatusServiceUnavailable, "maintenance")
	resp, body := do(t, srv, http.MethodGet, "/notifications/user/1/unread-count", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body["message"]), "maintenance")

	resp, _ = do(t, srv, http.MethodGet, "/notifications/user/1/unread-count", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AddPrepends(t *testing.T) {
	s := New()
	s.Seed("1", Generate(2, time.Now().Add(-time.Hour))...)
	added := s.Add("1", notification.Notification{Type: notification.TypePostLike})

	ns := s.Notifications("1")
	require.Len(t, ns, 3)
	assert.Equal(t, added.ID, ns[0].ID)
	assert.False(t, added.CreatedAt.IsZero())
}

func TestParseFixtures(t *testing.T) {
	data := `
token = "dev-token"

[[users]]
id = "1"
generate = 2

  [[users.notifications]]
  id = "n-1"
  type = "COMMENT_REPLY"
  actor = "alice"
  post_id = "12"
  post_title = "Go generics"
  comment_id = "99"
  comment = "Nice!"
  age = "5m"
`
	f, err := ParseFixtures([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "dev-token", f.Token)
	require.Len(t, f.Users, 1)

	s := New()
	f.Apply(s)
	ns := s.Notifications("1")
	require.Len(t, ns, 3)
	assert.Equal(t, notification.ID("n-1"), ns[0].ID)
	assert.Equal(t, "alice", ns[0].Actor.Username)
	assert.Equal(t, "Nice!", ns[0].Comment.Content)
}

func TestParseFixtures_Errors(t *testing.T) {
	_, err := ParseFixtures([]byte(`[[users]]`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no id"))

	_, err = ParseFixtures([]byte("[[users]]\nid = \"1\"\n[[users.notifications]]\nage = \"soon\"\n"))
	require.Error(t, err)

	_, err = ParseFixtures([]byte(`not toml =`))
	require.Error(t, err)
}

func TestDevFixtures(t *testing.T) {
	f, err := DevFixtures()
	require.NoError(t, err)
	assert.Equal(t, "dev-token", f.Token)

	s := New()
	f.Apply(s)
	ns := s.Notifications("1")
	require.Len(t, ns, 48)
	assert.Equal(t, notification.ID("welcome"), ns[0].ID)
	assert.False(t, ns[2].Type.Known())
	assert.Equal(t, 47, s.UnreadCount("1"))
	assert.Len(t, s.Notifications("2"), 3)
}
