package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pders01/notifeed/internal/api"
	"github.com/pders01/notifeed/internal/fakeapi"
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/session"
)

const testUser = "u1"

// stubAPI answers from an in-memory feed. Responses are computed before the
// hooks run, so a blocked call returns the data it saw when it arrived.
type stubAPI struct {
	mu       sync.Mutex
	pageSize int
	items    []notification.Notification
	count    int

	listHook  func(call, page int)
	countHook func(call int)

	listErr    error
	countErr   error
	markErr    error
	markAllErr error
	deleteErr  error

	listCalls  int
	countCalls int
	markCalls  int
}

func newStub(items []notification.Notification, count int) *stubAPI {
	return &stubAPI{pageSize: DefaultPageSize, items: items, count: count}
}

func (s *stubAPI) List(_ context.Context, _ string, page int) ([]notification.Notification, error) {
	s.mu.Lock()
	s.listCalls++
	call, hook, err := s.listCalls, s.listHook, s.listErr
	start := (page - 1) * s.pageSize
	end := start + s.pageSize
	if start > len(s.items) {
		start = len(s.items)
	}
	if end > len(s.items) {
		end = len(s.items)
	}
	out := append([]notification.Notification(nil), s.items[start:end]...)
	s.mu.Unlock()

	if hook != nil {
		hook(call, page)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *stubAPI) UnreadCount(context.Context, string) (int, error) {
	s.mu.Lock()
	s.countCalls++
	call, hook, count, err := s.countCalls, s.countHook, s.count, s.countErr
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return count, err
}

func (s *stubAPI) MarkRead(context.Context, notification.ID, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	return s.markErr
}

func (s *stubAPI) MarkAllRead(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markAllErr
}

func (s *stubAPI) Delete(context.Context, notification.ID, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteErr
}

func (s *stubAPI) set(fn func(s *stubAPI)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stubAPI) calls() (list, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.countCalls
}

func makeItems(from, n int, read bool) []notification.Notification {
	out := make([]notification.Notification, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, notification.Notification{
			ID:     notification.ID(strconv.Itoa(i)),
			Type:   notification.TypePostLike,
			IsRead: read,
		})
	}
	return out
}

func ids(items []notification.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, string(n.ID))
	}
	return out
}

func testOptions() Options {
	return Options{
		PageSize:       DefaultPageSize,
		PollInterval:   10 * time.Millisecond,
		ReconcileDelay: time.Hour,
	}
}

func newTestController(t *testing.T, stub *stubAPI, opts Options) *Controller {
	t.Helper()
	c := NewController(stub, testUser, opts)
	t.Cleanup(c.Stop)
	return c
}

func TestController_InitialState(t *testing.T) {
	c := newTestController(t, newStub(nil, 0), testOptions())

	s := c.Snapshot()
	assert.Empty(t, s.Items)
	assert.Equal(t, 1, s.Page)
	assert.True(t, s.HasMore)
	assert.False(t, s.Loading)
	assert.Equal(t, testUser, c.UserID())
}

func TestController_RefreshLoadsFirstPage(t *testing.T) {
	stub := newStub(makeItems(1, 25, false), 25)
	c := newTestController(t, stub, testOptions())

	require.NoError(t, c.Refresh(context.Background()))

	s := c.Snapshot()
	assert.Len(t, s.Items, 20)
	assert.Equal(t, 25, s.UnreadCount)
	assert.Equal(t, 1, s.Page)
	assert.True(t, s.HasMore)
	assert.False(t, s.Loading)
}

func TestController_LoadMoreShortPageEndsFeed(t *testing.T) {
	stub := newStub(makeItems(1, 35, false), 35)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	require.Len(t, c.Snapshot().Items, 20)

	require.NoError(t, c.LoadMore(ctx))
	s := c.Snapshot()
	assert.Len(t, s.Items, 35)
	assert.Equal(t, 2, s.Page)
	assert.False(t, s.HasMore)

	listCalls, _ := stub.calls()
	require.NoError(t, c.LoadMore(ctx))
	after, _ := stub.calls()
	assert.Equal(t, listCalls, after, "no fetch once the last page was seen")
	assert.Len(t, c.Snapshot().Items, 35)

	stub.set(func(s *stubAPI) { s.items = makeItems(1, 40, false) })
	require.NoError(t, c.Refresh(ctx))
	s = c.Snapshot()
	assert.True(t, s.HasMore, "refresh re-arms pagination")
	assert.Equal(t, 1, s.Page)
	assert.Len(t, s.Items, 20)
}

func TestController_HasMoreFalseOnShortFirstPage(t *testing.T) {
	c := newTestController(t, newStub(makeItems(1, 19, false), 19), testOptions())

	require.NoError(t, c.Refresh(context.Background()))
	assert.False(t, c.Snapshot().HasMore)
}

func TestController_RefreshReplacesItems(t *testing.T) {
	stub := newStub(makeItems(1, 30, false), 30)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.LoadMore(ctx))
	require.Len(t, c.Snapshot().Items, 30)

	stub.set(func(s *stubAPI) { s.items = makeItems(100, 3, false) })
	require.NoError(t, c.Refresh(ctx))

	s := c.Snapshot()
	if diff := cmp.Diff([]string{"100", "101", "102"}, ids(s.Items)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, s.Page)
}

func TestController_LoadMoreSkipsDuplicateIDs(t *testing.T) {
	stub := newStub(makeItems(1, 20, false), 20)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	// Two new items arrived at the top, shifting the second page.
	shifted := append(makeItems(900, 2, false), makeItems(1, 25, false)...)
	stub.set(func(s *stubAPI) { s.items = shifted })

	require.NoError(t, c.LoadMore(ctx))
	s := c.Snapshot()
	assert.Len(t, s.Items, 25)

	seen := map[notification.ID]bool{}
	for _, n := range s.Items {
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
	assert.Equal(t, notification.ID("25"), s.Items[len(s.Items)-1].ID)
}

func TestController_LoadMoreWhileLoadingIsNoop(t *testing.T) {
	stub := newStub(makeItems(1, 60, false), 60)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	stub.set(func(s *stubAPI) {
		s.listHook = func(call, page int) {
			if page == 2 {
				close(entered)
				<-release
			}
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(ctx) }()
	<-entered

	before := c.Snapshot()
	assert.True(t, before.Loading)
	listCalls, _ := stub.calls()

	require.NoError(t, c.LoadMore(ctx))

	after := c.Snapshot()
	calls, _ := stub.calls()
	assert.Equal(t, listCalls, calls)
	assert.Equal(t, before.Page, after.Page)
	assert.Equal(t, ids(before.Items), ids(after.Items))

	close(release)
	require.NoError(t, <-done)
	s := c.Snapshot()
	assert.False(t, s.Loading)
	assert.Equal(t, 2, s.Page)
	assert.Len(t, s.Items, 40)
}

func TestController_StaleRefreshDiscarded(t *testing.T) {
	stub := newStub(makeItems(1, 5, false), 5)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	stub.set(func(s *stubAPI) {
		s.listHook = func(call, page int) {
			if call == 1 {
				close(entered)
				<-release
			}
		}
	})

	slow := make(chan error, 1)
	go func() { slow <- c.Refresh(ctx) }()
	<-entered

	stub.set(func(s *stubAPI) { s.items = makeItems(50, 2, false) })
	require.NoError(t, c.Refresh(ctx))
	require.Equal(t, []string{"50", "51"}, ids(c.Snapshot().Items))

	close(release)
	require.NoError(t, <-slow)

	s := c.Snapshot()
	if diff := cmp.Diff([]string{"50", "51"}, ids(s.Items)); diff != "" {
		t.Errorf("stale refresh overwrote state (-want +got):\n%s", diff)
	}
	assert.False(t, s.Loading)
}

func TestController_RefreshSupersedesLoadMore(t *testing.T) {
	stub := newStub(makeItems(1, 45, false), 45)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	stub.set(func(s *stubAPI) {
		s.listHook = func(call, page int) {
			if page == 2 {
				close(entered)
				<-release
			}
		}
	})

	pending := make(chan error, 1)
	go func() { pending <- c.LoadMore(ctx) }()
	<-entered

	require.NoError(t, c.Refresh(ctx))
	close(release)
	require.NoError(t, <-pending)

	s := c.Snapshot()
	assert.Equal(t, 1, s.Page)
	assert.Len(t, s.Items, 20)
	assert.False(t, s.Loading)
}

func TestController_MarkAsReadScenario(t *testing.T) {
	items := makeItems(40, 5, false)
	stub := newStub(items, 5)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	require.Equal(t, 5, c.Snapshot().UnreadCount)

	require.NoError(t, c.MarkAsRead(ctx, "42"))

	s := c.Snapshot()
	assert.Equal(t, 4, s.UnreadCount)
	for _, n := range s.Items {
		assert.Equal(t, n.ID == "42", n.IsRead, "item %s", n.ID)
	}
}

func TestController_MarkAsReadIdempotent(t *testing.T) {
	stub := newStub(makeItems(1, 3, false), 3)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, c.MarkAsRead(ctx, "2"))
	}
	assert.Equal(t, 2, c.Snapshot().UnreadCount)

	require.NoError(t, c.MarkAsRead(ctx, "missing"))
	assert.Equal(t, 2, c.Snapshot().UnreadCount, "unknown ids leave the counter alone")
	assert.Equal(t, 4, stub.markCalls, "remote call is made even for unknown ids")
}

func TestController_MarkAsReadFailureLeavesState(t *testing.T) {
	stub := newStub(makeItems(1, 2, false), 2)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	before := c.Snapshot()

	stub.set(func(s *stubAPI) {
		s.markErr = &api.Error{Op: "mark_read", Kind: api.KindServer, Status: 404, Message: "Notification not found"}
	})
	err := c.MarkAsRead(ctx, "1")
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "mark_read", failure.Op)
	assert.Equal(t, "failed to mark notification as read: Notification not found", failure.Message)
	assert.True(t, api.IsNotFound(err))

	if diff := cmp.Diff(before, c.Snapshot()); diff != "" {
		t.Errorf("state changed after failure (-before +after):\n%s", diff)
	}
}

func TestController_MarkAllAsRead(t *testing.T) {
	items := append(makeItems(1, 3, false), makeItems(10, 2, true)...)
	stub := newStub(items, 3)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	require.NoError(t, c.MarkAllAsRead(ctx))

	s := c.Snapshot()
	assert.Equal(t, 0, s.UnreadCount)
	assert.Zero(t, s.Unread())
	assert.Len(t, s.Items, 5)
}

func TestController_MarkAllAsReadFailureIsAllOrNothing(t *testing.T) {
	stub := newStub(makeItems(1, 3, false), 3)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	stub.set(func(s *stubAPI) {
		s.markAllErr = &api.Error{Op: "mark_all_read", Kind: api.KindNetwork, Err: errors.New("connection refused")}
	})
	err := c.MarkAllAsRead(ctx)
	require.Error(t, err)
	assert.Equal(t, "failed to mark all notifications as read: network error", err.Error())

	s := c.Snapshot()
	assert.Equal(t, 3, s.UnreadCount)
	assert.Equal(t, 3, s.Unread())
}

func TestController_Delete(t *testing.T) {
	items := append(makeItems(1, 2, false), makeItems(3, 2, true)...)

	tests := []struct {
		name      string
		id        notification.ID
		wantIDs   []string
		wantCount int
	}{
		{"unread item", "1", []string{"2", "3", "4"}, 1},
		{"read item", "3", []string{"1", "2", "4"}, 2},
		{"missing item", "99", []string{"1", "2", "3", "4"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub(append([]notification.Notification(nil), items...), 2)
			c := newTestController(t, stub, testOptions())
			ctx := context.Background()
			require.NoError(t, c.Refresh(ctx))

			require.NoError(t, c.DeleteNotification(ctx, tt.id))

			s := c.Snapshot()
			if diff := cmp.Diff(tt.wantIDs, ids(s.Items)); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantCount, s.UnreadCount)
		})
	}
}

func TestController_DeleteFailure(t *testing.T) {
	stub := newStub(makeItems(1, 2, false), 2)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	stub.set(func(s *stubAPI) {
		s.deleteErr = &api.Error{Op: "delete", Kind: api.KindServer, Status: 500, Message: "HTTP 500: Internal Server Error"}
	})
	err := c.DeleteNotification(ctx, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete notification: HTTP 500")
	assert.Len(t, c.Snapshot().Items, 2)
}

func TestController_UnreadCountNeverNegative(t *testing.T) {
	// The server says 0 while the loaded items are still unread.
	stub := newStub(makeItems(1, 3, false), 0)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	require.NoError(t, c.MarkAsRead(ctx, "1"))
	require.NoError(t, c.DeleteNotification(ctx, "2"))
	require.NoError(t, c.DeleteNotification(ctx, "3"))
	assert.Equal(t, 0, c.Snapshot().UnreadCount)

	stub.set(func(s *stubAPI) { s.count = -4 })
	require.NoError(t, c.PollUnreadCount(ctx))
	assert.Equal(t, 0, c.Snapshot().UnreadCount)
}

func TestController_RefreshFailureLeavesState(t *testing.T) {
	stub := newStub(makeItems(1, 4, false), 4)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	before := c.Snapshot()

	stub.set(func(s *stubAPI) {
		s.items = makeItems(70, 1, false)
		s.count = 9
		s.listErr = &api.Error{Op: "list", Kind: api.KindNetwork, Err: errors.New("timeout")}
	})
	err := c.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, "failed to load notifications: network error", err.Error())

	s := c.Snapshot()
	assert.Equal(t, ids(before.Items), ids(s.Items))
	assert.False(t, s.Loading)
	assert.Equal(t, 9, s.UnreadCount, "counter is fetched independently")
}

func TestController_StaleCountDiscardedAfterLocalChange(t *testing.T) {
	stub := newStub(makeItems(1, 3, false), 3)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	stub.set(func(s *stubAPI) {
		s.countHook = func(call int) {
			if call == 2 {
				close(entered)
				<-release
			}
		}
	})

	polled := make(chan error, 1)
	go func() { polled <- c.PollUnreadCount(ctx) }()
	<-entered

	require.NoError(t, c.MarkAsRead(ctx, "1"))
	require.Equal(t, 2, c.Snapshot().UnreadCount)

	close(release)
	require.NoError(t, <-polled)
	assert.Equal(t, 2, c.Snapshot().UnreadCount, "count read before the local change is dropped")
}

func TestController_ReconcileAfterMutation(t *testing.T) {
	stub := newStub(makeItems(1, 3, false), 3)
	opts := testOptions()
	opts.ReconcileDelay = 10 * time.Millisecond
	c := newTestController(t, stub, opts)
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	// A new notification lands on the server meanwhile.
	stub.set(func(s *stubAPI) {
		s.items = append(makeItems(9, 1, false), s.items...)
		s.count = 3
	})
	require.NoError(t, c.MarkAsRead(ctx, "1"))

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return len(s.Items) == 4 && s.UnreadCount == 3
	}, time.Second, 5*time.Millisecond)
}

func TestController_StopCancelsPendingReconcile(t *testing.T) {
	stub := newStub(makeItems(1, 3, false), 3)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	require.NoError(t, c.MarkAsRead(ctx, "1"))
	listCalls, _ := stub.calls()

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	after, _ := stub.calls()
	assert.Equal(t, listCalls, after)
}

func TestController_PollingGuardAndStop(t *testing.T) {
	stub := newStub(nil, 1)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()

	require.True(t, c.StartPolling(ctx))
	assert.False(t, c.StartPolling(ctx), "second poll loop must be refused")

	stub.set(func(s *stubAPI) { s.count = 7 })
	require.Eventually(t, func() bool {
		return c.Snapshot().UnreadCount == 7
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	_, polls := stub.calls()
	time.Sleep(50 * time.Millisecond)
	_, after := stub.calls()
	assert.Equal(t, polls, after, "no polls after Stop")

	assert.True(t, c.StartPolling(ctx), "polling can start again after Stop")
}

// collectErrors returns options whose OnError feeds a buffered channel.
func collectErrors(opts Options) (Options, chan error) {
	errs := make(chan error, 64)
	opts.OnError = func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	return opts, errs
}

func TestController_PollErrorsReported(t *testing.T) {
	stub := newStub(nil, 0)
	stub.countErr = &api.Error{Op: "unread_count", Kind: api.KindServer, Status: 502, Message: "Bad Gateway"}

	opts, errs := collectErrors(testOptions())
	c := newTestController(t, stub, opts)
	require.True(t, c.StartPolling(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.Equal(t, "failed to fetch unread count: Bad Gateway", err.Error())
		case <-time.After(time.Second):
			t.Fatal("poll error not reported")
		}
	}
	assert.False(t, c.StartPolling(context.Background()), "transient errors keep the loop running")
}

func TestController_PollStopsWhenSessionEnds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "rejected by backend",
			err:  &api.Error{Op: "unread_count", Kind: api.KindServer, Status: 401, Message: "Authentication required"},
			want: "failed to fetch unread count: Authentication required",
		},
		{
			name: "expired locally",
			err:  &api.Error{Op: "unread_count", Kind: api.KindNetwork, Err: fmt.Errorf("GET /x: %w", session.ErrSessionExpired)},
			want: "failed to fetch unread count: " + session.ErrSessionExpired.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub(nil, 0)
			stub.countErr = tt.err

			opts, errs := collectErrors(testOptions())
			c := newTestController(t, stub, opts)
			require.True(t, c.StartPolling(context.Background()))

			select {
			case err := <-errs:
				assert.Equal(t, tt.want, err.Error())
			case <-time.After(time.Second):
				t.Fatal("poll error not reported")
			}

			require.Eventually(t, func() bool {
				c.mu.Lock()
				defer c.mu.Unlock()
				return c.pollCancel == nil
			}, time.Second, 5*time.Millisecond, "loop should release itself")

			_, polls := stub.calls()
			time.Sleep(50 * time.Millisecond)
			_, after := stub.calls()
			assert.Equal(t, polls, after)
			assert.Empty(t, errs, "the failure is reported once")
			assert.True(t, c.StartPolling(context.Background()), "polling can restart after a new sign-in")
		})
	}
}

func TestController_ExpiredSessionNeverReachesBackend(t *testing.T) {
	var hits atomic.Int32
	backend := fakeapi.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		backend.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testUser,
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	sess := session.Session{Token: token}

	client, err := api.NewClient(srv.URL, sess.TokenSource())
	require.NoError(t, err)

	opts, errs := collectErrors(testOptions())
	c := NewController(client, testUser, opts)
	t.Cleanup(c.Stop)
	require.True(t, c.StartPolling(context.Background()))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	case <-time.After(time.Second):
		t.Fatal("expiry not reported")
	}
	assert.Zero(t, hits.Load())
}

func TestController_ConcurrentStopAndReset(t *testing.T) {
	stub := newStub(makeItems(1, 25, false), 25)
	opts := testOptions()
	opts.ReconcileDelay = time.Millisecond
	c := newTestController(t, stub, opts)
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				switch (w + i) % 5 {
				case 0:
					c.Stop()
				case 1:
					c.Reset()
				case 2:
					c.StartPolling(ctx)
				case 3:
					_ = c.MarkAsRead(ctx, notification.ID(strconv.Itoa(i+1)))
				default:
					_ = c.DeleteNotification(ctx, notification.ID(strconv.Itoa(i+1)))
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent teardown did not finish")
	}

	c.Stop()
	assert.GreaterOrEqual(t, c.Snapshot().UnreadCount, 0)
}

func TestController_ResetClearsState(t *testing.T) {
	stub := newStub(makeItems(1, 25, false), 25)
	c := newTestController(t, stub, testOptions())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.LoadMore(ctx))
	require.True(t, c.StartPolling(ctx))

	c.Reset()

	if diff := cmp.Diff(State{Page: 1, HasMore: true}, c.Snapshot()); diff != "" {
		t.Errorf("state after reset (-want +got):\n%s", diff)
	}
	assert.True(t, c.StartPolling(ctx))
}

func TestController_ChangesSignalled(t *testing.T) {
	stub := newStub(makeItems(1, 2, false), 2)
	c := newTestController(t, stub, testOptions())

	require.NoError(t, c.Refresh(context.Background()))

	select {
	case <-c.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-c.Changes():
		t.Fatal("signals should be coalesced")
	default:
	}
}

func TestController_SnapshotIsCopy(t *testing.T) {
	c := newTestController(t, newStub(makeItems(1, 2, false), 2), testOptions())
	require.NoError(t, c.Refresh(context.Background()))

	s := c.Snapshot()
	s.Items[0].IsRead = true
	assert.False(t, c.Snapshot().Items[0].IsRead)
}

func TestController_AgainstFakeBackend(t *testing.T) {
	backend := fakeapi.New(fakeapi.WithToken("secret"))
	backend.Seed(testUser, fakeapi.Generate(35, time.Now())...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret"}))
	require.NoError(t, err)

	opts := testOptions()
	c := NewController(client, testUser, opts)
	t.Cleanup(c.Stop)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	s := c.Snapshot()
	assert.Len(t, s.Items, 20)
	assert.Equal(t, 35, s.UnreadCount)

	require.NoError(t, c.LoadMore(ctx))
	s = c.Snapshot()
	assert.Len(t, s.Items, 35)
	assert.False(t, s.HasMore)

	first := s.Items[0].ID
	require.NoError(t, c.MarkAsRead(ctx, first))
	assert.Equal(t, 34, c.Snapshot().UnreadCount)
	assert.Equal(t, 34, backend.UnreadCount(testUser))

	require.NoError(t, c.DeleteNotification(ctx, first))
	assert.Equal(t, 34, c.Snapshot().UnreadCount)
	assert.Len(t, backend.Notifications(testUser), 34)

	err = c.DeleteNotification(ctx, first)
	require.Error(t, err)
	assert.Equal(t, "failed to delete notification: Notification not found", err.Error())

	backend.FailNext(fakeapi.RouteMarkAllRead, http.StatusBadGateway, "")
	err = c.MarkAllAsRead(ctx)
	require.Error(t, err)
	assert.Equal(t, "failed to mark all notifications as read: HTTP 502: Bad Gateway", err.Error())

	require.NoError(t, c.MarkAllAsRead(ctx))
	assert.Equal(t, 0, c.Snapshot().UnreadCount)
	assert.Equal(t, 0, backend.UnreadCount(testUser))
}
