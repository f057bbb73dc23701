package tui

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/feed"
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/opener"
)

// memoryAPI is a small in-memory backend for driving the app.
type memoryAPI struct {
	mu        sync.Mutex
	items     []notification.Notification
	deleteErr error
	deleted   []notification.ID
}

func (m *memoryAPI) List(_ context.Context, _ string, page int) ([]notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page > 1 {
		return nil, nil
	}
	return append([]notification.Notification(nil), m.items...), nil
}

func (m *memoryAPI) UnreadCount(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *memoryAPI) MarkRead(_ context.Context, id notification.ID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].IsRead = true
		}
	}
	return nil
}

func (m *memoryAPI) MarkAllRead(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		m.items[i].IsRead = true
	}
	return nil
}

func (m *memoryAPI) Delete(_ context.Context, id notification.ID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func sampleNotifications() []notification.Notification {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []notification.Notification{
		{
			ID:        "n1",
			Type:      notification.TypeCommentReply,
			CreatedAt: created,
			Actor:     &notification.Actor{Username: "alice"},
			Post:      &notification.PostRef{ID: "p1", Title: "Go generics"},
			Comment:   &notification.CommentRef{ID: "c1", Content: "Nice write-up"},
		},
		{
			ID:        "n2",
			Type:      notification.TypePostLike,
			IsRead:    true,
			CreatedAt: created.Add(-time.Hour),
			Actor:     &notification.Actor{DisplayName: "Bob"},
			Post:      &notification.PostRef{ID: "p2", Title: "Channels"},
		},
		{
			ID:        "n3",
			Type:      notification.TypeNewComment,
			IsRead:    true,
			CreatedAt: created.Add(-2 * time.Hour),
		},
	}
}

// newTestApp returns an app whose controller already holds page 1.
func newTestApp(t *testing.T) (*App, *memoryAPI) {
	t.Helper()
	backend := &memoryAPI{items: sampleNotifications()}
	cfg := config.TestConfig()
	ctrl := feed.NewController(backend, "u1", feed.Options{
		PageSize:       feed.DefaultPageSize,
		PollInterval:   time.Hour,
		ReconcileDelay: time.Hour,
	})
	t.Cleanup(ctrl.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, ctrl.Refresh(ctx))
	app := NewApp(ctx, ctrl, cfg)
	app.resize(100, 40)
	app.applySnapshot(ctrl.Snapshot())
	return app, backend
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drain runs cmd and every command it batches, feeding the results back
// into the app. Spinner ticks are dropped.
func drain(t *testing.T, app *App, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		require.Less(t, steps, 50, "command chain did not settle")
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case nil, spinner.TickMsg:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			_, next := app.Update(msg)
			queue = append(queue, next)
		}
	}
}

func TestViewStateTransitions(t *testing.T) {
	tests := []struct {
		name         string
		initialView  View
		msgs         []tea.Msg
		expectedView View
	}{
		{
			name:         "Feed to Detail on Enter",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{tea.KeyMsg{Type: tea.KeyEnter}},
			expectedView: ViewDetail,
		},
		{
			name:         "Detail back to Feed on Escape",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEsc}},
			expectedView: ViewFeed,
		},
		{
			name:         "Feed to Search on 's'",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{keyRunes("s")},
			expectedView: ViewSearch,
		},
		{
			name:         "Search back to Feed on Escape",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{keyRunes("s"), tea.KeyMsg{Type: tea.KeyEsc}},
			expectedView: ViewFeed,
		},
		{
			name:         "typing q in search does not quit",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{keyRunes("s"), keyRunes("q")},
			expectedView: ViewSearch,
		},
		{
			name:         "Feed to DeleteConfirm on 'x'",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{keyRunes("x")},
			expectedView: ViewDeleteConfirm,
		},
		{
			name:         "DeleteConfirm back to Feed on Escape",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{keyRunes("x"), tea.KeyMsg{Type: tea.KeyEsc}},
			expectedView: ViewFeed,
		},
		{
			name:         "DeleteConfirm from Detail returns to Detail",
			initialView:  ViewFeed,
			msgs:         []tea.Msg{tea.KeyMsg{Type: tea.KeyEnter}, keyRunes("x"), tea.KeyMsg{Type: tea.KeyEsc}},
			expectedView: ViewDetail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t)
			app.view = tt.initialView

			var model tea.Model = app
			for _, msg := range tt.msgs {
				model, _ = model.Update(msg)
			}
			assert.Equal(t, tt.expectedView, model.(*App).view)
		})
	}
}

func TestFeedChangedUpdatesList(t *testing.T) {
	app, _ := newTestApp(t)

	assert.Len(t, app.feedList.Items(), 3)
	assert.Contains(t, app.feedList.Title, "1 unread")

	item, ok := app.feedList.Items()[0].(notificationItem)
	require.True(t, ok)
	assert.Equal(t, "alice replied to your comment", item.summary)
	assert.Equal(t, "Nice write-up", item.preview)
}

func TestSelectionSurvivesSnapshot(t *testing.T) {
	app, _ := newTestApp(t)
	app.feedList.Select(1)

	app.applySnapshot(app.ctrl.Snapshot())

	n := app.selectedNotification()
	require.NotNil(t, n)
	assert.Equal(t, notification.ID("n2"), n.ID)
}

func TestOpenDetailMarksUnreadItem(t *testing.T) {
	app, backend := newTestApp(t)

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, ViewDetail, app.view)
	require.True(t, app.loadingDetail)
	drain(t, app, cmd)

	assert.False(t, app.loadingDetail)
	assert.Contains(t, app.viewport.View(), "Nice write-up")
	assert.Equal(t, MsgMarkedRead, app.status)
	assert.Equal(t, 0, app.ctrl.Snapshot().UnreadCount)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.True(t, backend.items[0].IsRead)
}

func TestDeleteFlow(t *testing.T) {
	app, backend := newTestApp(t)

	_, _ = app.Update(keyRunes("x"))
	require.Equal(t, ViewDeleteConfirm, app.view)
	require.NotNil(t, app.toDelete)

	_, cmd := app.Update(keyRunes("y"))
	assert.Equal(t, MsgDeleting, app.status)
	drain(t, app, cmd)

	assert.Equal(t, ViewFeed, app.view)
	assert.Nil(t, app.toDelete)
	assert.Equal(t, MsgDeleted, app.status)
	assert.Equal(t, []notification.ID{"n1"}, backend.deleted)

	st := app.ctrl.Snapshot()
	assert.Len(t, st.Items, 2)
	assert.Equal(t, 0, st.UnreadCount)
}

func TestDeleteFailureShowsMessage(t *testing.T) {
	app, backend := newTestApp(t)
	backend.deleteErr = errors.New("boom")

	_, _ = app.Update(keyRunes("x"))
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	drain(t, app, cmd)

	assert.Equal(t, ViewFeed, app.view)
	assert.Equal(t, StatusError, app.statusKind)
	assert.Equal(t, "failed to delete notification: boom", app.status)
	assert.Len(t, app.ctrl.Snapshot().Items, 3)
}

func TestMarkAllRead(t *testing.T) {
	app, _ := newTestApp(t)

	_, cmd := app.Update(keyRunes("a"))
	assert.Equal(t, 1, app.pending)
	drain(t, app, cmd)

	assert.Equal(t, 0, app.pending)
	assert.Equal(t, MsgMarkedAllRead, app.status)
	assert.Equal(t, 0, app.ctrl.Snapshot().UnreadCount)
}

func TestLoadMoreAtEndOfFeed(t *testing.T) {
	app, _ := newTestApp(t)
	require.False(t, app.state.HasMore)

	_, cmd := app.Update(keyRunes("n"))
	assert.Nil(t, cmd)
	assert.Equal(t, MsgEndOfFeed, app.status)
}

func TestSearchFlow(t *testing.T) {
	app, _ := newTestApp(t)
	app.searchDebounce = 0
	drain(t, app, app.indexSearch())

	_, _ = app.Update(keyRunes("s"))
	require.True(t, app.searchInput.Focused())

	_, cmd := app.Update(keyRunes("alice"))
	assert.Equal(t, "alice", app.pendingSearchQuery)
	drain(t, app, cmd)

	require.NotEmpty(t, app.searchList.Items())
	result, ok := app.searchList.Items()[0].(searchResultItem)
	require.True(t, ok)
	assert.Equal(t, notification.ID("n1"), result.result.Notification.ID)

	_, _ = app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ViewDetail, app.view)
	assert.True(t, app.cameFromSearch)

	_, _ = app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewSearch, app.view)
	assert.False(t, app.searchInput.Focused())
}

func TestSearchIndexFollowsController(t *testing.T) {
	app, _ := newTestApp(t)
	stale := app.state.Items
	require.Len(t, stale, 3)

	require.NoError(t, app.ctrl.DeleteNotification(context.Background(), "n2"))
	app.ctrl.Stop()

	// Two overlapping runs, both started while the app still shows n2.
	first, second := app.indexSearch(), app.indexSearch()
	var wg sync.WaitGroup
	for _, cmd := range []tea.Cmd{second, first} {
		wg.Add(1)
		go func(cmd tea.Cmd) {
			defer wg.Done()
			cmd()
		}(cmd)
	}
	wg.Wait()

	results, err := app.searcher.Search("Bob", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = app.searcher.Search("alice", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestStaleSearchResultsDropped(t *testing.T) {
	app, _ := newTestApp(t)
	_, _ = app.Update(keyRunes("s"))
	app.searchSeq = 5

	_, _ = app.Update(searchResultsMsg{seq: 4})
	assert.Empty(t, app.searchList.Items())
	assert.Empty(t, app.status)
}

func TestOpenLink(t *testing.T) {
	app, _ := newTestApp(t)

	var started []string
	app.opener = opener.New(config.OpenerConfig{Default: "xdg-open"},
		opener.WithGOOS("linux"),
		opener.WithStarter(func(cmd *exec.Cmd) error {
			started = append(started, cmd.Args[len(cmd.Args)-1])
			return nil
		}),
	)

	_, cmd := app.Update(keyRunes("o"))
	assert.Equal(t, MsgOpeningBrowser, app.status)
	drain(t, app, cmd)
	assert.Equal(t, []string{"http://127.0.0.1:3000/posts/p1#comment-c1"}, started)

	app.feedList.Select(2)
	_, cmd = app.Update(keyRunes("o"))
	assert.Nil(t, cmd)
	assert.Equal(t, MsgNoLinkToOpen, app.status)
	assert.Equal(t, StatusWarn, app.statusKind)
}

func TestBackgroundErrorShown(t *testing.T) {
	app, _ := newTestApp(t)
	errs := make(chan error, 1)
	app.WithErrors(errs)

	failure := &feed.Failure{Op: "poll", Message: "failed to fetch unread count: network error"}
	_, cmd := app.Update(backgroundErrMsg{err: failure})
	require.NotNil(t, cmd)
	assert.Equal(t, failure.Message, app.status)
	assert.Equal(t, StatusError, app.statusKind)

	errs <- errors.New("second")
	msg := cmd()
	assert.Equal(t, backgroundErrMsg{err: errors.New("second")}, msg)
}

func TestViewRendersEveryScreen(t *testing.T) {
	app, _ := newTestApp(t)

	assert.Contains(t, app.View(), "alice replied to your comment")

	_, _ = app.Update(keyRunes("x"))
	assert.Contains(t, app.View(), "Delete Notification")

	_, _ = app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	_, _ = app.Update(keyRunes("s"))
	assert.Contains(t, app.View(), "› search")
}

func TestEmptyFeedShowsWelcome(t *testing.T) {
	app, _ := newTestApp(t)
	app.applySnapshot(feed.State{Page: 1})

	assert.Contains(t, app.View(), "No notifications yet")
}
