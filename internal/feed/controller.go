// Package feed keeps a local mirror of the signed-in user's notification
// feed: the loaded pages, the server's unread counter, and the background
// poll that keeps the counter fresh.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/notifeed/internal/api"
	"github.com/pders01/notifeed/internal/debuglog"
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/session"
)

const (
	DefaultPageSize       = 20
	DefaultPollInterval   = 30 * time.Second
	DefaultReconcileDelay = time.Second
)

// API is the subset of the notification backend the controller talks to.
// *api.Client satisfies it.
type API interface {
	List(ctx context.Context, userID string, page int) ([]notification.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id notification.ID, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, id notification.ID, userID string) error
}

// State is a point-in-time copy of the feed.
type State struct {
	Items       []notification.Notification
	UnreadCount int
	Page        int
	HasMore     bool
	Loading     bool
}

// Unread counts the loaded items that are not read yet. It can differ from
// UnreadCount, which mirrors the server.
func (s State) Unread() int {
	n := 0
	for _, item := range s.Items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

type Options struct {
	// PageSize must match the limit the API sends.
	PageSize       int
	PollInterval   time.Duration
	ReconcileDelay time.Duration
	// OnError receives failures from work the caller did not start
	// directly: polls and reconciling refreshes.
	OnError func(error)
}

func DefaultOptions() Options {
	return Options{
		PageSize:       DefaultPageSize,
		PollInterval:   DefaultPollInterval,
		ReconcileDelay: DefaultReconcileDelay,
	}
}

type Controller struct {
	api    API
	userID string
	opts   Options
	log    *debuglog.FieldLogger

	mu    sync.Mutex
	state State
	// generation tags list fetches; Refresh and Reset bump it so older
	// responses are dropped.
	generation uint64
	// countSeq tags counter fetches and local counter changes.
	countSeq uint64

	changes chan struct{}

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	// stopMu serializes Stop so one teardown cannot reopen background
	// work while another is still waiting for it.
	stopMu sync.Mutex

	bgCtx     context.Context
	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
	reconcile *time.Timer
	stopping  bool
}

func NewController(api API, userID string, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ReconcileDelay < 0 {
		opts.ReconcileDelay = defaults.ReconcileDelay
	}

	c := &Controller{
		api:     api,
		userID:  userID,
		opts:    opts,
		log:     debuglog.WithFields(map[string]interface{}{"component": "feed", "user": userID}),
		state:   State{Page: 1, HasMore: true},
		changes: make(chan struct{}, 1),
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) UserID() string { return c.userID }

// Snapshot returns a copy of the current state that the caller may keep.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Items = append([]notification.Notification(nil), c.state.Items...)
	return s
}

// Changes delivers a signal after every state change. Signals are
// coalesced: a slow reader sees one pending signal, not one per change.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Refresh reloads page 1, replacing the loaded items, and refetches the
// unread counter. It supersedes a load-more in flight. On failure the
// affected part of the state is left as it was.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.countSeq++
	seq := c.countSeq
	c.state.Loading = true
	c.mu.Unlock()
	c.notify()

	var (
		items             []notification.Notification
		count             int
		listErr, countErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		items, listErr = c.api.List(ctx, c.userID, 1)
		return listErr
	})
	g.Go(func() error {
		count, countErr = c.api.UnreadCount(ctx, c.userID)
		return countErr
	})
	err := g.Wait()

	c.mu.Lock()
	if gen == c.generation {
		c.state.Loading = false
		if listErr == nil {
			c.state.Items = appendUnique(nil, items)
			c.state.Page = 1
			c.state.HasMore = len(items) >= c.opts.PageSize
		}
	} else {
		c.log.Debugf("discarding refresh response (generation %d, current %d)", gen, c.generation)
	}
	if countErr == nil && seq == c.countSeq {
		c.state.UnreadCount = max(count, 0)
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.log.Warnf("refresh failed: %v", err)
		return newFailure("refresh", "load notifications", err)
	}
	return nil
}

// LoadMore fetches the page after the last loaded one and appends it.
// It does nothing while a fetch is in flight or once the last page was
// seen.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Loading || !c.state.HasMore {
		c.mu.Unlock()
		return nil
	}
	c.state.Loading = true
	gen := c.generation
	next := c.state.Page + 1
	c.mu.Unlock()
	c.notify()

	items, err := c.api.List(ctx, c.userID, next)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debugf("discarding page %d (generation %d, current %d)", next, gen, c.generation)
		return nil
	}
	c.state.Loading = false
	if err == nil {
		c.state.Items = appendUnique(c.state.Items, items)
		c.state.Page = next
		c.state.HasMore = len(items) >= c.opts.PageSize
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.log.Warnf("loading page %d failed: %v", next, err)
		return newFailure("load_more", "load more notifications", err)
	}
	return nil
}

// MarkAsRead marks id read on the server, then locally. The counter drops
// by one only when the item is loaded and was unread.
func (c *Controller) MarkAsRead(ctx context.Context, id notification.ID) error {
	if err := c.api.MarkRead(ctx, id, c.userID); err != nil {
		c.log.Warnf("mark read %s failed: %v", id, err)
		return newFailure("mark_read", "mark notification as read", err)
	}

	c.mu.Lock()
	for i := range c.state.Items {
		item := &c.state.Items[i]
		if item.ID != id {
			continue
		}
		if !item.IsRead {
			item.IsRead = true
			c.decrementLocked()
		}
		break
	}
	c.mu.Unlock()
	c.notify()

	c.scheduleReconcile()
	return nil
}

// MarkAllAsRead marks every notification read. Local state changes only
// after the server accepted the request.
func (c *Controller) MarkAllAsRead(ctx context.Context) error {
	if err := c.api.MarkAllRead(ctx, c.userID); err != nil {
		c.log.Warnf("mark all read failed: %v", err)
		return newFailure("mark_all_read", "mark all notifications as read", err)
	}

	c.mu.Lock()
	for i := range c.state.Items {
		c.state.Items[i].IsRead = true
	}
	c.state.UnreadCount = 0
	c.countSeq++
	c.mu.Unlock()
	c.notify()

	c.scheduleReconcile()
	return nil
}

// DeleteNotification deletes id on the server and removes the first
// matching loaded item.
func (c *Controller) DeleteNotification(ctx context.Context, id notification.ID) error {
	if err := c.api.Delete(ctx, id, c.userID); err != nil {
		c.log.Warnf("delete %s failed: %v", id, err)
		return newFailure("delete", "delete notification", err)
	}

	c.mu.Lock()
	for i, item := range c.state.Items {
		if item.ID != id {
			continue
		}
		c.state.Items = append(c.state.Items[:i:i], c.state.Items[i+1:]...)
		if !item.IsRead {
			c.decrementLocked()
		}
		break
	}
	c.mu.Unlock()
	c.notify()

	c.scheduleReconcile()
	return nil
}

// PollUnreadCount fetches only the unread counter.
func (c *Controller) PollUnreadCount(ctx context.Context) error {
	c.mu.Lock()
	c.countSeq++
	seq := c.countSeq
	c.mu.Unlock()

	count, err := c.api.UnreadCount(ctx, c.userID)
	if err != nil {
		c.log.Debugf("unread count failed: %v", err)
		return newFailure("unread_count", "fetch unread count", err)
	}

	c.mu.Lock()
	applied := seq == c.countSeq
	if applied {
		c.state.UnreadCount = max(count, 0)
	}
	c.mu.Unlock()
	if applied {
		c.notify()
	}
	return nil
}

// StartPolling polls the unread counter every PollInterval until ctx ends
// or Stop is called. The loop also ends, after reporting once, when the
// session expires or the backend rejects the credential. It returns false
// if a poll loop is already running for this controller.
func (c *Controller) StartPolling(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done

	go c.poll(ctx, done)
	c.log.Debugf("polling every %s", c.opts.PollInterval)
	return true
}

func (c *Controller) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.PollUnreadCount(ctx)
			if err == nil || ctx.Err() != nil {
				continue
			}
			c.report(err)
			if SessionEnded(err) {
				c.log.Warnf("polling stopped: %v", err)
				c.releasePoll(done)
				return
			}
		}
	}
}

// releasePoll clears the poll handles if they still belong to the loop
// that owns done, so StartPolling can run again after a new sign-in.
func (c *Controller) releasePoll(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollDone != done {
		return
	}
	c.pollCancel()
	c.pollCancel, c.pollDone = nil, nil
}

// SessionEnded reports whether err means the credential is no longer
// accepted, either locally or by the backend.
func SessionEnded(err error) bool {
	return errors.Is(err, session.ErrSessionExpired) || api.IsUnauthorized(err)
}

// Stop cancels polling and any pending reconcile, and returns once the
// background goroutines have exited. The controller stays usable.
func (c *Controller) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	c.stopping = true
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	if c.reconcile != nil {
		if c.reconcile.Stop() {
			c.bgWG.Done()
		}
		c.reconcile = nil
	}
	bgCancel := c.bgCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	bgCancel()
	c.bgWG.Wait()

	c.mu.Lock()
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	c.stopping = false
	c.mu.Unlock()
}

// Reset stops background work and empties the feed, as on sign-out.
// Responses still in flight are dropped.
func (c *Controller) Reset() {
	c.Stop()

	c.mu.Lock()
	c.generation++
	c.countSeq++
	c.state = State{Page: 1, HasMore: true}
	c.mu.Unlock()
	c.notify()
}

// scheduleReconcile refreshes from the server after ReconcileDelay. A
// newer schedule replaces a pending one.
func (c *Controller) scheduleReconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}

	if c.reconcile != nil && c.reconcile.Stop() {
		c.bgWG.Done()
	}

	ctx := c.bgCtx
	c.bgWG.Add(1)
	c.reconcile = time.AfterFunc(c.opts.ReconcileDelay, func() {
		defer c.bgWG.Done()
		if ctx.Err() != nil {
			return
		}
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.report(err)
		}
	})
}

func (c *Controller) decrementLocked() {
	if c.state.UnreadCount > 0 {
		c.state.UnreadCount--
	}
	c.countSeq++
}

func (c *Controller) report(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// appendUnique appends the items whose id is not already in dst.
func appendUnique(dst, items []notification.Notification) []notification.Notification {
	seen := make(map[notification.ID]struct{}, len(dst)+len(items))
	for _, n := range dst {
		seen[n.ID] = struct{}{}
	}
	for _, n := range items {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		dst = append(dst, n)
	}
	return dst
}
