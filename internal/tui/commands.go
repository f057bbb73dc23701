package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/search"
)

// runOp runs a controller operation off the UI goroutine and reports the
// outcome with status as the success message.
func (a *App) runOp(op, status string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		err := fn(a.ctx)
		if err != nil {
			a.log.Warnf("%s failed: %v", op, err)
		}
		return opDoneMsg{op: op, status: status, err: err}
	}
}

func (a *App) refresh() tea.Cmd {
	return a.runOp("refresh", MsgRefreshed, a.ctrl.Refresh)
}

func (a *App) loadMore() tea.Cmd {
	return a.runOp("load-more", "", a.ctrl.LoadMore)
}

func (a *App) markRead(id notification.ID) tea.Cmd {
	return a.runOp("mark-read", MsgMarkedRead, func(ctx context.Context) error {
		return a.ctrl.MarkAsRead(ctx, id)
	})
}

func (a *App) markAllRead() tea.Cmd {
	return a.runOp("mark-all-read", MsgMarkedAllRead, a.ctrl.MarkAllAsRead)
}

func (a *App) deleteNotification(id notification.ID) tea.Cmd {
	return a.runOp("delete", MsgDeleted, func(ctx context.Context) error {
		return a.ctrl.DeleteNotification(ctx, id)
	})
}

// waitForChange blocks until the controller reports a change. The app
// re-arms it after every feedChangedMsg.
func (a *App) waitForChange() tea.Cmd {
	changes := a.ctrl.Changes()
	ctx := a.ctx
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			return feedChangedMsg{}
		}
	}
}

func (a *App) waitForError() tea.Cmd {
	if a.errs == nil {
		return nil
	}
	errs := a.errs
	ctx := a.ctx
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return backgroundErrMsg{err: err}
		}
	}
}

// indexSearch reindexes the controller's current items. The snapshot is
// taken inside the run, so overlapping runs cannot leave an older feed
// indexed.
func (a *App) indexSearch() tea.Cmd {
	searcher := a.searcher
	ctrl := a.ctrl
	return func() tea.Msg {
		a.indexMu.Lock()
		defer a.indexMu.Unlock()
		items := ctrl.Snapshot().Items
		if err := searcher.Index(items); err != nil {
			a.log.Warnf("indexing %d notifications: %v", len(items), err)
		}
		return nil
	}
}

func (a *App) performSearch(query string, seq int) tea.Cmd {
	searcher := a.searcher
	limit := a.config.Search.Limit
	return func() tea.Msg {
		results, err := searcher.Search(query, limit)
		if err != nil {
			return errorMsg{err: wrapErr("search", err)}
		}
		return searchResultsMsg{seq: seq, results: results}
	}
}

func (a *App) openLink(n *notification.Notification) tea.Cmd {
	link := notification.Link(n, a.config.API.WebURL)
	if link == "#" {
		a.setStatus(MsgNoLinkToOpen, StatusWarn)
		return nil
	}
	a.setStatus(MsgOpeningBrowser, StatusInfo)
	o := a.opener
	return func() tea.Msg {
		if err := o.Open(link); err != nil {
			return errorMsg{err: fmt.Errorf("failed to open %s: %w", link, err)}
		}
		return nil
	}
}

// openDetail switches to the detail view, renders n and marks it read when
// needed.
func (a *App) openDetail(n *notification.Notification) tea.Cmd {
	a.current = n
	a.view = ViewDetail
	a.loadingDetail = true
	a.viewport.SetContent("")

	renderer, err := a.getRenderer()
	if err != nil {
		a.log.Warnf("glamour renderer: %v", err)
	}
	cmds := []tea.Cmd{a.renderDetail(*n, renderer)}
	if !n.IsRead {
		cmds = append(cmds, a.markRead(n.ID))
	}
	return tea.Batch(cmds...)
}

func (a *App) renderDetail(n notification.Notification, r *glamour.TermRenderer) tea.Cmd {
	md := detailMarkdown(&n, a.formatter, a.config.API.WebURL)
	return func() tea.Msg {
		if r == nil {
			return detailRenderedMsg{id: n.ID, content: md}
		}
		rendered, err := r.Render(md)
		if err != nil {
			return detailRenderedMsg{id: n.ID, content: fmt.Sprintf("Failed to render notification: %v\n\n%s", err, md)}
		}
		return detailRenderedMsg{id: n.ID, content: rendered}
	}
}

func detailMarkdown(n *notification.Notification, formatter *notification.Registry, webURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", formatter.Describe(n))

	meta := []string{n.Type.Label()}
	if !n.CreatedAt.IsZero() {
		meta = append(meta, n.CreatedAt.Local().Format(time.RFC1123))
	}
	if !n.IsRead {
		meta = append(meta, "unread")
	}
	fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " • "))

	if n.Post != nil && n.Post.Title != "" {
		fmt.Fprintf(&b, "**Post:** %s\n\n", n.Post.Title)
	}
	if n.Comment != nil && strings.TrimSpace(n.Comment.Content) != "" {
		for _, line := range strings.Split(strings.TrimSpace(n.Comment.Content), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	} else if n.Post != nil && strings.TrimSpace(n.Post.Content) != "" {
		b.WriteString(strings.TrimSpace(n.Post.Content))
		b.WriteString("\n\n")
	}

	if link := notification.Link(n, webURL); link != "#" {
		fmt.Fprintf(&b, "---\n\n[Open in browser](%s)\n", link)
	}
	return b.String()
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	nc := a.config.UI.Notification
	maxWidth, minWidth := nc.WordWrapMaxWidth, nc.WordWrapMinWidth
	if maxWidth <= 0 {
		maxWidth = 120
	}
	if minWidth <= 0 {
		minWidth = 40
	}

	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > maxWidth {
		wordWrapWidth = maxWidth
	}
	if wordWrapWidth < minWidth {
		wordWrapWidth = minWidth
	}
	if a.width > 0 && a.width < 50 {
		wordWrapWidth = max(a.width-4, 20)
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}
	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func searchResultsToItems(results []*search.Result, formatter *notification.Registry) []searchResultItem {
	items := make([]searchResultItem, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		items = append(items, searchResultItem{result: r, summary: formatter.Describe(&r.Notification)})
	}
	return items
}
