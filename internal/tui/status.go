package tui

import (
	"fmt"
	"strings"
)

// StatusKind is the severity of the status line.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

func (k StatusKind) render(text string) string {
	switch k {
	case StatusSuccess:
		return StatusSuccessStyle.Render("✓ " + text)
	case StatusWarn:
		return StatusWarnStyle.Render(text)
	case StatusError:
		return StatusErrorStyle.Render("✗ " + text)
	default:
		return StatusInfoStyle.Render(text)
	}
}

// Status line texts.
const (
	MsgRefreshing     = "Refreshing…"
	MsgLoadingMore    = "Loading more…"
	MsgMarkingAll     = "Marking all as read…"
	MsgDeleting       = "Deleting…"
	MsgLoadingDetail  = "Loading notification…"
	MsgNoResults      = "No results"
	MsgRefreshed      = "Up to date"
	MsgMarkedRead     = "Marked as read"
	MsgMarkedAllRead  = "All caught up"
	MsgDeleted        = "Notification deleted"
	MsgEndOfFeed      = "No more notifications"
	MsgNoLinkToOpen   = "Nothing to open for this notification"
	MsgOpeningBrowser = "Opening in browser…"
)

func MsgUnreadBadge(n int) string {
	if n == 0 {
		return "no unread"
	}
	return fmt.Sprintf("%d unread", n)
}

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgLoadedSummary(loaded, unread int, more bool) string {
	base := fmt.Sprintf("%d loaded • %s", loaded, strings.TrimSpace(MsgUnreadBadge(unread)))
	if more {
		base += " • more available"
	}
	return base
}
