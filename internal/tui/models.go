package tui

import (
	"github.com/pders01/notifeed/internal/notification"
	"github.com/pders01/notifeed/internal/search"
)

type View int

const (
	ViewFeed View = iota
	ViewDetail
	ViewSearch
	ViewDeleteConfirm
)

func (v View) String() string {
	switch v {
	case ViewFeed:
		return "feed"
	case ViewDetail:
		return "detail"
	case ViewSearch:
		return "search"
	case ViewDeleteConfirm:
		return "delete"
	default:
		return "unknown"
	}
}

// feedChangedMsg is sent whenever the controller reports a state change.
type feedChangedMsg struct{}

// opDoneMsg reports the outcome of a user-triggered controller operation.
type opDoneMsg struct {
	op     string
	status string
	err    error
}

type detailRenderedMsg struct {
	id      notification.ID
	content string
}

type searchDebounceFireMsg struct {
	seq int
}

type searchResultsMsg struct {
	seq     int
	results []*search.Result
}

type errorMsg struct {
	err error
}

// backgroundErrMsg carries a failure from polling or a reconciling refresh.
type backgroundErrMsg struct {
	err error
}
