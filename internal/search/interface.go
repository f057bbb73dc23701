package search

import (
	"fmt"

	"github.com/pders01/notifeed/internal/notification"
)

// Searcher defines the minimal search API used by the TUI. Only the
// notifications currently loaded in the feed are searchable.
type Searcher interface {
	// Index replaces the searchable set with items.
	Index(items []notification.Notification) error
	Search(query string, limit int) ([]*Result, error)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}

// Result is one matching notification, best first.
type Result struct {
	Notification notification.Notification
	Score        float64
	Matches      []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "actor", "title", "content", "type"
	Text   string
	Weight float64
}

const (
	EngineBleve  = "bleve"
	EngineSimple = "simple"
)

// New returns the engine named by kind, falling back to the simple engine
// when the bleve index cannot be built.
func New(kind string) (Searcher, error) {
	switch kind {
	case EngineSimple:
		return NewEngine(), nil
	case EngineBleve, "":
		eng, err := NewBleveEngine()
		if err != nil {
			return NewEngine(), err
		}
		return eng, nil
	default:
		return NewEngine(), fmt.Errorf("unknown search engine %q", kind)
	}
}
