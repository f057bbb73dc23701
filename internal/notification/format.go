package notification

import (
	"sort"
	"sync"
)

// Formatter phrases notifications of the types it handles.
type Formatter interface {
	Name() string
	CanFormat(t Type) bool
	// Format returns the sentence shown for n, e.g. "alice liked your post".
	Format(n *Notification) string
	// Priority breaks ties when several formatters accept a type (higher wins).
	Priority() int
}

// Registry selects a formatter per notification type.
type Registry struct {
	mu         sync.RWMutex
	formatters []Formatter
	fallback   Formatter
}

// NewRegistry returns a registry preloaded with the built-in phrasing for
// the known types and the generic fallback.
func NewRegistry() *Registry {
	r := &Registry{fallback: genericFormatter{}}
	r.Register(builtinFormatter{})
	return r
}

func (r *Registry) Register(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters = append(r.formatters, f)
	sort.SliceStable(r.formatters, func(i, j int) bool {
		return r.formatters[i].Priority() > r.formatters[j].Priority()
	})
}

// Find returns the highest priority formatter for t, or the fallback.
func (r *Registry) Find(t Type) Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.formatters {
		if f.CanFormat(t) {
			return f
		}
	}
	return r.fallback
}

func (r *Registry) Describe(n *Notification) string {
	if n == nil {
		return ""
	}
	return r.Find(n.Type).Format(n)
}

// Formatters lists registered formatters in priority order.
func (r *Registry) Formatters() []Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Formatter(nil), r.formatters...)
}

var defaultRegistry = NewRegistry()

// Describe phrases n using the default registry.
func Describe(n *Notification) string {
	return defaultRegistry.Describe(n)
}

// Register adds f to the default registry.
func Register(f Formatter) {
	defaultRegistry.Register(f)
}

type builtinFormatter struct{}

func (builtinFormatter) Name() string          { return "builtin" }
func (builtinFormatter) Priority() int         { return 0 }
func (builtinFormatter) CanFormat(t Type) bool { return t.Known() }

func (builtinFormatter) Format(n *Notification) string {
	who := ActorName(n)
	switch n.Type {
	case TypePostLike:
		return who + " liked your post"
	case TypeCommentLike:
		return who + " liked your comment"
	case TypeNewComment:
		return who + " commented on your post"
	case TypeCommentReply:
		return who + " replied to your comment"
	}
	return genericFormatter{}.Format(n)
}

type genericFormatter struct{}

func (genericFormatter) Name() string        { return "generic" }
func (genericFormatter) Priority() int       { return -1 }
func (genericFormatter) CanFormat(Type) bool { return true }

func (genericFormatter) Format(n *Notification) string {
	return ActorName(n) + " interacted with your content"
}
