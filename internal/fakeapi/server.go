// Package fakeapi is an in-memory implementation of the forum's notification
// endpoints. It backs the tests and the dev-server command.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pders01/notifeed/internal/notification"
)

// Route names accepted by Calls, FailNext and OnRequest.
const (
	RouteList        = "list"
	RouteUnreadCount = "unread-count"
	RouteMarkRead    = "mark-read"
	RouteMarkAllRead = "mark-all-read"
	RouteDelete      = "delete"
)

type failure struct {
	status  int
	message string
}

type Server struct {
	mu        sync.Mutex
	token     string
	feeds     map[string][]*notification.Notification
	nextID    int
	calls     map[string]int
	failures  map[string][]failure
	onRequest func(route string, r *http.Request)
	now       func() time.Time
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(opts ...Option) *Server {
	s := &Server{
		feeds:    make(map[string][]*notification.Notification),
		calls:    make(map[string]int),
		failures: make(map[string][]failure),
		nextID:   1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router serving the endpoints at the root path.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/user/{userID}", s.track(RouteList, s.handleList))
		r.Get("/user/{userID}/unread-count", s.track(RouteUnreadCount, s.handleUnreadCount))
		r.Patch("/user/{userID}/read-all", s.track(RouteMarkAllRead, s.handleMarkAllRead))
		r.Patch("/{id}/read/{userID}", s.track(RouteMarkRead, s.handleMarkRead))
		r.Delete("/{id}/user/{userID}", s.track(RouteDelete, s.handleDelete))
	})
	return r
}

// OnRequest installs a hook run before each handled request, outside the
// server lock. Tests use it to hold responses back.
func (s *Server) OnRequest(fn func(route string, r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = fn
}

// FailNext makes the next request to route answer with status and a JSON
// message body. An empty message sends a non-JSON body.
func (s *Server) FailNext(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, message: message})
}

// Calls reports how many requests route has served.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Add prepends a new unread notification for userID and returns it.
func (s *Server) Add(userID string, n notification.Notification) notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = notification.ID(strconv.Itoa(s.nextID))
		s.nextID++
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	stored := n
	s.feeds[userID] = append([]*notification.Notification{&stored}, s.feeds[userID]...)
	return stored
}

// Seed replaces the feed of userID. ns must be ordered newest first.
func (s *Server) Seed(userID string, ns ...notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed := make([]*notification.Notification, 0, len(ns))
	for i := range ns {
		n := ns[i]
		if n.ID == "" {
			n.ID = notification.ID(strconv.Itoa(s.nextID))
			s.nextID++
		}
		feed = append(feed, &n)
	}
	s.feeds[userID] = feed
}

// Notifications returns a copy of the stored feed of userID.
func (s *Server) Notifications(userID string) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, 0, len(s.feeds[userID]))
	for _, n := range s.feeds[userID] {
		out = append(out, *n)
	}
	return out
}

func (s *Server) UnreadCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(userID)
}

func (s *Server) unreadLocked(userID string) int {
	count := 0
	for _, n := range s.feeds[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Authentication required"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) track(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		hook := s.onRequest
		var fail *failure
		if queue := s.failures[route]; len(queue) > 0 {
			fail = &queue[0]
			s.failures[route] = queue[1:]
		}
		s.mu.Unlock()

		if hook != nil {
			hook(route, r)
		}

		if fail != nil {
			if fail.message == "" {
				w.WriteHeader(fail.status)
				_, _ = w.Write([]byte("<html>upstream error</html>"))
				return
			}
			writeJSON(w, fail.status, map[string]string{"message": fail.message})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	s.mu.Lock()
	feed := s.feeds[userID]
	start := (page - 1) * limit
	end := start + limit
	if start > len(feed) {
		start = len(feed)
	}
	if end > len(feed) {
		end = len(feed)
	}
	out := make([]notification.Notification, 0, end-start)
	for _, n := range feed[start:end] {
		out = append(out, *n)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": s.UnreadCount(userID)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := notification.ID(chi.URLParam(r, "id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.feeds[userID] {
		if n.ID == id {
			n.IsRead = true
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Notification not found"})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, n := range s.feeds[userID] {
		if !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": updated})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := notification.ID(chi.URLParam(r, "id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	feed := s.feeds[userID]
	for i, n := range feed {
		if n.ID == id {
			s.feeds[userID] = append(feed[:i:i], feed[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Notification not found"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"message":%q}`, err.Error())
	}
}
