package fakeapi

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pders01/notifeed/internal/notification"
)

// Fixtures describes seed data for the fake backend.
type Fixtures struct {
	Token string        `toml:"token"`
	Users []UserFixture `toml:"users"`
}

type UserFixture struct {
	ID            string                `toml:"id"`
	Generate      int                   `toml:"generate"`
	Notifications []NotificationFixture `toml:"notifications"`
}

type NotificationFixture struct {
	ID        string `toml:"id"`
	Type      string `toml:"type"`
	Actor     string `toml:"actor"`
	PostID    string `toml:"post_id"`
	PostTitle string `toml:"post_title"`
	PostSlug  string `toml:"post_slug"`
	CommentID string `toml:"comment_id"`
	Comment   string `toml:"comment"`
	Read      bool   `toml:"read"`
	// Age is how long ago the notification was created, e.g. "5m".
	Age string `toml:"age"`
}

//go:embed dev.toml
var devFixtures []byte

// DevFixtures returns the seed data the dev-server uses when no fixture
// file is given.
func DevFixtures() (*Fixtures, error) {
	return ParseFixtures(devFixtures)
}

// LoadFixtures reads a TOML fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return ParseFixtures(data)
}

func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("parsing fixtures: user %d has no id", i)
		}
		for j, n := range u.Notifications {
			if n.Age == "" {
				continue
			}
			if _, err := time.ParseDuration(n.Age); err != nil {
				return nil, fmt.Errorf("parsing fixtures: user %s notification %d: bad age %q", u.ID, j, n.Age)
			}
		}
	}
	return &f, nil
}

// Apply seeds s with the fixture users. Listed notifications come first,
// followed by Generate synthetic ones.
func (f *Fixtures) Apply(s *Server) {
	now := s.now()
	for _, u := range f.Users {
		ns := make([]notification.Notification, 0, len(u.Notifications)+u.Generate)
		for _, nf := range u.Notifications {
			ns = append(ns, nf.toNotification(now))
		}
		ns = append(ns, Generate(u.Generate, now.Add(-time.Hour))...)
		s.Seed(u.ID, ns...)
	}
}

func (nf NotificationFixture) toNotification(now time.Time) notification.Notification {
	n := notification.Notification{
		ID:        notification.ID(nf.ID),
		Type:      notification.Type(nf.Type),
		IsRead:    nf.Read,
		CreatedAt: now,
	}
	if d, err := time.ParseDuration(nf.Age); err == nil {
		n.CreatedAt = now.Add(-d)
	}
	if nf.Actor != "" {
		n.Actor = &notification.Actor{Username: nf.Actor}
	}
	if nf.PostID != "" || nf.PostTitle != "" {
		n.Post = &notification.PostRef{ID: notification.ID(nf.PostID), Title: nf.PostTitle, Slug: nf.PostSlug}
	}
	if nf.CommentID != "" || nf.Comment != "" {
		n.Comment = &notification.CommentRef{ID: notification.ID(nf.CommentID), Content: nf.Comment}
	}
	return n
}

var (
	sampleActors = []string{"alice", "bob", "carol", "dmitri", "eve", "farah"}
	sampleTypes  = []notification.Type{
		notification.TypePostLike,
		notification.TypeNewComment,
		notification.TypeCommentReply,
		notification.TypeCommentLike,
	}
	sampleTitles = []string{
		"Understanding Go channels",
		"Why my goroutines leak",
		"Table-driven tests in practice",
		"Structuring a CLI with cobra",
		"bbolt vs sqlite for local state",
	}
)

// Generate builds count unread notifications, newest first, the first one
// created at newest and each following one a minute older. IDs are left
// empty so the server assigns them.
func Generate(count int, newest time.Time) []notification.Notification {
	out := make([]notification.Notification, 0, count)
	for i := 0; i < count; i++ {
		typ := sampleTypes[i%len(sampleTypes)]
		n := notification.Notification{
			Type:      typ,
			CreatedAt: newest.Add(-time.Duration(i) * time.Minute),
			Actor:     &notification.Actor{Username: sampleActors[i%len(sampleActors)]},
			Post: &notification.PostRef{
				ID:    notification.ID(strconv.Itoa(100 + i%len(sampleTitles))),
				Title: sampleTitles[i%len(sampleTitles)],
			},
		}
		if typ != notification.TypePostLike {
			n.Comment = &notification.CommentRef{
				ID:      notification.ID(strconv.Itoa(1000 + i)),
				Content: fmt.Sprintf("Comment #%d on %q", i+1, n.Post.Title),
			}
		}
		out = append(out, n)
	}
	return out
}
