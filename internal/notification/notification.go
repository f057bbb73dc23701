// Package notification holds the forum notification model as mirrored from
// the backend, plus the helpers used to describe and link it.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Type is the kind of event a notification reports.
type Type string

const (
	TypePostLike     Type = "POST_LIKE"
	TypeCommentLike  Type = "COMMENT_LIKE"
	TypeNewComment   Type = "NEW_COMMENT"
	TypeCommentReply Type = "COMMENT_REPLY"
)

// Known reports whether t is one of the types this client knows how to phrase.
func (t Type) Known() bool {
	switch t {
	case TypePostLike, TypeCommentLike, TypeNewComment, TypeCommentReply:
		return true
	}
	return false
}

// Label is a short tag used in list views and search.
func (t Type) Label() string {
	switch t {
	case TypePostLike:
		return "post like"
	case TypeCommentLike:
		return "comment like"
	case TypeNewComment:
		return "comment"
	case TypeCommentReply:
		return "reply"
	default:
		return "activity"
	}
}

// ID is an opaque notification identifier. The backend may send it as a
// JSON string or number; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

type Actor struct {
	ID          ID     `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

type PostRef struct {
	ID      ID     `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug,omitempty"`
	Content string `json:"content,omitempty"`
}

type CommentRef struct {
	ID      ID     `json:"id"`
	Content string `json:"content"`
}

// Notification is one user-facing event targeted at the signed-in user.
type Notification struct {
	ID        ID          `json:"id"`
	Type      Type        `json:"type"`
	IsRead    bool        `json:"isRead"`
	CreatedAt time.Time   `json:"createdAt"`
	Actor     *Actor      `json:"actor,omitempty"`
	Post      *PostRef    `json:"post,omitempty"`
	Comment   *CommentRef `json:"comment,omitempty"`
}

// ActorName returns the best display name for whoever triggered n.
func ActorName(n *Notification) string {
	if n == nil || n.Actor == nil {
		return "Someone"
	}
	if name := strings.TrimSpace(n.Actor.DisplayName); name != "" {
		return name
	}
	if name := strings.TrimSpace(n.Actor.Username); name != "" {
		return name
	}
	return "Someone"
}

// Link builds the web link for n relative to baseURL. A notification
// without a post reference yields "#".
func Link(n *Notification, baseURL string) string {
	if n == nil || n.Post == nil {
		return "#"
	}
	target := n.Post.Slug
	if target == "" {
		target = n.Post.ID.String()
	}
	if target == "" {
		return "#"
	}

	link := strings.TrimRight(baseURL, "/") + "/posts/" + url.PathEscape(target)
	if n.Comment != nil && n.Comment.ID != "" {
		link += "#comment-" + url.PathEscape(n.Comment.ID.String())
	}
	return link
}

// Preview returns the comment body, else the post title, shortened to at
// most limit runes. A non-positive limit disables truncation.
func Preview(n *Notification, limit int) string {
	if n == nil {
		return ""
	}
	var text string
	switch {
	case n.Comment != nil && strings.TrimSpace(n.Comment.Content) != "":
		text = n.Comment.Content
	case n.Post != nil:
		text = n.Post.Title
	}
	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
