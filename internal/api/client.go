// Package api is the HTTP client for the forum's notification endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/pders01/notifeed/internal/debuglog"
	"github.com/pders01/notifeed/internal/notification"
)

const (
	// DefaultPageSize is the number of notifications requested per page.
	DefaultPageSize = 20

	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "notifeed/1.0 (https://github.com/pders01/notifeed)"
	maxBodyBytes     = 4 << 20
)

type Client struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
	pageSize  int
	log       *debuglog.FieldLogger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its transport is wrapped
// with the bearer token source when one is given to NewClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient returns a client for the API rooted at baseURL. Requests carry
// the bearer token from ts; a nil ts sends unauthenticated requests.
func NewClient(baseURL string, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:   u,
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		pageSize:  DefaultPageSize,
		log:       debuglog.WithFields(map[string]interface{}{"component": "api"}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if ts != nil {
		base := c.client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *c.client
		hc.Transport = &oauth2.Transport{Source: ts, Base: base}
		c.client = &hc
	}

	return c, nil
}

func (c *Client) PageSize() int { return c.pageSize }

// List fetches one page of the user's notifications, newest first.
func (c *Client) List(ctx context.Context, userID string, page int) ([]notification.Notification, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))

	const op = "list notifications"
	body, err := c.do(ctx, op, http.MethodGet, q, "notifications", "user", userID)
	if err != nil {
		return nil, err
	}
	return decodeList(body, c.log), nil
}

// UnreadCount fetches the server-side unread total for the user.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	const op = "fetch unread count"
	body, err := c.do(ctx, op, http.MethodGet, nil, "notifications", "user", userID, "unread-count")
	if err != nil {
		return 0, err
	}
	return decodeCount(body), nil
}

func (c *Client) MarkRead(ctx context.Context, id notification.ID, userID string) error {
	_, err := c.do(ctx, "mark notification as read", http.MethodPatch, nil,
		"notifications", id.String(), "read", userID)
	return err
}

func (c *Client) MarkAllRead(ctx context.Context, userID string) error {
	_, err := c.do(ctx, "mark all notifications as read", http.MethodPatch, nil,
		"notifications", "user", userID, "read-all")
	return err
}

func (c *Client) Delete(ctx context.Context, id notification.ID, userID string) error {
	_, err := c.do(ctx, "delete notification", http.MethodDelete, nil,
		"notifications", id.String(), "user", userID)
	return err
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.baseURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.baseURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method string, query url.Values, segments ...string) ([]byte, error) {
	for _, s := range segments {
		if s == "" {
			return nil, &Error{Op: op, Kind: KindRequest, Message: "missing path parameter"}
		}
	}

	endpoint := c.endpoint(query, segments...)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindRequest, Err: errors.Wrap(err, "creating request")}
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	log := c.log.With("request_id", requestID)
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warnf("%s %s failed: %v", method, req.URL.Path, err)
		return nil, &Error{Op: op, Kind: KindNetwork, Err: errors.Wrapf(err, "%s %s", method, req.URL.Path)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Status: resp.StatusCode, Err: errors.Wrap(err, "reading response")}
	}

	log.Debugf("%s %s -> %d (%s)", method, req.URL.Path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Op:      op,
			Kind:    KindServer,
			Status:  resp.StatusCode,
			Message: serverMessage(resp.StatusCode, body),
		}
	}

	return body, nil
}

// decodeList accepts {"notifications": [...]} or a bare array and skips
// entries that do not decode. Anything else yields an empty page.
func decodeList(body []byte, log *debuglog.FieldLogger) []notification.Notification {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []notification.Notification{}
	}

	var raw []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raw); err != nil {
			log.Warnf("malformed notification list: %v", err)
			return []notification.Notification{}
		}
	} else {
		var envelope struct {
			Notifications []json.RawMessage `json:"notifications"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			log.Warnf("malformed notification list: %v", err)
			return []notification.Notification{}
		}
		raw = envelope.Notifications
	}

	out := make([]notification.Notification, 0, len(raw))
	for _, r := range raw {
		var n notification.Notification
		if err := json.Unmarshal(r, &n); err != nil {
			log.Warnf("skipping malformed notification: %v", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

// decodeCount reads unreadCount as a number or numeric string. Missing,
// malformed, or negative values count as zero.
func decodeCount(body []byte) int {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	raw, ok := payload["unreadCount"]
	if !ok {
		raw, ok = payload["count"]
	}
	if !ok {
		return 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		n = parsed
	}
	if n < 0 {
		return 0
	}
	return int(n)
}
