package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"questkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the questkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// Evaluate runs one criterion against one event on the server.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResponse, error) {
	var resp EvaluateResponse
	err := c.do(ctx, http.MethodPost, "/evaluate", req, &resp)
	return resp, err
}

// Catalog lists the server's quest templates.
func (c *Client) Catalog(ctx context.Context) ([]Template, error) {
	var body struct {
		Templates []Template `json:"templates"`
	}
	err := c.do(ctx, http.MethodGet, "/catalog", nil, &body)
	return body.Templates, err
}

// Stats returns the server's analytics snapshot.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &s)
	return s, err
}

// Leaderboard returns the top limit standings; a non-empty userID also
// fetches that user's own standing.
func (c *Client) Leaderboard(ctx context.Context, limit int, userID string) (Leaderboard, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if strings.TrimSpace(userID) != "" {
		q.Set("user_id", userID)
	}
	path := "/leaderboard"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var lb Leaderboard
	err := c.do(ctx, http.MethodGet, path, nil, &lb)
	return lb, err
}

// ListQuests returns the user's quests ordered by activation time.
func (c *Client) ListQuests(ctx context.Context, userID string) ([]Quest, error) {
	path, err := userPath(userID, "quests")
	if err != nil {
		return nil, err
	}
	var body struct {
		Quests []Quest `json:"quests"`
	}
	err = c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Quests, err
}

// CreateQuest stores a fully specified quest for the user.
func (c *Client) CreateQuest(ctx context.Context, userID string, q Quest) (Quest, error) {
	path, err := userPath(userID, "quests")
	if err != nil {
		return Quest{}, err
	}
	var created Quest
	err = c.do(ctx, http.MethodPost, path, q, &created)
	return created, err
}

// CreateQuestFromTemplate instantiates a catalog template for the user. An
// empty questID lets the server assign one.
func (c *Client) CreateQuestFromTemplate(ctx context.Context, userID, templateID, questID string) (Quest, error) {
	path, err := userPath(userID, "quests")
	if err != nil {
		return Quest{}, err
	}
	body := map[string]string{"template": templateID}
	if questID != "" {
		body["id"] = questID
	}
	var created Quest
	err = c.do(ctx, http.MethodPost, path, body, &created)
	return created, err
}

// GetQuest fetches one quest; IsNotFound reports a missing quest.
func (c *Client) GetQuest(ctx context.Context, userID, questID string) (Quest, error) {
	path, err := userPath(userID, "quests", questID)
	if err != nil {
		return Quest{}, err
	}
	var q Quest
	err = c.do(ctx, http.MethodGet, path, nil, &q)
	return q, err
}

// DeleteQuest removes a quest.
func (c *Client) DeleteQuest(ctx context.Context, userID, questID string) error {
	path, err := userPath(userID, "quests", questID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// RecordAction reports a user action and returns the progress it caused.
func (c *Client) RecordAction(ctx context.Context, userID string, action Action) (ActionOutcome, error) {
	path, err := userPath(userID, "actions")
	if err != nil {
		return ActionOutcome{}, err
	}
	var out ActionOutcome
	err = c.do(ctx, http.MethodPost, path, action, &out)
	return out, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID narrows the stream to that user. The returned channel
// closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if strings.TrimSpace(userID) != "" {
		target += "?user_id=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func userPath(userID string, segments ...string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrEmptyUserID
	}
	var b strings.Builder
	b.WriteString("/users/")
	b.WriteString(url.PathEscape(userID))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String(), nil
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
