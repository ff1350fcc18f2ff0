package hometracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hometrack HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API served under /v0 at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task is the list view of a task or subtask with inherited fields resolved.
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Parent   string `json:"parent,omitempty"`
	Status   string `json:"status"`
	Category string `json:"category"`
	Priority string `json:"priority,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Blockers int    `json:"blockers"`
}

// Issue represents a question (partial).
type Issue struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Prompt          string          `json:"prompt"`
	Status          string          `json:"status"`
	ReviewStatus    string          `json:"reviewStatus,omitempty"`
	Assignee        string          `json:"assignee,omitempty"`
	RelatedTask     string          `json:"relatedTask,omitempty"`
	RelatedMaterial string          `json:"relatedMaterial,omitempty"`
	Source          string          `json:"source,omitempty"`
	DetectionRule   string          `json:"detectionRule,omitempty"`
	Response        json.RawMessage `json:"response,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
}

// Change is one field a review or acceptance touches.
type Change struct {
	Entity    string `json:"entity"`
	EntityID  string `json:"entityId"`
	Field     string `json:"field"`
	OldValue  any    `json:"oldValue"`
	NewValue  any    `json:"newValue"`
	Inherited bool   `json:"inherited,omitempty"`
}

// Impact is an advisory finding; type "error" blocks acceptance.
type Impact struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

type Review struct {
	Issue   Issue    `json:"issue"`
	Changes []Change `json:"changes"`
	Impacts []Impact `json:"impacts"`
}

type AcceptResult struct {
	Changes   []Change `json:"changes"`
	FollowUps []Issue  `json:"followUps,omitempty"`
	Impacts   []Impact `json:"impacts,omitempty"`
}

type DetectionResult struct {
	Created     int      `json:"created"`
	Resolved    int      `json:"resolved"`
	Refreshed   int      `json:"refreshed"`
	CreatedIDs  []string `json:"createdIds,omitempty"`
	ResolvedIDs []string `json:"resolvedIds,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Tasks lists tasks and subtasks. Empty filters are ignored.
func (c *Client) Tasks(ctx context.Context, status, category string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if category != "" {
		q.Set("category", category)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp.Items, err
}

// Issues lists questions with the given status, or all when empty.
func (c *Client) Issues(ctx context.Context, status string) ([]Issue, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp struct {
		Items []Issue `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("issues", q), nil, &resp)
	return resp.Items, err
}

// Answer records a response. Pass a type-tagged object such as
// map[string]any{"type": "date", "date": "2026-05-01"}.
func (c *Client) Answer(ctx context.Context, issueID string, response any) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(issueID)+"/answer", map[string]any{"response": response}, &resp)
	return resp, err
}

func (c *Client) Review(ctx context.Context, issueID string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodGet, "issues/"+url.PathEscape(issueID)+"/review", nil, &resp)
	return resp, err
}

// Accept applies an answer. A blocked acceptance returns an *APIError with
// status 409 unless force is set.
func (c *Client) Accept(ctx context.Context, issueID string, force bool) (AcceptResult, error) {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	var resp AcceptResult
	err := c.do(ctx, http.MethodPost, withQuery("issues/"+url.PathEscape(issueID)+"/accept", q), nil, &resp)
	return resp, err
}

func (c *Client) Reject(ctx context.Context, issueID, reason, followUp string) (*Issue, error) {
	body := map[string]any{"reason": reason}
	if followUp != "" {
		body["follow_up"] = followUp
	}
	var resp struct {
		FollowUp *Issue `json:"followUp,omitempty"`
	}
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(issueID)+"/reject", body, &resp)
	return resp.FollowUp, err
}

// Detect runs the detection rules on the server as of today.
func (c *Client) Detect(ctx context.Context) (DetectionResult, error) {
	var resp DetectionResult
	err := c.do(ctx, http.MethodPost, "detect", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
