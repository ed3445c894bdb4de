package claimlinesdk

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

// Client is a minimal Claimline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	Actor       string
	Role        string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// CaseSummary is one row of the case index.
type CaseSummary struct {
	CaseID             string  `json:"case_id"`
	Title              string  `json:"title"`
	Category           string  `json:"category"`
	ExternalRef        string  `json:"external_ref,omitempty"`
	Version            int64   `json:"version"`
	BasisStatus        string  `json:"basis_status"`
	CompensationStatus string  `json:"compensation_status"`
	DeadlineStatus     string  `json:"deadline_status"`
	NetAmount          float64 `json:"net_amount"`
	DeadlineDays       int     `json:"deadline_days"`
	UpdatedAt          string  `json:"updated_at"`
}

// CaseState is the replayed case state (partial; track details come back
// as raw maps so the SDK does not chase the server's schema).
type CaseState struct {
	CaseID       string         `json:"case_id"`
	Title        string         `json:"title"`
	Category     string         `json:"category"`
	ExternalRef  string         `json:"external_ref,omitempty"`
	Version      int64          `json:"version"`
	Basis        map[string]any `json:"basis"`
	Compensation map[string]any `json:"compensation"`
	Deadline     map[string]any `json:"deadline"`
	Acceleration map[string]any `json:"acceleration,omitempty"`
	ChangeOrder  map[string]any `json:"change_order,omitempty"`
}

// Event is one committed log entry.
type Event struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"case_id"`
	Kind      string          `json:"kind"`
	Seq       int64           `json:"seq"`
	TS        string          `json:"ts"`
	Actor     string          `json:"actor"`
	Role      string          `json:"role"`
	Comment   string          `json:"comment,omitempty"`
	InReplyTo string          `json:"in_reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// EventInput is one event to append.
type EventInput struct {
	Kind      string `json:"kind"`
	Comment   string `json:"comment,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	Payload   any    `json:"payload"`
}

// AppendResult is the commit outcome.
type AppendResult struct {
	Version int64     `json:"version"`
	State   CaseState `json:"state"`
}

// CaseEvents is the event history of one case.
type CaseEvents struct {
	Version int64   `json:"version"`
	Events  []Event `json:"events"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether the error is a version conflict response.
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusConflict
}

// CreateCase opens a case.
func (c *Client) CreateCase(ctx context.Context, id, title, category, externalRef string) (CaseState, error) {
	body := map[string]any{"title": title}
	if id != "" {
		body["id"] = id
	}
	if category != "" {
		body["category"] = category
	}
	if externalRef != "" {
		body["external_ref"] = externalRef
	}
	var resp CaseState
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// ListCases returns the case index.
func (c *Client) ListCases(ctx context.Context) ([]CaseSummary, error) {
	var resp struct {
		Cases []CaseSummary `json:"cases"`
	}
	err := c.do(ctx, http.MethodGet, "v0/cases", nil, &resp)
	return resp.Cases, err
}

// FindByExternalRef looks a case up by its correlation id.
func (c *Client) FindByExternalRef(ctx context.Context, ref string) ([]CaseSummary, error) {
	var resp struct {
		Cases []CaseSummary `json:"cases"`
	}
	endpoint := "v0/cases?external_ref=" + url.QueryEscape(ref)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Cases, err
}

// GetCase returns the replayed state of one case.
func (c *Client) GetCase(ctx context.Context, caseID string) (CaseState, error) {
	var resp CaseState
	endpoint := fmt.Sprintf("v0/cases/%s", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetEvents returns the full event history of one case.
func (c *Client) GetEvents(ctx context.Context, caseID string) (CaseEvents, error) {
	var resp CaseEvents
	endpoint := fmt.Sprintf("v0/cases/%s/events", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AppendEvents commits a batch against an expected version. A stale
// expectation comes back as an APIError with status 409; re-fetch and retry.
func (c *Client) AppendEvents(ctx context.Context, caseID string, expectedVersion int64, inputs []EventInput) (AppendResult, error) {
	body := map[string]any{
		"expected_version": expectedVersion,
		"events":           inputs,
	}
	var resp AppendResult
	endpoint := fmt.Sprintf("v0/cases/%s/events", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RebuildIndex replays every case into the metadata cache.
func (c *Client) RebuildIndex(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "v0/index/rebuild", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Actor != "":
		req.Header.Set("X-Actor", c.Actor)
		if c.Role != "" {
			req.Header.Set("X-Role", c.Role)
		}
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
