package caseflowsdk

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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// AgentID and Role are sent as legacy identity headers when no credential is set.
	AgentID    string
	Role       string
	HTTPClient *http.Client
	Timeout    time.Duration
	// ClaimTimeout bounds how long ClaimNext keeps re-listing. Zero means 30s.
	ClaimTimeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case mirrors the API case model.
type Case struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference,omitempty"`
	Applicant       string  `json:"applicant,omitempty"`
	CurrentStage    string  `json:"current_stage"`
	Status          string  `json:"status"`
	AssignedAgentID *string `json:"assigned_agent_id"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

// CasePage is one page of a case listing.
type CasePage struct {
	Items []Case `json:"items"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Total int    `json:"total"`
}

// HistoryEntry is one append-only history row.
type HistoryEntry struct {
	ID      int64  `json:"id"`
	CaseID  string `json:"case_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts"`
}

// ErrQueueEmpty is returned by ClaimNext when no case could be claimed.
var ErrQueueEmpty = errors.New("no unassigned case available")

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a 409 assignment conflict.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// CreateCase opens a case at the first stage.
func (c *Client) CreateCase(ctx context.Context, reference, applicant string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", map[string]any{"reference": reference, "applicant": applicant}, &resp)
	return resp, err
}

// GetCase fetches a case.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GetCases fetches several cases concurrently, preserving order.
func (c *Client) GetCases(ctx context.Context, ids ...string) ([]Case, error) {
	out := make([]Case, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			got, err := c.GetCase(gctx, id)
			if err != nil {
				return err
			}
			out[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a case's history in append order.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(id)+"/history", nil, &resp)
	return resp, err
}

// ListUnassigned lists open unassigned cases at stage. An empty stage means the caller's stage.
func (c *Client) ListUnassigned(ctx context.Context, stage string, page, size int) (CasePage, error) {
	q := pageQuery(page, size)
	if stage != "" {
		q.Set("stage", stage)
	}
	var resp CasePage
	err := c.do(ctx, http.MethodGet, "unassigned-cases?"+q.Encode(), nil, &resp)
	return resp, err
}

// ListAssigned lists open cases held by agent. An empty agent means the caller.
func (c *Client) ListAssigned(ctx context.Context, agent string, page, size int) (CasePage, error) {
	q := pageQuery(page, size)
	if agent != "" {
		q.Set("agent", agent)
	}
	var resp CasePage
	err := c.do(ctx, http.MethodGet, "assigned-cases?"+q.Encode(), nil, &resp)
	return resp, err
}

// Claim takes an unassigned case. A 409 APIError means another agent holds it.
func (c *Client) Claim(ctx context.Context, id string) (Case, error) {
	return c.action(ctx, id, "claim", nil)
}

// Release drops the caller's claim.
func (c *Client) Release(ctx context.Context, id string) (Case, error) {
	return c.action(ctx, id, "release", nil)
}

func (c *Client) Start(ctx context.Context, id, note string) (Case, error) {
	return c.action(ctx, id, "start", noteBody(note))
}

func (c *Client) Accept(ctx context.Context, id, note string) (Case, error) {
	return c.action(ctx, id, "accept", noteBody(note))
}

func (c *Client) Reject(ctx context.Context, id, note string) (Case, error) {
	return c.action(ctx, id, "reject", noteBody(note))
}

func (c *Client) RequestInfo(ctx context.Context, id, note string) (Case, error) {
	return c.action(ctx, id, "request-info", noteBody(note))
}

// Force is the override transition. action is "reject" or "request_info".
func (c *Client) Force(ctx context.Context, id, action, note string, resetToIntake bool) (Case, error) {
	return c.action(ctx, id, "force", map[string]any{"action": action, "note": note, "reset_to_intake": resetToIntake})
}

// ClaimNext lists the stage's queue and claims the first case it can,
// skipping cases another agent won. When a whole page is lost to conflicts it
// re-lists with exponential backoff until ClaimTimeout.
func (c *Client) ClaimNext(ctx context.Context, stage string) (Case, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = c.ClaimTimeout
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	var claimed Case
	err := backoff.Retry(func() error {
		page, err := c.ListUnassigned(ctx, stage, 1, 0)
		if err != nil {
			if retryableStatus(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(page.Items) == 0 {
			return backoff.Permanent(ErrQueueEmpty)
		}
		for _, item := range page.Items {
			got, err := c.Claim(ctx, item.ID)
			if err == nil {
				claimed = got
				return nil
			}
			if IsConflict(err) {
				continue
			}
			if retryableStatus(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return errAllTaken
	}, backoff.WithContext(bo, ctx))
	if errors.Is(err, errAllTaken) {
		return Case{}, ErrQueueEmpty
	}
	return claimed, err
}

var errAllTaken = errors.New("every listed case was taken")

func retryableStatus(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.StatusCode == http.StatusConflict
}

func (c *Client) action(ctx context.Context, id, verb string, body any) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/"+verb, body, &resp)
	return resp, err
}

func noteBody(note string) any {
	if note == "" {
		return nil
	}
	return map[string]string{"note": note}
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
		req.Header.Set("X-Agent-Role", c.Role)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
