package taxlinesdk

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

// Client is a minimal Taxline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
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

// Project represents the API project model, including the derived
// read-model fields.
type Project struct {
	ProjectID          int64    `json:"project_id"`
	ProjectName        string   `json:"project_name"`
	ClientID           *int64   `json:"client_id,omitempty"`
	ClientName         string   `json:"client_name,omitempty"`
	EngagementType     string   `json:"engagement_type,omitempty"`
	YearEnd            string   `json:"year_end,omitempty"`
	Services           []string `json:"services_required,omitempty"`
	DateIn             *string  `json:"date_in,omitempty"`
	DateCompleted      *string  `json:"date_completed,omitempty"`
	DueDate            *string  `json:"due_date,omitempty"`
	Preparer           []string `json:"preparer,omitempty"`
	Reviewer           *string  `json:"reviewer,omitempty"`
	Status             string   `json:"status,omitempty"`
	ClientStatus       string   `json:"client_status,omitempty"`
	PreparerStatus     string   `json:"preparer_status,omitempty"`
	ReviewerStatus     string   `json:"reviewer_status,omitempty"`
	ToDoOrUpdate       *string  `json:"to_do_or_update,omitempty"`
	IsLocked           bool     `json:"is_locked"`
	ArchivedAt         *string  `json:"archived_at,omitempty"`
	InvoiceNumber      *string  `json:"invoice_number,omitempty"`
	Amount             *float64 `json:"amount,omitempty"`
	HSTAmount          *float64 `json:"hst_amount,omitempty"`
	AmountReceived     *float64 `json:"amount_received,omitempty"`
	Outstanding        *float64 `json:"outstanding,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	DisplayStatus      string   `json:"display_status"`
	StatusBucket       string   `json:"status_bucket"`
	OutstandingBalance float64  `json:"outstanding_balance"`
	ProgressPercent    float64  `json:"progress_percent"`
}

// Comment represents a project comment.
type Comment struct {
	ID         string `json:"id"`
	ProjectID  int64  `json:"project_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
}

// Notification represents an inbox entry.
type Notification struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  int64          `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProjectOptions are parameters for CreateProject. Zero values are
// omitted from the request.
type CreateProjectOptions struct {
	ProjectName    string   `json:"project_name"`
	ClientID       *int64   `json:"client_id,omitempty"`
	ClientName     string   `json:"client_name,omitempty"`
	EngagementType string   `json:"engagement_type,omitempty"`
	YearEnd        string   `json:"year_end,omitempty"`
	Services       []string `json:"services_required,omitempty"`
	DateIn         *string  `json:"date_in,omitempty"`
	DueDate        *string  `json:"due_date,omitempty"`
	Preparer       []string `json:"preparer,omitempty"`
	Reviewer       *string  `json:"reviewer,omitempty"`
	Status         string   `json:"status,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, opts CreateProjectOptions) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", opts, &resp)
	return resp, err
}

// ListFilter narrows ListProjects. Zero values mean no filtering.
type ListFilter struct {
	Archived *bool
	Status   string
	ClientID int64
	Preparer string
}

// ListProjects returns projects matching the filter.
func (c *Client) ListProjects(ctx context.Context, f ListFilter) ([]Project, error) {
	q := url.Values{}
	if f.Archived != nil {
		q.Set("archived", fmt.Sprint(*f.Archived))
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.ClientID != 0 {
		q.Set("client_id", fmt.Sprint(f.ClientID))
	}
	if f.Preparer != "" {
		q.Set("preparer", f.Preparer)
	}
	endpoint := "v0/projects"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetProject fetches one project with its derived fields.
func (c *Client) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, ""), nil, &resp)
	return resp, err
}

// SetStatus moves a project to a new manual status. A note is only
// stored for the note-bearing statuses.
func (c *Client) SetStatus(ctx context.Context, projectID int64, status string, note *string) (Project, error) {
	body := map[string]any{"status": status}
	if note != nil {
		body["note"] = *note
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "status"), body, &resp)
	return resp, err
}

// SetSubStatus updates the client, preparer, or reviewer sub-status.
func (c *Client) SetSubStatus(ctx context.Context, projectID int64, which, value string) (Project, error) {
	var resp Project
	endpoint := c.projectPath(projectID, "substatus/"+url.PathEscape(which))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

// ToggleLock flips the project lock.
func (c *Client) ToggleLock(ctx context.Context, projectID int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "lock"), nil, &resp)
	return resp, err
}

// StartProject stamps date_in with today.
func (c *Client) StartProject(ctx context.Context, projectID int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "start"), nil, &resp)
	return resp, err
}

// FinishProject stamps date_completed with today.
func (c *Client) FinishProject(ctx context.Context, projectID int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "finish"), nil, &resp)
	return resp, err
}

// ArchiveProject closes out a project.
func (c *Client) ArchiveProject(ctx context.Context, projectID int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "archive"), nil, &resp)
	return resp, err
}

// AddComment appends a comment to a project.
func (c *Client) AddComment(ctx context.Context, projectID int64, body string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "comments"), map[string]any{"body": body}, &resp)
	return resp, err
}

// ListComments returns project comments oldest first.
func (c *Client) ListComments(ctx context.Context, projectID int64) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "comments"), nil, &resp)
	return resp, err
}

// Notifications returns the caller's inbox, newest first.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one inbox entry read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/notifications/%d/read", id), nil, nil)
}

// Events returns recent audit events, newest first. A zero projectID
// means firm-wide.
func (c *Client) Events(ctx context.Context, projectID int64, evtType string, limit int) ([]Event, error) {
	q := url.Values{}
	if projectID != 0 {
		q.Set("project_id", fmt.Sprint(projectID))
	}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) projectPath(projectID int64, p string) string {
	endpoint := fmt.Sprintf("v0/projects/%d", projectID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
