package teamtaclessdk

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

// Client is a minimal Teamtacles HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// User is the public view of an account.
type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}

// Token is the result of authenticate.
type Token struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Creator     UserRef   `json:"creator"`
	Team        []UserRef `json:"team"`
	CreatedAt   string    `json:"created_at"`
}

type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Status      string    `json:"status"`
	Owner       UserRef   `json:"owner"`
	Responsible []UserRef `json:"responsible"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// Page is one page of a listing.
type Page[T any] struct {
	Items         []T `json:"items"`
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"total_elements"`
	TotalPages    int `json:"total_pages"`
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     time.Time `json:"due_date"`
	Status      string    `json:"status,omitempty"`
	Responsible []int64   `json:"responsible,omitempty"`
}

// TaskSearch filters task and project searches. Zero values do not constrain.
type TaskSearch struct {
	Status    string
	DueBefore time.Time
	ProjectID int64
	Page      int
	Size      int
}

func (s TaskSearch) query() string {
	v := url.Values{}
	if s.Status != "" {
		v.Set("status", s.Status)
	}
	if !s.DueBefore.IsZero() {
		v.Set("due_date", s.DueBefore.UTC().Format(time.RFC3339))
	}
	if s.ProjectID != 0 {
		v.Set("project_id", fmt.Sprint(s.ProjectID))
	}
	if s.Page > 0 {
		v.Set("page", fmt.Sprint(s.Page))
	}
	if s.Size > 0 {
		v.Set("size", fmt.Sprint(s.Size))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

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

// Register creates an account with the USER role.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	body := map[string]any{
		"username":         username,
		"email":            email,
		"password":         password,
		"password_confirm": password,
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "users/register", body, &resp)
	return resp, err
}

// Authenticate exchanges credentials for a token and keeps it for later calls.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Token, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp Token
	if err := c.do(ctx, http.MethodPost, "auth/authenticate", body, &resp); err != nil {
		return Token{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

func (c *Client) CreateProject(ctx context.Context, title, description string, team []int64) (Project, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	if team != nil {
		body["team"] = team
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context, page, size int) (Page[Project], error) {
	var resp Page[Project]
	err := c.do(ctx, http.MethodGet, "projects"+TaskSearch{Page: page, Size: size}.query(), nil, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("projects/%d", id), nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, projectID int64, task NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/tasks", projectID), task, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, projectID, taskID int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d/tasks/%d", projectID, taskID), nil, &resp)
	return resp, err
}

// SetTaskStatus moves a task to TODO, INPROGRESS or DONE.
func (c *Client) SetTaskStatus(ctx context.Context, projectID, taskID int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("projects/%d/tasks/%d", projectID, taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, projectID, taskID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("projects/%d/tasks/%d", projectID, taskID), nil, nil)
}

func (c *Client) SearchTasks(ctx context.Context, s TaskSearch) (Page[Task], error) {
	var resp Page[Task]
	err := c.do(ctx, http.MethodGet, "tasks/search"+s.query(), nil, &resp)
	return resp, err
}

func (c *Client) SearchProjects(ctx context.Context, s TaskSearch) (Page[Project], error) {
	var resp Page[Project]
	err := c.do(ctx, http.MethodGet, "projects/search"+s.query(), nil, &resp)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
