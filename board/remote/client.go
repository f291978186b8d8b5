// Package remote is the HTTP client of the task service.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/task-api/domain"
)

const maxErrorBody = 64 << 10

// Client talks to the task-api HTTP surface. Server error codes are mapped
// back to the domain sentinels; transport failures, timeouts and 5xx
// responses surface as domain.ErrRemoteUnavailable.
type Client struct {
	baseURL string
	token   string
	owner   string
	http    *http.Client
	logger  *log.Logger
}

type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithOwner lists tasks of owner when no credential identifies the caller.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// ListTasks returns the list projection of the caller's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	path := "/api/tasks"
	if c.owner != "" {
		path += "?ownerId=" + url.QueryEscape(c.owner)
	}
	var out tasksResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	if out.Tasks == nil {
		out.Tasks = []domain.Task{}
	}
	return out.Tasks, nil
}

// GetTask returns a task with its activity log.
func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &out, nil)
	return out, err
}

// CreateTask creates a task. A non-empty idempotencyKey lets the call be
// retried without creating duplicates.
func (c *Client) CreateTask(ctx context.Context, in domain.NewTask, idempotencyKey string) (domain.Task, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", in, &out, headers)
	return out, err
}

// UpdateTask sends a partial update. Keys are wire field names.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPut, taskPath(id), fields, &out, nil)
	return out, err
}

// UpdateStatus moves a task to another column on the server.
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := c.UpdateTask(ctx, id, map[string]any{"status": status})
	return err
}

func (c *Client) AddComment(ctx context.Context, id, text string) (domain.Comment, error) {
	var out domain.Comment
	err := c.do(ctx, http.MethodPost, taskPath(id)+"/comments", map[string]string{"text": text}, &out, nil)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
}

// Me returns the user identified by the configured token.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var out domain.User
	err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &out, nil)
	return out, err
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	entry := c.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if resp.StatusCode >= 400 {
		entry.Debug("task service returned an error")
		return decodeError(resp)
	}
	entry.Debug("task service request")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", domain.ErrRemoteUnavailable, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiError
	_ = sonic.ConfigStd.Unmarshal(data, &apiErr)

	if resp.StatusCode >= 500 && apiErr.Code != domain.CodeUnavailable {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%w: %s", domain.ErrRemoteUnavailable, msg)
	}
	if apiErr.Code == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return domain.ErrorForCode(apiErr.Code, apiErr.Message)
}
