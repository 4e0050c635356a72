package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/gitea-relay/internal/events"
)

// APIError is a non-2xx admin API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %d %s", e.Status, e.Message)
}

// Client talks to a running relay's admin API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) List(ctx context.Context) (ListResponse, error) {
	var out ListResponse
	err := c.do(ctx, http.MethodGet, "/monitors", nil, &out)
	return out, err
}

// Add registers a monitor. A non-empty Warning with a nil error means the
// monitor is live but was not saved.
func (c *Client) Add(ctx context.Context, repoURL, secret, group string) (MonitorResponse, error) {
	var out MonitorResponse
	err := c.do(ctx, http.MethodPost, "/monitors", AddRequest{RepoURL: repoURL, Secret: secret, Group: group}, &out)
	return out, err
}

func (c *Client) Remove(ctx context.Context, repoURL string) (MonitorResponse, error) {
	var out MonitorResponse
	err := c.do(ctx, http.MethodDelete, "/monitors?repo_url="+url.QueryEscape(repoURL), nil, &out)
	return out, err
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.do(ctx, http.MethodGet, "/info", nil, &out)
	return out, err
}

func (c *Client) Deliveries(ctx context.Context, limit int) (DeliveriesResponse, error) {
	path := "/deliveries"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out DeliveriesResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// Stream follows GET /events and calls fn for each event until ctx is done,
// the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(events.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// no client timeout: the stream is long-lived
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	return events.ReadStream(ctx, resp.Body, fn)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read admin api response: %w", err)
	}

	if resp.StatusCode >= 300 {
		// a failed save still reports the applied change
		if mr, ok := out.(*MonitorResponse); ok && resp.StatusCode == http.StatusInternalServerError {
			if json.Unmarshal(data, mr) == nil && mr.Warning != "" {
				return nil
			}
		}
		var e ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode admin api response: %w", err)
	}
	return nil
}
