package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"rxfeedback/services/feedback"
	"rxfeedback/services/settings"
	"rxfeedback/services/syncapi"
)

// API is the server surface the controller talks to.
type API interface {
	Sync(ctx context.Context, req syncapi.Request) (feedback.Record, error)
	Session(ctx context.Context, id uuid.UUID) (feedback.Record, error)
	Config(ctx context.Context) (settings.Public, error)
}

// Error is a failed call as reported by the server. It matches the feedback
// sentinels by status code.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case feedback.ErrValidation:
		return e.Status == http.StatusBadRequest
	case feedback.ErrNotFound:
		return e.Status == http.StatusNotFound
	case feedback.ErrStorage:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

// Client calls the feedback HTTP API.
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient gets
// a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(parsed.String(), "/"), client: httpClient}, nil
}

// Sync posts one operation and returns the record the server confirmed.
func (c *Client) Sync(ctx context.Context, req syncapi.Request) (feedback.Record, error) {
	body, err := syncapi.Encode(req)
	if err != nil {
		return feedback.Record{}, err
	}
	return c.result(ctx, http.MethodPost, "/api/feedback/sync", body)
}

// Session fetches the current server state of a record.
func (c *Client) Session(ctx context.Context, id uuid.UUID) (feedback.Record, error) {
	return c.result(ctx, http.MethodGet, "/api/feedback/sessions/"+id.String(), nil)
}

// Config fetches the public page flags.
func (c *Client) Config(ctx context.Context) (settings.Public, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/feedback/config", nil)
	if err != nil {
		return settings.Public{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return settings.Public{}, errorFrom(resp)
	}
	var cfg settings.Public
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return settings.Public{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c *Client) result(ctx context.Context, method, path string, body []byte) (feedback.Record, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return feedback.Record{}, err
	}
	defer resp.Body.Close()

	var res syncapi.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return feedback.Record{}, &Error{Status: resp.StatusCode, Message: "undecodable response"}
	}
	if !res.Success || res.Data == nil {
		msg := res.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusInternalServerError
		}
		return feedback.Record{}, &Error{Status: status, Message: msg}
	}
	return *res.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func errorFrom(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
