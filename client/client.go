// Package client provides a Go client for a remote pendulum server over
// its HTTP API.
//
// Usage:
//
//	c := client.New("http://localhost:8787")
//
//	// Submit a mutation and wait for the workflow to settle.
//	receipt, err := c.CreateEvent(ctx, engine.CreateEventRequest{
//	    Calendar: "Home",
//	    Title:    "Dentist",
//	    AllDay:   true,
//	    Date:     "2026-02-04",
//	})
//	wf, err := c.PollWorkflow(ctx, receipt.WorkflowID, nil)
//
// Server-side sentinels survive the wire: a 400 satisfies
// errors.Is(err, pendulum.ErrValidation), a 404 satisfies errors.Is
// against the not-found sentinels, and a 503 satisfies
// errors.Is(err, pendulum.ErrDependencyUnavailable).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/engine"
	"github.com/xraph/pendulum/resolver"
)

// Client talks to a remote pendulum server.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StatusError is a non-2xx server response. It maps status codes back
// onto the package sentinels so errors.Is works across the wire.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Is maps the status code back to the sentinel family it was mapped
// from on the server.
func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusBadRequest:
		return target == pendulum.ErrValidation
	case http.StatusNotFound:
		return pendulum.IsNotFound(target)
	case http.StatusServiceUnavailable:
		return target == pendulum.ErrDependencyUnavailable
	}

	return false
}

// CreateEvent submits a create mutation.
func (c *Client) CreateEvent(ctx context.Context, req engine.CreateEventRequest) (*engine.Receipt, error) {
	var receipt engine.Receipt
	if err := c.post(ctx, "/v1/events/create", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpdateEvent submits an update mutation.
func (c *Client) UpdateEvent(ctx context.Context, req engine.UpdateEventRequest) (*engine.Receipt, error) {
	var receipt engine.Receipt
	if err := c.post(ctx, "/v1/events/update", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DeleteEvent submits a delete mutation.
func (c *Client) DeleteEvent(ctx context.Context, req engine.DeleteEventRequest) (*engine.Receipt, error) {
	var receipt engine.Receipt
	if err := c.post(ctx, "/v1/events/delete", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// BulkDeleteEvents starts a bulk delete workflow.
func (c *Client) BulkDeleteEvents(ctx context.Context, req engine.BulkDeleteRequest) (*engine.Receipt, error) {
	var receipt engine.Receipt
	if err := c.post(ctx, "/v1/events/bulk-delete", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Calendars lists the containers known to the item store.
func (c *Client) Calendars(ctx context.Context) ([]resolver.CalendarRef, error) {
	var cals []resolver.CalendarRef
	if err := c.get(ctx, "/v1/calendars", &cals); err != nil {
		return nil, err
	}
	return cals, nil
}

// TriggerSync asks the server to nudge the sync agent for an account.
func (c *Client) TriggerSync(ctx context.Context, accountID string) error {
	body := map[string]string{"account_id": accountID}
	return c.post(ctx, "/v1/sync/trigger", body, nil)
}

// Health reports whether the server and its provider are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}

		return &StatusError{Code: res.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
