package syncagent

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
)

// Compile-time interface check.
var _ Trigger = (*HTTPTrigger)(nil)

// HTTPTrigger posts trigger commands to the agent's HTTP endpoint.
type HTTPTrigger struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// HTTPOption configures an HTTPTrigger.
type HTTPOption func(*HTTPTrigger)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTrigger) { t.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTPTrigger) { t.logger = logger }
}

// NewHTTP creates a trigger posting to the given URL.
func NewHTTP(url string, opts ...HTTPOption) *HTTPTrigger {
	t := &HTTPTrigger{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// TriggerSync implements Trigger. Any 2xx response is acceptance.
func (t *HTTPTrigger) TriggerSync(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: missing account id", pendulum.ErrValidation)
	}

	body, err := json.Marshal(map[string]string{"account_id": accountID})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger sync for account %q: %w", accountID, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trigger sync for account %q: agent returned %s", accountID, resp.Status)
	}

	t.logger.Debug("sync trigger accepted", slog.String("account_id", accountID))

	return nil
}
