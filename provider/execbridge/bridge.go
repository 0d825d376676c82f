// Package execbridge adapts a command-line bridge into a mutation
// provider. Each dispatch runs the configured executable with the
// request JSON on stdin and parses a completion JSON from stdout, the
// way desktop calendar agents are typically scripted against.
package execbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/provider"
)

// Compile-time interface check.
var _ provider.Provider = (*Bridge)(nil)

// Bridge shells out to a bridge command per mutation.
type Bridge struct {
	command string
	args    []string
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithArgs sets fixed arguments passed before the request.
func WithArgs(args ...string) Option {
	return func(b *Bridge) { b.args = args }
}

// WithLogger sets the logger for completion reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a Bridge running the given command.
func New(command string, opts ...Option) *Bridge {
	b := &Bridge{
		command: command,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Ready resolves the bridge command on PATH.
func (b *Bridge) Ready(_ context.Context) error {
	if b.command == "" {
		return fmt.Errorf("%w: no bridge command configured", pendulum.ErrDependencyUnavailable)
	}

	if _, err := exec.LookPath(b.command); err != nil {
		return fmt.Errorf("%w: bridge command %q: %v", pendulum.ErrDependencyUnavailable, b.command, err)
	}

	return nil
}

// Dispatch launches the bridge subprocess and returns immediately. The
// subprocess is detached from the request context: once issued, the
// mutation runs to completion regardless of who is still watching.
func (b *Bridge) Dispatch(_ context.Context, req provider.Request) (<-chan provider.Completion, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}

	ch := make(chan provider.Completion, 1)

	go b.run(payload, req, ch)

	return ch, nil
}

func (b *Bridge) run(payload []byte, req provider.Request, ch chan<- provider.Completion) {
	cmd := exec.Command(b.command, b.args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}

		b.logger.Warn("bridge command failed",
			slog.String("kind", string(req.Kind)),
			slog.String("calendar_id", req.CalendarID),
			slog.String("detail", detail))

		ch <- provider.Completion{Code: 1, Detail: detail}

		return
	}

	var comp provider.Completion
	if err := json.Unmarshal(stdout.Bytes(), &comp); err != nil {
		b.logger.Warn("bridge emitted malformed completion",
			slog.String("kind", string(req.Kind)),
			slog.String("output", strings.TrimSpace(stdout.String())))

		ch <- provider.Completion{Code: 1, Detail: fmt.Sprintf("malformed bridge output: %v", err)}

		return
	}

	b.logger.Debug("bridge completion",
		slog.String("kind", string(req.Kind)),
		slog.Int("code", comp.Code),
		slog.String("item_id", comp.ItemID))

	ch <- comp
}
