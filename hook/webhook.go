package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Lifecycle event types. Each constant maps to one lifecycle hook and
// becomes the "event" field of the delivered envelope.
const (
	EventWorkflowStarted   = "pendulum.workflow.started"
	EventStepCompleted     = "pendulum.workflow.step_completed"
	EventStepFailed        = "pendulum.workflow.step_failed"
	EventWorkflowCompleted = "pendulum.workflow.completed"
	EventWorkflowFailed    = "pendulum.workflow.failed"
	EventJobResolved       = "pendulum.job.resolved"
)

// Compile-time interface checks.
var (
	_ Hook              = (*Webhook)(nil)
	_ WorkflowStarted   = (*Webhook)(nil)
	_ StepCompleted     = (*Webhook)(nil)
	_ StepFailed        = (*Webhook)(nil)
	_ WorkflowCompleted = (*Webhook)(nil)
	_ WorkflowFailed    = (*Webhook)(nil)
	_ JobResolved       = (*Webhook)(nil)
)

// webhookQueueSize bounds the number of undelivered events held in
// memory. Events past the bound are dropped, never blocked on.
const webhookQueueSize = 128

// Webhook POSTs lifecycle events to a receiver URL as JSON envelopes.
// Delivery is asynchronous: lifecycle calls enqueue and return, and a
// single background loop performs the HTTP requests. A slow or dead
// receiver therefore costs Pendulum dropped events, not stalled
// protocols.
type Webhook struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	enabled map[string]bool // nil = all enabled

	queue chan envelope
	done  chan struct{}
	once  sync.Once
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookEvents restricts the hook to deliver only the listed event
// types. By default all six event types are delivered. Unknown types
// are silently ignored.
func WithWebhookEvents(events ...string) WebhookOption {
	return func(w *Webhook) {
		w.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			w.enabled[e] = true
		}
	}
}

// WithWebhookClient sets the HTTP client used for delivery.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.client = c
	}
}

// WithWebhookLogger sets the logger for delivery failures and drops.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = logger
	}
}

// NewWebhook creates a Webhook delivering to url and starts its
// delivery loop. Callers own the lifecycle: call Close after the
// engine has stopped emitting.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
		queue:  make(chan envelope, webhookQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.deliverLoop()

	return w
}

// Name implements Hook.
func (w *Webhook) Name() string { return "webhook" }

// Close drains queued events and stops the delivery loop. It must not
// race with lifecycle emits; stop the engine first.
func (w *Webhook) Close() {
	w.once.Do(func() { close(w.queue) })
	<-w.done
}

// ── Lifecycle hooks ─────────────────────────────────

// OnWorkflowStarted implements WorkflowStarted.
func (w *Webhook) OnWorkflowStarted(ctx context.Context, wf *workflow.Workflow) error {
	w.send(EventWorkflowStarted, newWorkflowPayload(wf))
	return nil
}

// OnStepCompleted implements StepCompleted.
func (w *Webhook) OnStepCompleted(ctx context.Context, wf *workflow.Workflow, step workflow.Step, elapsed time.Duration) error {
	w.send(EventStepCompleted, &workflowStepPayload{
		workflowPayload: *newWorkflowPayload(wf),
		Step:            string(step),
		ElapsedMs:       elapsed.Milliseconds(),
	})
	return nil
}

// OnStepFailed implements StepFailed.
func (w *Webhook) OnStepFailed(ctx context.Context, wf *workflow.Workflow, step workflow.Step, stepErr error) error {
	w.send(EventStepFailed, &workflowStepPayload{
		workflowPayload: *newWorkflowPayload(wf),
		Step:            string(step),
		Error:           stepErr.Error(),
	})
	return nil
}

// OnWorkflowCompleted implements WorkflowCompleted.
func (w *Webhook) OnWorkflowCompleted(ctx context.Context, wf *workflow.Workflow, elapsed time.Duration) error {
	w.send(EventWorkflowCompleted, &workflowCompletedPayload{
		workflowPayload: *newWorkflowPayload(wf),
		ElapsedMs:       elapsed.Milliseconds(),
	})
	return nil
}

// OnWorkflowFailed implements WorkflowFailed.
func (w *Webhook) OnWorkflowFailed(ctx context.Context, wf *workflow.Workflow, wfErr error) error {
	w.send(EventWorkflowFailed, &workflowFailedPayload{
		workflowPayload: *newWorkflowPayload(wf),
		Step:            string(wf.Step),
		Error:           wfErr.Error(),
	})
	return nil
}

// OnJobResolved implements JobResolved.
func (w *Webhook) OnJobResolved(ctx context.Context, j *job.Job) error {
	w.send(EventJobResolved, &jobPayload{
		JobID: j.ID.String(),
		State: string(j.State),
		Error: j.Error,
	})
	return nil
}

// ── Delivery ────────────────────────────────────────

// envelope is the wire shape delivered to the receiver.
type envelope struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// send enqueues an event for delivery if its type is enabled. A full
// queue drops the event with a warning.
func (w *Webhook) send(event string, data any) {
	if w.enabled != nil && !w.enabled[event] {
		return
	}

	env := envelope{Event: event, OccurredAt: time.Now().UTC(), Data: data}

	select {
	case w.queue <- env:
	default:
		w.logger.Warn("webhook queue full, dropping event",
			slog.String("event", event),
		)
	}
}

func (w *Webhook) deliverLoop() {
	defer close(w.done)

	for env := range w.queue {
		w.deliver(env)
	}
}

// deliver POSTs one envelope. Failures are logged and dropped; the
// receiver is an observer, not a participant, and gets no retries.
func (w *Webhook) deliver(env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		w.logger.Error("webhook payload encode failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("webhook request build failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain enables connection reuse

	if resp.StatusCode >= http.StatusMultipleChoices {
		w.logger.Warn("webhook delivery rejected",
			slog.String("event", env.Event),
			slog.Int("status", resp.StatusCode),
		)
	}
}

// ── Payload types ───────────────────────────────────

type workflowPayload struct {
	WorkflowID string `json:"workflow_id"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Calendar   string `json:"calendar,omitempty"`
	Account    string `json:"account,omitempty"`
}

func newWorkflowPayload(wf *workflow.Workflow) *workflowPayload {
	return &workflowPayload{
		WorkflowID: wf.ID.String(),
		Kind:       string(wf.Kind),
		State:      string(wf.State),
		Calendar:   wf.Meta[pendulum.MetaCalendar],
		Account:    wf.Meta[pendulum.MetaAccount],
	}
}

type workflowStepPayload struct {
	workflowPayload
	Step      string `json:"step"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type workflowCompletedPayload struct {
	workflowPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type workflowFailedPayload struct {
	workflowPayload
	Step  string `json:"step"`
	Error string `json:"error"`
}

type jobPayload struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}
