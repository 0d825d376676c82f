package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/engine"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/provider"
	"github.com/xraph/pendulum/resolver"
	"github.com/xraph/pendulum/store/memory"
	"github.com/xraph/pendulum/workflow"
)

// fakeProvider answers each request via respond (default: success with
// a generated item id). When hold is non-nil the completion is not
// delivered until hold closes. readyErr fails the readiness check.
type fakeProvider struct {
	mu       sync.Mutex
	requests []provider.Request
	respond  func(req provider.Request) provider.Completion
	hold     <-chan struct{}
	readyErr error
}

func (p *fakeProvider) Ready(context.Context) error { return p.readyErr }

func (p *fakeProvider) Dispatch(_ context.Context, req provider.Request) (<-chan provider.Completion, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	respond := p.respond
	hold := p.hold
	p.mu.Unlock()

	c := provider.Completion{ItemID: fmt.Sprintf("item-%d", n)}
	if respond != nil {
		c = respond(req)
	}

	ch := make(chan provider.Completion, 1)

	if hold != nil {
		go func() {
			<-hold
			ch <- c
		}()
		return ch, nil
	}

	ch <- c
	return ch, nil
}

func (p *fakeProvider) last() provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// fakeItems is a canned item store serving one calendar.
type fakeItems struct {
	cal   resolver.CalendarRef
	items []resolver.Candidate
}

func (f *fakeItems) LookupCalendar(_ context.Context, name string) (*resolver.CalendarRef, error) {
	if name != f.cal.Title {
		return nil, fmt.Errorf("%w: %q", pendulum.ErrCalendarNotFound, name)
	}

	cal := f.cal
	return &cal, nil
}

func (f *fakeItems) QueryItems(_ context.Context, _ string, _ resolver.Window, onBatch func([]resolver.Candidate) error) error {
	if len(f.items) == 0 {
		return nil
	}
	return onBatch(f.items)
}

func (f *fakeItems) ListCalendars(context.Context) ([]resolver.CalendarRef, error) {
	return []resolver.CalendarRef{f.cal}, nil
}

// recTrigger records sync trigger calls.
type recTrigger struct {
	mu    sync.Mutex
	calls []string
}

func (r *recTrigger) TriggerSync(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, accountID)
	return nil
}

func (r *recTrigger) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// shiftClock is a real clock with an adjustable forward offset, for TTL
// expiry and retention tests.
type shiftClock struct {
	offset atomic.Int64
}

func (c *shiftClock) now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *shiftClock) advance(d time.Duration) {
	c.offset.Add(int64(d))
}

var testCalendar = resolver.CalendarRef{ID: "cal-1", Title: "Home", AccountID: "acct-1"}

func testConfig() pendulum.Config {
	cfg := pendulum.DefaultConfig()
	cfg.SettleWait = 0
	cfg.ProviderDeadline = time.Second
	cfg.Location = time.UTC
	return cfg
}

func newTestEngine(t *testing.T, st *memory.Store, prov *fakeProvider, items resolver.ItemStore, trig *recTrigger, opts ...engine.Option) *engine.Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if items == nil {
		items = &fakeItems{cal: testCalendar}
	}
	if trig == nil {
		trig = &recTrigger{}
	}

	base := []engine.Option{
		engine.WithStore(st),
		engine.WithItemStore(items),
		engine.WithProvider(prov),
		engine.WithTrigger(trig),
		engine.WithConfig(testConfig()),
		engine.WithLogger(logger),
	}

	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	return eng
}

func waitTerminal(t *testing.T, eng *engine.Engine, workflowID id.WorkflowID) *workflow.Workflow {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		wf, err := eng.Workflow(context.Background(), workflowID)
		if err != nil {
			t.Fatalf("Workflow() error = %v", err)
		}
		if wf.Terminal() {
			return wf
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("workflow did not reach a terminal state in time")
	return nil
}

func allDayCreate() engine.CreateEventRequest {
	return engine.CreateEventRequest{
		Calendar: "Home",
		Title:    "Dentist",
		AllDay:   true,
		Date:     "2026-02-04",
	}
}

func TestCreateEvent_ReturnsPendingReceiptAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	eng := newTestEngine(t, st, prov, nil, nil)

	receipt, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	if !receipt.Pending {
		t.Error("Pending = false, want true on a fresh submission")
	}
	if receipt.AlreadyCreated {
		t.Error("AlreadyCreated = true, want false on a fresh submission")
	}
	if receipt.WorkflowID.IsNil() {
		t.Fatal("WorkflowID is nil")
	}

	final := waitTerminal(t, eng, receipt.WorkflowID)
	if final.State != workflow.StateDone {
		t.Fatalf("State = %q (error %q), want done", final.State, final.Error)
	}

	var result workflow.MutationResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ItemID != "item-1" {
		t.Errorf("result.ItemID = %q, want item-1", result.ItemID)
	}

	if got := final.Meta[pendulum.MetaKind]; got != string(workflow.KindCreate) {
		t.Errorf("meta kind = %q, want %q", got, workflow.KindCreate)
	}
	if got := final.Meta[pendulum.MetaAccount]; got != testCalendar.AccountID {
		t.Errorf("meta account = %q, want %q", got, testCalendar.AccountID)
	}

	if got := prov.last(); got.Kind != provider.KindAdd || got.CalendarID != testCalendar.ID {
		t.Errorf("provider request = %+v, want add against %s", got, testCalendar.ID)
	}
}

func TestCreateEvent_DuplicateWhilePendingSharesWorkflow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	hold := make(chan struct{})
	prov := &fakeProvider{hold: hold}
	eng := newTestEngine(t, st, prov, nil, nil)

	first, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	second, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() duplicate error = %v", err)
	}

	if !second.AlreadyCreated {
		t.Error("AlreadyCreated = false, want true for an in-flight duplicate")
	}
	if second.WorkflowID != first.WorkflowID {
		t.Errorf("duplicate workflow id = %s, want %s", second.WorkflowID, first.WorkflowID)
	}
	if !second.Pending {
		t.Error("Pending = false, want true while the first run is in flight")
	}
	if second.Result != nil {
		t.Errorf("Result = %s, want none while pending", second.Result)
	}

	close(hold)
	waitTerminal(t, eng, first.WorkflowID)

	workflows, err := st.ListWorkflows(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if len(workflows) != 1 {
		t.Errorf("workflows = %d, want exactly 1", len(workflows))
	}
}

func TestCreateEvent_DuplicateAfterCompletionCarriesResult(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	eng := newTestEngine(t, st, prov, nil, nil)

	first, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	final := waitTerminal(t, eng, first.WorkflowID)

	// The fingerprint settles just after the terminal record persists;
	// poll the duplicate until the completed payload shows up.
	var second *engine.Receipt
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		second, err = eng.CreateEvent(ctx, allDayCreate())
		if err != nil {
			t.Fatalf("CreateEvent() duplicate error = %v", err)
		}
		if !second.Pending {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if second.Pending {
		t.Fatal("duplicate still reported pending after the first run completed")
	}
	if !second.AlreadyCreated {
		t.Error("AlreadyCreated = false, want true")
	}
	if second.WorkflowID != first.WorkflowID {
		t.Errorf("workflow id = %s, want %s", second.WorkflowID, first.WorkflowID)
	}
	if string(second.Result) != string(final.Result) {
		t.Errorf("Result = %s, want %s", second.Result, final.Result)
	}
}

func TestCreateEvent_FreshWorkflowAfterTTLExpiry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	clock := &shiftClock{}

	cfg := testConfig()
	cfg.IdempotencyTTL = 30 * time.Minute

	eng := newTestEngine(t, st, prov, nil, nil,
		engine.WithConfig(cfg),
		engine.WithClock(clock.now),
	)

	first, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	waitTerminal(t, eng, first.WorkflowID)

	clock.advance(31 * time.Minute)

	second, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() after TTL error = %v", err)
	}

	if second.AlreadyCreated {
		t.Error("AlreadyCreated = true, want a fresh workflow after TTL expiry")
	}
	if second.WorkflowID == first.WorkflowID {
		t.Error("workflow id reused after TTL expiry")
	}
	waitTerminal(t, eng, second.WorkflowID)
}

func TestCreateEvent_ValidationFailsSynchronously(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng := newTestEngine(t, st, &fakeProvider{}, nil, nil)

	tests := []struct {
		name string
		req  engine.CreateEventRequest
	}{
		{"missing calendar", engine.CreateEventRequest{Title: "Dentist", AllDay: true, Date: "2026-02-04"}},
		{"missing title", engine.CreateEventRequest{Calendar: "Home", AllDay: true, Date: "2026-02-04"}},
		{"all-day without date", engine.CreateEventRequest{Calendar: "Home", Title: "Dentist", AllDay: true}},
		{"malformed date", engine.CreateEventRequest{Calendar: "Home", Title: "Dentist", AllDay: true, Date: "Feb 4th"}},
		{"timed without bounds", engine.CreateEventRequest{Calendar: "Home", Title: "Standup"}},
		{"start after end", engine.CreateEventRequest{Calendar: "Home", Title: "Standup", Start: "2026-02-04 10:00", End: "2026-02-04 09:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.CreateEvent(ctx, tt.req)
			if !errors.Is(err, pendulum.ErrValidation) {
				t.Errorf("CreateEvent() error = %v, want ErrValidation", err)
			}
		})
	}

	workflows, err := st.ListWorkflows(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if len(workflows) != 0 {
		t.Errorf("workflows = %d, want 0 after synchronous failures", len(workflows))
	}

	jobs, err := st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs = %d, want 0 after synchronous failures", len(jobs))
	}
}

func TestCreateEvent_UnknownCalendar(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng := newTestEngine(t, st, &fakeProvider{}, nil, nil)

	req := allDayCreate()
	req.Calendar = "Nope"

	_, err := eng.CreateEvent(ctx, req)
	if !errors.Is(err, pendulum.ErrCalendarNotFound) {
		t.Fatalf("CreateEvent() error = %v, want ErrCalendarNotFound", err)
	}
	if !pendulum.IsNotFound(err) {
		t.Error("IsNotFound() = false, want true")
	}

	workflows, _ := st.ListWorkflows(ctx, workflow.ListOpts{})
	if len(workflows) != 0 {
		t.Errorf("workflows = %d, want 0", len(workflows))
	}
}

func TestCreateEvent_ProviderNotReady(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{readyErr: errors.New("bridge binary missing")}
	eng := newTestEngine(t, st, prov, nil, nil)

	_, err := eng.CreateEvent(ctx, allDayCreate())
	if !errors.Is(err, pendulum.ErrDependencyUnavailable) {
		t.Fatalf("CreateEvent() error = %v, want ErrDependencyUnavailable", err)
	}

	workflows, _ := st.ListWorkflows(ctx, workflow.ListOpts{})
	if len(workflows) != 0 {
		t.Errorf("workflows = %d, want 0 when the provider is unavailable", len(workflows))
	}
}

func TestCreateEvent_FailedWorkflowReleasesFingerprint(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{
		respond: func(provider.Request) provider.Completion {
			return provider.Completion{Code: 7, Detail: "agent rejected"}
		},
	}
	eng := newTestEngine(t, st, prov, nil, nil)

	first, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	final := waitTerminal(t, eng, first.WorkflowID)
	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want error", final.State)
	}

	// Stop failing so the retry can succeed.
	prov.mu.Lock()
	prov.respond = nil
	prov.mu.Unlock()

	// The claim releases just after the terminal record persists; poll
	// the retry until it starts a fresh workflow.
	var second *engine.Receipt
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		second, err = eng.CreateEvent(ctx, allDayCreate())
		if err != nil {
			t.Fatalf("CreateEvent() retry error = %v", err)
		}
		if !second.AlreadyCreated {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if second.AlreadyCreated {
		t.Fatal("retry still deduplicated against the failed workflow")
	}
	if second.WorkflowID == first.WorkflowID {
		t.Error("retry reused the failed workflow id")
	}
	waitTerminal(t, eng, second.WorkflowID)
}

func TestUpdateEvent_DispatchesModify(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	eng := newTestEngine(t, st, prov, nil, nil)

	receipt, err := eng.UpdateEvent(ctx, engine.UpdateEventRequest{
		Calendar: "Home",
		ItemID:   "evt-9",
		Title:    "Dentist (moved)",
		Start:    "2026-02-05 09:00",
		End:      "2026-02-05 09:30",
	})
	if err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}

	final := waitTerminal(t, eng, receipt.WorkflowID)
	if final.State != workflow.StateDone {
		t.Fatalf("State = %q (error %q), want done", final.State, final.Error)
	}

	got := prov.last()
	if got.Kind != provider.KindModify {
		t.Errorf("request kind = %q, want modify", got.Kind)
	}
	if got.ItemID != "evt-9" {
		t.Errorf("request item id = %q, want evt-9", got.ItemID)
	}
	if got.Item.Title != "Dentist (moved)" {
		t.Errorf("request title = %q", got.Item.Title)
	}
	if got.Item.StartMicros >= got.Item.EndMicros {
		t.Errorf("request span = [%d, %d), want positive", got.Item.StartMicros, got.Item.EndMicros)
	}
}

func TestDeleteEvent_DeduplicatesPerItem(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	hold := make(chan struct{})
	prov := &fakeProvider{hold: hold}
	eng := newTestEngine(t, st, prov, nil, nil)

	first, err := eng.DeleteEvent(ctx, engine.DeleteEventRequest{Calendar: "Home", ItemID: "evt-1"})
	if err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}

	dup, err := eng.DeleteEvent(ctx, engine.DeleteEventRequest{Calendar: "Home", ItemID: "evt-1"})
	if err != nil {
		t.Fatalf("DeleteEvent() duplicate error = %v", err)
	}
	if !dup.AlreadyCreated || dup.WorkflowID != first.WorkflowID {
		t.Errorf("duplicate = %+v, want AlreadyCreated with id %s", dup, first.WorkflowID)
	}

	other, err := eng.DeleteEvent(ctx, engine.DeleteEventRequest{Calendar: "Home", ItemID: "evt-2"})
	if err != nil {
		t.Fatalf("DeleteEvent() other item error = %v", err)
	}
	if other.AlreadyCreated {
		t.Error("delete of a different item deduplicated against the first")
	}
	if other.WorkflowID == first.WorkflowID {
		t.Error("distinct items share a workflow id")
	}

	close(hold)
	waitTerminal(t, eng, first.WorkflowID)
	waitTerminal(t, eng, other.WorkflowID)
}

func TestBulkDeleteEvents_ReportsPartialFailures(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	items := &fakeItems{
		cal: testCalendar,
		items: []resolver.Candidate{
			{ExternalID: "it-1", Title: "Standup Mon"},
			{ExternalID: "it-2", Title: "Standup Wed"},
			{ExternalID: "it-3", Title: "Standup Fri"},
			{ExternalID: "it-4", Title: "Retro"},
			{ExternalID: "it-5", Title: "Planning"},
		},
	}
	prov := &fakeProvider{
		respond: func(req provider.Request) provider.Completion {
			if req.ItemID == "it-2" {
				return provider.Completion{Code: 3, Detail: "agent rejected"}
			}
			return provider.Completion{ItemID: req.ItemID}
		},
	}
	eng := newTestEngine(t, st, prov, items, nil)

	receipt, err := eng.BulkDeleteEvents(ctx, engine.BulkDeleteRequest{
		Calendar:            "Home",
		Start:               "2026-02-02",
		End:                 "2026-02-09",
		TitleMustContainAll: []string{"standup"},
	})
	if err != nil {
		t.Fatalf("BulkDeleteEvents() error = %v", err)
	}
	if !receipt.Pending {
		t.Error("Pending = false, want true")
	}

	final := waitTerminal(t, eng, receipt.WorkflowID)
	if final.State != workflow.StateDone {
		t.Fatalf("State = %q (error %q), want done despite candidate failures", final.State, final.Error)
	}

	var result workflow.BulkResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	if result.Matched != 3 {
		t.Errorf("Matched = %d, want 3", result.Matched)
	}
	if result.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", result.Deleted)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "it-2") {
		t.Errorf("Errors = %v, want one entry naming it-2", result.Errors)
	}
}

func TestBulkDeleteEvents_ValidationFailsSynchronously(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng := newTestEngine(t, st, &fakeProvider{}, nil, nil)

	tests := []struct {
		name string
		req  engine.BulkDeleteRequest
	}{
		{"no predicate", engine.BulkDeleteRequest{Calendar: "Home", Start: "2026-02-02", End: "2026-02-09"}},
		{"blank predicate", engine.BulkDeleteRequest{Calendar: "Home", Start: "2026-02-02", End: "2026-02-09", TitleMustContainAll: []string{"  "}}},
		{"malformed window", engine.BulkDeleteRequest{Calendar: "Home", Start: "next week", End: "2026-02-09", TitleMustContainAll: []string{"standup"}}},
		{"inverted window", engine.BulkDeleteRequest{Calendar: "Home", Start: "2026-02-09", End: "2026-02-02", TitleMustContainAll: []string{"standup"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.BulkDeleteEvents(ctx, tt.req)
			if !errors.Is(err, pendulum.ErrValidation) {
				t.Errorf("BulkDeleteEvents() error = %v, want ErrValidation", err)
			}
		})
	}

	workflows, err := st.ListWorkflows(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if len(workflows) != 0 {
		t.Errorf("workflows = %d, want 0; no deletes may be dispatched", len(workflows))
	}
}

func TestTriggerSync_ValidatesAndDelegates(t *testing.T) {
	ctx := context.Background()
	trig := &recTrigger{}
	eng := newTestEngine(t, memory.New(), &fakeProvider{}, nil, trig)

	if err := eng.TriggerSync(ctx, "  "); !errors.Is(err, pendulum.ErrValidation) {
		t.Errorf("TriggerSync(blank) error = %v, want ErrValidation", err)
	}

	if err := eng.TriggerSync(ctx, "acct-1"); err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}

	if got := trig.list(); len(got) != 1 || got[0] != "acct-1" {
		t.Errorf("trigger calls = %v, want [acct-1]", got)
	}
}

func TestReads_NotFound(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, memory.New(), &fakeProvider{}, nil, nil)

	if _, err := eng.Job(ctx, id.NewJobID()); !errors.Is(err, pendulum.ErrJobNotFound) {
		t.Errorf("Job() error = %v, want ErrJobNotFound", err)
	}

	if _, err := eng.Workflow(ctx, id.NewWorkflowID()); !errors.Is(err, pendulum.ErrWorkflowNotFound) {
		t.Errorf("Workflow() error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestCalendars_ListsContainers(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, memory.New(), &fakeProvider{}, nil, nil)

	cals, err := eng.Calendars(ctx)
	if err != nil {
		t.Fatalf("Calendars() error = %v", err)
	}
	if len(cals) != 1 || cals[0] != testCalendar {
		t.Errorf("Calendars() = %v, want [%v]", cals, testCalendar)
	}
}

func TestNew_RequiresCoreParts(t *testing.T) {
	if _, err := engine.New(); !errors.Is(err, pendulum.ErrNoStore) {
		t.Errorf("New() error = %v, want ErrNoStore", err)
	}

	_, err := engine.New(engine.WithStore(memory.New()))
	if err == nil || !strings.Contains(err.Error(), "item store") {
		t.Errorf("New() error = %v, want item store requirement", err)
	}

	_, err = engine.New(
		engine.WithStore(memory.New()),
		engine.WithItemStore(&fakeItems{cal: testCalendar}),
	)
	if err == nil || !strings.Contains(err.Error(), "provider") {
		t.Errorf("New() error = %v, want provider requirement", err)
	}
}

func TestRetentionSweep_PurgesTerminalRecordsOnly(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	hold := make(chan struct{})
	defer close(hold)

	prov := &fakeProvider{}
	clock := &shiftClock{}

	cfg := testConfig()
	cfg.Retention = time.Hour
	cfg.SweepInterval = 10 * time.Millisecond

	eng := newTestEngine(t, st, prov, nil, nil,
		engine.WithConfig(cfg),
		engine.WithClock(clock.now),
	)

	done, err := eng.CreateEvent(ctx, allDayCreate())
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	waitTerminal(t, eng, done.WorkflowID)

	// A second submission held at the mutate step stays running.
	prov.mu.Lock()
	prov.hold = hold
	prov.mu.Unlock()

	running, err := eng.CreateEvent(ctx, engine.CreateEventRequest{
		Calendar: "Home",
		Title:    "Standup",
		Start:    "2026-02-04 09:00",
		End:      "2026-02-04 09:15",
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	clock.advance(2 * time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	purged := false
	for time.Now().Before(deadline) {
		if _, err := eng.Workflow(ctx, done.WorkflowID); errors.Is(err, pendulum.ErrWorkflowNotFound) {
			purged = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !purged {
		t.Fatal("terminal workflow survived the retention sweep")
	}

	if _, err := eng.Workflow(ctx, running.WorkflowID); err != nil {
		t.Errorf("running workflow purged: %v", err)
	}

	jobs, err := st.ListJobs(ctx, job.ListOpts{State: job.StateDone})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("terminal jobs remaining = %d, want 0", len(jobs))
	}

	pending, err := st.ListJobs(ctx, job.ListOpts{State: job.StatePending})
	if err != nil {
		t.Fatalf("ListJobs(pending) error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending jobs = %d, want the held mutation to survive", len(pending))
	}
}
