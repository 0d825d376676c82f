package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/provider"
	"github.com/xraph/pendulum/resolver"
	"github.com/xraph/pendulum/store/memory"
	"github.com/xraph/pendulum/workflow"
)

// seqTrigger records trigger calls and fails them per a scripted
// position: errs[i] is returned for call i.
type seqTrigger struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (s *seqTrigger) TriggerSync(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.calls)
	s.calls = append(s.calls, accountID)

	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func (s *seqTrigger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeProvider answers each request via respond (default: success with
// a generated item id). When hold is non-nil the completion is not
// delivered until hold closes.
type fakeProvider struct {
	mu          sync.Mutex
	requests    []provider.Request
	respond     func(req provider.Request) provider.Completion
	hold        <-chan struct{}
	dispatchErr error
}

func (p *fakeProvider) Ready(context.Context) error { return nil }

func (p *fakeProvider) Dispatch(_ context.Context, req provider.Request) (<-chan provider.Completion, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()

	if p.dispatchErr != nil {
		return nil, p.dispatchErr
	}

	c := provider.Completion{ItemID: fmt.Sprintf("item-%d", n)}
	if p.respond != nil {
		c = p.respond(req)
	}

	ch := make(chan provider.Completion, 1)

	if p.hold != nil {
		hold := p.hold
		go func() {
			<-hold
			ch <- c
		}()
		return ch, nil
	}

	ch <- c
	return ch, nil
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeItems is a canned item store serving one calendar, streaming its
// items in batches of batchSize (0 means one batch).
type fakeItems struct {
	cal       resolver.CalendarRef
	items     []resolver.Candidate
	batchSize int
}

func (f *fakeItems) LookupCalendar(_ context.Context, name string) (*resolver.CalendarRef, error) {
	if name != f.cal.Title {
		return nil, fmt.Errorf("%w: %q", pendulum.ErrCalendarNotFound, name)
	}

	cal := f.cal
	return &cal, nil
}

func (f *fakeItems) QueryItems(_ context.Context, _ string, _ resolver.Window, onBatch func([]resolver.Candidate) error) error {
	size := f.batchSize
	if size <= 0 {
		size = len(f.items)
	}

	for start := 0; start < len(f.items); start += size {
		end := start + size
		if end > len(f.items) {
			end = len(f.items)
		}
		if err := onBatch(f.items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeItems) ListCalendars(context.Context) ([]resolver.CalendarRef, error) {
	return []resolver.CalendarRef{f.cal}, nil
}

// recordingEmitter captures the lifecycle event stream.
type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, s)
}

func (e *recordingEmitter) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *recordingEmitter) EmitWorkflowStarted(context.Context, *workflow.Workflow) {
	e.add("started")
}

func (e *recordingEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Workflow, s workflow.Step, _ time.Duration) {
	e.add("step:" + string(s))
}

func (e *recordingEmitter) EmitStepFailed(_ context.Context, _ *workflow.Workflow, s workflow.Step, _ error) {
	e.add("fail:" + string(s))
}

func (e *recordingEmitter) EmitWorkflowCompleted(context.Context, *workflow.Workflow, time.Duration) {
	e.add("completed")
}

func (e *recordingEmitter) EmitWorkflowFailed(context.Context, *workflow.Workflow, error) {
	e.add("failed")
}

var testCalendar = resolver.CalendarRef{ID: "cal-1", Title: "Home", AccountID: "acct-1"}

func newTestRunner(t *testing.T, st *memory.Store, prov provider.Provider, items resolver.ItemStore, trig *seqTrigger, opts ...workflow.RunnerOption) *workflow.Runner {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := job.NewTracker(st, job.WithLogger(logger))

	if items == nil {
		items = &fakeItems{cal: testCalendar}
	}
	res := resolver.New(items, resolver.WithLocation(time.UTC))

	base := []workflow.RunnerOption{
		workflow.WithLogger(logger),
		workflow.WithSettleWait(0),
		workflow.WithProviderDeadline(time.Second),
	}

	return workflow.NewRunner(st, tracker, prov, res, trig, append(base, opts...)...)
}

func waitTerminal(t *testing.T, st *memory.Store, workflowID id.WorkflowID) *workflow.Workflow {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		wf, err := st.GetWorkflow(context.Background(), workflowID)
		if err != nil {
			t.Fatalf("GetWorkflow() error = %v", err)
		}
		if wf.Terminal() {
			return wf
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("workflow did not reach a terminal state in time")
	return nil
}

func createMutation() workflow.Mutation {
	return workflow.Mutation{
		Calendar: testCalendar,
		Request: provider.Request{
			Kind:       provider.KindAdd,
			CalendarID: testCalendar.ID,
			Item:       provider.ItemAttrs{Title: "Dentist", AllDay: true},
		},
	}
}

func TestMutation_CompletesThroughAllSteps(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	trig := &seqTrigger{}
	emitter := &recordingEmitter{}
	r := newTestRunner(t, st, prov, nil, trig, workflow.WithEmitter(emitter))

	wf, err := r.StartMutation(ctx, workflow.KindCreate, createMutation())
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}
	if wf.State != workflow.StateRunning {
		t.Fatalf("acknowledged State = %q, want %q", wf.State, workflow.StateRunning)
	}
	if wf.Step != workflow.StepPreSync {
		t.Fatalf("acknowledged Step = %q, want %q", wf.Step, workflow.StepPreSync)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateDone {
		t.Fatalf("State = %q (error %q), want %q", final.State, final.Error, workflow.StateDone)
	}
	if final.Step != workflow.StepDone {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepDone)
	}

	var result workflow.MutationResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ItemID != "item-1" {
		t.Errorf("result.ItemID = %q, want %q", result.ItemID, "item-1")
	}
	if result.JobID == "" {
		t.Error("result.JobID is empty")
	}

	want := []string{"started", "step:preSync", "step:mutate", "step:postSync", "step:postSync2", "completed"}
	got := emitter.list()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	if trig.count() != 3 {
		t.Errorf("trigger calls = %d, want 3", trig.count())
	}
	if prov.requestCount() != 1 {
		t.Errorf("provider requests = %d, want 1", prov.requestCount())
	}

	jobID, err := id.ParseJobID(result.JobID)
	if err != nil {
		t.Fatalf("ParseJobID(%q) error = %v", result.JobID, err)
	}
	j, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if j.State != job.StateDone {
		t.Errorf("job State = %q, want %q", j.State, job.StateDone)
	}
}

func TestMutation_PreSyncFailureAborts(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	trig := &seqTrigger{errs: []error{errors.New("agent offline")}}
	emitter := &recordingEmitter{}
	r := newTestRunner(t, st, prov, nil, trig, workflow.WithEmitter(emitter))

	wf, err := r.StartMutation(ctx, workflow.KindCreate, createMutation())
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	// The agent's own message, not a wrapped one: nothing happened yet
	// that would need explaining around it.
	if final.Error != "agent offline" {
		t.Errorf("Error = %q, want %q", final.Error, "agent offline")
	}
	if final.Step != workflow.StepPreSync {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepPreSync)
	}
	if final.Result != nil {
		t.Errorf("Result = %s, want none", final.Result)
	}
	if prov.requestCount() != 0 {
		t.Errorf("provider requests = %d, want 0 after pre-sync failure", prov.requestCount())
	}

	got := emitter.list()
	want := []string{"started", "fail:preSync", "failed"}
	if len(got) != len(want) || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestMutation_ProviderFailureFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{
		respond: func(provider.Request) provider.Completion {
			return provider.Completion{Code: 2, Detail: "no such item"}
		},
	}
	trig := &seqTrigger{}
	r := newTestRunner(t, st, prov, nil, trig)

	wf, err := r.StartMutation(ctx, workflow.KindUpdate, workflow.Mutation{
		Calendar: testCalendar,
		Request: provider.Request{
			Kind:       provider.KindModify,
			CalendarID: testCalendar.ID,
			ItemID:     "evt-9",
		},
	})
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	if final.Step != workflow.StepMutate {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepMutate)
	}
	if !strings.Contains(final.Error, "code 2") || !strings.Contains(final.Error, "no such item") {
		t.Errorf("Error = %q, want provider code and detail in it", final.Error)
	}

	// No post-sync after a failed mutate: only the pre-sync ran.
	if trig.count() != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.count())
	}

	jobs, err := st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].State != job.StateError {
		t.Errorf("job State = %q, want %q", jobs[0].State, job.StateError)
	}
}

func TestMutation_DeadlineLeavesJobPendingThenResolves(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	hold := make(chan struct{})
	prov := &fakeProvider{hold: hold}
	trig := &seqTrigger{}
	r := newTestRunner(t, st, prov, nil, trig, workflow.WithProviderDeadline(20*time.Millisecond))

	wf, err := r.StartMutation(ctx, workflow.KindCreate, createMutation())
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	if !strings.Contains(final.Error, "still pending at deadline") {
		t.Errorf("Error = %q, want deadline message", final.Error)
	}

	jobs, err := st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	pending := jobs[0]

	// The workflow names the job it left open.
	if !strings.Contains(final.Error, pending.ID.String()) {
		t.Errorf("Error = %q, want it to name job %s", final.Error, pending.ID)
	}
	if pending.State != job.StatePending {
		t.Fatalf("job State = %q, want %q while the call is outstanding", pending.State, job.StatePending)
	}

	// The late completion resolves the same record.
	close(hold)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, getErr := st.GetJob(ctx, pending.ID)
		if getErr != nil {
			t.Fatalf("GetJob() error = %v", getErr)
		}
		if j.Terminal() {
			if j.State != job.StateDone {
				t.Fatalf("job State = %q, want %q", j.State, job.StateDone)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("late completion never resolved the job")
}

func TestMutation_PostSyncFailureKeepsResult(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	trig := &seqTrigger{errs: []error{nil, errors.New("sync rejected")}}
	r := newTestRunner(t, st, prov, nil, trig)

	wf, err := r.StartMutation(ctx, workflow.KindCreate, createMutation())
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	if final.Step != workflow.StepPostSync {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepPostSync)
	}
	if !strings.Contains(final.Error, "post-sync after recorded mutation") {
		t.Errorf("Error = %q, want post-sync context", final.Error)
	}

	// The mutation landed before the sync failed; the record reports both.
	var result workflow.MutationResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v (raw %s)", err, final.Result)
	}
	if result.ItemID != "item-1" {
		t.Errorf("result.ItemID = %q, want %q", result.ItemID, "item-1")
	}
}

func TestMutation_DispatchPanicBecomesError(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{
		respond: func(provider.Request) provider.Completion {
			panic("bridge wiring broke")
		},
	}
	trig := &seqTrigger{}
	r := newTestRunner(t, st, prov, nil, trig)

	wf, err := r.StartMutation(ctx, workflow.KindCreate, createMutation())
	if err != nil {
		t.Fatalf("StartMutation() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	if !strings.Contains(final.Error, "panicked") {
		t.Errorf("Error = %q, want recovered panic in it", final.Error)
	}
	if final.Step != workflow.StepMutate {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepMutate)
	}
}

func bulkRequest() workflow.BulkDelete {
	return workflow.BulkDelete{
		Calendar:            testCalendar.Title,
		Window:              resolver.WindowSpec{Start: "2026-03-01", End: "2026-04-01"},
		TitleMustContainAll: []string{"standup"},
	}
}

func TestBulkDelete_PartialFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	items := &fakeItems{
		cal: testCalendar,
		items: []resolver.Candidate{
			{ExternalID: "evt-1", Title: "Standup (eng)"},
			{ExternalID: "evt-2", Title: "Standup (design)"},
			{ExternalID: "evt-3", Title: "Standup (ops)"},
			{ExternalID: "evt-4", Title: "Lunch"},
		},
	}
	prov := &fakeProvider{
		respond: func(req provider.Request) provider.Completion {
			if req.ItemID == "evt-2" {
				return provider.Completion{Code: 1, Detail: "locked"}
			}
			return provider.Completion{ItemID: req.ItemID}
		},
	}
	trig := &seqTrigger{}
	emitter := &recordingEmitter{}
	r := newTestRunner(t, st, prov, items, trig, workflow.WithEmitter(emitter))

	wf, err := r.StartBulkDelete(ctx, bulkRequest())
	if err != nil {
		t.Fatalf("StartBulkDelete() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	// A failed candidate is reported, not escalated: the workflow
	// still finishes done.
	if final.State != workflow.StateDone {
		t.Fatalf("State = %q (error %q), want %q", final.State, final.Error, workflow.StateDone)
	}
	if final.Step != workflow.StepDone {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepDone)
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
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "evt-2") {
		t.Errorf("Errors[0] = %q, want the failing item named", result.Errors[0])
	}

	// One query job plus one job per matched candidate.
	jobs, err := st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 4 {
		t.Errorf("jobs = %d, want 4", len(jobs))
	}

	failed, err := st.ListJobs(ctx, job.ListOpts{State: job.StateError})
	if err != nil {
		t.Fatalf("ListJobs(error) error = %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("failed jobs = %d, want 1", len(failed))
	}

	got := emitter.list()
	want := []string{"started", "step:querySql", "step:delete", "step:postSync", "completed"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestBulkDelete_QueryFailureErrorsWorkflow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prov := &fakeProvider{}
	trig := &seqTrigger{}
	r := newTestRunner(t, st, prov, nil, trig)

	req := bulkRequest()
	req.Calendar = "Nope"

	wf, err := r.StartBulkDelete(ctx, req)
	if err != nil {
		t.Fatalf("StartBulkDelete() error = %v", err)
	}

	final := waitTerminal(t, st, wf.ID)

	if final.State != workflow.StateError {
		t.Fatalf("State = %q, want %q", final.State, workflow.StateError)
	}
	if final.Step != workflow.StepQuerySQL {
		t.Errorf("Step = %q, want %q", final.Step, workflow.StepQuerySQL)
	}
	if !strings.Contains(final.Error, "calendar not found") {
		t.Errorf("Error = %q, want calendar lookup failure", final.Error)
	}
	if prov.requestCount() != 0 {
		t.Errorf("provider requests = %d, want 0", prov.requestCount())
	}
}

func TestBulkDelete_QueryJobAccumulatesBatches(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	items := &fakeItems{
		cal: testCalendar,
		items: []resolver.Candidate{
			{ExternalID: "evt-1", Title: "standup a"},
			{ExternalID: "evt-2", Title: "standup b"},
			{ExternalID: "evt-3", Title: "standup c"},
			{ExternalID: "evt-4", Title: "standup d"},
		},
		batchSize: 2,
	}
	prov := &fakeProvider{}
	trig := &seqTrigger{}
	r := newTestRunner(t, st, prov, items, trig)

	wf, err := r.StartBulkDelete(ctx, bulkRequest())
	if err != nil {
		t.Fatalf("StartBulkDelete() error = %v", err)
	}

	waitTerminal(t, st, wf.ID)

	// The query job carries each filtered batch plus the final summary.
	jobs, err := st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}

	var query *job.Job
	for _, j := range jobs {
		if j.Meta[pendulum.MetaKind] == "query" {
			query = j
			break
		}
	}
	if query == nil {
		t.Fatal("no query job found")
	}
	if query.State != job.StateDone {
		t.Fatalf("query job State = %q, want %q", query.State, job.StateDone)
	}
	if len(query.Results) != 3 {
		t.Fatalf("query job Results = %d entries, want 2 batches + summary", len(query.Results))
	}

	var batch []resolver.Candidate
	if err := json.Unmarshal(query.Results[0], &batch); err != nil {
		t.Fatalf("unmarshal first batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("first batch = %d candidates, want 2", len(batch))
	}
}
