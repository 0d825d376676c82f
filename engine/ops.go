package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/caltime"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/idempotency"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/provider"
	"github.com/xraph/pendulum/resolver"
	"github.com/xraph/pendulum/workflow"
)

// Receipt is the synchronous acknowledgement of a mutation submission.
// Pending=true always accompanies a freshly started workflow; a
// deduplicated submission reports AlreadyCreated with the original
// workflow id, plus the completed payload when the first run already
// finished.
type Receipt struct {
	WorkflowID     id.WorkflowID   `json:"workflow_id"`
	Pending        bool            `json:"pending"`
	AlreadyCreated bool            `json:"already_created,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// CreateEventRequest describes a new calendar item. All-day items carry
// Date; timed items carry Start and End as wall-clock strings
// ("2006-01-02 15:04", seconds optional).
type CreateEventRequest struct {
	Calendar string `json:"calendar"`
	Title    string `json:"title"`
	AllDay   bool   `json:"all_day,omitempty"`
	Date     string `json:"date,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// DedupTag discriminates intentionally repeated requests that would
	// otherwise share a fingerprint. Empty means the operation kind.
	DedupTag string `json:"dedup_tag,omitempty"`
}

// UpdateEventRequest modifies an existing item by its external id.
// Zero-valued fields are left untouched by the provider; supplying
// Start or End requires both.
type UpdateEventRequest struct {
	Calendar string `json:"calendar"`
	ItemID   string `json:"item_id"`
	Title    string `json:"title,omitempty"`
	AllDay   bool   `json:"all_day,omitempty"`
	Date     string `json:"date,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
	DedupTag string `json:"dedup_tag,omitempty"`
}

// DeleteEventRequest removes one item by its external id.
type DeleteEventRequest struct {
	Calendar string `json:"calendar"`
	ItemID   string `json:"item_id"`
	DedupTag string `json:"dedup_tag,omitempty"`
}

// BulkDeleteRequest removes every item in the window whose title
// contains all of the required substrings, case-insensitively. The
// predicate must be non-empty; there is no "delete everything" form.
type BulkDeleteRequest struct {
	Calendar            string   `json:"calendar"`
	Start               string   `json:"start"`
	End                 string   `json:"end"`
	TitleMustContainAll []string `json:"title_must_contain_all"`
}

// CreateEvent submits a deduplicated create. The single-item protocol
// runs in the background; the receipt arrives synchronously.
func (e *Engine) CreateEvent(ctx context.Context, req CreateEventRequest) (*Receipt, error) {
	attrs, seed, err := req.normalize(e.cfg.Location)
	if err != nil {
		return nil, err
	}

	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	cal, err := e.items.LookupCalendar(ctx, req.Calendar)
	if err != nil {
		return nil, err
	}

	meta := pendulum.Meta{
		pendulum.MetaKind:     string(workflow.KindCreate),
		pendulum.MetaCalendar: cal.Title,
		pendulum.MetaAccount:  cal.AccountID,
		pendulum.MetaTitle:    req.Title,
	}

	return e.submitMutation(ctx, workflow.KindCreate, *cal, provider.Request{
		Kind:       provider.KindAdd,
		CalendarID: cal.ID,
		Item:       attrs,
	}, seed, meta)
}

// UpdateEvent submits a deduplicated modify keyed by the item's
// external id.
func (e *Engine) UpdateEvent(ctx context.Context, req UpdateEventRequest) (*Receipt, error) {
	attrs, seed, err := req.normalize(e.cfg.Location)
	if err != nil {
		return nil, err
	}

	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	cal, err := e.items.LookupCalendar(ctx, req.Calendar)
	if err != nil {
		return nil, err
	}

	meta := pendulum.Meta{
		pendulum.MetaKind:     string(workflow.KindUpdate),
		pendulum.MetaCalendar: cal.Title,
		pendulum.MetaAccount:  cal.AccountID,
	}

	return e.submitMutation(ctx, workflow.KindUpdate, *cal, provider.Request{
		Kind:       provider.KindModify,
		CalendarID: cal.ID,
		ItemID:     req.ItemID,
		Item:       attrs,
	}, seed, meta)
}

// DeleteEvent submits a deduplicated single-item delete.
func (e *Engine) DeleteEvent(ctx context.Context, req DeleteEventRequest) (*Receipt, error) {
	seed, err := req.normalize()
	if err != nil {
		return nil, err
	}

	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	cal, err := e.items.LookupCalendar(ctx, req.Calendar)
	if err != nil {
		return nil, err
	}

	meta := pendulum.Meta{
		pendulum.MetaKind:     string(workflow.KindDelete),
		pendulum.MetaCalendar: cal.Title,
		pendulum.MetaAccount:  cal.AccountID,
	}

	return e.submitMutation(ctx, workflow.KindDelete, *cal, provider.Request{
		Kind:       provider.KindDelete,
		CalendarID: cal.ID,
		ItemID:     req.ItemID,
	}, seed, meta)
}

// BulkDeleteEvents submits a bulk protocol run: resolve candidates in
// the window, delete each match independently, trigger a sync after.
// Bulk submissions are not fingerprinted; each call is its own run.
func (e *Engine) BulkDeleteEvents(ctx context.Context, req BulkDeleteRequest) (*Receipt, error) {
	if err := req.validate(e.cfg.Location); err != nil {
		return nil, err
	}

	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	cal, err := e.items.LookupCalendar(ctx, req.Calendar)
	if err != nil {
		return nil, err
	}

	wf, err := e.runner.StartBulkDelete(ctx, workflow.BulkDelete{
		Calendar:            req.Calendar,
		Window:              resolver.WindowSpec{Start: req.Start, End: req.End},
		TitleMustContainAll: req.TitleMustContainAll,
		Meta: pendulum.Meta{
			pendulum.MetaKind:     string(workflow.KindBulkDelete),
			pendulum.MetaCalendar: cal.Title,
			pendulum.MetaAccount:  cal.AccountID,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Receipt{WorkflowID: wf.ID, Pending: true}, nil
}

// Job returns the job snapshot, or pendulum.ErrJobNotFound. Reads are
// idempotent and side-effect free.
func (e *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.tracker.Get(ctx, jobID)
}

// Workflow returns the workflow snapshot, or pendulum.ErrWorkflowNotFound.
func (e *Engine) Workflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	return e.runner.Get(ctx, workflowID)
}

// Calendars lists the containers known to the item store.
func (e *Engine) Calendars(ctx context.Context) ([]resolver.CalendarRef, error) {
	return e.items.ListCalendars(ctx)
}

// TriggerSync asks the sync agent for an out-of-band pass over the
// account. Acceptance does not imply the remote sync ran or succeeded.
func (e *Engine) TriggerSync(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: missing account id", pendulum.ErrValidation)
	}

	return e.trigger.TriggerSync(ctx, accountID)
}

// submitMutation claims the fingerprint and starts the single-item
// protocol under the claimed workflow id. The claim is settled by the
// workflow's terminal callback and released if the start itself fails.
func (e *Engine) submitMutation(ctx context.Context, kind workflow.Kind, cal resolver.CalendarRef, preq provider.Request, seed idempotency.Seed, meta pendulum.Meta) (*Receipt, error) {
	fingerprint := idempotency.Fingerprint(seed)
	workflowID := id.NewWorkflowID()

	entry, isNew, err := e.cache.Submit(ctx, fingerprint, workflowID)
	if err != nil {
		return nil, fmt.Errorf("claim mutation fingerprint: %w", err)
	}

	if !isNew {
		receipt := &Receipt{
			WorkflowID:     entry.WorkflowID,
			Pending:        entry.Pending,
			AlreadyCreated: true,
		}
		if !entry.Pending {
			receipt.Result = entry.Payload
		}

		e.logger.Info("duplicate mutation absorbed",
			slog.String("workflow_id", entry.WorkflowID.String()),
			slog.String("kind", string(kind)),
			slog.Bool("pending", entry.Pending),
		)

		return receipt, nil
	}

	wf, err := e.runner.StartMutation(ctx, kind, workflow.Mutation{
		WorkflowID: workflowID,
		Calendar:   cal,
		Request:    preq,
		Meta:       meta,
		OnTerminal: e.settleFingerprint(fingerprint),
	})
	if err != nil {
		// The claim must not outlive a workflow that never started.
		if ferr := e.cache.Forget(ctx, fingerprint); ferr != nil {
			e.logger.Error("orphaned idempotency entry",
				slog.String("fingerprint", fingerprint),
				slog.String("error", ferr.Error()),
			)
		}

		return nil, err
	}

	return &Receipt{WorkflowID: wf.ID, Pending: true}, nil
}

// settleFingerprint resolves the claim at workflow termination:
// completion publishes the payload for later duplicates, failure
// releases the claim so an identical retry starts fresh.
func (e *Engine) settleFingerprint(fingerprint string) func(context.Context, *workflow.Workflow) {
	return func(ctx context.Context, wf *workflow.Workflow) {
		if wf.State == workflow.StateDone {
			if err := e.cache.Complete(ctx, fingerprint, wf.ID, wf.Result); err != nil {
				e.logger.Error("idempotency completion not recorded",
					slog.String("workflow_id", wf.ID.String()),
					slog.String("error", err.Error()),
				)
			}

			return
		}

		if err := e.cache.Forget(ctx, fingerprint); err != nil {
			e.logger.Error("idempotency release failed",
				slog.String("workflow_id", wf.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (req CreateEventRequest) normalize(loc *time.Location) (provider.ItemAttrs, idempotency.Seed, error) {
	var (
		attrs provider.ItemAttrs
		seed  idempotency.Seed
	)

	if strings.TrimSpace(req.Calendar) == "" {
		return attrs, seed, fmt.Errorf("%w: missing calendar", pendulum.ErrValidation)
	}

	if strings.TrimSpace(req.Title) == "" {
		return attrs, seed, fmt.Errorf("%w: missing title", pendulum.ErrValidation)
	}

	attrs = provider.ItemAttrs{
		Title:    req.Title,
		AllDay:   req.AllDay,
		Location: req.Location,
		Notes:    req.Notes,
	}

	seed = idempotency.Seed{
		Calendar: req.Calendar,
		Tag:      req.DedupTag,
		AllDay:   req.AllDay,
		Title:    req.Title,
	}
	if seed.Tag == "" {
		seed.Tag = string(workflow.KindCreate)
	}

	if req.AllDay {
		day, err := caltime.ParseDate(req.Date, loc)
		if err != nil {
			return attrs, seed, err
		}

		start, end := caltime.DayWindow(day)
		attrs.StartMicros = caltime.StoreMicros(start)
		attrs.EndMicros = caltime.StoreMicros(end)
		seed.Date = day.Format(caltime.LayoutDate)

		return attrs, seed, nil
	}

	start, end, err := parseSpan(req.Start, req.End, loc)
	if err != nil {
		return attrs, seed, err
	}

	attrs.StartMicros = caltime.StoreMicros(start)
	attrs.EndMicros = caltime.StoreMicros(end)
	seed.Start = start.Format(time.RFC3339)
	seed.End = end.Format(time.RFC3339)

	return attrs, seed, nil
}

func (req UpdateEventRequest) normalize(loc *time.Location) (provider.ItemAttrs, idempotency.Seed, error) {
	var (
		attrs provider.ItemAttrs
		seed  idempotency.Seed
	)

	if strings.TrimSpace(req.Calendar) == "" {
		return attrs, seed, fmt.Errorf("%w: missing calendar", pendulum.ErrValidation)
	}

	if strings.TrimSpace(req.ItemID) == "" {
		return attrs, seed, fmt.Errorf("%w: missing item id", pendulum.ErrValidation)
	}

	attrs = provider.ItemAttrs{
		Title:    req.Title,
		AllDay:   req.AllDay,
		Location: req.Location,
		Notes:    req.Notes,
	}

	// The generated tag carries the item id so updates to different
	// items never share a fingerprint.
	seed = idempotency.Seed{
		Calendar: req.Calendar,
		Tag:      req.DedupTag,
		AllDay:   req.AllDay,
		Title:    req.Title,
	}
	if seed.Tag == "" {
		seed.Tag = string(workflow.KindUpdate) + ":" + req.ItemID
	}

	switch {
	case req.AllDay:
		day, err := caltime.ParseDate(req.Date, loc)
		if err != nil {
			return attrs, seed, err
		}

		start, end := caltime.DayWindow(day)
		attrs.StartMicros = caltime.StoreMicros(start)
		attrs.EndMicros = caltime.StoreMicros(end)
		seed.Date = day.Format(caltime.LayoutDate)
	case req.Start != "" || req.End != "":
		start, end, err := parseSpan(req.Start, req.End, loc)
		if err != nil {
			return attrs, seed, err
		}

		attrs.StartMicros = caltime.StoreMicros(start)
		attrs.EndMicros = caltime.StoreMicros(end)
		seed.Start = start.Format(time.RFC3339)
		seed.End = end.Format(time.RFC3339)
	}

	return attrs, seed, nil
}

func (req DeleteEventRequest) normalize() (idempotency.Seed, error) {
	var seed idempotency.Seed

	if strings.TrimSpace(req.Calendar) == "" {
		return seed, fmt.Errorf("%w: missing calendar", pendulum.ErrValidation)
	}

	if strings.TrimSpace(req.ItemID) == "" {
		return seed, fmt.Errorf("%w: missing item id", pendulum.ErrValidation)
	}

	seed = idempotency.Seed{
		Calendar: req.Calendar,
		Tag:      req.DedupTag,
	}
	if seed.Tag == "" {
		seed.Tag = string(workflow.KindDelete) + ":" + req.ItemID
	}

	return seed, nil
}

func (req BulkDeleteRequest) validate(loc *time.Location) error {
	if strings.TrimSpace(req.Calendar) == "" {
		return fmt.Errorf("%w: missing calendar", pendulum.ErrValidation)
	}

	if len(req.TitleMustContainAll) == 0 {
		return fmt.Errorf("%w: bulk delete requires a title predicate", pendulum.ErrValidation)
	}

	for _, sub := range req.TitleMustContainAll {
		if strings.TrimSpace(sub) == "" {
			return fmt.Errorf("%w: blank title predicate", pendulum.ErrValidation)
		}
	}

	// Window bounds parse eagerly so a malformed string fails the
	// request, not the workflow. The resolver re-checks inside the run.
	start, err := caltime.ParseStamp(req.Start, loc)
	if err != nil {
		return err
	}

	end, err := caltime.ParseStamp(req.End, loc)
	if err != nil {
		return err
	}

	if !start.Before(end) {
		return fmt.Errorf("%w: window start %q not before end %q", pendulum.ErrValidation, req.Start, req.End)
	}

	return nil
}

// parseSpan parses a timed start/end pair, requiring both and a
// strictly positive span.
func parseSpan(startStr, endStr string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := caltime.ParseDateTime(startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	end, err := caltime.ParseDateTime(endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q not before end %q", pendulum.ErrValidation, startStr, endStr)
	}

	return start, end, nil
}
