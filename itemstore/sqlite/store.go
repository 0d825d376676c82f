// Package sqlite reads the sync agent's calendar cache database. The
// agent owns the file and rewrites it on its own schedule, so the store
// opens a fresh read-only connection per query and releases it on every
// return path, holding nothing open between calls.
//
// Expected schema:
//
//	calendars(id TEXT PRIMARY KEY, title TEXT, account_id TEXT)
//	items(id TEXT PRIMARY KEY, calendar_id TEXT, title TEXT,
//	      start_us INTEGER, end_us INTEGER)
//
// start_us and end_us are microseconds since the Unix epoch, matching
// caltime.StoreMicros.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/resolver"
)

var _ resolver.ItemStore = (*Store)(nil)

const defaultBatchSize = 50

// Option configures the Store.
type Option func(*Store)

// WithBatchSize sets how many items stream to onBatch per call.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a read-only resolver.ItemStore over a sqlite file.
type Store struct {
	path      string
	batchSize int
	logger    *slog.Logger
}

// New creates a store over the database at path. The file is not
// touched until the first query.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// open dials a read-only connection. mode=ro refuses writes at the
// driver level; the busy timeout rides out the agent's own writes.
func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+s.path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open item database: %w", err)
	}
	return db, nil
}

// LookupCalendar resolves a container by title.
func (s *Store) LookupCalendar(ctx context.Context, name string) (*resolver.CalendarRef, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var cal resolver.CalendarRef
	err = db.QueryRowContext(ctx, `
		SELECT id, title, account_id
		FROM calendars
		WHERE title = ?
	`, name).Scan(&cal.ID, &cal.Title, &cal.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", pendulum.ErrCalendarNotFound, name)
		}
		return nil, fmt.Errorf("lookup calendar %q: %w", name, err)
	}

	return &cal, nil
}

// QueryItems streams the window-matched items of a calendar to onBatch
// in batches of the configured size. An onBatch error stops the stream
// and is returned as-is.
func (s *Store) QueryItems(ctx context.Context, calendarID string, w resolver.Window, onBatch func([]resolver.Candidate) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT id, title
		FROM items
		WHERE calendar_id = ? AND start_us >= ? AND start_us < ?
		ORDER BY start_us ASC, id ASC
	`, calendarID, w.StartMicros, w.EndMicros)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	streamed := 0
	batch := make([]resolver.Candidate, 0, s.batchSize)

	for rows.Next() {
		var c resolver.Candidate
		if err := rows.Scan(&c.ExternalID, &c.Title); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}

		batch = append(batch, c)
		if len(batch) < s.batchSize {
			continue
		}

		streamed += len(batch)
		if err := onBatch(batch); err != nil {
			return err
		}
		// onBatch may retain the slice, so each batch gets its own.
		batch = make([]resolver.Candidate, 0, s.batchSize)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate items: %w", err)
	}

	if len(batch) > 0 {
		streamed += len(batch)
		if err := onBatch(batch); err != nil {
			return err
		}
	}

	s.logger.Debug("item query streamed",
		slog.String("calendar_id", calendarID),
		slog.Int("items", streamed),
	)

	return nil
}

// ListCalendars enumerates the known containers.
func (s *Store) ListCalendars(ctx context.Context) ([]resolver.CalendarRef, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT id, title, account_id
		FROM calendars
		ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query calendars: %w", err)
	}
	defer rows.Close()

	var cals []resolver.CalendarRef
	for rows.Next() {
		var cal resolver.CalendarRef
		if err := rows.Scan(&cal.ID, &cal.Title, &cal.AccountID); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		cals = append(cals, cal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendars: %w", err)
	}

	return cals, nil
}
