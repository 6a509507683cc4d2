package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go sqlite driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is the cgo sqlite driver.
	DriverCGO = "sqlite3"
)

// TimelineService is the append-only event store.
type TimelineService struct {
	db     *sql.DB
	clock  Clock
	driver string

	mu   sync.Mutex
	last time.Time
}

// Option configures a TimelineService.
type Option func(*TimelineService)

// WithClock sets the clock used to stamp recorded events.
func WithClock(c Clock) Option {
	return func(s *TimelineService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDriver selects the sql driver ("sqlite" or "sqlite3").
func WithDriver(name string) Option {
	return func(s *TimelineService) {
		if name != "" {
			s.driver = name
		}
	}
}

func dsnFor(driver, dbPath string) (string, error) {
	switch driver {
	case DriverModernc:
		return "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverCGO:
		return "file:" + dbPath + "?_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q", driver)
	}
}

// NewTimelineService opens (creating if needed) the database at dbPath and applies the schema.
func NewTimelineService(dbPath string, opts ...Option) (*TimelineService, error) {
	s := &TimelineService{clock: SystemClock{}, driver: DriverModernc}
	for _, opt := range opts {
		opt(s)
	}
	dsn, err := dsnFor(s.driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w: %w", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open timeline db: %w: %w", ErrStorageUnavailable, err)
	}
	s.db = db
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewTimelineServiceFromDB wraps an already opened handle and applies the schema.
func NewTimelineServiceFromDB(db *sql.DB, opts ...Option) (*TimelineService, error) {
	s := &TimelineService{db: db, clock: SystemClock{}, driver: DriverModernc}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.applySchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TimelineService) applySchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *TimelineService) DB() *sql.DB { return s.db }

// Driver returns the sql driver name in use.
func (s *TimelineService) Driver() string { return s.driver }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// nextTimestamp returns the clock time, bumped past the last recorded
// timestamp when the clock stalls or steps back. Caller holds s.mu.
func (s *TimelineService) nextTimestamp() time.Time {
	now := s.clock.Now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	return now
}

// RecordEvent appends a new event stamped with the current UTC time.
// An empty label is stored as the actor id.
func (s *TimelineService) RecordEvent(ctx context.Context, actorID, actorLabel, scopeID string) (*Event, error) {
	actorID = strings.TrimSpace(actorID)
	scopeID = strings.TrimSpace(scopeID)
	if actorID == "" {
		return nil, ErrInvalidActor
	}
	if scopeID == "" {
		return nil, ErrInvalidScope
	}
	actorLabel = strings.TrimSpace(actorLabel)
	if actorLabel == "" {
		actorLabel = actorID
	}

	// Held across the insert so id order matches recorded_at order in-process.
	s.mu.Lock()
	defer s.mu.Unlock()

	recordedAt := s.nextTimestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (actor_id, actor_label, scope_id, recorded_at) VALUES (?, ?, ?, ?)`,
		actorID, actorLabel, scopeID, formatTime(recordedAt))
	if err != nil {
		return nil, fmt.Errorf("record event: %w: %w", ErrStorageUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record event: %w: %w", ErrStorageUnavailable, err)
	}
	s.last = recordedAt

	return &Event{
		ID:         id,
		ActorID:    actorID,
		ActorLabel: actorLabel,
		ScopeID:    scopeID,
		RecordedAt: recordedAt,
	}, nil
}

// QueryEvents returns up to limit most recent events for the actor in the scope,
// newest first.
func (s *TimelineService) QueryEvents(ctx context.Context, actorID, scopeID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, actor_id, actor_label, scope_id, recorded_at
		FROM events
		WHERE actor_id = ? AND scope_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, actorID, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorLabel, &e.ScopeID, &recordedAt); err != nil {
			return nil, fmt.Errorf("query events: %w: %w", ErrStorageUnavailable, err)
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("query events: bad recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events: %w: %w", ErrStorageUnavailable, err)
	}
	return out, nil
}

// QueryGroupedCounts returns, per actor with at least one event in the scope at
// or after since, the number of such events and the actor's latest label in the
// scope. A zero since counts every event.
func (s *TimelineService) QueryGroupedCounts(ctx context.Context, scopeID string, since time.Time) (map[string]ActorCount, error) {
	inner := `SELECT actor_id, COUNT(*) AS cnt FROM events WHERE scope_id = ?`
	args := []any{scopeID, scopeID}
	if !since.IsZero() {
		inner += ` AND recorded_at >= ?`
		args = append(args, formatTime(since))
	}
	inner += ` GROUP BY actor_id`

	query := `SELECT g.actor_id, g.cnt,
		COALESCE((SELECT l.actor_label FROM events l
			WHERE l.scope_id = ? AND l.actor_id = g.actor_id
			ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1), g.actor_id)
		FROM (` + inner + `) g`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grouped counts: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]ActorCount)
	for rows.Next() {
		var actorID string
		var c ActorCount
		if err := rows.Scan(&actorID, &c.Count, &c.Label); err != nil {
			return nil, fmt.Errorf("query grouped counts: %w: %w", ErrStorageUnavailable, err)
		}
		out[actorID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query grouped counts: %w: %w", ErrStorageUnavailable, err)
	}
	return out, nil
}

// CountEvents returns the number of events in the scope.
func (s *TimelineService) CountEvents(ctx context.Context, scopeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE scope_id = ?`, scopeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w: %w", ErrStorageUnavailable, err)
	}
	return n, nil
}

// ScopeStat summarises one scope for status output.
type ScopeStat struct {
	ScopeID string
	Events  int
	Actors  int
}

// ListScopes returns every scope with its event and actor totals, busiest first.
func (s *TimelineService) ListScopes(ctx context.Context) ([]ScopeStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope_id, COUNT(*), COUNT(DISTINCT actor_id)
		FROM events GROUP BY scope_id ORDER BY COUNT(*) DESC, scope_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []ScopeStat
	for rows.Next() {
		var st ScopeStat
		if err := rows.Scan(&st.ScopeID, &st.Events, &st.Actors); err != nil {
			return nil, fmt.Errorf("list scopes: %w: %w", ErrStorageUnavailable, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- Scheduled Jobs ---

// UpsertScheduledJob records a job run, bumping its run counter.
func (s *TimelineService) UpsertScheduledJob(jobName, status string, runAt time.Time) error {
	now := formatTime(s.clock.Now())
	_, err := s.db.Exec(`INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = scheduled_jobs.run_count + 1,
			updated_at = excluded.updated_at`,
		jobName, status, formatTime(runAt), now)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// GetScheduledJob returns a scheduled job record by name, or (nil, nil) if it never ran.
func (s *TimelineService) GetScheduledJob(jobName string) (*ScheduledJobRecord, error) {
	var r ScheduledJobRecord
	var lastRunAt, updatedAt string
	err := s.db.QueryRow(`SELECT job_name, last_status, last_run_at, run_count, updated_at
		FROM scheduled_jobs WHERE job_name = ?`, jobName).
		Scan(&r.JobName, &r.LastStatus, &lastRunAt, &r.RunCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w: %w", ErrStorageUnavailable, err)
	}
	r.LastRunAt, _ = parseTime(lastRunAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}

// ListScheduledJobs returns all scheduled job records, most recently updated first.
func (s *TimelineService) ListScheduledJobs() ([]ScheduledJobRecord, error) {
	rows, err := s.db.Query(`SELECT job_name, last_status, last_run_at, run_count, updated_at
		FROM scheduled_jobs ORDER BY updated_at DESC, job_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []ScheduledJobRecord
	for rows.Next() {
		var r ScheduledJobRecord
		var lastRunAt, updatedAt string
		if err := rows.Scan(&r.JobName, &r.LastStatus, &lastRunAt, &r.RunCount, &updatedAt); err != nil {
			return nil, err
		}
		r.LastRunAt, _ = parseTime(lastRunAt)
		r.UpdatedAt, _ = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
