package timeline

import (
	"time"
)

// Event is a single recorded check-in. Events are never mutated once stored.
type Event struct {
	ID         int64     `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorLabel string    `json:"actor_label"` // Display name snapshot at write time
	ScopeID    string    `json:"scope_id"`    // Chat / conversation
	RecordedAt time.Time `json:"recorded_at"` // UTC
}

// ActorCount is one row of a grouped count query.
type ActorCount struct {
	Label string `json:"label"` // Latest label for the actor in the scope
	Count int    `json:"count"`
}

// ScheduledJobRecord tracks the last run of a scheduler job.
type ScheduledJobRecord struct {
	JobName    string    `json:"job_name"`
	LastStatus string    `json:"last_status"`
	LastRunAt  time.Time `json:"last_run_at"`
	RunCount   int       `json:"run_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// timeLayout is fixed width so that lexical order of the stored text equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id TEXT NOT NULL,
	actor_label TEXT NOT NULL DEFAULT '',
	scope_id TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_scope_actor ON events(scope_id, actor_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_events_scope_time ON events(scope_id, recorded_at);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	job_name TEXT PRIMARY KEY,
	last_status TEXT NOT NULL DEFAULT '',
	last_run_at TEXT NOT NULL DEFAULT '',
	run_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT ''
);
`
