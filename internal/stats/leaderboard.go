package stats

import (
	"context"
	"sort"
	"time"

	"github.com/KafClaw/tallyclaw/internal/timeline"
)

// Named windows.
const (
	AllTime time.Duration = 0
	Week                  = 7 * 24 * time.Hour
	Month                 = 30 * 24 * time.Hour
)

// CountQuerier is the slice of the timeline the aggregator reads.
type CountQuerier interface {
	QueryGroupedCounts(ctx context.Context, scopeID string, since time.Time) (map[string]timeline.ActorCount, error)
}

// Entry is one leaderboard row.
type Entry struct {
	ActorID string `json:"actor_id"`
	Label   string `json:"label"`
	Count   int    `json:"count"`
}

// Aggregator ranks actors by event count.
type Aggregator struct {
	counts CountQuerier
	clock  timeline.Clock
}

// NewAggregator creates an Aggregator. A nil clock uses the system clock.
func NewAggregator(q CountQuerier, clock timeline.Clock) *Aggregator {
	if clock == nil {
		clock = timeline.SystemClock{}
	}
	return &Aggregator{counts: q, clock: clock}
}

// Leaderboard ranks the actors of a scope by count, highest first, ties by
// ascending actor id. A zero window counts all events; otherwise only events
// recorded at or after now-window count. No qualifying actors yields an empty
// slice and a nil error.
func (a *Aggregator) Leaderboard(ctx context.Context, scopeID string, window time.Duration) ([]Entry, error) {
	var since time.Time
	if window > 0 {
		since = a.clock.Now().UTC().Add(-window)
	}
	counts, err := a.counts.QueryGroupedCounts(ctx, scopeID, since)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(counts))
	for actorID, c := range counts {
		out = append(out, Entry{ActorID: actorID, Label: c.Label, Count: c.Count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out, nil
}

// Winner returns the top entry of a ranked leaderboard.
func Winner(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}
