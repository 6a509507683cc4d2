// Package stats derives streaks and leaderboards from the event timeline.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/KafClaw/tallyclaw/internal/timeline"
)

// DefaultStreakTarget is the streak length that earns the milestone line.
const DefaultStreakTarget = 7

// EventQuerier is the slice of the timeline the streak calculator reads.
type EventQuerier interface {
	QueryEvents(ctx context.Context, actorID, scopeID string, limit int) ([]timeline.Event, error)
}

// StreakCalculator checks whether an actor's latest events form an unbroken daily run.
type StreakCalculator struct {
	events EventQuerier
}

// NewStreakCalculator creates a StreakCalculator reading from q.
func NewStreakCalculator(q EventQuerier) *StreakCalculator {
	return &StreakCalculator{events: q}
}

// ComputeStreak returns target when the actor's most recent target events fall on
// target distinct, consecutive UTC calendar days, and 0 otherwise. More than one
// event on any of those days breaks the streak. A target <= 0 uses DefaultStreakTarget.
func (c *StreakCalculator) ComputeStreak(ctx context.Context, actorID, scopeID string, target int) (int, error) {
	if target <= 0 {
		target = DefaultStreakTarget
	}
	events, err := c.events.QueryEvents(ctx, actorID, scopeID, target)
	if err != nil {
		return 0, err
	}
	if len(events) < target {
		return 0, nil
	}

	seen := make(map[time.Time]struct{}, len(events))
	days := make([]time.Time, 0, len(events))
	for _, e := range events {
		d := calendarDay(e.RecordedAt)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	if len(days) != target {
		return 0, nil
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for i := 1; i < len(days); i++ {
		if !days[i-1].AddDate(0, 0, 1).Equal(days[i]) {
			return 0, nil
		}
	}
	return target, nil
}

// IsMilestone reports whether a streak value earns the milestone line.
func IsMilestone(streak, target int) bool {
	if target <= 0 {
		target = DefaultStreakTarget
	}
	return streak >= target
}

func calendarDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
