package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KafClaw/tallyclaw/internal/timeline"
)

func newTestTimeline(t *testing.T, clock timeline.Clock) *timeline.TimelineService {
	t.Helper()
	dir := t.TempDir()
	svc, err := timeline.NewTimelineService(filepath.Join(dir, "tally.db"), timeline.WithClock(clock))
	if err != nil {
		t.Fatalf("failed to create timeline service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		_ = os.RemoveAll(dir)
	})
	return svc
}

// recordAt records one event for actor in scope at each given time.
func recordAt(t *testing.T, svc *timeline.TimelineService, clock *timeline.ManualClock, actor, label, scope string, times ...time.Time) {
	t.Helper()
	for _, at := range times {
		clock.Set(at)
		if _, err := svc.RecordEvent(context.Background(), actor, label, scope); err != nil {
			t.Fatalf("record at %v: %v", at, err)
		}
	}
}
