package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/config"
)

type recordedRun struct {
	name   string
	status string
	at     time.Time
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (f *fakeRuns) UpsertScheduledJob(name, status string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedRun{name, status, at})
	return nil
}

func (f *fakeRuns) snapshot() []recordedRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRun(nil), f.runs...)
}

func newTestScheduler(t *testing.T, b *bus.MessageBus, runs RunRecorder) *Scheduler {
	t.Helper()
	return New(Config{
		Enabled:        true,
		TickInterval:   50 * time.Millisecond,
		MaxConcNotify:  2,
		MaxConcSummary: 1,
		LockPath:       t.TempDir() + "/test.lock",
	}, b, runs)
}

func mustCron(t *testing.T, expr string) *CronExpr {
	t.Helper()
	c, err := ParseCron(expr)
	if err != nil {
		t.Fatalf("ParseCron(%q): %v", expr, err)
	}
	return c
}

func TestSchedulerDispatch(t *testing.T) {
	b := bus.NewMessageBus()
	runs := &fakeRuns{}
	s := newTestScheduler(t, b, runs)
	s.Register(&Job{
		Name:     "reminder_1",
		Spec:     "* * * * *",
		Cron:     mustCron(t, "* * * * *"),
		Category: CategoryNotify,
		Kind:     KindReminder,
		Channel:  "telegram",
		ChatID:   "-100",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.tick(ctx, time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC))

	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("expected dispatched message: %v", err)
	}
	if msg.Channel != bus.ChannelScheduler || msg.ChatID != "-100" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Meta(bus.MetaKeySchedulerKind) != string(KindReminder) {
		t.Errorf("kind = %q", msg.Meta(bus.MetaKeySchedulerKind))
	}
	if msg.Meta(bus.MetaKeyTargetChannel) != "telegram" {
		t.Errorf("target channel = %q", msg.Meta(bus.MetaKeyTargetChannel))
	}
	if msg.Meta(bus.MetaKeySchedulerJob) != "reminder_1" {
		t.Errorf("job = %q", msg.Meta(bus.MetaKeySchedulerJob))
	}

	s.wg.Wait()
	got := runs.snapshot()
	if len(got) != 1 || got[0].name != "reminder_1" || got[0].status != "dispatched" {
		t.Errorf("unexpected run log %+v", got)
	}
}

func TestSchedulerFiresOncePerMinute(t *testing.T) {
	b := bus.NewMessageBus()
	s := newTestScheduler(t, b, nil)
	s.Register(&Job{Name: "every", Cron: mustCron(t, "* * * * *"), Category: CategoryNotify, Kind: KindReminder, ChatID: "1"})

	ctx := context.Background()
	base := time.Date(2026, 2, 15, 8, 0, 5, 0, time.UTC)
	s.tick(ctx, base)
	s.tick(ctx, base.Add(30*time.Second))
	s.tick(ctx, base.Add(60*time.Second))
	s.wg.Wait()

	if got := b.InboundSize(); got != 2 {
		t.Errorf("expected 2 dispatches across two minutes, got %d", got)
	}
}

func TestSchedulerUsesLocation(t *testing.T) {
	b := bus.NewMessageBus()
	loc := time.FixedZone("UTC+3", 3*3600)
	s := New(Config{LockPath: t.TempDir() + "/tz.lock", Location: loc}, b, nil)
	s.Register(&Job{Name: "morning", Cron: mustCron(t, "0 8 * * *"), Category: CategoryNotify, Kind: KindReminder, ChatID: "1"})

	ctx := context.Background()
	s.tick(ctx, time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC))
	s.wg.Wait()
	if b.InboundSize() != 0 {
		t.Fatal("08:00 UTC is 11:00 local and should not fire")
	}
	s.tick(ctx, time.Date(2026, 2, 15, 5, 0, 0, 0, time.UTC))
	s.wg.Wait()
	if b.InboundSize() != 1 {
		t.Fatal("05:00 UTC is 08:00 local and should fire")
	}
}

func TestSchedulerLockPreventsOverlap(t *testing.T) {
	lockPath := t.TempDir() + "/overlap.lock"

	b := bus.NewMessageBus()
	s1 := New(Config{LockPath: lockPath}, b, nil)
	s2 := New(Config{LockPath: lockPath}, b, nil)
	s2.Register(&Job{Name: "overlap", Cron: mustCron(t, "* * * * *"), Category: CategoryNotify, Kind: KindReminder, ChatID: "1"})

	acquired, err := s1.lock.TryLock()
	if err != nil || !acquired {
		t.Fatal("s1 should acquire lock")
	}

	s2.tick(context.Background(), time.Now())
	s2.wg.Wait()
	if b.InboundSize() != 0 {
		t.Error("s2 should not dispatch while s1 holds the lock")
	}

	s1.lock.Unlock()

	acquired, err = s2.lock.TryLock()
	if err != nil {
		t.Fatal("unexpected error on s2 retry:", err)
	}
	if !acquired {
		t.Error("s2 should acquire lock after s1 released")
	}
	s2.lock.Unlock()
}

func TestSchedulerConcurrencyLimitSkips(t *testing.T) {
	b := bus.NewMessageBus()
	runs := &fakeRuns{}
	s := newTestScheduler(t, b, runs)
	s.Register(&Job{Name: "monthly_summary", Cron: mustCron(t, "* * * * *"), Category: CategorySummary, Kind: KindMonthlySummary, ChatID: "1"})

	sem := s.semaphores[CategorySummary]
	if !sem.TryAcquire() {
		t.Fatal("expected to take the only summary slot")
	}
	defer sem.Release()

	s.tick(context.Background(), time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	s.wg.Wait()

	got := runs.snapshot()
	if len(got) != 1 || got[0].status != "skipped_concurrency" {
		t.Errorf("expected skipped_concurrency, got %+v", got)
	}
	if b.InboundSize() != 0 {
		t.Error("skipped job should not dispatch")
	}
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(2)

	if !sem.TryAcquire() {
		t.Error("first acquire should succeed")
	}
	if !sem.TryAcquire() {
		t.Error("second acquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (cap=2)")
	}
	if sem.Available() != 0 {
		t.Errorf("Available() = %d, want 0", sem.Available())
	}

	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d, want 1", sem.Available())
	}
	if !sem.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}

func TestSchedulerNonMatchingJobNotDispatched(t *testing.T) {
	b := bus.NewMessageBus()
	s := newTestScheduler(t, b, nil)
	s.Register(&Job{Name: "midnight-only", Cron: mustCron(t, "0 0 * * *"), Category: CategoryNotify, Kind: KindReminder, ChatID: "1"})

	noon := time.Date(2026, 2, 15, 12, 30, 0, 0, time.UTC)
	s.tick(context.Background(), noon)
	s.wg.Wait()

	if b.InboundSize() != 0 {
		t.Errorf("expected 0 dispatched messages at noon, got %d", b.InboundSize())
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	b := bus.NewMessageBus()
	s := newTestScheduler(t, b, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var done atomic.Bool
	go func() {
		_ = s.Run(ctx)
		done.Store(true)
	}()
	time.Sleep(120 * time.Millisecond)
	cancel()
	time.Sleep(100 * time.Millisecond)
	if !done.Load() {
		t.Error("Run should return after cancel")
	}
}

func TestBuildJobs(t *testing.T) {
	cfg := config.DefaultConfig()

	jobs, err := BuildJobs(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs without a default chat, got %d", len(jobs))
	}

	cfg.Bot.DefaultChatID = "-100"
	jobs, err = BuildJobs(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 4 {
		t.Fatalf("expected 3 reminders and 1 summary, got %d", len(jobs))
	}
	summary := jobs[3]
	if summary.Kind != KindMonthlySummary || summary.Category != CategorySummary || summary.ChatID != "-100" || summary.Channel != "telegram" {
		t.Errorf("unexpected summary job %+v", summary)
	}
	if jobs[0].Name != "reminder_1" || !jobs[0].Cron.Matches(time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first reminder %+v", jobs[0])
	}

	cfg.Scheduler.ReminderCrons = []string{"not a cron"}
	if _, err := BuildJobs(cfg); err == nil {
		t.Error("expected error for invalid reminder cron")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.Timezone = "Europe/Berlin"
	sc, err := ConfigFrom(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Location.String() != "Europe/Berlin" || sc.MaxConcSummary != 1 || sc.LockPath != cfg.SchedulerLockPath() {
		t.Errorf("unexpected scheduler config %+v", sc)
	}

	cfg.Scheduler.Timezone = "Nowhere/Else"
	if _, err := ConfigFrom(cfg); err == nil {
		t.Error("expected timezone error")
	}
}
