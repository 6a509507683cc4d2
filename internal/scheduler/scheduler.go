package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/config"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	CategoryNotify  JobCategory = "notify"
	CategorySummary JobCategory = "summary"
)

// JobKind tells the bot loop what to do when a job fires.
type JobKind string

const (
	KindReminder       JobKind = "reminder"
	KindMonthlySummary JobKind = "monthly_summary"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name     string      // Unique job identifier.
	Spec     string      // Cron expression as configured.
	Cron     *CronExpr   // Parsed cron expression.
	Category JobCategory // For semaphore selection.
	Kind     JobKind
	Channel  string // Delivery channel.
	ChatID   string // Delivery chat, also the scope of summaries.
}

// Config holds scheduler settings.
type Config struct {
	Enabled        bool
	TickInterval   time.Duration
	MaxConcNotify  int
	MaxConcSummary int
	LockPath       string
	Location       *time.Location
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		TickInterval:   30 * time.Second,
		MaxConcNotify:  2,
		MaxConcSummary: 1,
		LockPath:       filepath.Join(".", "scheduler.lock"),
		Location:       time.UTC,
	}
}

// ConfigFrom maps the application config onto scheduler settings.
func ConfigFrom(cfg *config.Config) (Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Config{}, fmt.Errorf("scheduler timezone: %w", err)
	}
	return Config{
		Enabled:        cfg.Scheduler.Enabled,
		TickInterval:   cfg.Scheduler.TickInterval,
		MaxConcNotify:  cfg.Scheduler.MaxConcNotify,
		MaxConcSummary: cfg.Scheduler.MaxConcSummary,
		LockPath:       cfg.SchedulerLockPath(),
		Location:       loc,
	}, nil
}

// BuildJobs creates the reminder and monthly summary jobs configured in cfg.
// Jobs target bot.defaultChannel/bot.defaultChatId; with no chat configured
// there is nowhere to deliver, so no jobs are returned.
func BuildJobs(cfg *config.Config) ([]*Job, error) {
	chatID := cfg.Bot.DefaultChatID
	if chatID == "" {
		return nil, nil
	}
	channel := cfg.Bot.DefaultChannel

	var jobs []*Job
	for i, spec := range cfg.Scheduler.ReminderCrons {
		expr, err := ParseCron(spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler.reminderCrons[%d] %q: %w", i, spec, err)
		}
		jobs = append(jobs, &Job{
			Name:     fmt.Sprintf("reminder_%d", i+1),
			Spec:     spec,
			Cron:     expr,
			Category: CategoryNotify,
			Kind:     KindReminder,
			Channel:  channel,
			ChatID:   chatID,
		})
	}
	if cfg.Scheduler.SummaryCron != "" {
		expr, err := ParseCron(cfg.Scheduler.SummaryCron)
		if err != nil {
			return nil, fmt.Errorf("scheduler.summaryCron %q: %w", cfg.Scheduler.SummaryCron, err)
		}
		jobs = append(jobs, &Job{
			Name:     string(KindMonthlySummary),
			Spec:     cfg.Scheduler.SummaryCron,
			Cron:     expr,
			Category: CategorySummary,
			Kind:     KindMonthlySummary,
			Channel:  channel,
			ChatID:   chatID,
		})
	}
	return jobs, nil
}

// RunRecorder persists job run statuses. *timeline.TimelineService satisfies it.
type RunRecorder interface {
	UpsertScheduledJob(jobName, status string, runAt time.Time) error
}

// Scheduler manages job registration, tick dispatch, and concurrency control.
type Scheduler struct {
	cfg        Config
	bus        *bus.MessageBus
	runs       RunRecorder
	jobs       map[string]*Job
	lastFired  map[string]time.Time
	mu         sync.RWMutex
	firedMu    sync.Mutex
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
	wg         sync.WaitGroup
}

// New creates a Scheduler. runs may be nil.
func New(cfg Config, b *bus.MessageBus, runs RunRecorder) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcNotify <= 0 {
		cfg.MaxConcNotify = def.MaxConcNotify
	}
	if cfg.MaxConcSummary <= 0 {
		cfg.MaxConcSummary = def.MaxConcSummary
	}
	if cfg.LockPath == "" {
		cfg.LockPath = def.LockPath
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Scheduler{
		cfg:       cfg,
		bus:       b,
		runs:      runs,
		jobs:      make(map[string]*Job),
		lastFired: make(map[string]time.Time),
		semaphores: map[JobCategory]*Semaphore{
			CategoryNotify:  NewSemaphore(cfg.MaxConcNotify),
			CategorySummary: NewSemaphore(cfg.MaxConcSummary),
		},
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "kind", job.Kind, "cron", job.Spec)
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Run starts the scheduler tick loop. Blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.Jobs()), "tz", s.cfg.Location)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick is called every TickInterval. Acquires the global file lock, then
// dispatches any matching jobs.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	local := now.In(s.cfg.Location)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if !job.Cron.Matches(local) {
			continue
		}
		if !s.markFired(job.Name, local) {
			continue
		}
		s.dispatch(ctx, job, local)
	}
}

// markFired reports whether job has not yet fired in the minute containing t.
func (s *Scheduler) markFired(name string, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	if last, ok := s.lastFired[name]; ok && last.Equal(minute) {
		return false
	}
	s.lastFired[name] = minute
	return true
}

// dispatch sends a job as a bus.InboundMessage if a semaphore slot is available.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryNotify]
	}

	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		s.logJobRun(job.Name, "skipped_concurrency", now)
		return
	}

	slog.Info("Scheduler dispatching job", "job", job.Name, "chat_id", job.ChatID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release()

		if ctx.Err() != nil {
			s.logJobRun(job.Name, "cancelled", now)
			return
		}
		s.bus.PublishInbound(&bus.InboundMessage{
			Channel:  bus.ChannelScheduler,
			SenderID: bus.ChannelScheduler,
			ChatID:   job.ChatID,
			Content:  string(job.Kind),
			Metadata: map[string]any{
				bus.MetaKeySchedulerJob:  job.Name,
				bus.MetaKeySchedulerKind: string(job.Kind),
				bus.MetaKeySchedulerTick: now.Format(time.RFC3339),
				bus.MetaKeyTargetChannel: job.Channel,
			},
			Timestamp: now,
		})

		s.logJobRun(job.Name, "dispatched", now)
	}()
}

// logJobRun persists the run status to the scheduled_jobs table (best-effort).
func (s *Scheduler) logJobRun(name, status string, tick time.Time) {
	if s.runs == nil {
		return
	}
	if err := s.runs.UpsertScheduledJob(name, status, tick); err != nil {
		slog.Warn("Scheduler run log failed", "job", name, "error", err)
	}
}
