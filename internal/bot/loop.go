package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/publish"
	"github.com/KafClaw/tallyclaw/internal/scheduler"
	"github.com/KafClaw/tallyclaw/internal/stats"
	"github.com/KafClaw/tallyclaw/internal/timeline"
)

// Store is the part of the timeline the bot needs.
type Store interface {
	RecordEvent(ctx context.Context, actorID, actorLabel, scopeID string) (*timeline.Event, error)
	stats.EventQuerier
	stats.CountQuerier
}

// Options configures a Loop.
type Options struct {
	Title        string
	StreakTarget int
	ReminderText string
	Clock        timeline.Clock    // nil: system clock
	Publisher    publish.Publisher // nil: no mirroring
}

// Loop consumes inbound messages from the bus and publishes replies.
type Loop struct {
	bus     *bus.MessageBus
	store   Store
	streaks *stats.StreakCalculator
	agg     *stats.Aggregator
	pub     publish.Publisher
	opts    Options
}

// NewLoop creates a bot loop over store.
func NewLoop(b *bus.MessageBus, store Store, opts Options) *Loop {
	if opts.StreakTarget <= 0 {
		opts.StreakTarget = stats.DefaultStreakTarget
	}
	pub := opts.Publisher
	if pub == nil {
		pub = &publish.NoopPublisher{}
	}
	return &Loop{
		bus:     b,
		store:   store,
		streaks: stats.NewStreakCalculator(store),
		agg:     stats.NewAggregator(store, opts.Clock),
		pub:     pub,
		opts:    opts,
	}
}

// Run handles inbound messages until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Bot loop started", "streak_target", l.opts.StreakTarget)
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Bot loop stopped")
				return nil
			}
			slog.Error("Failed to consume message", "error", err)
			continue
		}
		if out := l.Handle(ctx, msg); out != nil {
			l.bus.PublishOutbound(out)
		}
	}
}

// Handle processes one inbound message and returns the reply, or nil when
// there is nothing to send.
func (l *Loop) Handle(ctx context.Context, msg *bus.InboundMessage) *bus.OutboundMessage {
	if msg.Channel == bus.ChannelScheduler {
		return l.handleScheduled(ctx, msg)
	}

	action := ParseAction(msg.Content)
	reply := &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, TraceID: msg.TraceID}

	switch action {
	case ActionNone:
		return nil
	case ActionStart:
		reply.Content = Greeting()
		reply.Keyboard = Keyboard()
	case ActionMenu:
		reply.Content = MenuPrompt
		reply.Keyboard = Keyboard()
	case ActionRecord, ActionMark:
		ev, streak, err := l.record(ctx, msg)
		if err != nil {
			return l.failure(msg, action, err)
		}
		if action == ActionMark {
			reply.Content = MarkConfirmation(ev.ActorLabel)
		} else {
			reply.Content = RecordConfirmation(ev.ActorLabel, streak, l.opts.StreakTarget, true)
		}
	case ActionShowTable:
		entries, err := l.agg.Leaderboard(ctx, msg.ChatID, stats.AllTime)
		if err != nil {
			return l.failure(msg, action, err)
		}
		reply.Content = Table(l.opts.Title, entries)
		if len(entries) > 0 {
			reply.Format = bus.FormatHTML
		}
	case ActionShowAllTime, ActionShowWeek, ActionShowMonth:
		entries, err := l.agg.Leaderboard(ctx, msg.ChatID, windowFor(action))
		if err != nil {
			return l.failure(msg, action, err)
		}
		reply.Content = Leaderboard(action, entries)
	}
	return reply
}

// record stores the check-in, computes the actor's streak and mirrors the
// event. Streak and publish failures are logged, not returned.
func (l *Loop) record(ctx context.Context, msg *bus.InboundMessage) (*timeline.Event, int, error) {
	ev, err := l.store.RecordEvent(ctx, msg.SenderID, msg.SenderName, msg.ChatID)
	if err != nil {
		return nil, 0, err
	}
	streak, err := l.streaks.ComputeStreak(ctx, ev.ActorID, ev.ScopeID, l.opts.StreakTarget)
	if err != nil {
		slog.Warn("Streak lookup failed", "actor_id", ev.ActorID, "scope_id", ev.ScopeID, "error", err)
		streak = 0
	}
	slog.Info("Event recorded", "id", ev.ID, "actor_id", ev.ActorID, "scope_id", ev.ScopeID, "streak", streak, "trace_id", msg.TraceID)
	if err := l.pub.Publish(ctx, publish.TopicEventRecorded, publish.EventRecorded{Event: ev, Streak: streak}); err != nil {
		slog.Warn("Event publish failed", "id", ev.ID, "error", err)
	}
	return ev, streak, nil
}

func (l *Loop) handleScheduled(ctx context.Context, msg *bus.InboundMessage) *bus.OutboundMessage {
	channel := msg.Meta(bus.MetaKeyTargetChannel)
	job := msg.Meta(bus.MetaKeySchedulerJob)
	if channel == "" || msg.ChatID == "" {
		slog.Warn("Scheduled job has no delivery target", "job", job)
		return nil
	}
	reply := &bus.OutboundMessage{Channel: channel, ChatID: msg.ChatID, TraceID: msg.TraceID}

	switch scheduler.JobKind(msg.Meta(bus.MetaKeySchedulerKind)) {
	case scheduler.KindReminder:
		reply.Content = l.opts.ReminderText
	case scheduler.KindMonthlySummary:
		entries, err := l.agg.Leaderboard(ctx, msg.ChatID, stats.Month)
		if err != nil {
			slog.Error("Monthly summary failed", "job", job, "scope_id", msg.ChatID, "error", err)
			return nil
		}
		reply.Content = MonthlySummary(entries)
		summary := publish.SummarySent{ScopeID: msg.ChatID, Window: stats.WindowName(stats.Month), Entries: entries}
		if err := l.pub.Publish(ctx, publish.TopicSummarySent, summary); err != nil {
			slog.Warn("Summary publish failed", "scope_id", msg.ChatID, "error", err)
		}
	default:
		slog.Warn("Unknown scheduled job kind", "job", job, "kind", msg.Meta(bus.MetaKeySchedulerKind))
		return nil
	}
	if reply.Content == "" {
		return nil
	}
	return reply
}

// failure maps a core error to a reply. Invalid identifiers are dropped.
func (l *Loop) failure(msg *bus.InboundMessage, action Action, err error) *bus.OutboundMessage {
	if errors.Is(err, timeline.ErrInvalidActor) || errors.Is(err, timeline.ErrInvalidScope) {
		slog.Warn("Dropping message with invalid identifiers", "channel", msg.Channel, "action", action, "error", err)
		return nil
	}
	slog.Error("Action failed", "channel", msg.Channel, "chat_id", msg.ChatID, "action", action, "error", err)
	return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, TraceID: msg.TraceID, Content: Unavailable}
}

func windowFor(a Action) time.Duration {
	switch a {
	case ActionShowWeek:
		return stats.Week
	case ActionShowMonth:
		return stats.Month
	default:
		return stats.AllTime
	}
}
