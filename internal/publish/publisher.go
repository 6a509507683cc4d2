// Package publish mirrors tracker activity onto an external message broker.
package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/tallyclaw/internal/stats"
	"github.com/KafClaw/tallyclaw/internal/timeline"
)

// Topic constants. Drivers may prefix them.
const (
	TopicEventRecorded = "tally.event.recorded"
	TopicSummarySent   = "tally.summary.sent"
)

// EventRecorded is published after every stored check-in.
type EventRecorded struct {
	Event  *timeline.Event `json:"event"`
	Streak int             `json:"streak"`
}

// PartitionKey keys the message by scope so one chat's events stay ordered.
func (e EventRecorded) PartitionKey() string {
	if e.Event == nil {
		return ""
	}
	return e.Event.ScopeID
}

// SummarySent is published after a scheduled summary is delivered.
type SummarySent struct {
	ScopeID string        `json:"scope_id"`
	Window  string        `json:"window"`
	Entries []stats.Entry `json:"entries"`
}

func (s SummarySent) PartitionKey() string { return s.ScopeID }

// Keyed is implemented by payloads that carry a partition key.
type Keyed interface {
	PartitionKey() string
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Config selects and configures a Publisher.
type Config struct {
	Driver      string   // none, kafka, nats
	Brokers     []string // kafka
	TopicPrefix string   // prepended to topic names, e.g. "prod."
	NATSURL     string
}

// New builds the Publisher selected by cfg.Driver.
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return &NoopPublisher{}, nil
	case "kafka":
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("publish: kafka driver needs at least one broker")
		}
		return NewKafkaPublisher(cfg.Brokers, cfg.TopicPrefix), nil
	case "nats":
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("publish: nats driver needs a url")
		}
		return NewNATSPublisher(cfg.NATSURL, cfg.TopicPrefix)
	default:
		return nil, fmt.Errorf("publish: unknown driver %q", cfg.Driver)
	}
}
