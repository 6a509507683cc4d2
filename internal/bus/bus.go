// Package bus provides the async message bus between chat channels, the
// scheduler and the bot loop.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys.
const (
	MetaKeySchedulerJob  = "scheduler_job"
	MetaKeySchedulerKind = "scheduler_kind"
	MetaKeySchedulerTick = "scheduler_tick"
	MetaKeyTargetChannel = "target_channel"
)

// Outbound text formats.
const (
	FormatPlain = ""
	FormatHTML  = "html"
)

// ChannelScheduler is the pseudo channel name used for scheduler-originated messages.
const ChannelScheduler = "scheduler"

// InboundMessage represents a message from a channel (or the scheduler) to the bot.
type InboundMessage struct {
	Channel    string         `json:"channel"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name"`
	ChatID     string         `json:"chat_id"`
	TraceID    string         `json:"trace_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Meta returns a string metadata value, or "" if absent.
func (m *InboundMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	v, _ := m.Metadata[key].(string)
	return v
}

// OutboundMessage represents a message from the bot to a channel.
type OutboundMessage struct {
	Channel  string     `json:"channel"`
	ChatID   string     `json:"chat_id"`
	TraceID  string     `json:"trace_id"`
	Content  string     `json:"content"`
	Format   string     `json:"format,omitempty"`
	Keyboard [][]string `json:"keyboard,omitempty"` // Reply keyboard rows, where supported
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// MessageBus decouples channels from the bot core.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the bot.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.TraceID == "" {
		msg.TraceID = NewTraceID()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a message from the bot to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until an outbound message is available or context is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (*OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
