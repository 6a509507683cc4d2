// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/KafClaw/tallyclaw/internal/bus"
)

const sendTimeout = 30 * time.Second

// Channel defines the interface for chat platforms (Telegram, Slack, WhatsApp).
type Channel interface {
	// Name returns the channel name (e.g. "telegram").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus        *bus.MessageBus
	allowChats map[string]struct{}
}

func newBaseChannel(b *bus.MessageBus, allowChats []string) BaseChannel {
	base := BaseChannel{Bus: b}
	for _, id := range allowChats {
		if id = strings.TrimSpace(id); id != "" {
			if base.allowChats == nil {
				base.allowChats = map[string]struct{}{}
			}
			base.allowChats[id] = struct{}{}
		}
	}
	return base
}

// Allowed reports whether chatID may talk to the bot. An empty allow list
// admits every chat.
func (b *BaseChannel) Allowed(chatID string) bool {
	if len(b.allowChats) == 0 {
		return true
	}
	_, ok := b.allowChats[chatID]
	return ok
}

// publish forwards an inbound message if its chat is allowed.
func (b *BaseChannel) publish(msg *bus.InboundMessage) bool {
	if !b.Allowed(msg.ChatID) {
		slog.Debug("Inbound message from chat not in allow list", "channel", msg.Channel, "chat_id", msg.ChatID)
		return false
	}
	b.Bus.PublishInbound(msg)
	return true
}

// subscribe routes outbound messages for ch to send, logging failures.
func subscribe(ch Channel, b *bus.MessageBus, send func(ctx context.Context, msg *bus.OutboundMessage) error) {
	b.Subscribe(ch.Name(), func(msg *bus.OutboundMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := send(ctx, msg); err != nil {
			slog.Error("Outbound delivery failed", "channel", ch.Name(), "chat_id", msg.ChatID, "trace_id", msg.TraceID, "error", err)
			return
		}
		slog.Debug("Outbound delivered", "channel", ch.Name(), "chat_id", msg.ChatID, "trace_id", msg.TraceID)
	})
}

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// plainText renders an outbound message for transports without HTML.
func plainText(msg *bus.OutboundMessage) string {
	if msg.Format != bus.FormatHTML {
		return msg.Content
	}
	return html.UnescapeString(tagPattern.ReplaceAllString(msg.Content, ""))
}

// keyboardHint lists keyboard buttons as text for transports without reply keyboards.
func keyboardHint(rows [][]string) string {
	var labels []string
	for _, row := range rows {
		labels = append(labels, row...)
	}
	if len(labels) == 0 {
		return ""
	}
	return "Reply with: " + strings.Join(labels, " | ")
}
