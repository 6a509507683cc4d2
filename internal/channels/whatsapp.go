package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/config"
)

// WhatsAppChannel implements a native WhatsApp client. WhatsApp has no reply
// keyboards, so users type the button labels and keyboards are sent as a hint.
type WhatsAppChannel struct {
	BaseChannel
	config      config.WhatsAppConfig
	sessionPath string
	qrPath      string
	client      *whatsmeow.Client
	container   *sqlstore.Container
	sendFn      func(ctx context.Context, jid types.JID, text string) error
	connectFn   func(ctx context.Context, client *whatsmeow.Client) error
	mu          sync.Mutex
}

// NewWhatsAppChannel creates a WhatsApp channel storing its device session at
// sessionPath and writing pairing QR codes to qrPath.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, sessionPath, qrPath string, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: newBaseChannel(messageBus, cfg.AllowChats),
		config:      cfg,
		sessionPath: sessionPath,
		qrPath:      qrPath,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0700); err != nil {
		return fmt.Errorf("whatsapp: session dir: %w", err)
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	dsn := "file:" + c.sessionPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return fmt.Errorf("whatsapp: init session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("whatsapp: load device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, clientLog)
	client.AddEventHandler(c.eventHandler)

	c.mu.Lock()
	c.container = container
	c.client = client
	c.mu.Unlock()

	if err := c.connect(ctx, client); err != nil {
		_ = c.Stop()
		return err
	}

	subscribe(c, c.Bus, c.Send)
	slog.Info("WhatsApp channel started", "session", c.sessionPath)
	return nil
}

// connect links the client, pairing by QR code when the device is new.
func (c *WhatsAppChannel) connect(ctx context.Context, client *whatsmeow.Client) error {
	if c.connectFn != nil {
		return c.connectFn(ctx, client)
	}
	if client.Store.ID != nil {
		if err := client.Connect(); err != nil {
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
		return nil
	}
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: qr channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	go c.pair(qrChan)
	return nil
}

// pair writes each pairing code as a PNG until the device is linked.
func (c *WhatsAppChannel) pair(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event != whatsmeow.QRChannelEventCode {
			slog.Info("WhatsApp pairing event", "event", evt.Event)
			continue
		}
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, c.qrPath); err != nil {
			slog.Error("WhatsApp QR write failed", "path", c.qrPath, "error", err)
			continue
		}
		slog.Info("WhatsApp login QR code written, scan it with your phone", "path", c.qrPath)
	}
}

func (c *WhatsAppChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Disconnect()
		c.client = nil
	}
	if c.container != nil {
		err := c.container.Close()
		c.container = nil
		return err
	}
	return nil
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid JID %q: %w", msg.ChatID, err)
	}
	text := plainText(msg)
	if hint := keyboardHint(msg.Keyboard); hint != "" {
		text += "\n\n" + hint
	}
	if c.sendFn != nil {
		return c.sendFn(ctx, jid, text)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("whatsapp: client not initialized")
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg := whatsAppInbound(v); msg != nil {
			c.publish(msg)
		}
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out; delete the session file and pair again", "session", c.sessionPath)
	}
}

// whatsAppInbound converts a text message event. Own messages and non-text
// messages yield nil.
func whatsAppInbound(v *events.Message) *bus.InboundMessage {
	if v.Info.IsFromMe || v.Message == nil {
		return nil
	}
	content := v.Message.GetConversation()
	if content == "" {
		content = v.Message.GetExtendedTextMessage().GetText()
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return &bus.InboundMessage{
		Channel:    "whatsapp",
		SenderID:   v.Info.Sender.User,
		SenderName: v.Info.PushName,
		ChatID:     v.Info.Chat.String(),
		Content:    content,
		Metadata:   map[string]any{"message_id": v.Info.ID},
		Timestamp:  v.Info.Timestamp,
	}
}
