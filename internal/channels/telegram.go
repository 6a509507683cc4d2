package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/config"
)

// TelegramAPI is the subset of *tgbotapi.BotAPI the channel uses.
type TelegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// TelegramChannel long-polls the Bot API.
type TelegramChannel struct {
	BaseChannel
	config config.TelegramConfig
	newAPI func(token string) (TelegramAPI, error)

	mu   sync.Mutex
	api  TelegramAPI
	done chan struct{}
}

// NewTelegramChannel creates a Telegram channel.
func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: newBaseChannel(messageBus, cfg.AllowChats),
		config:      cfg,
		newAPI: func(token string) (TelegramAPI, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	api, err := c.newAPI(c.config.Token)
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	c.mu.Lock()
	c.api = api
	c.done = make(chan struct{})
	c.mu.Unlock()

	subscribe(c, c.Bus, c.Send)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.config.PollTimeout
	updates := api.GetUpdatesChan(u)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(update)
			}
		}
	}()
	slog.Info("Telegram channel started", "poll_timeout", c.config.PollTimeout)
	return nil
}

func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	api, done := c.api, c.done
	c.mu.Unlock()
	if api == nil {
		return nil
	}
	api.StopReceivingUpdates()
	if done != nil {
		<-done
	}
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return fmt.Errorf("telegram: not started")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = api.Send(telegramMessage(chatID, msg))
	return err
}

func telegramMessage(chatID int64, msg *bus.OutboundMessage) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(chatID, msg.Content)
	if msg.Format == bus.FormatHTML {
		out.ParseMode = tgbotapi.ModeHTML
	}
	if len(msg.Keyboard) > 0 {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(msg.Keyboard))
		for _, row := range msg.Keyboard {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		out.ReplyMarkup = tgbotapi.NewReplyKeyboard(rows...)
	}
	return out
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return
	}
	c.publish(&bus.InboundMessage{
		Channel:    c.Name(),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: telegramLabel(m.From),
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Content:    m.Text,
		Metadata:   map[string]any{"message_id": m.MessageID},
	})
}

// telegramLabel prefers the username, then the full name.
func telegramLabel(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
