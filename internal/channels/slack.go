package channels

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/config"
)

// SlashCommandPath is where Slack posts slash commands.
const SlashCommandPath = "/slack/commands"

// SlackAPI is the subset of *slack.Client the channel uses.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel receives slash commands over HTTP and replies with chat.postMessage.
// Each command (/start, /mark, /week, /month, /top) must be registered in the
// Slack app with SlashCommandPath as its request URL.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    SlackAPI
	server *http.Server
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: newBaseChannel(messageBus, cfg.AllowChats),
		config:      cfg,
		api:         slack.New(cfg.BotToken),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	subscribe(c, c.Bus, c.Send)

	mux := http.NewServeMux()
	mux.Handle(SlashCommandPath, c.Handler())
	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Slack listener failed", "addr", c.config.ListenAddr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	slog.Info("Slack channel started", "addr", c.config.ListenAddr, "path", SlashCommandPath)
	return nil
}

func (c *SlackChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	text := slackText(msg)
	if hint := keyboardHint(msg.Keyboard); hint != "" {
		text += "\n\n" + hint
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Handler verifies and accepts slash commands. The HTTP response only
// acknowledges; the reply is posted to the channel by Send.
func (c *SlackChannel) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sv, err := slack.NewSecretsVerifier(r.Header, c.config.SigningSecret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(io.TeeReader(r.Body, &sv))
		cmd, err := slack.SlashCommandParse(r)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := sv.Ensure(); err != nil {
			slog.Warn("Slack signature rejected", "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		content := strings.TrimSpace(cmd.Command + " " + cmd.Text)
		if !c.publish(&bus.InboundMessage{
			Channel:    c.Name(),
			SenderID:   cmd.UserID,
			SenderName: cmd.UserName,
			ChatID:     cmd.ChannelID,
			Content:    content,
			Metadata:   map[string]any{"team_id": cmd.TeamID},
		}) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// slackText converts the HTML table format to Slack mrkdwn.
func slackText(msg *bus.OutboundMessage) string {
	if msg.Format != bus.FormatHTML {
		return msg.Content
	}
	r := strings.NewReplacer("<pre>", "```", "</pre>", "```", "<b>", "*", "</b>", "*")
	return html.UnescapeString(r.Replace(msg.Content))
}
