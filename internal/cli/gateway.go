package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KafClaw/tallyclaw/internal/bot"
	"github.com/KafClaw/tallyclaw/internal/bus"
	"github.com/KafClaw/tallyclaw/internal/channels"
	"github.com/KafClaw/tallyclaw/internal/config"
	"github.com/KafClaw/tallyclaw/internal/publish"
	"github.com/KafClaw/tallyclaw/internal/scheduler"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot: channels, bot loop and scheduler",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader("🌐 tallyclaw Gateway")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	fmt.Printf("Store:   %s (%s)\n", cfg.StoragePath(), store.Driver())

	pub, err := publish.New(publish.Config{
		Driver:      cfg.Publish.Driver,
		Brokers:     cfg.Publish.Brokers,
		TopicPrefix: cfg.Publish.TopicPrefix,
		NATSURL:     cfg.Publish.NatsURL,
	})
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()

	started := startChannels(ctx, cfg, msgBus)
	if len(started) == 0 {
		return fmt.Errorf("no channel started; enable at least one under channels.*")
	}
	defer func() {
		for _, ch := range started {
			if err := ch.Stop(); err != nil {
				slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
			}
		}
	}()

	loop := bot.NewLoop(msgBus, store, bot.Options{
		Title:        cfg.Bot.Title,
		StreakTarget: cfg.Bot.StreakTarget,
		ReminderText: cfg.Bot.ReminderText,
		Publisher:    pub,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Component stopped", "component", name, "error", err)
			}
		}()
	}
	run("bot", loop.Run)
	run("dispatch", msgBus.DispatchOutbound)

	if sched, err := buildScheduler(cfg, msgBus, store); err != nil {
		return err
	} else if sched != nil {
		run("scheduler", sched.Run)
	}

	fmt.Println("Gateway running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	wg.Wait()
	return nil
}

func startChannels(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus) []channels.Channel {
	var candidates []channels.Channel
	if cfg.Channels.Telegram.Enabled {
		candidates = append(candidates, channels.NewTelegramChannel(cfg.Channels.Telegram, msgBus))
	}
	if cfg.Channels.Slack.Enabled {
		candidates = append(candidates, channels.NewSlackChannel(cfg.Channels.Slack, msgBus))
	}
	if cfg.Channels.WhatsApp.Enabled {
		candidates = append(candidates, channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, cfg.WhatsAppSessionPath(), cfg.WhatsAppQRPath(), msgBus))
	}

	var started []channels.Channel
	for _, ch := range candidates {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Channel %s: %s %v\n", ch.Name(), okMark(false), err)
			continue
		}
		fmt.Printf("Channel %s: %s\n", ch.Name(), okMark(true))
		started = append(started, ch)
	}
	return started
}

// buildScheduler returns nil when scheduling is disabled or has no target chat.
func buildScheduler(cfg *config.Config, msgBus *bus.MessageBus, runs scheduler.RunRecorder) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	jobs, err := scheduler.BuildJobs(cfg)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		slog.Warn("Scheduler enabled but bot.defaultChatId is empty; reminders and summaries are off")
		return nil, nil
	}
	schedCfg, err := scheduler.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(filepath.Dir(schedCfg.LockPath)); err != nil {
		return nil, fmt.Errorf("scheduler lock dir: %w", err)
	}
	sched := scheduler.New(schedCfg, msgBus, runs)
	for _, job := range jobs {
		sched.Register(job)
	}
	return sched, nil
}
