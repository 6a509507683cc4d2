package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/tallyclaw/internal/config"
	"github.com/KafClaw/tallyclaw/internal/scheduler"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ tallyclaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config, store and channel status",
	RunE:  runStatus,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List scheduled jobs with their next and last runs",
	RunE:  runJobs,
}

func runStatus(cmd *cobra.Command, args []string) error {
	printHeader("📊 tallyclaw Status")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version: %s\n", version)

	configPath, _ := config.ConfigPath()
	_, statErr := os.Stat(configPath)
	fmt.Fprintf(out, "Config:  %s %s\n", okMark(statErr == nil), configPath)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(out, "Store:   %s %s (%v)\n", okMark(false), cfg.StoragePath(), err)
		return nil
	}
	defer store.Close()
	fmt.Fprintf(out, "Store:   %s %s (%s)\n", okMark(true), cfg.StoragePath(), store.Driver())

	scopes, err := store.ListScopes(context.Background())
	if err != nil {
		return err
	}
	total := 0
	for _, s := range scopes {
		total += s.Events
	}
	fmt.Fprintf(out, "Events:  %d in %d chats\n", total, len(scopes))
	for _, s := range scopes {
		fmt.Fprintf(out, "  %s: %d events, %d users\n", s.ScopeID, s.Events, s.Actors)
	}

	enabled := cfg.EnabledChannels()
	if len(enabled) == 0 {
		fmt.Fprintf(out, "Channels: %s none enabled\n", okMark(false))
	} else {
		fmt.Fprintf(out, "Channels: %v\n", enabled)
	}
	if cfg.Channels.WhatsApp.Enabled {
		_, err := os.Stat(cfg.WhatsAppSessionPath())
		fmt.Fprintf(out, "WhatsApp session: %s %s\n", okMark(err == nil), cfg.WhatsAppSessionPath())
		if err != nil {
			fmt.Fprintf(out, "WhatsApp QR:      %s (written when the gateway starts)\n", cfg.WhatsAppQRPath())
		}
	}
	fmt.Fprintf(out, "Publish: %s\n", cfg.Publish.Driver)
	if cfg.Bot.DefaultChatID == "" {
		fmt.Fprintf(out, "Scheduler: %s bot.defaultChatId not set\n", okMark(false))
	} else {
		fmt.Fprintf(out, "Scheduler: %s %s/%s (%s)\n", okMark(cfg.Scheduler.Enabled), cfg.Bot.DefaultChannel, cfg.Bot.DefaultChatID, cfg.Scheduler.Timezone)
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobs, err := scheduler.BuildJobs(cfg)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs: set bot.defaultChatId to enable reminders and the monthly summary.")
		return nil
	}
	now := time.Now().In(loc)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tCRON\tKIND\tNEXT\tLAST\tSTATUS\tRUNS")
	for _, j := range jobs {
		next := "-"
		if n := j.Cron.Next(now); !n.IsZero() {
			next = n.Format("2006-01-02 15:04 MST")
		}
		last, status, runs := "-", "-", 0
		rec, err := store.GetScheduledJob(j.Name)
		if err != nil {
			return err
		}
		if rec != nil {
			last = rec.LastRunAt.In(loc).Format("2006-01-02 15:04 MST")
			status = rec.LastStatus
			runs = rec.RunCount
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", j.Name, j.Spec, j.Kind, next, last, status, runs)
	}
	return tw.Flush()
}
