package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KafClaw/tallyclaw/internal/stats"
)

var (
	chatFlag   string
	userFlag   string
	nameFlag   string
	windowFlag string
	targetFlag int
	jsonFlag   bool
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the leaderboard of a chat",
	RunE:  runTop,
}

var streakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Print the current streak of a user in a chat",
	RunE:  runStreak,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a check-in by hand",
	RunE:  runRecord,
}

func init() {
	for _, c := range []*cobra.Command{topCmd, streakCmd, recordCmd} {
		c.Flags().StringVar(&chatFlag, "chat", "", "chat (scope) id")
		_ = c.MarkFlagRequired("chat")
	}
	for _, c := range []*cobra.Command{streakCmd, recordCmd} {
		c.Flags().StringVar(&userFlag, "user", "", "user (actor) id")
		_ = c.MarkFlagRequired("user")
	}
	topCmd.Flags().StringVar(&windowFlag, "window", "all", "all, week, month or a duration such as 72h")
	topCmd.Flags().BoolVar(&jsonFlag, "json", false, "print JSON")
	streakCmd.Flags().IntVar(&targetFlag, "target", 0, "streak length in days (default bot.streakTarget)")
	recordCmd.Flags().StringVar(&nameFlag, "name", "", "display name (default: the user id)")
}

func runTop(cmd *cobra.Command, args []string) error {
	window, err := stats.ParseWindow(windowFlag)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := stats.NewAggregator(store, nil).Leaderboard(context.Background(), chatFlag, window)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No check-ins in chat %s (%s).\n", chatFlag, stats.WindowName(window))
		return nil
	}
	fmt.Fprintf(out, "Leaderboard for %s (%s)\n", chatFlag, stats.WindowName(window))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tID\tCOUNT")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, e.Label, e.ActorID, e.Count)
	}
	return tw.Flush()
}

func runStreak(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	target := targetFlag
	if target <= 0 {
		target = cfg.Bot.StreakTarget
	}
	streak, err := stats.NewStreakCalculator(store).ComputeStreak(context.Background(), userFlag, chatFlag, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Streak for %s in %s: %d/%d\n", userFlag, chatFlag, streak, target)
	return nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ev, err := store.RecordEvent(context.Background(), userFlag, nameFlag, chatFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded #%d for %s (%s) in %s at %s\n",
		ev.ID, ev.ActorLabel, ev.ActorID, ev.ScopeID, ev.RecordedAt.Format("2006-01-02 15:04:05Z07:00"))
	return nil
}
