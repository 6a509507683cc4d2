package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/KafClaw/tallyclaw/internal/stats"
)

// Empty-result notices.
const (
	EmptyWeek    = "Nobody checked in this week 😢"
	EmptyMonth   = "Nothing this month 😢"
	EmptyAllTime = "Nobody has checked in yet 😢"
	EmptyTable   = "No data for the table yet."
	EmptySummary = "No data for the month 😢"
	Unavailable  = "Storage is unavailable, try again later."
	MenuPrompt   = "Choose an action:"
)

// Greeting is the /start reply.
func Greeting() string {
	return "Hi! I keep count of check-ins.\n" +
		"Commands:\n" +
		"/mark - check in\n" +
		"/week - stats for the last 7 days\n" +
		"/month - stats for the last 30 days\n" +
		"/top - all-time top"
}

// RecordConfirmation acknowledges a check-in. The streak line is added when
// withStreak is set and the actor just completed a streak of target days.
func RecordConfirmation(label string, streak, target int, withStreak bool) string {
	msg := label + " checked in! 💪"
	if withStreak && stats.IsMilestone(streak, target) {
		msg += fmt.Sprintf("\n%d days in a row! 🔥", target)
	}
	return msg
}

// MarkConfirmation acknowledges /mark.
func MarkConfirmation(label string) string {
	return label + " logged a result! 👀"
}

// Leaderboard renders a ranked list for /week, /month and /top.
func Leaderboard(action Action, entries []stats.Entry) string {
	var header, empty string
	switch action {
	case ActionShowWeek:
		header, empty = "📅 Last 7 days:", EmptyWeek
	case ActionShowMonth:
		header, empty = "📊 Last 30 days:", EmptyMonth
	default:
		header, empty = "🏆 All-time top:", EmptyAllTime
	}
	if len(entries) == 0 {
		return empty
	}
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s: %d\n", e.Label, e.Count)
	}
	return sb.String()
}

// Table renders the all-time table as preformatted HTML with a bold title.
func Table(title string, entries []stats.Entry) string {
	if len(entries) == 0 {
		return EmptyTable
	}
	width := len("name")
	for _, e := range entries {
		if n := len([]rune(e.Label)); n > width {
			width = n
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n\n", html.EscapeString(title))
	fmt.Fprintf(&sb, "%-*s | check-ins\n", width, "name")
	sb.WriteString(strings.Repeat("-", width+12))
	sb.WriteString("\n")
	for _, e := range entries {
		pad := width - len([]rune(e.Label))
		fmt.Fprintf(&sb, "%s%s | %d\n", html.EscapeString(e.Label), strings.Repeat(" ", pad), e.Count)
	}
	return "<pre>" + sb.String() + "</pre>"
}

// MonthlySummary renders the monthly results and the winner.
func MonthlySummary(entries []stats.Entry) string {
	winner, ok := stats.Winner(entries)
	if !ok {
		return EmptySummary
	}
	var sb strings.Builder
	sb.WriteString("📅 Monthly results!\n\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s: %d\n", e.Label, e.Count)
	}
	fmt.Fprintf(&sb, "\n🏆 Winner of the month: %s with %d!", winner.Label, winner.Count)
	return sb.String()
}
