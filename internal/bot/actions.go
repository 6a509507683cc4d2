// Package bot turns inbound chat messages and scheduler triggers into
// store writes, streak checks and leaderboard replies.
package bot

import "strings"

// Action is what an inbound message asks the bot to do.
type Action string

const (
	ActionNone        Action = ""
	ActionStart       Action = "start"
	ActionMenu        Action = "menu"
	ActionRecord      Action = "record" // "Check in" button; the reply carries the streak line
	ActionMark        Action = "mark"   // /mark; plain confirmation
	ActionShowTable   Action = "show_table"
	ActionShowAllTime Action = "show_all_time"
	ActionShowWeek    Action = "show_week"
	ActionShowMonth   Action = "show_month"
)

// Reply keyboard labels.
const (
	ButtonCheckIn   = "Check in"
	ButtonShowTable = "Show table"
	ButtonRefresh   = "Refresh"
)

// Keyboard returns the reply keyboard, one button per row.
func Keyboard() [][]string {
	return [][]string{{ButtonCheckIn}, {ButtonShowTable}, {ButtonRefresh}}
}

var commands = map[string]Action{
	"start": ActionStart,
	"mark":  ActionMark,
	"week":  ActionShowWeek,
	"month": ActionShowMonth,
	"top":   ActionShowAllTime,
}

var buttons = map[string]Action{
	ButtonCheckIn:   ActionRecord,
	ButtonShowTable: ActionShowTable,
	ButtonRefresh:   ActionMenu,
}

// ParseAction maps message text to an Action. Commands may carry a
// "@botname" suffix and trailing arguments; button labels must match
// exactly. Anything else is ActionNone.
func ParseAction(text string) Action {
	text = strings.TrimSpace(text)
	if a, ok := buttons[text]; ok {
		return a
	}
	if !strings.HasPrefix(text, "/") {
		return ActionNone
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return ActionNone
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return commands[strings.ToLower(cmd)]
}
