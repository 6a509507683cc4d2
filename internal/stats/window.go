package stats

import (
	"fmt"
	"strings"
	"time"
)

// ParseWindow maps a window name or Go duration to a window length.
// "all", "top" and "" mean all-time.
func ParseWindow(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "alltime", "all-time", "top":
		return AllTime, nil
	case "week", "7d":
		return Week, nil
	case "month", "30d":
		return Month, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("unknown window %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative window %q", s)
	}
	return d, nil
}

// WindowName returns a short human name for a window.
func WindowName(w time.Duration) string {
	switch w {
	case AllTime:
		return "all time"
	case Week:
		return "week"
	case Month:
		return "month"
	default:
		return w.String()
	}
}
