package notifications

import (
	"fmt"
	"time"
)

// FormatAge renders how long ago created was, relative to now.
func FormatAge(created, now time.Time) string {
	age := now.Sub(created)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age/time.Minute))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age/time.Hour))
	default:
		return created.Format("Jan 2, 2006")
	}
}
