package monitor

import (
	"fmt"
	"time"
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats a duration as "Xd Yh", "Xh Ym" or "Xm".
// Negative durations are formatted by magnitude.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	minutes := int64(d / time.Minute)
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// FormatExpiry describes when a context expires relative to now.
func FormatExpiry(expiresAt, now time.Time) string {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return "expired " + FormatDuration(left) + " ago"
	}
	return "expires in " + FormatDuration(left)
}
