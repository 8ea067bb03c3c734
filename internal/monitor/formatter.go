package monitor

import "fmt"

// FormatLatency formats a latency in milliseconds as "X.Xms" or "X.Xs".
func FormatLatency(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDelta formats a signed ratio as percentage points, e.g. "+4.0pp".
func FormatDelta(ratio float64) string {
	return fmt.Sprintf("%+.1fpp", ratio*100)
}

// FormatDays formats a fractional day count as "Xd Yh" or "Yh".
func FormatDays(days float64) string {
	if days < 0 {
		days = 0
	}
	return FormatDuration(int64(days * 24 * 3600))
}

// FormatDuration formats duration in seconds to "Xd Yh", "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	d := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh", d, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
