package inventory

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Unavailable is shown for a best-effort field that could not be read.
const Unavailable = "-"

// FormatUptime renders the two coarsest units of d: days and hours when d
// is at least a day, hours and minutes when at least an hour, otherwise
// minutes and seconds.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd %dh", int(d/(24*time.Hour)), int(d%(24*time.Hour)/time.Hour))
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	default:
		return fmt.Sprintf("%dm %ds", int(d/time.Minute), int(d%time.Minute/time.Second))
	}
}

// FormatMB renders a byte count in megabytes with one decimal.
func FormatMB(bytes uint64) string {
	return fmt.Sprintf("%.1f", float64(bytes)/1024/1024)
}

// FormatTimestamp is the short local date-time used for task run times.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

// TruncateDescription cuts s to max runes and marks the cut with "...".
func TruncateDescription(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// CPUPercent is the average share of all logical processors the process has
// used over its whole life: cpu time / age / processors * 100. It is computed
// once per pass, not sampled, so a long idle process reads low even if it is
// busy right now. Returns 0 when age or processor count is not positive.
func CPUPercent(cpuTime, age time.Duration, processors int) float64 {
	if age <= 0 || processors <= 0 {
		return 0
	}
	cpuMs := float64(cpuTime) / float64(time.Millisecond)
	ageMs := float64(age) / float64(time.Millisecond)
	return cpuMs / ageMs / float64(processors) * 100
}
