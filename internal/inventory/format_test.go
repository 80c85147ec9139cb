package inventory

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0m 0s"},
		{59 * time.Second, "0m 59s"},
		{5*time.Minute + 7*time.Second, "5m 7s"},
		{time.Hour, "1h 0m"},
		{3*time.Hour + 25*time.Minute + 10*time.Second, "3h 25m"},
		{24 * time.Hour, "1d 0h"},
		{2*24*time.Hour + 5*time.Hour + 59*time.Minute, "2d 5h"},
		{-time.Minute, "0m 0s"},
	}
	for _, tt := range tests {
		if got := FormatUptime(tt.in); got != tt.want {
			t.Errorf("FormatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMB(t *testing.T) {
	if got := FormatMB(0); got != "0.0" {
		t.Fatalf("FormatMB(0) = %q", got)
	}
	if got := FormatMB(52428800); got != "50.0" {
		t.Fatalf("FormatMB(50MiB) = %q", got)
	}
	if got := FormatMB(1572864); got != "1.5" {
		t.Fatalf("FormatMB(1.5MiB) = %q", got)
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "Keeps the clock in sync."
	if got := TruncateDescription(short, 100); got != short {
		t.Fatalf("short description changed: %q", got)
	}

	exact := strings.Repeat("a", 100)
	if got := TruncateDescription(exact, 100); got != exact {
		t.Fatal("description of exactly max length must not be truncated")
	}

	long := strings.Repeat("b", 150)
	got := TruncateDescription(long, 100)
	if len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected 100 chars plus ellipsis, got %d chars: %q", len(got), got)
	}

	multi := strings.Repeat("é", 120)
	got = TruncateDescription(multi, 100)
	if n := len([]rune(got)); n != 103 {
		t.Fatalf("expected 103 runes, got %d", n)
	}
}

func TestCPUPercent(t *testing.T) {
	got := CPUPercent(5000*time.Millisecond, 10000*time.Millisecond, 4)
	if math.Abs(got-12.5) > 1e-9 {
		t.Fatalf("CPUPercent = %v, want 12.5", got)
	}

	if got := CPUPercent(time.Second, 0, 4); got != 0 {
		t.Fatalf("zero age should yield 0, got %v", got)
	}
	if got := CPUPercent(time.Second, time.Second, 0); got != 0 {
		t.Fatalf("zero processors should yield 0, got %v", got)
	}
}

func TestTaskRunText(t *testing.T) {
	var r TaskRecord
	if r.LastRunText() != NeverRun {
		t.Fatalf("LastRunText = %q", r.LastRunText())
	}
	if r.NextRunText() != NotScheduled {
		t.Fatalf("NextRunText = %q", r.NextRunText())
	}

	r.LastRun = time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)
	if got := r.LastRunText(); got != "2024-03-01 09:30" {
		t.Fatalf("LastRunText = %q", got)
	}
}

func TestStartTypeFromCode(t *testing.T) {
	want := map[int]StartType{
		0: StartBoot, 1: StartSystem, 2: StartAutomatic,
		3: StartManual, 4: StartDisabled, 5: StartUnknown, -1: StartUnknown,
	}
	for code, w := range want {
		if got := StartTypeFromCode(code); got != w {
			t.Errorf("StartTypeFromCode(%d) = %s, want %s", code, got, w)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for _, in := range []string{"services", "Service", " svc "} {
		if c, ok := ParseCategory(in); !ok || c != Services {
			t.Errorf("ParseCategory(%q) = %q, %v", in, c, ok)
		}
	}
	if _, ok := ParseCategory("drivers"); ok {
		t.Fatal("unknown category should not parse")
	}
	if Processes.Noun() != "process(es)" || Tasks.Singular() != "task" {
		t.Fatal("unexpected noun forms")
	}
}
