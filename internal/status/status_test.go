package status

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

func TestRecorderKeepsOrder(t *testing.T) {
	var rec Recorder
	ctx := context.Background()
	Infof(ctx, &rec, "Loading %s...", "services")
	Successf(ctx, &rec, "Started: %s", "wuauserv")
	Errorf(ctx, &rec, "Error starting %s: %v", "Spooler", "access denied")

	texts := rec.Texts()
	want := []string{"Loading services...", "Started: wuauserv", "Error starting Spooler: access denied"}
	if len(texts) != len(want) {
		t.Fatalf("got %d messages, want %d", len(texts), len(want))
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, texts[i], want[i])
		}
	}

	last, ok := rec.Last()
	if !ok || last.Level != LevelError {
		t.Fatalf("unexpected last message %+v", last)
	}

	rec.Reset()
	if _, ok := rec.Last(); ok {
		t.Fatal("expected no messages after reset")
	}
}

func TestRecorderConcurrent(t *testing.T) {
	var rec Recorder
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Infof(context.Background(), &rec, "tick")
		}()
	}
	wg.Wait()
	if n := len(rec.Messages()); n != 50 {
		t.Fatalf("got %d messages, want 50", n)
	}
}

func TestMultiSkipsNil(t *testing.T) {
	var a, b Recorder
	r := Multi(&a, nil, &b)
	Warnf(context.Background(), r, "Please select at least one %s.", "service")
	if len(a.Texts()) != 1 || len(b.Texts()) != 1 {
		t.Fatal("message should reach both reporters")
	}
}

func TestNilReporterIsIgnored(t *testing.T) {
	Infof(context.Background(), nil, "nothing")
}

func TestLogReporterUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logging.Init("text", "info", &buf)
	defer logging.Init("text", "warn", nil)

	ctx := logging.NewContext(context.Background(), logging.L("batch-test"))
	LogReporter{}.Report(ctx, Message{Level: LevelInfo, Text: "Started: wuauserv"})

	out := buf.String()
	if !strings.Contains(out, "Started: wuauserv") || !strings.Contains(out, "component=batch-test") {
		t.Fatalf("unexpected log output %q", out)
	}
}
