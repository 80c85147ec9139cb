// Package status carries the single-line progress and outcome messages that
// collection passes and batches emit for the operator.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

// Level grades a message for presentation.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// Message is one status line.
type Message struct {
	Time  time.Time `json:"time" yaml:"time"`
	Level Level     `json:"level" yaml:"level"`
	Text  string    `json:"text" yaml:"text"`
}

func (m Message) String() string { return m.Text }

// Reporter receives status lines. Implementations must be safe for
// concurrent use; batches report from worker goroutines.
type Reporter interface {
	Report(ctx context.Context, msg Message)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(ctx context.Context, msg Message)

func (f ReporterFunc) Report(ctx context.Context, msg Message) { f(ctx, msg) }

// Discard drops every message.
var Discard Reporter = ReporterFunc(func(context.Context, Message) {})

func emit(ctx context.Context, r Reporter, level Level, format string, args ...any) {
	if r == nil {
		return
	}
	r.Report(ctx, Message{Time: time.Now(), Level: level, Text: fmt.Sprintf(format, args...)})
}

func Infof(ctx context.Context, r Reporter, format string, args ...any) {
	emit(ctx, r, LevelInfo, format, args...)
}

func Successf(ctx context.Context, r Reporter, format string, args ...any) {
	emit(ctx, r, LevelSuccess, format, args...)
}

func Warnf(ctx context.Context, r Reporter, format string, args ...any) {
	emit(ctx, r, LevelWarn, format, args...)
}

func Errorf(ctx context.Context, r Reporter, format string, args ...any) {
	emit(ctx, r, LevelError, format, args...)
}

// LogReporter forwards messages to the context logger, falling back to the
// "status" component logger.
type LogReporter struct{}

var log = logging.L("status")

func (LogReporter) Report(ctx context.Context, msg Message) {
	l := logging.FromContext(ctx)
	if l == slog.Default() {
		l = log
	}
	switch msg.Level {
	case LevelError:
		l.Error(msg.Text)
	case LevelWarn:
		l.Warn(msg.Text)
	default:
		l.Info(msg.Text)
	}
}

// Recorder keeps every message in memory. The console uses it to show the
// latest line; tests use it to assert on wording.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Report(_ context.Context, msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Texts returns just the message texts.
func (r *Recorder) Texts() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// Last returns the most recent message, if any.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return Message{}, false
	}
	return r.msgs[len(r.msgs)-1], true
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// Multi fans a message out to several reporters in order.
func Multi(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return ReporterFunc(func(ctx context.Context, msg Message) {
		for _, r := range rs {
			r.Report(ctx, msg)
		}
	})
}
