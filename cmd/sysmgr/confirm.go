package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/breeze-rmm/sysmgr/internal/batch"
)

// errNoAnswer is returned when stdin closes before the operator answers.
var errNoAnswer = errors.New("no answer on stdin (use --yes to skip confirmation)")

// lineReader is the only consumer of stdin. The console prompt and batch
// confirmations both take lines from it, so a blocked read never races
// another one.
type lineReader struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	err   error // valid once lines is closed
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, lines: make(chan string)}
}

func (l *lineReader) start() {
	go func() {
		sc := bufio.NewScanner(l.r)
		for sc.Scan() {
			l.lines <- sc.Text()
		}
		l.err = sc.Err()
		close(l.lines)
	}()
}

// ReadLine returns the next line without its newline, io.EOF once input
// ends, or ctx's error.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	l.once.Do(l.start)
	select {
	case line, ok := <-l.lines:
		if !ok {
			if l.err != nil {
				return "", l.err
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// promptConfirmer asks on the terminal before a batch runs.
type promptConfirmer struct {
	mu  sync.Mutex
	in  *lineReader
	out io.Writer
}

func (p *promptConfirmer) Confirm(ctx context.Context, prompt batch.Prompt) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	marker := ""
	if prompt.Severity == batch.SeverityDanger {
		marker = "!! "
	}
	fmt.Fprintf(p.out, "%s%s\n%s [y/N]: ", marker, prompt.Title, prompt.Message)

	line, err := p.in.ReadLine(ctx)
	if err != nil {
		fmt.Fprintln(p.out)
		if errors.Is(err, io.EOF) {
			return false, errNoAnswer
		}
		return false, err
	}
	return isYes(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
