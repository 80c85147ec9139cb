// Package audit keeps a tamper-evident trail of batch commands: every batch,
// every item outcome and every declined confirmation is appended as one JSON
// line linked to the previous line by a SHA-256 hash.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("audit")

// Event types.
const (
	EventBatchStarted  = "batch_started"
	EventBatchDeclined = "batch_declined"
	EventItemSucceeded = "item_succeeded"
	EventItemFailed    = "item_failed"
	EventBatchFinished = "batch_finished"
	EventLogRotated    = "log_rotated"
)

// criticalEvents are synced to disk as soon as they are written.
var criticalEvents = map[string]bool{
	EventBatchStarted:  true,
	EventBatchFinished: true,
}

const genesisHash = "genesis"

// Entry is one line of the trail.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	BatchID   string         `json:"batchId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends entries to a size-rotated JSONL file. A nil *Logger is a
// valid no-op so callers never have to check whether auditing is enabled.
type Logger struct {
	mu       sync.Mutex
	out      *logging.RotatingWriter
	prevHash string
	dropped  atomic.Int64
}

// Open starts a trail at path. maxSizeMB and maxBackups fall back to 10 and
// 3 when not positive.
func Open(path string, maxSizeMB, maxBackups int) (*Logger, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return open(path, int64(maxSizeMB)<<20, maxBackups)
}

func open(path string, limit int64, maxBackups int) (*Logger, error) {
	out, err := logging.OpenRotating(path, limit, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	log.Debug("audit trail opened", "path", path)
	return &Logger{out: out, prevHash: genesisHash}, nil
}

// Log appends one entry. The chain only advances after a successful write,
// so a failed write never leaves a gap.
func (l *Logger) Log(eventType, batchID string, details map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: now(),
		EventType: eventType,
		BatchID:   batchID,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	data, err := l.seal(&entry)
	if err != nil {
		log.Error("failed to encode audit entry", logging.KeyError, err.Error(), "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if !l.out.Fits(len(data)) {
		l.rotate()
		// the sentinel moved the chain
		entry.PrevHash = l.prevHash
		if data, err = l.seal(&entry); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	if !l.write(data) {
		log.Error("failed to write audit entry", "eventType", eventType)
		return
	}
	l.prevHash = entry.EntryHash

	if criticalEvents[eventType] {
		if err := l.out.Sync(); err != nil {
			log.Warn("audit fsync failed", logging.KeyError, err.Error())
		}
	}
}

func (l *Logger) write(data []byte) bool {
	if _, err := l.out.Append(data); err != nil {
		l.dropped.Add(1)
		return false
	}
	return true
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// seal computes the entry hash and returns the encoded line.
func (l *Logger) seal(entry *Entry) ([]byte, error) {
	hash, err := computeHash(*entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Close closes the trail file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// DroppedCount is the number of entries that could not be written, or -1
// on a nil logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// computeHash length-prefixes every field so no two field combinations
// serialise to the same bytes.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.BatchID, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify walks the entries of one file and reports the first broken link.
// The first entry may link to anything; a rotated file starts with a
// sentinel pointing into its predecessor.
func Verify(entries []Entry) error {
	for i, e := range entries {
		want, err := computeHash(Entry{
			Timestamp: e.Timestamp, EventType: e.EventType, BatchID: e.BatchID,
			Details: e.Details, PrevHash: e.PrevHash,
		})
		if err != nil {
			return err
		}
		if want != e.EntryHash {
			return fmt.Errorf("entry %d: hash mismatch", i)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return fmt.Errorf("entry %d: broken link", i)
		}
	}
	return nil
}

// rotate starts a new file whose first line is a sentinel linking back to
// the last entry of the old one.
func (l *Logger) rotate() {
	if err := l.out.Rotate(); err != nil {
		log.Warn("audit rotation", logging.KeyError, err.Error())
	}
	sentinel := Entry{
		Timestamp: now(),
		EventType: EventLogRotated,
		PrevHash:  l.prevHash,
		Details:   map[string]any{"previousFile": l.out.BackupName(1)},
	}
	data, err := l.seal(&sentinel)
	if err != nil || !l.write(data) {
		log.Error("audit rotation sentinel not written, chain broken")
		l.prevHash = "chain-broken"
		return
	}
	l.prevHash = sentinel.EntryHash
}
