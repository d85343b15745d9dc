package paper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/signal"
)

// Journal entry kinds.
const (
	EntryFill     = "fill"
	EntryDecision = "decision"
)

// JournalEntry is one JSON line of the journal. Exactly one payload is set.
type JournalEntry struct {
	Kind     string          `json:"kind"`
	Fill     *execution.Fill `json:"fill,omitempty"`
	Decision *signal.Signal  `json:"decision,omitempty"`
}

// Journal appends paper fills and engine decisions to a JSONL file, flushing after every line.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewJournal opens path for appending, creating parent directories.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	w := bufio.NewWriter(file)
	return &Journal{file: file, w: w, enc: json.NewEncoder(w)}, nil
}

// Record appends a fill line.
func (j *Journal) Record(fill execution.Fill) error {
	return j.write(JournalEntry{Kind: EntryFill, Fill: &fill})
}

// RecordDecision appends a decision line.
func (j *Journal) RecordDecision(sig signal.Signal) error {
	return j.write(JournalEntry{Kind: EntryDecision, Decision: &sig})
}

func (j *Journal) write(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	if err := j.enc.Encode(entry); err != nil {
		return err
	}
	return j.w.Flush()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	flushErr := j.w.Flush()
	err := j.file.Close()
	j.file = nil
	if flushErr != nil {
		return flushErr
	}
	return err
}

// ReadJournal decodes every entry of a journal file in order.
func ReadJournal(path string) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}
