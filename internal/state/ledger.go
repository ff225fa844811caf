package state

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/user/statuskeeper/internal/types"
)

// Ledger is a JSONL-backed append-only record of created artifacts. It is an
// audit trail; idempotence never depends on it.
type Ledger struct {
	path string
	mu   sync.Mutex
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Append adds one record, filling in the id and timestamp when unset.
func (l *Ledger) Append(_ context.Context, rec *types.ArtifactRecord) error {
	if rec.ID == "" {
		rec.ID = types.NewRecordID()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	// Start on a fresh line if a previous write was cut short.
	if torn, err := endsTorn(f); err != nil {
		return err
	} else if torn {
		data = append([]byte{'\n'}, data...)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Tail returns the last limit records, oldest first. limit <= 0 returns all.
// Lines that do not decode, such as one cut short by a crash, are skipped.
func (l *Ledger) Tail(_ context.Context, limit int) ([]*types.ArtifactRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var records []*types.ArtifactRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec types.ArtifactRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			slog.Warn("skipping malformed ledger line", "path", l.path, "line", line, "error", err)
			continue
		}
		records = append(records, &rec)
		if limit > 0 && len(records) > limit {
			records = records[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return records, nil
}

// Count returns the number of well-formed records.
func (l *Ledger) Count(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if b := scanner.Bytes(); len(b) > 0 && json.Valid(b) {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan ledger: %w", err)
	}
	return n, nil
}

// endsTorn reports whether the file is non-empty and lacks a final newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	return last[0] != '\n', nil
}
