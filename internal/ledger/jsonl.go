package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsen/paperbee/internal/paper"
)

// maxLineCapacity is the maximum buffer size for one JSONL line.
const maxLineCapacity = 1024 * 1024

// JSONLLedger stores one row per line in a local file. A missing file is
// an empty ledger.
type JSONLLedger struct {
	path string
}

// NewJSONL creates a ledger backed by the file at path.
func NewJSONL(path string) *JSONLLedger {
	return &JSONLLedger{path: path}
}

// Name returns the file path.
func (l *JSONLLedger) Name() string { return l.path }

// Close does nothing.
func (l *JSONLLedger) Close() error { return nil }

// Snapshot reads every row in file order.
func (l *JSONLLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSnapshot(nil), nil
		}
		return Snapshot{}, fmt.Errorf("opening ledger file: %w", err)
	}
	defer f.Close()

	var rows []paper.Row
	scanner := bufio.NewScanner(f)
	buf := make([]byte, maxLineCapacity)
	scanner.Buffer(buf, maxLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r paper.Row
		if err := json.Unmarshal(line, &r); err != nil {
			return Snapshot{}, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("reading ledger file: %w", err)
	}
	return NewSnapshot(rows), nil
}

// Commit appends rows with a single write.
func (l *JSONLLedger) Commit(ctx context.Context, rows []paper.Row) error {
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding row %d: %w", i, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening ledger file for append: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	return f.Close()
}
