// Package ledger persists the papers already published, keyed by DOI, and
// computes each day's delta against it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/matsen/paperbee/internal/paper"
)

// ErrNotFound means the ledger's spreadsheet, worksheet, database or table
// does not exist. It is fatal for a run, unlike an empty ledger.
var ErrNotFound = errors.New("ledger not found")

// ErrAlreadyCommitted is returned by a second commit within one run.
var ErrAlreadyCommitted = errors.New("ledger already committed in this run")

// NotFoundError describes which part of a ledger is missing.
type NotFoundError struct {
	Kind string // spreadsheet, worksheet, database or table
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is makes errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound returns true if the error indicates a missing ledger.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// State distinguishes a populated ledger from a valid empty one.
type State int

const (
	Empty State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "empty"
}

// Snapshot is a full read of the ledger.
type Snapshot struct {
	State State
	Rows  []paper.Row
}

// NewSnapshot builds a snapshot, Empty when there are no rows.
func NewSnapshot(rows []paper.Row) Snapshot {
	if len(rows) == 0 {
		return Snapshot{State: Empty}
	}
	return Snapshot{State: Ready, Rows: rows}
}

// DOIs returns the set of DOIs in the snapshot.
func (s Snapshot) DOIs() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Rows))
	for _, r := range s.Rows {
		set[r.DOI] = struct{}{}
	}
	return set
}

// Ledger is an append-only table of published rows.
type Ledger interface {
	// Name identifies the ledger in logs and links, e.g. a spreadsheet URL.
	Name() string

	// Snapshot reads the whole ledger. A missing ledger is ErrNotFound;
	// an existing ledger with no rows is an Empty snapshot.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Commit appends rows in one write. Committing no rows does nothing.
	Commit(ctx context.Context, rows []paper.Row) error

	Close() error
}

// ComputeDelta returns the rows whose DOI is not in the snapshot, in order.
func ComputeDelta(rows []paper.Row, snap Snapshot) []paper.Row {
	if snap.State == Empty {
		return rows
	}
	seen := snap.DOIs()
	delta := make([]paper.Row, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.DOI]; !ok {
			delta = append(delta, r)
		}
	}
	return delta
}

// DedupeByDOI keeps the first row for each DOI and reports how many
// duplicates were removed.
func DedupeByDOI(rows []paper.Row) ([]paper.Row, int) {
	seen := make(map[string]bool, len(rows))
	out := make([]paper.Row, 0, len(rows))
	for _, r := range rows {
		if seen[r.DOI] {
			continue
		}
		seen[r.DOI] = true
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

// RunLedger guards a Ledger for a single run: the first snapshot is cached
// and only one commit is allowed.
type RunLedger struct {
	Ledger
	snap      *Snapshot
	committed bool
}

// ForRun wraps l for one run.
func ForRun(l Ledger) *RunLedger {
	return &RunLedger{Ledger: l}
}

// Snapshot reads the ledger once; later calls return the same snapshot.
func (r *RunLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	if r.snap != nil {
		return *r.snap, nil
	}
	snap, err := r.Ledger.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	r.snap = &snap
	return snap, nil
}

// Commit appends rows at most once per run.
func (r *RunLedger) Commit(ctx context.Context, rows []paper.Row) error {
	if r.committed {
		return ErrAlreadyCommitted
	}
	r.committed = true
	if len(rows) == 0 {
		return nil
	}
	return r.Ledger.Commit(ctx, rows)
}
