package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(doi string) paper.Row {
	return paper.Row{DOI: doi, Date: "2026-10-16", Title: "Paper " + doi, URL: paper.DOIURL(doi), IsPreprint: true}
}

func dois(rows []paper.Row) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.DOI)
	}
	return out
}

func TestComputeDelta(t *testing.T) {
	rows := []paper.Row{row("10.1/a"), row("10.1/b"), row("10.1/c")}

	tests := []struct {
		name string
		snap Snapshot
		want []string
	}{
		{"empty ledger returns everything", NewSnapshot(nil), []string{"10.1/a", "10.1/b", "10.1/c"}},
		{"known rows removed in order", NewSnapshot([]paper.Row{row("10.1/b")}), []string{"10.1/a", "10.1/c"}},
		{"everything known", NewSnapshot(rows), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dois(ComputeDelta(rows, tt.snap)))
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	assert.Equal(t, Empty, NewSnapshot(nil).State)
	assert.Equal(t, Ready, NewSnapshot([]paper.Row{row("10.1/a")}).State)
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "empty", Empty.String())
}

func TestDedupeByDOI(t *testing.T) {
	first := row("10.1/a")
	second := row("10.1/a")
	second.Title = "Second copy"

	got, removed := DedupeByDOI([]paper.Row{first, row("10.1/b"), second})
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"10.1/a", "10.1/b"}, dois(got))
	assert.Equal(t, "Paper 10.1/a", got[0].Title)
}

func TestNotFoundError(t *testing.T) {
	var err error = &NotFoundError{Kind: "worksheet", Name: "Papers"}
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `worksheet "Papers" not found`, err.Error())
	assert.False(t, IsNotFound(errors.New("other")))
}

type countingLedger struct {
	snap    Snapshot
	reads   int
	commits [][]paper.Row
}

func (c *countingLedger) Name() string { return "counting" }
func (c *countingLedger) Close() error { return nil }

func (c *countingLedger) Snapshot(context.Context) (Snapshot, error) {
	c.reads++
	return c.snap, nil
}

func (c *countingLedger) Commit(_ context.Context, rows []paper.Row) error {
	c.commits = append(c.commits, rows)
	return nil
}

func TestRunLedger_SingleReadSingleCommit(t *testing.T) {
	ctx := context.Background()
	inner := &countingLedger{snap: NewSnapshot([]paper.Row{row("10.1/a")})}
	rl := ForRun(inner)

	_, err := rl.Snapshot(ctx)
	require.NoError(t, err)
	_, err = rl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.reads)

	require.NoError(t, rl.Commit(ctx, []paper.Row{row("10.1/b")}))
	assert.ErrorIs(t, rl.Commit(ctx, []paper.Row{row("10.1/c")}), ErrAlreadyCommitted)
	assert.Len(t, inner.commits, 1)
}

func TestRunLedger_EmptyCommitIsNoop(t *testing.T) {
	inner := &countingLedger{}
	rl := ForRun(inner)

	require.NoError(t, rl.Commit(context.Background(), nil))
	assert.Empty(t, inner.commits)
}
