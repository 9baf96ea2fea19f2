package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/matsen/paperbee/internal/paper"
	_ "modernc.org/sqlite"
)

// SQLiteLedger stores the ledger in a local SQLite database.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

const selectPaperFields = `doi, date, posted_date, is_preprint, title, keywords, preprint, url`

// OpenSQLite opens the ledger database at path. With create false a
// missing file or papers table is reported as ErrNotFound.
func OpenSQLite(path string, create bool) (*SQLiteLedger, error) {
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Kind: "database", Name: path}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if create {
		if err := createSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	} else {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'papers'`).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, &NotFoundError{Kind: "table", Name: "papers"}
		}
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("checking schema: %w", err)
		}
	}

	return &SQLiteLedger{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			doi TEXT NOT NULL UNIQUE,
			date TEXT NOT NULL,
			posted_date TEXT,
			is_preprint INTEGER NOT NULL,
			title TEXT NOT NULL,
			keywords TEXT,
			preprint TEXT,
			url TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_papers_date ON papers(date);
	`
	_, err := db.Exec(schema)
	return err
}

// Name returns the database path.
func (l *SQLiteLedger) Name() string { return l.path }

// Close closes the database connection.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

// Snapshot reads every row in insertion order.
func (l *SQLiteLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+selectPaperFields+` FROM papers ORDER BY seq`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	var out []paper.Row
	for rows.Next() {
		var r paper.Row
		var posted, keywords, preprint sql.NullString
		var isPreprint int
		if err := rows.Scan(&r.DOI, &r.Date, &posted, &isPreprint, &r.Title, &keywords, &preprint, &r.URL); err != nil {
			return Snapshot{}, fmt.Errorf("scanning paper: %w", err)
		}
		r.PostedDate = posted.String
		r.IsPreprint = isPreprint != 0
		r.Keywords = keywords.String
		r.Preprint = preprint.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating papers: %w", err)
	}
	return NewSnapshot(out), nil
}

// Commit inserts rows in one transaction. Rows whose DOI is already
// present are ignored.
func (l *SQLiteLedger) Commit(ctx context.Context, rows []paper.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO papers (`+selectPaperFields+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		isPreprint := 0
		if r.IsPreprint {
			isPreprint = 1
		}
		if _, err := stmt.ExecContext(ctx, r.DOI, r.Date, r.PostedDate, isPreprint, r.Title, r.Keywords, r.Preprint, r.URL); err != nil {
			return fmt.Errorf("inserting %s: %w", r.DOI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}
