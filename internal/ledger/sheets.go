package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultInsertRow is the 1-based row new papers are inserted at:
// immediately below the header.
const DefaultInsertRow = 2

// DefaultSheetsTimeout bounds every Sheets API call.
const DefaultSheetsTimeout = 10 * time.Second

// sheetsScope grants read/write access to spreadsheets.
const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// SheetsLedger stores the ledger in a Google Sheets worksheet whose first
// row is the header. Newest rows sit at the top.
type SheetsLedger struct {
	srv           *sheets.Service
	spreadsheetID string
	sheetName     string
	insertRow     int
	timeout       time.Duration
	policy        retry.Policy

	sheetID  *int64
	read     bool // Snapshot has run
	noHeader bool // The worksheet was completely empty at the last read
	dataRows int  // Rows below the header at the last read
}

// SheetsOption configures a SheetsLedger.
type SheetsOption func(*SheetsLedger)

// WithInsertRow sets the 1-based row new papers are inserted at.
func WithInsertRow(row int) SheetsOption {
	return func(l *SheetsLedger) {
		if row >= 1 {
			l.insertRow = row
		}
	}
}

// WithSheetsTimeout bounds each API call.
func WithSheetsTimeout(d time.Duration) SheetsOption {
	return func(l *SheetsLedger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithSheetsRetryPolicy sets the policy reads run under. Writes are never
// retried.
func WithSheetsRetryPolicy(p retry.Policy) SheetsOption {
	return func(l *SheetsLedger) {
		l.policy = p
	}
}

// NewSheetsService builds a Sheets client from a service-account JSON file.
func NewSheetsService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*sheets.Service, error) {
	base := []option.ClientOption{option.WithScopes(sheetsScope)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	return srv, nil
}

// NewSheets creates a ledger over one worksheet of a spreadsheet.
func NewSheets(srv *sheets.Service, spreadsheetID, sheetName string, opts ...SheetsOption) *SheetsLedger {
	l := &SheetsLedger{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		insertRow:     DefaultInsertRow,
		timeout:       DefaultSheetsTimeout,
		policy:        retry.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SpreadsheetURL is the browser link to a spreadsheet.
func SpreadsheetURL(spreadsheetID string) string {
	return "https://docs.google.com/spreadsheets/d/" + spreadsheetID
}

// Name returns the spreadsheet URL.
func (l *SheetsLedger) Name() string { return SpreadsheetURL(l.spreadsheetID) }

// Close does nothing.
func (l *SheetsLedger) Close() error { return nil }

// quotedRange prefixes an A1 range with the sheet name.
func (l *SheetsLedger) quotedRange(a1 string) string {
	name := "'" + strings.ReplaceAll(l.sheetName, "'", "''") + "'"
	if a1 == "" {
		return name
	}
	return name + "!" + a1
}

// call runs one API request under the per-call timeout.
func (l *SheetsLedger) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return fn(ctx)
}

// idempotent runs a read request under the retry policy.
func (l *SheetsLedger) idempotent(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.policy.Do(ctx, func(ctx context.Context) error {
		err := l.call(ctx, fn)
		if err == nil || (ctx.Err() == nil && transientSheetsError(err)) {
			return err
		}
		return retry.Permanent(err)
	})
}

// transientSheetsError reports whether a failed read is worth repeating.
// Only API replies in the 4xx range other than 429 are final.
func transientSheetsError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return true
}

// open resolves the worksheet id, distinguishing a missing spreadsheet
// from a missing worksheet.
func (l *SheetsLedger) open(ctx context.Context) (int64, error) {
	if l.sheetID != nil {
		return *l.sheetID, nil
	}

	var ss *sheets.Spreadsheet
	err := l.idempotent(ctx, func(ctx context.Context) error {
		var err error
		ss, err = l.srv.Spreadsheets.Get(l.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return 0, &NotFoundError{Kind: "spreadsheet", Name: l.spreadsheetID}
		}
		return 0, fmt.Errorf("opening spreadsheet: %w", err)
	}

	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == l.sheetName {
			id := s.Properties.SheetId
			l.sheetID = &id
			return id, nil
		}
	}
	return 0, &NotFoundError{Kind: "worksheet", Name: l.sheetName}
}

// Snapshot reads every row below the header. Columns are matched by the
// header names, so their order in the sheet does not matter.
func (l *SheetsLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	if _, err := l.open(ctx); err != nil {
		return Snapshot{}, err
	}

	var vr *sheets.ValueRange
	err := l.idempotent(ctx, func(ctx context.Context) error {
		var err error
		vr, err = l.srv.Spreadsheets.Values.Get(l.spreadsheetID, l.quotedRange("")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading worksheet %q: %w", l.sheetName, err)
	}

	l.read = true
	l.noHeader = len(vr.Values) == 0
	l.dataRows = max(len(vr.Values)-1, 0)
	return NewSnapshot(recordsFromValues(vr.Values)), nil
}

// recordsFromValues maps each non-blank row under the header to a Row.
func recordsFromValues(values [][]any) []paper.Row {
	if len(values) < 2 {
		return nil
	}
	header := make([]string, len(values[0]))
	for i, h := range values[0] {
		header[i] = strings.TrimSpace(fmt.Sprint(h))
	}

	var rows []paper.Row
	for _, v := range values[1:] {
		m := make(map[string]string, len(header))
		blank := true
		for i, cell := range v {
			if i >= len(header) {
				break
			}
			s := fmt.Sprint(cell)
			if s != "" {
				blank = false
			}
			m[header[i]] = s
		}
		if blank {
			continue
		}
		rows = append(rows, paper.RowFromMap(m))
	}
	return rows
}

func cellValues(rows []paper.Row) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		vals := r.Values()
		cells := make([]any, len(vals))
		for i, v := range vals {
			cells[i] = v
		}
		out = append(out, cells)
	}
	return out
}

func headerValues() []any {
	cells := make([]any, len(paper.Columns))
	for i, c := range paper.Columns {
		cells[i] = c
	}
	return cells
}

// Commit inserts rows at the insertion row with one dimension insert and
// one values update. A completely empty worksheet gets a header first.
func (l *SheetsLedger) Commit(ctx context.Context, rows []paper.Row) error {
	if len(rows) == 0 {
		return nil
	}

	sheetID, err := l.open(ctx)
	if err != nil {
		return err
	}
	if !l.read {
		if _, err := l.Snapshot(ctx); err != nil {
			return err
		}
	}
	if l.noHeader {
		return l.writeWithHeader(ctx, rows)
	}

	start := int64(l.insertRow - 1)
	insert := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			InsertDimension: &sheets.InsertDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: start,
					EndIndex:   start + int64(len(rows)),
				},
				// Row count includes the header.
				InheritFromBefore: l.insertRow >= 2 && l.insertRow <= l.dataRows+1,
			},
		}},
	}
	err = l.call(ctx, func(ctx context.Context) error {
		_, err := l.srv.Spreadsheets.BatchUpdate(l.spreadsheetID, insert).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting %d rows: %w", len(rows), err)
	}

	vr := &sheets.ValueRange{Values: cellValues(rows)}
	err = l.call(ctx, func(ctx context.Context) error {
		_, err := l.srv.Spreadsheets.Values.Update(l.spreadsheetID, l.quotedRange(fmt.Sprintf("A%d", l.insertRow)), vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("writing %d rows: %w", len(rows), err)
	}
	l.dataRows += len(rows)
	return nil
}

func (l *SheetsLedger) writeWithHeader(ctx context.Context, rows []paper.Row) error {
	values := append([][]any{headerValues()}, cellValues(rows)...)
	err := l.call(ctx, func(ctx context.Context) error {
		_, err := l.srv.Spreadsheets.Values.Update(l.spreadsheetID, l.quotedRange("A1"), &sheets.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("writing header and %d rows: %w", len(rows), err)
	}
	l.noHeader = false
	l.dataRows = len(rows)
	return nil
}
