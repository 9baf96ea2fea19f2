package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matsen/paperbee/internal/ledger"
	"github.com/matsen/paperbee/internal/paper"
)

var ledgerListLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the ledger of posted papers",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger rows",
	Long: `List the rows of the configured ledger in stored order.

Outputs JSON by default; --human prints a table.`,
	RunE: runLedgerList,
}

func init() {
	ledgerListCmd.Flags().IntVar(&ledgerListLimit, "limit", 0, "Show at most this many rows (0 = all)")
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// LedgerListResponse is the JSON output of ledger list.
type LedgerListResponse struct {
	Ledger string      `json:"ledger"`
	State  string      `json:"state"`
	Total  int         `json:"total"`
	Rows   []paper.Row `json:"rows"`
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, _ := mustLoadConfig()

	l, err := openLedger(ctx, cfg)
	if err != nil {
		exitWithError(exitCodeFor(err), "opening ledger: %v", err)
	}
	defer l.Close()

	snap, err := l.Snapshot(ctx)
	if err != nil {
		if ledger.IsNotFound(err) {
			exitWithError(ExitError, "%v", err)
		}
		return fmt.Errorf("reading ledger: %w", err)
	}

	rows := snap.Rows
	if ledgerListLimit > 0 && len(rows) > ledgerListLimit {
		rows = rows[:ledgerListLimit]
	}

	if !humanOutput {
		if rows == nil {
			rows = []paper.Row{}
		}
		return outputJSON(LedgerListResponse{
			Ledger: l.Name(),
			State:  snap.State.String(),
			Total:  len(snap.Rows),
			Rows:   rows,
		})
	}

	if len(rows) == 0 {
		outputHuman("Ledger %s is empty.\n", l.Name())
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDOI\tPREPRINT\tTITLE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Date, r.DOI, paper.FormatBool(r.IsPreprint), truncateString(r.Title, ListTitleMaxLen))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	outputHuman("\n%d of %d rows\n", len(rows), len(snap.Rows))
	return nil
}
