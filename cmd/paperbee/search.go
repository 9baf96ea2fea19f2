package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/pipeline"
)

var (
	searchSince       int
	searchDatabases   []string
	searchInteractive bool
	searchOutput      string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search and filter papers without touching the ledger or chat",
	Long: `Run the search, DOI resolution and filtering stages and write the
resulting rows as CSV. The ledger is not read or written and nothing is
posted, so this is safe for trying out queries and filter prompts.

Examples:
  paperbee search --config config.yml > today.csv
  paperbee search --config config.yml --since 30 --databases arxiv -o month.csv`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchSince, "since", 0, "Search papers published up to this many days ago (default from config)")
	searchCmd.Flags().StringSliceVar(&searchDatabases, "databases", nil, "Databases to search: pubmed, arxiv, biorxiv (default from config)")
	searchCmd.Flags().BoolVar(&searchInteractive, "interactive", false, "Confirm each paper on the terminal")
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", "", "Write CSV to this file instead of stdout")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger := mustLoadConfig()

	plan, err := buildPlan(cfg, normalizeDatabases(searchDatabases), searchSince)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	classifiers, err := buildClassifiers(cfg, searchInteractive)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	client := newPubMedClient(cfg)
	p := pipeline.New(plan, cfg.RootDir,
		newSearchRunner(client, logger),
		newResolver(cfg, client, logger),
		nil, nil,
		pipeline.WithClassifiers(classifiers...),
		pipeline.WithLogger(logger),
	)

	report, rows, err := p.Candidates(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int("rows", len(rows)).Int("found", report.Found).Msg("search finished")

	out := io.Writer(os.Stdout)
	if searchOutput != "" {
		f, err := os.Create(searchOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", searchOutput, err)
		}
		defer f.Close()
		out = f
	}
	return writeCSV(out, rows)
}

// writeCSV writes a header and one record per row in ledger column order.
func writeCSV(w io.Writer, rows []paper.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(paper.Columns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
