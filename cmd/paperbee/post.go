package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/paperbee/internal/config"
	"github.com/matsen/paperbee/internal/paper"
	"github.com/matsen/paperbee/internal/pipeline"
	"github.com/matsen/paperbee/internal/publish"
)

var (
	postInteractive bool
	postSince       int
	postDatabases   []string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Search, record and post today's papers",
	Long: `Run the daily cycle: search the configured databases, resolve DOIs,
filter, append the papers not yet in the ledger and post them to every
platform with is_posting_on set.

A missing ledger (spreadsheet, worksheet or database) fails the run.
A failing chat platform is reported but does not fail the run.

Examples:
  paperbee post --config config.yml
  paperbee post --config config.yml --since 7 --databases pubmed,arxiv
  paperbee post --config config.yml --interactive`,
	RunE: runPost,
}

func init() {
	postCmd.Flags().BoolVar(&postInteractive, "interactive", false, "Confirm each paper on the terminal before posting")
	postCmd.Flags().IntVar(&postSince, "since", 0, "Search papers published up to this many days ago (default from config)")
	postCmd.Flags().StringSliceVar(&postDatabases, "databases", nil, "Databases to search: pubmed, arxiv, biorxiv (default from config)")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger := mustLoadConfig()

	plan, err := buildPlan(cfg, normalizeDatabases(postDatabases), postSince)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	classifiers, err := buildClassifiers(cfg, postInteractive)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	dests, err := buildDestinations(cfg)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	l, err := openLedger(ctx, cfg)
	if err != nil {
		exitWithError(exitCodeFor(err), "opening ledger: %v", err)
	}
	defer l.Close()

	client := newPubMedClient(cfg)
	p := pipeline.New(plan, cfg.RootDir,
		newSearchRunner(client, logger),
		newResolver(cfg, client, logger),
		l,
		publish.NewPublisher(dests, publish.WithLogger(logger)),
		pipeline.WithClassifiers(classifiers...),
		pipeline.WithLogger(logger),
	)

	report, err := p.Run(ctx)
	if humanOutput {
		printReport(report)
	} else if jerr := outputJSON(report); jerr != nil {
		return fmt.Errorf("encoding JSON: %w", jerr)
	}
	return err
}

// exitCodeFor maps configuration problems to ExitConfigError.
func exitCodeFor(err error) int {
	if errors.Is(err, config.ErrInvalid) {
		return ExitConfigError
	}
	return ExitError
}

// normalizeDatabases lowercases names and drops empties.
func normalizeDatabases(dbs []string) []string {
	var out []string
	for _, db := range dbs {
		if db = strings.ToLower(strings.TrimSpace(db)); db != "" {
			out = append(out, db)
		}
	}
	return out
}

func printReport(r *pipeline.Report) {
	outputHuman("Run %s: %s\n", r.RunDate, r.State)
	outputHuman("  found %d, resolved %d (%d unresolved), %d malformed, %d duplicates\n",
		r.Found, r.Resolved, r.Unresolved, r.Malformed, r.Duplicates)
	outputHuman("  kept %d after filtering, %d new\n", r.Kept, len(r.Delta))

	papers, preprints := publish.Partition(r.Delta)
	printRows("Preprints", preprints)
	printRows("Papers", papers)

	for _, res := range r.Results {
		status := "ok"
		if !res.OK {
			status = "failed: " + res.Error
		}
		outputHuman("  %s: %s\n", res.Destination, status)
	}
	if r.SheetURL != "" {
		outputHuman("Ledger: %s\n", r.SheetURL)
	}
	if r.Error != "" {
		outputHuman("Error: %s\n", r.Error)
	}
}

func printRows(heading string, rows []paper.Row) {
	if len(rows) == 0 {
		return
	}
	outputHuman("\n%s:\n", heading)
	for _, row := range rows {
		outputHuman("  %s\n    %s\n", truncateString(row.Title, ListTitleMaxLen), row.URL)
	}
	outputHuman("\n")
}
