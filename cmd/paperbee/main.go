// Package main provides the paperbee CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

// configPath is the YAML configuration file
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperbee",
	Short: "Daily paper search and chat digests",
	Long: `paperbee searches PubMed, arXiv and bioRxiv for new papers matching a
query, records them in a ledger (Google Sheets, SQLite or JSONL) and posts
the papers not seen before to Slack, Telegram, Zulip and Mattermost.

Run it once a day, e.g. from cron:
  paperbee post --config config.yml

All commands output JSON by default; use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yml", "Path to the YAML configuration file")
	rootCmd.Version = Version
}
