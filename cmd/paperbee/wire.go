package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/matsen/paperbee/internal/config"
	"github.com/matsen/paperbee/internal/filter"
	"github.com/matsen/paperbee/internal/ledger"
	"github.com/matsen/paperbee/internal/logging"
	"github.com/matsen/paperbee/internal/pipeline"
	"github.com/matsen/paperbee/internal/publish"
	"github.com/matsen/paperbee/internal/pubmed"
	"github.com/matsen/paperbee/internal/resolve"
	"github.com/matsen/paperbee/internal/search"
)

// mustLoadConfig loads and validates the configuration, exits on error.
func mustLoadConfig() (*config.Config, zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	logger, err := logging.New(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg, logger
}

func newPubMedClient(cfg *config.Config) *pubmed.Client {
	opts := []pubmed.ClientOption{pubmed.WithRequestDelay(cfg.PubMedRequestDelay)}
	if cfg.NCBIAPIKey != "" {
		opts = append(opts, pubmed.WithAPIKey(cfg.NCBIAPIKey))
	}
	return pubmed.NewClient(opts...)
}

func newSearchRunner(client *pubmed.Client, logger zerolog.Logger) *search.Runner {
	return search.NewRunner(logger,
		search.NewPubMedBackend(client),
		search.NewArxivBackend(),
		search.NewBiorxivBackend(),
	)
}

func newResolver(cfg *config.Config, client *pubmed.Client, logger zerolog.Logger) *resolve.Resolver {
	return resolve.New(client, resolve.WithWorkers(cfg.ResolveWorkers), resolve.WithLogger(logger))
}

// buildPlan parses the configured queries. databases and since, when set,
// override the file.
func buildPlan(cfg *config.Config, databases []string, since int) (pipeline.Plan, error) {
	plan := pipeline.Plan{
		Databases:        cfg.Databases,
		Since:            cfg.Since,
		Limit:            cfg.Limit,
		LimitPerDatabase: cfg.LimitPerDatabase,
	}
	if len(databases) > 0 {
		if err := search.ValidateDatabases(databases); err != nil {
			return plan, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		plan.Databases = databases
	}
	if since > 0 {
		plan.Since = since
	}

	var err error
	if !cfg.SplitQueries() {
		plan.Query, err = search.ParseQuery(cfg.Query)
		return plan, err
	}
	if plan.QueryPubMedArxiv, err = search.ParseQuery(cfg.QueryPubMedArxiv); err != nil {
		return plan, fmt.Errorf("query_pubmed_arxiv: %w", err)
	}
	if plan.QueryBiorxiv, err = search.ParseQuery(cfg.QueryBiorxiv); err != nil {
		return plan, fmt.Errorf("query_biorxiv: %w", err)
	}
	return plan, nil
}

// buildClassifiers returns the LLM filter when enabled, followed by the
// interactive prompt when requested.
func buildClassifiers(cfg *config.Config, interactive bool) ([]filter.RelevanceClassifier, error) {
	var cs []filter.RelevanceClassifier
	if cfg.LLMFiltering.Enabled {
		llm, err := filter.NewLLM(cfg.LLMFiltering.Provider, filter.LLMOptions{
			Model:        cfg.LLMFiltering.Model,
			Prompt:       cfg.LLMFiltering.Prompt,
			APIKey:       cfg.LLMFiltering.APIKey,
			BaseURL:      cfg.LLMFiltering.BaseURL,
			RequestDelay: cfg.LLMFiltering.RequestDelay,
		})
		if err != nil {
			return nil, err
		}
		cs = append(cs, llm)
	}
	if interactive {
		cs = append(cs, filter.NewInteractive(os.Stdin, os.Stderr))
	}
	return cs, nil
}

// openLedger opens the configured ledger backend.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	lc := cfg.Ledger
	switch lc.Type {
	case config.LedgerSQLite:
		return ledger.OpenSQLite(lc.Path, lc.Create)
	case config.LedgerJSONL:
		return ledger.NewJSONL(lc.Path), nil
	default:
		srv, err := ledger.NewSheetsService(ctx, lc.Credentials)
		if err != nil {
			return nil, err
		}
		return ledger.NewSheets(srv, lc.SpreadsheetID, lc.SheetName, ledger.WithInsertRow(lc.InsertRow)), nil
	}
}

// buildDestinations returns a destination per platform with posting on.
func buildDestinations(cfg *config.Config) ([]publish.Destination, error) {
	var dests []publish.Destination

	if s := cfg.Slack; s.IsPostingOn {
		if s.WebhookURL != "" {
			dests = append(dests, publish.NewSlackWebhook(s.WebhookURL))
		} else {
			dests = append(dests, publish.NewSlack(s.BotToken, s.ChannelID))
		}
	}

	if t := cfg.Telegram; t.IsPostingOn {
		dests = append(dests, publish.NewTelegram(t.BotToken, t.ChannelID))
	}

	if z := cfg.Zulip; z.IsPostingOn {
		settings := publish.ZulipSettings{Site: z.Site, Email: z.Email, APIKey: z.APIKey}
		if z.Prc != "" {
			var err error
			if settings, err = publish.ReadZuliprc(z.Prc); err != nil {
				return nil, err
			}
		}
		settings.Stream = z.Stream
		settings.Topic = z.Topic
		dests = append(dests, publish.NewZulip(settings))
	}

	if m := cfg.Mattermost; m.IsPostingOn {
		dests = append(dests, publish.NewMattermost(publish.MattermostSettings{
			URL:     m.URL,
			Token:   m.Token,
			Team:    m.Team,
			Channel: m.Channel,
		}))
	}

	return dests, nil
}
