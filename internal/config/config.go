// Package config loads the PaperBee configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/matsen/paperbee/internal/filter"
	"github.com/matsen/paperbee/internal/ledger"
	"github.com/matsen/paperbee/internal/logging"
	"github.com/matsen/paperbee/internal/pubmed"
	"github.com/matsen/paperbee/internal/resolve"
	"github.com/matsen/paperbee/internal/search"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes the environment variables that override secrets,
// e.g. PAPERBEE_NCBI_API_KEY.
const EnvPrefix = "paperbee"

// Ledger backends.
const (
	LedgerSheets = "sheets"
	LedgerSQLite = "sqlite"
	LedgerJSONL  = "jsonl"
)

// DefaultSheetName is the worksheet holding the ledger.
const DefaultSheetName = "Papers"

// Config is the whole configuration of a PaperBee deployment.
type Config struct {
	RootDir string `yaml:"root_dir"` // Where search artifacts are written

	// Either Query alone, or QueryPubMedArxiv and QueryBiorxiv together.
	Query            string `yaml:"query,omitempty"`
	QueryPubMedArxiv string `yaml:"query_pubmed_arxiv,omitempty"`
	QueryBiorxiv     string `yaml:"query_biorxiv,omitempty"`

	Databases        []string `yaml:"databases,omitempty"`
	Since            int      `yaml:"since,omitempty"` // Days back from the run date
	Limit            int      `yaml:"limit,omitempty"`
	LimitPerDatabase int      `yaml:"limit_per_database,omitempty"`

	NCBIAPIKey         string        `yaml:"ncbi_api_key,omitempty"`
	PubMedRequestDelay time.Duration `yaml:"pubmed_request_delay,omitempty"`
	ResolveWorkers     int           `yaml:"resolve_workers,omitempty"`

	Ledger       LedgerConfig     `yaml:"ledger"`
	LLMFiltering LLMConfig        `yaml:"llm_filtering,omitempty"`
	Slack        SlackConfig      `yaml:"slack,omitempty"`
	Telegram     TelegramConfig   `yaml:"telegram,omitempty"`
	Zulip        ZulipConfig      `yaml:"zulip,omitempty"`
	Mattermost   MattermostConfig `yaml:"mattermost,omitempty"`
	Logging      LoggingConfig    `yaml:"logging,omitempty"`
}

// LedgerConfig selects and locates the ledger.
type LedgerConfig struct {
	Type string `yaml:"type,omitempty"` // sheets (default), sqlite or jsonl

	SpreadsheetID string `yaml:"spreadsheet_id,omitempty"`
	SheetName     string `yaml:"sheet_name,omitempty"`
	Credentials   string `yaml:"credentials,omitempty"` // Service account JSON file
	InsertRow     int    `yaml:"insert_row,omitempty"`

	Path   string `yaml:"path,omitempty"` // sqlite and jsonl
	Create bool   `yaml:"create,omitempty"`
}

// LLMConfig configures the relevance filter.
type LLMConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Provider     string        `yaml:"provider,omitempty"`
	Model        string        `yaml:"model,omitempty"`
	Prompt       string        `yaml:"prompt,omitempty"`
	APIKey       string        `yaml:"api_key,omitempty"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	RequestDelay time.Duration `yaml:"request_delay,omitempty"`
}

// SlackConfig posts through a bot token and channel, or a webhook.
type SlackConfig struct {
	IsPostingOn bool   `yaml:"is_posting_on"`
	BotToken    string `yaml:"bot_token,omitempty"`
	ChannelID   string `yaml:"channel_id,omitempty"`
	WebhookURL  string `yaml:"webhook_url,omitempty"`
}

type TelegramConfig struct {
	IsPostingOn bool   `yaml:"is_posting_on"`
	BotToken    string `yaml:"bot_token,omitempty"`
	ChannelID   string `yaml:"channel_id,omitempty"`
}

// ZulipConfig takes credentials from a zuliprc file (Prc) or inline.
type ZulipConfig struct {
	IsPostingOn bool   `yaml:"is_posting_on"`
	Prc         string `yaml:"prc,omitempty"`
	Site        string `yaml:"site,omitempty"`
	Email       string `yaml:"email,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Stream      string `yaml:"stream,omitempty"`
	Topic       string `yaml:"topic,omitempty"`
}

type MattermostConfig struct {
	IsPostingOn bool   `yaml:"is_posting_on"`
	URL         string `yaml:"url,omitempty"`
	Token       string `yaml:"token,omitempty"`
	Team        string `yaml:"team,omitempty"`
	Channel     string `yaml:"channel,omitempty"`
}

type LoggingConfig struct {
	Format string `yaml:"format,omitempty"` // console or json
	Level  string `yaml:"level,omitempty"`
}

// secrets are read from the environment and override the file.
type secrets struct {
	NCBIAPIKey        string `envconfig:"NCBI_API_KEY"`
	GoogleCredentials string `envconfig:"GOOGLE_CREDENTIALS_JSON"`
	LLMAPIKey         string `envconfig:"OPENAI_API_KEY"`
	SlackBotToken     string `envconfig:"SLACK_BOT_TOKEN"`
	SlackWebhookURL   string `envconfig:"SLACK_WEBHOOK_URL"`
	TelegramBotToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ZulipAPIKey       string `envconfig:"ZULIP_API_KEY"`
	MattermostToken   string `envconfig:"MATTERMOST_TOKEN"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
}

// Load reads the YAML file at path, loads .env files from the config
// directory and the working directory, applies PAPERBEE_* overrides and
// fills defaults. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config %s: %v", ErrInvalid, path, err)
	}

	// Missing .env files are fine.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return fmt.Errorf("%w: reading environment: %v", ErrInvalid, err)
	}
	override(&c.NCBIAPIKey, s.NCBIAPIKey)
	override(&c.Ledger.Credentials, s.GoogleCredentials)
	override(&c.LLMFiltering.APIKey, s.LLMAPIKey)
	override(&c.Slack.BotToken, s.SlackBotToken)
	override(&c.Slack.WebhookURL, s.SlackWebhookURL)
	override(&c.Telegram.BotToken, s.TelegramBotToken)
	override(&c.Zulip.APIKey, s.ZulipAPIKey)
	override(&c.Mattermost.Token, s.MattermostToken)
	override(&c.Logging.Level, s.LogLevel)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	c.RootDir = ExpandPath(c.RootDir)
	if len(c.Databases) == 0 {
		c.Databases = append([]string(nil), search.DefaultDatabases...)
	}
	for i, db := range c.Databases {
		c.Databases[i] = strings.ToLower(strings.TrimSpace(db))
	}
	if c.Since == 0 {
		c.Since = 1
	}
	if c.Limit == 0 {
		c.Limit = search.DefaultLimit
	}
	if c.LimitPerDatabase == 0 {
		c.LimitPerDatabase = search.DefaultLimitPerDatabase
	}
	if c.PubMedRequestDelay == 0 {
		c.PubMedRequestDelay = pubmed.DefaultRequestDelay
	}
	if c.ResolveWorkers == 0 {
		c.ResolveWorkers = resolve.DefaultWorkers
	}

	if c.Ledger.Type == "" {
		c.Ledger.Type = LedgerSheets
	}
	if c.Ledger.SheetName == "" {
		c.Ledger.SheetName = DefaultSheetName
	}
	if c.Ledger.InsertRow == 0 {
		c.Ledger.InsertRow = ledger.DefaultInsertRow
	}
	c.Ledger.Credentials = ExpandPath(c.Ledger.Credentials)
	c.Ledger.Path = ExpandPath(c.Ledger.Path)

	c.LLMFiltering.Provider = strings.ToLower(c.LLMFiltering.Provider)
	if c.LLMFiltering.Provider == "" {
		c.LLMFiltering.Provider = filter.ProviderOpenAI
	}
	if c.LLMFiltering.RequestDelay == 0 {
		c.LLMFiltering.RequestDelay = filter.DefaultRequestDelay
	}

	c.Zulip.Prc = ExpandPath(c.Zulip.Prc)

	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatConsole
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// SplitQueries reports whether PubMed/arXiv and bioRxiv use separate queries.
func (c *Config) SplitQueries() bool {
	return c.Query == ""
}

// Validate reports every problem in c at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.RootDir == "" {
		add("root_dir is not set")
	} else if info, err := os.Stat(c.RootDir); err != nil || !info.IsDir() {
		add("root_dir %s does not exist", c.RootDir)
	}

	switch {
	case c.Query != "":
		if _, err := search.ParseQuery(c.Query); err != nil {
			add("query: %v", err)
		}
	case c.QueryPubMedArxiv != "" && c.QueryBiorxiv != "":
		if _, err := search.ParseQuery(c.QueryPubMedArxiv); err != nil {
			add("query_pubmed_arxiv: %v", err)
		}
		if _, err := search.ParseQuery(c.QueryBiorxiv); err != nil {
			add("query_biorxiv: %v", err)
		}
	default:
		add("no query: set either query or both query_pubmed_arxiv and query_biorxiv")
	}

	if len(c.Databases) == 0 {
		add("databases: none selected")
	} else if err := search.ValidateDatabases(c.Databases); err != nil {
		add("databases: %v", err)
	}
	if c.Since < 0 {
		add("since must not be negative, got %d", c.Since)
	}
	if c.Limit < 0 || c.LimitPerDatabase < 0 {
		add("limit and limit_per_database must not be negative")
	}
	if c.ResolveWorkers < 0 {
		add("resolve_workers must not be negative, got %d", c.ResolveWorkers)
	}

	errs = append(errs, c.Ledger.validate()...)
	errs = append(errs, c.LLMFiltering.validate()...)
	errs = append(errs, c.validatePlatforms()...)

	if _, err := logging.New(c.Logging.Format, c.Logging.Level); err != nil {
		add("logging: %v", err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (l LedgerConfig) validate() []error {
	var errs []error
	switch l.Type {
	case LedgerSheets:
		if l.SpreadsheetID == "" {
			errs = append(errs, errors.New("ledger.spreadsheet_id is not set"))
		}
		if l.Credentials == "" {
			errs = append(errs, errors.New("ledger.credentials is not set (or export PAPERBEE_GOOGLE_CREDENTIALS_JSON)"))
		}
		if l.InsertRow < 1 {
			errs = append(errs, fmt.Errorf("ledger.insert_row must be at least 1, got %d", l.InsertRow))
		}
	case LedgerSQLite, LedgerJSONL:
		if l.Path == "" {
			errs = append(errs, fmt.Errorf("ledger.path is required for a %s ledger", l.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.type %q is not one of %s, %s, %s", l.Type, LedgerSheets, LedgerSQLite, LedgerJSONL))
	}
	return errs
}

func (l LLMConfig) validate() []error {
	if !l.Enabled {
		return nil
	}
	var errs []error
	switch l.Provider {
	case filter.ProviderOpenAI:
		if l.APIKey == "" {
			errs = append(errs, errors.New("llm_filtering.api_key is required for openai (or export PAPERBEE_OPENAI_API_KEY)"))
		}
	case filter.ProviderOllama, filter.ProviderClaude:
	default:
		errs = append(errs, fmt.Errorf("llm_filtering.provider: %w %q", filter.ErrUnknownProvider, l.Provider))
	}
	if l.Prompt == "" {
		errs = append(errs, errors.New("llm_filtering.prompt is not set"))
	}
	return errs
}

func (c *Config) validatePlatforms() []error {
	var errs []error
	missing := func(platform string, fields map[string]string) {
		var empty []string
		for name, v := range fields {
			if v == "" {
				empty = append(empty, name)
			}
		}
		if len(empty) > 0 {
			slices.Sort(empty)
			errs = append(errs, fmt.Errorf("missing required config params for %s: %s", platform, strings.Join(empty, ", ")))
		}
	}

	if c.Slack.IsPostingOn && c.Slack.WebhookURL == "" {
		missing("slack", map[string]string{"bot_token": c.Slack.BotToken, "channel_id": c.Slack.ChannelID})
	}
	if c.Telegram.IsPostingOn {
		missing("telegram", map[string]string{"bot_token": c.Telegram.BotToken, "channel_id": c.Telegram.ChannelID})
	}
	if c.Zulip.IsPostingOn {
		fields := map[string]string{"stream": c.Zulip.Stream, "topic": c.Zulip.Topic}
		if c.Zulip.Prc == "" {
			fields["site"] = c.Zulip.Site
			fields["email"] = c.Zulip.Email
			fields["api_key"] = c.Zulip.APIKey
		} else if _, err := os.Stat(c.Zulip.Prc); err != nil {
			errs = append(errs, fmt.Errorf("zulip.prc %s does not exist", c.Zulip.Prc))
		}
		missing("zulip", fields)
	}
	if c.Mattermost.IsPostingOn {
		missing("mattermost", map[string]string{
			"url": c.Mattermost.URL, "token": c.Mattermost.Token,
			"team": c.Mattermost.Team, "channel": c.Mattermost.Channel,
		})
	}
	return errs
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
