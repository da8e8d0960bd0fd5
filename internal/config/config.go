package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CURATOR"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`
	UserID      string `envconfig:"USER_ID"`

	// Rate limiting (sliding window per channel and bucket)
	RateWindow          time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	ConversationalLimit int           `envconfig:"CONVERSATIONAL_LIMIT" default:"10"`
	AnalysisLimit       int           `envconfig:"ANALYSIS_LIMIT" default:"30"`

	// Sessions
	HistoryCap  int `envconfig:"HISTORY_CAP" default:"20"`
	MaxChannels int `envconfig:"MAX_CHANNELS" default:"1024"`

	// Analyst pool
	AnalystWorkers   int `envconfig:"ANALYST_WORKERS" default:"2"`
	AnalystQueueSize int `envconfig:"ANALYST_QUEUE_SIZE" default:"64"`

	// Merge
	EvidenceSummaryMax int    `envconfig:"EVIDENCE_SUMMARY_MAX" default:"240"`
	ConflictPairsPath  string `envconfig:"CONFLICT_PAIRS_PATH"` // YAML list of {a, b}; built-in table when empty

	// Management API
	MgmtListenAddr       string        `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode         string        `envconfig:"MGMT_AUTH_MODE" default:"api-key"` // "api-key" or "none"
	MgmtAPIKey           string        `envconfig:"MGMT_API_KEY"`
	MgmtReadonlyKey      string        `envconfig:"MGMT_READONLY_KEY"`
	MgmtRequestLimit     int           `envconfig:"MGMT_REQUEST_LIMIT" default:"120"` // per client per RATE_WINDOW; 0 disables
	OrphanAuditInterval  time.Duration `envconfig:"ORPHAN_AUDIT_INTERVAL" default:"1h"`
	LimiterPruneInterval time.Duration `envconfig:"LIMITER_PRUNE_INTERVAL" default:"5m"`

	// Language model for conversational turns (optional; the turn endpoint is
	// disabled without a key)
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	LLMModel        string `envconfig:"LLM_MODEL" default:"claude-sonnet-4-5"`
	LLMMaxTokens    int    `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	LLMBaseURL      string `envconfig:"LLM_BASE_URL"`

	// Notifications (optional)
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
	SlackChannel    string `envconfig:"SLACK_CHANNEL"`

	// GitHub push of merged state (optional). Token auth, or GitHub App auth
	// when the app fields are set.
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubOwner          string `envconfig:"GITHUB_OWNER"`
	GitHubRepo           string `envconfig:"GITHUB_REPO"`
	GitHubBranch         string `envconfig:"GITHUB_BRANCH" default:"main"`
	GitHubPathPrefix     string `envconfig:"GITHUB_PATH_PREFIX"`
}

// Paths locates every file under the data directory.
type Paths struct {
	Profile       string
	Evidence      string
	Prompt        string
	Candidates    string
	Events        string
	Usage         string
	Receipts      string
	ExportDir     string
	ExportDB      string
	ExportSummary string
}

// Paths derives store locations from DataDir.
func (c *Config) Paths() Paths {
	dir := c.DataDir
	exports := filepath.Join(dir, "exports")
	return Paths{
		Profile:       filepath.Join(dir, "profile.yaml"),
		Evidence:      filepath.Join(dir, "evidence.yaml"),
		Prompt:        filepath.Join(dir, "prompt.md"),
		Candidates:    filepath.Join(dir, "candidates.yaml"),
		Events:        filepath.Join(dir, "events.jsonl"),
		Usage:         filepath.Join(dir, "usage.jsonl"),
		Receipts:      filepath.Join(dir, "merge_receipts.jsonl"),
		ExportDir:     exports,
		ExportDB:      filepath.Join(exports, "profile.db"),
		ExportSummary: filepath.Join(exports, "summary.md"),
	}
}

// IsDevelopment reports whether human-readable console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// SlackEnabled returns true if a Slack incoming webhook is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackWebhookURL != ""
}

// LLMEnabled returns true if a model API key is configured.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// GitHubAppAuth returns true if GitHub App credentials are configured.
func (c *Config) GitHubAppAuth() bool {
	return c.GitHubAppID > 0 && c.GitHubInstallationID > 0 && c.GitHubPrivateKeyPath != ""
}

// GitHubEnabled returns true if a push target and some credential exist.
func (c *Config) GitHubEnabled() bool {
	if c.GitHubOwner == "" || c.GitHubRepo == "" {
		return false
	}
	return c.GitHubToken != "" || c.GitHubAppAuth()
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%s_DATA_DIR must not be empty", Prefix)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("%s_RATE_WINDOW must be positive", Prefix)
	}
	if c.ConversationalLimit < 1 || c.AnalysisLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1")
	}
	if c.MgmtRequestLimit < 0 {
		return fmt.Errorf("%s_MGMT_REQUEST_LIMIT must not be negative", Prefix)
	}
	switch c.MgmtAuthMode {
	case "api-key", "none":
	default:
		return fmt.Errorf("%s_MGMT_AUTH_MODE %q: want api-key or none", Prefix, c.MgmtAuthMode)
	}
	return nil
}

// Load reads configuration from CURATOR_-prefixed environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
