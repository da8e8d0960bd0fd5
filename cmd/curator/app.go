package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/config"
	"github.com/p-blackswan/persona-curator/internal/conflict"
	"github.com/p-blackswan/persona-curator/internal/export"
	"github.com/p-blackswan/persona-curator/internal/merge"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/notify"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/remote"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// app is the set of stores every command works against.
type app struct {
	cfg      *config.Config
	paths    config.Paths
	logger   zerolog.Logger
	fsys     storage.FS
	metrics  *metrics.Metrics
	ledger   *audit.Ledger
	receipts *audit.ReceiptLog
	exporter *export.Exporter
	store    *candidate.Store
	engine   *merge.Engine
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	var pairs []conflict.Pair
	if cfg.ConflictPairsPath != "" {
		var err error
		if pairs, err = conflict.LoadPairs(cfg.ConflictPairsPath); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:     cfg,
		paths:   cfg.Paths(),
		logger:  logger,
		fsys:    storage.OS{},
		metrics: metrics.New(),
	}
	a.ledger = audit.NewLedger(a.paths.Events, a.paths.Usage, logger)
	a.receipts = audit.NewReceiptLog(a.paths.Receipts)
	a.exporter = export.New(a.paths.ExportDB, a.paths.ExportSummary, a.fsys, logger)

	store, err := candidate.Open(candidate.Options{
		Path:     a.paths.Candidates,
		FS:       a.fsys,
		Checker:  conflict.New(pairs),
		Profile:  a.loadProfile,
		Ledger:   a.ledger,
		Notifier: a.notifier(),
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.store = store

	a.engine = merge.New(merge.Options{
		Paths: merge.Paths{
			Profile:  a.paths.Profile,
			Evidence: a.paths.Evidence,
			Prompt:   a.paths.Prompt,
		},
		FS:         a.fsys,
		Store:      store,
		Ledger:     a.ledger,
		Receipts:   a.receipts,
		Exporter:   a.exporter,
		Metrics:    a.metrics,
		Logger:     logger,
		SummaryMax: cfg.EvidenceSummaryMax,
	})
	return a, nil
}

func (a *app) loadProfile() (*profile.Profile, error) {
	return profile.LoadProfile(a.fsys, a.paths.Profile)
}

func (a *app) notifier() candidate.Notifier {
	n := notify.Multi{notify.NewLogNotifier(a.logger)}
	if a.cfg.SlackEnabled() {
		n = append(n, notify.NewSlackNotifier(a.cfg.SlackWebhookURL, a.cfg.SlackChannel, a.logger))
	}
	return n
}

// pusher returns nil when no push target is configured.
func (a *app) pusher() (*remote.Pusher, error) {
	if !a.cfg.GitHubEnabled() {
		return nil, nil
	}
	var auth remote.Auth = remote.TokenAuth(a.cfg.GitHubToken)
	if a.cfg.GitHubAppAuth() {
		appAuth, err := remote.NewAppAuth(a.cfg.GitHubAppID, a.cfg.GitHubInstallationID, a.cfg.GitHubPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		auth = appAuth
	}
	return remote.New(remote.Config{
		Owner:      a.cfg.GitHubOwner,
		Repo:       a.cfg.GitHubRepo,
		Branch:     a.cfg.GitHubBranch,
		PathPrefix: a.cfg.GitHubPathPrefix,
	}, auth, a.logger)
}
