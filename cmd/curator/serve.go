package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/persona-curator/internal/analyst"
	"github.com/p-blackswan/persona-curator/internal/health"
	"github.com/p-blackswan/persona-curator/internal/llm"
	"github.com/p-blackswan/persona-curator/internal/maintenance"
	"github.com/p-blackswan/persona-curator/internal/mgmt"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
	"github.com/p-blackswan/persona-curator/internal/session"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API, analyst workers and maintenance jobs",
		Long: `Serve runs until interrupted. It exposes the management API, analyzes
submitted exchanges in the background and periodically audits the profile.
Conversational turns are enabled when CURATOR_ANTHROPIC_API_KEY (or
ANTHROPIC_API_KEY) is set. Merges stay on the command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
}

// services is everything serve runs, built before anything starts.
type services struct {
	limiter   *ratelimit.Limiter
	pool      *analyst.Pool
	sessions  *session.Manager
	checker   *health.Checker
	server    *mgmt.Server
	scheduler *maintenance.Scheduler
}

func buildServices(ctx context.Context, a *app) (*services, error) {
	cfg := a.cfg
	s := &services{}

	s.limiter = ratelimit.New(ratelimit.Config{
		Window: cfg.RateWindow,
		Limits: map[ratelimit.Bucket]int{
			ratelimit.Conversational: cfg.ConversationalLimit,
			ratelimit.Analysis:       cfg.AnalysisLimit,
			ratelimit.API:            cfg.MgmtRequestLimit,
		},
	})

	s.pool = analyst.NewPool(analyst.Config{
		Workers:   cfg.AnalystWorkers,
		QueueSize: cfg.AnalystQueueSize,
	}, analyst.Options{
		Analyst: analyst.Heuristic{},
		Stager:  a.store,
		Limiter: s.limiter,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	deps := mgmt.Deps{
		Store:     a.store,
		Exchanges: s.pool,
		Merge:     a.engine,
	}
	if cfg.LLMEnabled() {
		opts := []llm.AnthropicOption{
			llm.WithModel(cfg.LLMModel),
			llm.WithMaxTokens(cfg.LLMMaxTokens),
		}
		if cfg.LLMBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.LLMBaseURL))
		}
		persona := llm.NewPersona(llm.NewAnthropicProvider(cfg.AnthropicAPIKey, a.logger, opts...), a.fsys, a.paths.Prompt)
		s.sessions = session.NewManager(session.Options{
			Limiter:     s.limiter,
			Responder:   persona,
			Lookup:      persona,
			Sink:        s.pool,
			Ledger:      a.ledger,
			Metrics:     a.metrics,
			Logger:      a.logger,
			HistoryCap:  cfg.HistoryCap,
			MaxChannels: cfg.MaxChannels,
		})
		deps.Sessions = s.sessions
	} else {
		a.logger.Info().Msg("no model API key, conversational turns disabled")
	}

	s.checker = health.NewChecker(a.logger)
	s.checker.Register("data_dir", health.DirWritable(cfg.DataDir))
	s.checker.Register("profile", health.Loads(func() error {
		_, err := a.loadProfile()
		return err
	}))
	s.checker.Register("evidence", health.Loads(func() error {
		_, err := profile.LoadEvidence(a.fsys, a.paths.Evidence)
		return err
	}))
	s.checker.Register("prompt", health.FileOptional(a.paths.Prompt))
	s.checker.Register("export", health.FileOptional(a.paths.ExportSummary))
	deps.Checker = s.checker

	serverCfg := mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:        cfg.MgmtAuthMode,
			APIKey:      cfg.MgmtAPIKey,
			ReadonlyKey: cfg.MgmtReadonlyKey,
		},
	}
	if cfg.MgmtRequestLimit > 0 {
		serverCfg.Limiter = s.limiter
	}
	s.server = mgmt.NewServer(serverCfg, deps, a.metrics, a.logger)

	sched, err := maintenance.NewScheduler(a.logger)
	if err != nil {
		return nil, err
	}
	auditor := maintenance.NewAuditor(a.fsys, a.paths.Profile, a.paths.Evidence, a.ledger, a.logger)
	if err := sched.Every(ctx, "orphan_audit", cfg.OrphanAuditInterval, func(ctx context.Context) error {
		_, err := auditor.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Every(ctx, "limiter_prune", cfg.LimiterPruneInterval, func(context.Context) error {
		if n := s.limiter.Prune(); n > 0 {
			a.logger.Debug().Int("keys", n).Msg("pruned idle rate limiter keys")
		}
		return nil
	}); err != nil {
		return nil, err
	}
	s.scheduler = sched
	return s, nil
}

func runServe(ctx context.Context, a *app) error {
	s, err := buildServices(ctx, a)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("environment", a.cfg.Environment).
		Str("data_dir", a.cfg.DataDir).
		Str("mgmt_addr", a.cfg.MgmtListenAddr).
		Bool("slack_enabled", a.cfg.SlackEnabled()).
		Bool("turns_enabled", s.sessions != nil).
		Msg("starting curator")

	s.checker.RunAll(ctx)
	s.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	g.Go(func() error {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("management api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := s.scheduler.Shutdown(); err != nil {
			a.logger.Warn().Err(err).Msg("scheduler shutdown")
		}
		return s.server.Shutdown()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info().Msg("curator stopped")
	return err
}
