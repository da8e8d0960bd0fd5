package analyst

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
)

// Config holds pool configuration.
type Config struct {
	// Workers is how many exchanges are analyzed in parallel.
	Workers int

	// QueueSize is the capacity of the pending-exchange queue. Submit drops
	// exchanges once it is full.
	QueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   2,
		QueueSize: 64,
	}
}

// Options wires a Pool to its collaborators.
type Options struct {
	Analyst Analyst
	Stager  Stager
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Pool analyzes exchanges on a fixed set of workers fed by a bounded queue.
type Pool struct {
	cfg     Config
	analyst Analyst
	stager  Stager
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
	queue   chan Exchange
}

// NewPool creates a Pool. Nothing is processed until Run is called.
func NewPool(cfg Config, opts Options) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Pool{
		cfg:     cfg,
		analyst: opts.Analyst,
		stager:  opts.Stager,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "analyst").Logger(),
		queue:   make(chan Exchange, cfg.QueueSize),
	}
}

// Submit queues ex without blocking. It returns false when the queue is full.
func (p *Pool) Submit(ex Exchange) bool {
	select {
	case p.queue <- ex:
		p.metrics.SetAnalystQueueDepth(len(p.queue))
		return true
	default:
		p.metrics.RecordAnalystDropped()
		p.logger.Warn().Str("channel", ex.Channel).Msg("analyst queue full, exchange dropped")
		return false
	}
}

// Pending returns the number of queued exchanges.
func (p *Pool) Pending() int { return len(p.queue) }

// Run starts the workers and blocks until ctx is cancelled, then waits for
// in-flight analyses. Exchanges still queued are abandoned.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	p.logger.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("analyst pool started")

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ex := <-p.queue:
					p.metrics.SetAnalystQueueDepth(len(p.queue))
					p.process(ctx, ex)
				}
			}
		}()
	}

	<-ctx.Done()
	p.logger.Info().Msg("analyst pool shutting down, waiting for in-flight analyses")
	wg.Wait()
	return ctx.Err()
}

// process analyzes and stages one exchange. Every failure is logged and
// counted; none propagates.
func (p *Pool) process(ctx context.Context, ex Exchange) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordStagingFailure()
			p.logger.Error().Str("channel", ex.Channel).Str("panic", fmt.Sprint(r)).Msg("analyst panicked")
		}
	}()

	if p.limiter != nil {
		ok := p.limiter.Admit(ex.Channel, ratelimit.Analysis, 1)
		p.metrics.RecordAdmission(string(ratelimit.Analysis), ok)
		if !ok {
			p.logger.Debug().Str("channel", ex.Channel).Msg("analysis rate limited, exchange skipped")
			return
		}
	}

	draft, err := p.analyst.Analyze(ctx, ex)
	if err != nil {
		p.metrics.RecordStagingFailure()
		p.logger.Warn().Err(err).Str("channel", ex.Channel).Msg("analysis failed")
		return
	}
	if draft == nil {
		return
	}
	if draft.Channel == "" {
		draft.Channel = ex.Channel
	}
	if draft.At.IsZero() {
		draft.At = ex.At
	}

	c, err := p.stager.Stage(ctx, *draft)
	if err != nil {
		p.metrics.RecordStagingFailure()
		p.logger.Warn().Err(err).Str("channel", ex.Channel).Msg("staging failed")
		return
	}
	p.logger.Info().Str("candidate_id", c.ID).Str("category", string(c.Category)).Msg("candidate staged")
}
