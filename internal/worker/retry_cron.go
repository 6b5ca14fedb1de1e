package worker

// Background goroutine that drives fiscal documents left behind by the
// synchronous path: failed or unknown-outcome submissions, stale processing
// claims and pending cancellations. Transports whose circuit breaker is open
// are skipped so their documents keep their attempt budget.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pdv/internal/infra"
	"pdv/internal/metrics"
	"pdv/internal/model"
	"pdv/internal/service"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetryTick   = 30 * time.Second
	defaultBatchSize   = 20
	defaultConcurrency = 4

	// QueueFiscalRetry names the DLQ of documents the sweep gave up on.
	QueueFiscalRetry = "fiscal_retry"
	retryLockKey     = "lock:fiscal_retry"
)

// Sweep results recorded in metrics.
const (
	SweepRan     = "ran"
	SweepIdle    = "idle"
	SweepLocked  = "locked"
	SweepBreaker = "breaker_open"
	SweepError   = "error"
)

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	Fiscal service.FiscalEmitter
	// Breakers by document kind; a kind without a breaker is always swept.
	Breakers map[string]*infra.CircuitBreaker
	// RDB receives dead letters; nil logs them only.
	RDB *redis.Client
	// Locker keeps concurrent replicas from sweeping the same batch; nil
	// runs unlocked.
	Locker      *redislock.Client
	Metrics     *metrics.Metrics
	Tick        time.Duration
	BatchSize   int
	Concurrency int
}

// RetryCron runs sweeps on a ticker.
type RetryCron struct {
	cfg RetryCronConfig
}

func NewRetryCron(cfg RetryCronConfig) *RetryCron {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultRetryTick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &RetryCron{cfg: cfg}
}

// Start launches the ticker goroutine. It respects ctx for graceful shutdown.
func (c *RetryCron) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.Tick)
		defer ticker.Stop()

		log.Info().Dur("tick", c.cfg.Tick).Msg("retry_cron: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				c.cfg.Metrics.Sweep(c.Sweep(ctx))
			}
		}
	}()
}

// Sweep runs one pass and returns its result label.
func (c *RetryCron) Sweep(ctx context.Context) string {
	if c.allOpen() {
		log.Debug().Msg("retry_cron: every circuit breaker is open, skipping tick")
		return SweepBreaker
	}

	if c.cfg.Locker != nil {
		lock, err := c.cfg.Locker.Obtain(ctx, retryLockKey, 2*c.cfg.Tick, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			log.Debug().Msg("retry_cron: another replica holds the sweep lock")
			return SweepLocked
		}
		if err != nil {
			log.Error().Err(err).Msg("retry_cron: failed to obtain sweep lock")
			return SweepError
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warn().Err(err).Msg("retry_cron: failed to release sweep lock")
			}
		}()
	}

	docs, err := c.cfg.Fiscal.Due(ctx, c.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to query due documents")
		return SweepError
	}
	if len(docs) == 0 {
		return SweepIdle
	}
	log.Info().Int("count", len(docs)).Msg("retry_cron: processing due documents")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, doc := range docs {
		doc := doc
		if c.open(doc.Kind) {
			log.Debug().Str("kind", doc.Kind).Str("document_id", doc.ID.String()).
				Msg("retry_cron: breaker open, document deferred")
			continue
		}
		g.Go(func() error {
			c.retry(gctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	return SweepRan
}

func (c *RetryCron) retry(ctx context.Context, doc model.FiscalDocument) {
	outcome, err := c.cfg.Fiscal.Retry(ctx, doc)
	logger := log.With().
		Str("document_id", doc.ID.String()).
		Str("sale_id", doc.SaleID.String()).
		Str("kind", doc.Kind).
		Str("outcome", string(outcome)).
		Logger()

	switch outcome {
	case service.RetryEmitted, service.RetryCancelled:
		logger.Info().Int("attempts", doc.Attempts).Msg("retry_cron: document settled after retry")
	case service.RetryExhausted:
		logger.Error().Err(err).Msg("retry_cron: attempts exhausted, moving to DLQ")
		payload, _ := json.Marshal(EmissionJobPayload{SaleID: doc.SaleID.String(), Kind: doc.Kind})
		reason := "attempts exhausted"
		if err != nil {
			reason = fmt.Sprintf("attempts exhausted: %s", err)
		}
		SendToDLQ(ctx, c.cfg.RDB, QueueFiscalRetry, doc.Kind, payload, reason, doc.Attempts+1)
		c.cfg.Metrics.DeadLettered(doc.Kind)
	case service.RetryFailed:
		logger.Warn().Err(err).Msg("retry_cron: retry failed, rescheduled")
	default:
		if err != nil {
			logger.Warn().Err(err).Msg("retry_cron: retry skipped")
		}
	}
}

func (c *RetryCron) open(kind string) bool {
	cb, ok := c.cfg.Breakers[kind]
	return ok && cb.State() == infra.CBOpen
}

func (c *RetryCron) allOpen() bool {
	if len(c.cfg.Breakers) == 0 {
		return false
	}
	for _, cb := range c.cfg.Breakers {
		if cb.State() != infra.CBOpen {
			return false
		}
	}
	return true
}
