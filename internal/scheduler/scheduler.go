// Package scheduler is the periodic entry point of the billing subsystem.
// Each tick it drains the head of the expiry queue through the rollover
// engine in strict ascending expiry order, sweeps open cycles through the
// tier upgrade engine, and reconciles the queue against ledger truth.
// Multiple instances may tick concurrently; per-store locks make that safe.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/meterbill/meterbill/internal/billingcycle/domain"
	"github.com/meterbill/meterbill/internal/clock"
	"github.com/meterbill/meterbill/internal/expiryqueue"
	obsmetrics "github.com/meterbill/meterbill/internal/observability/metrics"
	"github.com/meterbill/meterbill/internal/rollover"
	"github.com/meterbill/meterbill/internal/tierupgrade"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler missing dependencies")

type Params struct {
	fx.In

	Log      *zap.Logger
	Rollover *rollover.Engine
	Upgrade  *tierupgrade.Engine
	Repo     billingcycledomain.Repository
	Queue    expiryqueue.Queue
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Config   Config              `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	rollover *rollover.Engine
	upgrade  *tierupgrade.Engine
	repo     billingcycledomain.Repository
	queue    expiryqueue.Queue
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Rollover == nil || p.Upgrade == nil || p.Repo == nil ||
		p.Queue == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		rollover: p.Rollover,
		upgrade:  p.Upgrade,
		repo:     p.Repo,
		queue:    p.Queue,
		genID:    p.GenID,
		clock:    p.Clock,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	s.logJobStart(run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the tick stops early, the next one
	// picks the remaining work back up.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one scheduler tick.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"rollover", s.RolloverJob},
		{"tier_upgrade", s.TierUpgradeJob},
		{"queue_rebuild", s.QueueRebuildJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

// RunForever ticks RunOnce on the configured interval until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RolloverJob drains due stores from the head of the expiry queue, in
// strict ascending expiry order, re-reading the head after every store
// because a completed rollover changes which store is earliest. Stores
// whose entry stays due after processing (contention, aborted
// preconditions) are stepped past with an offset so one stuck head cannot
// spin the tick.
func (s *Scheduler) RolloverJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	var jobErr error
	var skipped int64

	for processed := 0; processed < s.cfg.MaxRolloverBatchSize; {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		entry, ok, err := s.queue.PeekEarliest(ctx, skipped)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if !ok || entry.ExpiresAt.After(now) {
			break
		}

		outcome, err := s.processStore(ctx, entry.ShopDomain)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(run, "rollover", entry.ShopDomain, err)
			skipped++
			continue
		}
		s.metrics.IncRolloverOutcome(string(outcome))

		if outcome == rollover.OutcomeCompleted {
			processed++
			run.AddProcessed(1)
			s.metrics.IncChargeSubmitted("rollover")
			continue
		}
		// Entry is still due; step past it for the rest of this tick.
		skipped++
	}

	return jobErr
}

// processStore isolates one store: a panic inside the engine is logged
// with its stack and converted into an error so the batch keeps moving.
func (s *Scheduler) processStore(ctx context.Context, shopDomain string) (outcome rollover.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollover panic: %v", r)
			s.log.Error("rollover panicked",
				zap.String("shop_domain", shopDomain),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	return s.rollover.ProcessStore(ctx, shopDomain)
}

// TierUpgradeJob sweeps open cycles through the upgrade engine, bounded
// per tick.
func (s *Scheduler) TierUpgradeJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	upgraded, err := s.upgrade.Run(ctx, s.cfg.MaxUpgradeBatchSize)
	run.AddProcessed(upgraded)
	for i := 0; i < upgraded; i++ {
		s.metrics.IncChargeSubmitted("upgrade")
	}
	if err != nil {
		s.logSchedulerError(run, "tier_upgrade", "", err)
	}
	return err
}

// QueueRebuildJob reconciles the expiry queue with the ledger. The queue
// is only an ordering index; any entry lost or left stale by a crash is
// restored here from open cycle rows.
func (s *Scheduler) QueueRebuildJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	expiries, err := s.repo.OpenCycleExpiries(ctx)
	if err != nil {
		s.logSchedulerError(run, "queue_rebuild", "", err)
		return err
	}
	if len(expiries) == 0 {
		return nil
	}

	entries := make([]expiryqueue.Entry, 0, len(expiries))
	for _, expiry := range expiries {
		entries = append(entries, expiryqueue.Entry{
			ShopDomain: expiry.ShopDomain,
			ExpiresAt:  expiry.PeriodEnd,
		})
	}
	if err := s.queue.Rebuild(ctx, entries); err != nil {
		s.logSchedulerError(run, "queue_rebuild", "", err)
		return err
	}
	run.AddProcessed(len(entries))
	return nil
}
