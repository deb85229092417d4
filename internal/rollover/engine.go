// Package rollover closes a store's expired billing cycle, submits the
// usage charge for the next period and opens its successor. Every step is
// safe to re-run from the top: the per-store lock serializes workers, the
// idempotency key makes charge resubmission financially inert, and the
// ledger transition is a single status-guarded transaction.
package rollover

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/meterbill/meterbill/internal/billingcycle/domain"
	billingproviderdomain "github.com/meterbill/meterbill/internal/billingprovider/domain"
	"github.com/meterbill/meterbill/internal/clock"
	"github.com/meterbill/meterbill/internal/config"
	"github.com/meterbill/meterbill/internal/expiryqueue"
	"github.com/meterbill/meterbill/internal/lock"
	"github.com/meterbill/meterbill/internal/ordercount"
	"github.com/meterbill/meterbill/internal/pricetier"
	storedomain "github.com/meterbill/meterbill/internal/store/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome describes how processing one store ended. Only transport and
// unexpected failures surface as errors; everything else is an expected
// terminal state for the tick and retried later.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeLockBusy           Outcome = "lock_busy"
	OutcomeNoOpenCycle        Outcome = "no_open_cycle"
	OutcomeMissingLineItem    Outcome = "missing_line_item"
	OutcomeMissingCredentials Outcome = "missing_credentials"
	OutcomeChargeBelowFloor   Outcome = "charge_below_floor"
	OutcomeValidationFailed   Outcome = "validation_failed"
)

const operation = "rollover"

var ErrInvalidConfig = errors.New("rollover engine missing dependencies")

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Repo      billingcycledomain.Repository
	Stores    storedomain.Repository
	Locker    lock.Locker
	Queue     expiryqueue.Queue
	Counter   ordercount.Counter
	Provider  billingproviderdomain.Client
	TierCache pricetier.Cache
	GenID     *snowflake.Node
	Clock     clock.Clock
}

type Engine struct {
	log       *zap.Logger
	cfg       config.BillingConfig
	currency  string
	repo      billingcycledomain.Repository
	stores    storedomain.Repository
	locker    lock.Locker
	queue     expiryqueue.Queue
	counter   ordercount.Counter
	provider  billingproviderdomain.Client
	tierCache pricetier.Cache
	genID     *snowflake.Node
	clock     clock.Clock
}

func New(p Params) (*Engine, error) {
	if p.Log == nil || p.Repo == nil || p.Stores == nil || p.Locker == nil ||
		p.Queue == nil || p.Counter == nil || p.Provider == nil ||
		p.TierCache == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Engine{
		log:       p.Log.Named("rollover"),
		cfg:       p.Config.Billing,
		currency:  p.Config.Billing.Currency,
		repo:      p.Repo,
		stores:    p.Stores,
		locker:    p.Locker,
		queue:     p.Queue,
		counter:   p.Counter,
		provider:  p.Provider,
		tierCache: p.TierCache,
		genID:     p.GenID,
		clock:     p.Clock,
	}, nil
}

// ProcessStore rolls over one store's due billing cycle.
func (e *Engine) ProcessStore(ctx context.Context, shopDomain string) (Outcome, error) {
	log := e.log.With(zap.String("shop_domain", shopDomain))

	token, acquired, err := e.locker.TryLock(ctx, lock.RolloverKey(shopDomain), e.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		log.Info("lock busy, skipped")
		return OutcomeLockBusy, nil
	}
	defer func() {
		if releaseErr := e.locker.Release(ctx, lock.RolloverKey(shopDomain), token); releaseErr != nil {
			log.Warn("lock release failed", zap.Error(releaseErr))
		}
	}()

	cycle, err := e.repo.FindOpenCycle(ctx, shopDomain)
	if err != nil {
		return "", err
	}
	if cycle == nil {
		log.Warn("no open billing cycle, nothing to roll over")
		return OutcomeNoOpenCycle, nil
	}
	if cycle.LineItemID == "" {
		log.Warn("billing cycle has no subscription line item, store cannot be billed",
			zap.String("cycle_id", cycle.ID.String()),
		)
		return OutcomeMissingLineItem, nil
	}

	store, err := e.stores.FindByDomain(ctx, shopDomain)
	if errors.Is(err, storedomain.ErrStoreNotFound) {
		log.Warn("store credentials not found")
		return OutcomeMissingCredentials, nil
	}
	if err != nil {
		return "", err
	}
	if store.AccessToken == "" {
		log.Warn("store has no offline access token")
		return OutcomeMissingCredentials, nil
	}

	tier, err := pricetier.Parse(cycle.Tier)
	if err != nil {
		return "", err
	}

	discount, err := e.repo.FindActiveDiscount(ctx, shopDomain, cycle.PeriodStart, cycle.PeriodEnd)
	if err != nil {
		return "", err
	}

	chargeAmount := discount.Apply(tier.BasePrice())
	if chargeAmount.Sign() <= 0 {
		log.Warn("discounted charge is not positive, skipping rollover",
			zap.String("cycle_id", cycle.ID.String()),
			zap.String("charge_amount", chargeAmount.String()),
		)
		if e.cfg.RescheduleOnSkippedCharge {
			if qErr := e.queue.Reschedule(ctx, shopDomain, cycle.PeriodEnd.AddDate(0, 0, e.cfg.CycleDays)); qErr != nil {
				log.Error("reschedule after skipped charge failed", zap.Error(qErr))
			}
		}
		return OutcomeChargeBelowFloor, nil
	}

	orderSnapshot, err := e.counter.Current(ctx, shopDomain)
	if err != nil {
		return "", err
	}

	idempotencyKey := billingproviderdomain.IdempotencyKey(
		operation, shopDomain, cycle.PeriodStart, cycle.PeriodEnd, cycle.Tier,
	)
	record, err := e.provider.SubmitUsageCharge(ctx, shopDomain, store.AccessToken, billingproviderdomain.UsageCharge{
		LineItemID:     cycle.LineItemID,
		Amount:         chargeAmount,
		Currency:       e.currency,
		Description:    "Usage fee for " + cycle.PeriodStart.Format("2006-01-02") + " to " + cycle.PeriodEnd.Format("2006-01-02"),
		IdempotencyKey: idempotencyKey,
	})
	var validationErr *billingproviderdomain.ValidationError
	if errors.As(err, &validationErr) {
		log.Error("billing provider rejected the usage charge",
			zap.String("cycle_id", cycle.ID.String()),
			zap.Error(validationErr),
		)
		return OutcomeValidationFailed, nil
	}
	if err != nil {
		return "", err
	}

	var oneTimeDiscountID *snowflake.ID
	if discount != nil && discount.Usage == billingcycledomain.DiscountUsageOneTime {
		oneTimeDiscountID = &discount.ID
	}

	now := e.clock.Now()
	newCycle, err := e.repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:          cycle,
		NewCycleID:        e.genID.Generate(),
		CycleDays:         e.cfg.CycleDays,
		UsageAmount:       chargeAmount,
		OrderSnapshot:     orderSnapshot,
		OneTimeDiscountID: oneTimeDiscountID,
		Now:               now,
	})
	if err != nil {
		return "", err
	}

	// The counter, queue entry and tier cache are rebuildable caches of
	// ledger truth; failures past the transaction are logged, not fatal.
	if _, err := e.counter.Reset(ctx, shopDomain); err != nil {
		log.Error("order counter reset failed", zap.Error(err))
	}
	if err := e.queue.Reschedule(ctx, shopDomain, newCycle.PeriodEnd); err != nil {
		log.Error("expiry queue reschedule failed", zap.Error(err))
	}
	if ttl := newCycle.PeriodEnd.Sub(now) + e.cfg.TierCacheMargin; ttl > 0 {
		if err := e.tierCache.Set(ctx, shopDomain, tier, ttl); err != nil {
			log.Warn("tier cache refresh failed", zap.Error(err))
		}
	}

	log.Info("rollover completed",
		zap.String("old_cycle_id", cycle.ID.String()),
		zap.String("new_cycle_id", newCycle.ID.String()),
		zap.String("charge_id", record.ID),
		zap.String("charge_amount", chargeAmount.String()),
		zap.Int64("order_snapshot", orderSnapshot),
		zap.Time("next_expiry", newCycle.PeriodEnd),
	)
	return OutcomeCompleted, nil
}
