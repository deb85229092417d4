// Package tierupgrade moves stores up the plan ladder when their observed
// order volume outgrows the applied tier. Upgrades are monotonic: a store's
// tier rank never decreases, and the engine charges only the price delta
// between the earned tier and the current one.
package tierupgrade

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/meterbill/meterbill/internal/billingcycle/domain"
	billingproviderdomain "github.com/meterbill/meterbill/internal/billingprovider/domain"
	"github.com/meterbill/meterbill/internal/clock"
	"github.com/meterbill/meterbill/internal/config"
	"github.com/meterbill/meterbill/internal/lock"
	"github.com/meterbill/meterbill/internal/ordercount"
	"github.com/meterbill/meterbill/internal/pricetier"
	storedomain "github.com/meterbill/meterbill/internal/store/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome describes how evaluating one open cycle ended.
type Outcome string

const (
	OutcomeUpgraded           Outcome = "upgraded"
	OutcomeNotEligible        Outcome = "not_eligible"
	OutcomeLockBusy           Outcome = "lock_busy"
	OutcomeCycleExpired       Outcome = "cycle_expired"
	OutcomeMissingLineItem    Outcome = "missing_line_item"
	OutcomeMissingCredentials Outcome = "missing_credentials"
	OutcomeChargeBelowFloor   Outcome = "charge_below_floor"
	OutcomeValidationFailed   Outcome = "validation_failed"
)

const operation = "upgrade"

var ErrInvalidConfig = errors.New("tier upgrade engine missing dependencies")

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Repo      billingcycledomain.Repository
	Stores    storedomain.Repository
	Locker    lock.Locker
	Counter   ordercount.Counter
	Provider  billingproviderdomain.Client
	TierCache pricetier.Cache
	GenID     *snowflake.Node
	Clock     clock.Clock
}

type Engine struct {
	log       *zap.Logger
	cfg       config.BillingConfig
	repo      billingcycledomain.Repository
	stores    storedomain.Repository
	locker    lock.Locker
	counter   ordercount.Counter
	provider  billingproviderdomain.Client
	tierCache pricetier.Cache
	genID     *snowflake.Node
	clock     clock.Clock
}

func New(p Params) (*Engine, error) {
	if p.Log == nil || p.Repo == nil || p.Stores == nil || p.Locker == nil ||
		p.Counter == nil || p.Provider == nil || p.TierCache == nil ||
		p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Engine{
		log:       p.Log.Named("tierupgrade"),
		cfg:       p.Config.Billing,
		repo:      p.Repo,
		stores:    p.Stores,
		locker:    p.Locker,
		counter:   p.Counter,
		provider:  p.Provider,
		tierCache: p.TierCache,
		genID:     p.GenID,
		clock:     p.Clock,
	}, nil
}

// Run sweeps up to limit open cycles and evaluates each store for an
// upgrade. Per-store failures are joined and reported together; the sweep
// always moves on to the next store.
func (e *Engine) Run(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	var runErr error
	upgraded := 0

	cycles, err := e.repo.ListOpenCycles(ctx, limit, 0)
	if err != nil {
		return 0, err
	}
	for i := range cycles {
		if ctx.Err() != nil {
			return upgraded, errors.Join(runErr, ctx.Err())
		}
		outcome, err := e.ProcessCycle(ctx, &cycles[i])
		if err != nil {
			runErr = errors.Join(runErr, err)
			continue
		}
		if outcome == OutcomeUpgraded {
			upgraded++
		}
	}

	return upgraded, runErr
}

// ProcessCycle evaluates one open cycle under the store's upgrade lock.
// The upgrade lock is independent of the rollover lock; the two engines
// only meet at the ledger, where the status-guarded close keeps them from
// racing on the same open cycle row.
func (e *Engine) ProcessCycle(ctx context.Context, cycle *billingcycledomain.BillingCycle) (Outcome, error) {
	shopDomain := cycle.ShopDomain
	log := e.log.With(
		zap.String("shop_domain", shopDomain),
		zap.String("cycle_id", cycle.ID.String()),
	)

	currentTier, err := pricetier.Parse(cycle.Tier)
	if err != nil {
		return "", err
	}

	orders, err := e.counter.Current(ctx, shopDomain)
	if err != nil {
		return "", err
	}
	eligibleTier := pricetier.EligibleForOrders(orders)
	if eligibleTier.Rank() <= currentTier.Rank() {
		return OutcomeNotEligible, nil
	}

	token, acquired, err := e.locker.TryLock(ctx, lock.UpgradeKey(shopDomain), e.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		log.Info("lock busy, skipped")
		return OutcomeLockBusy, nil
	}
	defer func() {
		if releaseErr := e.locker.Release(ctx, lock.UpgradeKey(shopDomain), token); releaseErr != nil {
			log.Warn("lock release failed", zap.Error(releaseErr))
		}
	}()

	now := e.clock.Now()
	if !cycle.PeriodEnd.After(now) {
		// Due for rollover; the worker loop owns expired cycles.
		return OutcomeCycleExpired, nil
	}
	if cycle.LineItemID == "" {
		log.Warn("billing cycle has no subscription line item, store cannot be upgraded")
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

	discount, err := e.repo.FindActiveDiscount(ctx, shopDomain, cycle.PeriodStart, cycle.PeriodEnd)
	if err != nil {
		return "", err
	}

	chargeAmount := discount.Apply(eligibleTier.BasePrice().Sub(currentTier.BasePrice()))
	if chargeAmount.Sign() <= 0 {
		log.Warn("discounted upgrade charge is not positive, skipping upgrade",
			zap.String("charge_amount", chargeAmount.String()),
		)
		return OutcomeChargeBelowFloor, nil
	}

	idempotencyKey := billingproviderdomain.IdempotencyKey(
		operation, shopDomain, cycle.PeriodStart, cycle.PeriodEnd, string(eligibleTier),
	)
	record, err := e.provider.SubmitUsageCharge(ctx, shopDomain, store.AccessToken, billingproviderdomain.UsageCharge{
		LineItemID:     cycle.LineItemID,
		Amount:         chargeAmount,
		Currency:       e.cfg.Currency,
		Description:    "Plan upgrade to " + string(eligibleTier),
		IdempotencyKey: idempotencyKey,
	})
	var validationErr *billingproviderdomain.ValidationError
	if errors.As(err, &validationErr) {
		log.Error("billing provider rejected the upgrade charge", zap.Error(validationErr))
		return OutcomeValidationFailed, nil
	}
	if err != nil {
		return "", err
	}

	var oneTimeDiscountID *snowflake.ID
	if discount != nil && discount.Usage == billingcycledomain.DiscountUsageOneTime {
		oneTimeDiscountID = &discount.ID
	}

	newCycle, err := e.repo.Upgrade(ctx, billingcycledomain.UpgradeParams{
		OldCycle:          cycle,
		NewCycleID:        e.genID.Generate(),
		Tier:              string(eligibleTier),
		UsageAmount:       chargeAmount,
		OneTimeDiscountID: oneTimeDiscountID,
		Now:               now,
	})
	if err != nil {
		return "", err
	}

	if ttl := newCycle.PeriodEnd.Sub(now) + e.cfg.TierCacheMargin; ttl > 0 {
		if err := e.tierCache.Set(ctx, shopDomain, eligibleTier, ttl); err != nil {
			log.Warn("tier cache refresh failed", zap.Error(err))
		}
	}

	log.Info("tier upgrade completed",
		zap.String("new_cycle_id", newCycle.ID.String()),
		zap.String("from_tier", string(currentTier)),
		zap.String("to_tier", string(eligibleTier)),
		zap.String("charge_id", record.ID),
		zap.String("charge_amount", chargeAmount.String()),
		zap.Int64("orders", orders),
	)
	return OutcomeUpgraded, nil
}
