package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/misc"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

type actionOptions struct {
	role       *lifecycle.Role
	keys       *market.ParticipationKeys
	roundStart uint64
	roundEnd   uint64
	dryRun     bool
}

type ActionOption func(*actionOptions)

// AsRole performs the action as role instead of the first role the account holds that allows it.
func AsRole(role lifecycle.Role) ActionOption {
	return func(o *actionOptions) {
		o.role = &role
	}
}

// WithKeys supplies the participation keys DepositKeys deposits.
func WithKeys(keys *market.ParticipationKeys) ActionOption {
	return func(o *actionOptions) {
		o.keys = keys
	}
}

// WithRounds bounds a new contract.  Zero values pick the defaults.
func WithRounds(roundStart, roundEnd uint64) ActionOption {
	return func(o *actionOptions) {
		o.roundStart = roundStart
		o.roundEnd = roundEnd
	}
}

// DryRun simulates the plan instead of submitting it.
func DryRun() ActionOption {
	return func(o *actionOptions) {
		o.dryRun = true
	}
}

// target is what an action is performed on: a contract, an ad for actions that aren't tied to one, or the
// marketplace for account level actions.
type target struct {
	contractID    uint64
	adID          uint64
	marketplaceID uint64
}

func (t target) lockID() uint64 {
	switch {
	case t.contractID != 0:
		return t.contractID
	case t.adID != 0:
		return t.adID
	}
	return t.marketplaceID
}

// PerformAction plans kind against the contract's current ledger state and submits it.  Only one action per
// contract is in flight at a time, a concurrent call fails w/ executor.ErrBusy.
func (c *Coordinator) PerformAction(ctx context.Context, contractID uint64, kind lifecycle.ActionKind, opts ...ActionOption) (*ledger.Receipt, error) {
	if kind == lifecycle.CreateContract || kind == lifecycle.WithdrawEarnings || kind.AccountLevel() {
		return nil, fmt.Errorf("%w: %s isn't performed on a contract", lifecycle.ErrIllegalTransition, kind)
	}
	return c.perform(ctx, target{contractID: contractID}, kind, opts)
}

// CreateContract opens a contract for the selected account against an ad.
func (c *Coordinator) CreateContract(ctx context.Context, adID uint64, opts ...ActionOption) (*ledger.Receipt, error) {
	return c.perform(ctx, target{adID: adID}, lifecycle.CreateContract, opts)
}

// WithdrawEarnings claims an ad's accumulated earnings for its owner.
func (c *Coordinator) WithdrawEarnings(ctx context.Context, adID uint64, opts ...ActionOption) (*ledger.Receipt, error) {
	return c.perform(ctx, target{adID: adID}, lifecycle.WithdrawEarnings, opts)
}

// WithdrawBalance pays out what the marketplace holds for the selected account: refunds and earnings.
func (c *Coordinator) WithdrawBalance(ctx context.Context, opts ...ActionOption) (*ledger.Receipt, error) {
	return c.perform(ctx, target{marketplaceID: c.marketplaceID}, lifecycle.WithdrawBalance, opts)
}

// WithdrawDeposit pays back the selected account's deposit once it neither runs an ad nor holds a contract.
func (c *Coordinator) WithdrawDeposit(ctx context.Context, opts ...ActionOption) (*ledger.Receipt, error) {
	return c.perform(ctx, target{marketplaceID: c.marketplaceID}, lifecycle.WithdrawDeposit, opts)
}

// Plan returns the plan PerformAction would submit, without submitting it.  adID is only used by actions that
// don't act on a contract.
func (c *Coordinator) Plan(ctx context.Context, contractID, adID uint64, kind lifecycle.ActionKind, opts ...ActionOption) (*lifecycle.Plan, error) {
	options := actionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return c.buildPlan(ctx, target{contractID: contractID, adID: adID, marketplaceID: c.marketplaceID}, kind, options)
}

func (c *Coordinator) perform(ctx context.Context, tgt target, kind lifecycle.ActionKind, opts []ActionOption) (*ledger.Receipt, error) {
	options := actionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.dryRun {
		plan, err := c.buildPlan(ctx, tgt, kind, options)
		if err != nil {
			return nil, err
		}
		return nil, c.exec.Simulate(ctx, plan)
	}
	return c.exec.Perform(ctx, tgt.lockID(), func(ctx context.Context) (*lifecycle.Plan, error) {
		return c.buildPlan(ctx, tgt, kind, options)
	})
}

// buildPlan re-reads what the action depends on so the plan reflects the ledger as of now rather than the
// last tick.
func (c *Coordinator) buildPlan(ctx context.Context, tgt target, kind lifecycle.ActionKind, options actionOptions) (*lifecycle.Plan, error) {
	account := c.Account()
	if account == "" {
		return nil, ErrNoAccount
	}
	input := lifecycle.PlanInput{
		MarketplaceID: c.marketplaceID,
		Caller:        account,
		Keys:          options.keys,
		RoundStart:    options.roundStart,
		RoundEnd:      options.roundEnd,
	}
	if kind == lifecycle.CreateContract || kind.AccountLevel() {
		// local state moves w/out this account acting, so it's re-read
		c.invalidateProfile()
		profile, err := c.Profile(ctx)
		if err != nil {
			return nil, err
		}
		input.Profile = profile
	}
	if kind.AccountLevel() {
		return c.buildAccountPlan(ctx, kind, input, options)
	}

	adID := tgt.adID
	if tgt.contractID != 0 {
		contract, err := c.loop.RefreshContract(ctx, tgt.contractID)
		if err != nil {
			return nil, err
		}
		input.Contract = contract
		adID = contract.ValidatorAdID
	}
	terms, err := c.loop.RefreshAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	input.Terms = terms
	if marketplace, err := c.cache.Marketplace(c.marketplaceID); err == nil {
		input.Marketplace = marketplace
	}

	if input.Round, err = c.gateway.CurrentRound(ctx); err != nil {
		return nil, fmt.Errorf("unable to fetch current round: %w", err)
	}
	if input.MinFee, err = c.gateway.MinFee(ctx); err != nil {
		return nil, err
	}

	status := lifecycle.StatusAt(input.Contract, input.Round)
	var role lifecycle.Role
	if options.role != nil {
		role = *options.role
	} else {
		roles := lifecycle.RolesFor(account, input.Contract, terms, input.Marketplace)
		var found bool
		if role, found = lifecycle.RoleForAction(kind, input.Contract, status, roles); !found {
			return nil, fmt.Errorf("%w: %s can't %s while %s (roles:%v)", lifecycle.ErrIllegalTransition, account, kind, status, roles)
		}
	}
	return lifecycle.BuildPlan(kind, role, input)
}

func (c *Coordinator) buildAccountPlan(ctx context.Context, kind lifecycle.ActionKind, input lifecycle.PlanInput, options actionOptions) (*lifecycle.Plan, error) {
	var err error
	if input.Round, err = c.gateway.CurrentRound(ctx); err != nil {
		return nil, fmt.Errorf("unable to fetch current round: %w", err)
	}
	if input.MinFee, err = c.gateway.MinFee(ctx); err != nil {
		return nil, err
	}
	role := lifecycle.AnyParty
	if options.role != nil {
		role = *options.role
	}
	return lifecycle.BuildPlan(kind, role, input)
}

// refreshAfter re-reads what a confirmed plan changed.  An ended contract may no longer exist, that just
// drops it from the cache.
func (c *Coordinator) refreshAfter(ctx context.Context, plan *lifecycle.Plan) error {
	c.invalidateProfile()
	var errs []error
	if plan.ContractID != 0 {
		if _, err := c.loop.RefreshContract(ctx, plan.ContractID); err != nil && !errors.Is(err, reconcile.ErrStale) {
			errs = append(errs, err)
		}
	}
	if plan.AdID != 0 {
		if _, err := c.loop.RefreshAd(ctx, plan.AdID); err != nil {
			errs = append(errs, err)
		}
	}
	if plan.Action == lifecycle.CreateContract || plan.Action == lifecycle.WithdrawEarnings || plan.Action.AccountLevel() {
		if _, err := c.loop.RefreshMarketplace(ctx, c.marketplaceID); err != nil {
			errs = append(errs, err)
		}
	}
	misc.Debugf(c.logger, "refreshed after %s on contract:%d ad:%d", plan.Action, plan.ContractID, plan.AdID)
	return errors.Join(errs...)
}
