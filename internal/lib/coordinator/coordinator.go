// Package coordinator is the API callers drive the marketplace through: contract status and legal actions
// from the reconciled read model, and action execution w/ an immediate refresh of what changed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/igoprotect/delegation/internal/lib/executor"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/misc"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

var ErrNoAccount = errors.New("no account selected")

type Coordinator struct {
	logger        *slog.Logger
	gateway       ledger.Gateway
	marketplaceID uint64
	loop          *reconcile.Loop
	cache         *reconcile.Cache
	exec          *executor.Executor

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	account string
	profile *market.UserProfile
}

func New(logger *slog.Logger, gateway ledger.Gateway, marketplaceID uint64, opts ...reconcile.Option) *Coordinator {
	c := &Coordinator{
		logger:        logger,
		gateway:       gateway,
		marketplaceID: marketplaceID,
		cache:         reconcile.NewCache(),
	}
	c.loop = reconcile.NewLoop(logger, gateway, c.cache, opts...)
	c.exec = executor.New(logger, gateway, c.refreshAfter)
	c.loop.TrackMarketplace(marketplaceID)
	return c
}

func (c *Coordinator) MarketplaceID() uint64 {
	return c.marketplaceID
}

func (c *Coordinator) Loop() *reconcile.Loop {
	return c.loop
}

// Run reconciles tracked entities every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	c.loop.Run(ctx, interval)
}

// SetAccount selects the account actions are signed by.  Its profile is re-derived on next use.
func (c *Coordinator) SetAccount(account string) {
	c.Lock()
	defer c.Unlock()
	if c.account != account {
		c.account = account
		c.profile = nil
	}
}

func (c *Coordinator) Account() string {
	c.RLock()
	defer c.RUnlock()
	return c.account
}

// Status returns the contract's status as of the latest reconciled round.
func (c *Coordinator) Status(contractID uint64) (lifecycle.Status, error) {
	return c.cache.Status(contractID)
}

func (c *Coordinator) Contract(contractID uint64) (*market.DelegationContract, error) {
	return c.cache.Contract(contractID)
}

func (c *Coordinator) Ad(adID uint64) (*market.ValidatorTerms, error) {
	return c.cache.Ad(adID)
}

// TrackContract adds a contract to reconciliation and reads it right away.
func (c *Coordinator) TrackContract(ctx context.Context, contractID uint64) (*market.DelegationContract, error) {
	contract, err := c.loop.RefreshContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if _, err := c.cache.Ad(contract.ValidatorAdID); err != nil {
		if _, err := c.loop.RefreshAd(ctx, contract.ValidatorAdID); err != nil {
			misc.Warnf(c.logger, "unable to read ad %d of contract %d: %v", contract.ValidatorAdID, contractID, err)
		}
	}
	return contract, nil
}

// LegalActions returns the actions role may take on the contract at the latest reconciled round.
func (c *Coordinator) LegalActions(contractID uint64, role lifecycle.Role) ([]lifecycle.ActionKind, error) {
	contract, err := c.cache.Contract(contractID)
	if err != nil {
		return nil, err
	}
	terms, _ := c.cache.Ad(contract.ValidatorAdID)
	return lifecycle.LegalActionsFor(contract, terms, role, c.cache.Round()), nil
}

// Roles returns the roles the selected account holds on the contract.
func (c *Coordinator) Roles(contractID uint64) ([]lifecycle.Role, error) {
	contract, err := c.cache.Contract(contractID)
	if err != nil {
		return nil, err
	}
	terms, _ := c.cache.Ad(contract.ValidatorAdID)
	marketplace, _ := c.cache.Marketplace(c.marketplaceID)
	return lifecycle.RolesFor(c.Account(), contract, terms, marketplace), nil
}

// ListAds returns the ads a marketplace lists.  The first call for a marketplace reads it and its ads, later
// calls answer from the reconciled cache.
func (c *Coordinator) ListAds(ctx context.Context, marketplaceID uint64) ([]*market.ValidatorTerms, error) {
	if !c.loop.IsTracked(marketplaceID) || !c.cached(marketplaceID) {
		if _, err := c.loop.RefreshMarketplace(ctx, marketplaceID); err != nil {
			return nil, err
		}
	}
	return c.cache.MarketplaceAds(marketplaceID)
}

func (c *Coordinator) cached(marketplaceID uint64) bool {
	_, err := c.cache.Marketplace(marketplaceID)
	return err == nil
}

// Subscribe calls callback after every committed change to entityID (reconcile.AllEntities for any) until
// the returned func is called.
func (c *Coordinator) Subscribe(entityID uint64, callback reconcile.Callback) func() {
	return c.cache.Subscribe(entityID, callback)
}

// Profile derives the selected account's marketplace profile.  It's cached until the account changes or
// an action succeeds.
func (c *Coordinator) Profile(ctx context.Context) (*market.UserProfile, error) {
	c.RLock()
	account, profile := c.account, c.profile
	c.RUnlock()
	if account == "" {
		return nil, ErrNoAccount
	}
	if profile != nil {
		return profile, nil
	}

	profile, err := c.readProfile(ctx, account)
	if err != nil {
		return nil, err
	}
	c.Lock()
	if c.account == account {
		c.profile = profile
	}
	c.Unlock()
	return profile, nil
}

func (c *Coordinator) readProfile(ctx context.Context, account string) (*market.UserProfile, error) {
	appIDs, err := c.gateway.AccountApps(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("unable to read apps of %s: %w", account, err)
	}
	optedIn := false
	for _, appID := range appIDs {
		if appID == c.marketplaceID {
			optedIn = true
			break
		}
	}
	if !optedIn {
		return market.DecodeProfile(account, nil), nil
	}
	local, err := c.gateway.LocalState(ctx, account, c.marketplaceID)
	if err != nil {
		return nil, fmt.Errorf("unable to read marketplace state of %s: %w", account, err)
	}
	return market.DecodeProfile(account, local), nil
}

func (c *Coordinator) invalidateProfile() {
	c.Lock()
	defer c.Unlock()
	c.profile = nil
}
