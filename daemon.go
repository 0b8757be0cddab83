package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/mailgun/holster/v4/syncutil"
	"github.com/ssgreg/repeat"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/coordinator"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/misc"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

const (
	defaultBlockTime = 2800 * time.Millisecond
	// contracts serviced concurrently per pass
	serviceFanOut = 10
)

// Daemon keeps the marketplace read model current and services the contracts of ads managed by the selected
// account: depositing keys, cancelling unconfirmed contracts, closing expired ones and reporting breaches.
type Daemon struct {
	logger        *slog.Logger
	algoClient    *algod.Client
	gateway       ledger.Gateway
	market        *coordinator.Coordinator
	interval      time.Duration
	blockFraction float64
	watched       *WatchList

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	avgBlockTime time.Duration
	// contracts w/ a participation key being generated on the node
	generating map[uint64]bool
}

func newDaemon(interval time.Duration, blockFraction float64, watched *WatchList) *Daemon {
	return &Daemon{
		logger:        App.logger,
		algoClient:    App.algoClient,
		gateway:       App.gateway,
		market:        App.market,
		interval:      interval,
		blockFraction: blockFraction,
		watched:       watched,
		generating:    map[uint64]bool{},
	}
}

func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup) {
	misc.Infof(d.logger, "Starting igo daemon for account:%s, marketplace:%d", d.market.Account(), d.market.MarketplaceID())

	if err := d.setAverageBlockTime(ctx); err != nil {
		misc.Warnf(d.logger, "unable to determine average block time, using %v: %v", defaultBlockTime, err)
	}
	for _, id := range d.watched.Ads {
		d.market.Loop().TrackAd(id)
	}
	for _, id := range d.watched.Contracts {
		d.market.Loop().TrackContract(id)
	}

	interval := pollInterval(d.interval, d.AverageBlockTime(), d.blockFraction)

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.market.Run(ctx, interval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.ContractWatcher(ctx, wg)
	}()
}

// ContractWatcher services managed contracts whenever reconciliation commits a change, and at least once a
// minute so round driven deadlines are acted on even when nothing else moves.
func (d *Daemon) ContractWatcher(ctx context.Context, wg *sync.WaitGroup) {
	defer d.logger.Info("Exiting ContractWatcher")
	d.logger.Info("Starting ContractWatcher")

	changed := make(chan struct{}, 1)
	unsubscribe := d.market.Subscribe(reconcile.AllEntities, func(event reconcile.Event) {
		if event.Kind != reconcile.KindContract {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	blockTimeRefresh := time.NewTicker(30 * time.Minute)
	defer blockTimeRefresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			d.serviceContracts(ctx, wg)
		case <-time.After(1 * time.Minute):
			d.serviceContracts(ctx, wg)
		case <-blockTimeRefresh.C:
			if err := d.setAverageBlockTime(ctx); err != nil {
				misc.Warnf(d.logger, "block time refresh failed: %v", err)
			}
		}
	}
}

func (d *Daemon) serviceContracts(ctx context.Context, wg *sync.WaitGroup) {
	account := d.market.Account()
	round := d.market.Loop().Cache().Round()
	if round == 0 {
		// nothing reconciled yet
		return
	}

	fanOut := syncutil.NewFanOut(serviceFanOut)
	for _, contract := range d.market.Loop().Cache().Contracts() {
		terms, err := d.market.Ad(contract.ValidatorAdID)
		if err != nil || terms.Manager != account {
			continue
		}
		status := lifecycle.StatusAt(contract, round)
		fanOut.Run(func(val any) error {
			return d.serviceContract(ctx, wg, val.(*market.DelegationContract), status, round)
		}, contract)
	}
	for _, err := range fanOut.Wait() {
		misc.Errorf(d.logger, "contract servicing failed: %v", err)
	}
}

func (d *Daemon) serviceContract(ctx context.Context, wg *sync.WaitGroup, contract *market.DelegationContract, status lifecycle.Status, round uint64) error {
	var balance uint64
	if status == lifecycle.Live && !contract.Breached {
		var err error
		balance, err = d.gateway.AccountBalance(ctx, contract.Delegator)
		if err != nil {
			misc.Warnf(d.logger, "unable to fetch balance of delegator:%s [contract %d]: %v", contract.Delegator, contract.ContractID, err)
			return nil
		}
	}
	action, ok := serviceAction(contract, status, balance, round)
	if !ok {
		return nil
	}
	if action == lifecycle.DepositKeys {
		return d.depositKeys(ctx, wg, contract)
	}
	misc.Infof(d.logger, "contract %d is %s, performing %s", contract.ContractID, status, action)
	receipt, err := d.market.PerformAction(ctx, contract.ContractID, action, coordinator.AsRole(serviceRole(action)))
	if action == lifecycle.ReportBreach && err == nil && receipt != nil {
		if after, counted := lifecycle.ApplyBreach(contract, receipt.ConfirmedRound); counted && after.Breached {
			misc.Infof(d.logger, "contract %d reached %d breaches, it's ended on the next pass", contract.ContractID, after.BreachCount)
		}
	}
	return d.actionResult(contract.ContractID, action, receipt, err)
}

// serviceAction picks what a validator's node does for a contract on one of its ads, if anything.
func serviceAction(contract *market.DelegationContract, status lifecycle.Status, balance, round uint64) (lifecycle.ActionKind, bool) {
	switch status {
	case lifecycle.AwaitingKeyDeposit:
		return lifecycle.DepositKeys, true
	case lifecycle.ConfirmationOverdue:
		return lifecycle.CancelUnconfirmed, true
	case lifecycle.Expired:
		return lifecycle.TerminateExpired, true
	case lifecycle.Live:
		if contract.Breached {
			return lifecycle.TerminateExpired, true
		}
		if lifecycle.OutsideStakeLimits(contract, balance) && lifecycle.BreachCounts(contract, round) {
			return lifecycle.ReportBreach, true
		}
	}
	return 0, false
}

func serviceRole(action lifecycle.ActionKind) lifecycle.Role {
	switch action {
	case lifecycle.DepositKeys, lifecycle.CancelUnconfirmed, lifecycle.WithdrawEarnings:
		return lifecycle.ValidatorManager
	}
	return lifecycle.AnyParty
}

func (d *Daemon) actionResult(contractID uint64, action lifecycle.ActionKind, receipt *ledger.Receipt, err error) error {
	switch coordinator.Classify(err) {
	case coordinator.NoError:
		misc.Infof(d.logger, "%s on contract %d confirmed in round %d", action, contractID, receipt.ConfirmedRound)
		return nil
	case coordinator.Transient:
		misc.Debugf(d.logger, "%s on contract %d deferred: %v", action, contractID, err)
		return nil
	case coordinator.Replan:
		// the contract moved on - the next pass sees its new state
		misc.Infof(d.logger, "%s on contract %d not applied: %v", action, contractID, err)
		return nil
	}
	return fmt.Errorf("%s on contract %d: %w", action, contractID, err)
}

// depositKeys deposits the node's participation key for the contract, starting key generation first if the
// node doesn't have one yet.  Generation can take minutes so it runs in the background and the deposit
// happens on a later pass.
func (d *Daemon) depositKeys(ctx context.Context, wg *sync.WaitGroup, contract *market.DelegationContract) error {
	key, keys, err := nodeKeys(ctx, contract)
	if err != nil {
		return err
	}
	if key == nil {
		d.generateKey(ctx, wg, contract)
		return nil
	}
	misc.Infof(d.logger, "depositing participation key %s into contract %d", key.Id, contract.ContractID)
	receipt, err := d.market.PerformAction(ctx, contract.ContractID, lifecycle.DepositKeys,
		coordinator.AsRole(lifecycle.ValidatorManager), coordinator.WithKeys(keys))
	return d.actionResult(contract.ContractID, lifecycle.DepositKeys, receipt, err)
}

func (d *Daemon) generateKey(ctx context.Context, wg *sync.WaitGroup, contract *market.DelegationContract) {
	d.Lock()
	if d.generating[contract.ContractID] {
		d.Unlock()
		return
	}
	d.generating[contract.ContractID] = true
	d.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			d.Lock()
			delete(d.generating, contract.ContractID)
			d.Unlock()
		}()
		dilution := algo.DefaultKeyDilution(contract.RoundStart, contract.RoundEnd)
		_, err := algo.GenerateParticipationKey(ctx, d.algoClient, d.logger, contract.Delegator, contract.RoundStart, contract.RoundEnd, dilution)
		if err != nil && !errors.Is(err, context.Canceled) {
			misc.Errorf(d.logger, "error generating part key for contract %d: %v", contract.ContractID, err)
		}
	}()
}

func (d *Daemon) AverageBlockTime() time.Duration {
	d.RLock()
	defer d.RUnlock()
	return d.avgBlockTime
}

func (d *Daemon) setAverageBlockTime(ctx context.Context) error {
	const numRounds = 10

	var avgBlockTime time.Duration
	err := repeat.Repeat(
		repeat.Fn(func() error {
			var err error
			avgBlockTime, err = algo.CalcBlockTimes(ctx, d.algoClient, numRounds)
			if errors.Is(err, algo.ErrNoRounds) {
				return err
			}
			if err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(5),
		repeat.FnOnError(func(err error) error {
			misc.Warnf(d.logger, "retrying block time calculation, error:%v", err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 2 * time.Second,
				MaxDelay:  10 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		return err
	}
	d.Lock()
	d.avgBlockTime = avgBlockTime
	d.Unlock()
	misc.Infof(d.logger, "average block time set to:%v", avgBlockTime)
	return nil
}

// pollInterval is the reconciliation interval: the configured one if set, otherwise a fraction of the
// average block time (never under a second).
func pollInterval(configured, avgBlockTime time.Duration, fraction float64) time.Duration {
	if configured > 0 {
		return configured
	}
	if avgBlockTime <= 0 {
		avgBlockTime = defaultBlockTime
	}
	if fraction <= 0 {
		fraction = 1
	}
	return max(time.Second, time.Duration(float64(avgBlockTime)*fraction))
}
