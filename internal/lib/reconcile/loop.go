package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/syncutil"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/misc"
)

// ErrTickAbandoned is returned when a tick's deadline passed before all of its reads completed.  Nothing
// read during the tick is committed.
var ErrTickAbandoned = errors.New("reconciliation tick abandoned")

// Loop periodically re-reads every tracked entity and commits the results to its Cache.  Contracts listed by
// tracked ads, and ads listed by tracked marketplaces, are tracked automatically.
type Loop struct {
	logger  *slog.Logger
	gateway ledger.Gateway
	cache   *Cache
	limiter *rate.Limiter
	refresh singleflight.Group

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	marketplaces map[uint64]bool
	ads          map[uint64]bool
	contracts    map[uint64]bool
}

type Option func(*Loop)

// WithReadRate limits ledger reads issued by ticks and refreshes.
func WithReadRate(limit rate.Limit, burst int) Option {
	return func(l *Loop) {
		l.limiter = rate.NewLimiter(limit, burst)
	}
}

func NewLoop(logger *slog.Logger, gateway ledger.Gateway, cache *Cache, opts ...Option) *Loop {
	l := &Loop{
		logger:       logger,
		gateway:      gateway,
		cache:        cache,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		marketplaces: map[uint64]bool{},
		ads:          map[uint64]bool{},
		contracts:    map[uint64]bool{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Cache() *Cache {
	return l.cache
}

func (l *Loop) TrackMarketplace(id uint64) {
	l.Lock()
	defer l.Unlock()
	l.marketplaces[id] = true
}

func (l *Loop) TrackAd(id uint64) {
	l.Lock()
	defer l.Unlock()
	l.ads[id] = true
}

func (l *Loop) TrackContract(id uint64) {
	l.Lock()
	defer l.Unlock()
	l.contracts[id] = true
}

// Untrack stops reading id.  Its cached record stays until the ledger removes it.
func (l *Loop) Untrack(id uint64) {
	l.Lock()
	defer l.Unlock()
	delete(l.marketplaces, id)
	delete(l.ads, id)
	delete(l.contracts, id)
}

func (l *Loop) IsTracked(id uint64) bool {
	l.RLock()
	defer l.RUnlock()
	return l.marketplaces[id] || l.ads[id] || l.contracts[id]
}

func (l *Loop) tracked() (marketplaces, ads, contracts []uint64) {
	l.RLock()
	defer l.RUnlock()
	return sortedKeys(l.marketplaces), sortedKeys(l.ads), sortedKeys(l.contracts)
}

func sortedKeys(set map[uint64]bool) []uint64 {
	keys := make([]uint64, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Run ticks every interval until ctx is done.  Each tick gets interval to complete, a slow tick is abandoned
// rather than delaying the next one.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	misc.Infof(l.logger, "reconciling every %v", interval)
	defer l.logger.Info("exiting reconciliation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		l.runTick(ctx, interval)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) runTick(ctx context.Context, interval time.Duration) {
	tickCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	start := time.Now()
	events, err := l.Tick(tickCtx)
	promTickSeconds.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		promTicks.WithLabelValues("committed").Inc()
		misc.Debugf(l.logger, "tick committed %d changes in %v", len(events), time.Since(start))
	case ctx.Err() != nil:
		// shutting down
	case errors.Is(err, ErrTickAbandoned):
		promTicks.WithLabelValues("abandoned").Inc()
		misc.Warnf(l.logger, "reconciliation tick took longer than %v, results discarded", interval)
	default:
		promTicks.WithLabelValues("failed").Inc()
		misc.Warnf(l.logger, "reconciliation tick failed: %v", err)
	}
}

// readResults gathers one tick's reads.  Safe for concurrent use by the fan-out.
type readResults struct {
	sync.Mutex
	update *Update
	// ids discovered in listings that should be tracked once the tick commits
	discoveredAds       []uint64
	discoveredContracts []uint64
}

// Tick reads every tracked entity once and commits what was read.  Reads are issued concurrently and all
// of them complete before anything is committed.  A failed read leaves that entity's cached record as is,
// unless the entity no longer exists in which case it's removed.  If ctx ends first the whole tick is
// discarded.
func (l *Loop) Tick(ctx context.Context) ([]Event, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTickAbandoned, err)
	}
	round, err := l.gateway.CurrentRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch current round: %w", err)
	}
	results := &readResults{update: NewUpdate(round)}
	marketplaces, ads, contracts := l.tracked()

	// marketplaces and ads first, as their listings add to what's read next
	var marketplaceReads syncutil.WaitGroup
	for _, id := range marketplaces {
		marketplaceReads.Run(func(val any) error {
			l.readMarketplace(ctx, val.(uint64), results)
			return nil
		}, id)
	}
	marketplaceReads.Wait()
	results.Lock()
	ads = mergeIDs(ads, results.discoveredAds)
	results.Unlock()

	var adReads syncutil.WaitGroup
	for _, id := range ads {
		adReads.Run(func(val any) error {
			l.readAd(ctx, val.(uint64), results)
			return nil
		}, id)
	}
	adReads.Wait()
	results.Lock()
	contracts = mergeIDs(contracts, results.discoveredContracts)
	results.Unlock()

	var contractReads syncutil.WaitGroup
	for _, id := range contracts {
		contractReads.Run(func(val any) error {
			l.readContract(ctx, val.(uint64), results)
			return nil
		}, id)
	}
	contractReads.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w at round %d: %w", ErrTickAbandoned, round, err)
	}

	l.Lock()
	for _, id := range results.discoveredAds {
		if !l.cache.Removed(id) {
			l.ads[id] = true
		}
	}
	for _, id := range results.discoveredContracts {
		if !l.cache.Removed(id) {
			l.contracts[id] = true
		}
	}
	for id := range results.update.Removed {
		delete(l.marketplaces, id)
		delete(l.ads, id)
		delete(l.contracts, id)
	}
	l.Unlock()

	return l.cache.Commit(results.update), nil
}

func mergeIDs(ids, more []uint64) []uint64 {
	merged := append(slices.Clone(ids), more...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

// readFailed records a failed read of id.  Vanished entities are scheduled for removal, anything else
// leaves the cached record untouched.
func (l *Loop) readFailed(kind EntityKind, id uint64, err error, results *readResults) {
	promReadErrors.WithLabelValues(kind.String()).Inc()
	var decodeErr *market.DecodeError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		misc.Infof(l.logger, "%s %d no longer exists", kind, id)
		results.Lock()
		results.update.Removed[id] = kind
		results.Unlock()
	case errors.As(err, &decodeErr):
		misc.Errorf(l.logger, "malformed %s %d, keeping cached record: %v", kind, id, err)
	default:
		misc.Warnf(l.logger, "unable to read %s %d: %v", kind, id, err)
	}
}

func (l *Loop) readMarketplace(ctx context.Context, id uint64, results *readResults) {
	info, adIDs, err := l.fetchMarketplace(ctx, id)
	if err != nil {
		l.readFailed(KindMarketplace, id, err, results)
		return
	}
	results.Lock()
	defer results.Unlock()
	results.update.Marketplaces[id] = info
	results.update.MarketplaceAds[id] = adIDs
	results.discoveredAds = append(results.discoveredAds, adIDs...)
}

func (l *Loop) readAd(ctx context.Context, id uint64, results *readResults) {
	terms, err := l.fetchAd(ctx, id)
	if err != nil {
		l.readFailed(KindAd, id, err, results)
		return
	}
	results.Lock()
	defer results.Unlock()
	results.update.Ads[id] = terms
	results.discoveredContracts = append(results.discoveredContracts, terms.ContractIDs...)
}

func (l *Loop) readContract(ctx context.Context, id uint64, results *readResults) {
	contract, err := l.fetchContract(ctx, id)
	if err != nil {
		l.readFailed(KindContract, id, err, results)
		return
	}
	results.Lock()
	defer results.Unlock()
	results.update.Contracts[id] = contract
}

func (l *Loop) fetchMarketplace(ctx context.Context, id uint64) (*market.MarketplaceInfo, []uint64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	state, err := l.gateway.ApplicationState(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	info, err := market.DecodeMarketplace(id, state)
	if err != nil {
		return nil, nil, err
	}
	box, err := l.gateway.BoxValue(ctx, id, []byte(market.ValidatorListBoxName))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// no ads were ever listed
		return info, []uint64{}, nil
	case err != nil:
		return nil, nil, err
	}
	adIDs, err := market.DecodeAdList(box)
	if err != nil {
		return nil, nil, err
	}
	return info, adIDs, nil
}

func (l *Loop) fetchAd(ctx context.Context, id uint64) (*market.ValidatorTerms, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	state, err := l.gateway.ApplicationState(ctx, id)
	if err != nil {
		return nil, err
	}
	return market.DecodeValidatorTerms(id, state)
}

func (l *Loop) fetchContract(ctx context.Context, id uint64) (*market.DelegationContract, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	state, err := l.gateway.ApplicationState(ctx, id)
	if err != nil {
		return nil, err
	}
	return market.DecodeContract(id, state)
}

// RefreshContract re-reads one contract outside the tick and commits it, tracking it if it wasn't.
// Concurrent refreshes of the same contract share one read.  A contract that no longer exists is removed from
// the cache and reported as ErrStale.
func (l *Loop) RefreshContract(ctx context.Context, id uint64) (*market.DelegationContract, error) {
	result, err, _ := l.refresh.Do("contract:"+strconv.FormatUint(id, 10), func() (any, error) {
		return l.refreshOne(ctx, KindContract, id, func(update *Update) error {
			contract, err := l.fetchContract(ctx, id)
			if err != nil {
				return err
			}
			update.Contracts[id] = contract
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	l.TrackContract(id)
	return result.(*Update).Contracts[id], nil
}

// RefreshAd re-reads one ad, and any of its contracts that aren't cached yet, outside the tick.
func (l *Loop) RefreshAd(ctx context.Context, id uint64) (*market.ValidatorTerms, error) {
	result, err, _ := l.refresh.Do("ad:"+strconv.FormatUint(id, 10), func() (any, error) {
		return l.refreshOne(ctx, KindAd, id, func(update *Update) error {
			terms, err := l.fetchAd(ctx, id)
			if err != nil {
				return err
			}
			update.Ads[id] = terms
			for _, contractID := range terms.ContractIDs {
				if _, err := l.cache.Contract(contractID); err == nil {
					continue
				}
				contract, err := l.fetchContract(ctx, contractID)
				if err != nil {
					misc.Warnf(l.logger, "unable to read new contract %d of ad %d: %v", contractID, id, err)
					continue
				}
				update.Contracts[contractID] = contract
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	update := result.(*Update)
	l.Lock()
	l.ads[id] = true
	for contractID := range update.Contracts {
		l.contracts[contractID] = true
	}
	l.Unlock()
	return update.Ads[id], nil
}

// RefreshMarketplace re-reads a marketplace and its ad listing and tracks it.
func (l *Loop) RefreshMarketplace(ctx context.Context, id uint64) (*market.MarketplaceInfo, error) {
	result, err, _ := l.refresh.Do("marketplace:"+strconv.FormatUint(id, 10), func() (any, error) {
		return l.refreshOne(ctx, KindMarketplace, id, func(update *Update) error {
			info, adIDs, err := l.fetchMarketplace(ctx, id)
			if err != nil {
				return err
			}
			update.Marketplaces[id] = info
			update.MarketplaceAds[id] = adIDs
			for _, adID := range adIDs {
				terms, err := l.fetchAd(ctx, adID)
				if err != nil {
					misc.Warnf(l.logger, "unable to read ad %d of marketplace %d: %v", adID, id, err)
					continue
				}
				update.Ads[adID] = terms
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	update := result.(*Update)
	l.Lock()
	l.marketplaces[id] = true
	for adID := range update.Ads {
		l.ads[adID] = true
	}
	l.Unlock()
	return update.Marketplaces[id], nil
}

// refreshOne reads through fill and commits the result.  Entities that vanished are removed and reported
// as ErrStale, other read failures are returned as is and nothing is committed.
func (l *Loop) refreshOne(ctx context.Context, kind EntityKind, id uint64, fill func(*Update) error) (*Update, error) {
	round, err := l.gateway.CurrentRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch current round: %w", err)
	}
	update := NewUpdate(round)
	if err := fill(update); err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		// the removal keeps the read's Seq so a tick that read the entity earlier can't restore it
		removal := NewUpdate(round)
		removal.Seq = update.Seq
		removal.Removed[id] = kind
		l.cache.Commit(removal)
		l.Untrack(id)
		return nil, fmt.Errorf("%s %d: %w: %w", kind, id, ErrStale, err)
	}
	l.cache.Commit(update)
	return update, nil
}
