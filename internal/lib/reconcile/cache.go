// Package reconcile keeps a read model of tracked marketplace entities in step w/ the ledger.
package reconcile

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
)

// ErrStale is returned for entities that aren't tracked, were never read successfully, or vanished from the
// ledger.
var ErrStale = errors.New("entity is stale")

type EntityKind int

const (
	KindMarketplace EntityKind = iota
	KindAd
	KindContract
)

func (k EntityKind) String() string {
	switch k {
	case KindMarketplace:
		return "marketplace"
	case KindAd:
		return "ad"
	case KindContract:
		return "contract"
	}
	return fmt.Sprintf("EntityKind(%d)", int(k))
}

// Event tells a subscriber an entity changed.  Status is only meaningful for contracts.
type Event struct {
	EntityID uint64
	Kind     EntityKind
	Round    uint64
	Removed  bool
	Status   lifecycle.Status
}

type Callback func(Event)

// AllEntities subscribes to every entity.
const AllEntities uint64 = 0

// readSeq orders updates by when their reads started.
var readSeq atomic.Uint64

// Update is the result of one round of reads.  Entities absent from it keep their cached value.
type Update struct {
	Round uint64
	// Seq is taken when the update is created, before any of its reads.  A record or removal is only applied
	// if no update with a later Seq has already been applied for that entity.
	Seq          uint64
	Marketplaces map[uint64]*market.MarketplaceInfo
	// MarketplaceAds are the ad ids listed by each marketplace
	MarketplaceAds map[uint64][]uint64
	Ads            map[uint64]*market.ValidatorTerms
	Contracts      map[uint64]*market.DelegationContract
	// Removed are entities the ledger no longer has
	Removed map[uint64]EntityKind
}

func NewUpdate(round uint64) *Update {
	return &Update{
		Round:          round,
		Seq:            readSeq.Add(1),
		Marketplaces:   map[uint64]*market.MarketplaceInfo{},
		MarketplaceAds: map[uint64][]uint64{},
		Ads:            map[uint64]*market.ValidatorTerms{},
		Contracts:      map[uint64]*market.DelegationContract{},
		Removed:        map[uint64]EntityKind{},
	}
}

// Cache is the committed read model.  Readers only ever see whole commits.  Cached records are replaced,
// never modified, so returned pointers are safe to keep but must not be written to.
type Cache struct {
	// serializes Commit - the reconciliation tick and post-submission refreshes both write through it
	writeMu sync.Mutex

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	round          uint64
	marketplaces   map[uint64]*market.MarketplaceInfo
	marketplaceAds map[uint64][]uint64
	ads            map[uint64]*market.ValidatorTerms
	contracts      map[uint64]*market.DelegationContract
	statuses       map[uint64]lifecycle.Status
	// Seq of the last update applied for each entity
	seen map[uint64]uint64
	// entities the ledger removed, app ids are never reused
	tombstones map[uint64]bool

	subMu   sync.Mutex
	nextSub int
	subs    map[uint64]map[int]Callback
}

func NewCache() *Cache {
	return &Cache{
		marketplaces:   map[uint64]*market.MarketplaceInfo{},
		marketplaceAds: map[uint64][]uint64{},
		ads:            map[uint64]*market.ValidatorTerms{},
		contracts:      map[uint64]*market.DelegationContract{},
		statuses:       map[uint64]lifecycle.Status{},
		seen:           map[uint64]uint64{},
		tombstones:     map[uint64]bool{},
		subs:           map[uint64]map[int]Callback{},
	}
}

// Commit applies an update and notifies subscribers of every entity whose record or status changed.  An
// update older than the cached round doesn't move the round back.  Records and removals older than what's
// cached for the entity are dropped, as are records of removed entities.
func (c *Cache) Commit(update *Update) []Event {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	events := c.apply(update)
	promCommits.Inc()
	promChanges.Add(float64(len(events)))

	// notify outside the state lock so callbacks can read the cache
	for _, event := range events {
		for _, callback := range c.subscribers(event.EntityID) {
			callback(event)
		}
	}
	return events
}

func (c *Cache) apply(update *Update) []Event {
	c.Lock()
	defer c.Unlock()

	if update.Round > c.round {
		c.round = update.Round
	}
	var events []Event
	changed := func(kind EntityKind, id uint64) {
		event := Event{EntityID: id, Kind: kind, Round: c.round}
		if kind == KindContract {
			event.Status = c.statuses[id]
		}
		events = append(events, event)
	}

	marketplacesChanged := map[uint64]bool{}
	for id, info := range update.Marketplaces {
		if c.current(id, update.Seq) && !reflect.DeepEqual(c.marketplaces[id], info) {
			c.marketplaces[id] = info
			marketplacesChanged[id] = true
		}
	}
	for id, adIDs := range update.MarketplaceAds {
		if c.current(id, update.Seq) && !slices.Equal(c.marketplaceAds[id], adIDs) {
			c.marketplaceAds[id] = slices.Clone(adIDs)
			marketplacesChanged[id] = true
		}
	}
	for id := range marketplacesChanged {
		changed(KindMarketplace, id)
	}
	for id, terms := range update.Ads {
		if c.current(id, update.Seq) && !reflect.DeepEqual(c.ads[id], terms) {
			c.ads[id] = terms
			changed(KindAd, id)
		}
	}

	recorded := map[uint64]bool{}
	for id, contract := range update.Contracts {
		if c.current(id, update.Seq) && !reflect.DeepEqual(c.contracts[id], contract) {
			c.contracts[id] = contract
			c.statuses[id] = lifecycle.StatusAt(contract, c.round)
			recorded[id] = true
			changed(KindContract, id)
		}
	}
	// a new round can move any contract past a deadline
	for id, contract := range c.contracts {
		if recorded[id] {
			continue
		}
		status := lifecycle.StatusAt(contract, c.round)
		if prev, found := c.statuses[id]; !found || prev != status {
			c.statuses[id] = status
			changed(KindContract, id)
		}
	}

	for id, kind := range update.Removed {
		if update.Seq < c.seen[id] {
			continue
		}
		c.seen[id] = update.Seq
		c.tombstones[id] = true
		var found bool
		switch kind {
		case KindMarketplace:
			_, found = c.marketplaces[id]
			delete(c.marketplaces, id)
			delete(c.marketplaceAds, id)
		case KindAd:
			_, found = c.ads[id]
			delete(c.ads, id)
		case KindContract:
			_, found = c.contracts[id]
			delete(c.contracts, id)
			delete(c.statuses, id)
		}
		if found {
			events = append(events, Event{EntityID: id, Kind: kind, Round: c.round, Removed: true})
		}
	}
	promContracts.Set(float64(len(c.contracts)))
	promAds.Set(float64(len(c.ads)))
	return events
}

// current reports whether a record of id read by update seq may replace the cached one, and marks it seen.
// Must be called w/ the state lock held.
func (c *Cache) current(id, seq uint64) bool {
	if c.tombstones[id] || seq < c.seen[id] {
		return false
	}
	c.seen[id] = seq
	return true
}

// Removed reports whether the ledger was seen to remove id.
func (c *Cache) Removed(id uint64) bool {
	c.RLock()
	defer c.RUnlock()
	return c.tombstones[id]
}

// Subscribe registers callback for changes to entityID (or AllEntities) and returns a func that cancels the
// subscription.  Callbacks run synchronously after each commit and must not block.
func (c *Cache) Subscribe(entityID uint64, callback Callback) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	subID := c.nextSub
	if c.subs[entityID] == nil {
		c.subs[entityID] = map[int]Callback{}
	}
	c.subs[entityID][subID] = callback
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs[entityID], subID)
		if len(c.subs[entityID]) == 0 {
			delete(c.subs, entityID)
		}
	}
}

func (c *Cache) subscribers(entityID uint64) []Callback {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	var callbacks []Callback
	for _, callback := range c.subs[entityID] {
		callbacks = append(callbacks, callback)
	}
	if entityID != AllEntities {
		for _, callback := range c.subs[AllEntities] {
			callbacks = append(callbacks, callback)
		}
	}
	return callbacks
}

// Round is the latest round committed.
func (c *Cache) Round() uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.round
}

func (c *Cache) Contract(id uint64) (*market.DelegationContract, error) {
	c.RLock()
	defer c.RUnlock()
	contract, found := c.contracts[id]
	if !found {
		return nil, fmt.Errorf("contract %d: %w", id, ErrStale)
	}
	return contract, nil
}

// Status is the contract's status as of the latest committed round.
func (c *Cache) Status(id uint64) (lifecycle.Status, error) {
	c.RLock()
	defer c.RUnlock()
	status, found := c.statuses[id]
	if !found {
		return lifecycle.None, fmt.Errorf("contract %d: %w", id, ErrStale)
	}
	return status, nil
}

func (c *Cache) Ad(id uint64) (*market.ValidatorTerms, error) {
	c.RLock()
	defer c.RUnlock()
	terms, found := c.ads[id]
	if !found {
		return nil, fmt.Errorf("ad %d: %w", id, ErrStale)
	}
	return terms, nil
}

func (c *Cache) Marketplace(id uint64) (*market.MarketplaceInfo, error) {
	c.RLock()
	defer c.RUnlock()
	info, found := c.marketplaces[id]
	if !found {
		return nil, fmt.Errorf("marketplace %d: %w", id, ErrStale)
	}
	return info, nil
}

// MarketplaceAds returns the cached ads listed by a marketplace, in listing order.  Listed ads that haven't
// been read yet are left out.
func (c *Cache) MarketplaceAds(marketplaceID uint64) ([]*market.ValidatorTerms, error) {
	c.RLock()
	defer c.RUnlock()
	adIDs, found := c.marketplaceAds[marketplaceID]
	if !found {
		return nil, fmt.Errorf("marketplace %d: %w", marketplaceID, ErrStale)
	}
	ads := make([]*market.ValidatorTerms, 0, len(adIDs))
	for _, id := range adIDs {
		if terms, found := c.ads[id]; found {
			ads = append(ads, terms)
		}
	}
	return ads, nil
}

// Contracts returns all cached contracts ordered by id.
func (c *Cache) Contracts() []*market.DelegationContract {
	c.RLock()
	defer c.RUnlock()
	contracts := make([]*market.DelegationContract, 0, len(c.contracts))
	for _, contract := range c.contracts {
		contracts = append(contracts, contract)
	}
	slices.SortFunc(contracts, func(a, b *market.DelegationContract) int {
		return cmp.Compare(a.ContractID, b.ContractID)
	})
	return contracts
}
