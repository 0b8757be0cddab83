// Package ledgertest provides an in-memory ledger.Gateway for tests.
package ledgertest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/igoprotect/delegation/internal/lib/ledger"
)

// Fake is a concurrency safe in-memory ledger.  Zero value is not usable - use New.
type Fake struct {
	sync.Mutex

	Round    uint64
	MinFeeV  uint64
	Apps     map[uint64]ledger.AppState
	Boxes    map[uint64]map[string][]byte
	Local    map[string]map[uint64]ledger.AppState
	Balances map[string]uint64

	// ReadErrs forces reads of the given app id to fail
	ReadErrs map[uint64]error
	RoundErr error
	// SubmitFn, if set, decides the outcome of SubmitAtomic.  It's called w/out the lock held.  Without it
	// groups confirm in the next round and breach reports are applied to the contracts they target.
	SubmitFn func(ctx context.Context, ops []ledger.Op) (*ledger.Receipt, error)

	Submitted [][]ledger.Op
	Simulated [][]ledger.Op
	Reads     int
}

var _ ledger.Gateway = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		MinFeeV:  1000,
		Apps:     map[uint64]ledger.AppState{},
		Boxes:    map[uint64]map[string][]byte{},
		Local:    map[string]map[uint64]ledger.AppState{},
		Balances: map[string]uint64{},
		ReadErrs: map[uint64]error{},
	}
}

func (f *Fake) SetRound(round uint64) {
	f.Lock()
	defer f.Unlock()
	f.Round = round
}

func (f *Fake) SetApp(appID uint64, state ledger.AppState) {
	f.Lock()
	defer f.Unlock()
	f.Apps[appID] = maps.Clone(state)
}

func (f *Fake) DeleteApp(appID uint64) {
	f.Lock()
	defer f.Unlock()
	delete(f.Apps, appID)
}

func (f *Fake) SetBox(appID uint64, name string, value []byte) {
	f.Lock()
	defer f.Unlock()
	if f.Boxes[appID] == nil {
		f.Boxes[appID] = map[string][]byte{}
	}
	f.Boxes[appID][name] = value
}

func (f *Fake) SetLocal(address string, appID uint64, state ledger.AppState) {
	f.Lock()
	defer f.Unlock()
	if f.Local[address] == nil {
		f.Local[address] = map[uint64]ledger.AppState{}
	}
	f.Local[address][appID] = maps.Clone(state)
}

func (f *Fake) FailReads(appID uint64, err error) {
	f.Lock()
	defer f.Unlock()
	if err == nil {
		delete(f.ReadErrs, appID)
		return
	}
	f.ReadErrs[appID] = err
}

func (f *Fake) SubmitCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.Submitted)
}

func (f *Fake) CurrentRound(ctx context.Context) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	if f.RoundErr != nil {
		return 0, f.RoundErr
	}
	return f.Round, nil
}

func (f *Fake) ApplicationState(ctx context.Context, appID uint64) (ledger.AppState, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	if err := f.ReadErrs[appID]; err != nil {
		return nil, err
	}
	state, found := f.Apps[appID]
	if !found {
		return nil, fmt.Errorf("application %d: %w", appID, ledger.ErrNotFound)
	}
	return maps.Clone(state), nil
}

func (f *Fake) BoxValue(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	if err := f.ReadErrs[appID]; err != nil {
		return nil, err
	}
	value, found := f.Boxes[appID][string(name)]
	if !found {
		return nil, fmt.Errorf("box %q of application %d: %w", string(name), appID, ledger.ErrNotFound)
	}
	return slices.Clone(value), nil
}

func (f *Fake) AccountApps(ctx context.Context, address string) ([]uint64, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	appIDs := make([]uint64, 0, len(f.Local[address]))
	for appID := range f.Local[address] {
		appIDs = append(appIDs, appID)
	}
	slices.Sort(appIDs)
	return appIDs, nil
}

func (f *Fake) LocalState(ctx context.Context, address string, appID uint64) (ledger.AppState, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	state, found := f.Local[address][appID]
	if !found {
		return nil, fmt.Errorf("local state of %s in %d: %w", address, appID, ledger.ErrNotFound)
	}
	return maps.Clone(state), nil
}

func (f *Fake) AccountBalance(ctx context.Context, address string) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	f.Reads++
	return f.Balances[address], nil
}

func (f *Fake) MinFee(ctx context.Context) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	return f.MinFeeV, nil
}

func (f *Fake) SubmitAtomic(ctx context.Context, ops []ledger.Op) (*ledger.Receipt, error) {
	f.Lock()
	f.Submitted = append(f.Submitted, slices.Clone(ops))
	submitFn := f.SubmitFn
	round := f.Round
	f.Unlock()

	if submitFn != nil {
		return submitFn(ctx, ops)
	}
	if err := f.applyCalls(ops, round+1); err != nil {
		return nil, err
	}
	return &ledger.Receipt{ConfirmedRound: round + 1, TxIDs: make([]string, len(ops))}, nil
}

func (f *Fake) SimulateAtomic(ctx context.Context, ops []ledger.Op) error {
	f.Lock()
	defer f.Unlock()
	f.Simulated = append(f.Simulated, slices.Clone(ops))
	return nil
}
