// Package executor submits planned transitions, allowing one in-flight submission per contract.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/misc"
)

// ErrBusy is returned when a submission for the same contract is already in flight.  Callers should re-check
// the contract's status after a short delay.
var ErrBusy = errors.New("another action is in progress for this contract")

// RefreshFunc re-reads the entities a confirmed plan touched.
type RefreshFunc func(ctx context.Context, plan *lifecycle.Plan) error

// PlanFunc builds the plan to submit.  It runs while the lock is held so it sees the state the submission
// will act on.
type PlanFunc func(ctx context.Context) (*lifecycle.Plan, error)

type Executor struct {
	logger  *slog.Logger
	gateway ledger.Gateway
	refresh RefreshFunc

	// embed mutex for locking state for members below the mutex
	sync.Mutex
	inFlight map[uint64]struct{}
}

func New(logger *slog.Logger, gateway ledger.Gateway, refresh RefreshFunc) *Executor {
	return &Executor{
		logger:   logger,
		gateway:  gateway,
		refresh:  refresh,
		inFlight: map[uint64]struct{}{},
	}
}

func (e *Executor) tryLock(id uint64) bool {
	e.Lock()
	defer e.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	promInFlight.Inc()
	return true
}

func (e *Executor) unlock(id uint64) {
	e.Lock()
	defer e.Unlock()
	delete(e.inFlight, id)
	promInFlight.Dec()
}

// IsBusy reports whether a submission for id is in flight.
func (e *Executor) IsBusy(id uint64) bool {
	e.Lock()
	defer e.Unlock()
	_, busy := e.inFlight[id]
	return busy
}

// Perform builds and submits a plan while holding lockID, failing fast w/ ErrBusy if it's already held.  The
// group is submitted exactly once, errors from planning or submission are returned as is and nothing is
// refreshed.  After a confirmed submission the refresh hook runs before Perform returns.
func (e *Executor) Perform(ctx context.Context, lockID uint64, planFn PlanFunc) (*ledger.Receipt, error) {
	if !e.tryLock(lockID) {
		promActions.WithLabelValues("unknown", "busy").Inc()
		return nil, ErrBusy
	}
	defer e.unlock(lockID)

	plan, err := planFn(ctx)
	if err != nil {
		return nil, err
	}
	misc.Infof(e.logger, "submitting %s for contract:%d ad:%d as %s, %d ops, fee:%d",
		plan.Action, plan.ContractID, plan.AdID, plan.Role, len(plan.Ops), plan.Fee())
	for _, op := range plan.Ops {
		misc.Debugf(e.logger, "  %s", op)
	}

	receipt, err := e.gateway.SubmitAtomic(ctx, plan.Ops)
	if err != nil {
		promActions.WithLabelValues(plan.Action.String(), "failed").Inc()
		misc.Warnf(e.logger, "%s for contract:%d failed: %v", plan.Action, plan.ContractID, err)
		return nil, err
	}
	promActions.WithLabelValues(plan.Action.String(), "confirmed").Inc()

	if e.refresh != nil {
		if err := e.refresh(ctx, plan); err != nil {
			// the submission stands, the next reconciliation tick picks up what the refresh missed
			misc.Warnf(e.logger, "refresh after %s for contract:%d failed: %v", plan.Action, plan.ContractID, err)
		}
	}
	return receipt, nil
}

// Execute submits an already built plan under its own lock.
func (e *Executor) Execute(ctx context.Context, plan *lifecycle.Plan) (*ledger.Receipt, error) {
	return e.Perform(ctx, plan.LockID(), func(context.Context) (*lifecycle.Plan, error) {
		return plan, nil
	})
}

// Simulate dry-runs a plan against the ledger without taking its lock.
func (e *Executor) Simulate(ctx context.Context, plan *lifecycle.Plan) error {
	return e.gateway.SimulateAtomic(ctx, plan.Ops)
}
