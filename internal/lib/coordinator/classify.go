package coordinator

import (
	"context"
	"errors"
	"net"

	"github.com/igoprotect/delegation/internal/lib/executor"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

// Class tells a caller what to do about an error.
type Class int

const (
	// NoError is the class of a nil error
	NoError Class = iota
	// Transient errors may succeed if retried as is after a short delay
	Transient
	// Replan errors need the status re-derived and a new plan before trying again
	Replan
	// Terminal errors won't go away by retrying
	Terminal
)

func (c Class) String() string {
	switch c {
	case NoError:
		return "none"
	case Transient:
		return "transient"
	case Replan:
		return "replan"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

func Classify(err error) Class {
	var (
		decodeErr *market.DecodeError
		subErr    *ledger.SubmissionError
		netErr    net.Error
	)
	switch {
	case err == nil:
		return NoError
	case errors.As(err, &decodeErr):
		return Terminal
	case errors.As(err, &subErr),
		errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, reconcile.ErrStale):
		// a rejected group is never resubmitted as is, rounds and fees may have moved on
		return Replan
	case errors.Is(err, executor.ErrBusy),
		errors.Is(err, reconcile.ErrTickAbandoned),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return Transient
	}
	return Terminal
}
