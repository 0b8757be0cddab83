// Package ledger is the read/write boundary to the chain: state queries plus atomic group submission.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found on ledger")

// Gateway is everything the marketplace core needs from a node.
type Gateway interface {
	CurrentRound(ctx context.Context) (uint64, error)
	// ApplicationState returns the global state of the application, keyed by raw (not base64) key bytes.
	ApplicationState(ctx context.Context, appID uint64) (AppState, error)
	BoxValue(ctx context.Context, appID uint64, name []byte) ([]byte, error)
	// AccountApps returns the sorted, unique ids of applications the account has opted into.
	AccountApps(ctx context.Context, address string) ([]uint64, error)
	LocalState(ctx context.Context, address string, appID uint64) (AppState, error)
	AccountBalance(ctx context.Context, address string) (uint64, error)
	MinFee(ctx context.Context) (uint64, error)

	// SubmitAtomic submits ops as a single group.  Either every op applies or none does; failures are
	// reported as *SubmissionError.
	SubmitAtomic(ctx context.Context, ops []Op) (*Receipt, error)
	// SimulateAtomic runs the group against current state w/out committing it.
	SimulateAtomic(ctx context.Context, ops []Op) error
}

// SubmissionError is returned when the ledger rejects, or fails to confirm, an atomic group.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %s", e.Reason)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Receipt describes a confirmed group.
type Receipt struct {
	ConfirmedRound uint64
	TxIDs          []string
	// Returns holds the ABI return value of each app call in the group, in order.
	Returns []any
}

const (
	ValueBytes uint64 = 1
	ValueUint  uint64 = 2
)

type StateValue struct {
	Type  uint64
	Bytes []byte
	Uint  uint64
}

func BytesValue(b []byte) StateValue {
	return StateValue{Type: ValueBytes, Bytes: b}
}

func UintValue(v uint64) StateValue {
	return StateValue{Type: ValueUint, Uint: v}
}

// AppState is application global or local state keyed by raw key.
type AppState map[string]StateValue

func (s AppState) Uint(key string) (uint64, bool) {
	v, found := s[key]
	if !found || v.Type != ValueUint {
		return 0, false
	}
	return v.Uint, true
}

func (s AppState) Bytes(key string) ([]byte, bool) {
	v, found := s[key]
	if !found || v.Type != ValueBytes {
		return nil, false
	}
	return v.Bytes, true
}
