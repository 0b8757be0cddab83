package ledger

import (
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

type OpKind int

const (
	OpPayment OpKind = iota
	OpKeyReg
	OpAppCall
)

func (k OpKind) String() string {
	switch k {
	case OpPayment:
		return "pay"
	case OpKeyReg:
		return "keyreg"
	case OpAppCall:
		return "appl"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// OpRef used as an app call argument stands for the transaction built from ops[OpRef].  The referenced op is
// then placed in the group by the call it's passed to (immediately before it) rather than on its own.
type OpRef int

// KeyRegParams are the participation keys to register.  Empty keys mean deregistration (going offline).
type KeyRegParams struct {
	VoteKey       []byte
	SelectionKey  []byte
	StateProofKey []byte
	VoteFirst     uint64
	VoteLast      uint64
	KeyDilution   uint64
}

func (k *KeyRegParams) Offline() bool {
	return k == nil || len(k.VoteKey) == 0
}

// Op describes one transaction of an atomic group.
type Op struct {
	Kind   OpKind
	Sender string
	// Fee is the flat fee of this transaction in microAlgo - outer app calls carry the fees of the inner
	// transactions they trigger.
	Fee uint64

	// payments
	Receiver string
	Amount   uint64

	// key registrations
	KeyReg *KeyRegParams

	// app calls
	AppID           uint64
	Method          string // ABI method signature, ie: confirm_keys(uint64,pay)void
	// OnComplete defaults to NoOp, OptIn opts the sender into AppID w/ the call
	OnComplete      types.OnCompletion
	Args            []any
	ForeignApps     []uint64
	ForeignAccounts []string
	Boxes           []types.AppBoxReference
}

func (o Op) String() string {
	switch o.Kind {
	case OpPayment:
		return fmt.Sprintf("pay %d from %s to %s (fee %d)", o.Amount, o.Sender, o.Receiver, o.Fee)
	case OpKeyReg:
		if o.KeyReg.Offline() {
			return fmt.Sprintf("keyreg offline for %s (fee %d)", o.Sender, o.Fee)
		}
		return fmt.Sprintf("keyreg online for %s rounds %d-%d (fee %d)", o.Sender, o.KeyReg.VoteFirst, o.KeyReg.VoteLast, o.Fee)
	case OpAppCall:
		name, _, _ := strings.Cut(o.Method, "(")
		if o.OnComplete == types.OptInOC {
			return fmt.Sprintf("opt in to app %d w/ %s from %s (fee %d)", o.AppID, name, o.Sender, o.Fee)
		}
		return fmt.Sprintf("call %s on app %d from %s (fee %d)", name, o.AppID, o.Sender, o.Fee)
	}
	return o.Kind.String()
}

// TotalFee sums the fees of all ops.
func TotalFee(ops []Op) uint64 {
	var total uint64
	for _, op := range ops {
		total += op.Fee
	}
	return total
}

// referencedOps validates OpRef arguments and returns the set of ops that are passed as call arguments.
// A referenced op must come earlier, can't itself be an app call and can only be referenced once.
func referencedOps(ops []Op) (map[int]bool, error) {
	refs := map[int]bool{}
	for i, op := range ops {
		if op.Kind != OpAppCall {
			continue
		}
		for _, arg := range op.Args {
			ref, ok := arg.(OpRef)
			if !ok {
				continue
			}
			idx := int(ref)
			switch {
			case idx < 0 || idx >= i:
				return nil, fmt.Errorf("op %d references op %d which doesn't precede it", i, idx)
			case ops[idx].Kind == OpAppCall:
				return nil, fmt.Errorf("op %d references app call op %d as a transaction argument", i, idx)
			case refs[idx]:
				return nil, fmt.Errorf("op %d is passed as an argument more than once", idx)
			}
			refs[idx] = true
		}
	}
	return refs, nil
}
