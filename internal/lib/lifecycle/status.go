// Package lifecycle derives a delegation contract's status from ledger facts and plans the transactions that
// move it forward.
package lifecycle

import (
	"fmt"

	"github.com/igoprotect/delegation/internal/lib/market"
)

type Status int

const (
	// None is the status of a contract that doesn't exist yet
	None Status = iota
	AwaitingKeyDeposit
	SetupOverdue
	AwaitingConfirmation
	ConfirmationOverdue
	Live
	Expired
)

var statusNames = map[Status]string{
	None:                 "None",
	AwaitingKeyDeposit:   "AwaitingKeyDeposit",
	SetupOverdue:         "SetupOverdue",
	AwaitingConfirmation: "AwaitingConfirmation",
	ConfirmationOverdue:  "ConfirmationOverdue",
	Live:                 "Live",
	Expired:              "Expired",
}

func (s Status) String() string {
	if name, found := statusNames[s]; found {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// StatusAt computes the contract's status at round.  Each phase is a closed-open round interval: the round a
// deadline lands on already belongs to the following phase.  A breached contract stays Live until it's ended.
func StatusAt(contract *market.DelegationContract, round uint64) Status {
	switch {
	case contract == nil:
		return None
	case contract.KeysConfirmed:
		if round < contract.RoundEnd {
			return Live
		}
		return Expired
	case contract.KeysDeposited:
		if round < contract.ConfirmationDeadline() {
			return AwaitingConfirmation
		}
		return ConfirmationOverdue
	default:
		if round < contract.SetupDeadline() {
			return AwaitingKeyDeposit
		}
		return SetupOverdue
	}
}
