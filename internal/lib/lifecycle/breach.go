package lifecycle

import "github.com/igoprotect/delegation/internal/lib/market"

// BreachCounts reports whether a stake limit breach observed at round counts as a new breach event.  Breaches
// within BreachRounds of the last counted one belong to the same event, and only a confirmed contract inside
// its window that isn't already breached can accrue breaches.
func BreachCounts(contract *market.DelegationContract, round uint64) bool {
	if contract == nil || contract.Breached || !contract.KeysConfirmed {
		return false
	}
	if round <= contract.RoundStart || round >= contract.RoundEnd {
		return false
	}
	return contract.LastBreachRound+contract.Man.BreachRounds < round
}

// ApplyBreach returns the contract as it is after a breach observed at round, and whether the breach counted.
// The passed contract isn't modified.
func ApplyBreach(contract *market.DelegationContract, round uint64) (*market.DelegationContract, bool) {
	if !BreachCounts(contract, round) {
		return contract, false
	}
	updated := *contract
	updated.BreachCount = min(updated.BreachCount+1, max(updated.Man.MaxBreach, 1))
	updated.LastBreachRound = round
	updated.Breached = updated.BreachCount >= updated.Man.MaxBreach
	return &updated, true
}

// OutsideStakeLimits reports whether a delegator balance breaks the contract's balance range.
func OutsideStakeLimits(contract *market.DelegationContract, balance uint64) bool {
	return balance < contract.Man.MinAmount || balance > contract.Man.MaxAmount
}
