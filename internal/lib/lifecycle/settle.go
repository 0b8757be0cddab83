package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/market"
)

// Settlement is how a contract's funds are split if it's closed at a given round.
type Settlement struct {
	// Refund goes back to the delegator: unused operational fee, or the setup fee when keys never arrived
	Refund uint64
	// ValidatorFee is what the ad earns before the platform's cut
	ValidatorFee uint64
	// ValidatorEarning and PlatformFee split ValidatorFee by the marketplace earn factor
	ValidatorEarning uint64
	PlatformFee      uint64
	// DepositReturned is left for the delegator to withdraw, DepositForfeited goes to the validator
	DepositReturned  uint64
	DepositForfeited uint64
}

func (s Settlement) String() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("Refund to delegator: %s\n", algo.FormattedAlgoAmount(s.Refund)))
	out.WriteString(fmt.Sprintf("Validator fee: %s (validator %s, platform %s)\n",
		algo.FormattedAlgoAmount(s.ValidatorFee), algo.FormattedAlgoAmount(s.ValidatorEarning), algo.FormattedAlgoAmount(s.PlatformFee)))
	out.WriteString(fmt.Sprintf("Deposit returned: %s, forfeited: %s\n",
		algo.FormattedAlgoAmount(s.DepositReturned), algo.FormattedAlgoAmount(s.DepositForfeited)))
	return out.String()
}

// ValidatorShare is the validator's part of total given an earn factor in percent.
func ValidatorShare(total, earnFactor uint64) uint64 {
	return total * min(earnFactor, 100) / 100
}

// Settle previews the closing settlement of contract at round for the action its status allows.
func Settle(contract *market.DelegationContract, round, earnFactor uint64) (Settlement, error) {
	if contract == nil {
		return Settlement{}, errors.New("no contract to settle")
	}
	var settlement Settlement
	deposit := contract.Man.Deposit

	switch status := StatusAt(contract, round); status {
	case AwaitingKeyDeposit, SetupOverdue:
		// keys never arrived: everything goes back
		settlement.Refund = contract.Man.FeeSetup
		settlement.DepositReturned = deposit
	case AwaitingConfirmation, ConfirmationOverdue:
		// the validator did its part, the setup fee is theirs
		settlement.ValidatorFee = contract.Man.FeeSetup
		settlement.DepositReturned = deposit
	case Live, Expired:
		var remaining uint64
		if round < contract.RoundEnd {
			remaining = min(contract.RoundEnd-round, contract.Duration())
		}
		settlement.Refund = contract.Man.FeeRound * remaining
		settlement.ValidatorFee = contract.Man.FeeRound * (contract.Duration() - remaining)
		if contract.Breached {
			settlement.DepositForfeited = deposit
		} else {
			settlement.DepositReturned = deposit
		}
	default:
		return Settlement{}, fmt.Errorf("contract in status %s has nothing to settle", status)
	}

	settlement.ValidatorEarning = ValidatorShare(settlement.ValidatorFee, earnFactor)
	settlement.PlatformFee = settlement.ValidatorFee - settlement.ValidatorEarning
	return settlement, nil
}
