package ledgertest

import (
	"context"
	"fmt"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
)

// stakeLimitBreach is the contract method a breach report calls.
const stakeLimitBreach = "stake_limit_breach()bool"

// PutMarketplace stores a marketplace's global state and its listing of ads.
func (f *Fake) PutMarketplace(info *market.MarketplaceInfo, adIDs []uint64) error {
	state, err := market.MarketplaceState(info)
	if err != nil {
		return err
	}
	box, err := market.EncodePackedIDs(adIDs, market.MaxValidatorAds)
	if err != nil {
		return err
	}
	f.SetApp(info.AppID, state)
	f.SetBox(info.AppID, market.ValidatorListBoxName, box)
	return nil
}

func (f *Fake) PutAd(terms *market.ValidatorTerms) error {
	state, err := market.ValidatorTermsState(terms)
	if err != nil {
		return err
	}
	f.SetApp(terms.AdID, state)
	return nil
}

func (f *Fake) PutContract(contract *market.DelegationContract) error {
	state, err := market.ContractState(contract)
	if err != nil {
		return err
	}
	f.SetApp(contract.ContractID, state)
	return nil
}

// PutProfile opts address into the marketplace w/ the given ad and contract ids.
func (f *Fake) PutProfile(address string, marketplaceID, adID, contractID uint64) {
	f.SetLocal(address, marketplaceID, market.ProfileLocalState(adID, contractID))
}

// PutFunds sets the deposit and balance the marketplace holds for an opted in address.
func (f *Fake) PutFunds(address string, marketplaceID, deposit, balance uint64) {
	f.Lock()
	defer f.Unlock()
	local := f.Local[address][marketplaceID]
	if local == nil {
		return
	}
	local[market.NbLocalDepositAmt] = ledger.UintValue(deposit)
	local[market.NbLocalBalance] = ledger.UintValue(balance)
}

// applyCalls applies the contract calls the fake models to its state, rejecting the group like the contract
// would when one of them doesn't hold.  Only breach reports are modeled.
func (f *Fake) applyCalls(ops []ledger.Op, round uint64) error {
	for i, op := range ops {
		if op.Kind != ledger.OpAppCall || op.Method != stakeLimitBreach {
			continue
		}
		state, err := f.ApplicationState(context.Background(), op.AppID)
		if err != nil {
			return &ledger.SubmissionError{Reason: fmt.Sprintf("op %d: %v", i, err), Err: err}
		}
		contract, err := market.DecodeContract(op.AppID, state)
		if err != nil {
			return &ledger.SubmissionError{Reason: fmt.Sprintf("op %d: %v", i, err), Err: err}
		}
		balance, _ := f.AccountBalance(context.Background(), contract.Delegator)
		if !lifecycle.OutsideStakeLimits(contract, balance) {
			return &ledger.SubmissionError{Reason: fmt.Sprintf("op %d: balance of %s is within limits", i, contract.Delegator)}
		}
		updated, counted := lifecycle.ApplyBreach(contract, round)
		if !counted {
			return &ledger.SubmissionError{Reason: fmt.Sprintf("op %d: breach of contract %d doesn't count at round %d", i, op.AppID, round)}
		}
		if err := f.PutContract(updated); err != nil {
			return err
		}
	}
	return nil
}
