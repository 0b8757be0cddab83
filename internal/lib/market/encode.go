package market

import (
	"encoding/binary"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/igoprotect/delegation/internal/lib/ledger"
)

func EncodeManTerms(terms ManTerms) ([]byte, error) {
	return manTermsType.Encode([]any{
		terms.HwCategory,
		terms.MinAmount,
		terms.MaxAmount,
		terms.FeeSetup,
		terms.FeeRound,
		terms.Deposit,
		terms.SetupRounds,
		terms.ConfirmationRounds,
		terms.MaxBreach,
		terms.BreachRounds,
		terms.UptimeGuarantee,
	})
}

// EncodeExtraTerms zero pads name and link into their fixed 30/70 byte fields.
func EncodeExtraTerms(terms ExtraTerms) ([]byte, error) {
	if len(terms.Name) > NameSize {
		return nil, fmt.Errorf("name is %d bytes, max is %d", len(terms.Name), NameSize)
	}
	if len(terms.Link) > LinkSize {
		return nil, fmt.Errorf("link is %d bytes, max is %d", len(terms.Link), LinkSize)
	}
	out := make([]byte, ExtraTermsSize)
	copy(out, terms.Name)
	copy(out[NameSize:], terms.Link)
	return out, nil
}

// EncodePackedIDs packs ids into slots big-endian uint64s, zero filling the unused slots.
func EncodePackedIDs(ids []uint64, slots int) ([]byte, error) {
	if len(ids) > slots {
		return nil, fmt.Errorf("%d ids don't fit in %d slots", len(ids), slots)
	}
	out := make([]byte, slots*8)
	for i, id := range ids {
		binary.BigEndian.PutUint64(out[i*8:], id)
	}
	return out, nil
}

func addressBytes(address string) ([]byte, error) {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	return addr[:], nil
}

func boolValue(b bool) ledger.StateValue {
	if b {
		return ledger.UintValue(1)
	}
	return ledger.UintValue(0)
}

// MarketplaceState is the inverse of DecodeMarketplace.
func MarketplaceState(info *MarketplaceInfo) (ledger.AppState, error) {
	manager, err := addressBytes(info.Manager)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	state := ledger.AppState{
		NbDepositValMin:   ledger.UintValue(info.ValidatorDepositMin),
		NbDepositDelMin:   ledger.UintValue(info.DelegatorDepositMin),
		NbValEarnFactor:   ledger.UintValue(info.EarnFactor),
		NbValFactoryAppID: ledger.UintValue(info.FactoryAppID),
		NbManager:         ledger.BytesValue(manager),
		NbLive:            boolValue(info.Live),
	}
	if info.BlockedAmount != nil {
		state[NbBlockedAmount] = ledger.UintValue(*info.BlockedAmount)
	}
	return state, nil
}

// ValidatorTermsState is the inverse of DecodeValidatorTerms.
func ValidatorTermsState(terms *ValidatorTerms) (ledger.AppState, error) {
	owner, err := addressBytes(terms.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	manager, err := addressBytes(terms.Manager)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	man, err := EncodeManTerms(terms.Man)
	if err != nil {
		return nil, err
	}
	extra, err := EncodeExtraTerms(terms.Extra)
	if err != nil {
		return nil, err
	}
	contracts, err := EncodePackedIDs(terms.ContractIDs, MaxDelegatorContracts)
	if err != nil {
		return nil, err
	}
	return ledger.AppState{
		AdNoticeboardAppID: ledger.UintValue(terms.MarketplaceID),
		AdOwner:            ledger.BytesValue(owner),
		AdManager:          ledger.BytesValue(manager),
		AdManTerms:         ledger.BytesValue(man),
		AdExtraTerms:       ledger.BytesValue(extra),
		AdDeposit:          ledger.UintValue(terms.Deposit),
		AdLive:             boolValue(terms.Live),
		AdDelCount:         ledger.UintValue(terms.DelegatorCount),
		AdMaxDelCount:      ledger.UintValue(terms.MaxDelegatorCount),
		AdEarnings:         ledger.UintValue(terms.Earnings),
		AdEarnFactor:       ledger.UintValue(terms.EarnFactor),
		AdDelContracts:     ledger.BytesValue(contracts),
	}, nil
}

// ContractState is the inverse of DecodeContract.
func ContractState(contract *DelegationContract) (ledger.AppState, error) {
	delegator, err := addressBytes(contract.Delegator)
	if err != nil {
		return nil, fmt.Errorf("delegator: %w", err)
	}
	man, err := EncodeManTerms(contract.Man)
	if err != nil {
		return nil, err
	}
	extra, err := EncodeExtraTerms(contract.Extra)
	if err != nil {
		return nil, err
	}
	state := ledger.AppState{
		DelManTerms:         ledger.BytesValue(man),
		DelExtraTerms:       ledger.BytesValue(extra),
		DelRoundStart:       ledger.UintValue(contract.RoundStart),
		DelRoundEnd:         ledger.UintValue(contract.RoundEnd),
		DelKeysDeposited:    boolValue(contract.KeysDeposited),
		DelKeysConfirmed:    boolValue(contract.KeysConfirmed),
		DelAccount:          ledger.BytesValue(delegator),
		DelValAppID:         ledger.UintValue(contract.ValidatorAdID),
		DelNoticeboardAppID: ledger.UintValue(contract.MarketplaceID),
		DelNumBreach:        ledger.UintValue(contract.BreachCount),
		DelLastBreachRound:  ledger.UintValue(contract.LastBreachRound),
		DelContractBreached: boolValue(contract.Breached),
	}
	if contract.Keys != nil {
		state[DelVoteKey] = ledger.BytesValue(contract.Keys.VoteKey)
		state[DelSelectionKey] = ledger.BytesValue(contract.Keys.SelectionKey)
		state[DelStateProofKey] = ledger.BytesValue(contract.Keys.StateProofKey)
		state[DelVoteKeyDilution] = ledger.UintValue(contract.Keys.VoteKeyDilution)
	}
	return state, nil
}

// ProfileLocalState is the noticeboard local state of an opted in account.
func ProfileLocalState(valAppID, delAppID uint64) ledger.AppState {
	return ledger.AppState{
		NbLocalValAppID:   ledger.UintValue(valAppID),
		NbLocalDelAppID:   ledger.UintValue(delAppID),
		NbLocalDepositAmt: ledger.UintValue(0),
		NbLocalBalance:    ledger.UintValue(0),
	}
}
