package lifecycle

import (
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/market"
)

var ErrIllegalTransition = errors.New("illegal transition")

// Noticeboard and delegator contract ABI methods
const (
	methodCreateContract   = "create_delegator_contract(uint64,pay,pay,pay,uint64,uint64)void"
	methodDepositKeys      = "deposit_keys(address,byte[32],byte[32],byte[64],uint64,uint64,uint64)void"
	methodConfirmKeys      = "confirm_keys(uint64,pay)void"
	methodKeysNotGenerated = "keys_not_generated(address)void"
	methodKeysNotConfirmed = "keys_not_confirmed(address)void"
	methodEndExpired       = "end_expired_or_breached_delegator_contract(address)void"
	methodEndActive        = "end_active_delegator_contract(uint64)void"
	methodWithdrawEarnings = "val_withdraw_earnings()uint64"
	methodStakeLimitBreach = "stake_limit_breach()bool"
	methodUserOptIn        = "user_opt_in()void"
	methodWithdrawBalance  = "withdraw_balance()uint64"
	// the deployed noticeboard spells it this way
	methodWithdrawDeposit = "withdraw_depoist()uint64"
)

// fee multiples of the outer app call: itself plus the inner transactions it triggers
var callFeeMultiple = map[ActionKind]uint64{
	CreateContract:     5,
	DepositKeys:        3,
	ConfirmKeys:        3,
	RefundOverdueSetup: 4,
	CancelUnconfirmed:  4,
	TerminateExpired:   4,
	WithdrawEarly:      4,
	WithdrawEarnings:   3,
	ReportBreach:       1,
	WithdrawBalance:    2,
	WithdrawDeposit:    2,
}

// PlanInput is everything the planner needs to know.  Contract is nil for CreateContract, Terms is the ad the
// contract (or the one to be created) is under.
type PlanInput struct {
	Contract      *market.DelegationContract
	Terms         *market.ValidatorTerms
	MarketplaceID uint64
	// Marketplace is optional; when present a paused marketplace refuses new contracts
	Marketplace *market.MarketplaceInfo
	Round       uint64
	MinFee      uint64
	// Caller signs AnyParty actions and new contracts
	Caller string
	// Profile is the caller's marketplace profile, required by CreateContract and account level actions
	Profile *market.UserProfile

	// Keys are the participation keys to deposit (DepositKeys only)
	Keys *market.ParticipationKeys
	// RoundStart and RoundEnd bound a new contract, zero picks the defaults
	RoundStart uint64
	RoundEnd   uint64
}

// Plan is an ordered list of ledger operations to submit as one atomic group.
type Plan struct {
	Action        ActionKind
	Role          Role
	ContractID    uint64
	AdID          uint64
	MarketplaceID uint64
	Ops           []ledger.Op
}

// LockID is the entity submissions for this plan are serialized on.  Actions not tied to a contract lock
// their ad, account level actions the marketplace.
func (p *Plan) LockID() uint64 {
	switch {
	case p.ContractID != 0:
		return p.ContractID
	case p.AdID != 0:
		return p.AdID
	}
	return p.MarketplaceID
}

func (p *Plan) Fee() uint64 {
	return ledger.TotalFee(p.Ops)
}

// BuildPlan returns the operations that perform action as role.  It fails w/ ErrIllegalTransition when action
// isn't legal for role in the contract's current status, or the ad / marketplace won't accept it.
func BuildPlan(action ActionKind, role Role, input PlanInput) (*Plan, error) {
	status := StatusAt(input.Contract, input.Round)
	if !IsLegalOn(action, input.Contract, status, role) {
		return nil, fmt.Errorf("%w: %s as %s while %s", ErrIllegalTransition, action, role, status)
	}
	minFee := max(input.MinFee, 1000)
	if action.AccountLevel() {
		ops, err := accountOps(action, input, minFee)
		if err != nil {
			return nil, err
		}
		return &Plan{Action: action, Role: role, MarketplaceID: input.MarketplaceID, Ops: ops}, nil
	}
	if input.Terms == nil {
		return nil, fmt.Errorf("%s needs the validator ad", action)
	}
	if input.Contract != nil && input.Contract.ValidatorAdID != input.Terms.AdID {
		return nil, fmt.Errorf("contract %d is under ad %d, not %d", input.Contract.ContractID, input.Contract.ValidatorAdID, input.Terms.AdID)
	}

	plan := &Plan{
		Action:        action,
		Role:          role,
		AdID:          input.Terms.AdID,
		MarketplaceID: input.MarketplaceID,
	}
	if input.Contract != nil {
		plan.ContractID = input.Contract.ContractID
	}

	var err error
	switch action {
	case CreateContract:
		plan.Ops, err = createContractOps(input, minFee)
	case DepositKeys:
		plan.Ops, err = depositKeysOps(input, minFee)
	case ConfirmKeys:
		plan.Ops, err = confirmKeysOps(input, minFee)
	case RefundOverdueSetup:
		plan.Ops, err = delegatorAccountCallOps(input, input.Contract.Delegator, methodKeysNotGenerated, callFeeMultiple[action]*minFee)
	case CancelUnconfirmed:
		plan.Ops, err = delegatorAccountCallOps(input, input.Terms.Manager, methodKeysNotConfirmed, callFeeMultiple[action]*minFee)
	case TerminateExpired:
		plan.Ops, err = delegatorAccountCallOps(input, input.Caller, methodEndExpired, callFeeMultiple[action]*minFee)
	case WithdrawEarly:
		plan.Ops, err = withdrawEarlyOps(input, minFee)
	case WithdrawEarnings:
		plan.Ops = withdrawEarningsOps(input, minFee)
	case ReportBreach:
		plan.Ops, err = reportBreachOps(input, minFee)
	default:
		return nil, fmt.Errorf("%w: unknown action %s", ErrIllegalTransition, action)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func appAddress(appID uint64) string {
	return crypto.GetApplicationAddress(appID).String()
}

func decodeAccount(field, address string) (types.Address, error) {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid %s address %q: %w", field, address, err)
	}
	return addr, nil
}

// ContractWindow returns the rounds a new contract covers, filling in defaults for zero values.
func ContractWindow(round, roundStart, roundEnd uint64) (uint64, uint64) {
	if roundStart == 0 {
		roundStart = round + market.StartRoundOffset
	}
	if roundEnd == 0 {
		roundEnd = roundStart + market.DefaultContractDuration
	}
	return roundStart, roundEnd
}

func createContractOps(input PlanInput, minFee uint64) ([]ledger.Op, error) {
	terms := input.Terms
	if !terms.Live {
		return nil, fmt.Errorf("%w: ad %d isn't live", ErrIllegalTransition, terms.AdID)
	}
	if terms.DelegatorCount >= terms.MaxDelegatorCount {
		return nil, fmt.Errorf("%w: ad %d is full (%d of %d)", ErrIllegalTransition, terms.AdID, terms.DelegatorCount, terms.MaxDelegatorCount)
	}
	if input.Marketplace != nil && !input.Marketplace.Live {
		return nil, fmt.Errorf("%w: marketplace %d isn't live", ErrIllegalTransition, input.Marketplace.AppID)
	}
	if _, err := decodeAccount("caller", input.Caller); err != nil {
		return nil, err
	}
	profile := input.Profile
	if profile == nil {
		return nil, errors.New("creating a contract needs the caller's marketplace profile")
	}
	if profile.ValidatorAdID != 0 || profile.ContractID != 0 {
		return nil, fmt.Errorf("%w: %s already has a marketplace role (ad %d, contract %d)",
			ErrIllegalTransition, input.Caller, profile.ValidatorAdID, profile.ContractID)
	}
	roundStart, roundEnd := ContractWindow(input.Round, input.RoundStart, input.RoundEnd)
	if roundEnd <= roundStart {
		return nil, fmt.Errorf("contract must end after it starts, got rounds %d-%d", roundStart, roundEnd)
	}
	if roundStart < input.Round {
		return nil, fmt.Errorf("contract can't start in the past, round %d is before current round %d", roundStart, input.Round)
	}

	var ops []ledger.Op
	if !profile.OptedIn {
		ops = append(ops, ledger.Op{
			Kind:       ledger.OpAppCall,
			Sender:     input.Caller,
			Fee:        minFee,
			AppID:      input.MarketplaceID,
			Method:     methodUserOptIn,
			OnComplete: types.OptInOC,
		})
	}
	// the payments are passed to the create call by their position in ops
	first := len(ops)
	marketplaceAddr := appAddress(input.MarketplaceID)
	return append(ops,
		ledger.Op{Kind: ledger.OpPayment, Sender: input.Caller, Fee: minFee, Receiver: marketplaceAddr, Amount: terms.Man.Deposit},
		ledger.Op{Kind: ledger.OpPayment, Sender: input.Caller, Fee: minFee, Receiver: marketplaceAddr, Amount: terms.Man.FeeSetup},
		ledger.Op{Kind: ledger.OpPayment, Sender: input.Caller, Fee: minFee, Receiver: appAddress(terms.AdID), Amount: market.MbrDelegatorContractCreation},
		ledger.Op{
			Kind:   ledger.OpAppCall,
			Sender: input.Caller,
			Fee:    callFeeMultiple[CreateContract] * minFee,
			AppID:  input.MarketplaceID,
			Method: methodCreateContract,
			Args: []any{terms.AdID, ledger.OpRef(first), ledger.OpRef(first + 1), ledger.OpRef(first + 2),
				roundStart, roundEnd},
			ForeignApps: []uint64{terms.AdID},
		},
	), nil
}

func validateKeys(keys *market.ParticipationKeys) error {
	switch {
	case keys == nil:
		return errors.New("participation keys are required")
	case len(keys.VoteKey) != market.VoteKeySize:
		return fmt.Errorf("vote key must be %d bytes, got %d", market.VoteKeySize, len(keys.VoteKey))
	case len(keys.SelectionKey) != market.SelectionKeySize:
		return fmt.Errorf("selection key must be %d bytes, got %d", market.SelectionKeySize, len(keys.SelectionKey))
	case len(keys.StateProofKey) != market.StateProofKeySize:
		return fmt.Errorf("state proof key must be %d bytes, got %d", market.StateProofKeySize, len(keys.StateProofKey))
	case keys.VoteKeyDilution == 0:
		return errors.New("vote key dilution must be non-zero")
	}
	return nil
}

func depositKeysOps(input PlanInput, minFee uint64) ([]ledger.Op, error) {
	contract := input.Contract
	if err := validateKeys(input.Keys); err != nil {
		return nil, err
	}
	delegator, err := decodeAccount("delegator", contract.Delegator)
	if err != nil {
		return nil, err
	}
	return []ledger.Op{{
		Kind:   ledger.OpAppCall,
		Sender: input.Terms.Manager,
		Fee:    callFeeMultiple[DepositKeys] * minFee,
		AppID:  input.MarketplaceID,
		Method: methodDepositKeys,
		Args: []any{
			delegator,
			input.Keys.SelectionKey,
			input.Keys.VoteKey,
			input.Keys.StateProofKey,
			input.Keys.VoteKeyDilution,
			contract.RoundStart,
			contract.RoundEnd,
		},
		ForeignApps:     []uint64{contract.ValidatorAdID, contract.ContractID},
		ForeignAccounts: []string{contract.Delegator},
	}}, nil
}

func confirmKeysOps(input PlanInput, minFee uint64) ([]ledger.Op, error) {
	contract := input.Contract
	if err := validateKeys(contract.Keys); err != nil {
		return nil, fmt.Errorf("contract %d has no usable deposited keys: %w", contract.ContractID, err)
	}
	keys := contract.Keys
	return []ledger.Op{
		{
			Kind:   ledger.OpKeyReg,
			Sender: contract.Delegator,
			Fee:    minFee,
			KeyReg: &ledger.KeyRegParams{
				VoteKey:       keys.VoteKey,
				SelectionKey:  keys.SelectionKey,
				StateProofKey: keys.StateProofKey,
				VoteFirst:     contract.RoundStart,
				VoteLast:      contract.RoundEnd,
				KeyDilution:   keys.VoteKeyDilution,
			},
		},
		{
			Kind:     ledger.OpPayment,
			Sender:   contract.Delegator,
			Fee:      minFee,
			Receiver: appAddress(input.MarketplaceID),
			Amount:   contract.OperationalFee(),
		},
		{
			Kind:   ledger.OpAppCall,
			Sender: contract.Delegator,
			Fee:    callFeeMultiple[ConfirmKeys] * minFee,
			AppID:  input.MarketplaceID,
			Method: methodConfirmKeys,
			// group index of the key registration, then the fee payment
			Args:        []any{uint64(0), ledger.OpRef(1)},
			ForeignApps: []uint64{contract.ValidatorAdID, contract.ContractID},
		},
	}, nil
}

// delegatorAccountCallOps is a single noticeboard call taking the delegator account as its only argument.
func delegatorAccountCallOps(input PlanInput, sender, method string, fee uint64) ([]ledger.Op, error) {
	contract := input.Contract
	if _, err := decodeAccount("sender", sender); err != nil {
		return nil, err
	}
	delegator, err := decodeAccount("delegator", contract.Delegator)
	if err != nil {
		return nil, err
	}
	return []ledger.Op{{
		Kind:            ledger.OpAppCall,
		Sender:          sender,
		Fee:             fee,
		AppID:           input.MarketplaceID,
		Method:          method,
		Args:            []any{delegator},
		ForeignApps:     []uint64{contract.ValidatorAdID, contract.ContractID},
		ForeignAccounts: []string{contract.Delegator},
	}}, nil
}

func withdrawEarlyOps(input PlanInput, minFee uint64) ([]ledger.Op, error) {
	contract := input.Contract
	if _, err := decodeAccount("delegator", contract.Delegator); err != nil {
		return nil, err
	}
	return []ledger.Op{
		{
			Kind:   ledger.OpKeyReg,
			Sender: contract.Delegator,
			Fee:    minFee,
			KeyReg: &ledger.KeyRegParams{},
		},
		{
			Kind:   ledger.OpAppCall,
			Sender: contract.Delegator,
			Fee:    callFeeMultiple[WithdrawEarly] * minFee,
			AppID:  input.MarketplaceID,
			Method: methodEndActive,
			// group index of the key deregistration
			Args:        []any{uint64(0)},
			ForeignApps: []uint64{contract.ValidatorAdID, contract.ContractID},
		},
	}, nil
}

// withdrawEarningsOps claims the ad's earnings.  The noticeboard pays out to the ad's owner, who has to sign.
func withdrawEarningsOps(input PlanInput, minFee uint64) []ledger.Op {
	return []ledger.Op{{
		Kind:        ledger.OpAppCall,
		Sender:      input.Terms.Owner,
		Fee:         callFeeMultiple[WithdrawEarnings] * minFee,
		AppID:       input.MarketplaceID,
		Method:      methodWithdrawEarnings,
		ForeignApps: []uint64{input.Terms.AdID},
	}}
}

func reportBreachOps(input PlanInput, minFee uint64) ([]ledger.Op, error) {
	contract := input.Contract
	if _, err := decodeAccount("caller", input.Caller); err != nil {
		return nil, err
	}
	return []ledger.Op{{
		Kind:            ledger.OpAppCall,
		Sender:          input.Caller,
		Fee:             callFeeMultiple[ReportBreach] * minFee,
		AppID:           contract.ContractID,
		Method:          methodStakeLimitBreach,
		ForeignAccounts: []string{contract.Delegator},
	}}, nil
}

// accountOps pays out the caller's marketplace balance or deposit.  A deposit is only released once the
// caller neither runs an ad nor holds a contract.
func accountOps(action ActionKind, input PlanInput, minFee uint64) ([]ledger.Op, error) {
	if _, err := decodeAccount("caller", input.Caller); err != nil {
		return nil, err
	}
	profile := input.Profile
	if profile == nil {
		return nil, fmt.Errorf("%s needs the caller's marketplace profile", action)
	}
	if !profile.OptedIn {
		return nil, fmt.Errorf("%w: %s isn't opted into marketplace %d", ErrIllegalTransition, input.Caller, input.MarketplaceID)
	}

	var method string
	switch action {
	case WithdrawBalance:
		if profile.Balance == 0 {
			return nil, fmt.Errorf("%w: %s has no balance to withdraw", ErrIllegalTransition, input.Caller)
		}
		method = methodWithdrawBalance
	case WithdrawDeposit:
		if profile.ValidatorAdID != 0 || profile.ContractID != 0 {
			return nil, fmt.Errorf("%w: %s still has ad %d / contract %d, the deposit stays locked",
				ErrIllegalTransition, input.Caller, profile.ValidatorAdID, profile.ContractID)
		}
		if profile.Deposit == 0 {
			return nil, fmt.Errorf("%w: %s has no deposit to withdraw", ErrIllegalTransition, input.Caller)
		}
		method = methodWithdrawDeposit
	default:
		return nil, fmt.Errorf("%w: %s isn't an account action", ErrIllegalTransition, action)
	}
	return []ledger.Op{{
		Kind:   ledger.OpAppCall,
		Sender: input.Caller,
		Fee:    callFeeMultiple[action] * minFee,
		AppID:  input.MarketplaceID,
		Method: method,
	}}, nil
}
