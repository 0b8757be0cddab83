package lifecycle

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/market"
)

const (
	testMarketplaceID = 10
	testAdID          = 20
	testContractID    = 30
)

var (
	delegatorAddr = types.Address{1}.String()
	managerAddr   = types.Address{2}.String()
	ownerAddr     = types.Address{3}.String()
	otherAddr     = types.Address{4}.String()
)

func testKeys() *market.ParticipationKeys {
	return &market.ParticipationKeys{
		VoteKey:         bytes.Repeat([]byte{1}, market.VoteKeySize),
		SelectionKey:    bytes.Repeat([]byte{2}, market.SelectionKeySize),
		StateProofKey:   bytes.Repeat([]byte{3}, market.StateProofKeySize),
		VoteKeyDilution: 32,
	}
}

func testTerms() *market.ValidatorTerms {
	return &market.ValidatorTerms{
		AdID:          testAdID,
		MarketplaceID: testMarketplaceID,
		Owner:         ownerAddr,
		Manager:       managerAddr,
		Man: market.ManTerms{
			MinAmount:          1_000_000,
			MaxAmount:          100_000_000,
			FeeSetup:           50_000,
			FeeRound:           10,
			Deposit:            200_000,
			SetupRounds:        100,
			ConfirmationRounds: 100,
			MaxBreach:          3,
			BreachRounds:       50,
		},
		MaxDelegatorCount: 4,
		DelegatorCount:    1,
		EarnFactor:        33,
		Live:              true,
	}
}

// testContract is the 100-1100 contract w/ 100 setup and 100 confirmation rounds.
func testContract() *market.DelegationContract {
	return &market.DelegationContract{
		ContractID:    testContractID,
		ValidatorAdID: testAdID,
		MarketplaceID: testMarketplaceID,
		Delegator:     delegatorAddr,
		Man:           testTerms().Man,
		RoundStart:    100,
		RoundEnd:      1100,
	}
}

func deposited(c *market.DelegationContract) *market.DelegationContract {
	c.KeysDeposited = true
	c.Keys = testKeys()
	return c
}

func confirmed(c *market.DelegationContract) *market.DelegationContract {
	c = deposited(c)
	c.KeysConfirmed = true
	return c
}

// contractIn returns a contract and round at which it's in status.
func contractIn(status Status) (*market.DelegationContract, uint64) {
	switch status {
	case AwaitingKeyDeposit:
		return testContract(), 150
	case SetupOverdue:
		return testContract(), 200
	case AwaitingConfirmation:
		return deposited(testContract()), 250
	case ConfirmationOverdue:
		return deposited(testContract()), 300
	case Live:
		return confirmed(testContract()), 500
	case Expired:
		return confirmed(testContract()), 1100
	}
	return nil, 150
}

func allStatuses() []Status {
	return []Status{None, AwaitingKeyDeposit, SetupOverdue, AwaitingConfirmation, ConfirmationOverdue, Live, Expired}
}

func allRoles() []Role {
	return []Role{Delegator, ValidatorManager, AnyParty, MarketplaceManager}
}

func planInput(contract *market.DelegationContract, round uint64) PlanInput {
	return PlanInput{
		Contract:      contract,
		Terms:         testTerms(),
		MarketplaceID: testMarketplaceID,
		Round:         round,
		MinFee:        1000,
		Caller:        otherAddr,
		Profile:       &market.UserProfile{Account: otherAddr, OptedIn: true, Deposit: 200_000, Balance: 5_000},
		Keys:          testKeys(),
	}
}

func breached(c *market.DelegationContract) *market.DelegationContract {
	c = confirmed(c)
	c.BreachCount = c.Man.MaxBreach
	c.LastBreachRound = 400
	c.Breached = true
	return c
}

func TestStatusAt(t *testing.T) {
	tests := []struct {
		name     string
		contract *market.DelegationContract
		round    uint64
		want     Status
	}{
		{"no contract", nil, 150, None},
		{"before start", testContract(), 50, AwaitingKeyDeposit},
		{"awaiting keys", testContract(), 150, AwaitingKeyDeposit},
		{"last setup round", testContract(), 199, AwaitingKeyDeposit},
		{"setup deadline", testContract(), 200, SetupOverdue},
		{"long after setup deadline", testContract(), 5000, SetupOverdue},
		{"deposited before deadline", deposited(testContract()), 150, AwaitingConfirmation},
		{"last confirmation round", deposited(testContract()), 299, AwaitingConfirmation},
		{"confirmation deadline", deposited(testContract()), 300, ConfirmationOverdue},
		{"live", confirmed(testContract()), 500, Live},
		{"last live round", confirmed(testContract()), 1099, Live},
		{"end round", confirmed(testContract()), 1100, Expired},
		{"after end", confirmed(testContract()), 2000, Expired},
		{"breached", breached(testContract()), 500, Live},
		{"breached at end round", breached(testContract()), 1100, Expired},
		{"setup rounds past the last round", func() *market.DelegationContract {
			c := testContract()
			c.Man.SetupRounds = math.MaxUint64
			return c
		}(), 5000, AwaitingKeyDeposit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusAt(tt.contract, tt.round))
		})
	}
}

func TestBreachedContractCanBeEndedByAnyone(t *testing.T) {
	contract := breached(testContract())
	require.Equal(t, Live, StatusAt(contract, 500))

	for _, role := range allRoles() {
		actions := LegalActionsFor(contract, testTerms(), role, 500)
		assert.Contains(t, actions, TerminateExpired, role.String())
		assert.NotContains(t, actions, ReportBreach, role.String())
		assert.True(t, IsLegalOn(TerminateExpired, contract, Live, role))

		plan, err := BuildPlan(TerminateExpired, role, planInput(contract, 500))
		require.NoError(t, err, role.String())
		assert.Equal(t, otherAddr, plan.Ops[0].Sender)
	}
	assert.Contains(t, LegalActionsFor(contract, testTerms(), Delegator, 500), WithdrawEarly)
	_, err := BuildPlan(ReportBreach, AnyParty, planInput(contract, 500))
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// an unbreached live contract can't be ended by a third party
	live, round := contractIn(Live)
	assert.NotContains(t, LegalActionsFor(live, testTerms(), AnyParty, round), TerminateExpired)
	_, err = BuildPlan(TerminateExpired, AnyParty, planInput(live, round))
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStatusAtIsDeterministic(t *testing.T) {
	contract := deposited(testContract())
	first := StatusAt(contract, 299)
	for range 10 {
		assert.Equal(t, first, StatusAt(contract, 299))
	}
}

func TestOverdueSetupScenario(t *testing.T) {
	contract := testContract()

	assert.Equal(t, AwaitingKeyDeposit, StatusAt(contract, 150))
	assert.NotContains(t, LegalActions(StatusAt(contract, 150), Delegator), RefundOverdueSetup)

	status := StatusAt(contract, 200)
	require.Equal(t, SetupOverdue, status)
	assert.Contains(t, LegalActions(status, Delegator), RefundOverdueSetup)
	assert.NotContains(t, LegalActions(status, ValidatorManager), RefundOverdueSetup)

	_, err := BuildPlan(RefundOverdueSetup, ValidatorManager, planInput(contract, 200))
	assert.ErrorIs(t, err, ErrIllegalTransition)
	plan, err := BuildPlan(RefundOverdueSetup, Delegator, planInput(contract, 200))
	require.NoError(t, err)
	assert.Equal(t, delegatorAddr, plan.Ops[0].Sender)
}

func TestLegalActionsArePlannable(t *testing.T) {
	type state struct {
		name     string
		contract *market.DelegationContract
		round    uint64
	}
	var states []state
	for _, status := range allStatuses() {
		contract, round := contractIn(status)
		require.Equal(t, status, StatusAt(contract, round))
		states = append(states, state{status.String(), contract, round})
	}
	states = append(states, state{"BreachedLive", breached(testContract()), 500})

	for _, st := range states {
		for _, role := range allRoles() {
			contract, round := st.contract, st.round
			for _, action := range LegalActionsFor(contract, testTerms(), role, round) {
				t.Run(st.name+"/"+role.String()+"/"+action.String(), func(t *testing.T) {
					plan, err := BuildPlan(action, role, planInput(contract, round))
					require.NoError(t, err)
					assert.NotEmpty(t, plan.Ops)
					assert.Equal(t, action, plan.Action)
				})
			}
		}
	}
}

func TestIllegalActionsAreRejected(t *testing.T) {
	for _, status := range allStatuses() {
		for _, role := range allRoles() {
			contract, round := contractIn(status)
			legal := LegalActions(status, role)
			for _, action := range AllActions() {
				if IsLegal(action, status, role) {
					if !action.AccountLevel() {
						assert.Contains(t, legal, action)
					}
					continue
				}
				_, err := BuildPlan(action, role, planInput(contract, round))
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s as %s while %s", action, role, status)
			}
		}
	}
}

func TestAnyPartyActionsAreOpenToEveryRole(t *testing.T) {
	for _, status := range allStatuses() {
		anyParty := LegalActions(status, AnyParty)
		for _, role := range allRoles() {
			assert.Subset(t, LegalActions(status, role), anyParty, "%s while %s", role, status)
		}
		// the marketplace manager has no contract actions of its own
		assert.Equal(t, anyParty, LegalActions(status, MarketplaceManager))
	}
	assert.True(t, IsLegal(TerminateExpired, Expired, Delegator))
	assert.True(t, IsLegal(TerminateExpired, Expired, ValidatorManager))
	assert.True(t, IsLegal(ReportBreach, Live, Delegator))
	assert.False(t, IsLegal(DepositKeys, AwaitingKeyDeposit, AnyParty))
	assert.False(t, IsLegal(ConfirmKeys, AwaitingConfirmation, ValidatorManager))
}

func TestWithdrawEarningsIsAlwaysLegal(t *testing.T) {
	for _, status := range allStatuses() {
		assert.Contains(t, LegalActions(status, ValidatorManager), WithdrawEarnings)
	}
}

func TestOuterCallFees(t *testing.T) {
	tests := []struct {
		action ActionKind
		role   Role
		status Status
		fee    uint64
		ops    int
	}{
		{CreateContract, Delegator, None, 5000, 4},
		{DepositKeys, ValidatorManager, AwaitingKeyDeposit, 3000, 1},
		{ConfirmKeys, Delegator, AwaitingConfirmation, 3000, 3},
		{RefundOverdueSetup, Delegator, SetupOverdue, 4000, 1},
		{CancelUnconfirmed, ValidatorManager, ConfirmationOverdue, 4000, 1},
		{TerminateExpired, AnyParty, Expired, 4000, 1},
		{WithdrawEarly, Delegator, Live, 4000, 2},
		{WithdrawEarnings, ValidatorManager, Live, 3000, 1},
		{ReportBreach, AnyParty, Live, 1000, 1},
		{WithdrawBalance, Delegator, None, 2000, 1},
		{WithdrawDeposit, ValidatorManager, None, 2000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			contract, round := contractIn(tt.status)
			plan, err := BuildPlan(tt.action, tt.role, planInput(contract, round))
			require.NoError(t, err)
			require.Len(t, plan.Ops, tt.ops)
			outer := plan.Ops[len(plan.Ops)-1]
			assert.Equal(t, ledger.OpAppCall, outer.Kind)
			assert.Equal(t, tt.fee, outer.Fee)
			for _, op := range plan.Ops[:len(plan.Ops)-1] {
				assert.Equal(t, uint64(1000), op.Fee)
			}
		})
	}
}

func TestFeesScaleWithMinFee(t *testing.T) {
	contract, round := contractIn(Expired)
	input := planInput(contract, round)
	input.MinFee = 2000
	plan, err := BuildPlan(TerminateExpired, AnyParty, input)
	require.NoError(t, err)
	assert.Equal(t, uint64(8000), plan.Fee())

	// below the protocol minimum
	input.MinFee = 0
	plan, err = BuildPlan(TerminateExpired, AnyParty, input)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), plan.Fee())
}

func TestConfirmKeysPlan(t *testing.T) {
	contract, round := contractIn(AwaitingConfirmation)
	plan, err := BuildPlan(ConfirmKeys, Delegator, planInput(contract, round))
	require.NoError(t, err)
	require.Len(t, plan.Ops, 3)

	keyreg, payment, call := plan.Ops[0], plan.Ops[1], plan.Ops[2]
	assert.Equal(t, ledger.OpKeyReg, keyreg.Kind)
	assert.False(t, keyreg.KeyReg.Offline())
	assert.Equal(t, contract.Keys.VoteKey, keyreg.KeyReg.VoteKey)
	assert.Equal(t, uint64(100), keyreg.KeyReg.VoteFirst)
	assert.Equal(t, uint64(1100), keyreg.KeyReg.VoteLast)
	assert.Equal(t, uint64(32), keyreg.KeyReg.KeyDilution)

	assert.Equal(t, ledger.OpPayment, payment.Kind)
	assert.Equal(t, uint64(10*1000), payment.Amount)
	assert.Equal(t, appAddress(testMarketplaceID), payment.Receiver)

	assert.Equal(t, ledger.OpAppCall, call.Kind)
	assert.Equal(t, uint64(testMarketplaceID), call.AppID)
	assert.Equal(t, []any{uint64(0), ledger.OpRef(1)}, call.Args)
	for _, op := range plan.Ops {
		assert.Equal(t, delegatorAddr, op.Sender)
	}
	assert.Equal(t, uint64(testContractID), plan.LockID())
}

func TestConfirmKeysNeedsDepositedKeys(t *testing.T) {
	contract, round := contractIn(AwaitingConfirmation)
	contract.Keys = nil
	_, err := BuildPlan(ConfirmKeys, Delegator, planInput(contract, round))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIllegalTransition)
}

func TestCreateContractPlan(t *testing.T) {
	input := planInput(nil, 150)
	input.Caller = delegatorAddr
	plan, err := BuildPlan(CreateContract, Delegator, input)
	require.NoError(t, err)
	require.Len(t, plan.Ops, 4)

	terms := testTerms()
	assert.Equal(t, terms.Man.Deposit, plan.Ops[0].Amount)
	assert.Equal(t, terms.Man.FeeSetup, plan.Ops[1].Amount)
	assert.Equal(t, uint64(market.MbrDelegatorContractCreation), plan.Ops[2].Amount)
	assert.Equal(t, appAddress(testMarketplaceID), plan.Ops[0].Receiver)
	assert.Equal(t, appAddress(testMarketplaceID), plan.Ops[1].Receiver)
	assert.Equal(t, appAddress(testAdID), plan.Ops[2].Receiver)

	call := plan.Ops[3]
	assert.Equal(t, []any{uint64(testAdID), ledger.OpRef(0), ledger.OpRef(1), ledger.OpRef(2), uint64(170), uint64(1170)}, call.Args)
	assert.Equal(t, []uint64{testAdID}, call.ForeignApps)
	assert.Zero(t, plan.ContractID)
	assert.Equal(t, uint64(testAdID), plan.LockID())
}

func TestCreateContractOptsInFirst(t *testing.T) {
	input := planInput(nil, 150)
	input.Caller = delegatorAddr
	input.Profile = &market.UserProfile{Account: delegatorAddr}
	plan, err := BuildPlan(CreateContract, Delegator, input)
	require.NoError(t, err)
	require.Len(t, plan.Ops, 5)

	optIn := plan.Ops[0]
	assert.Equal(t, ledger.OpAppCall, optIn.Kind)
	assert.Equal(t, types.OptInOC, optIn.OnComplete)
	assert.Equal(t, methodUserOptIn, optIn.Method)
	assert.Equal(t, uint64(testMarketplaceID), optIn.AppID)
	assert.Equal(t, delegatorAddr, optIn.Sender)
	assert.Equal(t, uint64(1000), optIn.Fee)

	for _, op := range plan.Ops[1:4] {
		assert.Equal(t, ledger.OpPayment, op.Kind)
	}
	call := plan.Ops[4]
	assert.Equal(t, types.NoOpOC, call.OnComplete)
	assert.Equal(t, methodCreateContract, call.Method)
	assert.Equal(t, []any{uint64(testAdID), ledger.OpRef(1), ledger.OpRef(2), ledger.OpRef(3), uint64(170), uint64(1170)}, call.Args)
	assert.Equal(t, uint64(5000+4*1000), plan.Fee())
}

func TestCreateContractRejections(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*PlanInput)
		illegal bool
	}{
		{"ad not live", func(in *PlanInput) { in.Terms.Live = false }, true},
		{"ad full", func(in *PlanInput) { in.Terms.DelegatorCount = in.Terms.MaxDelegatorCount }, true},
		{"marketplace paused", func(in *PlanInput) { in.Marketplace = &market.MarketplaceInfo{AppID: testMarketplaceID} }, true},
		{"ends before start", func(in *PlanInput) { in.RoundStart, in.RoundEnd = 500, 400 }, false},
		{"starts in the past", func(in *PlanInput) { in.RoundStart = 100 }, false},
		{"bad caller", func(in *PlanInput) { in.Caller = "nope" }, false},
		{"caller runs an ad", func(in *PlanInput) { in.Profile.ValidatorAdID = 55 }, true},
		{"caller holds a contract", func(in *PlanInput) { in.Profile.ValidatorAdID, in.Profile.ContractID = 55, 101 }, true},
		{"profile unknown", func(in *PlanInput) { in.Profile = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := planInput(nil, 150)
			tt.modify(&input)
			_, err := BuildPlan(CreateContract, Delegator, input)
			require.Error(t, err)
			assert.Equal(t, tt.illegal, errors.Is(err, ErrIllegalTransition))
		})
	}
}

func TestLegalActionsForHidesUnavailableAds(t *testing.T) {
	terms := testTerms()
	assert.Equal(t, []ActionKind{CreateContract}, LegalActionsFor(nil, terms, Delegator, 150))
	terms.Live = false
	assert.Empty(t, LegalActionsFor(nil, terms, Delegator, 150))
	assert.Empty(t, LegalActionsFor(nil, nil, Delegator, 150))
}

func TestDepositKeysPlan(t *testing.T) {
	contract, round := contractIn(AwaitingKeyDeposit)
	plan, err := BuildPlan(DepositKeys, ValidatorManager, planInput(contract, round))
	require.NoError(t, err)
	require.Len(t, plan.Ops, 1)
	call := plan.Ops[0]
	assert.Equal(t, managerAddr, call.Sender)
	require.Len(t, call.Args, 7)
	assert.Equal(t, types.Address{1}, call.Args[0])
	assert.Equal(t, testKeys().SelectionKey, call.Args[1])
	assert.Equal(t, testKeys().VoteKey, call.Args[2])
	assert.Equal(t, []string{delegatorAddr}, call.ForeignAccounts)
	assert.Equal(t, []uint64{testAdID, testContractID}, call.ForeignApps)

	input := planInput(contract, round)
	input.Keys.StateProofKey = input.Keys.StateProofKey[:10]
	_, err = BuildPlan(DepositKeys, ValidatorManager, input)
	assert.ErrorContains(t, err, "state proof key")
}

func TestWithdrawEarlyDeregistersFirst(t *testing.T) {
	contract, round := contractIn(Live)
	plan, err := BuildPlan(WithdrawEarly, Delegator, planInput(contract, round))
	require.NoError(t, err)
	require.Len(t, plan.Ops, 2)
	assert.Equal(t, ledger.OpKeyReg, plan.Ops[0].Kind)
	assert.True(t, plan.Ops[0].KeyReg.Offline())
	assert.Equal(t, []any{uint64(0)}, plan.Ops[1].Args)
}

func TestSendersByRole(t *testing.T) {
	tests := []struct {
		action ActionKind
		role   Role
		status Status
		sender string
	}{
		{CancelUnconfirmed, ValidatorManager, ConfirmationOverdue, managerAddr},
		{TerminateExpired, AnyParty, Expired, otherAddr},
		{WithdrawEarnings, ValidatorManager, None, ownerAddr},
		{ReportBreach, AnyParty, Live, otherAddr},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			contract, round := contractIn(tt.status)
			plan, err := BuildPlan(tt.action, tt.role, planInput(contract, round))
			require.NoError(t, err)
			assert.Equal(t, tt.sender, plan.Ops[len(plan.Ops)-1].Sender)
		})
	}
}

func TestReportBreachTargetsContractApp(t *testing.T) {
	contract, round := contractIn(Live)
	plan, err := BuildPlan(ReportBreach, AnyParty, planInput(contract, round))
	require.NoError(t, err)
	assert.Equal(t, uint64(testContractID), plan.Ops[0].AppID)
	assert.Equal(t, []string{delegatorAddr}, plan.Ops[0].ForeignAccounts)
}

func TestPlanRejectsMismatchedAd(t *testing.T) {
	contract, round := contractIn(Live)
	contract.ValidatorAdID = 99
	_, err := BuildPlan(WithdrawEarly, Delegator, planInput(contract, round))
	assert.ErrorContains(t, err, "under ad 99")
}

func TestRolesFor(t *testing.T) {
	contract := testContract()
	terms := testTerms()
	marketplace := &market.MarketplaceInfo{Manager: otherAddr}

	assert.Equal(t, []Role{Delegator, AnyParty}, RolesFor(delegatorAddr, contract, terms, marketplace))
	assert.Equal(t, []Role{ValidatorManager, AnyParty}, RolesFor(managerAddr, contract, terms, marketplace))
	assert.Equal(t, []Role{ValidatorManager, AnyParty}, RolesFor(ownerAddr, contract, terms, nil))
	assert.Equal(t, []Role{AnyParty, MarketplaceManager}, RolesFor(otherAddr, contract, terms, marketplace))
	assert.Equal(t, []Role{Delegator, AnyParty}, RolesFor(otherAddr, nil, nil, nil))

	role, ok := RoleForAction(TerminateExpired, confirmed(testContract()), Expired, RolesFor(delegatorAddr, contract, terms, nil))
	assert.True(t, ok)
	assert.Equal(t, Delegator, role)
	role, ok = RoleForAction(TerminateExpired, breached(testContract()), Live, []Role{AnyParty})
	assert.True(t, ok)
	assert.Equal(t, AnyParty, role)
	_, ok = RoleForAction(DepositKeys, contract, AwaitingKeyDeposit, RolesFor(delegatorAddr, contract, terms, nil))
	assert.False(t, ok)
}

func TestAccountActions(t *testing.T) {
	tests := []struct {
		name    string
		action  ActionKind
		profile *market.UserProfile
		method  string
		illegal bool
		fails   bool
	}{
		{"withdraw balance", WithdrawBalance, &market.UserProfile{OptedIn: true, Balance: 5_000}, methodWithdrawBalance, false, false},
		{"withdraw balance while contracted", WithdrawBalance, &market.UserProfile{OptedIn: true, ValidatorAdID: 55, ContractID: 101, Balance: 5_000}, methodWithdrawBalance, false, false},
		{"no balance", WithdrawBalance, &market.UserProfile{OptedIn: true, Deposit: 200_000}, "", true, false},
		{"withdraw deposit", WithdrawDeposit, &market.UserProfile{OptedIn: true, Deposit: 200_000}, methodWithdrawDeposit, false, false},
		{"deposit locked by ad", WithdrawDeposit, &market.UserProfile{OptedIn: true, ValidatorAdID: 55, Deposit: 200_000}, "", true, false},
		{"deposit locked by contract", WithdrawDeposit, &market.UserProfile{OptedIn: true, ContractID: 101, Deposit: 200_000}, "", true, false},
		{"no deposit", WithdrawDeposit, &market.UserProfile{OptedIn: true}, "", true, false},
		{"not opted in", WithdrawBalance, &market.UserProfile{}, "", true, false},
		{"profile unknown", WithdrawDeposit, nil, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := planInput(nil, 150)
			input.Terms = nil
			input.Profile = tt.profile
			plan, err := BuildPlan(tt.action, Delegator, input)
			if tt.illegal || tt.fails {
				require.Error(t, err)
				assert.Equal(t, tt.illegal, errors.Is(err, ErrIllegalTransition))
				return
			}
			require.NoError(t, err)
			require.Len(t, plan.Ops, 1)
			call := plan.Ops[0]
			assert.Equal(t, tt.method, call.Method)
			assert.Equal(t, otherAddr, call.Sender)
			assert.Equal(t, uint64(testMarketplaceID), call.AppID)
			assert.Equal(t, uint64(2000), call.Fee)
			assert.Zero(t, plan.AdID)
			assert.Equal(t, uint64(testMarketplaceID), plan.LockID())
		})
	}
}

func TestAccountActionsArentListedOnContracts(t *testing.T) {
	for _, status := range allStatuses() {
		for _, role := range allRoles() {
			assert.NotContains(t, LegalActions(status, role), WithdrawBalance)
			assert.NotContains(t, LegalActions(status, role), WithdrawDeposit)
		}
	}
	assert.True(t, WithdrawBalance.AccountLevel())
	assert.False(t, WithdrawEarnings.AccountLevel())
}

func TestParseNames(t *testing.T) {
	for _, action := range AllActions() {
		parsed, err := ParseActionKind(action.String())
		require.NoError(t, err)
		assert.Equal(t, action, parsed)
	}
	action, err := ParseActionKind("confirmkeys")
	require.NoError(t, err)
	assert.Equal(t, ConfirmKeys, action)
	_, err = ParseActionKind("steal")
	assert.Error(t, err)

	role, err := ParseRole("validatormanager")
	require.NoError(t, err)
	assert.Equal(t, ValidatorManager, role)
	_, err = ParseRole("admin")
	assert.Error(t, err)
}
