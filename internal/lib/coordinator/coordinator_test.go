package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoprotect/delegation/internal/lib/executor"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/ledger/ledgertest"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

const (
	marketplaceID = 10
	adID          = 20
	contractID    = 30
	newContractID = 40
)

var (
	delegatorAddr    = types.Address{1}.String()
	managerAddr      = types.Address{2}.String()
	ownerAddr        = types.Address{3}.String()
	newDelegatorAddr = types.Address{5}.String()
)

func testAd(contractIDs ...uint64) *market.ValidatorTerms {
	return &market.ValidatorTerms{
		AdID:          adID,
		MarketplaceID: marketplaceID,
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
		DelegatorCount:    uint64(len(contractIDs)),
		EarnFactor:        33,
		Live:              true,
		ContractIDs:       contractIDs,
	}
}

func testContract(id uint64, delegator string) *market.DelegationContract {
	return &market.DelegationContract{
		ContractID:    id,
		ValidatorAdID: adID,
		MarketplaceID: marketplaceID,
		Delegator:     delegator,
		Man:           testAd().Man,
		RoundStart:    100,
		RoundEnd:      1100,
	}
}

func setup(t *testing.T) (*Coordinator, *ledgertest.Fake) {
	fake := ledgertest.New()
	fake.SetRound(150)
	require.NoError(t, fake.PutMarketplace(&market.MarketplaceInfo{AppID: marketplaceID, EarnFactor: 33, Manager: ownerAddr, Live: true}, []uint64{adID}))
	require.NoError(t, fake.PutAd(testAd(contractID)))
	require.NoError(t, fake.PutContract(testContract(contractID, delegatorAddr)))
	fake.PutProfile(delegatorAddr, marketplaceID, adID, contractID)

	coord := New(slog.Default(), fake, marketplaceID)
	return coord, fake
}

func lastGroup(fake *ledgertest.Fake) []ledger.Op {
	fake.Lock()
	defer fake.Unlock()
	return fake.Submitted[len(fake.Submitted)-1]
}

func lastMethod(fake *ledgertest.Fake) string {
	group := lastGroup(fake)
	return group[len(group)-1].Method
}

// liveContract is testContract w/ keys deposited and confirmed.
func liveContract(id uint64, delegator string) *market.DelegationContract {
	contract := testContract(id, delegator)
	contract.KeysDeposited = true
	contract.KeysConfirmed = true
	contract.Keys = &market.ParticipationKeys{
		VoteKey:         make([]byte, market.VoteKeySize),
		SelectionKey:    make([]byte, market.SelectionKeySize),
		StateProofKey:   make([]byte, market.StateProofKeySize),
		VoteKeyDilution: 32,
	}
	return contract
}

func TestStatusOfUntrackedContractIsStale(t *testing.T) {
	coord, _ := setup(t)
	_, err := coord.Status(contractID)
	assert.ErrorIs(t, err, reconcile.ErrStale)
	assert.Equal(t, Replan, Classify(err))
}

func TestLegalActionsFollowRounds(t *testing.T) {
	coord, fake := setup(t)
	_, err := coord.TrackContract(context.Background(), contractID)
	require.NoError(t, err)

	status, err := coord.Status(contractID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AwaitingKeyDeposit, status)
	actions, err := coord.LegalActions(contractID, lifecycle.Delegator)
	require.NoError(t, err)
	assert.Empty(t, actions)
	actions, err = coord.LegalActions(contractID, lifecycle.ValidatorManager)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.ActionKind{lifecycle.DepositKeys, lifecycle.WithdrawEarnings}, actions)

	fake.SetRound(200)
	_, err = coord.Loop().Tick(context.Background())
	require.NoError(t, err)

	status, err = coord.Status(contractID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SetupOverdue, status)
	actions, err = coord.LegalActions(contractID, lifecycle.Delegator)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.ActionKind{lifecycle.RefundOverdueSetup}, actions)
	actions, err = coord.LegalActions(contractID, lifecycle.ValidatorManager)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.ActionKind{lifecycle.WithdrawEarnings}, actions)
}

func TestPerformActionRefreshesAndNotifies(t *testing.T) {
	coord, fake := setup(t)
	fake.SetRound(200)
	_, err := coord.TrackContract(context.Background(), contractID)
	require.NoError(t, err)
	coord.SetAccount(delegatorAddr)

	profile, err := coord.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, market.ProfileDelegator, profile.Role)

	fake.SubmitFn = func(ctx context.Context, ops []ledger.Op) (*ledger.Receipt, error) {
		// the noticeboard ends the contract and frees the delegator
		fake.DeleteApp(contractID)
		if err := fake.PutAd(testAd()); err != nil {
			return nil, err
		}
		fake.PutProfile(delegatorAddr, marketplaceID, 0, 0)
		return &ledger.Receipt{ConfirmedRound: 201}, nil
	}
	var (
		mu     sync.Mutex
		events []reconcile.Event
	)
	coord.Subscribe(contractID, func(event reconcile.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})

	receipt, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
	require.NoError(t, err)
	assert.Equal(t, uint64(201), receipt.ConfirmedRound)
	assert.Equal(t, "keys_not_generated(address)void", lastMethod(fake))

	_, err = coord.Status(contractID)
	assert.ErrorIs(t, err, reconcile.ErrStale)
	mu.Lock()
	require.Len(t, events, 1)
	assert.True(t, events[0].Removed)
	mu.Unlock()

	terms, err := coord.Ad(adID)
	require.NoError(t, err)
	assert.Empty(t, terms.ContractIDs)

	profile, err = coord.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, market.ProfileNew, profile.Role)
}

func TestPerformActionWrongRoleIsIllegal(t *testing.T) {
	coord, fake := setup(t)
	fake.SetRound(200)
	coord.SetAccount(managerAddr)

	_, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Equal(t, Replan, Classify(err))
	assert.Zero(t, fake.SubmitCount())

	// forcing a role that's not legal doesn't help either
	_, err = coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup, AsRole(lifecycle.ValidatorManager))
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestPerformActionRejectsAdActions(t *testing.T) {
	coord, _ := setup(t)
	coord.SetAccount(ownerAddr)
	_, err := coord.PerformAction(context.Background(), contractID, lifecycle.WithdrawEarnings)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestPerformActionNeedsAccount(t *testing.T) {
	coord, _ := setup(t)
	_, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
	assert.ErrorIs(t, err, ErrNoAccount)
	_, err = coord.Profile(context.Background())
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestConcurrentPerformIsBusy(t *testing.T) {
	coord, fake := setup(t)
	fake.SetRound(200)
	coord.SetAccount(delegatorAddr)

	started := make(chan struct{})
	release := make(chan struct{})
	fake.SubmitFn = func(ctx context.Context, ops []ledger.Op) (*ledger.Receipt, error) {
		close(started)
		<-release
		return &ledger.Receipt{ConfirmedRound: 201}, nil
	}
	done := make(chan error)
	go func() {
		_, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
		done <- err
	}()
	<-started

	_, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
	assert.ErrorIs(t, err, executor.ErrBusy)
	assert.Equal(t, Transient, Classify(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fake.SubmitCount())
}

func TestSubmissionFailureIsReturnedUnmodified(t *testing.T) {
	coord, fake := setup(t)
	fake.SetRound(200)
	coord.SetAccount(delegatorAddr)
	rejection := &ledger.SubmissionError{Reason: "overspend"}
	fake.SubmitFn = func(context.Context, []ledger.Op) (*ledger.Receipt, error) {
		return nil, rejection
	}
	_, err := coord.PerformAction(context.Background(), contractID, lifecycle.RefundOverdueSetup)
	assert.Same(t, rejection, err)
	assert.Equal(t, Replan, Classify(err))

	// no retry
	assert.Equal(t, 1, fake.SubmitCount())
}

func TestCreateContract(t *testing.T) {
	coord, fake := setup(t)
	coord.SetAccount(newDelegatorAddr)

	fake.SubmitFn = func(ctx context.Context, ops []ledger.Op) (*ledger.Receipt, error) {
		created := testContract(newContractID, newDelegatorAddr)
		created.RoundStart, created.RoundEnd = 170, 1170
		if err := fake.PutContract(created); err != nil {
			return nil, err
		}
		if err := fake.PutAd(testAd(contractID, newContractID)); err != nil {
			return nil, err
		}
		return &ledger.Receipt{ConfirmedRound: 151}, nil
	}
	_, err := coord.CreateContract(context.Background(), adID)
	require.NoError(t, err)
	assert.Equal(t, "create_delegator_contract(uint64,pay,pay,pay,uint64,uint64)void", lastMethod(fake))

	// a new account opts into the marketplace in the same group
	group := lastGroup(fake)
	require.Len(t, group, 5)
	assert.Equal(t, "user_opt_in()void", group[0].Method)
	assert.Equal(t, types.OptInOC, group[0].OnComplete)
	assert.Equal(t, uint64(marketplaceID), group[0].AppID)
	assert.Equal(t, []any{uint64(adID), ledger.OpRef(1), ledger.OpRef(2), ledger.OpRef(3), uint64(170), uint64(1170)}, group[4].Args)

	// picked up through the ad's contract list
	status, err := coord.Status(newContractID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AwaitingKeyDeposit, status)
	assert.True(t, coord.Loop().IsTracked(newContractID))
}

func TestCreateContractByProfileState(t *testing.T) {
	testCases := []struct {
		name    string
		account string
		adID    uint64
		ops     int
		illegal bool
	}{
		{"opted in, no role", newDelegatorAddr, 0, 4, false},
		{"already a delegator", delegatorAddr, adID, 0, true},
		{"runs an ad", newDelegatorAddr, 77, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			coord, fake := setup(t)
			if tc.account == newDelegatorAddr {
				fake.PutProfile(newDelegatorAddr, marketplaceID, tc.adID, 0)
			}
			coord.SetAccount(tc.account)

			plan, err := coord.Plan(context.Background(), 0, adID, lifecycle.CreateContract)
			if tc.illegal {
				assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
				_, err = coord.CreateContract(context.Background(), adID)
				assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
				assert.Zero(t, fake.SubmitCount())
				return
			}
			require.NoError(t, err)
			require.Len(t, plan.Ops, tc.ops)
			assert.Equal(t, ledger.OpPayment, plan.Ops[0].Kind)
		})
	}
}

func TestBreachReportsThenTermination(t *testing.T) {
	coord, fake := setup(t)
	require.NoError(t, fake.PutContract(liveContract(contractID, delegatorAddr)))
	// the delegator's balance is below the agreed minimum
	fake.Balances[delegatorAddr] = 10
	fake.SetRound(500)
	_, err := coord.TrackContract(context.Background(), contractID)
	require.NoError(t, err)
	coord.SetAccount(managerAddr)

	report := func(round uint64) error {
		fake.SetRound(round)
		_, err := coord.PerformAction(context.Background(), contractID, lifecycle.ReportBreach)
		return err
	}
	require.NoError(t, report(500))
	require.NoError(t, report(560))

	// within BreachRounds of the last one the contract rejects it
	err = report(560)
	var subErr *ledger.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, Replan, Classify(err))

	require.NoError(t, report(620))
	contract, err := coord.Contract(contractID)
	require.NoError(t, err)
	assert.True(t, contract.Breached)
	assert.Equal(t, uint64(3), contract.BreachCount)
	assert.Equal(t, uint64(621), contract.LastBreachRound)

	// still Live, but anyone can end it now
	status, err := coord.Status(contractID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Live, status)
	actions, err := coord.LegalActions(contractID, lifecycle.AnyParty)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.ActionKind{lifecycle.TerminateExpired}, actions)
	_, err = coord.PerformAction(context.Background(), contractID, lifecycle.ReportBreach)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	coord.SetAccount(newDelegatorAddr)
	_, err = coord.PerformAction(context.Background(), contractID, lifecycle.TerminateExpired)
	require.NoError(t, err)
	assert.Equal(t, "end_expired_or_breached_delegator_contract(address)void", lastMethod(fake))
	assert.Equal(t, newDelegatorAddr, lastGroup(fake)[0].Sender)
}

func TestWithdrawAccountFunds(t *testing.T) {
	coord, fake := setup(t)
	fake.PutProfile(newDelegatorAddr, marketplaceID, 0, 0)
	fake.PutFunds(newDelegatorAddr, marketplaceID, 200_000, 5_000)
	coord.SetAccount(newDelegatorAddr)

	_, err := coord.WithdrawBalance(context.Background())
	require.NoError(t, err)
	group := lastGroup(fake)
	require.Len(t, group, 1)
	assert.Equal(t, "withdraw_balance()uint64", group[0].Method)
	assert.Equal(t, uint64(2000), group[0].Fee)
	assert.Equal(t, newDelegatorAddr, group[0].Sender)
	assert.Equal(t, uint64(marketplaceID), group[0].AppID)

	_, err = coord.WithdrawDeposit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "withdraw_depoist()uint64", lastMethod(fake))

	// the delegator's deposit is held by its contract
	coord.SetAccount(delegatorAddr)
	fake.PutFunds(delegatorAddr, marketplaceID, 200_000, 0)
	_, err = coord.WithdrawDeposit(context.Background())
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	_, err = coord.WithdrawBalance(context.Background())
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Equal(t, 2, fake.SubmitCount())

	_, err = coord.PerformAction(context.Background(), contractID, lifecycle.WithdrawBalance)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestCreateContractOnFullAd(t *testing.T) {
	coord, fake := setup(t)
	full := testAd(contractID)
	full.MaxDelegatorCount = 1
	require.NoError(t, fake.PutAd(full))
	coord.SetAccount(newDelegatorAddr)

	_, err := coord.CreateContract(context.Background(), adID)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Zero(t, fake.SubmitCount())
}

func TestDryRunSimulates(t *testing.T) {
	coord, fake := setup(t)
	coord.SetAccount(ownerAddr)
	receipt, err := coord.WithdrawEarnings(context.Background(), adID, DryRun())
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Zero(t, fake.SubmitCount())
	assert.Len(t, fake.Simulated, 1)
}

func TestPlanDepositKeys(t *testing.T) {
	coord, _ := setup(t)
	coord.SetAccount(managerAddr)
	_, err := coord.Plan(context.Background(), contractID, 0, lifecycle.DepositKeys)
	require.Error(t, err, "keys are required")

	keys := &market.ParticipationKeys{
		VoteKey:         make([]byte, market.VoteKeySize),
		SelectionKey:    make([]byte, market.SelectionKeySize),
		StateProofKey:   make([]byte, market.StateProofKeySize),
		VoteKeyDilution: 32,
	}
	plan, err := coord.Plan(context.Background(), contractID, 0, lifecycle.DepositKeys, WithKeys(keys))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ValidatorManager, plan.Role)
	assert.Equal(t, managerAddr, plan.Ops[0].Sender)
}

func TestListAds(t *testing.T) {
	coord, fake := setup(t)
	ads, err := coord.ListAds(context.Background(), marketplaceID)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, uint64(adID), ads[0].AdID)

	// answered from the cache afterwards
	reads := fake.Reads
	_, err = coord.ListAds(context.Background(), marketplaceID)
	require.NoError(t, err)
	assert.Equal(t, reads, fake.Reads)
}

func TestProfileOfNewAccount(t *testing.T) {
	coord, _ := setup(t)
	coord.SetAccount(newDelegatorAddr)
	profile, err := coord.Profile(context.Background())
	require.NoError(t, err)
	assert.False(t, profile.OptedIn)
	assert.Equal(t, market.ProfileNew, profile.Role)

	coord.SetAccount(delegatorAddr)
	profile, err = coord.Profile(context.Background())
	require.NoError(t, err)
	assert.True(t, profile.OptedIn)
	assert.Equal(t, uint64(contractID), profile.ContractID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, NoError},
		{executor.ErrBusy, Transient},
		{context.DeadlineExceeded, Transient},
		{fmt.Errorf("tick: %w", reconcile.ErrTickAbandoned), Transient},
		{&ledger.SubmissionError{Reason: "rejected"}, Replan},
		{&ledger.SubmissionError{Reason: "timeout", Err: context.DeadlineExceeded}, Replan},
		{fmt.Errorf("plan: %w", lifecycle.ErrIllegalTransition), Replan},
		{fmt.Errorf("contract 1: %w", reconcile.ErrStale), Replan},
		{fmt.Errorf("read: %w", &market.DecodeError{Field: "x", Reason: "short"}), Terminal},
		{errors.New("something else"), Terminal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
