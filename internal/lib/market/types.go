package market

import (
	"fmt"
	"math"
	"strings"

	"github.com/igoprotect/delegation/internal/lib/algo"
)

// ManTerms are the mandatory terms of a validator ad, fixed into each contract at creation.
type ManTerms struct {
	HwCategory uint64
	// delegator balance must stay within [MinAmount, MaxAmount] while the contract is live
	MinAmount uint64
	MaxAmount uint64
	FeeSetup  uint64
	FeeRound  uint64
	Deposit   uint64
	// rounds after RoundStart the validator has to deposit keys
	SetupRounds uint64
	// rounds after the setup deadline the delegator has to confirm keys
	ConfirmationRounds uint64
	MaxBreach          uint64
	// breaches closer together than this are counted once
	BreachRounds    uint64
	UptimeGuarantee uint64
}

type ExtraTerms struct {
	Name string
	Link string
}

// MarketplaceInfo is the noticeboard's global state.
type MarketplaceInfo struct {
	AppID               uint64
	ValidatorDepositMin uint64
	DelegatorDepositMin uint64
	EarnFactor          uint64
	FactoryAppID        uint64
	Manager             string
	Live                bool
	// BlockedAmount is only set on deployments that track it
	BlockedAmount *uint64
}

// ValidatorTerms is a validator ad.
type ValidatorTerms struct {
	AdID          uint64
	MarketplaceID uint64
	Owner         string
	// Manager is the hot account the validator's node signs w/
	Manager           string
	Man               ManTerms
	Extra             ExtraTerms
	MaxDelegatorCount uint64
	DelegatorCount    uint64
	Earnings          uint64
	EarnFactor        uint64
	Deposit           uint64
	Live              bool
	// ContractIDs are the delegator contracts currently held by the ad (empty slots removed)
	ContractIDs []uint64
}

// AcceptsContracts reports whether a new contract may be opened against the ad.
func (v *ValidatorTerms) AcceptsContracts() bool {
	return v.Live && v.DelegatorCount < v.MaxDelegatorCount
}

func (v *ValidatorTerms) String() string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("Ad ID: %d\n", v.AdID))
	if v.Extra.Name != "" {
		out.WriteString(fmt.Sprintf("Name: %s\n", v.Extra.Name))
	}
	if v.Extra.Link != "" {
		out.WriteString(fmt.Sprintf("Link: %s\n", v.Extra.Link))
	}
	out.WriteString(fmt.Sprintf("Owner: %s\n", v.Owner))
	out.WriteString(fmt.Sprintf("Manager: %s\n", v.Manager))
	out.WriteString(fmt.Sprintf("Live: %t\n", v.Live))
	out.WriteString(fmt.Sprintf("Delegators: %d of %d\n", v.DelegatorCount, v.MaxDelegatorCount))
	out.WriteString(fmt.Sprintf("Balance range: %s - %s\n", algo.FormattedAlgoAmount(v.Man.MinAmount), algo.FormattedAlgoAmount(v.Man.MaxAmount)))
	out.WriteString(fmt.Sprintf("Setup fee: %s, per round fee: %s, deposit: %s\n",
		algo.FormattedAlgoAmount(v.Man.FeeSetup), algo.FormattedAlgoAmount(v.Man.FeeRound), algo.FormattedAlgoAmount(v.Man.Deposit)))
	out.WriteString(fmt.Sprintf("Setup rounds: %d, confirmation rounds: %d\n", v.Man.SetupRounds, v.Man.ConfirmationRounds))
	out.WriteString(fmt.Sprintf("Max breaches: %d (min %d rounds apart)\n", v.Man.MaxBreach, v.Man.BreachRounds))
	out.WriteString(fmt.Sprintf("Unclaimed earnings: %s\n", algo.FormattedAlgoAmount(v.Earnings)))

	return out.String()
}

// ParticipationKeys are the keys a validator deposits into a contract.
type ParticipationKeys struct {
	VoteKey         []byte
	SelectionKey    []byte
	StateProofKey   []byte
	VoteKeyDilution uint64
}

// DelegationContract is one delegator's agreement w/ a validator ad.
type DelegationContract struct {
	ContractID    uint64
	ValidatorAdID uint64
	MarketplaceID uint64
	Delegator     string
	// Man and Extra are the terms as of contract creation - later ad edits don't apply
	Man   ManTerms
	Extra ExtraTerms

	RoundStart    uint64
	RoundEnd      uint64
	KeysDeposited bool
	KeysConfirmed bool
	// Keys is nil until KeysDeposited
	Keys *ParticipationKeys

	BreachCount     uint64
	LastBreachRound uint64
	// Breached is set by the ledger once BreachCount reaches the ad's MaxBreach
	Breached bool
}

// Duration is the number of rounds the contract covers.
func (c *DelegationContract) Duration() uint64 {
	if c.RoundEnd <= c.RoundStart {
		return 0
	}
	return c.RoundEnd - c.RoundStart
}

// OperationalFee is the per-round fee for the whole window, paid by the delegator on confirmation.
func (c *DelegationContract) OperationalFee() uint64 {
	return c.Man.FeeRound * c.Duration()
}

// SetupDeadline is the first round at which undeposited keys make the contract overdue.
func (c *DelegationContract) SetupDeadline() uint64 {
	return addRounds(c.RoundStart, c.Man.SetupRounds)
}

// ConfirmationDeadline is the first round at which unconfirmed keys make the contract overdue.
func (c *DelegationContract) ConfirmationDeadline() uint64 {
	return addRounds(c.SetupDeadline(), c.Man.ConfirmationRounds)
}

// addRounds saturates at the last round instead of wrapping.
func addRounds(round, rounds uint64) uint64 {
	if rounds > math.MaxUint64-round {
		return math.MaxUint64
	}
	return round + rounds
}

func (c *DelegationContract) String() string {
	return fmt.Sprintf("Contract{ID: %d, Ad: %d, Delegator: %s, Rounds: %d-%d, Deposited: %t, Confirmed: %t, Breaches: %d}",
		c.ContractID, c.ValidatorAdID, c.Delegator, c.RoundStart, c.RoundEnd, c.KeysDeposited, c.KeysConfirmed, c.BreachCount)
}

type ProfileRole int

const (
	ProfileNew ProfileRole = iota
	ProfileValidatorOwner
	ProfileDelegator
)

func (r ProfileRole) String() string {
	switch r {
	case ProfileNew:
		return "new"
	case ProfileValidatorOwner:
		return "validator owner"
	case ProfileDelegator:
		return "delegator"
	}
	return fmt.Sprintf("ProfileRole(%d)", int(r))
}

// UserProfile is what the marketplace knows about an account.
type UserProfile struct {
	Account string
	OptedIn bool
	Role    ProfileRole
	// ValidatorAdID is the owned ad for a validator owner, or the contracted ad for a delegator
	ValidatorAdID uint64
	ContractID    uint64
	// Deposit and Balance are held by the noticeboard for the account, in microAlgo
	Deposit uint64
	Balance uint64
}
