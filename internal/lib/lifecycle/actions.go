package lifecycle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/igoprotect/delegation/internal/lib/market"
)

type Role int

const (
	Delegator Role = iota
	ValidatorManager
	AnyParty
	MarketplaceManager
)

var roleNames = []string{"Delegator", "ValidatorManager", "AnyParty", "MarketplaceManager"}

func (r Role) String() string {
	if int(r) >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

func ParseRole(name string) (Role, error) {
	for i, roleName := range roleNames {
		if strings.EqualFold(roleName, name) {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role:%s", name)
}

type ActionKind int

const (
	CreateContract ActionKind = iota
	DepositKeys
	ConfirmKeys
	RefundOverdueSetup
	CancelUnconfirmed
	TerminateExpired
	WithdrawEarly
	WithdrawEarnings
	ReportBreach
	WithdrawBalance
	WithdrawDeposit
)

var actionNames = []string{
	"CreateContract",
	"DepositKeys",
	"ConfirmKeys",
	"RefundOverdueSetup",
	"CancelUnconfirmed",
	"TerminateExpired",
	"WithdrawEarly",
	"WithdrawEarnings",
	"ReportBreach",
	"WithdrawBalance",
	"WithdrawDeposit",
}

func (a ActionKind) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("ActionKind(%d)", int(a))
}

func ParseActionKind(name string) (ActionKind, error) {
	for i, actionName := range actionNames {
		if strings.EqualFold(actionName, name) {
			return ActionKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action:%s", name)
}

// AllActions returns every action kind in declaration order.
func AllActions() []ActionKind {
	actions := make([]ActionKind, len(actionNames))
	for i := range actions {
		actions[i] = ActionKind(i)
	}
	return actions
}

type actionRule struct {
	role Role
	// anyStatus actions aren't tied to the contract's lifecycle
	anyStatus bool
	// account actions act on the caller's marketplace funds, not on a contract or ad
	account bool
	status  Status
}

var actionRules = map[ActionKind]actionRule{
	CreateContract:     {role: Delegator, status: None},
	DepositKeys:        {role: ValidatorManager, status: AwaitingKeyDeposit},
	ConfirmKeys:        {role: Delegator, status: AwaitingConfirmation},
	RefundOverdueSetup: {role: Delegator, status: SetupOverdue},
	CancelUnconfirmed:  {role: ValidatorManager, status: ConfirmationOverdue},
	TerminateExpired:   {role: AnyParty, status: Expired},
	WithdrawEarly:      {role: Delegator, status: Live},
	WithdrawEarnings:   {role: ValidatorManager, anyStatus: true},
	ReportBreach:       {role: AnyParty, status: Live},
	WithdrawBalance:    {role: AnyParty, anyStatus: true, account: true},
	WithdrawDeposit:    {role: AnyParty, anyStatus: true, account: true},
}

// AccountLevel reports whether the action moves the caller's own marketplace funds rather than acting on a
// contract or ad.
func (a ActionKind) AccountLevel() bool {
	return actionRules[a].account
}

// IsLegal reports whether role may take action while the contract is in status.  AnyParty actions are open
// to every role.
func IsLegal(action ActionKind, status Status, role Role) bool {
	rule, found := actionRules[action]
	if !found || (rule.role != role && rule.role != AnyParty) {
		return false
	}
	return rule.anyStatus || rule.status == status
}

// IsLegalOn is IsLegal w/ the contract's breach flag applied: a breached contract can be ended by anyone
// before its end round, and takes no further breach reports.
func IsLegalOn(action ActionKind, contract *market.DelegationContract, status Status, role Role) bool {
	if contract != nil && contract.Breached && status == Live {
		switch action {
		case TerminateExpired:
			return IsLegal(action, Expired, role)
		case ReportBreach:
			return false
		}
	}
	return IsLegal(action, status, role)
}

// LegalActions returns the contract actions role may take in status, in declaration order.  Account level
// actions are left out.
func LegalActions(status Status, role Role) []ActionKind {
	return legalActions(nil, status, role)
}

func legalActions(contract *market.DelegationContract, status Status, role Role) []ActionKind {
	var actions []ActionKind
	for _, action := range AllActions() {
		if !action.AccountLevel() && IsLegalOn(action, contract, status, role) {
			actions = append(actions, action)
		}
	}
	return actions
}

// RolesFor returns the roles account holds w/ respect to a contract, its ad and the marketplace.  Without a
// contract anyone may become its delegator.  An ad's owner acts as its manager too.  Everyone is AnyParty.
// Any of contract, terms or marketplace may be nil.
func RolesFor(account string, contract *market.DelegationContract, terms *market.ValidatorTerms, marketplace *market.MarketplaceInfo) []Role {
	var roles []Role
	if contract == nil || contract.Delegator == account {
		roles = append(roles, Delegator)
	}
	if terms != nil && (terms.Manager == account || terms.Owner == account) {
		roles = append(roles, ValidatorManager)
	}
	roles = append(roles, AnyParty)
	if marketplace != nil && marketplace.Manager == account {
		roles = append(roles, MarketplaceManager)
	}
	return roles
}

// RoleForAction picks the role, out of those held, under which action is legal on the contract in status.
func RoleForAction(action ActionKind, contract *market.DelegationContract, status Status, roles []Role) (Role, bool) {
	idx := slices.IndexFunc(roles, func(role Role) bool { return IsLegalOn(action, contract, status, role) })
	if idx == -1 {
		return 0, false
	}
	return roles[idx], true
}

// LegalActionsFor narrows LegalActions by what the ad can currently accept: a new contract needs a live ad
// w/ a free slot.
func LegalActionsFor(contract *market.DelegationContract, terms *market.ValidatorTerms, role Role, round uint64) []ActionKind {
	actions := legalActions(contract, StatusAt(contract, round), role)
	return slices.DeleteFunc(actions, func(action ActionKind) bool {
		return action == CreateContract && (terms == nil || !terms.AcceptsContracts())
	})
}
