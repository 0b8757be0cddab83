package market

const (
	// Global state keys of the noticeboard (marketplace) application
	NbDepositValMin   = "deposit_val_min"
	NbDepositDelMin   = "deposit_del_min"
	NbValEarnFactor   = "val_earn_factor"
	NbValFactoryAppID = "val_factory_app_id"
	NbManager         = "manager"
	NbLive            = "live"
	NbBlockedAmount   = "blocked_amt"

	// Local state keys of the noticeboard application
	NbLocalValAppID   = "val_app_id"
	NbLocalDelAppID   = "del_app_id"
	NbLocalDepositAmt = "deposit_amt"
	NbLocalBalance    = "balance"

	// Global state keys of a validator ad application
	AdNoticeboardAppID = "noticeboard_app_id"
	AdOwner            = "owner"
	AdManager          = "manager"
	AdManTerms         = "val_config_man"
	AdExtraTerms       = "val_config_extra"
	AdDeposit          = "val_deposit"
	AdLive             = "live"
	AdDelCount         = "del_cnt"
	AdMaxDelCount      = "max_del_cnt"
	AdEarnings         = "val_earnings"
	AdEarnFactor       = "val_earn_factor"
	AdDelContracts     = "del_contracts"

	// Global state keys of a delegator contract application
	DelManTerms          = "val_config_man"
	DelExtraTerms        = "val_config_extra"
	DelRoundStart        = "round_start"
	DelRoundEnd          = "round_end"
	DelKeysDeposited     = "part_keys_deposited"
	DelKeysConfirmed     = "keys_confirmed"
	DelAccount           = "del_acc"
	DelValAppID          = "val_app_id"
	DelNoticeboardAppID  = "noticeboard_app_id"
	DelNumBreach         = "num_breach"
	DelLastBreachRound   = "last_breach_round"
	DelContractBreached  = "contract_breached"
	DelVoteKeyDilution   = "vote_key_dilution"
	DelSelectionKey      = "sel_key"
	DelVoteKey           = "vote_key"
	DelStateProofKey     = "state_proof_key"
	ValidatorListBoxName = "val_list"
)

const (
	ManTermsFields = 11
	ManTermsSize   = ManTermsFields * 8
	NameSize       = 30
	LinkSize       = 70
	ExtraTermsSize = NameSize + LinkSize

	AddressSize       = 32
	VoteKeySize       = 32
	SelectionKeySize  = 32
	StateProofKeySize = 64

	// MaxDelegatorContracts is the number of contract slots in an ad's del_contracts list
	MaxDelegatorContracts = 4
	// MaxValidatorAds is the number of ad slots in the noticeboard's val_list box
	MaxValidatorAds = 100
)

// Minimum balance requirements (in microAlgo) the marketplace charges for storage
const (
	MbrValidatorAdCreation       = 899_500
	MbrValidatorListBoxCreation  = 325_700
	MbrDelegatorContractCreation = 785_000
	MbrValidatorAdInit           = 100_000
)

const (
	// DefaultContractDuration is the contract length (in rounds) used when none is given
	DefaultContractDuration = 1000
	// StartRoundOffset is how far in the future a new contract starts, leaving the validator time to deposit keys
	StartRoundOffset = 20
)
