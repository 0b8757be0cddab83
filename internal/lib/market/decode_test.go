package market

import (
	"bytes"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoprotect/delegation/internal/lib/ledger"
)

var (
	ownerAddr     = types.Address{1}.String()
	managerAddr   = types.Address{2}.String()
	delegatorAddr = types.Address{3}.String()
)

func testManTerms() ManTerms {
	return ManTerms{
		HwCategory:         1,
		MinAmount:          10_000_000,
		MaxAmount:          1_000_000_000,
		FeeSetup:           2_000_000,
		FeeRound:           1_000,
		Deposit:            5_000_000,
		SetupRounds:        100,
		ConfirmationRounds: 100,
		MaxBreach:          3,
		BreachRounds:       50,
		UptimeGuarantee:    1,
	}
}

func TestExtraTermsRoundTrip(t *testing.T) {
	extra := ExtraTerms{Name: "Alice", Link: "https://example.com"}
	encoded, err := EncodeExtraTerms(extra)
	require.NoError(t, err)
	require.Len(t, encoded, ExtraTermsSize)
	assert.Equal(t, byte(0), encoded[NameSize-1], "name must be zero padded")

	decoded, err := DecodeExtraTerms(encoded)
	require.NoError(t, err)
	assert.Equal(t, extra, decoded)
}

func TestDecodeExtraTermsErrors(t *testing.T) {
	_, err := DecodeExtraTerms(make([]byte, ExtraTermsSize-1))
	assert.ErrorIs(t, err, ErrDecode)

	bad := make([]byte, ExtraTermsSize)
	copy(bad, []byte{0xff, 0xfe})
	_, err = DecodeExtraTerms(bad)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "ExtraTerms.Name", decodeErr.Field)

	_, err = EncodeExtraTerms(ExtraTerms{Name: string(bytes.Repeat([]byte("a"), NameSize+1))})
	assert.Error(t, err)
}

func TestManTermsRoundTrip(t *testing.T) {
	encoded, err := EncodeManTerms(testManTerms())
	require.NoError(t, err)
	require.Len(t, encoded, ManTermsSize)
	// setup rounds is the 7th field, big-endian
	assert.Equal(t, byte(100), encoded[6*8+7])

	decoded, err := DecodeManTerms(encoded)
	require.NoError(t, err)
	assert.Equal(t, testManTerms(), decoded)

	_, err = DecodeManTerms(encoded[:ManTermsSize-8])
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodePackedIDs(t *testing.T) {
	packed, err := EncodePackedIDs([]uint64{7, 0, 9}, MaxDelegatorContracts)
	require.NoError(t, err)

	ids, err := DecodePackedIDs("test", packed)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 9}, ids, "zero slots must be filtered")

	ids, err = DecodeAdList(make([]byte, MaxValidatorAds*8))
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = DecodePackedIDs("test", make([]byte, 12))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = EncodePackedIDs([]uint64{1, 2, 3, 4, 5}, MaxDelegatorContracts)
	assert.Error(t, err)
}

func TestValidatorTermsRoundTrip(t *testing.T) {
	terms := &ValidatorTerms{
		AdID:              55,
		MarketplaceID:     10,
		Owner:             ownerAddr,
		Manager:           managerAddr,
		Man:               testManTerms(),
		Extra:             ExtraTerms{Name: "Bob's node", Link: "https://bob.example"},
		MaxDelegatorCount: 4,
		DelegatorCount:    2,
		Earnings:          123,
		EarnFactor:        10,
		Deposit:           1_000_000,
		Live:              true,
		ContractIDs:       []uint64{101, 102},
	}
	state, err := ValidatorTermsState(terms)
	require.NoError(t, err)

	decoded, err := DecodeValidatorTerms(55, state)
	require.NoError(t, err)
	assert.Equal(t, terms, decoded)
	assert.True(t, decoded.AcceptsContracts())

	terms.DelegatorCount = 5
	state, err = ValidatorTermsState(terms)
	require.NoError(t, err)
	_, err = DecodeValidatorTerms(55, state)
	assert.ErrorIs(t, err, ErrDecode)
}

func testContract() *DelegationContract {
	return &DelegationContract{
		ContractID:    101,
		ValidatorAdID: 55,
		MarketplaceID: 10,
		Delegator:     delegatorAddr,
		Man:           testManTerms(),
		Extra:         ExtraTerms{Name: "Bob's node"},
		RoundStart:    100,
		RoundEnd:      1100,
	}
}

func TestDecodeContract(t *testing.T) {
	contract := testContract()
	state, err := ContractState(contract)
	require.NoError(t, err)

	decoded, err := DecodeContract(101, state)
	require.NoError(t, err)
	assert.Equal(t, contract, decoded)
	assert.Nil(t, decoded.Keys, "keys stay unset until deposited")
	assert.Equal(t, uint64(1000), decoded.Duration())
	assert.Equal(t, uint64(1_000_000), decoded.OperationalFee())

	contract.KeysDeposited = true
	contract.Keys = &ParticipationKeys{
		VoteKey:         bytes.Repeat([]byte{1}, VoteKeySize),
		SelectionKey:    bytes.Repeat([]byte{2}, SelectionKeySize),
		StateProofKey:   bytes.Repeat([]byte{3}, StateProofKeySize),
		VoteKeyDilution: 32,
	}
	state, err = ContractState(contract)
	require.NoError(t, err)
	decoded, err = DecodeContract(101, state)
	require.NoError(t, err)
	assert.Equal(t, contract, decoded)
}

func TestDecodeContractErrors(t *testing.T) {
	base, err := ContractState(testContract())
	require.NoError(t, err)

	testCases := []struct {
		name   string
		mutate func(ledger.AppState)
		field  string
	}{
		{"missing round start", func(s ledger.AppState) { delete(s, DelRoundStart) }, DelRoundStart},
		{"round end as bytes", func(s ledger.AppState) { s[DelRoundEnd] = ledger.BytesValue([]byte{1}) }, DelRoundEnd},
		{"short delegator", func(s ledger.AppState) { s[DelAccount] = ledger.BytesValue(make([]byte, 31)) }, DelAccount},
		{"short man terms", func(s ledger.AppState) { s[DelManTerms] = ledger.BytesValue(make([]byte, 80)) }, DelManTerms},
		{"deposited w/out keys", func(s ledger.AppState) { s[DelKeysDeposited] = ledger.UintValue(1) }, DelVoteKey},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state := ledger.AppState{}
			for k, v := range base {
				state[k] = v
			}
			tc.mutate(state)
			_, err := DecodeContract(101, state)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tc.field, decodeErr.Field)
		})
	}
}

func TestDecodeMarketplace(t *testing.T) {
	blocked := uint64(42)
	info := &MarketplaceInfo{
		AppID:               10,
		ValidatorDepositMin: 1_000_000,
		DelegatorDepositMin: 500_000,
		EarnFactor:          10,
		FactoryAppID:        9,
		Manager:             managerAddr,
		Live:                true,
		BlockedAmount:       &blocked,
	}
	state, err := MarketplaceState(info)
	require.NoError(t, err)
	decoded, err := DecodeMarketplace(10, state)
	require.NoError(t, err)
	assert.Equal(t, info, decoded)

	delete(state, NbBlockedAmount)
	decoded, err = DecodeMarketplace(10, state)
	require.NoError(t, err)
	assert.Nil(t, decoded.BlockedAmount)
}

func TestDecodeProfile(t *testing.T) {
	funded := ProfileLocalState(0, 0)
	funded[NbLocalDepositAmt] = ledger.UintValue(200_000)
	funded[NbLocalBalance] = ledger.UintValue(5_000)

	testCases := []struct {
		name     string
		local    ledger.AppState
		expected UserProfile
	}{
		{"not opted in", nil, UserProfile{Account: delegatorAddr}},
		{"opted in, nothing else", ProfileLocalState(0, 0), UserProfile{Account: delegatorAddr, OptedIn: true}},
		{"validator owner", ProfileLocalState(55, 0), UserProfile{Account: delegatorAddr, OptedIn: true, Role: ProfileValidatorOwner, ValidatorAdID: 55}},
		{"delegator", ProfileLocalState(55, 101), UserProfile{Account: delegatorAddr, OptedIn: true, Role: ProfileDelegator, ValidatorAdID: 55, ContractID: 101}},
		{"contract w/out ad", ProfileLocalState(0, 101), UserProfile{Account: delegatorAddr, OptedIn: true}},
		{"funds held", funded, UserProfile{Account: delegatorAddr, OptedIn: true, Deposit: 200_000, Balance: 5_000}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, &tc.expected, DecodeProfile(delegatorAddr, tc.local))
		})
	}
}
