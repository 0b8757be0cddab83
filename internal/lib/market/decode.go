package market

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/igoprotect/delegation/internal/lib/ledger"
)

var manTermsType = mustTupleType(ManTermsFields)

func mustTupleType(numUint64s int) abi.Type {
	tupleType, err := abi.TypeOf("(" + strings.TrimSuffix(strings.Repeat("uint64,", numUint64s), ",") + ")")
	if err != nil {
		panic(err)
	}
	return tupleType
}

// DecodeManTerms decodes the 11 x uint64 mandatory terms tuple.
func DecodeManTerms(data []byte) (ManTerms, error) {
	if len(data) != ManTermsSize {
		return ManTerms{}, decodeErrorf("ManTerms", "expected %d bytes, got %d", ManTermsSize, len(data))
	}
	decoded, err := manTermsType.Decode(data)
	if err != nil {
		return ManTerms{}, decodeErrorf("ManTerms", "%v", err)
	}
	vals, ok := decoded.([]any)
	if !ok || len(vals) != ManTermsFields {
		return ManTerms{}, decodeErrorf("ManTerms", "unexpected abi value %T", decoded)
	}
	fields := make([]uint64, ManTermsFields)
	for i, v := range vals {
		if fields[i], ok = v.(uint64); !ok {
			return ManTerms{}, decodeErrorf("ManTerms", "element %d has type %T", i, v)
		}
	}
	return ManTerms{
		HwCategory:         fields[0],
		MinAmount:          fields[1],
		MaxAmount:          fields[2],
		FeeSetup:           fields[3],
		FeeRound:           fields[4],
		Deposit:            fields[5],
		SetupRounds:        fields[6],
		ConfirmationRounds: fields[7],
		MaxBreach:          fields[8],
		BreachRounds:       fields[9],
		UptimeGuarantee:    fields[10],
	}, nil
}

// DecodeExtraTerms decodes the 30 byte name and 70 byte link, stripping trailing zero padding.
func DecodeExtraTerms(data []byte) (ExtraTerms, error) {
	if len(data) != ExtraTermsSize {
		return ExtraTerms{}, decodeErrorf("ExtraTerms", "expected %d bytes, got %d", ExtraTermsSize, len(data))
	}
	name, err := paddedText("ExtraTerms.Name", data[:NameSize])
	if err != nil {
		return ExtraTerms{}, err
	}
	link, err := paddedText("ExtraTerms.Link", data[NameSize:])
	if err != nil {
		return ExtraTerms{}, err
	}
	return ExtraTerms{Name: name, Link: link}, nil
}

func paddedText(field string, data []byte) (string, error) {
	text := bytes.TrimRight(data, "\x00")
	if !utf8.Valid(text) {
		return "", decodeErrorf(field, "invalid utf-8")
	}
	return string(text), nil
}

// DecodePackedIDs decodes a list of big-endian uint64 ids, dropping the zero (empty slot) entries.
func DecodePackedIDs(field string, data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, decodeErrorf(field, "length %d is not a multiple of 8", len(data))
	}
	ids := make([]uint64, 0, len(data)/8)
	for i := 0; i < len(data); i += 8 {
		if id := binary.BigEndian.Uint64(data[i : i+8]); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DecodeAdList decodes the noticeboard's val_list box into the ids of listed ads.
func DecodeAdList(box []byte) ([]uint64, error) {
	return DecodePackedIDs(ValidatorListBoxName, box)
}

func DecodeMarketplace(appID uint64, state ledger.AppState) (*MarketplaceInfo, error) {
	r := stateReader{state: state}
	info := &MarketplaceInfo{
		AppID:               appID,
		ValidatorDepositMin: r.uint(NbDepositValMin),
		DelegatorDepositMin: r.uint(NbDepositDelMin),
		EarnFactor:          r.uint(NbValEarnFactor),
		FactoryAppID:        r.uint(NbValFactoryAppID),
		Manager:             r.address(NbManager),
		Live:                r.flag(NbLive),
	}
	if blocked, found := state.Uint(NbBlockedAmount); found {
		info.BlockedAmount = &blocked
	}
	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}

func DecodeValidatorTerms(adID uint64, state ledger.AppState) (*ValidatorTerms, error) {
	r := stateReader{state: state}
	terms := &ValidatorTerms{
		AdID:              adID,
		MarketplaceID:     r.uint(AdNoticeboardAppID),
		Owner:             r.address(AdOwner),
		Manager:           r.address(AdManager),
		MaxDelegatorCount: r.uint(AdMaxDelCount),
		DelegatorCount:    r.uint(AdDelCount),
		Earnings:          r.uint(AdEarnings),
		EarnFactor:        r.uint(AdEarnFactor),
		Deposit:           r.uint(AdDeposit),
		Live:              r.flag(AdLive),
	}
	terms.Man = r.manTerms(AdManTerms)
	terms.Extra = r.extraTerms(AdExtraTerms)
	terms.ContractIDs = r.packedIDs(AdDelContracts)
	if r.err != nil {
		return nil, r.err
	}
	if terms.DelegatorCount > terms.MaxDelegatorCount {
		return nil, decodeErrorf(AdDelCount, "delegator count %d exceeds max %d", terms.DelegatorCount, terms.MaxDelegatorCount)
	}
	return terms, nil
}

func DecodeContract(contractID uint64, state ledger.AppState) (*DelegationContract, error) {
	r := stateReader{state: state}
	contract := &DelegationContract{
		ContractID:      contractID,
		ValidatorAdID:   r.uint(DelValAppID),
		MarketplaceID:   r.uint(DelNoticeboardAppID),
		Delegator:       r.address(DelAccount),
		RoundStart:      r.uint(DelRoundStart),
		RoundEnd:        r.uint(DelRoundEnd),
		KeysDeposited:   r.flag(DelKeysDeposited),
		KeysConfirmed:   r.flag(DelKeysConfirmed),
		BreachCount:     r.uint(DelNumBreach),
		LastBreachRound: r.uint(DelLastBreachRound),
		Breached:        r.flag(DelContractBreached),
	}
	contract.Man = r.manTerms(DelManTerms)
	contract.Extra = r.extraTerms(DelExtraTerms)
	if contract.KeysDeposited {
		contract.Keys = &ParticipationKeys{
			VoteKey:         r.fixedBytes(DelVoteKey, VoteKeySize),
			SelectionKey:    r.fixedBytes(DelSelectionKey, SelectionKeySize),
			StateProofKey:   r.fixedBytes(DelStateProofKey, StateProofKeySize),
			VoteKeyDilution: r.uint(DelVoteKeyDilution),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return contract, nil
}

// DecodeProfile derives the account's marketplace role from its noticeboard local state.  A nil local state
// means the account hasn't opted in.
func DecodeProfile(account string, local ledger.AppState) *UserProfile {
	profile := &UserProfile{Account: account}
	if local == nil {
		return profile
	}
	profile.OptedIn = true
	valAppID, _ := local.Uint(NbLocalValAppID)
	delAppID, _ := local.Uint(NbLocalDelAppID)
	profile.Deposit, _ = local.Uint(NbLocalDepositAmt)
	profile.Balance, _ = local.Uint(NbLocalBalance)
	switch {
	case valAppID != 0 && delAppID != 0:
		profile.Role = ProfileDelegator
		profile.ValidatorAdID = valAppID
		profile.ContractID = delAppID
	case valAppID != 0:
		profile.Role = ProfileValidatorOwner
		profile.ValidatorAdID = valAppID
	}
	return profile
}

// stateReader accumulates the first error so decode functions read as a flat list of fields.
type stateReader struct {
	state ledger.AppState
	err   error
}

func (r *stateReader) value(key string, valueType uint64) (ledger.StateValue, bool) {
	if r.err != nil {
		return ledger.StateValue{}, false
	}
	v, found := r.state[key]
	if !found {
		r.err = decodeErrorf(key, "missing")
		return ledger.StateValue{}, false
	}
	if v.Type != valueType {
		r.err = decodeErrorf(key, "value type %d, expected %d", v.Type, valueType)
		return ledger.StateValue{}, false
	}
	return v, true
}

func (r *stateReader) uint(key string) uint64 {
	v, _ := r.value(key, ledger.ValueUint)
	return v.Uint
}

func (r *stateReader) flag(key string) bool {
	return r.uint(key) != 0
}

func (r *stateReader) fixedBytes(key string, size int) []byte {
	v, ok := r.value(key, ledger.ValueBytes)
	if !ok {
		return nil
	}
	if len(v.Bytes) != size {
		r.err = decodeErrorf(key, "expected %d bytes, got %d", size, len(v.Bytes))
		return nil
	}
	return slices.Clone(v.Bytes)
}

func (r *stateReader) address(key string) string {
	raw := r.fixedBytes(key, AddressSize)
	if raw == nil {
		return ""
	}
	addr, err := types.EncodeAddress(raw)
	if err != nil {
		r.err = decodeErrorf(key, "%v", err)
	}
	return addr
}

func (r *stateReader) manTerms(key string) ManTerms {
	raw := r.fixedBytes(key, ManTermsSize)
	if raw == nil {
		return ManTerms{}
	}
	terms, err := DecodeManTerms(raw)
	if err != nil {
		r.err = err
	}
	return terms
}

func (r *stateReader) extraTerms(key string) ExtraTerms {
	raw := r.fixedBytes(key, ExtraTermsSize)
	if raw == nil {
		return ExtraTerms{}
	}
	terms, err := DecodeExtraTerms(raw)
	if err != nil {
		r.err = err
	}
	return terms
}

func (r *stateReader) packedIDs(key string) []uint64 {
	v, ok := r.value(key, ledger.ValueBytes)
	if !ok {
		return nil
	}
	ids, err := DecodePackedIDs(key, v.Bytes)
	if err != nil {
		r.err = err
	}
	return ids
}
