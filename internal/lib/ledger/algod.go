package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/misc"
)

// number of rounds to wait for a submitted group to confirm
const confirmationRounds = 4

// AlgodGateway implements Gateway against an algod node, signing submissions w/ locally held keys.
type AlgodGateway struct {
	logger *slog.Logger
	client *algod.Client
	signer algo.MultipleWalletSigner
}

func NewAlgodGateway(logger *slog.Logger, client *algod.Client, signer algo.MultipleWalletSigner) *AlgodGateway {
	return &AlgodGateway{
		logger: logger,
		client: client,
		signer: signer,
	}
}

func (g *AlgodGateway) CurrentRound(ctx context.Context) (uint64, error) {
	status, err := g.client.Status().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to fetch node status: %w", err)
	}
	return status.LastRound, nil
}

func (g *AlgodGateway) ApplicationState(ctx context.Context, appID uint64) (AppState, error) {
	appInfo, err := g.client.GetApplicationByID(appID).Do(ctx)
	if err != nil {
		return nil, readError(err, "application %d", appID)
	}
	return StateFromTealKeyValues(appInfo.Params.GlobalState)
}

func (g *AlgodGateway) BoxValue(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	box, err := g.client.GetApplicationBoxByName(appID, name).Do(ctx)
	if err != nil {
		return nil, readError(err, "box %q of application %d", string(name), appID)
	}
	return box.Value, nil
}

func (g *AlgodGateway) AccountApps(ctx context.Context, address string) ([]uint64, error) {
	account, err := g.client.AccountInformation(address).Do(ctx)
	if err != nil {
		return nil, readError(err, "account %s", address)
	}
	appIDs := make([]uint64, 0, len(account.AppsLocalState))
	for _, localState := range account.AppsLocalState {
		appIDs = append(appIDs, localState.Id)
	}
	slices.Sort(appIDs)
	return slices.Compact(appIDs), nil
}

func (g *AlgodGateway) LocalState(ctx context.Context, address string, appID uint64) (AppState, error) {
	resp, err := g.client.AccountApplicationInformation(address, appID).Do(ctx)
	if err != nil {
		return nil, readError(err, "local state of account %s in application %d", address, appID)
	}
	return StateFromTealKeyValues(resp.AppLocalState.KeyValue)
}

func (g *AlgodGateway) AccountBalance(ctx context.Context, address string) (uint64, error) {
	account, err := algo.GetBareAccount(ctx, g.client, address)
	if err != nil {
		return 0, readError(err, "account %s", address)
	}
	return account.Amount, nil
}

func (g *AlgodGateway) MinFee(ctx context.Context) (uint64, error) {
	params, err := algo.SuggestedParams(ctx, g.logger, g.client)
	if err != nil {
		return 0, err
	}
	return params.MinFee, nil
}

func (g *AlgodGateway) SubmitAtomic(ctx context.Context, ops []Op) (*Receipt, error) {
	atc, err := g.compose(ctx, ops)
	if err != nil {
		return nil, err
	}
	result, err := atc.Execute(g.client, ctx, confirmationRounds)
	if err != nil {
		return nil, &SubmissionError{Reason: err.Error(), Err: err}
	}
	receipt := &Receipt{
		ConfirmedRound: result.ConfirmedRound,
		TxIDs:          result.TxIDs,
	}
	for _, methodResult := range result.MethodResults {
		receipt.Returns = append(receipt.Returns, methodResult.ReturnValue)
	}
	misc.Infof(g.logger, "group of %d txns confirmed in round:%d, txids:%v", len(result.TxIDs), result.ConfirmedRound, result.TxIDs)
	return receipt, nil
}

func (g *AlgodGateway) SimulateAtomic(ctx context.Context, ops []Op) error {
	atc, err := g.compose(ctx, ops)
	if err != nil {
		return err
	}
	result, err := atc.Simulate(ctx, g.client, models.SimulateRequest{
		AllowEmptySignatures:  true,
		AllowUnnamedResources: true,
	})
	if err != nil {
		return &SubmissionError{Reason: err.Error(), Err: err}
	}
	if len(result.SimulateResponse.TxnGroups) > 0 && result.SimulateResponse.TxnGroups[0].FailureMessage != "" {
		return &SubmissionError{Reason: result.SimulateResponse.TxnGroups[0].FailureMessage}
	}
	return nil
}

// compose builds the signed-on-demand composer for ops.  Validation problems surface as SubmissionError as
// nothing has been sent yet and the caller has to replan either way.
func (g *AlgodGateway) compose(ctx context.Context, ops []Op) (*transaction.AtomicTransactionComposer, error) {
	if len(ops) == 0 {
		return nil, &SubmissionError{Reason: "empty transaction group"}
	}
	refs, err := referencedOps(ops)
	if err != nil {
		return nil, &SubmissionError{Reason: err.Error(), Err: err}
	}
	for _, op := range ops {
		if !g.signer.HasAccount(op.Sender) {
			return nil, &SubmissionError{Reason: fmt.Sprintf("no local signing key for sender %s", op.Sender)}
		}
	}
	params, err := algo.SuggestedParams(ctx, g.logger, g.client)
	if err != nil {
		return nil, err
	}

	// standalone transactions first, so app calls can take them as arguments
	built := make([]transaction.TransactionWithSigner, len(ops))
	for i, op := range ops {
		if op.Kind == OpAppCall {
			continue
		}
		txn, err := makeTxn(op, params)
		if err != nil {
			return nil, &SubmissionError{Reason: fmt.Sprintf("op %d: %v", i, err), Err: err}
		}
		built[i] = transaction.TransactionWithSigner{
			Txn:    txn,
			Signer: algo.SignWithAccountForATC(g.signer, op.Sender),
		}
	}

	atc := &transaction.AtomicTransactionComposer{}
	for i, op := range ops {
		if refs[i] {
			continue
		}
		if op.Kind != OpAppCall {
			if err = atc.AddTransaction(built[i]); err != nil {
				return nil, &SubmissionError{Reason: fmt.Sprintf("op %d: %v", i, err), Err: err}
			}
			continue
		}
		method, err := abi.MethodFromSignature(op.Method)
		if err != nil {
			return nil, &SubmissionError{Reason: fmt.Sprintf("op %d: bad method %s", i, op.Method), Err: err}
		}
		sender, err := types.DecodeAddress(op.Sender)
		if err != nil {
			return nil, &SubmissionError{Reason: fmt.Sprintf("op %d: bad sender", i), Err: err}
		}
		args := make([]any, len(op.Args))
		for j, arg := range op.Args {
			if ref, ok := arg.(OpRef); ok {
				args[j] = built[ref]
				continue
			}
			args[j] = arg
		}
		err = atc.AddMethodCall(transaction.AddMethodCallParams{
			AppID:           op.AppID,
			Method:          method,
			MethodArgs:      args,
			ForeignApps:     op.ForeignApps,
			ForeignAccounts: op.ForeignAccounts,
			BoxReferences:   op.Boxes,
			SuggestedParams: withFee(params, op.Fee),
			OnComplete:      op.OnComplete,
			Sender:          sender,
			Signer:          algo.SignWithAccountForATC(g.signer, op.Sender),
		})
		if err != nil {
			return nil, &SubmissionError{Reason: fmt.Sprintf("op %d: %v", i, err), Err: err}
		}
	}
	return atc, nil
}

func withFee(params types.SuggestedParams, fee uint64) types.SuggestedParams {
	params.FlatFee = true
	params.Fee = types.MicroAlgos(fee)
	return params
}

func makeTxn(op Op, params types.SuggestedParams) (types.Transaction, error) {
	params = withFee(params, op.Fee)
	switch op.Kind {
	case OpPayment:
		return transaction.MakePaymentTxn(op.Sender, op.Receiver, op.Amount, nil, "", params)
	case OpKeyReg:
		return makeKeyRegTxn(op.Sender, op.KeyReg, params)
	}
	return types.Transaction{}, fmt.Errorf("unsupported standalone op kind:%s", op.Kind)
}

// makeKeyRegTxn builds an online registration, or an offline one when keys is empty.
func makeKeyRegTxn(sender string, keys *KeyRegParams, params types.SuggestedParams) (types.Transaction, error) {
	senderAddr, err := types.DecodeAddress(sender)
	if err != nil {
		return types.Transaction{}, err
	}
	txn := types.Transaction{
		Type: types.KeyRegistrationTx,
		Header: types.Header{
			Sender:     senderAddr,
			Fee:        params.Fee,
			FirstValid: params.FirstRoundValid,
			LastValid:  params.LastRoundValid,
			GenesisID:  params.GenesisID,
		},
	}
	copy(txn.GenesisHash[:], params.GenesisHash)
	if keys.Offline() {
		return txn, nil
	}
	if len(keys.VoteKey) != len(txn.VotePK) || len(keys.SelectionKey) != len(txn.SelectionPK) ||
		len(keys.StateProofKey) != len(txn.StateProofPK) {
		return types.Transaction{}, fmt.Errorf("participation key lengths %d/%d/%d are invalid",
			len(keys.VoteKey), len(keys.SelectionKey), len(keys.StateProofKey))
	}
	copy(txn.VotePK[:], keys.VoteKey)
	copy(txn.SelectionPK[:], keys.SelectionKey)
	copy(txn.StateProofPK[:], keys.StateProofKey)
	txn.VoteFirst = types.Round(keys.VoteFirst)
	txn.VoteLast = types.Round(keys.VoteLast)
	txn.VoteKeyDilution = keys.KeyDilution
	return txn, nil
}

// StateFromTealKeyValues decodes the base64 keys and byte values algod returns.
func StateFromTealKeyValues(kvs []models.TealKeyValue) (AppState, error) {
	state := make(AppState, len(kvs))
	for _, kv := range kvs {
		rawKey, err := base64.StdEncoding.DecodeString(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid state key %q: %w", kv.Key, err)
		}
		value := StateValue{Type: kv.Value.Type, Uint: kv.Value.Uint}
		if kv.Value.Type == ValueBytes {
			value.Bytes, err = base64.StdEncoding.DecodeString(kv.Value.Bytes)
			if err != nil {
				return nil, fmt.Errorf("invalid bytes value for key %q: %w", string(rawKey), err)
			}
		}
		state[string(rawKey)] = value
	}
	return state, nil
}

// readError tags algod 404s w/ ErrNotFound so callers can tell a vanished entity from a failed read.
func readError(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("unable to fetch %s: %w", what, err)
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
