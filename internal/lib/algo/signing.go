package algo

import (
	"context"
	"errors"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

var ErrNoSigner = errors.New("no local signing key for any of the requested accounts")

type MultipleWalletSigner interface {
	HasAccount(publicAddress string) bool
	FindFirstSigner(addresses []string) (string, error)
	SignWithAccount(ctx context.Context, tx types.Transaction, publicAddress string) (string, []byte, error)
}

// SignWithAccountForATC returns an ATC compatible signer that signs for publicAddress through keyManager.
func SignWithAccountForATC(keyManager MultipleWalletSigner, publicAddress string) transaction.TransactionSigner {
	return &walletSigner{
		keyManager: keyManager,
		address:    publicAddress,
	}
}

type walletSigner struct {
	keyManager MultipleWalletSigner
	address    string
}

func (k *walletSigner) SignTransactions(txGroup []types.Transaction, indexesToSign []int) ([][]byte, error) {
	stxs := make([][]byte, len(indexesToSign))
	for i, pos := range indexesToSign {
		_, stxBytes, err := k.keyManager.SignWithAccount(context.Background(), txGroup[pos], k.address)
		if err != nil {
			return nil, err
		}
		stxs[i] = stxBytes
	}
	return stxs, nil
}

func (k *walletSigner) Equals(other transaction.TransactionSigner) bool {
	if castedSigner, ok := other.(*walletSigner); ok {
		return castedSigner.address == k.address
	}
	return false
}
