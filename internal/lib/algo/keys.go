package algo

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"

	"github.com/igoprotect/delegation/internal/lib/misc"
)

type ParticipationKey struct {
	Address             string `json:"address"`
	EffectiveFirstValid uint64 `json:"effective-first-valid"`
	EffectiveLastValid  uint64 `json:"effective-last-valid"`
	Id                  string `json:"id"`
	Key                 struct {
		SelectionParticipationKey string `json:"selection-participation-key"`
		StateProofKey             string `json:"state-proof-key"`
		VoteFirstValid            uint64 `json:"vote-first-valid"`
		VoteKeyDilution           uint64 `json:"vote-key-dilution"`
		VoteLastValid             uint64 `json:"vote-last-valid"`
		VoteParticipationKey      string `json:"vote-participation-key"`
	} `json:"key"`
	LastBlockProposal uint64 `json:"last-block-proposal"`
	LastVote          uint64 `json:"last-vote"`
}

// RawKeys returns the decoded vote, selection and state proof keys.
func (p *ParticipationKey) RawKeys() (vote, selection, stateProof []byte, err error) {
	if vote, err = base64.StdEncoding.DecodeString(p.Key.VoteParticipationKey); err != nil {
		return nil, nil, nil, fmt.Errorf("bad vote key: %w", err)
	}
	if selection, err = base64.StdEncoding.DecodeString(p.Key.SelectionParticipationKey); err != nil {
		return nil, nil, nil, fmt.Errorf("bad selection key: %w", err)
	}
	if stateProof, err = base64.StdEncoding.DecodeString(p.Key.StateProofKey); err != nil {
		return nil, nil, nil, fmt.Errorf("bad state proof key: %w", err)
	}
	return vote, selection, stateProof, nil
}

// DefaultKeyDilution is the dilution the node would pick on its own - the square root of the validity window.
func DefaultKeyDilution(firstValid, lastValid uint64) uint64 {
	if lastValid <= firstValid {
		return 1
	}
	return max(1, uint64(math.Round(math.Sqrt(float64(lastValid-firstValid)))))
}

func GetParticipationKeys(ctx context.Context, algoClient *algod.Client) ([]ParticipationKey, error) {
	var response []ParticipationKey

	err := (*common.Client)(algoClient).Get(ctx, &response, "/v2/participation", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to get participation keys: %w", err)
	}
	return response, nil
}

// FindParticipationKey returns the key on the node for account covering exactly [firstValid, lastValid], or nil.
func FindParticipationKey(keys []ParticipationKey, account string, firstValid, lastValid uint64) *ParticipationKey {
	for i := range keys {
		if keys[i].Address == account && keys[i].Key.VoteFirstValid == firstValid && keys[i].Key.VoteLastValid == lastValid {
			return &keys[i]
		}
	}
	return nil
}

type GenerateParticipationKeysParams struct {
	// Dilution Key dilution for two-level participation keys
	Dilution uint64 `url:"dilution,omitempty"`

	// First First round for participation key.
	First uint64 `url:"first"`

	// Last Last round for participation key.
	Last uint64 `url:"last"`
}

// GenerateParticipationKey asks the node to generate a key for account and polls until it shows up.
func GenerateParticipationKey(ctx context.Context, algoClient *algod.Client, logger *slog.Logger, account string, firstValid, lastValid, dilution uint64) (*ParticipationKey, error) {
	var response struct{}
	var params = GenerateParticipationKeysParams{
		Dilution: dilution,
		First:    firstValid,
		Last:     lastValid,
	}

	misc.Infof(logger, "generating part key for account:%s, first/last valid of %d - %d", account, firstValid, lastValid)
	err := (*common.Client)(algoClient).Post(ctx, &response, fmt.Sprintf("/v2/participation/generate/%s", account), params, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error generating participation key for account:%s, err:%w", account, err)
	}
	giveUp := time.After(30 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-giveUp:
			return nil, fmt.Errorf("no key was generated for:%s after 30 minutes - aborting", account)
		case <-time.After(10 * time.Second):
			partKeys, err := GetParticipationKeys(ctx, algoClient)
			if err != nil {
				return nil, fmt.Errorf("unable to get part keys as part of polling after key generation request, err:%w", err)
			}
			if key := FindParticipationKey(partKeys, account, firstValid, lastValid); key != nil {
				misc.Infof(logger, "Participation key generated for account:%s, first valid:%d", account, firstValid)
				return key, nil
			}
		}
	}
}
