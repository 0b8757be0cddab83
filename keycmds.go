package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
)

func GetKeyCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "Participation key related commands",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List part keys on this node for delegators of ads this account manages",
				Action:  KeysList,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Show ALL part keys on this node, not just those for managed contracts",
						Value: false,
					},
				},
			},
			{
				Name:   "generate",
				Usage:  "Generate the participation key for a contract awaiting keys (normally done by the daemon)",
				Before: needAccount,
				Action: KeyGenerate,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "contract",
						Usage:    "Delegator contract id to generate the key for",
						Required: true,
					},
				},
			},
		},
	}
}

func KeysList(ctx context.Context, command *cli.Command) error {
	partKeys, err := algo.GetParticipationKeys(ctx, App.algoClient)
	if err != nil {
		return err
	}
	var delegators []string
	if !command.Bool("all") {
		if _, err := App.market.ListAds(ctx, App.market.MarketplaceID()); err != nil {
			return err
		}
		if _, err := App.market.Loop().Tick(ctx); err != nil {
			return err
		}
		account := App.market.Account()
		for _, contract := range App.market.Loop().Cache().Contracts() {
			if terms, err := App.market.Ad(contract.ValidatorAdID); err == nil && terms.Manager == account {
				delegators = append(delegators, contract.Delegator)
			}
		}
	}
	for _, key := range partKeys {
		if !command.Bool("all") && !slices.Contains(delegators, key.Address) {
			continue
		}
		fmt.Println("id:", key.Id)
		fmt.Println("Address:", key.Address)
		fmt.Println("Vote First Valid:", key.Key.VoteFirstValid)
		fmt.Println("Vote Last Valid:", key.Key.VoteLastValid)
		fmt.Println("Effective First Valid:", key.EffectiveFirstValid)
		fmt.Println("Effective Last Valid:", key.EffectiveLastValid)
		fmt.Println("Vote Key Dilution:", key.Key.VoteKeyDilution)
		fmt.Println("Selection Participation Key:", key.Key.SelectionParticipationKey)
		fmt.Println("State Proof Key:", key.Key.StateProofKey)
		fmt.Println("Vote Participation Key:", key.Key.VoteParticipationKey)
		fmt.Println("Last Vote:", key.LastVote)
		fmt.Println("Last Block Proposal:", key.LastBlockProposal)
		fmt.Println()
	}
	return nil
}

func KeyGenerate(ctx context.Context, command *cli.Command) error {
	contractID := command.Value("contract").(uint64)
	contract, err := App.market.TrackContract(ctx, contractID)
	if err != nil {
		return err
	}
	if status, _ := App.market.Status(contractID); status != lifecycle.AwaitingKeyDeposit {
		return fmt.Errorf("contract %d is %s, keys are only generated while awaiting key deposit", contractID, status)
	}
	key, _, err := nodeKeys(ctx, contract)
	if err != nil {
		return err
	}
	if key != nil {
		fmt.Printf("key %s already exists for contract %d\n", key.Id, contractID)
		return nil
	}
	dilution := algo.DefaultKeyDilution(contract.RoundStart, contract.RoundEnd)
	key, err = algo.GenerateParticipationKey(ctx, App.algoClient, App.logger, contract.Delegator, contract.RoundStart, contract.RoundEnd, dilution)
	if err != nil {
		return err
	}
	fmt.Printf("generated key %s for contract %d - deposit it w/ 'contract perform --action DepositKeys' or let the daemon do so\n", key.Id, contractID)
	return nil
}

// nodeKeys returns the node's participation key covering the contract's window, ready to deposit.
func nodeKeys(ctx context.Context, contract *market.DelegationContract) (*algo.ParticipationKey, *market.ParticipationKeys, error) {
	partKeys, err := algo.GetParticipationKeys(ctx, App.algoClient)
	if err != nil {
		return nil, nil, err
	}
	key := algo.FindParticipationKey(partKeys, contract.Delegator, contract.RoundStart, contract.RoundEnd)
	if key == nil {
		return nil, nil, nil
	}
	keys, err := depositableKeys(key)
	if err != nil {
		return nil, nil, fmt.Errorf("participation key %s for contract %d: %w", key.Id, contract.ContractID, err)
	}
	return key, keys, nil
}

func depositableKeys(key *algo.ParticipationKey) (*market.ParticipationKeys, error) {
	vote, selection, stateProof, err := key.RawKeys()
	if err != nil {
		return nil, err
	}
	return &market.ParticipationKeys{
		VoteKey:         vote,
		SelectionKey:    selection,
		StateProofKey:   stateProof,
		VoteKeyDilution: key.Key.VoteKeyDilution,
	}, nil
}
