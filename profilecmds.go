package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/market"
)

func GetProfileCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "profile",
		Usage:  "Show what the marketplace knows about the selected account",
		Before: needAccount,
		Action: ShowProfile,
	}
}

func ShowProfile(ctx context.Context, command *cli.Command) error {
	profile, err := App.market.Profile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Account: %s\n", profile.Account)
	if !profile.OptedIn {
		fmt.Println("Not opted in to the marketplace")
		return nil
	}
	fmt.Printf("Role: %s\n", profile.Role)
	fmt.Printf("Deposit: %s, balance: %s\n", algo.FormattedAlgoAmount(profile.Deposit), algo.FormattedAlgoAmount(profile.Balance))
	switch profile.Role {
	case market.ProfileValidatorOwner:
		fmt.Printf("Validator ad: %d\n", profile.ValidatorAdID)
	case market.ProfileDelegator:
		fmt.Printf("Contracted ad: %d, contract: %d\n", profile.ValidatorAdID, profile.ContractID)
	}
	return nil
}
