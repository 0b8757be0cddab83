package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
)

func GetAdCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "ad",
		Aliases: []string{"ads"},
		Usage:   "Browse validator ads and manage your own",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List the ads of the marketplace",
				Action:  AdsList,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include ads that aren't accepting new contracts",
					},
				},
			},
			{
				Name:   "show",
				Usage:  "Show an ad's terms and its contracts",
				Action: AdShow,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Validator ad (application) id",
						Required: true,
					},
				},
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw an ad's accumulated earnings to its owner",
				Before: needAccount,
				Action: AdWithdraw,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Validator ad (application) id",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Simulate the transaction group w/out submitting it",
					},
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Don't ask for confirmation",
					},
				},
			},
		},
	}
}

func AdsList(ctx context.Context, command *cli.Command) error {
	ads, err := App.market.ListAds(ctx, App.market.MarketplaceID())
	if err != nil {
		return err
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Ad ID\tName\tDelegators\tMin Stake\tMax Stake\tSetup Fee\tFee/Round\tDeposit\tLive\t")
	for _, ad := range ads {
		if !ad.AcceptsContracts() && !command.Bool("all") {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d/%d\t%s\t%s\t%s\t%s\t%s\t%t\t\n", ad.AdID, ad.Extra.Name, ad.DelegatorCount, ad.MaxDelegatorCount,
			algo.FormattedAlgoAmount(ad.Man.MinAmount), algo.FormattedAlgoAmount(ad.Man.MaxAmount),
			algo.FormattedAlgoAmount(ad.Man.FeeSetup), algo.FormattedAlgoAmount(ad.Man.FeeRound),
			algo.FormattedAlgoAmount(ad.Man.Deposit), ad.Live)
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func AdShow(ctx context.Context, command *cli.Command) error {
	adID := command.Value("id").(uint64)
	terms, err := App.market.Loop().RefreshAd(ctx, adID)
	if err != nil {
		return err
	}
	fmt.Print(terms.String())
	if len(terms.ContractIDs) == 0 {
		return nil
	}
	fmt.Println("Contracts:")
	for _, contractID := range terms.ContractIDs {
		contract, err := App.market.Contract(contractID)
		if err != nil {
			fmt.Printf("  %d (unreadable: %v)\n", contractID, err)
			continue
		}
		fmt.Printf("  %s - %s\n", describeContract(contract), contract.Delegator)
	}
	return nil
}

func AdWithdraw(ctx context.Context, command *cli.Command) error {
	adID := command.Value("id").(uint64)
	opts, err := actionOptions(command)
	if err != nil {
		return err
	}
	plan, err := App.market.Plan(ctx, 0, adID, lifecycle.WithdrawEarnings, opts...)
	if err != nil {
		return err
	}
	return confirmAndPerform(command, plan, func() error {
		receipt, err := App.market.WithdrawEarnings(ctx, adID, opts...)
		return reportResult(lifecycle.WithdrawEarnings, receipt, err, command.Bool("dry-run"))
	})
}
