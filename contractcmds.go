package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/coordinator"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/lifecycle"
	"github.com/igoprotect/delegation/internal/lib/market"
)

func GetContractCmdOpts() *cli.Command {
	contractFlag := &cli.UintFlag{
		Name:     "id",
		Usage:    "Delegator contract (application) id",
		Required: true,
	}
	return &cli.Command{
		Name:    "contract",
		Aliases: []string{"c"},
		Usage:   "Inspect and act on delegator contracts",
		Commands: []*cli.Command{
			{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Show a contract, its status and the actions available to each role",
				Action:  ContractStatus,
				Flags:   []cli.Flag{contractFlag},
			},
			{
				Name:   "actions",
				Usage:  "List the actions a role may take on a contract right now",
				Action: ContractActions,
				Flags: []cli.Flag{
					contractFlag,
					&cli.StringFlag{
						Name:  "role",
						Usage: "Role to list actions for (Delegator, ValidatorManager, AnyParty, MarketplaceManager).  Defaults to every role the account holds",
					},
				},
			},
			{
				Name:    "perform",
				Aliases: []string{"p"},
				Usage:   "Perform an action on a contract",
				Before:  needAccount,
				Action:  ContractPerform,
				Flags: []cli.Flag{
					contractFlag,
					&cli.StringFlag{
						Name:     "action",
						Usage:    "Action to perform, ie: ConfirmKeys, WithdrawEarly, TerminateExpired",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "Role to act as.  Defaults to the first role the account holds that allows the action",
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
			{
				Name:   "create",
				Usage:  "Open a contract w/ a validator ad for the selected account",
				Before: needAccount,
				Action: ContractCreate,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "ad",
						Usage:    "Validator ad (application) id to contract w/",
						Required: true,
					},
					&cli.UintFlag{
						Name:  "start",
						Usage: "First round of the contract.  Defaults to shortly after the current round",
					},
					&cli.UintFlag{
						Name:  "end",
						Usage: "Last round of the contract",
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
			{
				Name:   "withdraw-balance",
				Usage:  "Withdraw the selected account's balance held by the marketplace",
				Before: needAccount,
				Action: ContractWithdrawBalance,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "deposit",
						Usage: "Withdraw the account's marketplace deposit instead.  Only allowed w/out an ad or contract",
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
			{
				Name:   "settle",
				Usage:  "Preview how a contract would settle if closed now",
				Action: ContractSettle,
				Flags:  []cli.Flag{contractFlag},
			},
		},
	}
}

func ContractStatus(ctx context.Context, command *cli.Command) error {
	contractID := command.Value("id").(uint64)
	contract, err := App.market.TrackContract(ctx, contractID)
	if err != nil {
		return err
	}
	status, err := App.market.Status(contractID)
	if err != nil {
		return err
	}
	fmt.Println(contract.String())
	fmt.Printf("Status: %s\n", status)
	fmt.Printf("Rounds: start %d, keys due %d, confirmation due %d, end %d\n",
		contract.RoundStart, contract.SetupDeadline(), contract.ConfirmationDeadline(), contract.RoundEnd)

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Role\tLegal Actions\t")
	for _, role := range []lifecycle.Role{lifecycle.Delegator, lifecycle.ValidatorManager, lifecycle.AnyParty} {
		actions, err := App.market.LegalActions(contractID, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", role, actionList(actions))
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func ContractActions(ctx context.Context, command *cli.Command) error {
	contractID := command.Value("id").(uint64)
	if _, err := App.market.TrackContract(ctx, contractID); err != nil {
		return err
	}
	roles, err := rolesToShow(contractID, command.String("role"))
	if err != nil {
		return err
	}
	for _, role := range roles {
		actions, err := App.market.LegalActions(contractID, role)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", role, actionList(actions))
	}
	return nil
}

func rolesToShow(contractID uint64, roleName string) ([]lifecycle.Role, error) {
	if roleName != "" {
		role, err := lifecycle.ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		return []lifecycle.Role{role}, nil
	}
	return App.market.Roles(contractID)
}

func ContractPerform(ctx context.Context, command *cli.Command) error {
	contractID := command.Value("id").(uint64)
	kind, err := lifecycle.ParseActionKind(command.String("action"))
	if err != nil {
		return err
	}
	contract, err := App.market.TrackContract(ctx, contractID)
	if err != nil {
		return err
	}
	opts, err := actionOptions(command)
	if err != nil {
		return err
	}
	if kind == lifecycle.DepositKeys {
		_, keys, err := nodeKeys(ctx, contract)
		if err != nil {
			return err
		}
		if keys == nil {
			return fmt.Errorf("no participation key on this node for contract %d - run 'key generate' first", contractID)
		}
		opts = append(opts, coordinator.WithKeys(keys))
	}
	plan, err := App.market.Plan(ctx, contractID, 0, kind, opts...)
	if err != nil {
		return err
	}
	return confirmAndPerform(command, plan, func() error {
		receipt, err := App.market.PerformAction(ctx, contractID, kind, opts...)
		return reportResult(kind, receipt, err, command.Bool("dry-run"))
	})
}

func ContractCreate(ctx context.Context, command *cli.Command) error {
	adID := command.Value("ad").(uint64)
	opts, err := actionOptions(command)
	if err != nil {
		return err
	}
	start, end := command.Value("start").(uint64), command.Value("end").(uint64)
	if start != 0 || end != 0 {
		opts = append(opts, coordinator.WithRounds(start, end))
	}
	plan, err := App.market.Plan(ctx, 0, adID, lifecycle.CreateContract, opts...)
	if err != nil {
		return err
	}
	return confirmAndPerform(command, plan, func() error {
		receipt, err := App.market.CreateContract(ctx, adID, opts...)
		return reportResult(lifecycle.CreateContract, receipt, err, command.Bool("dry-run"))
	})
}

func ContractWithdrawBalance(ctx context.Context, command *cli.Command) error {
	kind := withdrawKind(command.Bool("deposit"))
	opts, err := actionOptions(command)
	if err != nil {
		return err
	}
	plan, err := App.market.Plan(ctx, 0, 0, kind, opts...)
	if err != nil {
		return err
	}
	return confirmAndPerform(command, plan, func() error {
		var receipt *ledger.Receipt
		if kind == lifecycle.WithdrawDeposit {
			receipt, err = App.market.WithdrawDeposit(ctx, opts...)
		} else {
			receipt, err = App.market.WithdrawBalance(ctx, opts...)
		}
		return reportResult(kind, receipt, err, command.Bool("dry-run"))
	})
}

func withdrawKind(deposit bool) lifecycle.ActionKind {
	if deposit {
		return lifecycle.WithdrawDeposit
	}
	return lifecycle.WithdrawBalance
}

func ContractSettle(ctx context.Context, command *cli.Command) error {
	contractID := command.Value("id").(uint64)
	contract, err := App.market.TrackContract(ctx, contractID)
	if err != nil {
		return err
	}
	marketplace, err := App.market.Loop().RefreshMarketplace(ctx, contract.MarketplaceID)
	if err != nil {
		return err
	}
	round, err := App.gateway.CurrentRound(ctx)
	if err != nil {
		return err
	}
	settlement, err := lifecycle.Settle(contract, round, marketplace.EarnFactor)
	if err != nil {
		return err
	}
	fmt.Printf("Contract %d at round %d (%s):\n", contractID, round, lifecycle.StatusAt(contract, round))
	fmt.Print(settlement.String())
	return nil
}

func actionOptions(command *cli.Command) ([]coordinator.ActionOption, error) {
	var opts []coordinator.ActionOption
	if roleName := command.String("role"); roleName != "" {
		role, err := lifecycle.ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.AsRole(role))
	}
	if command.Bool("dry-run") {
		opts = append(opts, coordinator.DryRun())
	}
	return opts, nil
}

func confirmAndPerform(command *cli.Command, plan *lifecycle.Plan, perform func() error) error {
	fmt.Printf("%s as %s, %d transaction(s), fees: %s\n", plan.Action, plan.Role, len(plan.Ops), algo.FormattedAlgoAmount(plan.Fee()))
	for i, op := range plan.Ops {
		fmt.Printf("  %d: %s\n", i, op)
	}
	if !command.Bool("yes") && !command.Bool("dry-run") {
		if _, err := yesNo("Submit"); err != nil {
			if errors.Is(err, promptui.ErrAbort) {
				return nil
			}
			return err
		}
	}
	return perform()
}

func reportResult(kind lifecycle.ActionKind, receipt *ledger.Receipt, err error, dryRun bool) error {
	if err != nil {
		return cli.Exit(fmt.Errorf("%s failed (%s): %w", kind, coordinator.Classify(err), err), 1)
	}
	if dryRun || receipt == nil {
		fmt.Printf("%s simulated successfully\n", kind)
		return nil
	}
	fmt.Printf("%s confirmed in round %d, txns: %s\n", kind, receipt.ConfirmedRound, strings.Join(receipt.TxIDs, ", "))
	return nil
}

func actionList(actions []lifecycle.ActionKind) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, action.String())
	}
	return strings.Join(names, ", ")
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}

func describeContract(contract *market.DelegationContract) string {
	if contract == nil {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", contract.ContractID, lifecycle.StatusAt(contract, App.market.Loop().Cache().Round()))
}
