package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/igoprotect/delegation/internal/lib/algo"
	"github.com/igoprotect/delegation/internal/lib/coordinator"
	"github.com/igoprotect/delegation/internal/lib/ledger"
	"github.com/igoprotect/delegation/internal/lib/misc"
	"github.com/igoprotect/delegation/internal/lib/reconcile"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *IgoApp {
	log.SetFlags(0)
	logger := misc.NewLogger(os.Stdout, logLevel)
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	// We initialize our wrapper instance first, so we can call its methods in the 'Before' lambda func
	// in initialization of cli App instance.
	appConfig := &IgoApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "igo",
		Usage:   "Delegation marketplace client and validator daemon for Algorand staking contracts",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// Network and account flags are only known once cli has parsed them.
			return appConfig.initClients(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("IGO_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Algorand network to use",
				Value:   "mainnet",
				Aliases: []string{"n"},
				Sources: cli.EnvVars("ALGO_NETWORK"),
			},
			&cli.UintFlag{
				Name:        "noticeboard",
				Usage:       "The application id of the marketplace (noticeboard).  Defaults to the known deployment for the network.",
				Sources:     cli.EnvVars("IGO_NOTICEBOARD_APPID"),
				Destination: &appConfig.noticeboardAppID,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "account",
				Usage:       "Account actions are signed by.  Must have its mnemonic loaded locally.  Defaults to the first local account.",
				Sources:     cli.EnvVars("IGO_ACCOUNT"),
				Aliases:     []string{"a"},
				Destination: &appConfig.account,
			},
			&cli.FloatFlag{
				Name:  "reads-per-sec",
				Usage: "Maximum reconciliation ticks started per second",
				Value: 2,
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetContractCmdOpts(),
			GetAdCmdOpts(),
			GetProfileCmdOpts(),
			GetKeyCmdOpts(),
			GetWatchCmdOpts(),
		},
	}
	return appConfig
}

type IgoApp struct {
	cliCmd     *cli.Command
	logger     *slog.Logger
	signer     *algo.LocalKeyStore
	algoClient *algod.Client
	gateway    *ledger.AlgodGateway
	market     *coordinator.Coordinator

	// just here for flag bootstrapping destination
	noticeboardAppID uint64
	account          string
}

// initClients initializes an algod client (to correct network - which it also validates), the local signer
// and the marketplace coordinator all the commands drive.
func (ac *IgoApp) initClients(ctx context.Context, cmd *cli.Command) error {
	network := cmd.String("network")

	if envfile := cmd.String("envfile"); envfile != "" {
		if err := misc.LoadNamedEnvFile(ac.logger, envfile); err != nil {
			return err
		}
	}
	if !algo.IsKnownNetwork(network) {
		return fmt.Errorf("unknown network:%s", network)
	}

	// Now load .env.{network} overrides -ie: .env.sandbox containing generated mnemonics
	misc.LoadEnvForNetwork(ac.logger, network)

	cfg := algo.GetNetworkConfig(network)
	algoClient, err := algo.GetAlgoClient(ac.logger, cfg)
	if err != nil {
		return err
	}
	// secondary override via the network specific .env file we just loaded - but only if not already set
	if ac.noticeboardAppID == 0 {
		ac.noticeboardAppID = cfg.NoticeboardAppID
	}
	if ac.noticeboardAppID == 0 {
		if err := misc.SetUintFromEnv(&ac.noticeboardAppID, "IGO_NOTICEBOARD_APPID"); err != nil {
			return fmt.Errorf("invalid IGO_NOTICEBOARD_APPID: %w", err)
		}
	}
	if ac.noticeboardAppID == 0 {
		return errors.New("the id of the marketplace noticeboard must be set using either --noticeboard or IGO_NOTICEBOARD_APPID env var")
	}

	// This will load and initialize mnemonics from the environment - and handles all 'local' signing for the app
	ac.signer, err = algo.NewLocalKeyStore(ac.logger)
	if err != nil {
		return err
	}
	ac.algoClient = algoClient
	ac.gateway = ledger.NewAlgodGateway(ac.logger, algoClient, ac.signer)

	readsPerSec := cmd.Float("reads-per-sec")
	ac.market = coordinator.New(ac.logger, ac.gateway, ac.noticeboardAppID,
		reconcile.WithReadRate(rate.Limit(readsPerSec), max(1, int(readsPerSec))))

	account := ac.account
	if account == "" {
		if accounts := ac.signer.Accounts(); len(accounts) > 0 {
			account = accounts[0]
		}
	} else if !ac.signer.HasAccount(account) {
		return fmt.Errorf("no local signing key loaded for account:%s", account)
	}
	if account != "" {
		ac.market.SetAccount(account)
		misc.Debugf(ac.logger, "acting as account:%s", account)
	}
	return nil
}

func needAccount(ctx context.Context, cmd *cli.Command) error {
	if App.market.Account() == "" {
		return errors.New("no signing account available - load a mnemonic (ALGO_MNEMONIC_xx) or set --account")
	}
	return nil
}
