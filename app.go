package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/dashboard"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/indexer"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *StakeApp {
	log.SetFlags(0)
	// a tty means we're being run as a CLI rather than as a daemon
	logger := misc.NewLogger(os.Stdout, logLevel, term.IsTerminal(int(os.Stdout.Fd())))
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	// The wrapper instance is created first so its methods can be referenced in the 'Before' funcs below.
	appConfig := &StakeApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "stakedash",
		Usage:   "Referral team indexer, reward calculator and dashboard API for BYTA staking",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			// flags (network, config path) are parsed by now, which the settings depend on
			return appConfig.initSettings(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("BYTA_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network to use: bsc, bsctestnet, local",
				Value:   "bsc",
				Aliases: []string{"n"},
				Sources: cli.EnvVars("BYTA_NETWORK"),
			},
			&cli.StringFlag{
				Name:        "rpc",
				Usage:       "JSON-RPC endpoint, overriding the network preset",
				Destination: &appConfig.rpcURL,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "staking",
				Usage:       "Staking contract address",
				Destination: &appConfig.stakingAddress,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "Token contract address",
				Destination: &appConfig.tokenAddress,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "indexer",
				Usage:       "Base url of the team indexer service",
				Destination: &appConfig.indexerURL,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "backing",
				Usage:       "Where team data comes from: logs, contract, indexer. Overrides the config file",
				Sources:     cli.EnvVars("BYTA_TEAM_BACKING"),
				Destination: &appConfig.backing,
				OnlyOnce:    true,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path of the reward/scan config file (default is in the user config dir)",
				Sources:     cli.EnvVars("BYTA_CONFIG"),
				Destination: &appConfig.configPath,
				OnlyOnce:    true,
			},
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetDashboardCmdOpts(),
			GetTeamCmdOpts(),
			GetClaimsCmdOpts(),
			GetScanCmdOpts(),
			GetCalcCmdOpts(),
			GetConfigCmdOpts(),
		},
	}
	return appConfig
}

type StakeApp struct {
	cliCmd *cli.Command
	logger *slog.Logger

	network evm.NetworkConfig
	local   *LocalConfig
	rewards accrual.Config
	// localFound is false when no config file exists and defaults are in use.
	localFound bool

	evmClient  *ethclient.Client
	bytaClient *byta.Client
	scanner    *scan.Scanner
	logSource  *referral.LogSource
	teams      *referral.Aggregator
	projector  *dashboard.Projector

	shutdownTracing func(context.Context) error

	// flag destinations
	rpcURL         string
	stakingAddress string
	tokenAddress   string
	indexerURL     string
	backing        string
	configPath     string
}

// initSettings loads env files, network presets and the local config. It doesn't touch the network so
// offline commands (calc, config) work without an RPC endpoint.
func (ac *StakeApp) initSettings(ctx context.Context, cmd *cli.Command) error {
	if envfile := cmd.String("envfile"); envfile != "" {
		misc.Infof(ac.logger, "loading env file:%s", envfile)
		if err := godotenv.Load(envfile); err != nil {
			return err
		}
	}
	network := cmd.String("network")
	if !evm.IsKnownNetwork(network) {
		return fmt.Errorf("unknown network:%s", network)
	}
	// .env.{network} can only be loaded once the network is known
	misc.LoadEnvForNetwork(ac.logger, network)

	netCfg, err := evm.GetNetworkConfig(network)
	if err != nil {
		return err
	}
	if err := ac.applyOverrides(&netCfg); err != nil {
		return err
	}
	ac.network = netCfg
	misc.Debugf(ac.logger, "network config: %s", netCfg)

	if ac.configPath == "" {
		if ac.configPath, err = ConfigFilename(); err != nil {
			return err
		}
	}
	ac.local, ac.localFound, err = LoadLocalConfig(ac.configPath)
	if err != nil {
		return err
	}
	if ac.backing != "" {
		ac.local.Team.Backing = ac.backing
		if err := ac.local.validate(); err != nil {
			return err
		}
	}
	if ac.rewards, err = ac.local.RewardConfig(); err != nil {
		return err
	}

	ac.shutdownTracing, err = misc.InitTracing(ctx, ac.logger, "stakedash", network)
	return err
}

func (ac *StakeApp) applyOverrides(netCfg *evm.NetworkConfig) error {
	if ac.rpcURL != "" {
		netCfg.RPCURL = ac.rpcURL
	}
	if ac.indexerURL != "" {
		netCfg.IndexerURL = ac.indexerURL
	}
	for _, override := range []struct {
		flag string
		val  string
		dest *common.Address
	}{
		{"staking", ac.stakingAddress, &netCfg.StakingAddress},
		{"token", ac.tokenAddress, &netCfg.TokenAddress},
	} {
		if override.val == "" {
			continue
		}
		addr, err := evm.ParseAddress(override.val)
		if err != nil {
			return cli.Exit(fmt.Errorf("--%s: %w", override.flag, err), 1)
		}
		*override.dest = addr
	}
	return nil
}

// requireChain is the Before hook of every command that reads chain state.
func requireChain(ctx context.Context, _ *cli.Command) error {
	return App.initClients(ctx)
}

// initClients connects to the node (validating the chain id) and wires the readers every chain command
// shares.
func (ac *StakeApp) initClients(ctx context.Context) error {
	if ac.projector != nil {
		return nil
	}
	if ac.network.StakingAddress == (common.Address{}) {
		return cli.Exit(errors.New("the staking contract address must be set using either --staking or BYTA_STAKING_ADDRESS"), 1)
	}
	if ac.network.TokenAddress == (common.Address{}) {
		return cli.Exit(errors.New("the token contract address must be set using either --token or BYTA_TOKEN_ADDRESS"), 1)
	}
	client, err := evm.GetEVMClient(ctx, ac.logger, ac.network)
	if err != nil {
		return err
	}
	ac.evmClient = client

	ac.bytaClient, err = byta.New(ac.logger, client, ac.network.StakingAddress, ac.network.TokenAddress)
	if err != nil {
		return err
	}
	ac.scanner, err = scan.New(ac.logger, client, ac.local.ScannerConfig(ac.network))
	if err != nil {
		return err
	}

	var source referral.Source
	switch ac.local.Team.Backing {
	case referral.BackingLogs:
		ac.logSource = ac.newLogSource()
		source = ac.logSource
	case referral.BackingContract:
		source = referral.NewContractSource(ac.logger, ac.bytaClient, ac.local.Team.Concurrency, ac.local.Team.MaxNodes)
	case referral.BackingIndexer:
		if source, err = indexer.New(ac.logger, ac.network.IndexerURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown team backing:%s", ac.local.Team.Backing)
	}
	ac.teams = referral.NewAggregator(ac.logger, source)

	ac.projector, err = dashboard.New(ac.logger, dashboard.Config{
		Chain:    ac.bytaClient,
		Teams:    ac.teams,
		Scanner:  ac.scanner,
		Lookback: ac.local.Lookback(ac.network),
		Rewards:  ac.rewards,
	})
	if err != nil {
		return err
	}
	misc.Infof(ac.logger, "connected to %s (chain %d), staking contract %s, team backing %s",
		ac.network.Name, ac.network.ChainID, evm.CanonicalHex(ac.network.StakingAddress), ac.teams.Backing())
	return nil
}

func (ac *StakeApp) newLogSource() *referral.LogSource {
	return referral.NewLogSource(ac.logger, ac.scanner, ac.bytaClient, referral.NewGraphCache(), referral.LogSourceConfig{
		Contract:     ac.network.StakingAddress,
		StartBlock:   ac.network.DeployBlock,
		MaxStaleness: ac.local.Team.MaxStaleness,
	})
}
