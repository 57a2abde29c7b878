package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

func GetTeamCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "team",
		Aliases:   []string{"t"},
		Usage:     "List the direct referrals of an address w/ left/right team counts",
		ArgsUsage: "<address>",
		Before:    requireChain,
		Action:    TeamShow,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in the indexer's json format",
			},
		},
	}
}

func GetClaimsCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "claims",
		Usage:     "Show recent reward claims of an address",
		ArgsUsage: "<address>",
		Before:    requireChain,
		Action:    ClaimsShow,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Max number of claims to show",
				Value: byta.DefaultClaimLimit,
			},
			&cli.UintFlag{
				Name:  "lookback",
				Usage: "Number of blocks back from head to search (default from config/network)",
			},
		},
	}
}

func GetScanCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "scan",
		Usage:  "Log scanning diagnostics",
		Before: requireChain,
		Commands: []*cli.Command{
			{
				Name:   "referrals",
				Usage:  "Scan the full referral history and report edges, gaps and integrity violations",
				Action: ScanReferrals,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "violations",
						Usage: "List every excluded referral",
					},
				},
			},
		},
	}
}

func TeamShow(ctx context.Context, cmd *cli.Command) error {
	addr, err := addressArg(cmd)
	if err != nil {
		return err
	}
	team, err := App.teams.TeamOf(ctx, addr)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if cmd.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(team)
	}
	printTeam(os.Stdout, team)
	return nil
}

func printTeam(w io.Writer, team *referral.Team) {
	out := new(strings.Builder)
	if team.Unavailable {
		fmt.Fprintf(out, "Team data unavailable from the %s backing for %s\n", team.Backing, evm.CanonicalHex(team.Root))
		fmt.Fprint(w, out.String())
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Referral\tSide\tLevel\tDownline\t")
	for _, member := range team.Members {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t\n", evm.CanonicalHex(member.Address), member.Side, member.Level, member.DownlineCount)
	}
	fmt.Fprintf(tw, "LEFT\t\t\t%d\t\n", team.LeftCount)
	fmt.Fprintf(tw, "RIGHT\t\t\t%d\t\n", team.RightCount)
	fmt.Fprintf(tw, "TOTAL\t\t\t%d\t\n", team.TotalTeam)
	tw.Flush()
	if team.Incomplete {
		fmt.Fprintln(out, "Counts may be low: some of the data behind them could not be read.")
	}
	for _, violation := range team.Violations {
		fmt.Fprintf(out, "Excluded: %v\n", violation)
	}
	fmt.Fprint(w, out.String())
}

func ClaimsShow(ctx context.Context, cmd *cli.Command) error {
	addr, err := addressArg(cmd)
	if err != nil {
		return err
	}
	limit := int(cmd.Int("limit"))
	if limit <= 0 {
		return cli.Exit("limit must be positive", 1)
	}
	lookback := App.local.Lookback(App.network)
	if cmd.IsSet("lookback") {
		lookback = cmd.Uint("lookback")
	}
	history, err := App.bytaClient.ClaimHistory(ctx, App.scanner, addr, lookback, limit)
	if err != nil {
		return cli.Exit(err, 1)
	}
	printClaims(os.Stdout, history)
	return nil
}

func printClaims(w io.Writer, history *byta.ClaimHistory) {
	out := new(strings.Builder)
	if len(history.Claims) == 0 {
		fmt.Fprintln(out, "No claims found")
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Block\tTx\tBYTA\tUSD\t")
		for _, claim := range history.Claims {
			fmt.Fprintf(tw, "%d\t%s\t%s\t$%s\t\n", claim.Block, claim.TxHash.Hex(), evm.FormatToken(claim.TokenAmount), evm.FormatUSD(claim.USDAmount))
		}
		tw.Flush()
	}
	if history.Incomplete {
		fmt.Fprintf(out, "Incomplete: %d block ranges could not be read:", len(history.Missing))
		for _, r := range history.Missing {
			fmt.Fprintf(out, " [%d-%d]", r.From, r.To)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprint(w, out.String())
}

func ScanReferrals(ctx context.Context, cmd *cli.Command) error {
	source := App.logSource
	if source == nil {
		source = App.newLogSource()
	}
	misc.Infof(App.logger, "scanning referrals of %s from block %d", evm.CanonicalHex(App.network.StakingAddress), App.network.DeployBlock)
	snap, err := source.Refresh(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	printGraphSnapshot(os.Stdout, snap, cmd.Bool("violations"))
	return nil
}

func printGraphSnapshot(w io.Writer, snap *referral.GraphSnapshot, listViolations bool) {
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Contract:\t%s\n", evm.CanonicalHex(snap.Key.Contract))
	fmt.Fprintf(tw, "Blocks:\t%d - %d\n", snap.Key.StartBlock, max(snap.NextBlock, 1)-1)
	fmt.Fprintf(tw, "Edges:\t%d\n", snap.Graph.Len())
	fmt.Fprintf(tw, "Missing ranges:\t%d\n", len(snap.Missing))
	fmt.Fprintf(tw, "Undecodable logs:\t%d\n", snap.Undecodable)
	fmt.Fprintf(tw, "Violations:\t%d\n", len(snap.Graph.Violations()))
	tw.Flush()
	for _, r := range snap.Missing {
		fmt.Fprintf(out, "missing [%d-%d]\n", r.From, r.To)
	}
	if listViolations {
		for _, violation := range snap.Graph.Violations() {
			fmt.Fprintf(out, "violation: %v\n", violation)
		}
	}
	fmt.Fprint(w, out.String())
}
