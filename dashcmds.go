package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/byta-labs/stakedash/internal/lib/dashboard"
	"github.com/byta-labs/stakedash/internal/lib/evm"
)

func GetDashboardCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "dashboard",
		Aliases:   []string{"dash"},
		Usage:     "Show balances, pending rewards, referral income and team counts for an address",
		ArgsUsage: "[address]",
		Before:    requireChain,
		Action:    DashboardShow,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "now",
				Usage: "Unix time to compute pending rewards at (default is the current time)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the raw snapshot as json",
			},
		},
	}
}

func DashboardShow(ctx context.Context, cmd *cli.Command) error {
	addr, err := addressArg(cmd)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if cmd.IsSet("now") {
		now = cmd.Int("now")
	}
	snap, err := App.projector.Project(ctx, addr, now)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if cmd.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	}
	printSnapshot(os.Stdout, snap)
	return nil
}

// addressArg returns the command's first argument as an address, prompting for it when running
// interactively and none was given.
func addressArg(cmd *cli.Command) (common.Address, error) {
	raw := strings.TrimSpace(cmd.Args().First())
	if raw == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return common.Address{}, cli.Exit(errors.New("an address argument is required"), 1)
		}
		var err error
		if raw, err = getAddress("Wallet address"); err != nil {
			return common.Address{}, err
		}
	}
	addr, err := evm.ParseAddress(raw)
	if err != nil {
		return common.Address{}, cli.Exit(err, 1)
	}
	return addr, nil
}

func getAddress(prompt string) (string, error) {
	result, err := (&promptui.Prompt{
		Label: prompt,
		Validate: func(s string) error {
			_, err := evm.ParseAddress(strings.TrimSpace(s))
			return err
		},
	}).Run()
	return strings.TrimSpace(result), err
}

func printSnapshot(w io.Writer, snap *dashboard.Snapshot) {
	failed := func(field string) string {
		if snap.FailedField(field) {
			return " (!)"
		}
		return ""
	}
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Address:\t%s\n", evm.CanonicalHex(snap.Address))
	fmt.Fprintf(tw, "As of:\t%s\n", time.Unix(snap.Now, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "Token price:\t$%s%s\n", evm.FormatUSD(snap.PriceUSD), failed(dashboard.FieldPrice))
	fmt.Fprintf(tw, "Balance:\t%s BYTA\t$%s%s\n", evm.FormatToken(snap.TokenBalance), evm.FormatUSD(snap.BalanceUSD), failed(dashboard.FieldBalance))
	fmt.Fprintf(tw, "Staked:\t%s BYTA\t$%s%s\n", evm.FormatToken(snap.Staked), evm.FormatUSD(snap.StakedUSD), failed(dashboard.FieldStake))
	fmt.Fprintf(tw, "Tier:\t%s%s\n", snap.TierName, failed(dashboard.FieldTier))
	fmt.Fprintf(tw, "Volume (L/R):\t$%s / $%s%s\n", evm.FormatUSD(snap.LeftVolumeUSD), evm.FormatUSD(snap.RightVolumeUSD), failed(dashboard.FieldVolumes))
	source := "contract"
	if !snap.RewardParamsOnChain {
		source = "configured"
	}
	fmt.Fprintf(tw, "Reward rate:\t%d bp / %ds (%s)\n", snap.RewardRateBP, snap.RewardPeriodSeconds, source)
	fmt.Fprintln(tw, "\t\t")

	p := snap.Pending
	fmt.Fprintln(tw, "Pending rewards\tBYTA\tUSD")
	fmt.Fprintf(tw, "  Staking (contract)\t%s\t$%s%s\n", evm.FormatToken(p.StakingToken), evm.FormatUSD(p.StakingUSD), failed(dashboard.FieldPendingStaking))
	fmt.Fprintf(tw, "  Staking (computed, %d periods)\t%s\t$%s%s\n", p.FlatPeriods, evm.FormatToken(p.Flat), evm.FormatUSD(p.FlatUSD), failed(dashboard.FieldFlatReward))
	fmt.Fprintf(tw, "  Daily\t%s\t$%s%s\n", evm.FormatToken(p.DailyToken), evm.FormatUSD(p.DailyUSD), failed(dashboard.FieldPendingDaily))
	fmt.Fprintf(tw, "  Locked\t%s\t$%s%s\n", evm.FormatToken(p.Locked), evm.FormatUSD(p.LockedUSD), failed(dashboard.FieldLocks))
	fmt.Fprintf(tw, "  Total\t%s\t$%s\n", evm.FormatToken(p.TotalToken), evm.FormatUSD(p.TotalUSD))
	fmt.Fprintf(tw, "Referral income:\t%s\t$%s (%d payments)%s\n", evm.FormatToken(snap.ReferralIncome),
		evm.FormatUSD(snap.ReferralIncomeUSD), snap.ReferralPayments, failed(dashboard.FieldReferralIncome))
	tw.Flush()

	if len(snap.Locks) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Lock\tAmount\tMonths\tBonus\tEnds\tPending\t")
		for _, lock := range snap.Locks {
			ends := time.Unix(lock.End, 0).UTC().Format(time.DateOnly)
			if lock.Matured {
				ends += " (matured)"
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d bp\t%s\t%s\t\n", lock.Index, evm.FormatToken(lock.Amount), lock.LockMonths,
				lock.BonusBP, ends, evm.FormatToken(lock.Pending))
		}
		tw.Flush()
	}

	fmt.Fprintln(out)
	team := snap.Team
	switch {
	case team.Unavailable:
		fmt.Fprintln(out, "Team: unavailable")
	default:
		fmt.Fprintf(out, "Team (%s): left %d, right %d, total %d\n", team.Backing, team.Left, team.Right, team.Total)
		if team.Incomplete {
			fmt.Fprintln(out, "  counts may be low, some data could not be read")
		}
	}
	for _, anomaly := range snap.Anomalies {
		fmt.Fprintf(out, "Anomaly: %s %s: %s\n", anomaly.Field, anomaly.Kind, anomaly.Detail)
	}
	for _, fe := range snap.Failed {
		fmt.Fprintf(out, "Failed: %s: %s\n", fe.Field, fe.Message)
	}
	fmt.Fprint(w, out.String())
}
