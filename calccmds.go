package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/evm"
)

const (
	calcModeNormal   = "normal"
	calcModeLongTerm = "longterm"
)

func GetCalcCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "calc",
		Usage:  "What-if reward preview for a stake amount",
		Action: CalcPreview,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount of BYTA to stake, ie: 1000 or 1000.5",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "months",
				Usage: "Duration in months",
				Value: 12,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "normal or longterm - selects the preset monthly rate when --rate isn't given",
				Value: calcModeNormal,
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Monthly rate in percent, overriding the mode's preset",
			},
			&cli.BoolFlag{
				Name:  "compound",
				Usage: "Compound monthly",
			},
			&cli.IntFlag{
				Name:  "days",
				Usage: "Also show the exact contract accrual after this many days using the configured reward table",
			},
		},
	}
}

type calcInput struct {
	amount   string
	months   int
	mode     string
	rate     float64
	rateSet  bool
	compound bool
	days     int
}

func CalcPreview(_ context.Context, cmd *cli.Command) error {
	in := calcInput{
		amount:   cmd.String("amount"),
		months:   int(cmd.Int("months")),
		mode:     cmd.String("mode"),
		rate:     cmd.Float("rate"),
		rateSet:  cmd.IsSet("rate"),
		compound: cmd.Bool("compound"),
		days:     int(cmd.Int("days")),
	}
	if err := calcReport(os.Stdout, in, App.rewards); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func calcReport(w io.Writer, in calcInput, rewards accrual.Config) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(in.amount))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", in.amount, err)
	}
	rate := in.rate
	if !in.rateSet {
		switch in.mode {
		case calcModeNormal:
			rate = accrual.NormalMonthlyRatePercent
		case calcModeLongTerm:
			if rate, err = accrual.LongTermPreviewRate(in.months); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown mode %q, use %s or %s", in.mode, calcModeNormal, calcModeLongTerm)
		}
	}
	preview, err := accrual.CompoundingPreview(amount.InexactFloat64(), rate, in.months, in.compound)
	if err != nil {
		return err
	}

	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	style := "simple"
	if in.compound {
		style = "compounded monthly"
	}
	fmt.Fprintf(tw, "Amount:\t%s BYTA\n", amount.String())
	fmt.Fprintf(tw, "Rate:\t%s%% / month, %s\n", decimal.NewFromFloat(rate).String(), style)
	fmt.Fprintf(tw, "Months:\t%d\n", in.months)
	fmt.Fprintf(tw, "Reward:\t%s BYTA\n", decimal.NewFromFloat(preview.Reward).StringFixed(4))
	fmt.Fprintf(tw, "Final:\t%s BYTA\n", decimal.NewFromFloat(preview.Final).StringFixed(4))
	tw.Flush()

	if in.days > 0 {
		if err := exactAccrual(out, amount, in.days, rewards); err != nil {
			return err
		}
	}
	fmt.Fprint(w, out.String())
	return nil
}

// exactAccrual shows what the contract formula pays after days, unlocked and for every lock duration in the
// reward table.
func exactAccrual(out io.Writer, amount decimal.Decimal, days int, rewards accrual.Config) error {
	baseUnits, err := evm.ParseUnits(amount.String(), evm.TokenDecimals)
	if err != nil {
		return err
	}
	const lastClaim = int64(1)
	now := lastClaim + int64(days)*86400

	fmt.Fprintf(out, "\nContract accrual after %d days (%d bp per %ds):\n", days, rewards.BaseRateBP(), rewards.PeriodSeconds())
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Lock\tBonus\tPeriods\tReward\t")
	flat, err := accrual.FlatPeriodReward(accrual.Position{Amount: baseUnits, LastClaim: lastClaim}, rewards, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(tw, "none\t-\t%d\t%s\t\n", flat.Periods, evm.FormatToken(flat.Amount))
	for _, months := range rewards.LockMonths() {
		res, err := accrual.LockedBonusReward(accrual.Position{Amount: baseUnits, LastClaim: lastClaim, LockMonths: months}, rewards, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%dm\t%d bp\t%d\t%s\t\n", months, rewards.BonusBP(months), res.Periods, evm.FormatToken(res.Amount))
	}
	return tw.Flush()
}

func GetConfigCmdOpts() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the reward/scan config file",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write the config file w/ the current (default) values",
				Action: ConfigInit,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: ConfigShow,
			},
		},
	}
}

func ConfigInit(_ context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(App.configPath); err == nil && !cmd.Bool("force") {
		return cli.Exit(fmt.Errorf("%s already exists, use --force to overwrite", App.configPath), 1)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return SaveLocalConfig(App.logger, App.configPath, App.local)
}

func ConfigShow(_ context.Context, _ *cli.Command) error {
	source := App.configPath
	if !App.localFound {
		source += " (not present, showing defaults)"
	}
	fmt.Printf("# %s\n", source)
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(App.local); err != nil {
		return err
	}
	return encoder.Close()
}
