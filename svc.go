package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/byta-labs/stakedash/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Serve the dashboard/team API and keep the referral graph warm",
		Before:  requireChain,
		Action:  runAsDaemon,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address for the HTTP API, overriding the config file",
				Sources: cli.EnvVars("BYTA_LISTEN"),
			},
			&cli.IntFlag{
				Name:  "refresh",
				Usage: "Minutes between referral graph refreshes, overriding the config file",
			},
		},
	}
}

func runAsDaemon(ctx context.Context, cmd *cli.Command) error {
	var wg sync.WaitGroup

	if listen := cmd.String("listen"); listen != "" {
		App.local.Daemon.Listen = listen
	}
	if refresh := cmd.Int("refresh"); refresh > 0 {
		App.local.Daemon.RefreshMinutes = int(refresh)
	}
	daemon, err := newDaemon()
	if err != nil {
		return err
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error, 2)

	// SIGINT and SIGTERM stop the services gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	daemon.start(ctx, &wg, errc)

	misc.Infof(App.logger, "exiting (%v)", <-errc) // wait for termination signal or server failure

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on background tasks..")
	wg.Wait()

	misc.Infof(App.logger, "exited")
	return nil
}
