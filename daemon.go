package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ssgreg/repeat"

	"github.com/byta-labs/stakedash/internal/lib/api"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

// GraphRefresher is satisfied by *referral.LogSource.
type GraphRefresher interface {
	Refresh(ctx context.Context) (*referral.GraphSnapshot, error)
}

// Daemon serves the read API and, for the log backed team source, keeps the referral graph snapshot current
// so requests rarely pay for a scan.
type Daemon struct {
	logger         *slog.Logger
	refresher      GraphRefresher
	handler        http.Handler
	listen         string
	refreshMinutes int

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	lastRefresh *referral.GraphSnapshot
}

func newDaemon() (*Daemon, error) {
	d := &Daemon{
		logger:         App.logger,
		listen:         App.local.Daemon.Listen,
		refreshMinutes: App.local.Daemon.RefreshMinutes,
	}
	cfg := api.Config{
		Logger:    App.logger,
		Projector: App.projector,
		Teams:     App.teams,
		Claims:    App.bytaClient,
		Scanner:   App.scanner,
		Lookback:  App.local.Lookback(App.network),
	}
	if App.logSource != nil {
		d.refresher = App.logSource
		cfg.Graph = d.LastRefresh
	}
	handler, err := api.New(cfg)
	if err != nil {
		return nil, err
	}
	d.handler = handler
	return d, nil
}

func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	d.logger.Info("Starting stakedash daemon", "listen", d.listen)

	if d.refresher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.GraphWatcher(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.serve(ctx); err != nil {
			errc <- err
		}
	}()
}

func (d *Daemon) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.listen,
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		d.logger.Info("http server stopped")
		return nil
	}
	return fmt.Errorf("http server: %w", err)
}

// GraphWatcher refreshes the referral graph at startup and then at every refreshMinutes boundary of the
// wall clock, so multiple instances refresh in step.
func (d *Daemon) GraphWatcher(ctx context.Context) {
	defer d.logger.Info("Exiting GraphWatcher")
	d.logger.Info("Starting GraphWatcher", "refresh minutes", d.refreshMinutes)

	d.refreshGraph(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(durationToNextEpoch(time.Now(), d.refreshMinutes)):
			d.refreshGraph(ctx)
		}
	}
}

// refreshRetries is how many times a failed graph refresh is retried before waiting for the next epoch.
const refreshRetries = 2

func (d *Daemon) refreshGraph(ctx context.Context) {
	var snap *referral.GraphSnapshot
	err := repeat.Repeat(
		repeat.Fn(func() error {
			var err error
			snap, err = d.refresher.Refresh(ctx)
			if err != nil && ctx.Err() == nil {
				return repeat.HintTemporary(err)
			}
			return err
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(refreshRetries),
		repeat.FnOnError(func(err error) error {
			misc.Warnf(d.logger, "referral graph refresh failed: %v", err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContext(ctx),
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 5 * time.Second,
				MaxDelay:  30 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		return
	}
	d.Lock()
	d.lastRefresh = snap
	d.Unlock()
	misc.Infof(d.logger, "referral graph at block %d: %d edges, %d missing ranges, %d violations",
		snap.NextBlock, snap.Graph.Len(), len(snap.Missing), len(snap.Graph.Violations()))
}

// LastRefresh returns the snapshot from the most recent successful refresh, nil before the first.
func (d *Daemon) LastRefresh() *referral.GraphSnapshot {
	d.RLock()
	defer d.RUnlock()
	return d.lastRefresh
}

// durationToNextEpoch returns the time from curTime until the next multiple of epochMinutes, counted from
// midnight UTC. A time exactly on a boundary waits a full epoch.
func durationToNextEpoch(curTime time.Time, epochMinutes int) time.Duration {
	if epochMinutes <= 0 {
		epochMinutes = 1
	}
	epoch := time.Duration(epochMinutes) * time.Minute
	next := curTime.UTC().Truncate(epoch).Add(epoch)
	return next.Sub(curTime)
}
