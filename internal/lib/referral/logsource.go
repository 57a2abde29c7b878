package referral

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ssgreg/repeat"
	"golang.org/x/sync/singleflight"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

// RangeScanner is satisfied by *scan.Scanner.
type RangeScanner interface {
	Head(ctx context.Context) (uint64, error)
	Scan(ctx context.Context, filter ethereum.FilterQuery, from, to uint64) (*scan.Result, error)
}

// EventDecoder is satisfied by *byta.Client.
type EventDecoder interface {
	ReferrerSetFilter() (ethereum.FilterQuery, error)
	DecodeReferrerSet(log types.Log) (byta.ReferrerSet, error)
}

type CacheKey struct {
	Contract   common.Address
	StartBlock uint64
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s@%d", evm.CanonicalHex(k.Contract), k.StartBlock)
}

// GraphSnapshot is the referral graph built from every ReferrerSet log in [StartBlock, NextBlock) except
// those in Missing. Snapshots are never modified once stored.
type GraphSnapshot struct {
	Key       CacheKey
	Graph     *Graph
	NextBlock uint64
	Missing   []scan.Range
	// Undecodable is the running count of logs matching the filter that didn't decode.
	Undecodable int
	BuiltAt     time.Time
}

func (s *GraphSnapshot) Incomplete() bool {
	return len(s.Missing) > 0
}

// GraphCache holds the latest snapshot per key. Entries are swapped whole.
type GraphCache struct {
	sync.RWMutex
	entries map[CacheKey]*GraphSnapshot
}

func NewGraphCache() *GraphCache {
	return &GraphCache{entries: map[CacheKey]*GraphSnapshot{}}
}

func (c *GraphCache) Get(key CacheKey) *GraphSnapshot {
	c.RLock()
	defer c.RUnlock()
	return c.entries[key]
}

func (c *GraphCache) Put(snap *GraphSnapshot) {
	c.Lock()
	defer c.Unlock()
	c.entries[snap.Key] = snap
}

type LogSourceConfig struct {
	Contract   common.Address
	StartBlock uint64
	// MaxStaleness is how old a cached snapshot may be before TeamOf refreshes it first. Zero always refreshes.
	MaxStaleness time.Duration
}

// LogSource builds teams from the staking contract's ReferrerSet history.
type LogSource struct {
	log          *slog.Logger
	scanner      RangeScanner
	decoder      EventDecoder
	cache        *GraphCache
	key          CacheKey
	maxStaleness time.Duration
	now          func() time.Time

	group singleflight.Group
}

func NewLogSource(log *slog.Logger, scanner RangeScanner, decoder EventDecoder, cache *GraphCache, cfg LogSourceConfig) *LogSource {
	if cache == nil {
		cache = NewGraphCache()
	}
	return &LogSource{
		log:          log,
		scanner:      scanner,
		decoder:      decoder,
		cache:        cache,
		key:          CacheKey{Contract: cfg.Contract, StartBlock: cfg.StartBlock},
		maxStaleness: cfg.MaxStaleness,
		now:          time.Now,
	}
}

func (s *LogSource) Name() string {
	return BackingLogs
}

// Snapshot returns the cached snapshot w/o refreshing - nil if nothing has been built yet.
func (s *LogSource) Snapshot() *GraphSnapshot {
	return s.cache.Get(s.key)
}

func (s *LogSource) TeamOf(ctx context.Context, root common.Address) (*Team, error) {
	snap := s.cache.Get(s.key)
	if snap == nil || s.now().Sub(snap.BuiltAt) > s.maxStaleness || s.maxStaleness <= 0 {
		fresh, err := s.Refresh(ctx)
		switch {
		case err == nil:
			snap = fresh
		case snap != nil && !errors.Is(err, byta.ErrUnsupportedContractShape):
			misc.Warnf(s.log, "graph refresh failed, serving snapshot built %s: %v", snap.BuiltAt.Format(time.RFC3339), err)
		default:
			return nil, err
		}
	}
	team := TeamFromGraph(snap.Graph, root, BackingLogs)
	team.Incomplete = snap.Incomplete()
	return team, nil
}

// Refresh scans blocks added since the last snapshot plus any ranges that previously failed, and stores
// the result as the new snapshot. Concurrent callers share one refresh.
func (s *LogSource) Refresh(ctx context.Context) (*GraphSnapshot, error) {
	val, err, _ := s.group.Do(s.key.String(), func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return val.(*GraphSnapshot), nil
}

func (s *LogSource) refresh(ctx context.Context) (*GraphSnapshot, error) {
	filter, err := s.decoder.ReferrerSetFilter()
	if err != nil {
		return nil, err
	}
	head, err := s.head(ctx)
	if err != nil {
		return nil, err
	}

	prev := s.cache.Get(s.key)
	next := s.key.StartBlock
	var todo []scan.Range
	if prev != nil {
		next = prev.NextBlock
		todo = append(todo, prev.Missing...)
	}
	if next <= head {
		todo = append(todo, scan.Range{From: next, To: head})
		next = head + 1
	}

	var (
		logs    []types.Log
		missing []scan.Range
	)
	for _, rng := range todo {
		if ctx.Err() != nil {
			missing = append(missing, rng)
			continue
		}
		res, err := s.scanner.Scan(ctx, filter, rng.From, rng.To)
		if err != nil {
			return nil, err
		}
		logs = append(logs, res.Logs...)
		missing = append(missing, res.Missing()...)
	}
	slices.SortFunc(missing, func(a, b scan.Range) int { return cmp.Compare(a.From, b.From) })

	snap := &GraphSnapshot{Key: s.key, NextBlock: next, Missing: missing, BuiltAt: s.now()}
	edges := make([]Edge, 0, len(logs))
	if prev != nil {
		snap.Undecodable = prev.Undecodable
	}
	for _, log := range logs {
		event, err := s.decoder.DecodeReferrerSet(log)
		if err != nil {
			snap.Undecodable++
			promUndecodable.Inc()
			misc.Debugf(s.log, "skipping referral log: %v", err)
			continue
		}
		edges = append(edges, Edge{
			Referrer: event.Referrer,
			Referred: event.User,
			Side:     SideOf(event.IsLeft),
			Block:    event.Block,
			LogIndex: event.Index,
		})
	}
	sortEdges(edges)

	var prior []Violation
	switch {
	case prev == nil:
		snap.Graph = Build(edges)
	case recoversGap(prev, edges):
		// logs from a retried gap predate edges already in the graph, so rebuild in log order
		all := append(prev.Graph.Edges(), edges...)
		sortEdges(all)
		snap.Graph = Build(all)
		prior = prev.Graph.violations
	default:
		snap.Graph = prev.Graph.With(edges)
		prior = prev.Graph.violations
	}
	for _, v := range snap.Graph.violations {
		if slices.ContainsFunc(prior, func(p Violation) bool { return sameViolation(p, v) }) {
			continue
		}
		misc.Warnf(s.log, "referral integrity violation, %v", v)
		promViolations.Inc()
	}

	s.cache.Put(snap)
	promGraphEdges.Set(float64(snap.Graph.Len()))
	promGraphGaps.Set(float64(len(snap.Missing)))
	promGraphHead.Set(float64(snap.NextBlock))
	misc.Infof(s.log, "referral graph %s: %d edges, %d new logs, next block %d, %d missing ranges",
		s.key, snap.Graph.Len(), len(logs), snap.NextBlock, len(snap.Missing))
	return snap, nil
}

func sortEdges(edges []Edge) {
	slices.SortStableFunc(edges, func(a, b Edge) int {
		if c := cmp.Compare(a.Block, b.Block); c != 0 {
			return c
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})
}

// recoversGap reports whether any new edge falls below the previous snapshot's scan head.
func recoversGap(prev *GraphSnapshot, edges []Edge) bool {
	return slices.ContainsFunc(edges, func(e Edge) bool { return e.Block < prev.NextBlock })
}

func sameViolation(a, b Violation) bool {
	return a.Reason == b.Reason && a.Conflicting == b.Conflicting
}

// headRetries is the number of head fetch retries after the first attempt.
const headRetries = 2

func (s *LogSource) head(ctx context.Context) (uint64, error) {
	var head uint64
	err := repeat.Repeat(
		repeat.Fn(func() error {
			var err error
			head, err = s.scanner.Head(ctx)
			if err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(headRetries),
		repeat.FnOnError(func(err error) error {
			misc.Debugf(s.log, "retrying head block fetch, error:%v", err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContext(ctx),
			(&repeat.FullJitterBackoffBuilder{BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}).Set(),
		),
	)
	if err != nil {
		return 0, fmt.Errorf("fetching head block: %w", err)
	}
	return head, nil
}
