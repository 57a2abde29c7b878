// Package scan fetches contract logs over block ranges wider than a provider will answer in one query.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mailgun/holster/v4/syncutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/byta-labs/stakedash/internal/lib/misc"
)

var tracer = otel.Tracer("github.com/byta-labs/stakedash/internal/lib/scan")

// LogFilterer is the subset of ethclient.Client the scanner needs.
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Config struct {
	// ChunkSize is the max number of blocks per query (inclusive range length).
	ChunkSize uint64
	// ChunkTimeout bounds each individual query - a timed out chunk becomes a gap.
	ChunkTimeout time.Duration
	// Concurrency is the number of chunk queries in flight at once.
	Concurrency int
	// RequestsPerSecond limits query rate against the provider, 0 for no limit.
	RequestsPerSecond float64
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:         800,
		ChunkTimeout:      20 * time.Second,
		Concurrency:       4,
		RequestsPerSecond: 10,
	}
}

// Range is an inclusive block interval.
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.From, r.To)
}

// Gap is a chunk whose query failed. Err wraps ErrRangeQueryFailed.
type Gap struct {
	Range
	Err error
}

type Result struct {
	Range
	// Logs from every completed chunk, in ascending chunk order and provider order within each chunk.
	Logs []types.Log
	// Chunks is the number of sub-ranges [From, To] was divided into, Queried how many were actually sent.
	Chunks  int
	Queried int
	Gaps    []Gap
	// Pending lists chunks never completed because the scan was cancelled.
	Pending   []Range
	Cancelled bool
}

// Incomplete is true if any part of the requested range is missing from Logs.
func (r *Result) Incomplete() bool {
	return len(r.Gaps) > 0 || r.Cancelled
}

// Missing returns every range not covered - gaps and pending chunks, in block order.
func (r *Result) Missing() []Range {
	var missing []Range
	gi, pi := 0, 0
	for gi < len(r.Gaps) || pi < len(r.Pending) {
		if pi >= len(r.Pending) || (gi < len(r.Gaps) && r.Gaps[gi].From < r.Pending[pi].From) {
			missing = append(missing, r.Gaps[gi].Range)
			gi++
		} else {
			missing = append(missing, r.Pending[pi])
			pi++
		}
	}
	return missing
}

type Scanner struct {
	log     *slog.Logger
	client  LogFilterer
	cfg     Config
	limiter *rate.Limiter
}

func New(log *slog.Logger, client LogFilterer, cfg Config) (*Scanner, error) {
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidRange)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultConfig().ChunkTimeout
	}
	s := &Scanner{log: log, client: client, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}
	return s, nil
}

func (s *Scanner) ChunkSize() uint64 {
	return s.cfg.ChunkSize
}

// Head returns the current block number.
func (s *Scanner) Head(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// Chunks splits [from, to] into consecutive ranges of at most size blocks.
func Chunks(from, to, size uint64) []Range {
	if from > to || size == 0 {
		return nil
	}
	var ranges []Range
	for start := from; ; start += size {
		end := start + size - 1
		if end >= to || end < start { // end < start on overflow
			ranges = append(ranges, Range{From: start, To: to})
			return ranges
		}
		ranges = append(ranges, Range{From: start, To: end})
	}
}

type chunkOutcome struct {
	logs      []types.Log
	err       error
	cancelled bool
}

// Scan fetches all logs matching filter in [from, to]. Filter's block fields are ignored. A failed chunk
// is recorded as a Gap and scanning continues. If ctx is cancelled, no further chunks are started and the
// completed ones are returned with the remainder listed in Pending. The only errors returned are for
// invalid arguments.
func (s *Scanner) Scan(ctx context.Context, filter ethereum.FilterQuery, from, to uint64) (*Result, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, from, to)
	}
	ranges := Chunks(from, to, s.cfg.ChunkSize)

	ctx, span := tracer.Start(ctx, "scan.Scan", trace.WithAttributes(
		attribute.Int64("scan.from", int64(from)),
		attribute.Int64("scan.to", int64(to)),
		attribute.Int("scan.chunks", len(ranges)),
	))
	defer span.End()
	start := time.Now()

	var (
		outcomes   = make([]chunkOutcome, len(ranges))
		dispatched = make([]bool, len(ranges))
		queried    atomic.Int64
	)
	fanOut := syncutil.NewFanOut(s.cfg.Concurrency)
	for i := range ranges {
		if ctx.Err() != nil {
			break
		}
		dispatched[i] = true
		fanOut.Run(func(val any) error {
			idx := val.(int)
			outcomes[idx] = s.queryChunk(ctx, filter, ranges[idx], &queried)
			return nil
		}, i)
	}
	fanOut.Wait()

	result := &Result{
		Range:   Range{From: from, To: to},
		Chunks:  len(ranges),
		Queried: int(queried.Load()),
	}
	for i, rng := range ranges {
		outcome := outcomes[i]
		switch {
		case !dispatched[i] || outcome.cancelled:
			result.Pending = append(result.Pending, rng)
			promChunks.WithLabelValues("cancelled").Inc()
		case outcome.err != nil:
			result.Gaps = append(result.Gaps, Gap{Range: rng, Err: outcome.err})
			promChunks.WithLabelValues("failed").Inc()
			promGaps.Inc()
			misc.Warnf(s.log, "skipping blocks %s: %v", rng, outcome.err)
		default:
			result.Logs = append(result.Logs, outcome.logs...)
			promChunks.WithLabelValues("ok").Inc()
		}
	}
	result.Cancelled = len(result.Pending) > 0
	promLogs.Add(float64(len(result.Logs)))
	promScanSeconds.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("scan.logs", len(result.Logs)),
		attribute.Int("scan.gaps", len(result.Gaps)),
		attribute.Bool("scan.cancelled", result.Cancelled),
	)
	if result.Cancelled {
		misc.Infof(s.log, "scan of %s cancelled, %d of %d chunks pending", result.Range, len(result.Pending), len(ranges))
	}
	return result, nil
}

// ScanRecent scans the last lookback blocks up to and including the current head.
func (s *Scanner) ScanRecent(ctx context.Context, filter ethereum.FilterQuery, lookback uint64) (*Result, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching head block: %w", err)
	}
	var from uint64
	if head > lookback {
		from = head - lookback
	}
	return s.Scan(ctx, filter, from, head)
}

func (s *Scanner) queryChunk(ctx context.Context, filter ethereum.FilterQuery, rng Range, queried *atomic.Int64) chunkOutcome {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return chunkOutcome{cancelled: true}
			}
			return chunkOutcome{err: fmt.Errorf("%w: %s: %w", ErrRangeQueryFailed, rng, err)}
		}
	}
	if ctx.Err() != nil {
		return chunkOutcome{cancelled: true}
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	defer cancel()

	query := filter
	query.BlockHash = nil
	query.FromBlock = new(big.Int).SetUint64(rng.From)
	query.ToBlock = new(big.Int).SetUint64(rng.To)
	queried.Add(1)
	logs, err := s.client.FilterLogs(queryCtx, query)
	if err != nil {
		if ctx.Err() != nil {
			return chunkOutcome{cancelled: true}
		}
		return chunkOutcome{err: fmt.Errorf("%w: %s: %w", ErrRangeQueryFailed, rng, err)}
	}
	return chunkOutcome{logs: logs}
}
