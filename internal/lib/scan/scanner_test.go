package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var errProvider = errors.New("query returned more than 1000 results")

// fakeChain answers each FilterLogs with two logs, one at each end of the range, unless fail says otherwise.
type fakeChain struct {
	sync.Mutex
	head    uint64
	queries []ethereum.FilterQuery
	fail    func(q ethereum.FilterQuery) error
	delay   func(q ethereum.FilterQuery) time.Duration
	onQuery func(n int)
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.Lock()
	f.queries = append(f.queries, q)
	n := len(f.queries)
	f.Unlock()
	if f.onQuery != nil {
		f.onQuery(n)
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(q)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(q); err != nil {
			return nil, err
		}
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	return []types.Log{{BlockNumber: from, Index: 0}, {BlockNumber: to, Index: 1}}, nil
}

func testScanner(t *testing.T, chain *fakeChain, concurrency int) *Scanner {
	s, err := New(slog.Default(), chain, Config{ChunkSize: 800, ChunkTimeout: time.Second, Concurrency: concurrency})
	require.NoError(t, err)
	return s
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []Range{{0, 799}, {800, 1599}, {1600, 2000}}, Chunks(0, 2000, 800))
	assert.Equal(t, []Range{{5, 5}}, Chunks(5, 5, 800))
	assert.Equal(t, []Range{{0, 799}}, Chunks(0, 799, 800))
	assert.Len(t, Chunks(0, 10000, 800), 13)
	assert.Nil(t, Chunks(10, 9, 800))
	assert.Len(t, Chunks(^uint64(0)-10, ^uint64(0), 800), 1)
}

func TestScanInBlockOrder(t *testing.T) {
	chain := &fakeChain{
		// later chunks answer first
		delay: func(q ethereum.FilterQuery) time.Duration {
			return time.Duration(10000-q.FromBlock.Uint64()) * time.Microsecond
		},
	}
	res, err := testScanner(t, chain, 5).Scan(context.Background(), ethereum.FilterQuery{}, 0, 10000)
	require.NoError(t, err)

	assert.Equal(t, 13, res.Chunks)
	assert.Equal(t, 13, res.Queried)
	assert.Len(t, chain.queries, 13)
	assert.False(t, res.Incomplete())
	require.Len(t, res.Logs, 26)
	for i := 1; i < len(res.Logs); i++ {
		assert.LessOrEqual(t, res.Logs[i-1].BlockNumber, res.Logs[i].BlockNumber)
	}
	assert.Equal(t, uint64(10000), res.Logs[25].BlockNumber)
}

func TestScanSkipsFailedChunk(t *testing.T) {
	chain := &fakeChain{
		fail: func(q ethereum.FilterQuery) error {
			if q.FromBlock.Uint64() == 1600 { // chunk #3
				return errProvider
			}
			return nil
		},
	}
	res, err := testScanner(t, chain, 4).Scan(context.Background(), ethereum.FilterQuery{}, 0, 10000)
	require.NoError(t, err)

	assert.Equal(t, 13, res.Queried)
	assert.True(t, res.Incomplete())
	assert.False(t, res.Cancelled)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, Range{1600, 2399}, res.Gaps[0].Range)
	assert.ErrorIs(t, res.Gaps[0].Err, ErrRangeQueryFailed)
	assert.ErrorIs(t, res.Gaps[0].Err, errProvider)
	assert.Equal(t, []Range{{1600, 2399}}, res.Missing())

	require.Len(t, res.Logs, 24)
	for i := 1; i < len(res.Logs); i++ {
		assert.LessOrEqual(t, res.Logs[i-1].BlockNumber, res.Logs[i].BlockNumber)
	}
	for _, l := range res.Logs {
		assert.False(t, l.BlockNumber >= 1600 && l.BlockNumber <= 2399)
	}
}

func TestScanTimeoutIsGap(t *testing.T) {
	chain := &fakeChain{
		delay: func(q ethereum.FilterQuery) time.Duration {
			if q.FromBlock.Uint64() == 800 {
				return time.Minute
			}
			return 0
		},
	}
	s, err := New(slog.Default(), chain, Config{ChunkSize: 800, ChunkTimeout: 20 * time.Millisecond, Concurrency: 2})
	require.NoError(t, err)
	res, err := s.Scan(context.Background(), ethereum.FilterQuery{}, 0, 2399)
	require.NoError(t, err)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, Range{800, 1599}, res.Gaps[0].Range)
	assert.ErrorIs(t, res.Gaps[0].Err, context.DeadlineExceeded)
	assert.Len(t, res.Logs, 4)
}

func TestScanCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain := &fakeChain{}
	chain.onQuery = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	chain.fail = func(q ethereum.FilterQuery) error {
		if q.FromBlock.Uint64() == 1600 {
			return ctx.Err()
		}
		return nil
	}
	res, err := testScanner(t, chain, 1).Scan(ctx, ethereum.FilterQuery{}, 0, 10000)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.True(t, res.Incomplete())
	assert.Empty(t, res.Gaps)
	assert.Equal(t, 3, res.Queried)
	assert.Len(t, res.Logs, 4)
	require.Len(t, res.Pending, 11)
	assert.Equal(t, Range{1600, 2399}, res.Pending[0])
	assert.Equal(t, Range{9600, 10000}, res.Pending[10])
}

func TestScanRecent(t *testing.T) {
	addr := common.HexToAddress("0x01")
	chain := &fakeChain{head: 30000}
	res, err := testScanner(t, chain, 2).ScanRecent(context.Background(), ethereum.FilterQuery{Addresses: []common.Address{addr}}, 20000)
	require.NoError(t, err)
	assert.Equal(t, Range{10000, 30000}, res.Range)
	assert.Equal(t, 26, res.Chunks)
	for _, q := range chain.queries {
		assert.Equal(t, []common.Address{addr}, q.Addresses)
	}

	chain = &fakeChain{head: 100}
	res, err = testScanner(t, chain, 2).ScanRecent(context.Background(), ethereum.FilterQuery{}, 20000)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 100}, res.Range)
}

func TestScanInvalidArgs(t *testing.T) {
	_, err := New(slog.Default(), &fakeChain{}, Config{})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = testScanner(t, &fakeChain{}, 1).Scan(context.Background(), ethereum.FilterQuery{}, 10, 9)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
