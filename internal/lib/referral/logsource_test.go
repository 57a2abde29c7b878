package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

var (
	contract    = common.HexToAddress("0x5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e")
	referrerSet = common.HexToHash("0x01")
)

// fakeLogs is a chain holding ReferrerSet style logs: topics [sig, user, referrer], data [isLeft].
type fakeLogs struct {
	sync.Mutex
	head      uint64
	headErr   error
	headCalls int
	logs      []types.Log
	failAt    map[uint64]bool
	queries   []scan.Range
}

func (f *fakeLogs) BlockNumber(ctx context.Context) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	f.headCalls++
	return f.head, f.headErr
}

func (f *fakeLogs) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.Lock()
	defer f.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, scan.Range{From: from, To: to})
	if f.failAt[from] {
		return nil, fmt.Errorf("upstream timeout")
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLogs) add(block uint64, user, referrer common.Address, side Side) {
	isLeft := byte(0)
	if side == Left {
		isLeft = 1
	}
	f.logs = append(f.logs, types.Log{
		Address:     contract,
		Topics:      []common.Hash{referrerSet, common.BytesToHash(user.Bytes()), common.BytesToHash(referrer.Bytes())},
		Data:        []byte{isLeft},
		BlockNumber: block,
	})
}

func (f *fakeLogs) resetQueries() {
	f.Lock()
	defer f.Unlock()
	f.queries = nil
}

type fakeDecoder struct {
	unsupported bool
}

func (d fakeDecoder) ReferrerSetFilter() (ethereum.FilterQuery, error) {
	if d.unsupported {
		return ethereum.FilterQuery{}, fmt.Errorf("%w: event ReferrerSet not in abi", byta.ErrUnsupportedContractShape)
	}
	return ethereum.FilterQuery{Addresses: []common.Address{contract}, Topics: [][]common.Hash{{referrerSet}}}, nil
}

func (d fakeDecoder) DecodeReferrerSet(log types.Log) (byta.ReferrerSet, error) {
	if len(log.Topics) != 3 || len(log.Data) != 1 {
		return byta.ReferrerSet{}, byta.ErrUndecodableLog
	}
	return byta.ReferrerSet{
		User:     common.BytesToAddress(log.Topics[1].Bytes()),
		Referrer: common.BytesToAddress(log.Topics[2].Bytes()),
		IsLeft:   log.Data[0] == 1,
		Block:    log.BlockNumber,
		Index:    log.Index,
	}, nil
}

func newTestLogSource(t *testing.T, chain *fakeLogs, decoder EventDecoder, staleness time.Duration) *LogSource {
	scanner, err := scan.New(slog.Default(), chain, scan.Config{ChunkSize: 100, ChunkTimeout: time.Second, Concurrency: 3})
	require.NoError(t, err)
	return NewLogSource(slog.Default(), scanner, decoder, nil, LogSourceConfig{
		Contract:     contract,
		StartBlock:   1000,
		MaxStaleness: staleness,
	})
}

func TestLogSourceTeam(t *testing.T) {
	chain := &fakeLogs{head: 1500}
	chain.add(1010, a, root, Left)
	chain.add(1120, b, root, Right)
	chain.add(1350, c, a, Left)
	chain.logs = append(chain.logs, types.Log{BlockNumber: 1400, Topics: []common.Hash{referrerSet}}) // garbage

	source := newTestLogSource(t, chain, fakeDecoder{}, time.Hour)
	team, err := source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, BackingLogs, team.Backing)
	assert.Equal(t, 2, team.LeftCount)
	assert.Equal(t, 1, team.RightCount)
	assert.False(t, team.Incomplete)

	snap := source.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1501), snap.NextBlock)
	assert.Equal(t, 1, snap.Undecodable)
	assert.Len(t, chain.queries, 6)

	// fresh snapshot is served w/o touching the chain
	chain.resetQueries()
	_, err = source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, chain.queries)
}

func TestLogSourceRetriesGaps(t *testing.T) {
	chain := &fakeLogs{head: 1299, failAt: map[uint64]bool{1100: true}}
	chain.add(1010, a, root, Left)
	chain.add(1150, b, root, Right) // inside the failing chunk
	chain.add(1250, c, b, Left)

	source := newTestLogSource(t, chain, fakeDecoder{}, 0)
	team, err := source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, team.Incomplete)
	assert.Equal(t, 1, team.LeftCount)
	assert.Equal(t, 0, team.RightCount)
	first := source.Snapshot()
	assert.Equal(t, []scan.Range{{From: 1100, To: 1199}}, first.Missing)

	// provider recovers, chain moves on
	chain.Lock()
	chain.failAt = nil
	chain.head = 1350
	chain.Unlock()
	chain.add(1320, d, a, Right)
	chain.resetQueries()

	team, err = source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, team.Incomplete)
	assert.Equal(t, 2, team.LeftCount)
	assert.Equal(t, 2, team.RightCount)
	assert.ElementsMatch(t, []scan.Range{{From: 1100, To: 1199}, {From: 1300, To: 1350}}, chain.queries)

	// the earlier snapshot is untouched
	assert.Equal(t, 2, first.Graph.Len())
	assert.Equal(t, uint64(1300), first.NextBlock)
}

func TestLogSourceServesStaleOnRefreshFailure(t *testing.T) {
	chain := &fakeLogs{head: 1100}
	chain.add(1010, a, root, Left)
	source := newTestLogSource(t, chain, fakeDecoder{}, 0)
	_, err := source.Refresh(context.Background())
	require.NoError(t, err)

	chain.Lock()
	chain.headErr = errors.New("503 service unavailable")
	chain.Unlock()
	team, err := source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, team.LeftCount)

	empty := newTestLogSource(t, chain, fakeDecoder{}, 0)
	_, err = empty.TeamOf(context.Background(), root)
	assert.Error(t, err)
}

func TestLogSourceBeforeDeployBlock(t *testing.T) {
	chain := &fakeLogs{head: 500}
	source := newTestLogSource(t, chain, fakeDecoder{}, time.Hour)
	team, err := source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, team.TotalTeam)
	assert.Empty(t, chain.queries)
	assert.Equal(t, uint64(1000), source.Snapshot().NextBlock)
}

func TestLogSourceViolationsSurface(t *testing.T) {
	chain := &fakeLogs{head: 1100}
	chain.add(1010, a, root, Left)
	chain.add(1020, a, b, Right)
	source := newTestLogSource(t, chain, fakeDecoder{}, time.Hour)
	team, err := source.TeamOf(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, team.LeftCount)
	require.Len(t, team.Violations, 1)
	assert.Equal(t, b, team.Violations[0].Conflicting.Referrer)
}

func TestLogSourceGapRetryMatchesCleanBuild(t *testing.T) {
	chain := &fakeLogs{head: 1299, failAt: map[uint64]bool{1100: true}}
	chain.add(1010, a, root, Left)
	chain.add(1150, b, root, Right) // inside the failing chunk
	chain.add(1250, b, a, Left)     // conflicts with the 1150 placement
	chain.add(1260, c, root, Left)

	source := newTestLogSource(t, chain, fakeDecoder{}, 0)
	first, err := source.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Missing, 1)

	chain.Lock()
	chain.failAt = nil
	chain.Unlock()
	snap, err := source.Refresh(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Missing)

	var edges []Edge
	for _, l := range chain.logs {
		event, err := fakeDecoder{}.DecodeReferrerSet(l)
		require.NoError(t, err)
		edges = append(edges, Edge{Referrer: event.Referrer, Referred: event.User, Side: SideOf(event.IsLeft), Block: event.Block})
	}
	clean := Build(edges)

	assert.Equal(t, clean.Children(root), snap.Graph.Children(root))
	assert.Equal(t, clean.Children(a), snap.Graph.Children(a))
	parent, found := snap.Graph.Referrer(b)
	require.True(t, found)
	assert.Equal(t, root, parent.Referrer)
	assert.Equal(t, Right, parent.Side)

	require.Len(t, snap.Graph.Violations(), 1)
	assert.Equal(t, clean.Violations()[0].Conflicting, snap.Graph.Violations()[0].Conflicting)
	assert.Equal(t, uint64(1250), snap.Graph.Violations()[0].Block)

	want := TeamFromGraph(clean, root, BackingLogs)
	got := TeamFromGraph(snap.Graph, root, BackingLogs)
	assert.Equal(t, 2, got.LeftCount)
	assert.Equal(t, 1, got.RightCount)
	assert.Equal(t, want.LeftCount, got.LeftCount)
	assert.Equal(t, want.RightCount, got.RightCount)

	// the snapshot being replaced keeps its own view
	parent, _ = first.Graph.Referrer(b)
	assert.Equal(t, a, parent.Referrer)
}

func TestLogSourceAppendsNewBlocks(t *testing.T) {
	chain := &fakeLogs{head: 1100}
	chain.add(1010, a, root, Left)
	source := newTestLogSource(t, chain, fakeDecoder{}, 0)
	_, err := source.Refresh(context.Background())
	require.NoError(t, err)

	chain.Lock()
	chain.head = 1200
	chain.Unlock()
	chain.add(1150, b, a, Right)
	snap, err := source.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Edge{
		{Referrer: root, Referred: a, Side: Left, Block: 1010},
		{Referrer: a, Referred: b, Side: Right, Block: 1150},
	}, snap.Graph.Edges())
}

func TestLogSourceHeadAttempts(t *testing.T) {
	chain := &fakeLogs{head: 1100, headErr: errors.New("503 service unavailable")}
	source := newTestLogSource(t, chain, fakeDecoder{}, 0)
	_, err := source.Refresh(context.Background())
	require.Error(t, err)
	chain.Lock()
	defer chain.Unlock()
	assert.Equal(t, 3, chain.headCalls)
}
