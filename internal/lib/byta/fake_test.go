package byta

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/byta-labs/stakedash/internal/lib/scan"
)

var (
	stakingAddr = common.HexToAddress("0x5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e5a1e")
	tokenAddr   = common.HexToAddress("0x6C92453d460ea7d3745DB3e1D276083910Ce6713")
)

// revertError looks like go-ethereum's json-rpc revert error.
type revertError struct {
	data string
}

func (e revertError) Error() string  { return "execution reverted" }
func (e revertError) ErrorData() any { return e.data }

// fakeNode answers eth_call by method selector w/ abi packed canned outputs and eth_getLogs from a fixed set.
type fakeNode struct {
	t       *testing.T
	staking abi.ABI
	token   abi.ABI

	mu        sync.Mutex
	outputs   map[string][]any
	errs      map[string]error
	noCode    bool
	calls     map[string]int
	logs      []types.Log
	head      uint64
	failRange func(from uint64) error
}

func newFakeNode(t *testing.T) *fakeNode {
	staking, err := StakingABI()
	require.NoError(t, err)
	token, err := TokenABI()
	require.NoError(t, err)
	return &fakeNode{
		t:       t,
		staking: staking,
		token:   token,
		outputs: map[string][]any{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeNode) set(method string, outputs ...any) *fakeNode {
	f.outputs[method] = outputs
	return f
}

func (f *fakeNode) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if f.noCode {
		return nil, nil
	}
	contractABI := f.token
	if *msg.To == stakingAddr {
		contractABI = f.staking
	}
	method, err := contractABI.MethodById(msg.Data[:4])
	require.NoError(f.t, err)

	f.mu.Lock()
	f.calls[method.Name]++
	outputs, found := f.outputs[method.Name]
	callErr := f.errs[method.Name]
	f.mu.Unlock()

	if callErr != nil {
		return nil, callErr
	}
	if !found {
		return nil, revertError{data: "0x"}
	}
	packed, err := method.Outputs.Pack(outputs...)
	require.NoError(f.t, err, method.Name)
	return packed, nil
}

func (f *fakeNode) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeNode) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.failRange != nil {
		if err := f.failRange(from); err != nil {
			return nil, err
		}
	}
	var matched []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !topicsMatch(q.Topics, log.Topics) {
			continue
		}
		matched = append(matched, log)
	}
	return matched, nil
}

func topicsMatch(want [][]common.Hash, have []common.Hash) bool {
	for i, options := range want {
		if len(options) == 0 {
			continue
		}
		if i >= len(have) {
			return false
		}
		found := false
		for _, opt := range options {
			found = found || opt == have[i]
		}
		if !found {
			return false
		}
	}
	return true
}

// eventLog packs an event log the way the contract would emit it.
func (f *fakeNode) eventLog(event string, block uint64, index uint, indexed []common.Address, data ...any) types.Log {
	ev := f.staking.Events[event]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(f.t, err)
	topics := []common.Hash{ev.ID}
	for _, addr := range indexed {
		topics = append(topics, addressTopic(addr))
	}
	return types.Log{
		Address:     stakingAddr,
		Topics:      topics,
		Data:        packed,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
	}
}

func (f *fakeNode) scanner(t *testing.T) *scan.Scanner {
	s, err := scan.New(slog.Default(), f, scan.Config{ChunkSize: 800, ChunkTimeout: time.Second, Concurrency: 2})
	require.NoError(t, err)
	return s
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	client, err := New(slog.Default(), node, stakingAddr, tokenAddr)
	require.NoError(t, err)
	return client
}

var errNodeDown = errors.New("connection refused")

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
