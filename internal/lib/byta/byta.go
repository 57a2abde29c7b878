// Package byta is a read-only client for the BYTA staking and token contracts.
package byta

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed artifacts/*.abi.json
var artifacts embed.FS

// ContractCaller is the subset of ethclient.Client used for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Client struct {
	Logger *slog.Logger
	caller ContractCaller

	StakingAddress common.Address
	TokenAddress   common.Address

	stakingABI abi.ABI
	tokenABI   abi.ABI
}

func New(logger *slog.Logger, caller ContractCaller, staking, token common.Address) (*Client, error) {
	if staking == (common.Address{}) {
		return nil, fmt.Errorf("staking contract address not set")
	}
	if token == (common.Address{}) {
		return nil, fmt.Errorf("token contract address not set")
	}
	stakingABI, err := StakingABI()
	if err != nil {
		return nil, err
	}
	tokenABI, err := TokenABI()
	if err != nil {
		return nil, err
	}
	return &Client{
		Logger:         logger,
		caller:         caller,
		StakingAddress: staking,
		TokenAddress:   token,
		stakingABI:     stakingABI,
		tokenABI:       tokenABI,
	}, nil
}

// StakingABI is the embedded staking contract abi.
func StakingABI() (abi.ABI, error) {
	return loadABI("artifacts/BytaStaking.abi.json")
}

// TokenABI is the embedded token contract abi.
func TokenABI() (abi.ABI, error) {
	return loadABI("artifacts/BytaToken.abi.json")
}

func loadABI(fname string) (abi.ABI, error) {
	data, err := artifacts.ReadFile(fname)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("reading abi %s: %w", fname, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parsing abi %s: %w", fname, err)
	}
	return parsed, nil
}

// call performs an eth_call of method against the latest block and returns the unpacked outputs.
func (c *Client) call(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error) {
	if _, found := contractABI.Methods[method]; !found {
		promViewCalls.WithLabelValues(method, "unsupported").Inc()
		return nil, fmt.Errorf("%w: %s not in abi", ErrUnsupportedContractShape, method)
	}
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		err = classifyCallError(method, err)
		promViewCalls.WithLabelValues(method, outcomeLabel(err)).Inc()
		return nil, err
	}
	if len(output) == 0 {
		// eth_call against an address w/ no code succeeds w/ empty output
		promViewCalls.WithLabelValues(method, "unsupported").Inc()
		return nil, fmt.Errorf("%w: %s returned no data from %s", ErrUnsupportedContractShape, method, contract.Hex())
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		promViewCalls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	promViewCalls.WithLabelValues(method, "ok").Inc()
	return values, nil
}

func (c *Client) callStaking(ctx context.Context, method string, args ...any) ([]any, error) {
	return c.call(ctx, c.StakingAddress, &c.stakingABI, method, args...)
}

func (c *Client) callToken(ctx context.Context, method string, args ...any) ([]any, error) {
	return c.call(ctx, c.TokenAddress, &c.tokenABI, method, args...)
}

// callUint is for the common case of a view returning a single uint256.
func (c *Client) callUint(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, contract, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	return asBig(values[0]), nil
}

func outcomeLabel(err error) string {
	if isUnsupported(err) {
		return "unsupported"
	}
	return "error"
}
