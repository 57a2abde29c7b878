package evm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/byta-labs/stakedash/internal/lib/misc"
)

// GetEVMClient dials the json-rpc endpoint from config and verifies connectivity (and the chain id when
// config has one) before returning.
func GetEVMClient(ctx context.Context, log *slog.Logger, config NetworkConfig) (*ethclient.Client, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("no rpc url configured for network:%s", config.Name)
	}
	misc.Infof(log, "Connecting to %s node at:%s", config.Name, misc.RedactURL(config.RPCURL))

	// Override the default transport so we can properly support multiple parallel connections to same
	// host (and allow connection reuse) - log scans fan out many queries at once.
	customTransport := http.DefaultTransport.(*http.Transport).Clone()
	customTransport.MaxIdleConns = 100
	customTransport.MaxConnsPerHost = 100
	customTransport.MaxIdleConnsPerHost = 100

	headers := http.Header{}
	for key, value := range config.RPCHeaders {
		headers.Set(key, value)
	}
	rpcClient, err := rpc.DialOptions(ctx, config.RPCURL,
		rpc.WithHTTPClient(&http.Client{Transport: customTransport}),
		rpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc (url:%s), error:%w", misc.RedactURL(config.RPCURL), err)
	}
	client := ethclient.NewClient(rpcClient)

	// Immediately hit server to verify connectivity
	verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	chainID, err := client.ChainID(verifyCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id from rpc endpoint, error:%w", err)
	}
	if config.ChainID != 0 && chainID.Uint64() != config.ChainID {
		client.Close()
		return nil, fmt.Errorf("%w: expected chain id %d, endpoint reports %s", ErrWrongChain, config.ChainID, chainID)
	}
	return client, nil
}
