package evm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/byta-labs/stakedash/internal/lib/misc"
)

// DefaultChunkSize is the number of blocks per log query. Public BSC endpoints reject ranges that can return
// more than 1000 logs, 800 blocks stays under that for the staking contract's event volume.
const DefaultChunkSize = 800

// DefaultLookback is the number of blocks scanned back from head for per-user history (claims, referral income).
const DefaultLookback = 20000

type NetworkConfig struct {
	Name    string
	ChainID uint64

	RPCURL     string
	RPCHeaders map[string]string

	StakingAddress common.Address
	TokenAddress   common.Address
	// DeployBlock is where referral log scans start.
	DeployBlock uint64
	ChunkSize   uint64
	Lookback    uint64

	IndexerURL string
}

func (n NetworkConfig) String() string {
	return fmt.Sprintf("Name: %s, ChainID: %d, RPCURL: %s, RPCHeaders: (count:%d), Staking: %s, Token: %s, DeployBlock: %d, ChunkSize: %d, Lookback: %d, IndexerURL: %s",
		n.Name, n.ChainID, misc.RedactURL(n.RPCURL), len(n.RPCHeaders), CanonicalHex(n.StakingAddress), CanonicalHex(n.TokenAddress),
		n.DeployBlock, n.ChunkSize, n.Lookback, n.IndexerURL)
}

// IsKnownNetwork reports whether GetNetworkConfig has presets for network.
func IsKnownNetwork(network string) bool {
	switch network {
	case "bsc", "bsctestnet", "local":
		return true
	}
	return false
}

// GetNetworkConfig returns the presets for network with any BYTA_* environment overrides applied.
// Malformed overrides are returned as errors rather than silently ignored.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	if !IsKnownNetwork(network) {
		return NetworkConfig{}, fmt.Errorf("unknown network:%s", network)
	}
	cfg := getDefaults(network)

	if rpcURL := misc.GetSecret("BYTA_RPC_URL"); rpcURL != "" {
		cfg.RPCURL = rpcURL
	}
	if indexerURL := os.Getenv("BYTA_INDEXER_URL"); indexerURL != "" {
		cfg.IndexerURL = indexerURL
	}
	for env, dest := range map[string]*common.Address{
		"BYTA_STAKING_ADDRESS": &cfg.StakingAddress,
		"BYTA_TOKEN_ADDRESS":   &cfg.TokenAddress,
	} {
		if val := os.Getenv(env); val != "" {
			addr, err := ParseAddress(val)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", env, err)
			}
			*dest = addr
		}
	}
	for env, dest := range map[string]*uint64{
		"BYTA_CHAIN_ID":     &cfg.ChainID,
		"BYTA_DEPLOY_BLOCK": &cfg.DeployBlock,
		"BYTA_CHUNK_SIZE":   &cfg.ChunkSize,
		"BYTA_LOOKBACK":     &cfg.Lookback,
	} {
		if val := os.Getenv(env); val != "" {
			parsed, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", env, err)
			}
			*dest = parsed
		}
	}

	// parse headers from key:value,[key:value...] pairs
	cfg.RPCHeaders = map[string]string{}
	for _, header := range strings.Split(misc.GetSecret("BYTA_RPC_HEADERS"), ",") {
		parts := strings.SplitN(header, ":", 2) // Just split on first : - they can have :'s in value.
		if len(parts) == 2 {
			cfg.RPCHeaders[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return cfg, nil
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{
		Name:       network,
		ChunkSize:  DefaultChunkSize,
		Lookback:   DefaultLookback,
		IndexerURL: "https://byta-indexer-api.onrender.com",
	}
	switch network {
	case "bsc":
		cfg.ChainID = 56
		cfg.RPCURL = "https://bsc-dataseed.bnbchain.org"
		cfg.TokenAddress = common.HexToAddress("0x6C92453d460ea7d3745DB3e1D276083910Ce6713")
		// staking address and deploy block come from .env.bsc / BYTA_STAKING_ADDRESS
	case "bsctestnet":
		cfg.ChainID = 97
		cfg.RPCURL = "https://data-seed-prebsc-1-s1.bnbchain.org:8545"
	case "local":
		cfg.ChainID = 31337
		cfg.RPCURL = "http://localhost:8545"
		cfg.IndexerURL = "http://localhost:8080"
		cfg.ChunkSize = 5000
	}
	return cfg
}
