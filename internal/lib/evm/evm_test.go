package evm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	want := common.HexToAddress("0x6C92453d460ea7d3745DB3e1D276083910Ce6713")
	for _, in := range []string{
		"0x6C92453d460ea7d3745DB3e1D276083910Ce6713",
		"0x6c92453d460ea7d3745db3e1d276083910ce6713",
		" 0X6C92453D460EA7D3745DB3E1D276083910CE6713 ",
	} {
		addr, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, addr)
	}
	for _, in := range []string{"", "0x1234", "6c92453d460ea7d3745db3e1d276083910ce6713", "0xZZ92453d460ea7d3745db3e1d276083910ce6713"} {
		_, err := ParseAddress(in)
		assert.True(t, errors.Is(err, ErrInvalidAddress), in)
	}
	assert.Equal(t, "0x6c92453d460ea7d3745db3e1d276083910ce6713", CanonicalHex(want))
}

func TestFormatting(t *testing.T) {
	amt, _ := new(big.Int).SetString("32400000000000000000", 10)
	assert.Equal(t, "32.4", FormatToken(amt))
	assert.Equal(t, "32.40", FormatUSD(amt))
	assert.Equal(t, "0", FormatToken(nil))
	assert.Equal(t, "0.00", FormatUSD(big.NewInt(0)))

	small, _ := new(big.Int).SetString("123456789", 10)
	assert.Equal(t, "0", FormatToken(small))
	assert.Equal(t, "0.000000000123456789", FormatUnits(small, 18, 18))

	parsed, err := ParseUnits("1000.5", 18)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1000500000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(parsed))
	_, err = ParseUnits("-1", 18)
	assert.Error(t, err)
	_, err = ParseUnits("abc", 18)
	assert.Error(t, err)

	assert.InDelta(t, 32.4, ToFloat(amt, 18), 1e-9)
}

func TestGetNetworkConfig(t *testing.T) {
	t.Setenv("BYTA_RPC_URL", "")
	t.Setenv("BYTA_STAKING_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("BYTA_DEPLOY_BLOCK", "41000000")
	t.Setenv("BYTA_RPC_HEADERS", "x-api-key: abc:def, bogus")

	cfg, err := GetNetworkConfig("bsc")
	require.NoError(t, err)
	assert.Equal(t, uint64(56), cfg.ChainID)
	assert.Equal(t, uint64(DefaultChunkSize), cfg.ChunkSize)
	assert.Equal(t, uint64(41000000), cfg.DeployBlock)
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.StakingAddress)
	assert.Equal(t, map[string]string{"x-api-key": "abc:def"}, cfg.RPCHeaders)

	t.Setenv("BYTA_CHUNK_SIZE", "lots")
	_, err = GetNetworkConfig("bsc")
	assert.Error(t, err)

	_, err = GetNetworkConfig("mainnet")
	assert.Error(t, err)
}
