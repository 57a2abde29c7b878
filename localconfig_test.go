package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

func TestLoadLocalConfigMissingFile(t *testing.T) {
	cfg, found, err := LoadLocalConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultLocalConfig(), cfg)
}

func TestLoadLocalConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakedash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rewards:
  base_rate_bp: 150
  lock_bonus_bp:
    12: 12000
team:
  backing: contract
  max_staleness: 90s
scan:
  chunk_size: 500
`), 0o644))

	cfg, found, err := LoadLocalConfig(path)
	require.NoError(t, err)
	assert.True(t, found)
	require.NotNil(t, cfg.Rewards.BaseRateBP)
	assert.Equal(t, int64(150), *cfg.Rewards.BaseRateBP)
	assert.Equal(t, int64(86400), cfg.Rewards.PeriodSeconds)
	assert.Equal(t, referral.BackingContract, cfg.Team.Backing)
	assert.Equal(t, 90*time.Second, cfg.Team.MaxStaleness)
	assert.Equal(t, referral.DefaultMaxNodes, cfg.Team.MaxNodes)
	assert.Equal(t, 5, cfg.Daemon.RefreshMinutes)

	rewards, err := cfg.RewardConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(12000), rewards.BonusBP(12))
	assert.Equal(t, int64(10000), rewards.BonusBP(3))

	network := evm.NetworkConfig{ChunkSize: 800, Lookback: 20000}
	assert.Equal(t, uint64(500), cfg.ScannerConfig(network).ChunkSize)
	assert.Equal(t, uint64(20000), cfg.Lookback(network))
}

func TestLoadLocalConfigInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"unknown backing": "team:\n  backing: graphql\n",
		"negative rate":   "rewards:\n  base_rate_bp: -5\n",
		"unknown field":   "rewardz:\n  base_rate_bp: 5\n",
		"bad duration":    "team:\n  max_staleness: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stakedash.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, _, err := LoadLocalConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadLocalConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakedash.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cfg, found, err := LoadLocalConfig(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, DefaultLocalConfig(), cfg)
}

func TestSaveLocalConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stakedash.yaml")
	cfg := DefaultLocalConfig()
	cfg.Team.Backing = referral.BackingIndexer
	cfg.Daemon.Listen = "127.0.0.1:9090"
	require.NoError(t, SaveLocalConfig(slog.Default(), path, cfg))

	loaded, found, err := LoadLocalConfig(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cfg, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should have been renamed into place")
}

func TestSaveLocalConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakedash.yaml")
	cfg := DefaultLocalConfig()
	cfg.Rewards.PeriodSeconds = -1
	assert.Error(t, SaveLocalConfig(slog.Default(), path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadLocalConfigZeroRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakedash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rewards:\n  base_rate_bp: 0\n"), 0o644))
	cfg, _, err := LoadLocalConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Rewards.BaseRateBP)
	assert.Equal(t, int64(0), *cfg.Rewards.BaseRateBP)

	rewards, err := cfg.RewardConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(0), rewards.BaseRateBP())
}
