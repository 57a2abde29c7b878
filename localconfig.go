package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/referral"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

// LocalConfig is the optional user config file. Anything left out takes its default.
type LocalConfig struct {
	Rewards RewardsConfig `yaml:"rewards"`
	Scan    ScanConfig    `yaml:"scan"`
	Team    TeamConfig    `yaml:"team"`
	Daemon  DaemonConfig  `yaml:"daemon"`
}

type RewardsConfig struct {
	PeriodSeconds int64 `yaml:"period_seconds"`
	// BaseRateBP is a pointer so an explicit 0 is kept rather than defaulted.
	BaseRateBP  *int64        `yaml:"base_rate_bp"`
	LockBonusBP map[int]int64 `yaml:"lock_bonus_bp"`
}

type ScanConfig struct {
	// ChunkSize of zero uses the network's default.
	ChunkSize         uint64        `yaml:"chunk_size"`
	ChunkTimeout      time.Duration `yaml:"chunk_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// Lookback of zero uses the network's default.
	Lookback uint64 `yaml:"lookback"`
}

type TeamConfig struct {
	Backing      string        `yaml:"backing"`
	MaxStaleness time.Duration `yaml:"max_staleness"`
	MaxNodes     int           `yaml:"max_nodes"`
	Concurrency  int           `yaml:"concurrency"`
}

type DaemonConfig struct {
	Listen         string `yaml:"listen"`
	RefreshMinutes int    `yaml:"refresh_minutes"`
}

func DefaultLocalConfig() *LocalConfig {
	rewards := accrual.DefaultConfig()
	scanCfg := scan.DefaultConfig()
	return &LocalConfig{
		Rewards: RewardsConfig{
			PeriodSeconds: rewards.PeriodSeconds(),
			BaseRateBP:    ptr(rewards.BaseRateBP()),
			LockBonusBP:   accrual.DefaultBonusTable(),
		},
		Scan: ScanConfig{
			ChunkTimeout:      scanCfg.ChunkTimeout,
			Concurrency:       scanCfg.Concurrency,
			RequestsPerSecond: scanCfg.RequestsPerSecond,
		},
		Team: TeamConfig{
			Backing:      referral.BackingLogs,
			MaxStaleness: 2 * time.Minute,
			MaxNodes:     referral.DefaultMaxNodes,
			Concurrency:  8,
		},
		Daemon: DaemonConfig{
			Listen:         ":8080",
			RefreshMinutes: 5,
		},
	}
}

// normalize fills unset (zero) values from the defaults.
func (c *LocalConfig) normalize() {
	def := DefaultLocalConfig()
	if c.Rewards.PeriodSeconds == 0 {
		c.Rewards.PeriodSeconds = def.Rewards.PeriodSeconds
	}
	if c.Rewards.BaseRateBP == nil {
		c.Rewards.BaseRateBP = def.Rewards.BaseRateBP
	}
	if len(c.Rewards.LockBonusBP) == 0 {
		c.Rewards.LockBonusBP = def.Rewards.LockBonusBP
	}
	if c.Scan.ChunkTimeout == 0 {
		c.Scan.ChunkTimeout = def.Scan.ChunkTimeout
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = def.Scan.Concurrency
	}
	if c.Scan.RequestsPerSecond == 0 {
		c.Scan.RequestsPerSecond = def.Scan.RequestsPerSecond
	}
	if c.Team.Backing == "" {
		c.Team.Backing = def.Team.Backing
	}
	if c.Team.MaxStaleness == 0 {
		c.Team.MaxStaleness = def.Team.MaxStaleness
	}
	if c.Team.MaxNodes == 0 {
		c.Team.MaxNodes = def.Team.MaxNodes
	}
	if c.Team.Concurrency == 0 {
		c.Team.Concurrency = def.Team.Concurrency
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = def.Daemon.Listen
	}
	if c.Daemon.RefreshMinutes == 0 {
		c.Daemon.RefreshMinutes = def.Daemon.RefreshMinutes
	}
}

func (c *LocalConfig) validate() error {
	if _, err := c.RewardConfig(); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	if !slices.Contains([]string{referral.BackingLogs, referral.BackingContract, referral.BackingIndexer}, c.Team.Backing) {
		return fmt.Errorf("team.backing %q must be one of logs, contract, indexer", c.Team.Backing)
	}
	switch {
	case c.Scan.ChunkTimeout < 0:
		return errors.New("scan.chunk_timeout can't be negative")
	case c.Scan.Concurrency < 0:
		return errors.New("scan.concurrency can't be negative")
	case c.Scan.RequestsPerSecond < 0:
		return errors.New("scan.requests_per_second can't be negative")
	case c.Team.MaxStaleness < 0:
		return errors.New("team.max_staleness can't be negative")
	case c.Team.MaxNodes < 0 || c.Team.Concurrency < 0:
		return errors.New("team.max_nodes and team.concurrency can't be negative")
	case c.Daemon.RefreshMinutes < 1 || c.Daemon.RefreshMinutes > 24*60:
		return fmt.Errorf("daemon.refresh_minutes %d must be between 1 and 1440", c.Daemon.RefreshMinutes)
	}
	return nil
}

// RewardConfig returns the accrual parameters described by the file.
func (c *LocalConfig) RewardConfig() (accrual.Config, error) {
	var rate int64
	if c.Rewards.BaseRateBP != nil {
		rate = *c.Rewards.BaseRateBP
	}
	return accrual.NewConfig(c.Rewards.PeriodSeconds, rate, c.Rewards.LockBonusBP)
}

func ptr[T any](v T) *T {
	return &v
}

// ScannerConfig merges the file's scan tuning w/ the network defaults.
func (c *LocalConfig) ScannerConfig(network evm.NetworkConfig) scan.Config {
	cfg := scan.Config{
		ChunkSize:         network.ChunkSize,
		ChunkTimeout:      c.Scan.ChunkTimeout,
		Concurrency:       c.Scan.Concurrency,
		RequestsPerSecond: c.Scan.RequestsPerSecond,
	}
	if c.Scan.ChunkSize != 0 {
		cfg.ChunkSize = c.Scan.ChunkSize
	}
	return cfg
}

func (c *LocalConfig) Lookback(network evm.NetworkConfig) uint64 {
	if c.Scan.Lookback != 0 {
		return c.Scan.Lookback
	}
	return network.Lookback
}

func ConfigFilename() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "stakedash", "stakedash.yaml"), nil
}

// LoadLocalConfig reads path, returning the defaults when the file doesn't exist.
func LoadLocalConfig(path string) (*LocalConfig, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultLocalConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cfg := &LocalConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, true, fmt.Errorf("error parsing %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, true, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, true, nil
}

// SaveLocalConfig writes cfg to a temp file next to path and then renames it into place, so a failed write
// never leaves a truncated config behind.
func SaveLocalConfig(log *slog.Logger, path string, cfg *LocalConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return fmt.Errorf("error making directory:%s, error:%w", filepath.Dir(path), err)
	}
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(temp)
	encoder.SetIndent(2)
	err = encoder.Encode(cfg)
	if err == nil {
		err = encoder.Close()
	}
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving configuration: %w", err)
	}
	if err = temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return err
	}
	if err = os.Rename(temp.Name(), path); err != nil {
		_ = os.Remove(temp.Name())
		return err
	}
	log.Info("config saved", "file", path)
	return nil
}
