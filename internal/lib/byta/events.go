package byta

import (
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/byta-labs/stakedash/internal/lib/scan"
)

// LogScanner is satisfied by *scan.Scanner.
type LogScanner interface {
	ScanRecent(ctx context.Context, filter ethereum.FilterQuery, lookback uint64) (*scan.Result, error)
}

// ReferrerSet is a decoded referral placement: User joined under Referrer on the IsLeft leg.
type ReferrerSet struct {
	User     common.Address
	Referrer common.Address
	IsLeft   bool
	Block    uint64
	Index    uint
	TxHash   common.Hash
}

// Claim is a decoded RewardPaid event.
type Claim struct {
	User        common.Address `json:"user"`
	Block       uint64         `json:"block"`
	Index       uint           `json:"logIndex"`
	TxHash      common.Hash    `json:"txHash"`
	TokenAmount *big.Int       `json:"tokenAmount"`
	USDAmount   *big.Int       `json:"usdAmount"`
}

// ReferralPayment is a decoded ReferralPaid event - User earned TokenAmount from From's activity.
type ReferralPayment struct {
	User        common.Address
	From        common.Address
	Block       uint64
	TokenAmount *big.Int
}

type ClaimHistory struct {
	Claims     []Claim      `json:"claims"`
	Incomplete bool         `json:"incomplete"`
	Missing    []scan.Range `json:"missing,omitempty"`
}

// Income is the sum of referral payments found in the scanned window.
type Income struct {
	Total      *big.Int
	Payments   int
	Incomplete bool
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func (c *Client) eventFilter(event string, topics ...common.Hash) (ethereum.FilterQuery, error) {
	ev, found := c.stakingABI.Events[event]
	if !found {
		return ethereum.FilterQuery{}, fmt.Errorf("%w: event %s not in abi", ErrUnsupportedContractShape, event)
	}
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.StakingAddress},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	for _, topic := range topics {
		query.Topics = append(query.Topics, []common.Hash{topic})
	}
	return query, nil
}

// ReferrerSetFilter matches every referral placement on the staking contract.
func (c *Client) ReferrerSetFilter() (ethereum.FilterQuery, error) {
	return c.eventFilter(EventReferrerSet)
}

func (c *Client) RewardPaidFilter(user common.Address) (ethereum.FilterQuery, error) {
	return c.eventFilter(EventRewardPaid, addressTopic(user))
}

func (c *Client) ReferralPaidFilter(user common.Address) (ethereum.FilterQuery, error) {
	return c.eventFilter(EventReferralPaid, addressTopic(user))
}

// unpackEvent checks the log's signature topic and indexed topic count, then unpacks the data fields.
func (c *Client) unpackEvent(event string, log types.Log, indexed int) ([]any, error) {
	ev, found := c.stakingABI.Events[event]
	if !found {
		return nil, fmt.Errorf("%w: event %s not in abi", ErrUnsupportedContractShape, event)
	}
	if len(log.Topics) != indexed+1 || log.Topics[0] != ev.ID {
		promUndecodableLogs.WithLabelValues(event).Inc()
		return nil, fmt.Errorf("%w: %s (block %d, index %d)", ErrUndecodableLog, event, log.BlockNumber, log.Index)
	}
	values, err := c.stakingABI.Unpack(event, log.Data)
	if err != nil {
		promUndecodableLogs.WithLabelValues(event).Inc()
		return nil, fmt.Errorf("%w: %s (block %d, index %d): %w", ErrUndecodableLog, event, log.BlockNumber, log.Index, err)
	}
	return values, nil
}

func (c *Client) DecodeReferrerSet(log types.Log) (ReferrerSet, error) {
	values, err := c.unpackEvent(EventReferrerSet, log, 2)
	if err != nil {
		return ReferrerSet{}, err
	}
	isLeft, ok := values[0].(bool)
	if !ok {
		return ReferrerSet{}, fmt.Errorf("%w: %s isLeft is %T", ErrUndecodableLog, EventReferrerSet, values[0])
	}
	return ReferrerSet{
		User:     common.BytesToAddress(log.Topics[1].Bytes()),
		Referrer: common.BytesToAddress(log.Topics[2].Bytes()),
		IsLeft:   isLeft,
		Block:    log.BlockNumber,
		Index:    log.Index,
		TxHash:   log.TxHash,
	}, nil
}

func (c *Client) DecodeRewardPaid(log types.Log) (Claim, error) {
	values, err := c.unpackEvent(EventRewardPaid, log, 1)
	if err != nil {
		return Claim{}, err
	}
	return Claim{
		User:        common.BytesToAddress(log.Topics[1].Bytes()),
		Block:       log.BlockNumber,
		Index:       log.Index,
		TxHash:      log.TxHash,
		TokenAmount: asBig(values[0]),
		USDAmount:   asBig(values[1]),
	}, nil
}

func (c *Client) DecodeReferralPaid(log types.Log) (ReferralPayment, error) {
	values, err := c.unpackEvent(EventReferralPaid, log, 2)
	if err != nil {
		return ReferralPayment{}, err
	}
	return ReferralPayment{
		User:        common.BytesToAddress(log.Topics[1].Bytes()),
		From:        common.BytesToAddress(log.Topics[2].Bytes()),
		Block:       log.BlockNumber,
		TokenAmount: asBig(values[0]),
	}, nil
}

// ClaimHistory returns the user's most recent reward claims within the last lookback blocks, newest first,
// at most limit (DefaultClaimLimit if limit <= 0).
func (c *Client) ClaimHistory(ctx context.Context, scanner LogScanner, user common.Address, lookback uint64, limit int) (*ClaimHistory, error) {
	if scanner == nil {
		return nil, ErrNoScanner
	}
	if limit <= 0 {
		limit = DefaultClaimLimit
	}
	filter, err := c.RewardPaidFilter(user)
	if err != nil {
		return nil, err
	}
	res, err := scanner.ScanRecent(ctx, filter, lookback)
	if err != nil {
		return nil, err
	}
	history := &ClaimHistory{Claims: []Claim{}, Incomplete: res.Incomplete(), Missing: res.Missing()}
	for _, log := range res.Logs {
		claim, err := c.DecodeRewardPaid(log)
		if err != nil {
			c.Logger.Debug("skipping claim log", "error", err)
			continue
		}
		history.Claims = append(history.Claims, claim)
	}
	slices.SortStableFunc(history.Claims, func(a, b Claim) int {
		if a.Block != b.Block {
			return compareDesc(a.Block, b.Block)
		}
		return compareDesc(uint64(a.Index), uint64(b.Index))
	})
	if len(history.Claims) > limit {
		history.Claims = history.Claims[:limit]
	}
	return history, nil
}

// ReferralIncome sums ReferralPaid token amounts for user over the last lookback blocks.
func (c *Client) ReferralIncome(ctx context.Context, scanner LogScanner, user common.Address, lookback uint64) (*Income, error) {
	if scanner == nil {
		return nil, ErrNoScanner
	}
	filter, err := c.ReferralPaidFilter(user)
	if err != nil {
		return nil, err
	}
	res, err := scanner.ScanRecent(ctx, filter, lookback)
	if err != nil {
		return nil, err
	}
	income := &Income{Total: new(big.Int), Incomplete: res.Incomplete()}
	for _, log := range res.Logs {
		payment, err := c.DecodeReferralPaid(log)
		if err != nil {
			c.Logger.Debug("skipping referral payment log", "error", err)
			continue
		}
		income.Total.Add(income.Total, payment.TokenAmount)
		income.Payments++
	}
	return income, nil
}

func compareDesc(a, b uint64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
