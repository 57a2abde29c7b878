// Package indexer is a client for the external team indexer service.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ssgreg/repeat"

	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

type Client struct {
	log        *slog.Logger
	baseURL    *url.URL
	httpClient *http.Client
	maxTries   int
	baseDelay  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the max attempts per request (including the first) and the base backoff delay between
// them.
func WithRetries(maxTries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.baseDelay = baseDelay
	}
}

func New(log *slog.Logger, baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid indexer url:%q", baseURL)
	}
	c := &Client{
		log:        log,
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxTries:   4,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string {
	return referral.BackingIndexer
}

// TeamOf fetches root's team. An address the indexer has never seen (404) is an empty team.
func (c *Client) TeamOf(ctx context.Context, root common.Address) (*referral.Team, error) {
	endpoint := c.baseURL.JoinPath("team", evm.CanonicalHex(root))

	var body []byte
	err := repeat.Repeat(
		repeat.Fn(func() error {
			var err error
			body, err = c.get(ctx, endpoint.String())
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.temporary() {
				return repeat.HintTemporary(err)
			}
			if err != nil && ctx.Err() == nil && !errors.As(err, &statusErr) {
				// transport level failure
				return repeat.HintTemporary(err)
			}
			return err
		}),
		repeat.StopOnSuccess(),
		// LimitMaxTries counts retries after the first call
		repeat.LimitMaxTries(max(c.maxTries-1, 0)),
		repeat.FnOnError(func(err error) error {
			misc.Debugf(c.log, "indexer request for %s failed: %v", evm.CanonicalHex(root), err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContext(ctx),
			(&repeat.FullJitterBackoffBuilder{BaseDelay: c.baseDelay, MaxDelay: 10 * c.baseDelay}).Set(),
		),
	)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return referral.EmptyTeam(root, referral.BackingIndexer), nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer team lookup: %w", err)
	}

	var resp teamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	team, skipped := resp.toTeam(root)
	for _, err := range skipped {
		misc.Warnf(c.log, "indexer team of %s: %v", evm.CanonicalHex(root), err)
	}
	return team, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 && resp.StatusCode == http.StatusTooManyRequests {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		}
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// retryAfter parses a Retry-After seconds value, capped so a misbehaving server can't stall us.
func retryAfter(val string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, 30*time.Second)
}
