// Package client implements RateLimitedClient, the HTTP wrapper every
// provider embeds: retrying JSON-RPC and REST calls with timeout discipline,
// header/basic-auth injection, per-endpoint rate gating, and metrics
// emission.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// BasicAuth holds optional per-endpoint HTTP basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Options mirrors spec.md's EndpointOptions: the per-provider HTTP
// parameters that drive RateLimitedClient's retry/timeout/rate behavior.
type Options struct {
	URL        string
	Retry      int
	Delay      time.Duration
	Rate       time.Duration
	Timeout    time.Duration
	Headers    map[string]string
	BasicAuth  *BasicAuth
	Alias      string
}

// DefaultOptions returns the spec's documented defaults (retry=3, delay=1s,
// rate=5s, timeout=10s).
func DefaultOptions(rawURL string) Options {
	return Options{
		URL:     rawURL,
		Retry:   3,
		Delay:   1 * time.Second,
		Rate:    5 * time.Second,
		Timeout: 10 * time.Second,
	}
}

// RateLimitedClient wraps net/http with the retry/backoff/rate-gate contract
// described in spec.md §4.1. One instance is owned exclusively by a single
// provider instance; state is not shared across collectors.
type RateLimitedClient struct {
	Config Options

	httpClient *http.Client
	logger     *zap.Logger

	mu              sync.Mutex
	lastRequestUnix int64
	lastStatus      int // -1 until first terminal outcome is known
}

// New builds a RateLimitedClient for one endpoint.
func New(opts Options, logger *zap.Logger) *RateLimitedClient {
	return &RateLimitedClient{
		Config:     opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
		lastStatus: -1,
	}
}

// Available reports whether the minimum inter-request interval has elapsed.
// Advisory: collectors use this to skip a provider for the current tick.
func (c *RateLimitedClient) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRequestUnix == 0 {
		return true
	}
	return time.Now().Unix()-c.lastRequestUnix >= int64(c.Config.Rate.Seconds())
}

// stamp records a completed request (success or final failure). run calls
// it once per request at its terminal outcome, not on each retry.
func (c *RateLimitedClient) stamp() {
	c.mu.Lock()
	c.lastRequestUnix = time.Now().Unix()
	c.mu.Unlock()
}

func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (c *RateLimitedClient) applyAuthAndHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Config.Headers {
		req.Header.Set(k, v)
	}
	if c.Config.BasicAuth != nil {
		req.SetBasicAuth(c.Config.BasicAuth.Username, c.Config.BasicAuth.Password)
	}
}

func (c *RateLimitedClient) setEndpointStatus(protocol chain.Protocol, network chain.Network, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	newStatus := 0
	if healthy {
		newStatus = 1
	}
	c.mu.Lock()
	changed := c.lastStatus != newStatus
	c.lastStatus = newStatus
	c.mu.Unlock()
	if changed {
		metrics.EndpointStatus.WithLabelValues(endpointLabel(c.Config.URL), c.Config.Alias, string(protocol), string(network)).Set(val)
	}
}

// doOnce performs a single HTTP round trip and records status-code and
// latency metrics. It never retries; callers loop.
func (c *RateLimitedClient) doOnce(ctx context.Context, method, rawURL string, body []byte, protocol chain.Protocol, network chain.Network) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	c.applyAuthAndHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsedMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		if ue, ok := err.(*url.Error); ctx.Err() != nil || (ok && ue.Timeout()) {
			return nil, nil, fmt.Errorf("%w: %v", chain.ErrTimeout, err)
		}
		return nil, nil, fmt.Errorf("%w: %v", chain.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	metrics.HTTPResponseCode.WithLabelValues(endpointLabel(rawURL), c.Config.Alias, strconv.Itoa(resp.StatusCode), method, string(protocol), string(network)).Inc()
	metrics.HTTPResponseTimeMs.WithLabelValues(endpointLabel(rawURL), c.Config.Alias, method, string(protocol), string(network)).Observe(elapsedMs)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("%w: read body: %v", chain.ErrRequestFailed, err)
	}
	return resp, data, nil
}

// run executes the shared retry loop used by both RPC and REST calls.
func (c *RateLimitedClient) run(ctx context.Context, method, rawURL string, body []byte, protocol chain.Protocol, network chain.Network) ([]byte, error) {
	if !c.Available() {
		return nil, chain.ErrEndpointNotAvailable
	}
	var lastErr error
	for attempt := 0; attempt < c.Config.Retry; attempt++ {
		resp, data, err := c.doOnce(ctx, method, rawURL, body, protocol, network)
		if err != nil {
			lastErr = err
			if errIsTimeout(err) {
				c.stamp()
				c.setEndpointStatus(protocol, network, false)
				return nil, err
			}
			c.logger.Debug("request attempt failed, retrying",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
			c.sleepDelay(ctx)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.stamp()
			c.setEndpointStatus(protocol, network, false)
			return nil, chain.ErrEndpointRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("%w: status %d", chain.ErrRequestFailed, resp.StatusCode)
			c.logger.Debug("non-200 response, retrying",
				zap.String("url", rawURL), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			c.sleepDelay(ctx)
			continue
		}
		c.stamp()
		c.setEndpointStatus(protocol, network, true)
		return data, nil
	}
	c.stamp()
	c.setEndpointStatus(protocol, network, false)
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, chain.ErrRequestFailed
}

func errIsTimeout(err error) bool {
	return err != nil && (isErr(err, chain.ErrTimeout))
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *RateLimitedClient) sleepDelay(ctx context.Context) {
	t := time.NewTimer(c.Config.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RPC sends a JSON-RPC request (single or batch) and decodes the response
// into out. For a batch, out should point to a slice (e.g. *[]Response);
// the caller is responsible for verifying each entry's result/error per
// spec.md's batch rule (see DecodeBatch).
func (c *RateLimitedClient) RPC(ctx context.Context, body any, protocol chain.Protocol, network chain.Network, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", chain.ErrDecodeFailed, err)
	}
	data, err := c.run(ctx, http.MethodPost, c.Config.URL, encoded, protocol, network)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", chain.ErrDecodeFailed, err)
	}
	return nil
}

// RunRequest performs a general REST call (GET/POST) with the same
// retry/timeout/header/auth/metrics behavior as RPC.
func (c *RateLimitedClient) RunRequest(ctx context.Context, method, rawURL string, body []byte, protocol chain.Protocol, network chain.Network, out any) error {
	target := rawURL
	if target == "" {
		target = c.Config.URL
	}
	data, err := c.run(ctx, method, target, body, protocol, network)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", chain.ErrDecodeFailed, err)
	}
	return nil
}
