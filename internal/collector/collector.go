// Package collector implements the per-(protocol, network) polling loop
// described in spec.md §4.3: fan out to providers, pick the best chain,
// enforce invariants, persist, update metrics.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/config"
	"github.com/blockheadhq/blockhead/internal/metrics"
	"github.com/blockheadhq/blockhead/internal/provider"
	"github.com/blockheadhq/blockhead/internal/store"
)

// Collector runs one (protocol, network) pair's tick loop. Its provider
// slice is mutated in place (per-endpoint rate-limit state persists across
// ticks) and is owned exclusively by this goroutine -- no cross-collector
// sharing (spec.md §5).
type Collector struct {
	protocol  chain.Protocol
	network   chain.Network
	providers []provider.Provider
	netOpts   config.NetworkAppOptions
	store     *store.Store
	logger    *zap.Logger

	previousHead string
	lastHeight   uint64
}

// New builds a Collector from a resolved NetworkConfig. "none"-kind
// providers are skipped, matching spec.md §3.
func New(protocol chain.Protocol, network chain.Network, netCfg config.NetworkConfig, st *store.Store, logger *zap.Logger) *Collector {
	providers := make([]provider.Provider, 0, len(netCfg.Providers))
	for _, pc := range netCfg.Providers {
		if pc.Kind == "none" {
			continue
		}
		providers = append(providers, provider.New(pc.Kind, pc.Options, protocol, network, logger))
	}
	return &Collector{
		protocol:  protocol,
		network:   network,
		providers: providers,
		netOpts:   netCfg.Options,
		store:     st,
		logger:    logger.With(zap.String("protocol", string(protocol)), zap.String("network", string(network))),
	}
}

// fanOutResult pairs a provider's outcome with the provider's index in the
// collector's provider slice. fanOut appends results in arrival order, and
// selectBest's first-seen tie-break relies on that slice position, not on
// order.
type fanOutResult struct {
	bc    chain.Blockchain
	order int
}

// Run executes the tick loop until ctx is cancelled. It never returns on its
// own otherwise (spec.md §4.3: "A collector never exits on its own").
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.netOpts.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	results := c.fanOut(ctx)
	if len(results) == 0 {
		c.logger.Debug("tick produced no usable results, skipping")
		return
	}

	best := selectBest(results)
	best.Sort()
	best.LastScrappingTask = uint64(time.Now().Unix())

	c.updateMonotoneMetrics(best)

	if err := c.store.Set(best, c.protocol, c.network); err != nil {
		c.logger.Warn("store commit failed, will retry next tick", zap.Error(err))
		return
	}

	c.previousHead = best.Head()
	c.logger.Debug("tick complete",
		zap.Int("providers_ok", len(results)),
		zap.Uint64("height", best.Height))
}

// fanOut issues FetchTopBlocks to every provider concurrently and joins with
// a fail-open filter: errors are dropped (spec.md §4.3 step 2).
func (c *Collector) fanOut(ctx context.Context) []fanOutResult {
	type indexed struct {
		bc  chain.Blockchain
		err error
		idx int
	}

	out := make(chan indexed, len(c.providers))
	var wg sync.WaitGroup
	for i, p := range c.providers {
		if !p.Available() {
			continue
		}
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			bc, err := p.FetchTopBlocks(ctx, c.netOpts.HeadLength, c.previousHead)
			out <- indexed{bc: bc, err: err, idx: i}
		}(i, p)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]fanOutResult, 0, len(c.providers))
	for r := range out {
		if r.err != nil {
			c.logger.Debug("provider fetch failed", zap.Int("provider_index", r.idx), zap.Error(r.err))
			continue
		}
		results = append(results, fanOutResult{bc: r.bc, order: r.idx})
	}
	return results
}

// selectBest picks the Blockchain with the highest height; ties broken by
// first-seen (arrival) order (spec.md §4.3 step 3, §9).
func selectBest(results []fanOutResult) chain.Blockchain {
	best := results[0]
	for _, r := range results[1:] {
		if r.bc.Height > best.bc.Height {
			best = r
		}
	}
	return best.bc
}

// updateMonotoneMetrics applies the monotone-head guard of spec.md §4.3 step
// 6 and §4.5: blockchain_height, blockchain_head_timestamp, and
// blockchain_head_txs only move forward.
func (c *Collector) updateMonotoneMetrics(best chain.Blockchain) {
	if best.Height <= c.lastHeight {
		return
	}
	c.lastHeight = best.Height
	metrics.BlockchainHeight.WithLabelValues(string(c.protocol), string(c.network)).Set(float64(best.Height))
	metrics.BlockchainHeadTimestamp.WithLabelValues(string(c.protocol), string(c.network)).Set(float64(headTime(best)))
	metrics.BlockchainHeadTxs.WithLabelValues(string(c.protocol), string(c.network)).Set(float64(headTxs(best)))
}

func headTime(bc chain.Blockchain) uint64 {
	if len(bc.Blocks) == 0 {
		return 0
	}
	return bc.Blocks[0].Time
}

func headTxs(bc chain.Blockchain) uint64 {
	if len(bc.Blocks) == 0 {
		return 0
	}
	return bc.Blocks[0].Txs
}
