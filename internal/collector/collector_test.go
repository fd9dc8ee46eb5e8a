package collector

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/provider"
)

// fakeProvider is a minimal provider.Provider for exercising fanOut's
// fail-open filtering without any network I/O.
type fakeProvider struct {
	protocol  chain.Protocol
	network   chain.Network
	available bool
	bc        chain.Blockchain
	err       error
}

func (f *fakeProvider) Protocol() chain.Protocol { return f.protocol }
func (f *fakeProvider) Network() chain.Network   { return f.network }
func (f *fakeProvider) Available() bool          { return f.available }
func (f *fakeProvider) FetchTopBlocks(_ context.Context, _ uint32, _ string) (chain.Blockchain, error) {
	return f.bc, f.err
}

func TestFanOutFailsOpenOnPartialProviderErrors(t *testing.T) {
	good := chain.NewBlockchain()
	good.AddBlock(chain.Block{Height: 3})
	good.Sort()

	c := &Collector{
		protocol: chain.ProtocolBitcoin,
		network:  "mainnet",
		logger:   zap.NewNop(),
		providers: []provider.Provider{
			&fakeProvider{available: true, err: errors.New("boom")},
			&fakeProvider{available: true, bc: good},
			&fakeProvider{available: false},
		},
	}

	results := c.fanOut(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 usable result (one errored, one unavailable), got %d", len(results))
	}
	if results[0].bc.Height != 3 {
		t.Errorf("unexpected surviving result: %+v", results[0].bc)
	}
}

func TestSelectBestPicksHighestHeight(t *testing.T) {
	low := chain.NewBlockchain()
	low.AddBlock(chain.Block{Height: 5})
	low.Sort()

	high := chain.NewBlockchain()
	high.AddBlock(chain.Block{Height: 9})
	high.Sort()

	results := []fanOutResult{{bc: low, order: 0}, {bc: high, order: 1}}
	best := selectBest(results)
	if best.Height != 9 {
		t.Fatalf("expected the higher height to win, got %d", best.Height)
	}
}

func TestSelectBestBreaksTiesByArrivalOrder(t *testing.T) {
	first := chain.NewBlockchain()
	first.AddBlock(chain.Block{Height: 7, Hash: "first"})
	first.Sort()

	second := chain.NewBlockchain()
	second.AddBlock(chain.Block{Height: 7, Hash: "second"})
	second.Sort()

	results := []fanOutResult{{bc: first, order: 0}, {bc: second, order: 1}}
	best := selectBest(results)
	if best.Head() != "first" {
		t.Fatalf("expected the first-arrived provider to win a height tie, got %q", best.Head())
	}
}

func TestUpdateMonotoneMetricsOnlyMovesForward(t *testing.T) {
	c := &Collector{
		protocol: chain.ProtocolBitcoin,
		network:  "mainnet",
		logger:   zap.NewNop(),
	}

	high := chain.NewBlockchain()
	high.AddBlock(chain.Block{Height: 100, Time: 111, Txs: 5})
	high.Sort()
	c.updateMonotoneMetrics(high)
	if c.lastHeight != 100 {
		t.Fatalf("expected lastHeight to advance to 100, got %d", c.lastHeight)
	}

	stale := chain.NewBlockchain()
	stale.AddBlock(chain.Block{Height: 50, Time: 222, Txs: 1})
	stale.Sort()
	c.updateMonotoneMetrics(stale)
	if c.lastHeight != 100 {
		t.Fatalf("expected a lower height to leave lastHeight unchanged, got %d", c.lastHeight)
	}
}

func TestHeadTimeAndHeadTxsOnEmptyChain(t *testing.T) {
	empty := chain.NewBlockchain()
	if headTime(empty) != 0 {
		t.Errorf("expected headTime(empty) == 0")
	}
	if headTxs(empty) != 0 {
		t.Errorf("expected headTxs(empty) == 0")
	}
}
