package store

import (
	"path/filepath"
	"testing"

	"github.com/blockheadhq/blockhead/internal/chain"
)

func openTestStore(t *testing.T, keepHistory int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockhead.db")
	st, err := Open(path, keepHistory)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	st := openTestStore(t, 1000)
	_, err := st.Get(chain.ProtocolBitcoin, "mainnet")
	if err != chain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	st := openTestStore(t, 1000)
	bc := chain.NewBlockchain()
	bc.AddBlock(chain.Block{Hash: "a", Height: 10})
	bc.Sort()

	if err := st.Set(bc, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := st.Get(chain.ProtocolBitcoin, "mainnet")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Height != 10 || got.Head() != "a" {
		t.Errorf("unexpected round-trip value: %+v", got)
	}
}

func TestSetIsIdempotentWhenStoredHeightIsHigherOrEqual(t *testing.T) {
	st := openTestStore(t, 1000)
	high := chain.NewBlockchain()
	high.AddBlock(chain.Block{Hash: "high", Height: 20})
	high.Sort()
	if err := st.Set(high, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	low := chain.NewBlockchain()
	low.AddBlock(chain.Block{Hash: "low", Height: 5})
	low.Sort()
	if err := st.Set(low, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := st.Get(chain.ProtocolBitcoin, "mainnet")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Height != 20 || got.Head() != "high" {
		t.Errorf("expected the lower-height Set to be a no-op, got %+v", got)
	}
}

func TestSetMergesOverlappingWindows(t *testing.T) {
	st := openTestStore(t, 1000)
	first := chain.NewBlockchain()
	first.AddBlock(chain.Block{Height: 10})
	first.AddBlock(chain.Block{Height: 9})
	first.Sort()
	if err := st.Set(first, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	second := chain.NewBlockchain()
	second.AddBlock(chain.Block{Height: 11})
	second.AddBlock(chain.Block{Height: 10, Hash: "updated-10"})
	second.Sort()
	if err := st.Set(second, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := st.Get(chain.ProtocolBitcoin, "mainnet")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("expected 3 distinct heights after merge, got %d", len(got.Blocks))
	}
	if got.Blocks[1].Hash != "updated-10" {
		t.Errorf("expected incoming to win the height-10 tie, got %q", got.Blocks[1].Hash)
	}
}

func TestSetRespectsKeepHistory(t *testing.T) {
	st := openTestStore(t, 2)
	bc := chain.NewBlockchain()
	for h := uint64(1); h <= 5; h++ {
		bc.AddBlock(chain.Block{Height: h})
	}
	bc.Sort()
	if err := st.Set(bc, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := st.Get(chain.ProtocolBitcoin, "mainnet")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(got.Blocks) != 2 {
		t.Errorf("expected keepHistory=2 to bound the stored window, got %d blocks", len(got.Blocks))
	}
}

func TestAllKnownEnumeratesStoredPairsAndSkipsSentinel(t *testing.T) {
	st := openTestStore(t, 1000)
	bc := chain.NewBlockchain()
	bc.AddBlock(chain.Block{Height: 1})
	bc.Sort()

	if err := st.Set(bc, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := st.Set(bc, chain.ProtocolEthereum, "goerli"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	all, err := st.AllKnown()
	if err != nil {
		t.Fatalf("AllKnown() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 protocols, got %d", len(all))
	}
	if _, ok := all[chain.ProtocolBitcoin]["mainnet"]; !ok {
		t.Errorf("expected bitcoin/mainnet in AllKnown()")
	}
	if _, ok := all[chain.ProtocolEthereum]["goerli"]; !ok {
		t.Errorf("expected ethereum/goerli in AllKnown()")
	}
}

func TestReopenExistingStorePreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockhead.db")
	st, err := Open(path, 1000)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	bc := chain.NewBlockchain()
	bc.AddBlock(chain.Block{Hash: "persisted", Height: 7})
	bc.Sort()
	if err := st.Set(bc, chain.ProtocolBitcoin, "mainnet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path, 1000)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(chain.ProtocolBitcoin, "mainnet")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if got.Head() != "persisted" {
		t.Errorf("expected data to survive reopen, got %+v", got)
	}
}
