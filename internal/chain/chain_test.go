package chain

import "testing"

func TestBlockchainSortDedupesAndOrders(t *testing.T) {
	bc := NewBlockchain()
	bc.AddBlock(Block{Hash: "a", Height: 10})
	bc.AddBlock(Block{Hash: "b", Height: 12})
	bc.AddBlock(Block{Hash: "a-dup", Height: 10})
	bc.AddBlock(Block{Hash: "c", Height: 11})
	bc.Sort()

	if len(bc.Blocks) != 3 {
		t.Fatalf("expected 3 blocks after dedup, got %d", len(bc.Blocks))
	}
	if bc.Blocks[0].Height != 12 || bc.Blocks[1].Height != 11 || bc.Blocks[2].Height != 10 {
		t.Fatalf("blocks not sorted descending: %+v", bc.Blocks)
	}
	if bc.Blocks[2].Hash != "a" {
		t.Errorf("expected first-occurrence to win a duplicate height, got hash %q", bc.Blocks[2].Hash)
	}
	if bc.Height != 12 {
		t.Errorf("expected Height to mirror blocks[0].Height, got %d", bc.Height)
	}
}

func TestBlockchainSortEmpty(t *testing.T) {
	bc := NewBlockchain()
	bc.Sort()
	if bc.Height != 0 {
		t.Errorf("expected Height 0 for empty chain, got %d", bc.Height)
	}
	if !bc.Valid() {
		t.Errorf("expected empty chain to be valid")
	}
}

func TestBlockchainTruncate(t *testing.T) {
	bc := NewBlockchain()
	for h := uint64(1); h <= 5; h++ {
		bc.AddBlock(Block{Height: h})
	}
	bc.Sort()
	bc.Truncate(2)
	if len(bc.Blocks) != 2 {
		t.Fatalf("expected 2 blocks after truncate, got %d", len(bc.Blocks))
	}
	if bc.Blocks[0].Height != 5 || bc.Blocks[1].Height != 4 {
		t.Errorf("truncate should keep the highest blocks, got %+v", bc.Blocks)
	}
}

func TestBlockchainValid(t *testing.T) {
	cases := []struct {
		name string
		bc   Blockchain
		want bool
	}{
		{"empty is valid", Blockchain{}, true},
		{"non-empty with zero height is invalid", Blockchain{Blocks: []Block{{Height: 5}}, Height: 0}, false},
		{"descending heights valid", Blockchain{Blocks: []Block{{Height: 3}, {Height: 2}}, Height: 3}, true},
		{"non-descending heights invalid", Blockchain{Blocks: []Block{{Height: 2}, {Height: 2}}, Height: 2}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.bc.Valid(); got != c.want {
				t.Errorf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestBlockchainHead(t *testing.T) {
	bc := NewBlockchain()
	if bc.Head() != "" {
		t.Errorf("expected empty head for empty chain")
	}
	bc.AddBlock(Block{Hash: "x", Height: 1})
	bc.Sort()
	if bc.Head() != "x" {
		t.Errorf("expected head hash %q, got %q", "x", bc.Head())
	}
}

func TestMergeUnionAndTieBreak(t *testing.T) {
	stored := NewBlockchain()
	stored.AddBlock(Block{Hash: "stored-10", Height: 10})
	stored.AddBlock(Block{Hash: "stored-9", Height: 9})
	stored.Sort()

	incoming := NewBlockchain()
	incoming.AddBlock(Block{Hash: "incoming-10", Height: 10})
	incoming.AddBlock(Block{Hash: "incoming-11", Height: 11})
	incoming.Sort()

	merged := Merge(stored, incoming, 1000)
	if merged.Height != 11 {
		t.Fatalf("expected merged height 11, got %d", merged.Height)
	}
	if len(merged.Blocks) != 3 {
		t.Fatalf("expected 3 distinct heights in merge, got %d", len(merged.Blocks))
	}
	for _, b := range merged.Blocks {
		if b.Height == 10 && b.Hash != "incoming-10" {
			t.Errorf("expected incoming to win the height-10 tie, got %q", b.Hash)
		}
	}
}

func TestMergeTruncatesToKeepHistory(t *testing.T) {
	stored := NewBlockchain()
	for h := uint64(1); h <= 5; h++ {
		stored.AddBlock(Block{Height: h})
	}
	stored.Sort()

	merged := Merge(stored, NewBlockchain(), 2)
	if len(merged.Blocks) != 2 {
		t.Fatalf("expected merge to respect keepHistory=2, got %d blocks", len(merged.Blocks))
	}
	if merged.Height != 5 {
		t.Errorf("expected merged height 5, got %d", merged.Height)
	}
}

func TestMergePreservesLatestScrappingTask(t *testing.T) {
	stored := Blockchain{LastScrappingTask: 100}
	incoming := Blockchain{LastScrappingTask: 200}
	merged := Merge(stored, incoming, 10)
	if merged.LastScrappingTask != 200 {
		t.Errorf("expected LastScrappingTask to take the max, got %d", merged.LastScrappingTask)
	}

	stored2 := Blockchain{LastScrappingTask: 300}
	merged2 := Merge(stored2, incoming, 10)
	if merged2.LastScrappingTask != 300 {
		t.Errorf("expected LastScrappingTask to keep stored's higher value, got %d", merged2.LastScrappingTask)
	}
}

func TestProtocolValid(t *testing.T) {
	if !ProtocolBitcoin.Valid() {
		t.Errorf("expected %q to be valid", ProtocolBitcoin)
	}
	if Protocol("made-up-chain").Valid() {
		t.Errorf("expected unknown protocol to be invalid")
	}
}

func TestKey(t *testing.T) {
	if got := Key(ProtocolBitcoin, Network("mainnet")); got != "bitcoin-mainnet" {
		t.Errorf("Key() = %q, want %q", got, "bitcoin-mainnet")
	}
}
