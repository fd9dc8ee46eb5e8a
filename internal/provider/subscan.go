package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// Subscan takes the highest finalized block of the first POST
// /api/v2/scan/blocks {row, page} page as head, then pages the same endpoint
// collecting every listed block (finalized or not) inside the n-block window
// below the head until the window is filled; a per-block fallback POST
// /api/v2/scan/block plugs any gaps.
// Height must be strictly monotone decreasing across the assembled window or
// the fetch fails (spec.md §4.2).
type Subscan struct {
	base
}

func NewSubscan(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *Subscan {
	return &Subscan{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type subscanBlockEntry struct {
	BlockNum    uint64 `json:"block_num"`
	BlockHash   string `json:"hash"`
	BlockTime   uint64 `json:"block_timestamp"`
	Finalized   bool   `json:"finalized"`
	ExtrinsicsN uint64 `json:"extrinsics_count"`
}

type subscanBlocksResponse struct {
	Data struct {
		Blocks []subscanBlockEntry `json:"blocks"`
	} `json:"data"`
}

type subscanBlockResponse struct {
	Data subscanBlockEntry `json:"data"`
}

func (p *Subscan) listBlocks(ctx context.Context, row, page int) ([]subscanBlockEntry, error) {
	body, _ := json.Marshal(map[string]int{"row": row, "page": page})
	var resp subscanBlocksResponse
	url := p.rlc.Config.URL + "/api/v2/scan/blocks"
	if err := p.rlc.RunRequest(ctx, http.MethodPost, url, body, p.protocol, p.network, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Blocks, nil
}

func (p *Subscan) getBlock(ctx context.Context, blockNum uint64) (subscanBlockEntry, error) {
	body, _ := json.Marshal(map[string]uint64{"block_num": blockNum})
	var resp subscanBlockResponse
	url := p.rlc.Config.URL + "/api/v2/scan/block"
	if err := p.rlc.RunRequest(ctx, http.MethodPost, url, body, p.protocol, p.network, &resp); err != nil {
		return subscanBlockEntry{}, err
	}
	return resp.Data, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *Subscan) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}

	first, err := p.listBlocks(ctx, 10, 0)
	if err != nil {
		return chain.Blockchain{}, err
	}
	var head *subscanBlockEntry
	for i := range first {
		if !first[i].Finalized {
			continue
		}
		if head == nil || first[i].BlockNum > head.BlockNum {
			head = &first[i]
		}
	}
	if head == nil {
		return chain.Blockchain{}, fmt.Errorf("%w: no finalized block in first page", chain.ErrDecodeFailed)
	}
	if previousHead != "" && previousHead == head.BlockHash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	byHeight := make(map[uint64]subscanBlockEntry)
	byHeight[head.BlockNum] = *head
	page := 0
	for uint32(len(byHeight)) < n {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		entries, err := p.listBlocks(ctx, 10, page)
		if err != nil || len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if e.BlockNum <= head.BlockNum && e.BlockNum > head.BlockNum-uint64(n) {
				byHeight[e.BlockNum] = e
			}
		}
		page++
		if page > int(n) {
			break
		}
	}
	// plug gaps with the per-block fallback
	for i := uint64(0); i < uint64(n); i++ {
		target := head.BlockNum - i
		if _, ok := byHeight[target]; !ok {
			entry, err := p.getBlock(ctx, target)
			if err != nil {
				continue
			}
			byHeight[target] = entry
		}
	}

	bc := chain.NewBlockchain()
	for _, e := range byHeight {
		bc.AddBlock(chain.Block{Hash: e.BlockHash, Height: e.BlockNum, Time: e.BlockTime, Txs: e.ExtrinsicsN})
	}
	bc.Sort()
	bc.Truncate(int(n))
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: only assembled %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	for i := 0; i+1 < len(bc.Blocks); i++ {
		if bc.Blocks[i].Height <= bc.Blocks[i+1].Height {
			return chain.Blockchain{}, fmt.Errorf("%w: non-monotone height sequence assembled", chain.ErrDecodeFailed)
		}
	}
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
