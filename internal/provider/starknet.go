package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// StarknetNode queries starknet_blockHashAndNumber for the head, then a
// single batch of starknet_getBlockWithTxs({block_number}) for
// head-0 .. head-(n-1) (spec.md §4.2).
type StarknetNode struct {
	base
}

func NewStarknetNode(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *StarknetNode {
	return &StarknetNode{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type starknetHeadResult struct {
	BlockHash   string `json:"block_hash"`
	BlockNumber uint64 `json:"block_number"`
}

type starknetBlockResult struct {
	BlockHash string `json:"block_hash"`
	BlockNum  uint64 `json:"block_number"`
	Timestamp uint64 `json:"timestamp"`
	Txs       []any  `json:"transactions"`
}

func (p *StarknetNode) getHead(ctx context.Context) (starknetHeadResult, error) {
	req := client.NewRequest("starknet_blockHashAndNumber")
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return starknetHeadResult{}, err
	}
	if !resp.Valid() {
		return starknetHeadResult{}, fmt.Errorf("%w: starknet_blockHashAndNumber returned no result", chain.ErrDecodeFailed)
	}
	var head starknetHeadResult
	if err := decodeResult(resp.Result, &head); err != nil {
		return starknetHeadResult{}, err
	}
	return head, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *StarknetNode) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}
	head, err := p.getHead(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == head.BlockHash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	batch := make(client.Batch, 0, n)
	for i := uint32(0); i < n; i++ {
		if uint64(i) > head.BlockNumber {
			break
		}
		batch = append(batch, client.NewRequest("starknet_getBlockWithTxs", map[string]uint64{"block_number": head.BlockNumber - uint64(i)}))
	}
	batch = client.NewBatch(batch...)

	var responses []client.Response
	if err := p.rlc.RPC(ctx, batch, p.protocol, p.network, &responses); err != nil {
		return chain.Blockchain{}, err
	}
	blocks, err := client.DecodeBatch[starknetBlockResult](responses)
	if err != nil {
		return chain.Blockchain{}, err
	}

	bc := chain.NewBlockchain()
	for _, b := range blocks {
		bc.AddBlock(chain.Block{Hash: b.BlockHash, Height: b.BlockNum, Time: b.Timestamp, Txs: uint64(len(b.Txs))})
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
