package provider

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// BitcoinNode walks getbestblockhash -> getblock(hash, verbosity=1) chained
// by previousblockhash, exactly as spec.md §4.2's table describes and as
// original_source's src/endpoints/bitcoin_node.rs implements.
type BitcoinNode struct {
	base
}

// NewBitcoinNode constructs a Bitcoin full-node provider.
func NewBitcoinNode(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *BitcoinNode {
	return &BitcoinNode{base{
		rlc:      client.New(opts, logger),
		protocol: protocol,
		network:  network,
		logger:   logger,
	}}
}

func (p *BitcoinNode) getBestBlockHash(ctx context.Context) (string, error) {
	req := client.NewRequest("getbestblockhash")
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return "", err
	}
	if !resp.Valid() {
		return "", fmt.Errorf("%w: getbestblockhash returned no result", chain.ErrDecodeFailed)
	}
	var hash string
	if err := decodeResult(resp.Result, &hash); err != nil {
		return "", err
	}
	if _, err := chainhash.NewHashFromStr(hash); err != nil {
		return "", fmt.Errorf("%w: getbestblockhash returned a malformed hash: %v", chain.ErrDecodeFailed, err)
	}
	return hash, nil
}

func (p *BitcoinNode) getBlock(ctx context.Context, hash string) (btcjson.GetBlockVerboseResult, error) {
	req := client.NewRequest("getblock", hash, 1)
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return btcjson.GetBlockVerboseResult{}, err
	}
	if !resp.Valid() {
		return btcjson.GetBlockVerboseResult{}, fmt.Errorf("%w: getblock returned no result", chain.ErrDecodeFailed)
	}
	var block btcjson.GetBlockVerboseResult
	if err := decodeResult(resp.Result, &block); err != nil {
		return btcjson.GetBlockVerboseResult{}, err
	}
	if block.PreviousHash != "" {
		if _, err := chainhash.NewHashFromStr(block.PreviousHash); err != nil {
			return btcjson.GetBlockVerboseResult{}, fmt.Errorf("%w: getblock returned a malformed previousblockhash: %v", chain.ErrDecodeFailed, err)
		}
	}
	return block, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *BitcoinNode) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}

	bestHash, err := p.getBestBlockHash(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == bestHash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}

	bc := chain.NewBlockchain()
	cur := bestHash
	for i := uint32(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		block, err := p.getBlock(ctx, cur)
		if err != nil {
			break
		}
		bc.AddBlock(chain.Block{
			Hash:   block.Hash,
			Height: uint64(block.Height),
			Time:   uint64(block.Time),
			Txs:    uint64(len(block.Tx)),
		})
		cur = block.PreviousHash
		if cur == "" {
			break
		}
	}
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: walked only %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
