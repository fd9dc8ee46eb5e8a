package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// EthereumNode implements the shared EVM JSON-RPC wire format: a head query
// via eth_getBlockByNumber("latest", false), then a single batch request for
// head-0 .. head-(n-1) (spec.md §4.2's table). Distinct EVM-fork protocols
// (polygon, moonbeam, avalanche, ewf) share this implementation but keep
// their own Protocol tag (spec.md §3).
type EthereumNode struct {
	base
}

// NewEthereumNode constructs an EVM-family full-node provider for protocol.
func NewEthereumNode(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *EthereumNode {
	return &EthereumNode{base{
		rlc:      client.New(opts, logger),
		protocol: protocol,
		network:  network,
		logger:   logger,
	}}
}

type ethBlockResult struct {
	Hash         string   `json:"hash"`
	Number       string   `json:"number"`
	Timestamp    string   `json:"timestamp"`
	Transactions []string `json:"transactions"`
}

func (p *EthereumNode) getHead(ctx context.Context) (ethBlockResult, error) {
	req := client.NewRequest("eth_getBlockByNumber", "latest", false)
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return ethBlockResult{}, err
	}
	if !resp.Valid() {
		return ethBlockResult{}, fmt.Errorf("%w: eth_getBlockByNumber(latest) returned no result", chain.ErrDecodeFailed)
	}
	var block ethBlockResult
	if err := decodeResult(resp.Result, &block); err != nil {
		return ethBlockResult{}, err
	}
	return block, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *EthereumNode) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}

	head, err := p.getHead(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == head.Hash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	headNumber, err := chain.DecodeHexUint64(head.Number)
	if err != nil {
		return chain.Blockchain{}, err
	}

	batch := make(client.Batch, 0, n)
	for i := uint32(0); i < n; i++ {
		if uint64(i) > headNumber {
			break
		}
		batch = append(batch, client.NewRequest("eth_getBlockByNumber", chain.EncodeHexUint64(headNumber-uint64(i)), false))
	}
	batch = client.NewBatch(batch...)

	var responses []client.Response
	if err := p.rlc.RPC(ctx, batch, p.protocol, p.network, &responses); err != nil {
		return chain.Blockchain{}, err
	}
	blocks, err := client.DecodeBatch[ethBlockResult](responses)
	if err != nil {
		return chain.Blockchain{}, err
	}

	bc := chain.NewBlockchain()
	for _, b := range blocks {
		height, err := chain.DecodeHexUint64(b.Number)
		if err != nil {
			return chain.Blockchain{}, err
		}
		ts, err := chain.DecodeHexUint64(b.Timestamp)
		if err != nil {
			return chain.Blockchain{}, err
		}
		bc.AddBlock(chain.Block{
			Hash:   b.Hash,
			Height: height,
			Time:   ts,
			Txs:    uint64(len(b.Transactions)),
		})
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
