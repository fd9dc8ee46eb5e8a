package provider

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// Blockstream queries GET /blocks/tip for the head, then pages GET
// /blocks/{height} (which returns 10 blocks per page) walking decreasing
// height until the window is filled, truncating to n (spec.md §4.2).
type Blockstream struct {
	base
}

func NewBlockstream(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *Blockstream {
	return &Blockstream{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type blockstreamBlock struct {
	ID        string `json:"id"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	TxCount   uint64 `json:"tx_count"`
}

func (p *Blockstream) getTipHeight(ctx context.Context) (uint64, error) {
	var page []blockstreamBlock
	url := p.rlc.Config.URL + "/blocks/tip"
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &page); err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, fmt.Errorf("%w: empty tip page", chain.ErrDecodeFailed)
	}
	return page[0].Height, nil
}

func (p *Blockstream) getPage(ctx context.Context, height uint64) ([]blockstreamBlock, error) {
	var page []blockstreamBlock
	url := fmt.Sprintf("%s/blocks/%d", p.rlc.Config.URL, height)
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *Blockstream) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}

	tipHeight, err := p.getTipHeight(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	firstPage, err := p.getPage(ctx, tipHeight)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if len(firstPage) == 0 {
		return chain.Blockchain{}, fmt.Errorf("%w: empty page at tip", chain.ErrDecodeFailed)
	}
	if previousHead != "" && previousHead == firstPage[0].ID {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	bc := chain.NewBlockchain()
	for _, b := range firstPage {
		bc.AddBlock(chain.Block{Hash: b.ID, Height: b.Height, Time: b.Timestamp, Txs: b.TxCount})
	}
	height := tipHeight
	for uint32(len(bc.Blocks)) < n && height >= 10 {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		height -= 10
		page, err := p.getPage(ctx, height)
		if err != nil {
			break
		}
		for _, b := range page {
			bc.AddBlock(chain.Block{Hash: b.ID, Height: b.Height, Time: b.Timestamp, Txs: b.TxCount})
		}
	}
	bc.Sort()
	bc.Truncate(int(n))
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
