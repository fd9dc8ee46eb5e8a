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

// TzStats queries GET /explorer/block/head, then walks by predecessor hash n
// times (spec.md §4.2) -- like BitcoinNode and PolkadotNode it chains by
// hash rather than height.
type TzStats struct {
	base
}

func NewTzStats(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *TzStats {
	return &TzStats{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type tzstatsBlock struct {
	Hash        string `json:"hash"`
	Height      uint64 `json:"height"`
	Time        string `json:"time"`
	NOps        uint64 `json:"n_tx"`
	Predecessor string `json:"predecessor"`
}

func (p *TzStats) getBlock(ctx context.Context, ref string) (tzstatsBlock, error) {
	var b tzstatsBlock
	url := p.rlc.Config.URL + "/explorer/block/" + ref
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &b); err != nil {
		return tzstatsBlock{}, err
	}
	return b, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *TzStats) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}
	head, err := p.getBlock(ctx, "head")
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == head.Hash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	bc := chain.NewBlockchain()
	cur := head
	for i := uint32(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		ts, err := parseRFC3339Seconds(cur.Time)
		if err != nil {
			return chain.Blockchain{}, err
		}
		bc.AddBlock(chain.Block{Hash: cur.Hash, Height: cur.Height, Time: ts, Txs: cur.NOps})
		if cur.Predecessor == "" {
			break
		}
		next, err := p.getBlock(ctx, cur.Predecessor)
		if err != nil {
			break
		}
		cur = next
	}
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: walked only %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
