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

// Blockcypher queries GET / for chain info (head height/hash), then walks
// GET /blocks/{height-i} one at a time -- batching this API triggers its
// rate limit (spec.md §4.2).
type Blockcypher struct {
	base
}

func NewBlockcypher(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *Blockcypher {
	return &Blockcypher{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type blockcypherChainInfo struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

type blockcypherBlock struct {
	Hash   string   `json:"hash"`
	Height uint64   `json:"height"`
	Time   string   `json:"time"`
	Txids  []string `json:"txids"`
}

func (p *Blockcypher) getChainInfo(ctx context.Context) (blockcypherChainInfo, error) {
	var info blockcypherChainInfo
	if err := p.rlc.RunRequest(ctx, http.MethodGet, p.rlc.Config.URL, nil, p.protocol, p.network, &info); err != nil {
		return blockcypherChainInfo{}, err
	}
	return info, nil
}

func (p *Blockcypher) getBlock(ctx context.Context, height uint64) (blockcypherBlock, error) {
	var b blockcypherBlock
	url := fmt.Sprintf("%s/blocks/%d", p.rlc.Config.URL, height)
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &b); err != nil {
		return blockcypherBlock{}, err
	}
	return b, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *Blockcypher) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}
	info, err := p.getChainInfo(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == info.Hash {
		return chain.Blockchain{}, chain.ErrNoNewBlock
	}
	if n == 0 {
		return chain.NewBlockchain(), nil
	}

	bc := chain.NewBlockchain()
	for i := uint64(0); i < uint64(n) && i <= info.Height; i++ {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		b, err := p.getBlock(ctx, info.Height-i)
		if err != nil {
			break
		}
		t, err := parseRFC3339Seconds(b.Time)
		if err != nil {
			return chain.Blockchain{}, err
		}
		bc.AddBlock(chain.Block{Hash: b.Hash, Height: b.Height, Time: t, Txs: uint64(len(b.Txids))})
	}
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: walked only %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
