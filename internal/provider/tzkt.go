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

// Tzkt queries GET /v1/blocks?sort.desc=level&limit=1 for the head, then
// GET /v1/blocks/{level}?operations=true per level; txs is the length of the
// transactions operation array (spec.md §4.2).
type Tzkt struct {
	base
}

func NewTzkt(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *Tzkt {
	return &Tzkt{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type tzktBlockSummary struct {
	Hash  string `json:"hash"`
	Level uint64 `json:"level"`
}

type tzktBlockDetail struct {
	Hash         string         `json:"hash"`
	Level        uint64         `json:"level"`
	Timestamp    string         `json:"timestamp"`
	Transactions []json.RawMessage `json:"transactions"`
}

func (p *Tzkt) getHead(ctx context.Context) (tzktBlockSummary, error) {
	var page []tzktBlockSummary
	url := p.rlc.Config.URL + "/v1/blocks?sort.desc=level&limit=1"
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &page); err != nil {
		return tzktBlockSummary{}, err
	}
	if len(page) == 0 {
		return tzktBlockSummary{}, fmt.Errorf("%w: empty head page", chain.ErrDecodeFailed)
	}
	return page[0], nil
}

func (p *Tzkt) getBlock(ctx context.Context, level uint64) (tzktBlockDetail, error) {
	var b tzktBlockDetail
	url := fmt.Sprintf("%s/v1/blocks/%d?operations=true", p.rlc.Config.URL, level)
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &b); err != nil {
		return tzktBlockDetail{}, err
	}
	return b, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *Tzkt) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
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

	bc := chain.NewBlockchain()
	for i := uint32(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		if uint64(i) > head.Level {
			break
		}
		b, err := p.getBlock(ctx, head.Level-uint64(i))
		if err != nil {
			break
		}
		ts, err := parseRFC3339Seconds(b.Timestamp)
		if err != nil {
			return chain.Blockchain{}, err
		}
		bc.AddBlock(chain.Block{Hash: b.Hash, Height: b.Level, Time: ts, Txs: uint64(len(b.Transactions))})
	}
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: walked only %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
