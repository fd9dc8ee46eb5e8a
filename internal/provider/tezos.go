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

// TezosNode queries GET /chains/main/blocks/head, then walks
// GET /chains/main/blocks/{head_level-i}; txs is the count of
// kind=="transaction" operations across all operation groups (spec.md §4.2).
type TezosNode struct {
	base
}

func NewTezosNode(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *TezosNode {
	return &TezosNode{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type tezosOperation struct {
	Kind string `json:"kind"`
}

type tezosBlock struct {
	Hash   string `json:"hash"`
	Header struct {
		Level     uint64 `json:"level"`
		Timestamp string `json:"timestamp"`
	} `json:"header"`
	Operations [][]tezosOperation `json:"operations"`
}

func (b tezosBlock) txCount() uint64 {
	var count uint64
	for _, group := range b.Operations {
		for _, op := range group {
			if op.Kind == "transaction" {
				count++
			}
		}
	}
	return count
}

func (p *TezosNode) getBlock(ctx context.Context, path string) (tezosBlock, error) {
	var b tezosBlock
	url := p.rlc.Config.URL + path
	if err := p.rlc.RunRequest(ctx, http.MethodGet, url, nil, p.protocol, p.network, &b); err != nil {
		return tezosBlock{}, err
	}
	return b, nil
}

// FetchTopBlocks implements the Provider contract.
func (p *TezosNode) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}
	head, err := p.getBlock(ctx, "/chains/main/blocks/head")
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
	headLevel := head.Header.Level
	for i := uint32(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return chain.Blockchain{}, ctx.Err()
		default:
		}
		var b tezosBlock
		if i == 0 {
			b = cur
		} else {
			level := headLevel - uint64(i)
			b, err = p.getBlock(ctx, fmt.Sprintf("/chains/main/blocks/%d", level))
			if err != nil {
				break
			}
		}
		ts, err := parseRFC3339Seconds(b.Header.Timestamp)
		if err != nil {
			return chain.Blockchain{}, err
		}
		bc.AddBlock(chain.Block{Hash: b.Hash, Height: b.Header.Level, Time: ts, Txs: b.txCount()})
	}
	if uint32(len(bc.Blocks)) < n {
		return chain.Blockchain{}, fmt.Errorf("%w: walked only %d of %d requested blocks", chain.ErrRequestFailed, len(bc.Blocks), n)
	}
	bc.Sort()
	metrics.BlockchainHeightEndpoint.WithLabelValues(endpointLabel(p.rlc), p.rlc.Config.Alias, string(p.protocol), string(p.network)).Set(float64(bc.Height))
	return bc, nil
}
