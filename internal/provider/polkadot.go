package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
	"github.com/blockheadhq/blockhead/internal/metrics"
)

// PolkadotNode queries chain_getFinalizedHead for the head hash, then walks
// chain_getBlock(hash) following parent_hash (spec.md §4.2). The block
// timestamp is not part of the Substrate header; it is decoded from the
// first extrinsic's compact-u64 payload, the timestamp pallet's
// "set(now)" inherent.
type PolkadotNode struct {
	base
}

func NewPolkadotNode(opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) *PolkadotNode {
	return &PolkadotNode{base{rlc: client.New(opts, logger), protocol: protocol, network: network, logger: logger}}
}

type polkadotHeader struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash"`
}

type polkadotBlockBody struct {
	Header     polkadotHeader `json:"header"`
	Extrinsics []string       `json:"extrinsics"`
}

type polkadotGetBlockResult struct {
	Block polkadotBlockBody `json:"block"`
}

func (p *PolkadotNode) getFinalizedHead(ctx context.Context) (string, error) {
	req := client.NewRequest("chain_getFinalizedHead")
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return "", err
	}
	if !resp.Valid() {
		return "", fmt.Errorf("%w: chain_getFinalizedHead returned no result", chain.ErrDecodeFailed)
	}
	var hash string
	if err := decodeResult(resp.Result, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (p *PolkadotNode) getBlock(ctx context.Context, hash string) (polkadotGetBlockResult, error) {
	req := client.NewRequest("chain_getBlock", hash)
	var resp client.Response
	if err := p.rlc.RPC(ctx, req, p.protocol, p.network, &resp); err != nil {
		return polkadotGetBlockResult{}, err
	}
	if !resp.Valid() {
		return polkadotGetBlockResult{}, fmt.Errorf("%w: chain_getBlock returned no result", chain.ErrDecodeFailed)
	}
	var block polkadotGetBlockResult
	if err := decodeResult(resp.Result, &block); err != nil {
		return polkadotGetBlockResult{}, err
	}
	return block, nil
}

// decodeTimestampExtrinsic extracts the timestamp pallet's compact-u64 "now"
// argument (milliseconds since epoch) from the first extrinsic of a block,
// returning UNIX seconds. The inherent is unsigned: [len-compact][version
// byte][call-index: 2 bytes][compact<u64> moment]. The length prefix is
// assumed to be one byte; the moment is read by decodeCompactU64, which
// handles all four compact modes and reads at most 8 bytes in big mode.
func decodeTimestampExtrinsic(hexStr string) (uint64, error) {
	raw := strings.TrimPrefix(hexStr, "0x")
	data, err := hex.DecodeString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: extrinsic hex: %v", chain.ErrDecodeFailed, err)
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: extrinsic too short", chain.ErrDecodeFailed)
	}
	// Skip length prefix (compact, but inherents are short enough for a
	// single-byte compact length in practice), version byte, and the 2-byte
	// call index, then decode the compact<u64> moment that follows.
	payload := data[4:]
	moment, err := decodeCompactU64(payload)
	if err != nil {
		return 0, err
	}
	return moment / 1000, nil
}

// decodeCompactU64 decodes a SCALE compact-encoded unsigned integer from the
// start of data.
func decodeCompactU64(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty compact-int payload", chain.ErrDecodeFailed)
	}
	mode := data[0] & 0b11
	switch mode {
	case 0b00:
		return uint64(data[0] >> 2), nil
	case 0b01:
		if len(data) < 2 {
			return 0, fmt.Errorf("%w: truncated compact-int (u16)", chain.ErrDecodeFailed)
		}
		v := uint16(data[0]) | uint16(data[1])<<8
		return uint64(v >> 2), nil
	case 0b10:
		if len(data) < 4 {
			return 0, fmt.Errorf("%w: truncated compact-int (u32)", chain.ErrDecodeFailed)
		}
		v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		return uint64(v >> 2), nil
	default:
		n := int(data[0]>>2) + 4
		if len(data) < 1+n {
			return 0, fmt.Errorf("%w: truncated compact-int (big)", chain.ErrDecodeFailed)
		}
		var v uint64
		for i := 0; i < n && i < 8; i++ {
			v |= uint64(data[1+i]) << (8 * i)
		}
		return v, nil
	}
}

// FetchTopBlocks implements the Provider contract.
func (p *PolkadotNode) FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error) {
	if err := p.checkAvailable(); err != nil {
		return chain.Blockchain{}, err
	}
	head, err := p.getFinalizedHead(ctx)
	if err != nil {
		return chain.Blockchain{}, err
	}
	if previousHead != "" && previousHead == head {
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
		block, err := p.getBlock(ctx, cur)
		if err != nil {
			break
		}
		height, err := chain.DecodeHexUint64(block.Block.Header.Number)
		if err != nil {
			return chain.Blockchain{}, err
		}
		var ts uint64
		if len(block.Block.Extrinsics) > 0 {
			ts, err = decodeTimestampExtrinsic(block.Block.Extrinsics[0])
			if err != nil {
				return chain.Blockchain{}, err
			}
		}
		bc.AddBlock(chain.Block{Hash: cur, Height: height, Time: ts, Txs: uint64(len(block.Block.Extrinsics))})
		cur = block.Block.Header.ParentHash
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
