package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
)

// ethChain simulates an EVM node's eth_getBlockByNumber for both the single
// "latest" head query and the batched historical-block request.
type ethChain struct {
	byNumber map[uint64]ethBlockResult
	head     uint64
}

func newEthChain(n int) *ethChain {
	c := &ethChain{byNumber: make(map[uint64]ethBlockResult)}
	for i := 0; i < n; i++ {
		h := uint64(i)
		c.byNumber[h] = ethBlockResult{
			Hash:         fmt.Sprintf("0x%x", h+1000),
			Number:       chain.EncodeHexUint64(h),
			Timestamp:    chain.EncodeHexUint64(1600000000 + h),
			Transactions: []string{"0xa", "0xb"},
		}
		c.head = h
	}
	return c
}

func (c *ethChain) resolve(req client.Request) client.Response {
	resp := client.Response{JSONRPC: "2.0", ID: &req.ID}
	if req.Method != "eth_getBlockByNumber" {
		resp.Error = json.RawMessage(`{"code":-32601,"message":"method not found"}`)
		return resp
	}
	tag, _ := req.Params[0].(string)
	var height uint64
	if tag == "latest" {
		height = c.head
	} else {
		var err error
		height, err = chain.DecodeHexUint64(tag)
		if err != nil {
			resp.Error = json.RawMessage(`{"code":-32602,"message":"bad number"}`)
			return resp
		}
	}
	block, ok := c.byNumber[height]
	if !ok {
		resp.Result = json.RawMessage(`null`)
		return resp
	}
	data, _ := json.Marshal(block)
	resp.Result = data
	return resp
}

func (c *ethChain) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		trimmed := bytes.TrimSpace(body.Bytes())

		w.WriteHeader(http.StatusOK)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var reqs client.Batch
			_ = json.Unmarshal(trimmed, &reqs)
			resps := make([]client.Response, len(reqs))
			for i, req := range reqs {
				resps[i] = c.resolve(req)
			}
			_ = json.NewEncoder(w).Encode(resps)
			return
		}
		var req client.Request
		_ = json.Unmarshal(trimmed, &req)
		_ = json.NewEncoder(w).Encode(c.resolve(req))
	}
}

func TestEthereumNodeFetchTopBlocks(t *testing.T) {
	ec := newEthChain(10)
	srv := httptest.NewServer(ec.handler())
	defer srv.Close()

	p := NewEthereumNode(client.Options{URL: srv.URL, Retry: 1, Timeout: time.Second}, chain.ProtocolEthereum, "mainnet", zap.NewNop())
	bc, err := p.FetchTopBlocks(context.Background(), 4, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bc.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(bc.Blocks))
	}
	if bc.Height != 9 {
		t.Errorf("expected head height 9, got %d", bc.Height)
	}
	if bc.Blocks[3].Height != 6 {
		t.Errorf("expected the window to reach down to height 6, got %d", bc.Blocks[3].Height)
	}
}

func TestEthereumNodeFetchTopBlocksNoNewBlock(t *testing.T) {
	ec := newEthChain(3)
	srv := httptest.NewServer(ec.handler())
	defer srv.Close()

	head := ec.byNumber[ec.head]
	p := NewEthereumNode(client.Options{URL: srv.URL, Retry: 1, Timeout: time.Second}, chain.ProtocolEthereum, "mainnet", zap.NewNop())
	_, err := p.FetchTopBlocks(context.Background(), 1, head.Hash)
	if err != chain.ErrNoNewBlock {
		t.Fatalf("expected ErrNoNewBlock, got %v", err)
	}
}

func TestEthereumNodeFetchTopBlocksZeroWindow(t *testing.T) {
	ec := newEthChain(3)
	srv := httptest.NewServer(ec.handler())
	defer srv.Close()

	p := NewEthereumNode(client.Options{URL: srv.URL, Retry: 1, Timeout: time.Second}, chain.ProtocolEthereum, "mainnet", zap.NewNop())
	bc, err := p.FetchTopBlocks(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bc.Blocks) != 0 {
		t.Errorf("expected no blocks for a zero-length window")
	}
}
