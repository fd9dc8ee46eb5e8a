package client

import (
	"encoding/json"
	"fmt"

	"github.com/blockheadhq/blockhead/internal/chain"
)

// JSONRPCVersion is the fixed jsonrpc field value used on every request.
const JSONRPCVersion = "2.0"

// Request is a single JSON-RPC 2.0 request. Params is serialized as-is,
// supporting the polymorphic mix of strings, numbers, booleans, and nested
// objects that the wire formats require (spec.md §9).
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// NewRequest builds a single JSON-RPC request with id 1 and JSONRPCVersion.
func NewRequest(method string, params ...any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{JSONRPC: JSONRPCVersion, ID: 1, Method: method, Params: params}
}

// Batch is a JSON-RPC batch request: a plain array of Request on the wire.
type Batch []Request

// NewBatch builds a batch request, assigning sequential ids starting at 1.
func NewBatch(reqs ...Request) Batch {
	for i := range reqs {
		reqs[i].ID = i + 1
	}
	return Batch(reqs)
}

// Response is a single JSON-RPC response envelope. Result is left raw so
// callers can decode it into the shape they expect.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// Valid reports whether this entry carries a non-null result and a null
// error, per spec.md's batch acceptance rule.
func (r Response) Valid() bool {
	if len(r.Error) > 0 && string(r.Error) != "null" {
		return false
	}
	return len(r.Result) > 0 && string(r.Result) != "null"
}

// DecodeBatch validates every entry in a batch response (spec.md §8: "the
// batch succeeds only if every sub-response carries a non-null result") and
// returns a new slice of len(responses) whose i-th element is the decoded
// Result of responses[i].
func DecodeBatch[T any](responses []Response) ([]T, error) {
	out := make([]T, len(responses))
	for i, r := range responses {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: batch entry %d missing result or carries error", chain.ErrDecodeFailed, i)
		}
		if err := json.Unmarshal(r.Result, &out[i]); err != nil {
			return nil, fmt.Errorf("%w: batch entry %d: %v", chain.ErrDecodeFailed, i, err)
		}
	}
	return out, nil
}
