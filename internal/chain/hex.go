package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// DecodeHexUint64 parses a "0x..." quantity as used by Ethereum-family and
// Polkadot JSON-RPC responses. Malformed hex is a hard DecodeFailed error,
// never silently zeroed (spec.md §9).
func DecodeHexUint64(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty hex quantity", ErrDecodeFailed)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return v, nil
}

// DecodeHexUint128 decodes exactly as DecodeHexUint64 does and returns a
// uint64: quantities wider than 64 bits are not decoded and fail with
// ErrDecodeFailed. No provider calls it at present.
func DecodeHexUint128(s string) (uint64, error) {
	return DecodeHexUint64(s)
}

// EncodeHexUint64 renders v in the "0x..." form the ethereum-family
// eth_getBlockByNumber params expect.
func EncodeHexUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
