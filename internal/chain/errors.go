package chain

import "errors"

// Error kinds shared across the client, provider, store, and config layers
// (spec §7). Callers compare with errors.Is; wrapping with fmt.Errorf("...: %w", ErrX)
// preserves the sentinel through context.
var (
	ErrConfigInvalid        = errors.New("config invalid")
	ErrEndpointNotAvailable = errors.New("endpoint not available")
	ErrEndpointRateLimited  = errors.New("endpoint reached rate limit")
	ErrTimeout              = errors.New("request timeout")
	ErrRequestFailed        = errors.New("request failed")
	ErrDecodeFailed         = errors.New("decode failed")
	ErrNoNewBlock           = errors.New("no new block")
	ErrStoreIO              = errors.New("store io error")
	ErrNotFound             = errors.New("not found")
)
