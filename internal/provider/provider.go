// Package provider implements the Provider sum type: one variant per
// external data source, each embedding a RateLimitedClient and implementing
// the single FetchTopBlocks contract (spec.md §4.2).
package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
)

// Provider is the sole contract every variant implements. previousHead is
// the empty string when the collector has no prior tick to compare against.
type Provider interface {
	FetchTopBlocks(ctx context.Context, n uint32, previousHead string) (chain.Blockchain, error)
	Protocol() chain.Protocol
	Network() chain.Network
	// Available reports whether the embedded RateLimitedClient's rate
	// window has elapsed. The collector uses this to skip a provider for
	// the current tick without incurring a call (spec.md §5).
	Available() bool
}

// base holds the fields every variant shares: its RateLimitedClient,
// Protocol/Network tags, and a logger. Variants embed base and add their own
// wire-format methods.
type base struct {
	rlc      *client.RateLimitedClient
	protocol chain.Protocol
	network  chain.Network
	logger   *zap.Logger
}

func (b *base) Protocol() chain.Protocol { return b.protocol }
func (b *base) Network() chain.Network   { return b.network }
func (b *base) Available() bool          { return b.rlc.Available() }

// checkAvailable refuses with EndpointNotAvailable, the common precondition
// every variant's FetchTopBlocks enforces first (spec.md §4.2).
func (b *base) checkAvailable() error {
	if !b.rlc.Available() {
		return chain.ErrEndpointNotAvailable
	}
	return nil
}

// noneProvider represents "configured but unsupported" (spec.md §3): it is
// always skipped by the collector, which filters providers of this kind out
// before fanning out.
type noneProvider struct {
	protocol chain.Protocol
	network  chain.Network
}

func (n *noneProvider) Protocol() chain.Protocol { return n.protocol }
func (n *noneProvider) Network() chain.Network   { return n.network }
func (n *noneProvider) Available() bool          { return true }

func (n *noneProvider) FetchTopBlocks(_ context.Context, _ uint32, _ string) (chain.Blockchain, error) {
	return chain.Blockchain{}, fmt.Errorf("%w: provider kind is none", chain.ErrDecodeFailed)
}

// NewNone constructs the "none" variant for an unsupported provider kind.
func NewNone(protocol chain.Protocol, network chain.Network) Provider {
	return &noneProvider{protocol: protocol, network: network}
}
