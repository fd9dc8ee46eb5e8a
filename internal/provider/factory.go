package provider

import (
	"go.uber.org/zap"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
)

// New constructs the Provider variant named by kind. Unknown kinds resolve
// to the "none" variant (spec.md §3: "configured but unsupported").
func New(kind string, opts client.Options, protocol chain.Protocol, network chain.Network, logger *zap.Logger) Provider {
	switch kind {
	case "bitcoin_node":
		return NewBitcoinNode(opts, protocol, network, logger)
	case "ethereum_node":
		return NewEthereumNode(opts, protocol, network, logger)
	case "blockstream":
		return NewBlockstream(opts, protocol, network, logger)
	case "blockcypher":
		return NewBlockcypher(opts, protocol, network, logger)
	case "tezos_node":
		return NewTezosNode(opts, protocol, network, logger)
	case "tzkt":
		return NewTzkt(opts, protocol, network, logger)
	case "tzstats":
		return NewTzStats(opts, protocol, network, logger)
	case "polkadot_node":
		return NewPolkadotNode(opts, protocol, network, logger)
	case "subscan":
		return NewSubscan(opts, protocol, network, logger)
	case "starknet_node":
		return NewStarknetNode(opts, protocol, network, logger)
	default:
		return NewNone(protocol, network)
	}
}
