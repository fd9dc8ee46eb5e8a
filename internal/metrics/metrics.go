// Package metrics holds the process-global Prometheus registry described in
// spec.md §4.5: client-level counters/histograms plus collector-level
// chain-height gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// responseTimeBuckets are the exact buckets spec.md §4.5 mandates, in
// milliseconds.
var responseTimeBuckets = []float64{
	0.5, 1, 5, 10, 25, 50, 100, 150, 200, 250, 300, 350, 450, 500, 1000, 2500, 5000, 10000,
}

var (
	// HTTPResponseCode counts every completed client attempt by status code.
	HTTPResponseCode = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_response_code",
			Help: "Count of HTTP responses received by the rate-limited client, by status code",
		},
		[]string{"endpoint", "alias", "status", "method", "protocol", "network"},
	)

	// HTTPResponseTimeMs observes per-attempt latency in milliseconds.
	HTTPResponseTimeMs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_ms",
			Help:    "Latency of HTTP requests issued by the rate-limited client, in milliseconds",
			Buckets: responseTimeBuckets,
		},
		[]string{"endpoint", "alias", "method", "protocol", "network"},
	)

	// EndpointStatus is 1 when the endpoint's last terminal outcome was a
	// success, 0 otherwise. Writers update only on state transitions.
	EndpointStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endpoint_status",
			Help: "1 if the endpoint's last terminal request succeeded, 0 otherwise",
		},
		[]string{"endpoint", "alias", "protocol", "network"},
	)

	// BlockchainHeight is the monotone best-known height per (protocol, network).
	BlockchainHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockchain_height",
			Help: "Highest known block height per protocol/network (monotone, never regresses)",
		},
		[]string{"protocol", "network"},
	)

	// BlockchainHeightEndpoint is written every tick and may regress if an
	// endpoint falls behind the best chain.
	BlockchainHeightEndpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockchain_height_endpoint",
			Help: "Height reported by a specific endpoint on its most recent tick",
		},
		[]string{"endpoint", "alias", "protocol", "network"},
	)

	// BlockchainHeadTimestamp is the UNIX timestamp of the current head
	// block, written together with BlockchainHeight under the same monotone
	// guard.
	BlockchainHeadTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockchain_head_timestamp",
			Help: "UNIX timestamp of the current best-known head block",
		},
		[]string{"protocol", "network"},
	)

	// BlockchainHeadTxs is the transaction count of the current head block,
	// written together with BlockchainHeight under the same monotone guard.
	BlockchainHeadTxs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockchain_head_txs",
			Help: "Transaction count of the current best-known head block",
		},
		[]string{"protocol", "network"},
	)
)
