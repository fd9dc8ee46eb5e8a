package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
)

// decodeResult unmarshals a JSON-RPC response's raw Result field into out,
// wrapping failures as chain.ErrDecodeFailed.
func decodeResult(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", chain.ErrDecodeFailed, err)
	}
	return nil
}

// endpointLabel extracts the host[:port] metric label from a client's
// configured URL, matching the RateLimitedClient's own convention.
func endpointLabel(rlc *client.RateLimitedClient) string {
	u, err := url.Parse(rlc.Config.URL)
	if err != nil {
		return rlc.Config.URL
	}
	return u.Host
}

// parseRFC3339Seconds parses an RFC3339 timestamp (Blockcypher's block.time
// field) into UNIX seconds.
func parseRFC3339Seconds(s string) (uint64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chain.ErrDecodeFailed, err)
	}
	return uint64(t.Unix()), nil
}
