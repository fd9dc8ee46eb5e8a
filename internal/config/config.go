// Package config implements the YAML configuration loader and the
// defaults-merging rules described in spec.md §4.6: parse order is global,
// then database, then each protocol tree, so that endpoint defaults exist
// before any per-provider override is computed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/client"
)

// EndpointOptionsFile is the YAML shape of one endpoint's options block,
// with every field optional so it can be overlaid on global.endpoints.
type EndpointOptionsFile struct {
	Retry     *int              `yaml:"retry,omitempty"`
	Delay     *int              `yaml:"delay,omitempty"`
	Rate      *int              `yaml:"rate,omitempty"`
	Timeout   *int              `yaml:"timeout,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	BasicAuth *BasicAuthFile    `yaml:"basic_auth,omitempty"`
	Alias     string            `yaml:"alias,omitempty"`
}

// BasicAuthFile is the YAML shape of an optional basic_auth block.
type BasicAuthFile struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProviderFile is the YAML shape of one provider entry: a URL plus optional
// per-endpoint options.
type ProviderFile struct {
	URL     string              `yaml:"url"`
	Options EndpointOptionsFile `yaml:"options"`
}

// NetworkOptionsFile is the YAML shape of network_options: { head_length?, tick_rate? }.
type NetworkOptionsFile struct {
	HeadLength *int `yaml:"head_length,omitempty"`
	TickRate   *int `yaml:"tick_rate,omitempty"`
}

// rawFile is the top-level YAML document shape.
type rawFile struct {
	Global struct {
		Server struct {
			Port int `yaml:"port"`
		} `yaml:"server"`
		Metrics struct {
			Port int `yaml:"port"`
		} `yaml:"metrics"`
		Endpoints       EndpointOptionsFile `yaml:"endpoints"`
		NetworksOptions NetworkOptionsFile  `yaml:"networks_options"`
	} `yaml:"global"`
	Database struct {
		KeepHistory int    `yaml:"keep_history"`
		Path        string `yaml:"path"`
	} `yaml:"database"`
	Protocols map[string]map[string]rawNetworkEntry `yaml:"protocols"`
}

// rawNetworkEntry is decoded as a generic map first so provider keys
// ("rpc", "blockstream", "tzkt", ...) can be distinguished by name, matching
// spec.md §6's mixed-shape protocols tree.
type rawNetworkEntry map[string]yaml.Node

// NetworkAppOptions is the resolved per-(protocol,network) collector tuning.
type NetworkAppOptions struct {
	HeadLength uint32
	TickRate   time.Duration
}

// ProviderConfig is one resolved provider entry: its kind (bitcoin node,
// blockstream, tzkt, ...) plus fully-merged EndpointOptions.
type ProviderConfig struct {
	Kind    string
	Options client.Options
}

// NetworkConfig bundles one (protocol, network) pair's tuning and providers.
type NetworkConfig struct {
	Options   NetworkAppOptions
	Providers []ProviderConfig
}

// Config is the fully-resolved, immutable configuration snapshot (spec.md §3).
type Config struct {
	ServerPort  int
	MetricsPort int
	KeepHistory int
	DBPath      string

	Protocols map[chain.Protocol]map[chain.Network]NetworkConfig
}

// knownProviderKinds lists every provider identifier the configuration tree
// may name outside the "rpc" array (spec.md §4.2's variant table). Node
// variants come from "rpc", except that "tezos_node" may also be named here
// directly.
var knownProviderKinds = map[string]bool{
	"blockstream": true,
	"blockcypher": true,
	"tezos_node":  true,
	"tzkt":        true,
	"tzstats":     true,
	"subscan":     true,
}

// nodeKindForProtocol returns the RPC-node provider kind for a protocol,
// e.g. "bitcoin_node", "ethereum_node", "polkadot_node", "starknet_node".
// EVM-family protocols all resolve to "ethereum_node": they share wire
// format but keep distinct Protocol tags (spec.md §3).
func nodeKindForProtocol(p chain.Protocol) string {
	switch p {
	case chain.ProtocolBitcoin:
		return "bitcoin_node"
	case chain.ProtocolEthereum, chain.ProtocolEWF, chain.ProtocolPolygon,
		chain.ProtocolMoonbeam, chain.ProtocolAvalanche:
		return "ethereum_node"
	case chain.ProtocolTezos:
		return "tezos_node"
	case chain.ProtocolPolkadot:
		return "polkadot_node"
	case chain.ProtocolStarknet:
		return "starknet_node"
	default:
		return "none"
	}
}

// Load reads and resolves a configuration file at path, applying the
// default-merge rules of spec.md §4.6. dbPathOverride, if non-empty,
// overrides database.path (the --db-path CLI flag).
func Load(path string, dbPathOverride string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", chain.ErrConfigInvalid, path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", chain.ErrConfigInvalid, path, err)
	}

	cfg := &Config{
		ServerPort:  getEnvInt("BLOCKHEAD_SERVER_PORT", orInt(raw.Global.Server.Port, 8080)),
		MetricsPort: getEnvInt("BLOCKHEAD_METRICS_PORT", orInt(raw.Global.Metrics.Port, 8081)),
		KeepHistory: orInt(raw.Database.KeepHistory, 1000),
		DBPath:      orString(raw.Database.Path, "blockhead.db"),
		Protocols:   make(map[chain.Protocol]map[chain.Network]NetworkConfig),
	}
	if dbPathOverride != "" {
		cfg.DBPath = dbPathOverride
	}

	globalEndpoints := resolveEndpointDefaults(raw.Global.Endpoints)
	globalNetOpts := resolveNetworkOptions(raw.Global.NetworksOptions, NetworkAppOptions{
		HeadLength: 5,
		TickRate:   5 * time.Second,
	})

	seenAlias := make(map[string]map[string]bool) // "protocol-network" -> alias -> seen

	for protoKey, networks := range raw.Protocols {
		protocol := chain.Protocol(protoKey)
		if !protocol.Valid() {
			return nil, fmt.Errorf("%w: unknown protocol %q", chain.ErrConfigInvalid, protoKey)
		}
		cfg.Protocols[protocol] = make(map[chain.Network]NetworkConfig)

		for netKey, entry := range networks {
			network := chain.Network(netKey)
			aliasKey := protoKey + "-" + netKey
			seenAlias[aliasKey] = make(map[string]bool)

			netOpts := globalNetOpts
			providers := make([]ProviderConfig, 0, len(entry))

			for fieldName, node := range entry {
				switch fieldName {
				case "network_options":
					var opts NetworkOptionsFile
					if err := node.Decode(&opts); err != nil {
						return nil, fmt.Errorf("%w: %s/%s network_options: %v", chain.ErrConfigInvalid, protoKey, netKey, err)
					}
					netOpts = resolveNetworkOptions(opts, globalNetOpts)
				case "rpc":
					var rpcList []ProviderFile
					if err := node.Decode(&rpcList); err != nil {
						return nil, fmt.Errorf("%w: %s/%s rpc: %v", chain.ErrConfigInvalid, protoKey, netKey, err)
					}
					kind := nodeKindForProtocol(protocol)
					for _, pf := range rpcList {
						pc, err := resolveProvider(kind, pf, globalEndpoints, seenAlias[aliasKey], protoKey, netKey)
						if err != nil {
							return nil, err
						}
						providers = append(providers, pc)
					}
				default:
					if !knownProviderKinds[fieldName] {
						return nil, fmt.Errorf("%w: unknown provider %q for %s/%s", chain.ErrConfigInvalid, fieldName, protoKey, netKey)
					}
					var pf ProviderFile
					if err := node.Decode(&pf); err != nil {
						return nil, fmt.Errorf("%w: %s/%s %s: %v", chain.ErrConfigInvalid, protoKey, netKey, fieldName, err)
					}
					pc, err := resolveProvider(fieldName, pf, globalEndpoints, seenAlias[aliasKey], protoKey, netKey)
					if err != nil {
						return nil, err
					}
					providers = append(providers, pc)
				}
			}

			cfg.Protocols[protocol][network] = NetworkConfig{
				Options:   netOpts,
				Providers: providers,
			}
		}
	}

	return cfg, nil
}

func resolveProvider(kind string, pf ProviderFile, globalDefaults client.Options, seenAlias map[string]bool, protoKey, netKey string) (ProviderConfig, error) {
	if pf.URL == "" {
		return ProviderConfig{}, fmt.Errorf("%w: missing url for provider %q in %s/%s", chain.ErrConfigInvalid, kind, protoKey, netKey)
	}
	opts := overlayEndpointOptions(globalDefaults, pf.Options)
	opts.URL = pf.URL
	if opts.Alias != "" {
		if seenAlias[opts.Alias] {
			return ProviderConfig{}, fmt.Errorf("%w: duplicate alias %q in %s/%s", chain.ErrConfigInvalid, opts.Alias, protoKey, netKey)
		}
		seenAlias[opts.Alias] = true
	}
	return ProviderConfig{Kind: kind, Options: opts}, nil
}

func resolveEndpointDefaults(f EndpointOptionsFile) client.Options {
	opts := client.DefaultOptions("")
	return overlayEndpointOptions(opts, f)
}

func overlayEndpointOptions(base client.Options, f EndpointOptionsFile) client.Options {
	out := base
	if f.Retry != nil {
		out.Retry = *f.Retry
	}
	if f.Delay != nil {
		out.Delay = time.Duration(*f.Delay) * time.Second
	}
	if f.Rate != nil {
		out.Rate = time.Duration(*f.Rate) * time.Second
	}
	if f.Timeout != nil {
		out.Timeout = time.Duration(*f.Timeout) * time.Second
	}
	if f.Headers != nil {
		out.Headers = f.Headers
	}
	if f.BasicAuth != nil {
		out.BasicAuth = &client.BasicAuth{Username: f.BasicAuth.Username, Password: f.BasicAuth.Password}
	}
	if f.Alias != "" {
		out.Alias = f.Alias
	}
	return out
}

func resolveNetworkOptions(f NetworkOptionsFile, base NetworkAppOptions) NetworkAppOptions {
	out := base
	if f.HeadLength != nil {
		out.HeadLength = uint32(*f.HeadLength)
	}
	if f.TickRate != nil {
		out.TickRate = time.Duration(*f.TickRate) * time.Second
	}
	return out
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// loadDotEnv mirrors the teacher's tier-specific .env loading: a best-effort
// overlay of process environment from a local .env file, ignored if absent.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

// getEnv and getEnvInt back the CLI-flag-adjacent env overrides (server/metrics
// ports, BLOCKHEAD_LOG_LEVEL) consumed here and by cmd/blockhead.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// LogLevelFromEnvOrFlag resolves the effective log level, flag value taking
// precedence over BLOCKHEAD_LOG_LEVEL, defaulting to "info".
func LogLevelFromEnvOrFlag(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv("BLOCKHEAD_LOG_LEVEL", "info")
}
