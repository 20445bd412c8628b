package ganache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the conventional development node port, preferred by automatic selection.
	DefaultPort = 8545
	// ChainID is the chain id ganache uses unless told otherwise.
	ChainID = 1337

	defaultBin                = "ganache"
	defaultGasPrice           = 2_000_000_000
	defaultRequestTimeout     = 30
	defaultForkRequestTimeout = 300
	defaultStartupTimeout     = 30
	defaultProcessAttempts    = 5
)

// Runtime selects how the ganache process is launched.
type Runtime string

const (
	// RuntimeLocal runs the ganache executable found on PATH.
	RuntimeLocal Runtime = "local"
	// RuntimeDocker runs ganache inside a docker container.
	RuntimeDocker Runtime = "docker"
)

// Hardfork is the EVM rule set ganache runs with.
type Hardfork string

const (
	Constantinople Hardfork = "constantinople"
	Byzantium      Hardfork = "byzantium"
	Petersburg     Hardfork = "petersburg"
	Istanbul       Hardfork = "istanbul"
	MuirGlacier    Hardfork = "muirGlacier"
	Berlin         Hardfork = "berlin"
	London         Hardfork = "london"
	ArrowGlacier   Hardfork = "arrowGlacier"
	GrayGlacier    Hardfork = "grayGlacier"
	Merge          Hardfork = "merge"
	Shanghai       Hardfork = "shanghai"
)

var hardforks = []Hardfork{
	Constantinople, Byzantium, Petersburg, Istanbul, MuirGlacier, Berlin,
	London, ArrowGlacier, GrayGlacier, Merge, Shanghai,
}

// UnmarshalText accepts a known hardfork name.
func (h *Hardfork) UnmarshalText(text []byte) error {
	for _, hf := range hardforks {
		if string(hf) == string(text) {
			*h = hf
			return nil
		}
	}
	return fmt.Errorf("unknown hardfork %q", string(text))
}

// PortSetting is a server port: either a concrete number or "auto".
type PortSetting struct {
	Auto   bool
	Number int
}

// AutoPort selects a free port when the node starts.
var AutoPort = PortSetting{Auto: true}

// Port returns a PortSetting for a concrete port number.
func Port(n int) PortSetting { return PortSetting{Number: n} }

// IsZero reports whether no port was configured.
func (p PortSetting) IsZero() bool { return !p.Auto && p.Number == 0 }

func (p PortSetting) String() string {
	if p.Auto {
		return "auto"
	}
	return strconv.Itoa(p.Number)
}

// ParsePortSetting parses "auto" or a port number.
func ParsePortSetting(s string) (PortSetting, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "auto") {
		return AutoPort, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return PortSetting{}, fmt.Errorf("invalid port %q: must be a number or \"auto\"", s)
	}
	return Port(n), nil
}

func (p PortSetting) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PortSetting) UnmarshalText(text []byte) error {
	v, err := ParsePortSetting(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UnmarshalTOML accepts both integer and string port values.
func (p *PortSetting) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		*p = Port(int(val))
		return nil
	case string:
		return p.UnmarshalText([]byte(val))
	default:
		return fmt.Errorf("invalid port value of type %T", v)
	}
}

func (p *PortSetting) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a scalar", node.Line)
	}
	return p.UnmarshalText([]byte(node.Value))
}

func (p PortSetting) MarshalYAML() (any, error) {
	if p.Auto {
		return "auto", nil
	}
	return p.Number, nil
}

// ServerConfig sets --server.* arguments.
type ServerConfig struct {
	Port PortSetting `toml:"port" yaml:"port"`
}

// ForkConfig sets --fork.* arguments for one upstream network.
type ForkConfig struct {
	// UpstreamProvider names the provider of the upstream network; empty uses its default.
	UpstreamProvider string `toml:"upstream_provider" yaml:"upstream_provider"`
	// BlockNumber is the block to fork from; nil forks from the latest block.
	BlockNumber *uint64 `toml:"block_number" yaml:"block_number"`
}

// WalletConfig sets --wallet.* arguments. Mnemonic, account count and derivation path come
// from the host's test accounts configuration.
type WalletConfig struct {
	UnlockedAccounts []string `toml:"unlocked_accounts" yaml:"unlocked_accounts"`
}

// MinerConfig sets --miner.* arguments.
type MinerConfig struct {
	GasPrice uint64 `toml:"gas_price" yaml:"gas_price"`
}

// ChainConfig sets --chain.* arguments.
type ChainConfig struct {
	Hardfork Hardfork `toml:"hardfork" yaml:"hardfork"`
}

// DockerConfig configures RuntimeDocker.
type DockerConfig struct {
	Image string `toml:"image" yaml:"image"`
}

// Config is the ganache provider configuration.
type Config struct {
	// Bin is the executable name or path (default: ganache).
	Bin     string       `toml:"bin" yaml:"bin"`
	Runtime Runtime      `toml:"runtime" yaml:"runtime"`
	Docker  DockerConfig `toml:"docker" yaml:"docker"`

	Server ServerConfig `toml:"server" yaml:"server"`
	// Fork maps ecosystem name to upstream network name to fork settings.
	Fork   map[string]map[string]ForkConfig `toml:"fork" yaml:"fork"`
	Wallet WalletConfig                     `toml:"wallet" yaml:"wallet"`
	Miner  MinerConfig                      `toml:"miner" yaml:"miner"`
	Chain  ChainConfig                      `toml:"chain" yaml:"chain"`

	// Timeouts are in seconds. Increase them if startup keeps failing with subprocess errors.
	RequestTimeout     int `toml:"request_timeout" yaml:"request_timeout"`
	ForkRequestTimeout int `toml:"fork_request_timeout" yaml:"fork_request_timeout"`
	StartupTimeout     int `toml:"startup_timeout" yaml:"startup_timeout"`
	// ProcessAttempts bounds how many ports are tried when the port is "auto".
	ProcessAttempts int `toml:"process_attempts" yaml:"process_attempts"`

	// Upstreams maps upstream provider names to JSON-RPC URLs for StaticUpstreams.
	Upstreams map[string]string `toml:"upstreams" yaml:"upstreams"`
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Bin:                defaultBin,
		Runtime:            RuntimeLocal,
		Docker:             DockerConfig{Image: DefaultImage},
		Server:             ServerConfig{Port: Port(DefaultPort)},
		Miner:              MinerConfig{GasPrice: defaultGasPrice},
		Chain:              ChainConfig{Hardfork: London},
		RequestTimeout:     defaultRequestTimeout,
		ForkRequestTimeout: defaultForkRequestTimeout,
		StartupTimeout:     defaultStartupTimeout,
		ProcessAttempts:    defaultProcessAttempts,
	}
}

// Validate checks the config for common errors.
func (c Config) Validate() error {
	if c.Bin == "" {
		return &ConfigError{Msg: "bin must not be empty"}
	}
	switch c.Runtime {
	case RuntimeLocal:
	case RuntimeDocker:
		if c.Docker.Image == "" {
			return &ConfigError{Msg: "docker.image is required for the docker runtime"}
		}
	default:
		return &ConfigError{Msg: fmt.Sprintf("unknown runtime %q", c.Runtime)}
	}
	if err := validatePort(c.Server.Port); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 || c.ForkRequestTimeout <= 0 || c.StartupTimeout <= 0 {
		return &ConfigError{Msg: "timeouts must be positive"}
	}
	if c.ProcessAttempts < 1 {
		return &ConfigError{Msg: "process_attempts must be at least 1"}
	}
	var hf Hardfork
	if err := hf.UnmarshalText([]byte(c.Chain.Hardfork)); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	return nil
}

func validatePort(p PortSetting) error {
	if p.Auto || p.IsZero() {
		return nil
	}
	if p.Number < 1 || p.Number > 65535 {
		return &ConfigError{Msg: fmt.Sprintf("invalid port %d: must be between 1 and 65535", p.Number)}
	}
	return nil
}

// RequestTimeoutDuration is the JSON-RPC request timeout for local sessions.
func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ForkRequestTimeoutDuration is the JSON-RPC request timeout for forked sessions, which
// may have to query an archive node.
func (c Config) ForkRequestTimeoutDuration() time.Duration {
	return time.Duration(c.ForkRequestTimeout) * time.Second
}

// StartupTimeoutDuration bounds how long a launched process may take to answer RPC.
func (c Config) StartupTimeoutDuration() time.Duration {
	return time.Duration(c.StartupTimeout) * time.Second
}

// ForkSettings returns the fork settings for an upstream network, or the zero value.
func (c Config) ForkSettings(ecosystem, upstreamNetwork string) ForkConfig {
	if c.Fork == nil {
		return ForkConfig{}
	}
	return c.Fork[ecosystem][upstreamNetwork]
}

// LoadConfigFile reads a TOML (.toml) or YAML (.yaml, .yml) file over DefaultConfig.
// The settings may sit at the top level or inside a "ganache" table.
func LoadConfigFile(path string) (Config, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = decodeTOML(bz, &cfg)
	case ".yaml", ".yml":
		err = decodeYAML(bz, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeTOML(bz []byte, cfg *Config) error {
	wrapper := struct {
		Ganache *Config `toml:"ganache"`
	}{Ganache: cfg}
	md, err := toml.NewDecoder(bytes.NewReader(bz)).Decode(&wrapper)
	if err != nil {
		return err
	}
	if md.IsDefined("ganache") {
		return nil
	}
	_, err = toml.NewDecoder(bytes.NewReader(bz)).Decode(cfg)
	return err
}

func decodeYAML(bz []byte, cfg *Config) error {
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(bz, &probe); err != nil {
		return err
	}
	if node, ok := probe["ganache"]; ok {
		return node.Decode(cfg)
	}
	return yaml.Unmarshal(bz, cfg)
}

// Encode writes the config as TOML.
func (c Config) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
