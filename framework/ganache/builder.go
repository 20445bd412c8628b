package ganache

import (
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ProviderBuilder constructs a Provider for one (ecosystem, network) pair.
type ProviderBuilder struct {
	name         string
	ecosystem    string
	network      string
	cfg          Config
	settings     Settings
	accounts     types.AccountsConfig
	impersonated types.ImpersonatedAccounts
	enricher     types.ErrorEnricher
	receipts     types.ReceiptSource
	resolver     types.UpstreamResolver
	registry     *PortRegistry
	launcher     Launcher
	registerer   prometheus.Registerer
	logger       *zap.Logger
	traceLookup  bool
}

// NewProviderBuilder returns a builder with the default configuration and test accounts.
func NewProviderBuilder(ecosystem, network string) *ProviderBuilder {
	return (&ProviderBuilder{}).
		WithName(ProviderName).
		WithNetwork(ecosystem, network).
		WithConfig(DefaultConfig()).
		WithAccounts(types.DefaultAccountsConfig()).
		WithPortRegistry(DefaultPortRegistry()).
		WithLogger(zap.NewNop())
}

func (b *ProviderBuilder) WithName(name string) *ProviderBuilder {
	b.name = name
	return b
}

func (b *ProviderBuilder) WithNetwork(ecosystem, network string) *ProviderBuilder {
	b.ecosystem = ecosystem
	b.network = network
	return b
}

func (b *ProviderBuilder) WithConfig(cfg Config) *ProviderBuilder {
	b.cfg = cfg
	return b
}

// WithSettings sets the caller's per-session overrides.
func (b *ProviderBuilder) WithSettings(s Settings) *ProviderBuilder {
	b.settings = s
	return b
}

// WithPort overrides the configured port.
func (b *ProviderBuilder) WithPort(port PortSetting) *ProviderBuilder {
	b.settings.Port = &port
	return b
}

func (b *ProviderBuilder) WithAccounts(accounts types.AccountsConfig) *ProviderBuilder {
	b.accounts = accounts
	return b
}

func (b *ProviderBuilder) WithImpersonatedAccounts(a types.ImpersonatedAccounts) *ProviderBuilder {
	b.impersonated = a
	return b
}

func (b *ProviderBuilder) WithErrorEnricher(e types.ErrorEnricher) *ProviderBuilder {
	b.enricher = e
	return b
}

func (b *ProviderBuilder) WithReceiptSource(r types.ReceiptSource) *ProviderBuilder {
	b.receipts = r
	return b
}

// WithUpstreamResolver sets how fork networks find their upstream. Required for fork networks.
func (b *ProviderBuilder) WithUpstreamResolver(r types.UpstreamResolver) *ProviderBuilder {
	b.resolver = r
	return b
}

func (b *ProviderBuilder) WithPortRegistry(r *PortRegistry) *ProviderBuilder {
	b.registry = r
	return b
}

// WithLauncher overrides the launcher selected by Config.Runtime.
func (b *ProviderBuilder) WithLauncher(l Launcher) *ProviderBuilder {
	b.launcher = l
	return b
}

// WithMetrics registers the provider counters on reg.
func (b *ProviderBuilder) WithMetrics(reg prometheus.Registerer) *ProviderBuilder {
	b.registerer = reg
	return b
}

func (b *ProviderBuilder) WithLogger(l *zap.Logger) *ProviderBuilder {
	b.logger = l
	return b
}

// WithTraceLookup lets error translation fetch the trace of a failed transaction to recover
// the data of a bare revert.
func (b *ProviderBuilder) WithTraceLookup(enabled bool) *ProviderBuilder {
	b.traceLookup = enabled
	return b
}

// Build validates the configuration and returns an unconnected Provider.
func (b *ProviderBuilder) Build() (*Provider, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.ecosystem == "" || b.network == "" {
		return nil, &ConfigError{Msg: "ecosystem and network are required"}
	}
	for _, port := range []*PortSetting{b.settings.Port, b.settings.ServerPort} {
		if port == nil {
			continue
		}
		if err := validatePort(*port); err != nil {
			return nil, err
		}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("component", "ganache-provider"),
		zap.String("network", b.ecosystem+":"+b.network),
	)

	metrics, err := NewMetrics(b.registerer)
	if err != nil {
		return nil, err
	}

	launcher := b.launcher
	if launcher == nil {
		if launcher, err = newLauncher(b.cfg); err != nil {
			return nil, err
		}
	}

	registry := b.registry
	if registry == nil {
		registry = DefaultPortRegistry()
	}

	p := &Provider{
		name:         b.name,
		ecosystem:    b.ecosystem,
		network:      b.network,
		cfg:          b.cfg,
		settings:     b.settings,
		accounts:     b.accounts,
		impersonated: b.impersonated,
		enricher:     b.enricher,
		receipts:     b.receipts,
		registry:     registry,
		launcher:     launcher,
		metrics:      metrics,
		logger:       logger,
		traceLookup:  b.traceLookup,
	}

	if IsForkNetwork(b.network) {
		resolver := b.resolver
		if resolver == nil && len(b.cfg.Upstreams) > 0 {
			resolver = StaticUpstreams(b.cfg.Upstreams)
		}
		if resolver == nil {
			return nil, &ConfigError{Msg: "an upstream resolver is required for fork network " + b.network}
		}
		p.fork = newForkBehavior(b.ecosystem, b.network, b.cfg, b.settings, resolver, logger)
	}
	return p, nil
}

// NewProvider builds a provider with the given configuration and defaults for everything else.
func NewProvider(ecosystem, network string, cfg Config) (*Provider, error) {
	return NewProviderBuilder(ecosystem, network).WithConfig(cfg).Build()
}

func newLauncher(cfg Config) (Launcher, error) {
	switch cfg.Runtime {
	case RuntimeDocker:
		return NewDockerLauncherFromEnv(cfg.Docker.Image)
	default:
		return NewExecLauncher(cfg.Bin), nil
	}
}
