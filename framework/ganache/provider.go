package ganache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// ProviderName is the name the provider is registered under.
const ProviderName = "ganache"

const (
	startupPollDelay    = 100 * time.Millisecond
	startupPollMaxDelay = time.Second
)

var _ types.TestProvider = (*Provider)(nil)

// State is the lifecycle state of a Provider.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settings are per-session overrides supplied by the caller when the provider is selected.
type Settings struct {
	// Port overrides every configured port.
	Port *PortSetting
	// ServerPort overrides Config.Server.Port.
	ServerPort *PortSetting
	// Fork overrides Config.Fork, keyed by ecosystem then upstream network name.
	Fork map[string]map[string]ForkConfig
}

// Provider runs or attaches to one ganache node for a single (ecosystem, network) pair.
type Provider struct {
	name      string
	ecosystem string
	network   string

	cfg          Config
	settings     Settings
	accounts     types.AccountsConfig
	impersonated types.ImpersonatedAccounts
	enricher     types.ErrorEnricher
	receipts     types.ReceiptSource
	registry     *PortRegistry
	launcher     Launcher
	metrics      *Metrics
	logger       *zap.Logger
	fork         *forkBehavior
	traceLookup  bool

	mu       sync.Mutex
	state    State
	port     int
	autoPort bool
	rpc      *rpc.Client
	eth      *ethclient.Client
	process  Process
	blocks   blockFetcher
}

// Name returns the provider's registered name.
func (p *Provider) Name() string { return p.name }

// Ecosystem returns the ecosystem the provider serves.
func (p *Provider) Ecosystem() string { return p.ecosystem }

// Network returns the network the provider serves.
func (p *Provider) Network() string { return p.network }

// IsFork reports whether the provider forks an upstream network.
func (p *Provider) IsFork() bool { return p.fork != nil }

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsConnected reports whether a verified connection is held.
func (p *Provider) IsConnected() bool {
	return p.State() == StateConnected
}

// Port returns the bound port, or zero before Connect.
func (p *Provider) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

// URI returns the node's HTTP request URI.
func (p *Provider) URI() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == 0 {
		return "", ErrNotConnected
	}
	return p.uri(), nil
}

func (p *Provider) uri() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.port)
}

// ConnectionID identifies the session by network choice and port.
func (p *Provider) ConnectionID() string {
	return fmt.Sprintf("%s:%s:%s:%d", p.ecosystem, p.network, p.name, p.Port())
}

// Timeout returns the JSON-RPC request timeout of the session.
func (p *Provider) Timeout() time.Duration {
	if p.fork != nil {
		return p.cfg.ForkRequestTimeoutDuration()
	}
	return p.cfg.RequestTimeoutDuration()
}

// Connect starts a ganache process, or attaches to one already listening on the configured
// port, and returns once it answers as a ganache node.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateConnected {
		return nil
	}
	p.state = StateStarting
	if err := p.connect(ctx); err != nil {
		p.state = StateUninitialized
		p.port = 0
		p.autoPort = false
		return err
	}
	p.state = StateConnected

	if p.fork != nil {
		p.fork.checkGenesis(ctx, p.rpc, &p.blocks)
	}
	return nil
}

// resolvePort applies the configured port unless one is already bound.
func (p *Provider) resolvePort() {
	if p.port != 0 || p.autoPort {
		return
	}
	setting := p.cfg.Server.Port
	switch {
	case p.settings.Port != nil:
		setting = *p.settings.Port
	case p.settings.ServerPort != nil:
		setting = *p.settings.ServerPort
	}
	switch {
	case setting.Auto:
		p.autoPort = true
	case setting.IsZero():
		p.port = DefaultPort
	default:
		p.port = setting.Number
	}
}

func (p *Provider) connect(ctx context.Context) error {
	p.resolvePort()

	if !p.autoPort {
		err := p.checkConnection(ctx)
		if err == nil {
			p.logger.Info("connecting to existing ganache", zap.Int("port", p.port))
			return nil
		}
		var inUse *PortInUseError
		if errors.As(err, &inUse) {
			return err
		}
		p.registry.Record(p.port)
		return p.start(ctx)
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.ProcessAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		port, err := p.registry.Pick()
		if err != nil {
			return err
		}
		p.port = port

		err = p.start(ctx)
		if err == nil {
			return nil
		}
		p.port = 0
		if isFatalStartError(err) {
			return err
		}
		lastErr = err
		if attempt+1 < p.cfg.ProcessAttempts {
			p.metrics.startRetried()
			p.logger.Info("retrying ganache subprocess startup", zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return lastErr
}

// start launches ganache on p.port and waits until it accepts connections.
func (p *Provider) start(ctx context.Context) error {
	args, err := p.buildCommand(ctx)
	if err != nil {
		return err
	}

	proc, err := p.launcher.Launch(ctx, LaunchSpec{Port: p.port, Args: args, Logger: p.logger})
	if err != nil {
		return err
	}
	p.metrics.processStarted()

	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeoutDuration())
	defer cancel()

	var lastErr error
	err = retry.Do(
		func() error {
			select {
			case <-proc.Done():
				lastErr = types.NewSubprocessError(
					fmt.Sprintf("ganache exited before accepting connections: %s", strings.TrimSpace(proc.Output())),
					proc.Err(),
				)
				return retry.Unrecoverable(lastErr)
			default:
			}

			lastErr = p.checkConnection(pollCtx)
			var inUse *PortInUseError
			if errors.As(lastErr, &inUse) {
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		},
		retry.Context(pollCtx),
		retry.Attempts(0),
		retry.Delay(startupPollDelay),
		retry.MaxDelay(startupPollMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		p.process = proc
		return nil
	}

	if stopErr := proc.Stop(context.Background()); stopErr != nil {
		p.logger.Warn("failed to stop ganache after failed startup", zap.Error(stopErr))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}
	var (
		inUse *PortInUseError
		sub   *types.SubprocessError
	)
	if errors.As(lastErr, &inUse) || errors.As(lastErr, &sub) {
		return lastErr
	}
	return types.NewSubprocessError(
		fmt.Sprintf("timed out after %s waiting for ganache on port %d", p.cfg.StartupTimeoutDuration(), p.port),
		lastErr,
	)
}

// checkConnection dials the bound port and verifies a ganache node answers there. On success
// the connection is kept and the block decoding mode is set.
func (p *Provider) checkConnection(ctx context.Context) error {
	c, err := rpc.DialOptions(ctx, p.uri(), rpc.WithHTTPClient(&http.Client{Timeout: p.Timeout()}))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", p.uri(), err)
	}

	var version string
	if err := c.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		c.Close()
		return fmt.Errorf("ganache not reachable on port %d: %w", p.port, err)
	}
	if !strings.Contains(strings.ToLower(version), "ganache") {
		c.Close()
		return &PortInUseError{Port: p.port, ClientVersion: version}
	}

	poa, err := p.blocks.detectPoA(ctx, c)
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to inspect blocks on port %d: %w", p.port, err)
	}
	if poa {
		p.logger.Info("proof-of-authority chain detected", zap.Int("port", p.port))
	}

	p.rpc = c
	p.eth = ethclient.NewClient(c)
	return nil
}

// Disconnect closes the connection and stops the ganache process if this session started it.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rpc != nil {
		p.rpc.Close()
		p.rpc = nil
		p.eth = nil
	}
	port := p.port
	p.port = 0
	p.autoPort = false
	p.state = StateUninitialized

	if p.process == nil {
		return nil
	}
	proc := p.process
	p.process = nil
	if err := proc.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop ganache on port %d: %w", port, err)
	}
	p.logger.Info("ganache stopped", zap.Int("port", port))
	return nil
}

// client returns the live RPC connection.
func (p *Provider) client() (*rpc.Client, *ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rpc == nil {
		return nil, nil, &types.ProviderError{Msg: "not connected to ganache"}
	}
	return p.rpc, p.eth, nil
}
