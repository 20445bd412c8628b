package ganache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const forkSuffix = "-fork"

// IsForkNetwork reports whether network names a fork of an upstream network.
func IsForkNetwork(network string) bool {
	return strings.HasSuffix(network, forkSuffix)
}

// UpstreamNetworkName returns the name of the network a fork network mirrors.
func UpstreamNetworkName(network string) string {
	return strings.TrimSuffix(network, forkSuffix)
}

// forkBehavior holds what a forked session does on top of a local one: it adds the
// --fork.* arguments and compares genesis blocks with the upstream after connecting.
type forkBehavior struct {
	ecosystem       string
	upstreamNetwork string
	settings        ForkConfig
	resolver        types.UpstreamResolver
	timeout         time.Duration
	logger          *zap.Logger

	mu       sync.Mutex
	upstream *types.Upstream
	blocks   blockFetcher
}

func newForkBehavior(ecosystem, network string, cfg Config, settings Settings, resolver types.UpstreamResolver, logger *zap.Logger) *forkBehavior {
	upstreamNetwork := UpstreamNetworkName(network)
	forkCfg := cfg.ForkSettings(ecosystem, upstreamNetwork)
	if adhoc, ok := settings.Fork[ecosystem][upstreamNetwork]; ok {
		if adhoc.UpstreamProvider != "" {
			forkCfg.UpstreamProvider = adhoc.UpstreamProvider
		}
		if adhoc.BlockNumber != nil {
			forkCfg.BlockNumber = adhoc.BlockNumber
		}
	}
	return &forkBehavior{
		ecosystem:       ecosystem,
		upstreamNetwork: upstreamNetwork,
		settings:        forkCfg,
		resolver:        resolver,
		timeout:         cfg.ForkRequestTimeoutDuration(),
		logger:          logger.With(zap.String("upstream_network", upstreamNetwork)),
	}
}

// resolveUpstream resolves the upstream provider once per session.
func (f *forkBehavior) resolveUpstream(ctx context.Context) (types.Upstream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upstream != nil {
		return *f.upstream, nil
	}
	up, err := f.resolver.ResolveUpstream(ctx, f.ecosystem, f.upstreamNetwork, f.settings.UpstreamProvider)
	if err != nil {
		return types.Upstream{}, &ConfigError{
			Msg: fmt.Sprintf("failed to resolve upstream provider for %s:%s", f.ecosystem, f.upstreamNetwork),
			Err: err,
		}
	}
	f.upstream = &up
	return up, nil
}

// args returns the --fork.* arguments. The upstream URL must not point at the local node.
func (f *forkBehavior) args(ctx context.Context, localURI string) ([]string, error) {
	up, err := f.resolveUpstream(ctx)
	if err != nil {
		return nil, err
	}
	if up.URL == "" {
		return nil, &ConfigError{Msg: fmt.Sprintf("upstream provider %q has no URL", up.Name)}
	}
	if strings.ReplaceAll(up.URL, "localhost", "127.0.0.1") == localURI {
		return nil, &ConfigError{Msg: "invalid upstream-fork URL, can't be the same as the local ganache node"}
	}

	args := []string{"--fork.url", up.URL}
	if f.settings.BlockNumber != nil {
		args = append(args, "--fork.blockNumber", strconv.FormatUint(*f.settings.BlockNumber, 10))
	}
	return args, nil
}

// checkGenesis compares the local and upstream genesis block hashes. A mismatch or a
// failure to read either block is logged, never returned.
func (f *forkBehavior) checkGenesis(ctx context.Context, local *rpc.Client, localBlocks *blockFetcher) {
	upstreamHash, err := f.upstreamGenesisHash(ctx)
	if err != nil {
		f.logger.Error("failed to read upstream genesis block", zap.Error(err))
		return
	}
	localGenesis, err := localBlocks.fetch(ctx, local, "0x0")
	if err != nil {
		f.logger.Error("failed to read local genesis block", zap.Error(err))
		return
	}
	if localGenesis.Hash != upstreamHash {
		f.logger.Warn("upstream network has mismatching genesis block",
			zap.Stringer("local", localGenesis.Hash),
			zap.Stringer("upstream", upstreamHash),
		)
	}
}

func (f *forkBehavior) upstreamGenesisHash(ctx context.Context) (h common.Hash, err error) {
	up, err := f.resolveUpstream(ctx)
	if err != nil {
		return h, err
	}
	c, err := rpc.DialOptions(ctx, up.URL, rpc.WithHTTPClient(&http.Client{Timeout: f.timeout}))
	if err != nil {
		return h, fmt.Errorf("failed to dial upstream %s: %w", up.Name, err)
	}
	defer c.Close()

	genesis, err := f.blocks.fetch(ctx, c, "0x0")
	if errors.Is(err, ErrExtraDataLength) {
		f.logger.Error("upstream provider is a proof-of-authority chain, decoding its blocks accordingly", zap.String("upstream", up.Name))
		f.blocks.setPoA()
		genesis, err = f.blocks.fetch(ctx, c, "0x0")
	}
	if err != nil {
		return h, fmt.Errorf("unable to get genesis block from %s: %w", up.Name, err)
	}
	return genesis.Hash, nil
}
