package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celestiaorg/tastora-ganache/framework/ganache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	networkKey        = "network"
	binKey            = "bin"
	runtimeKey        = "runtime"
	imageKey          = "image"
	portKey           = "port"
	hardforkKey       = "hardfork"
	gasPriceKey       = "gas-price"
	unlockKey         = "unlock"
	startupTimeoutKey = "startup-timeout"
	forkURLKey        = "fork-url"
	forkBlockKey      = "fork-block"
	metricsAddrKey    = "metrics-addr"
	traceLookupKey    = "trace-lookup"

	shutdownTimeout = 10 * time.Second
)

func addStartFlags(fs *pflag.FlagSet) {
	fs.String(networkKey, "ethereum:"+ganache.LocalNetwork, "network to serve, as <ecosystem>:<network>")
	fs.String(binKey, "ganache", "ganache executable for the local runtime")
	fs.String(runtimeKey, string(ganache.RuntimeLocal), "how to run ganache: local or docker")
	fs.String(imageKey, ganache.DefaultImage, "image for the docker runtime")
	fs.String(portKey, "8545", `port to listen on, or "auto"`)
	fs.String(hardforkKey, "london", "EVM hardfork")
	fs.Uint64(gasPriceKey, 2_000_000_000, "default gas price in wei")
	fs.StringSlice(unlockKey, nil, "accounts to unlock, as addresses or account numbers")
	fs.Int(startupTimeoutKey, 30, "seconds to wait for ganache to accept connections")
	fs.String(forkURLKey, "", "upstream JSON-RPC URL for fork networks")
	fs.Uint64(forkBlockKey, 0, "block number to fork from; 0 forks from the latest block")
	fs.String(metricsAddrKey, "", "serve prometheus metrics on this address, e.g. :9090")
	fs.Bool(traceLookupKey, false, "fetch transaction traces to recover bare revert reasons")
}

func newStartCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a ganache node and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, v, cmd)
		},
	}
	addStartFlags(cmd.Flags())
	return cmd
}

// buildProvider assembles the provider described by the flags, environment and config file.
func buildProvider(v *viper.Viper, logger *zap.Logger, reg prometheus.Registerer) (*ganache.Provider, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	network, err := parseNetwork(v.GetString(networkKey))
	if err != nil {
		return nil, err
	}

	b := ganache.NewProviderBuilder(network.Ecosystem, network.Name).
		WithConfig(cfg).
		WithLogger(logger).
		WithTraceLookup(v.GetBool(traceLookupKey))
	if reg != nil {
		b.WithMetrics(reg)
	}

	if ganache.IsForkNetwork(network.Name) {
		upstream := ganache.UpstreamNetworkName(network.Name)
		upstreams := ganache.StaticUpstreams{}
		for name, url := range cfg.Upstreams {
			upstreams[name] = url
		}
		if url := v.GetString(forkURLKey); url != "" {
			upstreams[network.Ecosystem+":"+upstream] = url
		}
		if len(upstreams) > 0 {
			b.WithUpstreamResolver(upstreams)
		}

		if block := v.GetUint64(forkBlockKey); block != 0 {
			b.WithSettings(ganache.Settings{Fork: map[string]map[string]ganache.ForkConfig{
				network.Ecosystem: {upstream: {BlockNumber: &block}},
			}})
		}
	}
	return b.Build()
}

func runStart(ctx context.Context, v *viper.Viper, cmd *cobra.Command) error {
	logger, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var reg *prometheus.Registry
	addr := v.GetString(metricsAddrKey)
	if addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	p, err := buildProvider(v, logger, registerer)
	if err != nil {
		return err
	}

	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start ganache: %w", err)
	}
	uri, err := p.URI()
	if err != nil {
		return err
	}
	logger.Info("ganache is ready", zap.String("uri", uri), zap.String("connection_id", p.ConnectionID()))
	fmt.Fprintln(cmd.OutOrStdout(), uri)

	eg, egCtx := errgroup.WithContext(ctx)
	if reg != nil {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		eg.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-egCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down ganache")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return p.Disconnect(shutdownCtx)
	})
	return eg.Wait()
}
