package main

import (
	"fmt"
	"strings"

	"github.com/celestiaorg/tastora-ganache/framework/ganache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix = "GANACHE"

	configKey   = "config"
	logLevelKey = "log-level"
)

// NewRootCmd returns the ganache-devnet command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "ganache-devnet",
		Short:         "Run and manage ganache development networks",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	root.PersistentFlags().String(configKey, "", "path to a TOML or YAML config file (env: GANACHE_CONFIG)")
	root.PersistentFlags().String(logLevelKey, "info", "log level: debug, info, warn or error")

	root.AddCommand(newStartCmd(v), newNetworksCmd(), newConfigCmd(v), newCleanupCmd(v))
	return root
}

// newLogger builds a console logger at the configured level.
func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString(logLevelKey))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// loadConfig reads the config file, if any, and applies flag and environment overrides.
func loadConfig(v *viper.Viper) (ganache.Config, error) {
	cfg := ganache.DefaultConfig()
	if path := v.GetString(configKey); path != "" {
		var err error
		if cfg, err = ganache.LoadConfigFile(path); err != nil {
			return ganache.Config{}, err
		}
	}

	if v.IsSet(binKey) {
		cfg.Bin = v.GetString(binKey)
	}
	if v.IsSet(runtimeKey) {
		cfg.Runtime = ganache.Runtime(v.GetString(runtimeKey))
	}
	if v.IsSet(imageKey) {
		cfg.Docker.Image = v.GetString(imageKey)
	}
	if v.IsSet(portKey) {
		port, err := ganache.ParsePortSetting(v.GetString(portKey))
		if err != nil {
			return ganache.Config{}, err
		}
		cfg.Server.Port = port
	}
	if v.IsSet(hardforkKey) {
		if err := cfg.Chain.Hardfork.UnmarshalText([]byte(v.GetString(hardforkKey))); err != nil {
			return ganache.Config{}, err
		}
	}
	if v.IsSet(gasPriceKey) {
		cfg.Miner.GasPrice = v.GetUint64(gasPriceKey)
	}
	if v.IsSet(unlockKey) {
		cfg.Wallet.UnlockedAccounts = append(cfg.Wallet.UnlockedAccounts, v.GetStringSlice(unlockKey)...)
	}
	if v.IsSet(startupTimeoutKey) {
		cfg.StartupTimeout = v.GetInt(startupTimeoutKey)
	}

	if err := cfg.Validate(); err != nil {
		return ganache.Config{}, err
	}
	return cfg, nil
}

// parseNetwork splits "<ecosystem>:<network>".
func parseNetwork(s string) (ganache.Network, error) {
	eco, name, ok := strings.Cut(s, ":")
	if !ok || eco == "" || name == "" {
		return ganache.Network{}, fmt.Errorf("invalid network %q, expected <ecosystem>:<network>", s)
	}
	for _, n := range ganache.Networks() {
		if n.Ecosystem == eco && n.Name == name {
			return n, nil
		}
	}
	return ganache.Network{}, fmt.Errorf("unsupported network %q, see the networks command", s)
}
