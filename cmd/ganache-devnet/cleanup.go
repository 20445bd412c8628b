package main

import (
	"context"
	"fmt"
	"time"

	"github.com/celestiaorg/tastora-ganache/framework/ganache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCleanupCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove ganache containers left behind by previous docker runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			l, err := ganache.NewDockerLauncherFromEnv(cfg.Docker.Image)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := l.RemoveStale(ctx, logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d container(s)\n", n)
			return err
		},
	}
	cmd.Flags().String(imageKey, ganache.DefaultImage, "ganache docker image")
	return cmd
}
