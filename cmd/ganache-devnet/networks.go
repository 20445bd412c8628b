package main

import (
	"fmt"

	"github.com/celestiaorg/tastora-ganache/framework/ganache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the networks ganache can serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, n := range ganache.Networks() {
				kind := "local"
				if ganache.IsForkNetwork(n.Name) {
					kind = "fork of " + ganache.UpstreamNetworkName(n.Name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", n, kind)
			}
			return nil
		},
	}
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			bz, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(bz)
			return err
		},
	}
	addStartFlags(cmd.Flags())
	return cmd
}
