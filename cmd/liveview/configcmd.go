package main

import (
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.PersistentFlags().StringVarP(&path, "config", "c", "", "Path to liveview.yaml (default: ./liveview.yaml if present)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Validate the configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(path)
				if err != nil {
					return err
				}
				source := cfg.Path()
				if source == "" {
					source = "defaults"
				}
				success("configuration is valid (%s)", source)
				info("store: %s, addr: %s", cfg.Store.Kind, cfg.Server.Addr)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the resolved configuration as YAML",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(path)
				if err != nil {
					return err
				}
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)
	return cmd
}
