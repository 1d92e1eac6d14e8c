// Command fleetd runs one robot fleet system against the Federation Gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "fleetd",
	Short:         "Robot fleet control plane for the Federation Gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigFile, "YAML config file (optional)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fleetd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cfotel.Version())
		},
	}
}
