// Depot is a caching gateway that serves dashboard data from upstream JSON
// APIs, sharing one fetch among concurrent requests for the same data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eugener/depot/internal/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "depot",
	Short:         "Caching gateway for dashboard data sources.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/depot.yaml", "path to config file")
	rootCmd.SetVersionTemplate("depot {{.Version}}\n")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP gateway.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		newFetchCmd(),
		&cobra.Command{
			Use:   "token",
			Short: "Print a new random admin token.",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), config.GenerateAdminToken())
			},
		},
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
