// Command modelctl inspects the model catalog and routing rules and prepares storage.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var overridesPath string

var rootCmd = &cobra.Command{
	Use:   "modelctl",
	Short: "Inspect model routing and manage chat storage",
	Long: `modelctl is the operator tool for the chat server.

Available commands:
  models  - List the model catalog
  select  - Show which model a message would be routed to
  migrate - Create tables and indexes for the configured backends`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&overridesPath, "overrides", os.Getenv("CATALOG_OVERRIDES"), "catalog override YAML file")
	rootCmd.AddCommand(modelsCmd, selectCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
