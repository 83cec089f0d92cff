// Package main provides the NornicGraph CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicgraph/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicgraph",
		Short: "NornicGraph - embeddable property graph database with a Cypher engine",
		Long: `NornicGraph is a property graph database written in Go.

It executes a Cypher subset against SQLite or BadgerDB storage and serves
Neo4j-style sessions, explicit transactions and causal bookmarks over HTTP.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NornicGraph v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NornicGraph HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("config", "c", os.Getenv("NORNICGRAPH_CONFIG"), "YAML config file")
	serveCmd.Flags().Int("port", 0, "HTTP API port (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().String("storage", "", "Storage backend: sqlite or badger (overrides config)")
	serveCmd.Flags().Bool("in-memory", false, "Keep all databases in memory")
	serveCmd.Flags().Bool("no-auth", false, "Disable authentication")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory and write a default config file",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	initCmd.Flags().String("storage", config.BackendSQLite, "Storage backend: sqlite or badger")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	queryCmd := &cobra.Command{
		Use:   "query <cypher>",
		Short: "Run one Cypher query against a NornicGraph server",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("uri", "http://localhost:7474", "NornicGraph server URL")
	queryCmd.Flags().StringP("user", "u", "", "Username (basic auth)")
	queryCmd.Flags().StringP("password", "p", os.Getenv("NORNICGRAPH_PASSWORD"), "Password (basic auth)")
	queryCmd.Flags().String("token", "", "Bearer token from /auth/token")
	queryCmd.Flags().StringP("database", "d", "", "Target database (server default when empty)")
	queryCmd.Flags().StringArrayP("param", "P", nil, "Query parameter as name=value; value is parsed as JSON when possible")
	queryCmd.Flags().StringSlice("bookmark", nil, "Bookmarks the query must observe")
	queryCmd.Flags().Bool("write", false, "Run in a managed write transaction instead of auto-commit")
	queryCmd.Flags().StringP("format", "f", "table", "Output format: table or json")
	rootCmd.AddCommand(queryCmd)

	return rootCmd
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	backend, _ := cmd.Flags().GetString("storage")
	force, _ := cmd.Flags().GetBool("force")
	out := cmd.OutOrStdout()

	cfg := config.Default()
	cfg.Storage.DataDir = dataDir
	cfg.Storage.Backend = backend
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "nornicgraph.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := cfg.WriteFile(configPath); err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized NornicGraph in %s\n", dataDir)
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Start the server:  nornicgraph serve --config", configPath)
	fmt.Fprintln(out, "  2. Run a query:       nornicgraph query 'RETURN 1 AS one'")
	return nil
}
