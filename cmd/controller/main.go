package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paw2paw/hf-behavior/go-controller/internal/config"
	"github.com/paw2paw/hf-behavior/go-controller/internal/logging"
)

var (
	// Global flags
	configPath string
	dbPath     string
	serverAddr string
	verbose    bool
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Behavior target cascade and adaptation controller",
	Long: `controller resolves per-caller behavior targets from the
SYSTEM -> PLAYBOOK -> SEGMENT cascade and runs adaptation rules that
personalise targets from learner profiles.

Commands run against the local SQLite store unless --server points at a
running "controller serve".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("HF_CONFIG", "controller.yaml"), "Path to YAML config (missing file uses defaults)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Address of a running controller; empty works on the local database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adaptCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
