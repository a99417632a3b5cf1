// Package cli wires Gauss's cobra command tree: a root command carrying
// persistent --config/
// --verbose flags, cobra.OnInitialize loading viper, and a zerolog global
// logger configured from the resolved LoggingConfig.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gauss-stream/gauss/internal/config"
)

var (
	cfgFile string
	verbose bool

	loadedConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gaussd",
	Short: "Gauss streaming data-processing engine",
	Long: `Gauss ingests byte streams through named pluggable storage topics,
processes them with sources, transforms, sinks, and joins, and exposes
them for later reads by offset, latest value, query, snapshot, or live
subscription.

Run a pipeline from a config file:
  gaussd run --config gauss.toml

Check a config without starting anything:
  gaussd validate --config gauss.toml

List the built-in plugin registry:
  gaussd plugins list`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loadedConfig = cfg
		setupLogging(cfg.Logging)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gauss.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig resolves the config file named by --config, or the
// conventional search paths if it was not given.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	return config.LoadWithDefaults()
}

// setupLogging configures the global zerolog logger from LoggingConfig,
// with --verbose forcing debug level regardless of the config file.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger = logger.With().Timestamp().Logger()
	if cfg.Caller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the gaussd version string. No command or flag in this
// package calls it.
func Version() string {
	return fmt.Sprintf("gaussd version %s", "0.1.0-dev")
}
