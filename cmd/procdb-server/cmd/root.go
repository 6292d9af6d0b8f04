package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/service/server"
	"github.com/oshokin/procdb/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// databaseFile overrides the record definition file.
	databaseFile string
	// autosaveFile overrides the autosave file.
	autosaveFile string
	// logLevel overrides the configured log level.
	logLevel string
	// accessLog forces one log line per RPC.
	accessLog bool
	// allowMultiple skips the single-instance guard.
	allowMultiple bool

	// rootCmd represents the base command for running the record server.
	rootCmd = &cobra.Command{
		Use:   "procdb-server [listen-address]",
		Short: "Run the record database and serve it over gRPC.",
		Long: `Loads the record definitions, restores autosaved settings and starts scanning.

Records are processed on their scan schedule, on request and through forward links.
Clients read and write fields, request processing and subscribe to monitor events over gRPC.
Only the port from ServerAddress config is used for listening (e.g., :7000).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:7000).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				DatabaseFile:   databaseFile,
				AutosaveFile:   autosaveFile,
				LogLevel:       logLevel,
				AccessLog:      accessLog,
				SingleInstance: !allowMultiple,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the procdb-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&databaseFile, "database", "d", "", "path to the record definition file")
	flags.StringVarP(&autosaveFile, "autosave-file", "a", "", "path to persist settable fields")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&accessLog, "access-log", false, "log every RPC regardless of the log level")
	flags.BoolVar(&allowMultiple, "allow-multiple", false, "start even if another server is running")
}
