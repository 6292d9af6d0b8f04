package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/service/client"
	"github.com/oshokin/procdb/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the server address from the configuration.
	serverAddress string
	// field selects one field for get.
	field string
	// kinds filters monitor events.
	kinds string

	// rootCmd is the base command; every operation is a subcommand.
	rootCmd = &cobra.Command{
		Use:   "procdb-cli",
		Short: "Read, write, process and monitor records of a procdb server.",
		Long: `Talks to a running procdb-server over gRPC.

Server address is loaded from the configuration file unless --server is given.
Writes are logged by the server together with user@host of the caller.`,
	}

	getCmd = &cobra.Command{
		Use:   "get <record>",
		Short: "Print the state of a record or one of its fields.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Get(cmd.Context(), options(cmd), args[0], field)
		},
	}

	putCmd = &cobra.Command{
		Use:   "put <record> <field> <value>",
		Short: "Write a field. A label is accepted for VAL of labeled records.",
		Args:  cobra.ExactArgs(3), //nolint:mnd // record, field and value.
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Put(cmd.Context(), options(cmd), args[0], args[1], args[2])
		},
	}

	processCmd = &cobra.Command{
		Use:   "process <record>",
		Short: "Request one processing cycle of a record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Process(cmd.Context(), options(cmd), args[0])
		},
	}

	monitorCmd = &cobra.Command{
		Use:   "monitor [record...]",
		Short: "Stream monitor events until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Monitor(cmd.Context(), options(cmd), args, kinds)
		},
	}
)

func options(cmd *cobra.Command) *client.Options {
	return &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		Output:        cmd.OutOrStdout(),
	}
}

// Execute runs the procdb-cli and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1) //nolint:gocritic // stop is called explicitly above.
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "server address, overrides the configuration")

	getCmd.Flags().StringVarP(&field, "field", "f", "", "field to read instead of the whole record")
	monitorCmd.Flags().StringVarP(&kinds, "kinds", "k", "", `event kinds to receive, e.g. "value|alarm"`)

	rootCmd.AddCommand(getCmd, putCmd, processCmd, monitorCmd)
}
