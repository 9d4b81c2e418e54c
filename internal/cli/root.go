// Package cli implements the data-analyst command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dataanalyst/dataanalyst/internal/config"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/logging"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "1.0.0"

// app carries what the persistent flags resolved to.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "data-analyst",
		Short: "Ask a Databricks Genie space questions in plain language",
		Long: `data-analyst sends natural-language questions to a Databricks Genie space, waits for
Genie to answer, and writes the question, the generated SQL and the results to a Markdown report.

Credentials come from the environment (or a .env file):
  DATABRICKS_INSTANCE, GENIE_SPACE_ID and either DATABRICKS_TOKEN or
  DATABRICKS_CLIENT_ID + DATABRICKS_CLIENT_SECRET + DATABRICKS_REDIRECT_URI.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			load := config.Load
			if a.configPath != "" {
				load = func() (*config.Config, error) { return config.LoadFile(a.configPath) }
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			if a.logFormat != "" {
				cfg.LogFormat = a.logFormat
			}
			logging.SetupWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to a YAML config file (defaults to $DATA_ANALYST_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config file)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "",
		"Log format: console or json")

	root.AddCommand(
		newAskCommand(a),
		newRunCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	var ge *genie.Error
	if errors.As(err, &ge) && ge.Kind == genie.KindConfig {
		pterm.Error.Println(err.Error())
		pterm.Info.Println("Run `data-analyst --help` for the required environment variables.")
		return
	}
	pterm.Error.Println(err.Error())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "data-analyst %s\n", Version)
		},
	}
}

func userAgent() string {
	return "data-analyst/" + Version
}
