package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vmstore"
	"github.com/hupe1980/vmstore/docstore"
	"github.com/hupe1980/vmstore/docstore/dynamodb"
	"github.com/hupe1980/vmstore/docstore/memory"
	"github.com/hupe1980/vmstore/docstore/mongo"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Backend    string
	Format     string // "json" | "text"
	Verbose    bool

	// Driver overrides the backend selected by the config.
	Driver docstore.Driver
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the vmstore CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmstore",
		Short: "Inspect and maintain a view model store",
		Long: `vmstore connects to the document store described by a config file and
runs one maintenance operation against it.

Examples:
  vmstore ping --config vmstore.yaml
  vmstore get users 64f1c0ffee --config vmstore.yaml
  vmstore find users --filter '{"tenant":"acme"}' --sort name --limit 10
  vmstore clear users orders`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "override the configured backend (mongo|dynamodb|memory)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log connection and operation details to stderr")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newFindCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

// loadConfig reads --config, or falls back to the defaults.
func (o *RootOptions) loadConfig() (vmstore.Config, error) {
	cfg := vmstore.Config{}
	if o.ConfigPath != "" {
		loaded, err := vmstore.LoadConfig(o.ConfigPath)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = *loaded
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func (o *RootOptions) driver(backend string) docstore.Driver {
	if o.Driver != nil {
		return o.Driver
	}
	switch backend {
	case vmstore.BackendDynamoDB:
		return dynamodb.NewDriver()
	case vmstore.BackendMemory:
		return memory.NewServer()
	default:
		return mongo.NewDriver()
	}
}

// connect opens a connection for a single command. The caller disconnects.
func (o *RootOptions) connect(ctx context.Context) (*vmstore.Conn, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := vmstore.NoopLogger()
	if o.Verbose {
		logger = vmstore.NewTextLogger(slog.LevelDebug)
	}

	conn := vmstore.NewConn(cfg, o.driver(cfg.Backend), vmstore.WithLogger(logger))
	if err := conn.Connect(ctx); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return conn, nil
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format: o.Format,
		Writer: cmd.OutOrStdout(),
	}
}
