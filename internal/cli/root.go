// Package cli wires the evmon commands: the HTTP server plus local commands
// that act directly on the store file.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/store"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// env is the state shared by every command of one invocation.
type env struct {
	v        *viper.Viper
	settings config.Settings
	limits   *config.LimitsConfig
	loader   *config.Loader // nil without --config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	e := &env{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "evmon",
		Short: "evmon - event monitoring store",
		Long: `evmon accepts discrete event records from producers, stores them durably
in SQLite and serves filtered, time-ranged, paginated queries over them.

Run "evmon serve" for the HTTP API. The other commands work directly on the
database file and are meant for inspection and housekeeping.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("db", "evmon.db", "path to the SQLite database file")
	pf.String("config", "", "path to the YAML limits file (hot-reloaded by serve)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	_ = e.v.BindPFlag("db", pf.Lookup("db"))
	_ = e.v.BindPFlag("config", pf.Lookup("config"))
	_ = e.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = e.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(e),
		newIngestCmd(e),
		newQueryCmd(e),
		newGetCmd(e),
		newStatsCmd(e),
		newPruneCmd(e),
		newReindexCmd(e),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evmon %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
		},
	}
}

func (e *env) init(cmd *cobra.Command) error {
	s, err := config.LoadSettings(e.v)
	if err != nil {
		return err
	}
	e.settings = s

	logger, err := config.NewLogger(s.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if s.Config == "" {
		e.limits = config.Default()
		return nil
	}
	loader, err := config.NewLoader(s.Config)
	if err != nil {
		return err
	}
	e.loader = loader
	e.limits = loader.Config()
	return nil
}

// openStore opens the configured database. Failure here is fatal for
// every command.
func (e *env) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, e.settings.DB, store.Options{
		IOTimeout:   e.limits.Storage.IOTimeout(),
		QueueDepth:  e.limits.Storage.QueueDepth,
		BusyRetries: e.limits.Storage.BusyRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", e.settings.DB, err)
	}
	return st, nil
}
