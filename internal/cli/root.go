// Package cli implements the tabink command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/config"
	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/storage"
)

// RootOptions holds global flags for all commands, and the configuration
// resolved from them before a command runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	EnvFile    string
	DataDir    string
	Record     string
	LogLevel   string
	Memory     bool

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tabink CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

// Execute runs the CLI and returns the process exit code. Errors are
// reported in the selected output format.
func Execute() int {
	cmd, opts := newRootCommand()
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
	f.Error(err)
	return GetExitCode(err)
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tabink",
		Short: "tabink - offline-first tasks, notes, sketches and feeds",
		Long: `tabink keeps tasks, notes, sketches, feed articles and settings in a
single local SQLite database that is written back to disk after every change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (JSON with comments)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with TABINK_* variables")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory holding the database record")
	cmd.PersistentFlags().StringVar(&opts.Record, "record", "", "database record name")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Memory, "memory", false, "keep the database in memory only")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewFetchCommand(opts))
	cmd.AddCommand(NewFeedsCommand(opts))
	cmd.AddCommand(NewOPMLCommand(opts))
	cmd.AddCommand(NewTasksCommand(opts))
	cmd.AddCommand(NewNotesCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd, opts
}

// resolve loads the configuration, applies flags on top and builds the
// logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, sources, err := config.Load(config.Options{Path: o.ConfigPath, EnvFile: o.EnvFile})
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("record") {
		cfg.Record = o.Record
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	o.Config = cfg
	o.Logger = newLogger(cmd.ErrOrStderr(), level)
	o.Logger.Debug("configuration loaded", "file", sources.File, "env_file", sources.EnvFile, "data_dir", cfg.DataDir)
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// adapter returns the durable store selected by the options.
func (o *RootOptions) adapter() storage.Adapter {
	if o.Memory {
		return storage.NewMemoryStore()
	}
	return storage.NewFileStore(o.Config.DataDir, o.Config.Record)
}

// openDB opens the database. Callers must Close it.
func (o *RootOptions) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, o.adapter(), database.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return db, nil
}

// withDB opens the database, runs fn and closes it. A mutation whose
// persistence failed is reported as an error, since a CLI process exits
// right after and the change would be lost.
func (o *RootOptions) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *database.DB) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := o.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := fn(ctx, db); err != nil {
		return err
	}
	if st := db.Status(); st.Degraded && !st.MemoryOnly {
		return NewExitError(ExitFailure, "changes could not be saved: "+st.LastPersistError)
	}
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
