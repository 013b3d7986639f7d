package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/server"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the database",
		Long: `Write the whole database as a SQLite file. The default file name is
tabink-backup-<timestamp>.db in the current directory; "-" writes to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				data, err := db.Export(ctx)
				if err != nil {
					return err
				}
				if output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				path := output
				if path == "" {
					path = server.BackupFileName(time.Now())
				}
				if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
					return WrapExitError(ExitCommandError, "write snapshot", err)
				}
				return rootOpts.formatter(cmd).Success(map[string]any{"path": path, "bytes": len(data)}, func(w io.Writer) {
					fmt.Fprintf(w, "Exported %d bytes to %s\n", len(data), path)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the database with a snapshot",
		Long: `Replace the whole database with a snapshot written by export. The
snapshot is validated first; a rejected snapshot leaves the database unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read snapshot", err)
			}
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				if err := db.Import(ctx, data); err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(map[string]any{"path": args[0], "bytes": len(data)}, func(w io.Writer) {
					fmt.Fprintf(w, "Imported %s\n", args[0])
				})
			})
		},
	}

	return cmd
}
