package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/config"
	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/storage"
)

// StatusResult is printed by the status command.
type StatusResult struct {
	database.Status
	Path   string         `json:"path,omitempty"`
	Tables map[string]int `json:"tables"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the database lives and how many rows each table holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				res := StatusResult{Status: db.Status(), Tables: map[string]int{}}
				if fs, ok := rootOpts.adapter().(*storage.FileStore); ok {
					res.Path = fs.Path()
				}
				names, err := db.Coordinator().TableNames(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					var n int
					if _, err := db.Coordinator().Get(ctx, &n, `SELECT COUNT(*) FROM "`+name+`"`); err != nil {
						return err
					}
					res.Tables[name] = n
				}
				return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "state:    %s\n", res.State)
					if res.Path != "" {
						fmt.Fprintf(w, "record:   %s\n", res.Path)
					}
					fmt.Fprintf(w, "degraded: %t\n", res.Degraded)
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					for _, name := range names {
						fmt.Fprintf(tw, "  %s\t%d\n", name, res.Tables[name])
					}
					tw.Flush()
				})
			})
		},
	}

	return cmd
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SQL statement against the database",
		Long: `Run a SQL statement and print the rows it returns. Statements that change
the database are saved like any other change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				res, err := db.Coordinator().Exec(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
					if len(res.Columns) == 0 {
						return
					}
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
					for _, row := range res.Values {
						cells := make([]string, len(row))
						for i, v := range row {
							cells[i] = formatCell(v)
						}
						fmt.Fprintln(tw, strings.Join(cells, "\t"))
					}
					tw.Flush()
				})
			})
		},
	}

	return cmd
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprint(v)
	}
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Format(rootOpts.Config)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	return cmd
}
