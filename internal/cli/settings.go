package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/database"
	apperrors "github.com/bryan-buckman/tabink/internal/errors"
)

// NewSettingsCommand creates the settings command group. Without a
// subcommand it prints the interface preferences.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				s, err := db.GetAppSettings(ctx)
				if err != nil {
					return err
				}
				timer, err := db.GetTimerState(ctx)
				if err != nil {
					return err
				}
				poll, err := db.GetPollMinutes(ctx)
				if err != nil {
					return err
				}
				data := map[string]any{"app": s, "timer": timer, "pollMinutes": poll}
				return rootOpts.formatter(cmd).Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "theme:        %s\n", s.Theme)
					fmt.Fprintf(w, "font:         %s\n", s.Font)
					fmt.Fprintf(w, "caps:         %t\n", s.Caps)
					fmt.Fprintf(w, "autosave:     %t\n", s.Autosave)
					fmt.Fprintf(w, "poll minutes: %d\n", poll)
					fmt.Fprintf(w, "timer:        running=%t remaining=%dms\n", timer.IsRunning, timer.PausedRemaining)
				})
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the JSON stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				var value any
				found, err := db.GetSetting(ctx, args[0], &value)
				if err != nil {
					return err
				}
				if !found {
					return apperrors.New(apperrors.ErrNotFound, "setting "+args[0]+" is not set")
				}
				return rootOpts.formatter(cmd).Success(value, func(w io.Writer) {
					out, _ := json.Marshal(value)
					fmt.Fprintln(w, string(out))
				})
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under a key. A value that is not valid JSON is stored
as a string, so "settings set theme dark" works without quoting.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any = args[1]
			if json.Valid([]byte(args[1])) {
				value = json.RawMessage(args[1])
			}
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				return db.SetSetting(ctx, args[0], value)
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}
