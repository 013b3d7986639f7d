package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/model"
	"github.com/bryan-buckman/tabink/internal/rss"
	"github.com/bryan-buckman/tabink/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	var noPoll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and refresh feeds in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				rootOpts.Config.Listen = listen
			}
			return runServe(cmd, rootOpts, !noPoll)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "do not refresh feeds in the background")

	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions, poll bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := opts.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	fetcher := rss.NewFetcher(db, rss.WithLogger(opts.Logger))
	var poller *rss.Poller
	if poll {
		seedPollMinutes(ctx, db, opts)
		poller = rss.NewPoller(db, fetcher)
	}

	srv := server.New(db, fetcher, poller, opts.Logger)
	if err := srv.Start(ctx, opts.Config.Listen); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}

	// Leave the record current even if the last save failed.
	if err := db.Flush(context.WithoutCancel(ctx)); err != nil {
		opts.Logger.Warn("final flush failed", "error", err)
	}
	return nil
}

// seedPollMinutes stores the configured poll interval unless one was already
// saved through the settings API.
func seedPollMinutes(ctx context.Context, db *database.DB, opts *RootOptions) {
	if opts.Config.PollMinutes <= 0 {
		return
	}
	raw, err := db.GetSettingRaw(ctx, model.SettingPollMinutes)
	if err != nil || raw != nil {
		return
	}
	if err := db.SetPollMinutes(ctx, opts.Config.PollMinutes); err != nil {
		opts.Logger.Warn("storing poll interval failed", "error", err)
	}
}
