package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/opml"
	"github.com/bryan-buckman/tabink/internal/rss"
)

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every subscribed feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				ctx, cancel := context.WithTimeout(ctx, rss.FetchTimeout)
				defer cancel()
				results, err := rss.NewFetcher(db, rss.WithLogger(rootOpts.Logger)).FetchAll(ctx)
				if err != nil {
					return err
				}
				total := 0
				for _, n := range results {
					total += n
				}
				return rootOpts.formatter(cmd).Success(results, func(w io.Writer) {
					fmt.Fprintf(w, "Fetched %d feeds, %d new articles\n", len(results), total)
				})
			})
		},
	}

	return cmd
}

// NewFeedsCommand creates the feeds command group.
func NewFeedsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List and manage feed subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				feeds, err := db.GetFeeds(ctx)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(feeds, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					for _, f := range feeds {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.URL, f.AddedAt.Local().Format(time.DateOnly))
					}
					tw.Flush()
				})
			})
		},
	}

	var name string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				id, err := db.AddFeed(ctx, name, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(map[string]any{"id": id, "url": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Subscribed to %s\n", args[0])
				})
			})
		},
	}
	add.Flags().StringVarP(&name, "name", "n", "", "display name (default: the URL)")

	rm := &cobra.Command{
		Use:   "rm <url>",
		Short: "Unsubscribe from a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				return db.DeleteFeed(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(add, rm)
	return cmd
}

// NewOPMLCommand creates the opml command group.
func NewOPMLCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opml",
		Short: "Import or export subscriptions as OPML",
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write subscriptions as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				feeds, err := db.GetFeeds(ctx)
				if err != nil {
					return err
				}
				data, err := opml.Export("tabink feeds", feeds, time.Now())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return atomic.WriteFile(output, bytes.NewReader(data))
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Subscribe to every feed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "open opml", err)
			}
			defer f.Close()
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				res, err := opml.Import(ctx, db, f)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "Added %d feeds, skipped %d already subscribed\n", res.Added, res.Skipped)
				})
			})
		},
	}

	cmd.AddCommand(export, imp)
	return cmd
}
