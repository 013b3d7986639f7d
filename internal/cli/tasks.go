package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tabink/internal/database"
	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
)

// NewTasksCommand creates the tasks command group. Without a subcommand it
// lists tasks.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				tasks, err := db.GetTasks(ctx)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(tasks, func(w io.Writer) {
					for _, t := range tasks {
						mark := " "
						if t.Completed {
							mark = "x"
						}
						due := ""
						if t.DueDate != "" {
							due = " (due " + t.DueDate + ")"
						}
						fmt.Fprintf(w, "[%s] %s  %s%s\n", mark, t.ID, t.Text, due)
					}
				})
			})
		},
	}

	var due string
	add := &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				id, err := db.AddTask(ctx, strings.Join(args, " "), due)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(map[string]string{"id": id}, func(w io.Writer) {
					fmt.Fprintln(w, id)
				})
			})
		},
	}
	add.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")

	setCompleted := func(use, short string, completed bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
					task, err := db.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					if task == nil {
						return apperrors.New(apperrors.ErrNotFound, "no task "+args[0])
					}
					return db.UpdateTask(ctx, args[0], model.TaskPatch{Completed: &completed})
				})
			},
		}
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				return db.DeleteTask(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(add, setCompleted("done", "Mark a task completed", true), setCompleted("undo", "Mark a task open", false), rm)
	return cmd
}

// NewNotesCommand creates the notes command group. Without a subcommand it
// lists notes and sketches.
func NewNotesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List and manage notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				files, err := db.GetAllFiles(ctx)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(files, func(w io.Writer) {
					for _, f := range files {
						fmt.Fprintf(w, "%-6s %s  %s\n", f.Kind, f.ID, f.Title)
					}
				})
			})
		},
	}

	var id string
	add := &cobra.Command{
		Use:   "add [file]",
		Short: "Save a note from a file or stdin",
		Long: `Save a note. The content is read from the file argument, or stdin when
it is omitted. The title is the first line. --id updates an existing note.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content []byte
			var err error
			if len(args) == 1 {
				content, err = os.ReadFile(args[0])
			} else {
				content, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "read note", err)
			}
			noteID := id
			if noteID == "" {
				noteID = uuid.Must(uuid.NewV7()).String()
			}
			text := string(content)
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				if err := db.SaveNote(ctx, noteID, model.NoteTitle(text), text); err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(map[string]string{"id": noteID}, func(w io.Writer) {
					fmt.Fprintln(w, noteID)
				})
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "note id to update")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				note, err := db.GetNote(ctx, args[0])
				if err != nil {
					return err
				}
				if note == nil {
					return apperrors.New(apperrors.ErrNotFound, "no note "+args[0])
				}
				return rootOpts.formatter(cmd).Success(note, func(w io.Writer) {
					fmt.Fprintln(w, note.Content)
				})
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note or sketch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDB(cmd, func(ctx context.Context, db *database.DB) error {
				if err := db.DeleteNote(ctx, args[0]); err != nil {
					return err
				}
				return db.DeleteSketch(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(add, show, rm)
	return cmd
}
