package database

import (
	"context"
	"strings"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
)

const taskColumns = `id, text, COALESCE(completed, 0) AS completed,
	COALESCE(dueDate, '') AS dueDate, createdAt`

type taskRow struct {
	ID        string `db:"id"`
	Text      string `db:"text"`
	Completed int64  `db:"completed"`
	DueDate   string `db:"dueDate"`
	CreatedAt string `db:"createdAt"`
}

func (r taskRow) model() model.Task {
	return model.Task{
		ID:        r.ID,
		Text:      r.Text,
		Completed: r.Completed != 0,
		DueDate:   r.DueDate,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

// GetTasks returns all tasks, newest first.
func (db *DB) GetTasks(ctx context.Context) ([]model.Task, error) {
	var rows []taskRow
	if err := db.c.All(ctx, &rows, "SELECT "+taskColumns+" FROM tasks ORDER BY createdAt DESC, id DESC"); err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.model())
	}
	return tasks, nil
}

// GetTask returns the task with id, or nil if there is none.
func (db *DB) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var r taskRow
	found, err := db.c.Get(ctx, &r, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	t := r.model()
	return &t, nil
}

// AddTask creates an open task and returns its ID. dueDate may be empty.
func (db *DB) AddTask(ctx context.Context, text, dueDate string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "task text is empty")
	}
	id := db.newID()
	_, err := db.c.Run(ctx,
		"INSERT INTO tasks (id, text, completed, dueDate, createdAt) VALUES (?, ?, 0, ?, ?)",
		id, text, nullIfEmpty(dueDate), formatTime(db.c.Now()))
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateTask changes only the fields set in patch.
func (db *DB) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) error {
	if patch.Empty() {
		return nil
	}
	var sets []string
	var args []any
	if patch.Text != nil {
		sets = append(sets, "text = ?")
		args = append(args, *patch.Text)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, boolInt(*patch.Completed))
	}
	if patch.DueDate != nil {
		sets = append(sets, "dueDate = ?")
		args = append(args, nullIfEmpty(*patch.DueDate))
	}
	args = append(args, id)
	_, err := db.c.Run(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// DeleteTask removes a task.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := db.c.Run(ctx, "DELETE FROM tasks WHERE id = ?", id)
	return err
}
