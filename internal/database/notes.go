package database

import (
	"context"

	"github.com/bryan-buckman/tabink/internal/model"
)

const noteColumns = "id, title, COALESCE(content, '') AS content, createdAt, lastModified"

type noteRow struct {
	ID           string `db:"id"`
	Title        string `db:"title"`
	Content      string `db:"content"`
	CreatedAt    string `db:"createdAt"`
	LastModified string `db:"lastModified"`
}

func (r noteRow) model() model.Note {
	return model.Note{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		CreatedAt:    parseTime(r.CreatedAt),
		LastModified: parseTime(r.LastModified),
	}
}

// GetNotes returns all notes, most recently modified first.
func (db *DB) GetNotes(ctx context.Context) ([]model.Note, error) {
	var rows []noteRow
	if err := db.c.All(ctx, &rows, "SELECT "+noteColumns+" FROM notes ORDER BY lastModified DESC"); err != nil {
		return nil, err
	}
	notes := make([]model.Note, 0, len(rows))
	for _, r := range rows {
		notes = append(notes, r.model())
	}
	return notes, nil
}

// GetNote returns the note with id, or nil if there is none.
func (db *DB) GetNote(ctx context.Context, id string) (*model.Note, error) {
	var r noteRow
	found, err := db.c.Get(ctx, &r, "SELECT "+noteColumns+" FROM notes WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	n := r.model()
	return &n, nil
}

// SaveNote inserts the note, or updates its title and content if it exists.
// createdAt is set only on insert.
func (db *DB) SaveNote(ctx context.Context, id, title, content string) error {
	now := formatTime(db.c.Now())
	_, err := db.c.Run(ctx, `
		INSERT INTO notes (id, title, content, createdAt, lastModified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			lastModified = excluded.lastModified`,
		id, title, content, now, now)
	return err
}

// DeleteNote removes a note.
func (db *DB) DeleteNote(ctx context.Context, id string) error {
	_, err := db.c.Run(ctx, "DELETE FROM notes WHERE id = ?", id)
	return err
}
