package database

import (
	"context"

	"github.com/bryan-buckman/tabink/internal/model"
)

const sketchColumns = "id, title, imageData, createdAt, lastModified"

type sketchRow struct {
	ID           string `db:"id"`
	Title        string `db:"title"`
	ImageData    string `db:"imageData"`
	CreatedAt    string `db:"createdAt"`
	LastModified string `db:"lastModified"`
}

func (r sketchRow) model() model.Sketch {
	return model.Sketch{
		ID:           r.ID,
		Title:        r.Title,
		ImageData:    r.ImageData,
		CreatedAt:    parseTime(r.CreatedAt),
		LastModified: parseTime(r.LastModified),
	}
}

// GetSketches returns all sketches, most recently modified first.
func (db *DB) GetSketches(ctx context.Context) ([]model.Sketch, error) {
	var rows []sketchRow
	if err := db.c.All(ctx, &rows, "SELECT "+sketchColumns+" FROM sketches ORDER BY lastModified DESC"); err != nil {
		return nil, err
	}
	sketches := make([]model.Sketch, 0, len(rows))
	for _, r := range rows {
		sketches = append(sketches, r.model())
	}
	return sketches, nil
}

// GetSketch returns the sketch with id, or nil if there is none.
func (db *DB) GetSketch(ctx context.Context, id string) (*model.Sketch, error) {
	var r sketchRow
	found, err := db.c.Get(ctx, &r, "SELECT "+sketchColumns+" FROM sketches WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	s := r.model()
	return &s, nil
}

// SaveSketch inserts the sketch, or updates its title and image if it exists.
func (db *DB) SaveSketch(ctx context.Context, id, title, imageData string) error {
	now := formatTime(db.c.Now())
	_, err := db.c.Run(ctx, `
		INSERT INTO sketches (id, title, imageData, createdAt, lastModified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			imageData = excluded.imageData,
			lastModified = excluded.lastModified`,
		id, title, imageData, now, now)
	return err
}

// DeleteSketch removes a sketch.
func (db *DB) DeleteSketch(ctx context.Context, id string) error {
	_, err := db.c.Run(ctx, "DELETE FROM sketches WHERE id = ?", id)
	return err
}
