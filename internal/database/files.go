package database

import (
	"context"
	"slices"

	"github.com/bryan-buckman/tabink/internal/engine"
	"github.com/bryan-buckman/tabink/internal/model"
)

// GetAllFiles lists notes and sketches together, most recently modified
// first. A store created before sketches existed lists notes only.
func (db *DB) GetAllFiles(ctx context.Context) ([]model.File, error) {
	notes, err := db.GetNotes(ctx)
	if err != nil {
		return nil, err
	}
	sketches, err := db.GetSketches(ctx)
	if err != nil {
		if !engine.IsNoSuchTable(err, "sketches") {
			return nil, err
		}
		db.c.log.Debug("sketches table missing, listing notes only")
		sketches = nil
	}

	files := make([]model.File, 0, len(notes)+len(sketches))
	for _, n := range notes {
		files = append(files, model.File{
			Kind:         model.FileKindNote,
			ID:           n.ID,
			Title:        n.Title,
			Content:      n.Content,
			CreatedAt:    n.CreatedAt,
			LastModified: n.LastModified,
		})
	}
	for _, s := range sketches {
		files = append(files, model.File{
			Kind:         model.FileKindSketch,
			ID:           s.ID,
			Title:        s.Title,
			ImageData:    s.ImageData,
			CreatedAt:    s.CreatedAt,
			LastModified: s.LastModified,
		})
	}
	slices.SortStableFunc(files, func(a, b model.File) int {
		return b.LastModified.Compare(a.LastModified)
	})
	return files, nil
}
