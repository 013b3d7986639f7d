package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/bryan-buckman/tabink/internal/engine"
)

// Tables lists every table the schema defines.
var Tables = []string{
	"settings",
	"tasks",
	"notes",
	"feed_articles",
	"feed_images",
	"rss_feeds",
	"sketches",
}

// schema holds one CREATE statement per table, in Tables order. Column names
// match the snapshots written by earlier releases so old backups import as is.
// Evolution is additive only: new tables, or new nullable columns.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		completed INTEGER DEFAULT 0,
		dueDate TEXT,
		createdAt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT,
		createdAt TEXT NOT NULL,
		lastModified TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS feed_articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT,
		content TEXT,
		preview TEXT,
		pubDate TEXT,
		feedUrl TEXT,
		feedName TEXT,
		savedAt TEXT NOT NULL,
		read INTEGER DEFAULT 0,
		saved INTEGER DEFAULT 0
	)`,
	// The foreign key is declarative only; images are removed explicitly
	// together with their article.
	`CREATE TABLE IF NOT EXISTS feed_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		articleId TEXT NOT NULL,
		imageUrl TEXT NOT NULL,
		FOREIGN KEY (articleId) REFERENCES feed_articles(id)
	)`,
	`CREATE TABLE IF NOT EXISTS rss_feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		addedAt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sketches (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		imageData TEXT NOT NULL,
		createdAt TEXT NOT NULL,
		lastModified TEXT NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_feed_images_article ON feed_images(articleId)`,
}

// EnsureSchema creates every missing table and index. It is safe to call on
// every startup and returns the names of the tables it had to create.
func EnsureSchema(ctx context.Context, eng *engine.Engine) ([]string, error) {
	before, err := eng.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for i, stmt := range schema {
		if _, err := eng.Run(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	for _, stmt := range indexes {
		if _, err := eng.Run(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	var created []string
	for _, name := range Tables {
		if !slices.Contains(before, name) {
			created = append(created, name)
		}
	}
	return created, nil
}
