package database

import (
	"context"
	"encoding/json"

	"github.com/bryan-buckman/tabink/internal/model"
)

// Store defines the database operations used by the server, the feed
// fetcher and the CLI.
type Store interface {
	Close() error
	Status() Status
	Flush(ctx context.Context) error
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) error

	// Task operations
	GetTasks(ctx context.Context) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	AddTask(ctx context.Context, text, dueDate string) (string, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error

	// Note and sketch operations
	GetNotes(ctx context.Context) ([]model.Note, error)
	GetNote(ctx context.Context, id string) (*model.Note, error)
	SaveNote(ctx context.Context, id, title, content string) error
	DeleteNote(ctx context.Context, id string) error
	GetSketches(ctx context.Context) ([]model.Sketch, error)
	GetSketch(ctx context.Context, id string) (*model.Sketch, error)
	SaveSketch(ctx context.Context, id, title, imageData string) error
	DeleteSketch(ctx context.Context, id string) error
	GetAllFiles(ctx context.Context) ([]model.File, error)

	// Article operations
	GetArticles(ctx context.Context) ([]model.Article, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	SaveArticle(ctx context.Context, a model.Article) error
	UpdateArticle(ctx context.Context, id string, patch model.ArticlePatch) error
	DeleteArticle(ctx context.Context, id string) error
	ClearAllArticles(ctx context.Context) error
	AddArticleImage(ctx context.Context, articleID, imageURL string) (int64, error)
	GetArticleImages(ctx context.Context, articleID string) ([]model.FeedImage, error)

	// Feed operations
	GetFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*model.Feed, error)
	AddFeed(ctx context.Context, name, url string) (int64, error)
	DeleteFeed(ctx context.Context, url string) error

	// Settings operations
	GetSetting(ctx context.Context, key string, dest any) (bool, error)
	GetSettingRaw(ctx context.Context, key string) (json.RawMessage, error)
	SetSetting(ctx context.Context, key string, value any) error
	GetAppSettings(ctx context.Context) (model.AppSettings, error)
	SaveAppSettings(ctx context.Context, s model.AppSettings) error
	GetTimerState(ctx context.Context) (model.TimerState, error)
	SaveTimerState(ctx context.Context, state model.TimerState) error
	GetPollMinutes(ctx context.Context) (int, error)
	SetPollMinutes(ctx context.Context, minutes int) error
}
