package database

import (
	"context"
	"strings"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
)

const articleColumns = `id, title, COALESCE(link, '') AS link,
	COALESCE(content, '') AS content, COALESCE(preview, '') AS preview,
	COALESCE(pubDate, '') AS pubDate, COALESCE(feedUrl, '') AS feedUrl,
	COALESCE(feedName, '') AS feedName, savedAt,
	COALESCE(read, 0) AS read, COALESCE(saved, 0) AS saved`

type articleRow struct {
	ID       string `db:"id"`
	Title    string `db:"title"`
	Link     string `db:"link"`
	Content  string `db:"content"`
	Preview  string `db:"preview"`
	PubDate  string `db:"pubDate"`
	FeedURL  string `db:"feedUrl"`
	FeedName string `db:"feedName"`
	SavedAt  string `db:"savedAt"`
	Read     int64  `db:"read"`
	Saved    int64  `db:"saved"`
}

func (r articleRow) model() model.Article {
	return model.Article{
		ID:          r.ID,
		Title:       r.Title,
		Link:        r.Link,
		Content:     r.Content,
		Preview:     r.Preview,
		PublishedAt: parseTime(r.PubDate),
		FeedURL:     r.FeedURL,
		FeedName:    r.FeedName,
		SavedAt:     parseTime(r.SavedAt),
		Read:        r.Read != 0,
		Saved:       r.Saved != 0,
		Images:      []string{},
	}
}

type imageRow struct {
	ID        int64  `db:"id"`
	ArticleID string `db:"articleId"`
	ImageURL  string `db:"imageUrl"`
}

// GetArticles returns all articles, newest publication first, with their
// images attached.
func (db *DB) GetArticles(ctx context.Context) ([]model.Article, error) {
	var rows []articleRow
	if err := db.c.All(ctx, &rows, "SELECT "+articleColumns+" FROM feed_articles ORDER BY pubDate DESC, id"); err != nil {
		return nil, err
	}
	var images []imageRow
	if err := db.c.All(ctx, &images, "SELECT id, articleId, imageUrl FROM feed_images ORDER BY id"); err != nil {
		return nil, err
	}
	byArticle := make(map[string][]string)
	for _, img := range images {
		byArticle[img.ArticleID] = append(byArticle[img.ArticleID], img.ImageURL)
	}

	articles := make([]model.Article, 0, len(rows))
	for _, r := range rows {
		a := r.model()
		if urls, ok := byArticle[a.ID]; ok {
			a.Images = urls
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// GetArticle returns the article with id and its images, or nil if there is
// none.
func (db *DB) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	var r articleRow
	found, err := db.c.Get(ctx, &r, "SELECT "+articleColumns+" FROM feed_articles WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	a := r.model()
	images, err := db.GetArticleImages(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		a.Images = append(a.Images, img.ImageURL)
	}
	return &a, nil
}

// SaveArticle inserts or replaces the article by ID and replaces its image
// rows with a.Images. A zero SavedAt is stamped with the current time.
func (db *DB) SaveArticle(ctx context.Context, a model.Article) error {
	if a.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "article id is empty")
	}
	savedAt := a.SavedAt
	if savedAt.IsZero() {
		savedAt = db.c.Now()
	}

	stmts := []Statement{
		Stmt(`INSERT OR REPLACE INTO feed_articles
			(id, title, link, content, preview, pubDate, feedUrl, feedName, savedAt, read, saved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Title, a.Link, a.Content, a.Preview,
			nullIfEmpty(formatTime(a.PublishedAt)), a.FeedURL, a.FeedName,
			formatTime(savedAt), boolInt(a.Read), boolInt(a.Saved)),
		Stmt("DELETE FROM feed_images WHERE articleId = ?", a.ID),
	}
	for _, url := range a.Images {
		stmts = append(stmts, Stmt("INSERT INTO feed_images (articleId, imageUrl) VALUES (?, ?)", a.ID, url))
	}
	return db.c.RunBatch(ctx, stmts...)
}

// UpdateArticle changes the read and saved flags set in patch.
func (db *DB) UpdateArticle(ctx context.Context, id string, patch model.ArticlePatch) error {
	if patch.Empty() {
		return nil
	}
	var sets []string
	var args []any
	if patch.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, boolInt(*patch.Read))
	}
	if patch.Saved != nil {
		sets = append(sets, "saved = ?")
		args = append(args, boolInt(*patch.Saved))
	}
	args = append(args, id)
	_, err := db.c.Run(ctx, "UPDATE feed_articles SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// DeleteArticle removes an article and its images.
func (db *DB) DeleteArticle(ctx context.Context, id string) error {
	return db.c.RunBatch(ctx,
		Stmt("DELETE FROM feed_images WHERE articleId = ?", id),
		Stmt("DELETE FROM feed_articles WHERE id = ?", id),
	)
}

// ClearAllArticles removes every article and image.
func (db *DB) ClearAllArticles(ctx context.Context) error {
	return db.c.RunBatch(ctx,
		Stmt("DELETE FROM feed_images"),
		Stmt("DELETE FROM feed_articles"),
	)
}

// AddArticleImage attaches an image URL to an article.
func (db *DB) AddArticleImage(ctx context.Context, articleID, imageURL string) (int64, error) {
	res, err := db.c.Run(ctx, "INSERT INTO feed_images (articleId, imageUrl) VALUES (?, ?)", articleID, imageURL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// GetArticleImages returns the images of an article in insertion order.
func (db *DB) GetArticleImages(ctx context.Context, articleID string) ([]model.FeedImage, error) {
	var rows []imageRow
	if err := db.c.All(ctx, &rows, "SELECT id, articleId, imageUrl FROM feed_images WHERE articleId = ? ORDER BY id", articleID); err != nil {
		return nil, err
	}
	images := make([]model.FeedImage, 0, len(rows))
	for _, r := range rows {
		images = append(images, model.FeedImage{ID: r.ID, ArticleID: r.ArticleID, ImageURL: r.ImageURL})
	}
	return images, nil
}

type feedRow struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	URL     string `db:"url"`
	AddedAt string `db:"addedAt"`
}

func (r feedRow) model() model.Feed {
	return model.Feed{ID: r.ID, Name: r.Name, URL: r.URL, AddedAt: parseTime(r.AddedAt)}
}

// GetFeeds returns all subscriptions, most recently added first.
func (db *DB) GetFeeds(ctx context.Context) ([]model.Feed, error) {
	var rows []feedRow
	if err := db.c.All(ctx, &rows, "SELECT id, name, url, addedAt FROM rss_feeds ORDER BY addedAt DESC, id DESC"); err != nil {
		return nil, err
	}
	feeds := make([]model.Feed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, r.model())
	}
	return feeds, nil
}

// GetFeedByURL returns the subscription for url, or nil if there is none.
func (db *DB) GetFeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	var r feedRow
	found, err := db.c.Get(ctx, &r, "SELECT id, name, url, addedAt FROM rss_feeds WHERE url = ?", url)
	if err != nil || !found {
		return nil, err
	}
	f := r.model()
	return &f, nil
}

// AddFeed subscribes to a feed. Adding a URL twice fails with a query error.
func (db *DB) AddFeed(ctx context.Context, name, url string) (int64, error) {
	if strings.TrimSpace(url) == "" {
		return 0, apperrors.New(apperrors.ErrInvalid, "feed url is empty")
	}
	if name == "" {
		name = url
	}
	res, err := db.c.Run(ctx, "INSERT INTO rss_feeds (name, url, addedAt) VALUES (?, ?, ?)",
		name, url, formatTime(db.c.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// DeleteFeed unsubscribes from the feed at url.
func (db *DB) DeleteFeed(ctx context.Context, url string) error {
	_, err := db.c.Run(ctx, "DELETE FROM rss_feeds WHERE url = ?", url)
	return err
}
