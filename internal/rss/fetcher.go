// Package rss provides feed fetching and parsing.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/model"
)

const (
	// DefaultConcurrency is the number of feeds downloaded in parallel.
	// Saves are serialized by the database either way.
	DefaultConcurrency = 4
	// MaxRequestsPerHost caps in-flight downloads from one host.
	MaxRequestsPerHost = 2
	// HostDelay is the minimum gap between two downloads from one host.
	HostDelay = 500 * time.Millisecond
	// PreviewLength is the length in runes of an article preview.
	PreviewLength = 200
)

// hostGate spaces out downloads per host.
type hostGate struct {
	mu    sync.Mutex
	delay time.Duration
	hosts map[string]*hostSlots
}

type hostSlots struct {
	inFlight chan struct{}
	last     time.Time
}

func newHostGate(delay time.Duration) *hostGate {
	return &hostGate{delay: delay, hosts: map[string]*hostSlots{}}
}

func (g *hostGate) slots(host string) *hostSlots {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.hosts[host]
	if !ok {
		h = &hostSlots{inFlight: make(chan struct{}, MaxRequestsPerHost)}
		g.hosts[host] = h
	}
	return h
}

// enter blocks until a download from host may start. Every successful
// enter must be paired with leave.
func (g *hostGate) enter(ctx context.Context, host string) error {
	h := g.slots(host)
	select {
	case h.inFlight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	wait := g.delay - time.Since(h.last)
	if h.last.IsZero() {
		wait = 0
	}
	g.mu.Unlock()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		<-h.inFlight
		return ctx.Err()
	}
}

func (g *hostGate) leave(host string) {
	h := g.slots(host)
	g.mu.Lock()
	h.last = time.Now()
	g.mu.Unlock()
	<-h.inFlight
}

// hostOf returns the host part of a feed URL, or the URL itself when it
// does not parse.
func hostOf(feedURL string) string {
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		return u.Host
	}
	return feedURL
}

// Fetcher downloads subscribed feeds and saves their items as articles.
type Fetcher struct {
	db          database.Store
	concurrency int
	gate        *hostGate
	log         *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency sets how many feeds are downloaded at once.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithHostDelay sets the minimum gap between downloads from one host.
func WithHostDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.gate = newHostGate(d) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// NewFetcher creates a fetcher saving into db.
func NewFetcher(db database.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		db:          db,
		concurrency: DefaultConcurrency,
		gate:        newHostGate(HostDelay),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchFeed fetches and parses a single feed and saves every item.
// Returns the number of articles that were not stored before.
func (f *Fetcher) FetchFeed(ctx context.Context, feed model.Feed) (int, error) {
	host := hostOf(feed.URL)
	if err := f.gate.enter(ctx, host); err != nil {
		return 0, fmt.Errorf("waiting to fetch %s: %w", feed.URL, err)
	}
	// A gofeed.Parser is not safe for concurrent use.
	parsed, err := gofeed.NewParser().ParseURLWithContext(feed.URL, ctx)
	f.gate.leave(host)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	name := feed.Name
	if (name == "" || name == feed.URL) && parsed.Title != "" {
		name = parsed.Title
	}

	newCount := 0
	for _, item := range parsed.Items {
		article, ok := ArticleFromItem(item, feed.URL, name)
		if !ok {
			continue
		}
		isNew, err := f.save(ctx, article)
		if err != nil {
			f.log.Warn("saving article failed", "feed", feed.URL, "article", article.ID, "error", err)
			continue
		}
		if isNew {
			newCount++
		}
	}
	return newCount, nil
}

// save stores an article, keeping the read and saved flags and the saved
// time of an earlier copy.
func (f *Fetcher) save(ctx context.Context, a model.Article) (bool, error) {
	existing, err := f.db.GetArticle(ctx, a.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		a.Read = existing.Read
		a.Saved = existing.Saved
		a.SavedAt = existing.SavedAt
	}
	if err := f.db.SaveArticle(ctx, a); err != nil {
		return false, err
	}
	return existing == nil, nil
}

// ArticleFromItem converts a parsed feed item. Items without a GUID or link
// cannot be identified across fetches and are rejected.
func ArticleFromItem(item *gofeed.Item, feedURL, feedName string) (model.Article, bool) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return model.Article{}, false
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	a := model.Article{
		ID:       id,
		Title:    strings.TrimSpace(item.Title),
		Link:     item.Link,
		Content:  content,
		Preview:  Preview(summary),
		FeedURL:  feedURL,
		FeedName: feedName,
		Images:   itemImages(item, content),
	}
	if a.Title == "" {
		a.Title = "Untitled"
	}
	switch {
	case item.PublishedParsed != nil:
		a.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		a.PublishedAt = item.UpdatedParsed.UTC()
	}
	return a, true
}

// Preview returns the text of an HTML fragment, whitespace collapsed and cut
// to PreviewLength runes.
func Preview(html string) string {
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	return string([]rune(text)[:PreviewLength])
}

// itemImages collects image URLs from the item image, image enclosures and
// <img> tags in the content, without duplicates.
func itemImages(item *gofeed.Item, content string) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			add(src)
		})
	}
	return urls
}

// FetchResult holds the result of fetching a single feed.
type FetchResult struct {
	URL      string
	NewItems int
	Error    error
}

// FetchAll fetches every subscribed feed using a worker pool.
// Returns a map of feed URL -> new article count for the feeds that
// succeeded.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]int, error) {
	feeds, err := f.db.GetFeeds(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]int)
	if len(feeds) == 0 {
		return results, nil
	}

	f.log.Info("fetching feeds", "count", len(feeds), "concurrency", f.concurrency)

	var wg sync.WaitGroup
	feedChan := make(chan model.Feed)
	resultChan := make(chan FetchResult, len(feeds))

	for range min(f.concurrency, len(feeds)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedChan {
				count, err := f.FetchFeed(ctx, feed)
				resultChan <- FetchResult{URL: feed.URL, NewItems: count, Error: err}
			}
		}()
	}

	go func() {
		defer close(feedChan)
		for _, feed := range feeds {
			select {
			case <-ctx.Done():
				return
			case feedChan <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		if result.Error != nil {
			f.log.Warn("fetching feed failed", "feed", result.URL, "error", result.Error)
			continue
		}
		results[result.URL] = result.NewItems
	}
	return results, ctx.Err()
}
