package rss

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/tabink/internal/database"
)

// FetchTimeout bounds one round of fetching.
const FetchTimeout = 10 * time.Minute

// Poller refreshes all feeds in the background.
type Poller struct {
	fetcher  *Fetcher
	db       database.Store
	log      *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// interval overrides the stored poll interval when non-zero.
	interval time.Duration
}

// NewPoller creates a background poller.
func NewPoller(db database.Store, fetcher *Fetcher) *Poller {
	return &Poller{
		fetcher:  fetcher,
		db:       db,
		log:      fetcher.log,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. The first round runs immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.nextInterval()
			p.poll()

			select {
			case <-p.stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()
}

func (p *Poller) nextInterval() time.Duration {
	if p.interval > 0 {
		return p.interval
	}
	minutes, err := p.db.GetPollMinutes(context.Background())
	if err != nil {
		p.log.Warn("reading poll interval failed", "error", err)
		minutes = database.MinPollMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), FetchTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	results, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		p.log.Warn("poll failed", "error", err)
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	p.log.Info("poll finished", "new_articles", total, "feeds", len(results))
}

// Stop stops the poller and waits for a running round to end.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}
