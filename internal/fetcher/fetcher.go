package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/raffaelramalhorosa/futurefeed/internal/metrics"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

// Options tunes polling, per-fetch timeouts, rate limiting and the per-bot
// circuit breakers. Zero values fall back to the defaults below.
type Options struct {
	Interval         time.Duration
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Minute
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 3
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 5 * time.Minute
	}
	return o
}

// Recorder receives the outcome of every fetch. *metrics.Registry
// implements it.
type Recorder interface {
	ObserveFetch(result string, saved int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, int) {}

// Fetcher periodically pulls every registered bot feed using concurrent
// workers and stores new items as BOT posts.
type Fetcher struct {
	repo     store.Repository
	parser   *gofeed.Parser
	opts     Options
	limiter  *rate.Limiter
	recorder Recorder
	logger   zerolog.Logger

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// New returns a Fetcher. recorder may be nil.
func New(repo store.Repository, opts Options, recorder Recorder, logger zerolog.Logger) *Fetcher {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Fetcher{
		repo:     repo,
		parser:   gofeed.NewParser(),
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		recorder: recorder,
		logger:   logger.With().Str("component", "fetcher").Logger(),
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
	}
}

// Start begins the background polling loop. It blocks until ctx is cancelled.
func (f *Fetcher) Start(ctx context.Context) {
	f.logger.Info().Dur("interval", f.opts.Interval).Msg("fetcher started")

	f.fetchAll(ctx)

	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("fetcher stopped")
			return
		case <-ticker.C:
			f.fetchAll(ctx)
		}
	}
}

// fetchAll fans out one goroutine per bot, collects results through a
// channel and persists them. It returns how many new posts were stored.
func (f *Fetcher) fetchAll(ctx context.Context) int {
	bots, err := f.repo.ListBots(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("listing bots")
		return 0
	}
	if len(bots) == 0 {
		return 0
	}

	f.logger.Info().Int("bots", len(bots)).Msg("fetch cycle starting")

	results := make(chan models.FetchResult, len(bots))
	topics := make(map[int64]*int64, len(bots))

	var wg sync.WaitGroup
	for _, bot := range bots {
		topics[bot.ID] = bot.TopicID
		wg.Add(1)
		go func(bot models.Bot) {
			defer wg.Done()
			posts, err := f.fetchBot(ctx, bot)
			results <- models.FetchResult{BotID: bot.ID, Posts: posts, Err: err}
		}(bot)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var totalSaved int
	for res := range results {
		if res.Err != nil {
			f.recorder.ObserveFetch(classify(res.Err), 0)
			f.logger.Error().Err(res.Err).Int64("bot_id", res.BotID).Msg("bot fetch failed")
			continue
		}

		saved, err := f.repo.SaveBotPosts(ctx, res.BotID, res.Posts, topics[res.BotID])
		if err != nil {
			f.recorder.ObserveFetch(metrics.FetchError, 0)
			f.logger.Error().Err(err).Int64("bot_id", res.BotID).Msg("saving bot posts")
			continue
		}
		if err := f.repo.UpdateBotFetched(ctx, res.BotID, time.Now().UTC()); err != nil {
			f.logger.Warn().Err(err).Int64("bot_id", res.BotID).Msg("updating last fetched")
		}

		totalSaved += saved
		f.recorder.ObserveFetch(metrics.FetchOK, saved)
		f.logger.Info().
			Int64("bot_id", res.BotID).
			Int("items", len(res.Posts)).
			Int("new", saved).
			Msg("bot fetched")
	}

	f.logger.Info().Int("new_posts", totalSaved).Msg("fetch cycle complete")
	return totalSaved
}

func classify(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return metrics.FetchBreakerOpen
	}
	return metrics.FetchError
}

func (f *Fetcher) breaker(bot models.Bot) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[bot.ID]; ok {
		return cb
	}
	threshold := f.opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bot-" + strconv.FormatInt(bot.ID, 10),
		MaxRequests: 1,
		Timeout:     f.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("breaker state changed")
		},
	})
	f.breakers[bot.ID] = cb
	return cb
}

// fetchBot downloads and parses a single bot feed.
func (f *Fetcher) fetchBot(ctx context.Context, bot models.Bot) ([]models.Post, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := f.breaker(bot).Execute(func() (interface{}, error) {
		parseCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
		return f.parser.ParseURLWithContext(bot.FeedURL, parseCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", bot.FeedURL, err)
	}
	return itemsToPosts(res.(*gofeed.Feed).Items), nil
}

// itemsToPosts skips items with neither a link nor a GUID since they cannot
// be deduplicated.
func itemsToPosts(items []*gofeed.Item) []models.Post {
	posts := make([]models.Post, 0, len(items))
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		if link == "" {
			continue
		}

		var created *time.Time
		switch {
		case item.PublishedParsed != nil:
			created = item.PublishedParsed
		case item.UpdatedParsed != nil:
			created = item.UpdatedParsed
		}

		posts = append(posts, models.Post{
			Content:   itemContent(item),
			ImageURL:  itemImage(item),
			CreatedAt: created,
			Kind:      models.KindBot,
			Link:      link,
		})
	}
	return posts
}

func itemContent(item *gofeed.Item) string {
	title := strings.TrimSpace(item.Title)
	desc := strings.TrimSpace(item.Description)
	switch {
	case title == "":
		return desc
	case desc == "":
		return title
	}
	return title + "\n\n" + desc
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
