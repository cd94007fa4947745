package compose

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// Mode names used in observations.
const (
	ModeFull  = "full"
	ModePaged = "paged"
)

// Shuffler randomises the order of n elements. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Observation summarises one composition.
type Observation struct {
	Mode      string
	Rules     int
	Pool      int
	FromRules int
	Fallback  int
	Duration  time.Duration
}

// Observer receives an Observation after every successful composition.
type Observer interface {
	ObserveComposition(Observation)
}

// Composer blends rule candidates into feeds. A Composer is safe for
// concurrent use as long as any Shuffler given through WithShuffler is.
type Composer struct {
	shuffler func() Shuffler
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithSeed gives every call its own generator seeded with seed, so equal
// inputs always produce equal feeds.
func WithSeed(seed uint64) Option {
	return func(c *Composer) {
		c.shuffler = func() Shuffler {
			return rand.New(rand.NewPCG(seed, seed))
		}
	}
}

// WithShuffler makes every call share s. The caller owns its thread safety.
func WithShuffler(s Shuffler) Option {
	return func(c *Composer) {
		c.shuffler = func() Shuffler { return s }
	}
}

// WithObserver reports each composition to o.
func WithObserver(o Observer) Option {
	return func(c *Composer) { c.observer = o }
}

// WithLogger sets the logger used for per-composition debug lines.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Composer) { c.logger = l }
}

// globalShuffler uses the package-level generator, which is safe for
// concurrent use.
type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// New returns a Composer. Without options it shuffles with the shared
// math/rand/v2 generator and logs nothing.
func New(opts ...Option) *Composer {
	c := &Composer{
		shuffler: func() Shuffler { return globalShuffler{} },
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComposeFeed takes each rule's quota of its newest candidates and returns
// their union, one post per id, newest first. There is no fallback fill.
func (c *Composer) ComposeFeed(ctx context.Context, rules []models.PresetRule, corpus Corpus) ([]models.Post, error) {
	start := time.Now()

	seen := make(map[int64]struct{})
	feed := make([]models.Post, 0)

	for _, rule := range rules {
		candidates, err := FilterPostsForRule(ctx, rule, corpus)
		if err != nil {
			return nil, err
		}

		quota := FullQuota(rule.Percentage, len(candidates))
		for _, p := range candidates[:quota] {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			feed = append(feed, p)
		}
	}

	SortNewestFirst(feed)

	c.observe(Observation{
		Mode:      ModeFull,
		Rules:     len(rules),
		Pool:      len(feed),
		FromRules: len(feed),
		Duration:  time.Since(start),
	})
	return feed, nil
}

// ComposeFeedPage builds the pool of posts needed to fill pages 0..page,
// taking each rule's share in rule order and topping up with a shuffled
// selection of posts no rule matched, then returns the requested page.
//
// TotalCount is the number of distinct posts in the corpus.
func (c *Composer) ComposeFeedPage(ctx context.Context, rules []models.PresetRule, corpus Corpus, page, size int) (models.FeedPage, error) {
	start := time.Now()

	page, size = normalizePage(page, size)
	_, targetCount := window(page, size)

	candidates := make([][]models.Post, len(rules))
	union := make(map[int64]struct{})
	for i, rule := range rules {
		cand, err := FilterPostsForRule(ctx, rule, corpus)
		if err != nil {
			return models.FeedPage{}, err
		}
		candidates[i] = cand
		for _, p := range cand {
			union[p.ID] = struct{}{}
		}
	}

	all, err := corpus.FetchAll(ctx)
	if err != nil {
		return models.FeedPage{}, err
	}
	complement := make([]models.Post, 0, len(all))
	inComplement := make(map[int64]struct{})
	for _, p := range all {
		if _, ok := union[p.ID]; ok {
			continue
		}
		if _, ok := inComplement[p.ID]; ok {
			continue
		}
		inComplement[p.ID] = struct{}{}
		complement = append(complement, p)
	}
	SortNewestFirst(complement)

	totalCount := len(union) + len(complement)

	room := min(targetCount, totalCount)
	seen := make(map[int64]struct{}, room)
	pool := make([]models.Post, 0, room)

	for i, rule := range rules {
		if len(pool) >= targetCount {
			break
		}
		quota := PagedQuota(rule.Percentage, targetCount)
		taken := 0
		for _, p := range candidates[i] {
			if taken >= quota || len(pool) >= targetCount {
				break
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			pool = append(pool, p)
			taken++
		}
	}
	fromRules := len(pool)

	if len(pool) < targetCount && len(complement) > 0 {
		filler := make([]models.Post, 0, len(complement))
		for _, p := range complement {
			if _, dup := seen[p.ID]; !dup {
				filler = append(filler, p)
			}
		}
		c.shuffler().Shuffle(len(filler), func(i, j int) {
			filler[i], filler[j] = filler[j], filler[i]
		})
		for _, p := range filler {
			if len(pool) >= targetCount {
				break
			}
			seen[p.ID] = struct{}{}
			pool = append(pool, p)
		}
	}

	result := models.FeedPage{
		Items:      Paginate(pool, page, size),
		Page:       page,
		Size:       size,
		TotalCount: totalCount,
	}

	c.observe(Observation{
		Mode:      ModePaged,
		Rules:     len(rules),
		Pool:      len(pool),
		FromRules: fromRules,
		Fallback:  len(pool) - fromRules,
		Duration:  time.Since(start),
	})
	return result, nil
}

func (c *Composer) observe(o Observation) {
	c.logger.Debug().
		Str("mode", o.Mode).
		Int("rules", o.Rules).
		Int("pool", o.Pool).
		Int("from_rules", o.FromRules).
		Int("fallback", o.Fallback).
		Dur("took", o.Duration).
		Msg("feed composed")

	if c.observer != nil {
		c.observer.ObserveComposition(o)
	}
}
