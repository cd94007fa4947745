package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// Store provides thread-safe, in-memory storage for posts, topics, bots,
// presets and rules. All public methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	nextID int64

	posts      map[int64]models.Post
	postTopics map[int64]map[int64]struct{} // topic ID -> post IDs
	botLinks   map[string]int64             // bot ID + link -> post ID
	topics     map[int64]models.Topic
	bots       map[int64]models.Bot
	presets    map[int64]models.FeedPreset
	rules      map[int64]models.PresetRule
}

var _ Repository = (*Store)(nil)

// New creates an empty Store ready for use.
func New() *Store {
	return &Store{
		posts:      make(map[int64]models.Post),
		postTopics: make(map[int64]map[int64]struct{}),
		botLinks:   make(map[string]int64),
		topics:     make(map[int64]models.Topic),
		bots:       make(map[int64]models.Bot),
		presets:    make(map[int64]models.FeedPreset),
		rules:      make(map[int64]models.PresetRule),
	}
}

// newID must be called with mu held for writing.
func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// ---------- Corpus ----------

// FetchAll returns every post ordered by ID.
func (s *Store) FetchAll(_ context.Context) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, nil
}

// FetchByIDs returns the posts that exist among ids. Unknown IDs are
// skipped.
func (s *Store) FetchByIDs(_ context.Context, ids []int64) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// FetchPostIDsByTopic returns the IDs of posts tagged with topicID.
func (s *Store) FetchPostIDsByTopic(_ context.Context, topicID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.postTopics[topicID]))
	for id := range s.postTopics[topicID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ---------- Posts ----------

// CreatePost stores p under a new ID and tags it with topicIDs. A missing
// CreatedAt is set to now.
func (s *Store) CreatePost(_ context.Context, p models.Post, topicIDs []int64) (models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tid := range topicIDs {
		if _, ok := s.topics[tid]; !ok {
			return models.Post{}, fmt.Errorf("topic %d: %w", tid, ErrNotFound)
		}
	}

	p.ID = s.newID()
	if p.CreatedAt == nil {
		now := time.Now().UTC()
		p.CreatedAt = &now
	}
	s.insertPost(p, topicIDs)
	return p, nil
}

// insertPost must be called with mu held for writing.
func (s *Store) insertPost(p models.Post, topicIDs []int64) {
	s.posts[p.ID] = p
	for _, tid := range topicIDs {
		if s.postTopics[tid] == nil {
			s.postTopics[tid] = make(map[int64]struct{})
		}
		s.postTopics[tid][p.ID] = struct{}{}
	}
}

// SaveBotPosts persists a batch of bot posts, skipping duplicates by link.
func (s *Store) SaveBotPosts(_ context.Context, botID int64, posts []models.Post, topicID *int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var topics []int64
	if topicID != nil {
		topics = []int64{*topicID}
	}

	saved := 0
	for _, p := range posts {
		key := fmt.Sprintf("%d|%s", botID, p.Link)
		if p.Link != "" {
			if _, exists := s.botLinks[key]; exists {
				continue
			}
		}

		owner := botID
		p.ID = s.newID()
		p.Kind = models.KindBot
		p.BotID = &owner
		p.AuthorID = nil
		s.insertPost(p, topics)
		if p.Link != "" {
			s.botLinks[key] = p.ID
		}
		saved++
	}
	return saved, nil
}

// ---------- Topics ----------

// CreateTopic registers a topic. Names are unique.
func (s *Store) CreateTopic(_ context.Context, name string) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.topics {
		if t.Name == name {
			return t, nil
		}
	}
	t := models.Topic{ID: s.newID(), Name: name}
	s.topics[t.ID] = t
	return t, nil
}

// ListTopics returns every topic ordered by ID.
func (s *Store) ListTopics(_ context.Context) ([]models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]models.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

// ---------- Bots ----------

// CreateBot registers a bot feed.
func (s *Store) CreateBot(_ context.Context, b models.Bot) (models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = s.newID()
	s.bots[b.ID] = b
	return b, nil
}

// ListBots returns every registered bot.
func (s *Store) ListBots(_ context.Context) ([]models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bots := make([]models.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].ID < bots[j].ID })
	return bots, nil
}

// UpdateBotFetched records when a bot was last successfully fetched.
func (s *Store) UpdateBotFetched(_ context.Context, botID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[botID]
	if !ok {
		return ErrNotFound
	}
	b.LastFetched = &t
	s.bots[botID] = b
	return nil
}

// ---------- Presets ----------

func (s *Store) CreatePreset(_ context.Context, p models.FeedPreset) (models.FeedPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.newID()
	s.presets[p.ID] = p
	return p, nil
}

func (s *Store) GetPreset(_ context.Context, id int64) (models.FeedPreset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[id]
	if !ok {
		return models.FeedPreset{}, ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPresets(_ context.Context, userID int64) ([]models.FeedPreset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	presets := make([]models.FeedPreset, 0)
	for _, p := range s.presets {
		if p.UserID == userID {
			presets = append(presets, p)
		}
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
	return presets, nil
}

func (s *Store) UpdatePreset(_ context.Context, p models.FeedPreset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[p.ID]; !ok {
		return ErrNotFound
	}
	s.presets[p.ID] = p
	return nil
}

// DeletePreset deletes a preset and all of its rules.
func (s *Store) DeletePreset(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[id]; !ok {
		return ErrNotFound
	}
	delete(s.presets, id)

	for key, r := range s.rules {
		if r.PresetID == id {
			delete(s.rules, key)
		}
	}
	return nil
}

func (s *Store) SetDefaultPreset(_ context.Context, userID, presetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.presets[presetID]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}
	for id, p := range s.presets {
		if p.UserID == userID && p.IsDefault && id != presetID {
			p.IsDefault = false
			s.presets[id] = p
		}
	}
	target.IsDefault = true
	s.presets[presetID] = target
	return nil
}

func (s *Store) DefaultPreset(_ context.Context, userID int64) (models.FeedPreset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found models.FeedPreset
		ok    bool
	)
	for _, p := range s.presets {
		if p.UserID == userID && p.IsDefault && (!ok || p.ID < found.ID) {
			found, ok = p, true
		}
	}
	if !ok {
		return models.FeedPreset{}, ErrNotFound
	}
	return found, nil
}

// ---------- Rules ----------

func (s *Store) CreateRule(_ context.Context, r models.PresetRule) (models.PresetRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[r.PresetID]; !ok {
		return models.PresetRule{}, fmt.Errorf("preset %d: %w", r.PresetID, ErrNotFound)
	}
	r.ID = s.newID()
	s.rules[r.ID] = r
	return r, nil
}

func (s *Store) GetRule(_ context.Context, id int64) (models.PresetRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return models.PresetRule{}, ErrNotFound
	}
	return r, nil
}

// ListRules returns a preset's rules in creation order.
func (s *Store) ListRules(_ context.Context, presetID int64) ([]models.PresetRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]models.PresetRule, 0)
	for _, r := range s.rules {
		if r.PresetID == presetID {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (s *Store) UpdateRule(_ context.Context, r models.PresetRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[r.ID]; !ok {
		return ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}
