// Package sqlstore implements store.Repository on top of a SQL database.
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) are supported; queries
// are written once with '?' placeholders and rebound for the driver in use.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultQueryTimeout = 5 * time.Second
)

func init() {
	// sqlx does not know the modernc driver name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds connection settings.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store is a SQL-backed store.Repository.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ store.Repository = (*Store)(nil)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}

	return New(db, cfg.QueryTimeout), nil
}

// New wraps an existing connection. A zero timeout uses the default.
func New(db *sqlx.DB, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Store{db: db, timeout: queryTimeout}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.DriverName() == DriverSQLite {
		schema = sqliteSchema
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---------- Corpus ----------

const postColumns = `id, content, image_url, created_at, kind, author_id, bot_id, link`

func (s *Store) FetchAll(ctx context.Context) ([]models.Post, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	posts := []models.Post{}
	if err := s.db.SelectContext(ctx, &posts, s.q(`SELECT `+postColumns+` FROM posts ORDER BY id`)); err != nil {
		return nil, fmt.Errorf("fetching posts: %w", err)
	}
	return posts, nil
}

func (s *Store) FetchByIDs(ctx context.Context, ids []int64) ([]models.Post, error) {
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+postColumns+` FROM posts WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	posts := []models.Post{}
	if err := s.db.SelectContext(ctx, &posts, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("fetching posts by id: %w", err)
	}
	return posts, nil
}

func (s *Store) FetchPostIDsByTopic(ctx context.Context, topicID int64) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, s.q(`SELECT post_id FROM post_topics WHERE topic_id = ? ORDER BY post_id`), topicID)
	if err != nil {
		return nil, fmt.Errorf("fetching topic %d posts: %w", topicID, err)
	}
	return ids, nil
}

// ---------- Posts ----------

func (s *Store) CreatePost(ctx context.Context, p models.Post, topicIDs []int64) (models.Post, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	topicIDs = uniqueIDs(topicIDs)
	if p.CreatedAt == nil {
		now := time.Now().UTC()
		p.CreatedAt = &now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Post{}, err
	}
	defer tx.Rollback()

	if len(topicIDs) > 0 {
		query, args, err := sqlx.In(`SELECT COUNT(*) FROM topics WHERE id IN (?)`, topicIDs)
		if err != nil {
			return models.Post{}, err
		}
		var n int
		if err := tx.GetContext(ctx, &n, s.q(query), args...); err != nil {
			return models.Post{}, fmt.Errorf("checking topics: %w", err)
		}
		if n != len(topicIDs) {
			return models.Post{}, fmt.Errorf("topics %v: %w", topicIDs, store.ErrNotFound)
		}
	}

	err = tx.QueryRowxContext(ctx, s.q(`INSERT INTO posts (content, image_url, created_at, kind, author_id, bot_id, link)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		p.Content, p.ImageURL, p.CreatedAt, string(p.Kind), p.AuthorID, p.BotID, p.Link).Scan(&p.ID)
	if err != nil {
		return models.Post{}, fmt.Errorf("inserting post: %w", err)
	}

	for _, tid := range topicIDs {
		if err := s.tagPost(ctx, tx, p.ID, tid); err != nil {
			return models.Post{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Post{}, err
	}
	return p, nil
}

func (s *Store) tagPost(ctx context.Context, tx *sqlx.Tx, postID, topicID int64) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO post_topics (post_id, topic_id) VALUES (?, ?)`), postID, topicID)
	if err != nil {
		return fmt.Errorf("tagging post %d with topic %d: %w", postID, topicID, err)
	}
	return nil
}

func (s *Store) SaveBotPosts(ctx context.Context, botID int64, posts []models.Post, topicID *int64) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insert := s.q(`INSERT INTO posts (content, image_url, created_at, kind, bot_id, link)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, link) DO NOTHING
		RETURNING id`)

	saved := 0
	for _, p := range posts {
		var id int64
		err := tx.QueryRowxContext(ctx, insert,
			p.Content, p.ImageURL, p.CreatedAt, string(models.KindBot), botID, p.Link).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("inserting bot %d post: %w", botID, err)
		}
		if topicID != nil {
			if err := s.tagPost(ctx, tx, id, *topicID); err != nil {
				return 0, err
			}
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return saved, nil
}

// ---------- Topics ----------

// CreateTopic returns the existing row when the name is taken.
func (s *Store) CreateTopic(ctx context.Context, name string) (models.Topic, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var t models.Topic
	err := s.db.QueryRowxContext(ctx, s.q(`INSERT INTO topics (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id, name`), name).StructScan(&t)
	if err != nil {
		return models.Topic{}, fmt.Errorf("creating topic: %w", err)
	}
	return t, nil
}

func (s *Store) ListTopics(ctx context.Context) ([]models.Topic, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	topics := []models.Topic{}
	if err := s.db.SelectContext(ctx, &topics, `SELECT id, name FROM topics ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	return topics, nil
}

// ---------- Bots ----------

func (s *Store) CreateBot(ctx context.Context, b models.Bot) (models.Bot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.QueryRowxContext(ctx, s.q(`INSERT INTO bots (owner_id, name, feed_url, topic_id)
		VALUES (?, ?, ?, ?) RETURNING id`), b.OwnerID, b.Name, b.FeedURL, b.TopicID).Scan(&b.ID)
	if err != nil {
		return models.Bot{}, fmt.Errorf("creating bot: %w", err)
	}
	return b, nil
}

func (s *Store) ListBots(ctx context.Context) ([]models.Bot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	bots := []models.Bot{}
	err := s.db.SelectContext(ctx, &bots, `SELECT id, owner_id, name, feed_url, topic_id, last_fetched FROM bots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	return bots, nil
}

func (s *Store) UpdateBotFetched(ctx context.Context, botID int64, t time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bots SET last_fetched = ? WHERE id = ?`), t, botID)
	if err != nil {
		return fmt.Errorf("updating bot %d: %w", botID, err)
	}
	return expectAffected(res)
}

// ---------- Presets ----------

const presetColumns = `id, user_id, name, is_default`

func (s *Store) CreatePreset(ctx context.Context, p models.FeedPreset) (models.FeedPreset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.QueryRowxContext(ctx, s.q(`INSERT INTO feed_presets (user_id, name, is_default)
		VALUES (?, ?, ?) RETURNING id`), p.UserID, p.Name, p.IsDefault).Scan(&p.ID)
	if err != nil {
		return models.FeedPreset{}, fmt.Errorf("creating preset: %w", err)
	}
	return p, nil
}

func (s *Store) GetPreset(ctx context.Context, id int64) (models.FeedPreset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var p models.FeedPreset
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+presetColumns+` FROM feed_presets WHERE id = ?`), id)
	if err != nil {
		return models.FeedPreset{}, notFound(err)
	}
	return p, nil
}

func (s *Store) ListPresets(ctx context.Context, userID int64) ([]models.FeedPreset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	presets := []models.FeedPreset{}
	err := s.db.SelectContext(ctx, &presets, s.q(`SELECT `+presetColumns+` FROM feed_presets WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	return presets, nil
}

func (s *Store) UpdatePreset(ctx context.Context, p models.FeedPreset) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE feed_presets SET name = ?, is_default = ? WHERE id = ?`),
		p.Name, p.IsDefault, p.ID)
	if err != nil {
		return fmt.Errorf("updating preset %d: %w", p.ID, err)
	}
	return expectAffected(res)
}

// DeletePreset removes the rules explicitly since SQLite does not enforce
// foreign keys unless asked to.
func (s *Store) DeletePreset(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM preset_rules WHERE preset_id = ?`), id); err != nil {
		return fmt.Errorf("deleting rules of preset %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM feed_presets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting preset %d: %w", id, err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetDefaultPreset(ctx context.Context, userID, presetID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	err = tx.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM feed_presets WHERE id = ? AND user_id = ?`), presetID, userID)
	if err != nil {
		return fmt.Errorf("checking preset %d: %w", presetID, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, s.q(`UPDATE feed_presets SET is_default = (id = ?) WHERE user_id = ?`), presetID, userID)
	if err != nil {
		return fmt.Errorf("setting default preset: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DefaultPreset(ctx context.Context, userID int64) (models.FeedPreset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var p models.FeedPreset
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+presetColumns+` FROM feed_presets
		WHERE user_id = ? AND is_default = ? ORDER BY id LIMIT 1`), userID, true)
	if err != nil {
		return models.FeedPreset{}, notFound(err)
	}
	return p, nil
}

// ---------- Rules ----------

const ruleColumns = `id, preset_id, topic_id, source_type, specific_user_id, percentage`

func (s *Store) CreateRule(ctx context.Context, r models.PresetRule) (models.PresetRule, error) {
	if _, err := s.GetPreset(ctx, r.PresetID); err != nil {
		return models.PresetRule{}, fmt.Errorf("preset %d: %w", r.PresetID, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.QueryRowxContext(ctx, s.q(`INSERT INTO preset_rules (preset_id, topic_id, source_type, specific_user_id, percentage)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		r.PresetID, r.TopicID, r.SourceType, r.SpecificUserID, r.Percentage).Scan(&r.ID)
	if err != nil {
		return models.PresetRule{}, fmt.Errorf("creating rule: %w", err)
	}
	return r, nil
}

func (s *Store) GetRule(ctx context.Context, id int64) (models.PresetRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r models.PresetRule
	if err := s.db.GetContext(ctx, &r, s.q(`SELECT `+ruleColumns+` FROM preset_rules WHERE id = ?`), id); err != nil {
		return models.PresetRule{}, notFound(err)
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context, presetID int64) ([]models.PresetRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rules := []models.PresetRule{}
	err := s.db.SelectContext(ctx, &rules, s.q(`SELECT `+ruleColumns+` FROM preset_rules WHERE preset_id = ? ORDER BY id`), presetID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return rules, nil
}

func (s *Store) UpdateRule(ctx context.Context, r models.PresetRule) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE preset_rules
		SET topic_id = ?, source_type = ?, specific_user_id = ?, percentage = ?
		WHERE id = ?`),
		r.TopicID, r.SourceType, r.SpecificUserID, r.Percentage, r.ID)
	if err != nil {
		return fmt.Errorf("updating rule %d: %w", r.ID, err)
	}
	return expectAffected(res)
}

func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM preset_rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting rule %d: %w", id, err)
	}
	return expectAffected(res)
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
