package sqlstore

const postgresSchema = `
CREATE TABLE IF NOT EXISTS topics (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS bots (
    id           BIGSERIAL PRIMARY KEY,
    owner_id     BIGINT NOT NULL,
    name         TEXT NOT NULL,
    feed_url     TEXT NOT NULL,
    topic_id     BIGINT REFERENCES topics(id) ON DELETE SET NULL,
    last_fetched TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS posts (
    id         BIGSERIAL PRIMARY KEY,
    content    TEXT NOT NULL DEFAULT '',
    image_url  TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ,
    kind       TEXT NOT NULL,
    author_id  BIGINT,
    bot_id     BIGINT REFERENCES bots(id) ON DELETE CASCADE,
    link       TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_bot_link ON posts(bot_id, link);
CREATE TABLE IF NOT EXISTS post_topics (
    post_id  BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    topic_id BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    PRIMARY KEY (post_id, topic_id)
);
CREATE INDEX IF NOT EXISTS idx_post_topics_topic ON post_topics(topic_id);
CREATE TABLE IF NOT EXISTS feed_presets (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    name       TEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_feed_presets_user ON feed_presets(user_id);
CREATE TABLE IF NOT EXISTS preset_rules (
    id               BIGSERIAL PRIMARY KEY,
    preset_id        BIGINT NOT NULL REFERENCES feed_presets(id) ON DELETE CASCADE,
    topic_id         BIGINT,
    source_type      TEXT NOT NULL DEFAULT 'ANY',
    specific_user_id BIGINT,
    percentage       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_preset_rules_preset ON preset_rules(preset_id);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS topics (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS bots (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id     INTEGER NOT NULL,
    name         TEXT NOT NULL,
    feed_url     TEXT NOT NULL,
    topic_id     INTEGER REFERENCES topics(id) ON DELETE SET NULL,
    last_fetched DATETIME
);
CREATE TABLE IF NOT EXISTS posts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    content    TEXT NOT NULL DEFAULT '',
    image_url  TEXT NOT NULL DEFAULT '',
    created_at DATETIME,
    kind       TEXT NOT NULL,
    author_id  INTEGER,
    bot_id     INTEGER REFERENCES bots(id) ON DELETE CASCADE,
    link       TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_bot_link ON posts(bot_id, link);
CREATE TABLE IF NOT EXISTS post_topics (
    post_id  INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    PRIMARY KEY (post_id, topic_id)
);
CREATE INDEX IF NOT EXISTS idx_post_topics_topic ON post_topics(topic_id);
CREATE TABLE IF NOT EXISTS feed_presets (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL,
    name       TEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_feed_presets_user ON feed_presets(user_id);
CREATE TABLE IF NOT EXISTS preset_rules (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    preset_id        INTEGER NOT NULL REFERENCES feed_presets(id) ON DELETE CASCADE,
    topic_id         INTEGER,
    source_type      TEXT NOT NULL DEFAULT 'ANY',
    specific_user_id INTEGER,
    percentage       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_preset_rules_preset ON preset_rules(preset_id);
`
