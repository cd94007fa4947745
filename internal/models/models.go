package models

import (
	"encoding/json"
	"strings"
	"time"
)

// PostKind discriminates user-authored posts from bot-generated ones.
type PostKind string

const (
	KindUser PostKind = "USER"
	KindBot  PostKind = "BOT"
)

// Post is a single feed entry. AuthorID is only set for USER posts and
// BotID/Link only for BOT posts.
type Post struct {
	ID        int64      `json:"id" db:"id" yaml:"id"`
	Content   string     `json:"content" db:"content" yaml:"content"`
	ImageURL  string     `json:"image_url,omitempty" db:"image_url" yaml:"image_url,omitempty"`
	CreatedAt *time.Time `json:"created_at" db:"created_at" yaml:"created_at,omitempty"`
	Kind      PostKind   `json:"kind" db:"kind" yaml:"kind"`
	AuthorID  *int64     `json:"author_id,omitempty" db:"author_id" yaml:"author_id,omitempty"`
	BotID     *int64     `json:"bot_id,omitempty" db:"bot_id" yaml:"bot_id,omitempty"`
	Link      string     `json:"link,omitempty" db:"link" yaml:"link,omitempty"`
}

// IsUser reports whether the post was written by a person.
func (p Post) IsUser() bool { return p.Kind == KindUser }

// IsBot reports whether the post was produced by a bot.
func (p Post) IsBot() bool { return p.Kind == KindBot }

// Topic is a label posts can be associated with.
type Topic struct {
	ID   int64  `json:"id" db:"id" yaml:"id"`
	Name string `json:"name" db:"name" yaml:"name"`
}

// PostTopic links a post to a topic.
type PostTopic struct {
	PostID  int64 `json:"post_id" db:"post_id"`
	TopicID int64 `json:"topic_id" db:"topic_id"`
}

// SourceType restricts a rule to user posts, bot posts, or either.
type SourceType string

const (
	SourceAny  SourceType = "ANY"
	SourceUser SourceType = "USER"
	SourceBot  SourceType = "BOT"
)

// ParseSourceType is case-insensitive. Anything it does not recognise is
// SourceAny.
func ParseSourceType(s string) SourceType {
	switch SourceType(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceUser:
		return SourceUser
	case SourceBot:
		return SourceBot
	default:
		return SourceAny
	}
}

// PresetRule is one weighted filter within a preset. A nil TopicID matches
// every topic and a nil Percentage means "no limit" when composing a full
// feed.
type PresetRule struct {
	ID             int64  `json:"id" db:"id" yaml:"id"`
	PresetID       int64  `json:"preset_id" db:"preset_id" yaml:"preset_id"`
	TopicID        *int64 `json:"topic_id" db:"topic_id" yaml:"topic_id,omitempty"`
	SourceType     string `json:"source_type" db:"source_type" yaml:"source_type"`
	SpecificUserID *int64 `json:"specific_user_id" db:"specific_user_id" yaml:"specific_user_id,omitempty"`
	Percentage     *int   `json:"percentage" db:"percentage" yaml:"percentage,omitempty"`
}

// FeedPreset is a named, user-owned bundle of rules.
type FeedPreset struct {
	ID        int64  `json:"id" db:"id"`
	UserID    int64  `json:"user_id" db:"user_id"`
	Name      string `json:"name" db:"name"`
	IsDefault bool   `json:"is_default" db:"is_default"`
}

// Bot is an RSS/Atom source whose items are ingested as BOT posts.
type Bot struct {
	ID          int64      `json:"id" db:"id"`
	OwnerID     int64      `json:"owner_id" db:"owner_id"`
	Name        string     `json:"name" db:"name"`
	FeedURL     string     `json:"feed_url" db:"feed_url"`
	TopicID     *int64     `json:"topic_id,omitempty" db:"topic_id"`
	LastFetched *time.Time `json:"last_fetched,omitempty" db:"last_fetched"`
}

// FeedPage is one page of a composed feed. TotalCount counts every post the
// composition could draw from, not just the ones matched by rules.
type FeedPage struct {
	Items      []Post `json:"content"`
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	TotalCount int    `json:"totalElements"`
}

// TotalPages is ceil(TotalCount / Size).
func (p FeedPage) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.TotalCount + p.Size - 1) / p.Size
}

// Last reports whether no page follows this one.
func (p FeedPage) Last() bool {
	return p.Page+1 >= p.TotalPages()
}

// MarshalJSON adds the derived totalPages and last fields and always emits
// content as an array.
func (p FeedPage) MarshalJSON() ([]byte, error) {
	items := p.Items
	if items == nil {
		items = []Post{}
	}
	return json.Marshal(struct {
		Content       []Post `json:"content"`
		Page          int    `json:"page"`
		Size          int    `json:"size"`
		TotalPages    int    `json:"totalPages"`
		TotalElements int    `json:"totalElements"`
		Last          bool   `json:"last"`
	}{items, p.Page, p.Size, p.TotalPages(), p.TotalCount, p.Last()})
}

// ---------- Requests ----------

// CreatePresetRequest is the payload for creating or updating a preset.
type CreatePresetRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// RuleRequest is the payload for creating or updating a rule.
type RuleRequest struct {
	PresetID       int64  `json:"preset_id"`
	TopicID        *int64 `json:"topic_id"`
	SourceType     string `json:"source_type"`
	SpecificUserID *int64 `json:"specific_user_id"`
	Percentage     *int   `json:"percentage"`
}

// CreatePostRequest is the payload for publishing a user post.
type CreatePostRequest struct {
	Content  string  `json:"content"`
	ImageURL string  `json:"image_url"`
	TopicIDs []int64 `json:"topic_ids"`
}

// AddBotRequest is the payload for registering a bot feed.
type AddBotRequest struct {
	Name    string `json:"name"`
	FeedURL string `json:"feed_url"`
	TopicID *int64 `json:"topic_id"`
}

// AddTopicRequest is the payload for creating a topic.
type AddTopicRequest struct {
	Name string `json:"name"`
}

// FetchResult carries the outcome of a single bot fetch through a channel.
type FetchResult struct {
	BotID int64
	Posts []Post
	Err   error
}
