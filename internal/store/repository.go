package store

import (
	"context"
	"errors"
	"time"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is everything the service layer needs from storage. The first
// three methods make every Repository usable as a compose.Corpus.
type Repository interface {
	FetchAll(ctx context.Context) ([]models.Post, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]models.Post, error)
	FetchPostIDsByTopic(ctx context.Context, topicID int64) ([]int64, error)

	CreatePost(ctx context.Context, p models.Post, topicIDs []int64) (models.Post, error)
	// SaveBotPosts stores posts for a bot, skipping any whose link the bot
	// already produced, and tags new ones with topicID when set. It returns
	// how many posts were new.
	SaveBotPosts(ctx context.Context, botID int64, posts []models.Post, topicID *int64) (int, error)

	CreateTopic(ctx context.Context, name string) (models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)

	CreateBot(ctx context.Context, b models.Bot) (models.Bot, error)
	ListBots(ctx context.Context) ([]models.Bot, error)
	UpdateBotFetched(ctx context.Context, botID int64, t time.Time) error

	CreatePreset(ctx context.Context, p models.FeedPreset) (models.FeedPreset, error)
	GetPreset(ctx context.Context, id int64) (models.FeedPreset, error)
	ListPresets(ctx context.Context, userID int64) ([]models.FeedPreset, error)
	UpdatePreset(ctx context.Context, p models.FeedPreset) error
	// DeletePreset removes the preset together with its rules.
	DeletePreset(ctx context.Context, id int64) error
	// SetDefaultPreset marks presetID as the user's only default.
	SetDefaultPreset(ctx context.Context, userID, presetID int64) error
	DefaultPreset(ctx context.Context, userID int64) (models.FeedPreset, error)

	CreateRule(ctx context.Context, r models.PresetRule) (models.PresetRule, error)
	GetRule(ctx context.Context, id int64) (models.PresetRule, error)
	ListRules(ctx context.Context, presetID int64) ([]models.PresetRule, error)
	UpdateRule(ctx context.Context, r models.PresetRule) error
	DeleteRule(ctx context.Context, id int64) error
}
