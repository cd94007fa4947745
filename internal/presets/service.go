// Package presets manages users' feed presets and their rules and generates
// feeds from them.
package presets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

var (
	// ErrNotFound is store.ErrNotFound so callers can match either.
	ErrNotFound      = store.ErrNotFound
	ErrForbidden     = errors.New("not authorized for this preset")
	ErrPercentBudget = errors.New("total rule percentage exceeds 100")
	ErrInvalid       = errors.New("invalid request")
)

// Service enforces ownership and the per-preset percentage budget on top of
// a store.Repository.
type Service struct {
	repo     store.Repository
	composer *compose.Composer
	logger   zerolog.Logger
}

// New creates a Service. A nil composer uses compose.New().
func New(repo store.Repository, composer *compose.Composer, logger zerolog.Logger) *Service {
	if composer == nil {
		composer = compose.New()
	}
	return &Service{
		repo:     repo,
		composer: composer,
		logger:   logger.With().Str("component", "presets").Logger(),
	}
}

// owned loads a preset and checks it belongs to userID.
func (s *Service) owned(ctx context.Context, userID, presetID int64) (models.FeedPreset, error) {
	p, err := s.repo.GetPreset(ctx, presetID)
	if err != nil {
		return models.FeedPreset{}, fmt.Errorf("preset %d: %w", presetID, err)
	}
	if p.UserID != userID {
		return models.FeedPreset{}, fmt.Errorf("preset %d: %w", presetID, ErrForbidden)
	}
	return p, nil
}

// ---------- Presets ----------

func (s *Service) CreatePreset(ctx context.Context, userID int64, req models.CreatePresetRequest) (models.FeedPreset, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.FeedPreset{}, fmt.Errorf("name is required: %w", ErrInvalid)
	}

	p, err := s.repo.CreatePreset(ctx, models.FeedPreset{UserID: userID, Name: name})
	if err != nil {
		return models.FeedPreset{}, err
	}
	if req.IsDefault {
		if err := s.repo.SetDefaultPreset(ctx, userID, p.ID); err != nil {
			return models.FeedPreset{}, err
		}
		p.IsDefault = true
	}

	s.logger.Info().Int64("user_id", userID).Int64("preset_id", p.ID).Msg("preset created")
	return p, nil
}

func (s *Service) ListPresets(ctx context.Context, userID int64) ([]models.FeedPreset, error) {
	return s.repo.ListPresets(ctx, userID)
}

func (s *Service) GetPreset(ctx context.Context, userID, presetID int64) (models.FeedPreset, error) {
	return s.owned(ctx, userID, presetID)
}

// UpdatePreset renames a preset and sets or clears its default flag. Making
// it the default clears every other default of the user.
func (s *Service) UpdatePreset(ctx context.Context, userID, presetID int64, req models.CreatePresetRequest) (models.FeedPreset, error) {
	p, err := s.owned(ctx, userID, presetID)
	if err != nil {
		return models.FeedPreset{}, err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		p.Name = name
	}

	p.IsDefault = false
	if err := s.repo.UpdatePreset(ctx, p); err != nil {
		return models.FeedPreset{}, err
	}
	if req.IsDefault {
		if err := s.repo.SetDefaultPreset(ctx, userID, p.ID); err != nil {
			return models.FeedPreset{}, err
		}
		p.IsDefault = true
	}
	return p, nil
}

// DeletePreset removes the preset and its rules.
func (s *Service) DeletePreset(ctx context.Context, userID, presetID int64) error {
	if _, err := s.owned(ctx, userID, presetID); err != nil {
		return err
	}
	if err := s.repo.DeletePreset(ctx, presetID); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", userID).Int64("preset_id", presetID).Msg("preset deleted")
	return nil
}

func (s *Service) SetDefaultPreset(ctx context.Context, userID, presetID int64) error {
	if _, err := s.owned(ctx, userID, presetID); err != nil {
		return err
	}
	return s.repo.SetDefaultPreset(ctx, userID, presetID)
}

func (s *Service) DefaultPreset(ctx context.Context, userID int64) (models.FeedPreset, error) {
	p, err := s.repo.DefaultPreset(ctx, userID)
	if err != nil {
		return models.FeedPreset{}, fmt.Errorf("default preset for user %d: %w", userID, err)
	}
	return p, nil
}

// ---------- Rules ----------

// normalizeRule clamps the percentage and canonicalises the source type.
// A nil percentage stays nil.
func normalizeRule(req models.RuleRequest) (models.PresetRule, error) {
	st := models.ParseSourceType(req.SourceType)
	if req.SpecificUserID != nil && st == models.SourceBot {
		return models.PresetRule{}, fmt.Errorf("specific_user_id cannot be combined with BOT source: %w", ErrInvalid)
	}

	r := models.PresetRule{
		PresetID:       req.PresetID,
		TopicID:        req.TopicID,
		SourceType:     string(st),
		SpecificUserID: req.SpecificUserID,
	}
	if req.Percentage != nil {
		pct := compose.ClampPercent(req.Percentage)
		r.Percentage = &pct
	}
	return r, nil
}

// checkBudget fails when the preset's rules, minus excludeRuleID and plus
// pct, would add up to more than 100.
func (s *Service) checkBudget(ctx context.Context, presetID, excludeRuleID int64, pct *int) error {
	rules, err := s.repo.ListRules(ctx, presetID)
	if err != nil {
		return err
	}
	total := compose.ClampPercent(pct)
	for _, r := range rules {
		if r.ID != excludeRuleID {
			total += compose.ClampPercent(r.Percentage)
		}
	}
	if total > compose.MaxPercent {
		return fmt.Errorf("preset %d would total %d%%: %w", presetID, total, ErrPercentBudget)
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, userID int64, req models.RuleRequest) (models.PresetRule, error) {
	if req.PresetID == 0 {
		return models.PresetRule{}, fmt.Errorf("preset_id is required: %w", ErrInvalid)
	}
	if _, err := s.owned(ctx, userID, req.PresetID); err != nil {
		return models.PresetRule{}, err
	}

	rule, err := normalizeRule(req)
	if err != nil {
		return models.PresetRule{}, err
	}
	if err := s.checkBudget(ctx, rule.PresetID, 0, rule.Percentage); err != nil {
		return models.PresetRule{}, err
	}
	return s.repo.CreateRule(ctx, rule)
}

func (s *Service) ListRules(ctx context.Context, userID, presetID int64) ([]models.PresetRule, error) {
	if _, err := s.owned(ctx, userID, presetID); err != nil {
		return nil, err
	}
	return s.repo.ListRules(ctx, presetID)
}

// ownedRule loads a rule and checks its preset belongs to userID.
func (s *Service) ownedRule(ctx context.Context, userID, ruleID int64) (models.PresetRule, error) {
	r, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return models.PresetRule{}, fmt.Errorf("rule %d: %w", ruleID, err)
	}
	if _, err := s.owned(ctx, userID, r.PresetID); err != nil {
		return models.PresetRule{}, err
	}
	return r, nil
}

// UpdateRule replaces a rule's filters and percentage. The rule stays in its
// preset regardless of req.PresetID.
func (s *Service) UpdateRule(ctx context.Context, userID, ruleID int64, req models.RuleRequest) (models.PresetRule, error) {
	existing, err := s.ownedRule(ctx, userID, ruleID)
	if err != nil {
		return models.PresetRule{}, err
	}

	req.PresetID = existing.PresetID
	rule, err := normalizeRule(req)
	if err != nil {
		return models.PresetRule{}, err
	}
	rule.ID = existing.ID

	if err := s.checkBudget(ctx, rule.PresetID, rule.ID, rule.Percentage); err != nil {
		return models.PresetRule{}, err
	}
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return models.PresetRule{}, err
	}
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, userID, ruleID int64) error {
	if _, err := s.ownedRule(ctx, userID, ruleID); err != nil {
		return err
	}
	return s.repo.DeleteRule(ctx, ruleID)
}

// ---------- Feeds ----------

// GenerateFeed composes the full, unpaginated feed for a preset.
func (s *Service) GenerateFeed(ctx context.Context, userID, presetID int64) ([]models.Post, error) {
	if _, err := s.owned(ctx, userID, presetID); err != nil {
		return nil, err
	}
	rules, err := s.repo.ListRules(ctx, presetID)
	if err != nil {
		return nil, err
	}
	posts, err := s.composer.ComposeFeed(ctx, rules, s.repo)
	if err != nil {
		return nil, fmt.Errorf("composing feed for preset %d: %w", presetID, err)
	}
	return posts, nil
}

// GenerateFeedPage composes one page of a preset's feed.
func (s *Service) GenerateFeedPage(ctx context.Context, userID, presetID int64, page, size int) (models.FeedPage, error) {
	if _, err := s.owned(ctx, userID, presetID); err != nil {
		return models.FeedPage{}, err
	}
	rules, err := s.repo.ListRules(ctx, presetID)
	if err != nil {
		return models.FeedPage{}, err
	}
	fp, err := s.composer.ComposeFeedPage(ctx, rules, s.repo, page, size)
	if err != nil {
		return models.FeedPage{}, fmt.Errorf("composing feed page for preset %d: %w", presetID, err)
	}
	return fp, nil
}
