package presets_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/presets"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

func ptr[T any](v T) *T { return &v }

func setup(t *testing.T) (*presets.Service, *store.Store) {
	t.Helper()
	repo := store.New()
	return presets.New(repo, compose.New(compose.WithSeed(1)), zerolog.Nop()), repo
}

func newPreset(t *testing.T, svc *presets.Service, user int64, name string) models.FeedPreset {
	t.Helper()
	p, err := svc.CreatePreset(context.Background(), user, models.CreatePresetRequest{Name: name})
	require.NoError(t, err)
	return p
}

func TestCreatePresetRequiresName(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.CreatePreset(context.Background(), alice, models.CreatePresetRequest{Name: "  "})
	assert.ErrorIs(t, err, presets.ErrInvalid)
}

func TestCreateDefaultPresetClearsPrevious(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	first, err := svc.CreatePreset(ctx, alice, models.CreatePresetRequest{Name: "first", IsDefault: true})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.CreatePreset(ctx, alice, models.CreatePresetRequest{Name: "second", IsDefault: true})
	require.NoError(t, err)

	def, err := svc.DefaultPreset(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	list, err := svc.ListPresets(ctx, alice)
	require.NoError(t, err)
	defaults := 0
	for _, p := range list {
		if p.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestDefaultPresetMissing(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.DefaultPreset(context.Background(), alice)
	assert.ErrorIs(t, err, presets.ErrNotFound)
}

func TestUpdatePreset(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "tech")

	got, err := svc.UpdatePreset(ctx, alice, p.ID, models.CreatePresetRequest{Name: "science", IsDefault: true})
	require.NoError(t, err)
	assert.Equal(t, "science", got.Name)
	assert.True(t, got.IsDefault)

	got, err = svc.UpdatePreset(ctx, alice, p.ID, models.CreatePresetRequest{})
	require.NoError(t, err)
	assert.Equal(t, "science", got.Name, "empty name keeps the old one")
	assert.False(t, got.IsDefault)
}

func TestOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "mine")
	r, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, Percentage: ptr(10)})
	require.NoError(t, err)

	_, err = svc.GetPreset(ctx, bob, p.ID)
	assert.ErrorIs(t, err, presets.ErrForbidden)
	_, err = svc.UpdatePreset(ctx, bob, p.ID, models.CreatePresetRequest{Name: "x"})
	assert.ErrorIs(t, err, presets.ErrForbidden)
	assert.ErrorIs(t, svc.DeletePreset(ctx, bob, p.ID), presets.ErrForbidden)
	assert.ErrorIs(t, svc.SetDefaultPreset(ctx, bob, p.ID), presets.ErrForbidden)
	_, err = svc.CreateRule(ctx, bob, models.RuleRequest{PresetID: p.ID})
	assert.ErrorIs(t, err, presets.ErrForbidden)
	_, err = svc.ListRules(ctx, bob, p.ID)
	assert.ErrorIs(t, err, presets.ErrForbidden)
	_, err = svc.UpdateRule(ctx, bob, r.ID, models.RuleRequest{})
	assert.ErrorIs(t, err, presets.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteRule(ctx, bob, r.ID), presets.ErrForbidden)
	_, err = svc.GenerateFeed(ctx, bob, p.ID)
	assert.ErrorIs(t, err, presets.ErrForbidden)
	_, err = svc.GenerateFeedPage(ctx, bob, p.ID, 0, 10)
	assert.ErrorIs(t, err, presets.ErrForbidden)
}

func TestMissingPresetIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	assert.ErrorIs(t, svc.DeletePreset(ctx, alice, 77), presets.ErrNotFound)
	_, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: 77})
	assert.ErrorIs(t, err, presets.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteRule(ctx, alice, 77), presets.ErrNotFound)
}

func TestCreateRuleRequiresPresetID(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.CreateRule(context.Background(), alice, models.RuleRequest{})
	assert.ErrorIs(t, err, presets.ErrInvalid)
}

func TestCreateRuleNormalizes(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "p")

	r, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, SourceType: " user ", Percentage: ptr(150)})
	require.NoError(t, err)
	assert.Equal(t, "USER", r.SourceType)
	require.NotNil(t, r.Percentage)
	assert.Equal(t, 100, *r.Percentage)

	r, err = svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, SourceType: "robots", Percentage: ptr(-5)})
	require.NoError(t, err)
	assert.Equal(t, "ANY", r.SourceType)
	assert.Equal(t, 0, *r.Percentage)

	r, err = svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID})
	require.NoError(t, err)
	assert.Nil(t, r.Percentage, "nil percentage is kept")
}

func TestCreateRuleRejectsBotWithSpecificUser(t *testing.T) {
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "p")

	_, err := svc.CreateRule(context.Background(), alice, models.RuleRequest{
		PresetID: p.ID, SourceType: "bot", SpecificUserID: ptr(int64(3)),
	})
	assert.ErrorIs(t, err, presets.ErrInvalid)
}

func TestPercentBudget(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "p")

	r60, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, Percentage: ptr(60)})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, Percentage: ptr(30)})
	require.NoError(t, err)

	_, err = svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, Percentage: ptr(11)})
	assert.ErrorIs(t, err, presets.ErrPercentBudget)

	// Nil counts as zero.
	_, err = svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID})
	assert.NoError(t, err)

	// The rule being updated does not count against itself.
	_, err = svc.UpdateRule(ctx, alice, r60.ID, models.RuleRequest{Percentage: ptr(70)})
	assert.NoError(t, err)
	_, err = svc.UpdateRule(ctx, alice, r60.ID, models.RuleRequest{Percentage: ptr(71)})
	assert.ErrorIs(t, err, presets.ErrPercentBudget)

	rules, err := svc.ListRules(ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, *rules[0].Percentage)
}

func TestUpdateRuleKeepsPreset(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := newPreset(t, svc, alice, "p")
	other := newPreset(t, svc, alice, "other")
	r, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, SourceType: "user"})
	require.NoError(t, err)

	got, err := svc.UpdateRule(ctx, alice, r.ID, models.RuleRequest{PresetID: other.ID, SourceType: "bot"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PresetID)
	assert.Equal(t, "BOT", got.SourceType)
}

func TestDeletePresetRemovesRules(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t)
	p := newPreset(t, svc, alice, "p")
	r, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePreset(ctx, alice, p.ID))
	_, err = repo.GetRule(ctx, r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seedCorpus(t *testing.T, repo *store.Store) (golang models.Topic) {
	t.Helper()
	ctx := context.Background()
	golang, err := repo.CreateTopic(ctx, "golang")
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		var topics []int64
		if i%2 == 0 {
			topics = []int64{golang.ID}
		}
		_, err := repo.CreatePost(ctx, models.Post{
			Content:   "post",
			Kind:      models.KindUser,
			AuthorID:  ptr(int64(10 + i)),
			CreatedAt: &at,
		}, topics)
		require.NoError(t, err)
	}
	return golang
}

func TestGenerateFeed(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t)
	golang := seedCorpus(t, repo)
	p := newPreset(t, svc, alice, "go")
	_, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, TopicID: &golang.ID, SourceType: "user", Percentage: ptr(100)})
	require.NoError(t, err)

	feed, err := svc.GenerateFeed(ctx, alice, p.ID)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	for i := 1; i < len(feed); i++ {
		assert.True(t, feed[i-1].CreatedAt.After(*feed[i].CreatedAt), "feed is newest first")
	}
}

func TestGenerateFeedPage(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t)
	golang := seedCorpus(t, repo)
	p := newPreset(t, svc, alice, "go")
	_, err := svc.CreateRule(ctx, alice, models.RuleRequest{PresetID: p.ID, TopicID: &golang.ID, Percentage: ptr(50)})
	require.NoError(t, err)

	page, err := svc.GenerateFeedPage(ctx, alice, p.ID, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalCount)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, 2, page.TotalPages())

	seen := map[int64]bool{}
	for _, post := range page.Items {
		assert.False(t, seen[post.ID], "duplicate post %d", post.ID)
		seen[post.ID] = true
	}

	page, err = svc.GenerateFeedPage(ctx, alice, p.ID, 5, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 6, page.TotalCount)
	assert.True(t, page.Last())
}
