package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raffaelramalhorosa/futurefeed/internal/api"
	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
	"github.com/raffaelramalhorosa/futurefeed/internal/metrics"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/presets"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

func setup() (*api.Server, *store.Store, *metrics.Registry) {
	s := store.New()
	reg := metrics.New()
	svc := presets.New(s, compose.New(compose.WithSeed(7), compose.WithObserver(reg)), zerolog.Nop())
	return api.New(s, svc, reg, zerolog.Nop()), s, reg
}

func do(t *testing.T, srv http.Handler, method, path string, user int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != 0 {
		req.Header.Set(api.UserHeader, fmt.Sprint(user))
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodGet, "/api/health", 0, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(api.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _, _ := setup()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(api.RequestIDHeader))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodGet, "/api/nope", 0, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestPresetRoutesRequireUser(t *testing.T) {
	srv, _, _ := setup()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/presets"},
		{http.MethodPost, "/api/presets"},
		{http.MethodGet, "/api/presets/default"},
		{http.MethodGet, "/api/presets/feed/1"},
		{http.MethodGet, "/api/presets/feed/1/paginated"},
		{http.MethodPost, "/api/posts"},
		{http.MethodPost, "/api/bots"},
	} {
		rec := do(t, srv, tc.method, tc.path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestTopicsEndpoints(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodPost, "/api/topics", 0, models.AddTopicRequest{Name: "golang"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/topics", 0, models.AddTopicRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/topics", 0, nil)
	topics := decodeBody[[]models.Topic](t, rec)
	require.Len(t, topics, 1)
	assert.Equal(t, "golang", topics[0].Name)
}

func TestCreatePost(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodPost, "/api/posts", 5, models.CreatePostRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	post := decodeBody[models.Post](t, rec)
	assert.Equal(t, models.KindUser, post.Kind)
	require.NotNil(t, post.AuthorID)
	assert.Equal(t, int64(5), *post.AuthorID)

	rec = do(t, srv, http.MethodPost, "/api/posts", 5, models.CreatePostRequest{Content: "x", TopicIDs: []int64{99}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/posts", 5, models.CreatePostRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddBotValidation(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodPost, "/api/bots", 1, models.AddBotRequest{Name: "Go", FeedURL: "ftp://go.dev"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/bots", 1, models.AddBotRequest{Name: "Go", FeedURL: "https://go.dev/blog/feed.atom"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bot := decodeBody[models.Bot](t, rec)
	assert.Equal(t, int64(1), bot.OwnerID)

	rec = do(t, srv, http.MethodGet, "/api/bots", 0, nil)
	assert.Len(t, decodeBody[[]models.Bot](t, rec), 1)
}

func TestInvalidJSON(t *testing.T) {
	srv, _, _ := setup()

	req := httptest.NewRequest(http.MethodPost, "/api/presets", bytes.NewBufferString("{"))
	req.Header.Set(api.UserHeader, "1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresetLifecycle(t *testing.T) {
	srv, _, _ := setup()

	rec := do(t, srv, http.MethodPost, "/api/presets", 1, models.CreatePresetRequest{Name: "tech"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[models.FeedPreset](t, rec)

	rec = do(t, srv, http.MethodGet, "/api/presets/default", 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPut, fmt.Sprintf("/api/presets/%d/default", p.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/presets/default", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, decodeBody[models.FeedPreset](t, rec).ID)

	rec = do(t, srv, http.MethodPut, fmt.Sprintf("/api/presets/%d", p.ID), 1, models.CreatePresetRequest{Name: "science", IsDefault: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "science", decodeBody[models.FeedPreset](t, rec).Name)

	rec = do(t, srv, http.MethodGet, "/api/presets", 2, nil)
	assert.Empty(t, decodeBody[[]models.FeedPreset](t, rec), "presets are per user")

	rec = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/presets/%d", p.ID), 2, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/presets/%d", p.ID), 1, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/presets/%d", p.ID), 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleEndpoints(t *testing.T) {
	srv, _, _ := setup()
	rec := do(t, srv, http.MethodPost, "/api/presets", 1, models.CreatePresetRequest{Name: "p"})
	p := decodeBody[models.FeedPreset](t, rec)

	pct := 80
	rec = do(t, srv, http.MethodPost, "/api/presets/rules", 1, models.RuleRequest{PresetID: p.ID, SourceType: "user", Percentage: &pct})
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decodeBody[models.PresetRule](t, rec)
	assert.Equal(t, "USER", rule.SourceType)

	rec = do(t, srv, http.MethodPost, "/api/presets/rules", 1, models.RuleRequest{PresetID: p.ID, Percentage: &pct})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "budget exceeded")

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/rules/%d", p.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.PresetRule](t, rec), 1)

	pct = 40
	rec = do(t, srv, http.MethodPut, fmt.Sprintf("/api/presets/rules/%d", rule.ID), 1, models.RuleRequest{SourceType: "bot", Percentage: &pct})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, *decodeBody[models.PresetRule](t, rec).Percentage)

	rec = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/presets/rules/%d", rule.ID), 2, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/presets/rules/%d", rule.ID), 1, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type pageBody struct {
	Content       []models.Post `json:"content"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalPages    int           `json:"totalPages"`
	TotalElements int           `json:"totalElements"`
	Last          bool          `json:"last"`
}

func TestFeedEndpoints(t *testing.T) {
	srv, s, reg := setup()

	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	author := int64(9)
	var botPosts []models.Post
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		_, err := s.CreatePost(ctx, models.Post{Content: "p", Kind: models.KindUser, AuthorID: &author, CreatedAt: &at}, nil)
		require.NoError(t, err)
		botPosts = append(botPosts, models.Post{Content: "b", CreatedAt: &at, Link: fmt.Sprintf("https://x/%d", i)})
	}
	_, err := s.SaveBotPosts(ctx, 77, botPosts, nil)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPost, "/api/presets", 1, models.CreatePresetRequest{Name: "p"})
	p := decodeBody[models.FeedPreset](t, rec)
	pct := 40
	rec = do(t, srv, http.MethodPost, "/api/presets/rules", 1, models.RuleRequest{PresetID: p.ID, SourceType: "user", Percentage: &pct})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/feed/%d", p.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Post](t, rec), 2, "40% of 5 candidates")

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/feed/%d/paginated?page=0&size=4", p.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[pageBody](t, rec)
	require.Len(t, body.Content, 4)
	assert.Equal(t, models.KindUser, body.Content[0].Kind, "rule share comes first")
	assert.Equal(t, 10, body.TotalElements)
	assert.Equal(t, 3, body.TotalPages)
	assert.False(t, body.Last)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/feed/%d/paginated?page=9&size=2", p.ID), 1, nil)
	body = decodeBody[pageBody](t, rec)
	assert.NotNil(t, body.Content)
	assert.Empty(t, body.Content)
	assert.True(t, body.Last)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/feed/%d/paginated?size=abc", p.ID), 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/presets/feed/%d", p.ID), 2, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Compositions.WithLabelValues(compose.ModeFull)))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Compositions.WithLabelValues(compose.ModePaged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.HTTPRequests.WithLabelValues("GET", "/api/presets/feed/{presetId:[0-9]+}", "403")))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setup()
	do(t, srv, http.MethodGet, "/api/health", 0, nil)

	rec := do(t, srv, http.MethodGet, "/metrics", 0, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `futurefeed_http_requests_total{code="200",method="GET",route="/api/health"} 1`)
}
