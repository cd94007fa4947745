package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

func TestParseSourceType(t *testing.T) {
	cases := map[string]models.SourceType{
		"USER":   models.SourceUser,
		" bot ":  models.SourceBot,
		"user":   models.SourceUser,
		"ANY":    models.SourceAny,
		"":       models.SourceAny,
		"robots": models.SourceAny,
	}
	for in, want := range cases {
		assert.Equal(t, want, models.ParseSourceType(in), "input %q", in)
	}
}

func TestFeedPageTotals(t *testing.T) {
	p := models.FeedPage{Page: 0, Size: 4, TotalCount: 10}
	assert.Equal(t, 3, p.TotalPages())
	assert.False(t, p.Last())

	p.Page = 2
	assert.True(t, p.Last())

	empty := models.FeedPage{Size: 10}
	assert.Equal(t, 0, empty.TotalPages())
	assert.True(t, empty.Last())

	assert.Equal(t, 0, models.FeedPage{}.TotalPages())
}

func TestFeedPageJSON(t *testing.T) {
	b, err := json.Marshal(models.FeedPage{Page: 1, Size: 5, TotalCount: 6})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[],"page":1,"size":5,"totalPages":2,"totalElements":6,"last":true}`, string(b))
}
