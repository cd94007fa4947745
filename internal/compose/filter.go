// Package compose builds feeds out of a preset's weighted rules.
//
// Everything here is a pure computation over whatever the Corpus returns:
// no state survives a call and rules are never modified.
package compose

import (
	"context"
	"slices"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// Corpus is the read-only view of posts the engine composes from. Results
// may come back in any order.
type Corpus interface {
	FetchAll(ctx context.Context) ([]models.Post, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]models.Post, error)
	FetchPostIDsByTopic(ctx context.Context, topicID int64) ([]int64, error)
}

// FilterPostsForRule returns the posts matching rule, newest first.
// Errors from the corpus are returned as they are.
func FilterPostsForRule(ctx context.Context, rule models.PresetRule, corpus Corpus) ([]models.Post, error) {
	var (
		posts []models.Post
		err   error
	)

	if rule.TopicID != nil {
		ids, idErr := corpus.FetchPostIDsByTopic(ctx, *rule.TopicID)
		if idErr != nil {
			return nil, idErr
		}
		posts, err = corpus.FetchByIDs(ctx, ids)
	} else {
		posts, err = corpus.FetchAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if matches(rule, p) {
			out = append(out, p)
		}
	}

	SortNewestFirst(out)
	return out, nil
}

func matches(rule models.PresetRule, p models.Post) bool {
	switch models.ParseSourceType(rule.SourceType) {
	case models.SourceUser:
		if !p.IsUser() {
			return false
		}
	case models.SourceBot:
		if !p.IsBot() {
			return false
		}
	}

	if rule.SpecificUserID != nil {
		if !p.IsUser() || p.AuthorID == nil || *p.AuthorID != *rule.SpecificUserID {
			return false
		}
	}
	return true
}

// SortNewestFirst orders posts by CreatedAt descending. Posts without a
// timestamp go last; ties keep their input order.
func SortNewestFirst(posts []models.Post) {
	slices.SortStableFunc(posts, compareCreatedDesc)
}

func compareCreatedDesc(a, b models.Post) int {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return 0
	case a.CreatedAt == nil:
		return 1
	case b.CreatedAt == nil:
		return -1
	}
	return b.CreatedAt.Compare(*a.CreatedAt)
}
