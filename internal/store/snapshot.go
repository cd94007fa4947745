package store

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// Snapshot is the on-disk form of a corpus plus the rules to compose it
// with. IDs are kept as written.
type Snapshot struct {
	Topics []models.Topic      `yaml:"topics"`
	Posts  []SnapshotPost      `yaml:"posts"`
	Rules  []models.PresetRule `yaml:"rules"`
}

// SnapshotPost is a post together with the topics it is tagged with.
type SnapshotPost struct {
	models.Post `yaml:",inline"`
	Topics      []int64 `yaml:"topics,omitempty"`
}

// LoadSnapshot parses a YAML snapshot into a fresh Store and returns the
// rules in file order.
func LoadSnapshot(r io.Reader) (*Store, []models.PresetRule, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	s := New()
	var maxID int64

	for _, t := range snap.Topics {
		if t.ID == 0 {
			return nil, nil, fmt.Errorf("topic %q: id is required", t.Name)
		}
		s.topics[t.ID] = t
		maxID = max(maxID, t.ID)
	}

	for i, sp := range snap.Posts {
		p := sp.Post
		if p.ID == 0 {
			return nil, nil, fmt.Errorf("post %d: id is required", i)
		}
		if _, dup := s.posts[p.ID]; dup {
			return nil, nil, fmt.Errorf("post %d: duplicate id", p.ID)
		}
		p.Kind = normalizeKind(p)
		for _, tid := range sp.Topics {
			if _, ok := s.topics[tid]; !ok {
				return nil, nil, fmt.Errorf("post %d: unknown topic %d", p.ID, tid)
			}
		}
		s.insertPost(p, sp.Topics)
		maxID = max(maxID, p.ID)
	}

	for _, r := range snap.Rules {
		maxID = max(maxID, r.ID)
	}
	s.nextID = maxID

	return s, snap.Rules, nil
}

func normalizeKind(p models.Post) models.PostKind {
	switch models.PostKind(strings.ToUpper(string(p.Kind))) {
	case models.KindBot:
		return models.KindBot
	case models.KindUser:
		return models.KindUser
	}
	if p.BotID != nil {
		return models.KindBot
	}
	return models.KindUser
}
