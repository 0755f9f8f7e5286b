package search

import (
	"sort"
	"strings"

	"mediatracker/searchservice/internal/domain"
)

// Merge families. Metadata sources use their own names.
const (
	FamilyPlugin = "plugin"
	FamilyAI     = "ai"
	FamilyWeb    = "web"
)

// MergePolicy orders result families from highest to lowest priority. The
// first family to contribute a record owns its id and position; later
// families only fill gaps or, with stronger trust, replace inferred values.
type MergePolicy []string

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{FamilyPlugin, "tmdb", "bangumi", FamilyAI, FamilyWeb}
}

// ParseMergePolicy reads a comma separated family list.
func ParseMergePolicy(raw string) MergePolicy {
	var policy MergePolicy
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		policy = append(policy, name)
	}
	return policy
}

// order lists the families present in groups, policy families first and the
// rest alphabetically after them.
func (p MergePolicy) order(groups map[string][]domain.MediaItem) []string {
	out := make([]string, 0, len(groups))
	listed := make(map[string]struct{}, len(p))
	for _, family := range p {
		listed[family] = struct{}{}
		if _, ok := groups[family]; ok {
			out = append(out, family)
		}
	}
	var rest []string
	for family := range groups {
		if _, ok := listed[family]; !ok {
			rest = append(rest, family)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (s *Service) mergeGroups(groups map[string][]domain.MediaItem) []domain.MediaItem {
	m := newMerger(s.newID)
	for _, family := range s.policy.order(groups) {
		for _, item := range groups[family] {
			m.add(item)
		}
	}
	return m.out
}

// merger collapses records that share a normalized title and year. A record
// without a year also joins the single record carrying its title.
type merger struct {
	out     []domain.MediaItem
	byKey   map[string]int
	byTitle map[string][]int
	newID   func() string
}

func newMerger(newID func() string) *merger {
	return &merger{
		byKey:   make(map[string]int),
		byTitle: make(map[string][]int),
		newID:   newID,
	}
}

func (m *merger) add(item domain.MediaItem) {
	title := CleanTitle(item.Title)
	if domain.IsMissing(title) {
		return
	}
	item.Title = title
	key := ItemKey(item)
	if i, ok := m.byKey[key]; ok {
		m.mergeInto(i, item)
		return
	}
	if i, ok := m.titleOnlyMatch(item); ok {
		m.mergeInto(i, item)
		return
	}

	item = item.Clone()
	if item.ID == "" {
		item.ID = m.newID()
	}
	m.out = append(m.out, item)
	idx := len(m.out) - 1
	m.byKey[key] = idx
	normalized := normalizeTitle(title)
	m.byTitle[normalized] = append(m.byTitle[normalized], idx)
}

func (m *merger) mergeInto(i int, item domain.MediaItem) {
	domain.Merge(&m.out[i], item)
	m.byKey[ItemKey(m.out[i])] = i
}

func (m *merger) titleOnlyMatch(item domain.MediaItem) (int, bool) {
	candidates := m.byTitle[normalizeTitle(item.Title)]
	if len(candidates) != 1 {
		return 0, false
	}
	i := candidates[0]
	if domain.YearOf(item.ReleaseDate) == "" || domain.YearOf(m.out[i].ReleaseDate) == "" {
		return i, true
	}
	return 0, false
}
