package domain

import "strings"

const (
	fieldTitle       = "title"
	fieldType        = "type"
	fieldReleaseDate = "releaseDate"
	fieldCredit      = "directorOrAuthor"
	fieldDescription = "description"
	fieldRating      = "rating"
	fieldPoster      = "posterUrl"
	fieldCast        = "cast"
)

func (m *MediaItem) trustOf(field string) Trust {
	if trust, ok := m.fieldTrust[field]; ok {
		return trust
	}
	if m.Origin == 0 {
		return TrustInferred
	}
	return m.Origin
}

func (m *MediaItem) setTrust(field string, trust Trust) {
	if trust == m.trustOf(field) {
		return
	}
	if m.fieldTrust == nil {
		m.fieldTrust = make(map[string]Trust)
	}
	m.fieldTrust[field] = trust
}

func originOf(item MediaItem) Trust {
	if item.Origin == 0 {
		return TrustInferred
	}
	return item.Origin
}

// outranks reports whether a value from src may replace a present value held at dst trust.
// Only inferred (heuristic or AI) values are ever displaced by a stronger source.
func outranks(src, dst Trust) bool {
	return dst == TrustInferred && src > dst
}

// Merge folds src into dst. Fields are only added or upgraded, never cleared:
// a missing or low-quality value is replaced, a present value is kept unless
// it was inferred and src comes from a more trusted source.
func Merge(dst *MediaItem, src MediaItem) {
	if dst == nil {
		return
	}
	srcTrust := originOf(src)
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.Origin == 0 {
		dst.Origin = srcTrust
	}

	if IsMissing(dst.Title) && !IsMissing(src.Title) {
		dst.Title = src.Title
		dst.setTrust(fieldTitle, srcTrust)
	}

	mergeType(dst, src.Type, srcTrust)
	mergeDate(dst, src.ReleaseDate, srcTrust)

	if replaceText(dst.DirectorOrAuthor, src.DirectorOrAuthor, dst.trustOf(fieldCredit), srcTrust, presenceQuality) {
		dst.DirectorOrAuthor = strings.TrimSpace(src.DirectorOrAuthor)
		dst.setTrust(fieldCredit, srcTrust)
	}
	if replaceText(dst.Description, src.Description, dst.trustOf(fieldDescription), srcTrust, descriptionQuality) {
		dst.Description = strings.TrimSpace(src.Description)
		dst.setTrust(fieldDescription, srcTrust)
	}
	if replaceText(dst.Rating, src.Rating, dst.trustOf(fieldRating), srcTrust, ratingQuality) {
		dst.Rating = strings.TrimSpace(src.Rating)
		dst.setTrust(fieldRating, srcTrust)
	}
	if replaceText(dst.PosterURL, src.PosterURL, dst.trustOf(fieldPoster), srcTrust, posterQuality) {
		dst.PosterURL = strings.TrimSpace(src.PosterURL)
		dst.setTrust(fieldPoster, srcTrust)
	}

	srcCast := cleanCast(src.Cast)
	dstCast := cleanCast(dst.Cast)
	if !sameStrings(srcCast, dstCast) && (len(srcCast) > len(dstCast) || (len(dstCast) > 0 && len(srcCast) > 0 && outranks(srcTrust, dst.trustOf(fieldCast)))) {
		dst.Cast = srcCast
		dst.setTrust(fieldCast, srcTrust)
	}

	if strings.TrimSpace(dst.SourceURL) == "" {
		dst.SourceURL = src.SourceURL
	}
	if !dst.ExternalRef.Valid() && src.ExternalRef.Valid() {
		ref := *src.ExternalRef
		dst.ExternalRef = &ref
	}
	dst.Sources = unionStrings(dst.Sources, src.Sources)
}

func mergeType(dst *MediaItem, candidate MediaType, srcTrust Trust) {
	if candidate == "" || candidate == MediaTypeAll || candidate == dst.Type {
		return
	}
	current := dst.Type
	if current == "" || current == MediaTypeAll || (current == MediaTypeOther && candidate != MediaTypeOther) {
		dst.Type = candidate
		dst.setTrust(fieldType, srcTrust)
		return
	}
	if candidate != MediaTypeOther && outranks(srcTrust, dst.trustOf(fieldType)) {
		dst.Type = candidate
		dst.setTrust(fieldType, srcTrust)
	}
}

func mergeDate(dst *MediaItem, candidate string, srcTrust Trust) {
	better := PickBetterDate(dst.ReleaseDate, candidate)
	if better != dst.ReleaseDate {
		dst.ReleaseDate = better
		dst.setTrust(fieldReleaseDate, srcTrust)
		return
	}
	if candidate != dst.ReleaseDate &&
		DatePrecisionOf(candidate) == DatePrecisionOf(dst.ReleaseDate) &&
		DatePrecisionOf(candidate) > DatePrecisionNone &&
		outranks(srcTrust, dst.trustOf(fieldReleaseDate)) {
		dst.ReleaseDate = candidate
		dst.setTrust(fieldReleaseDate, srcTrust)
	}
}

func replaceText(current, candidate string, currentTrust, candidateTrust Trust, quality func(string) int) bool {
	candidateQuality := quality(candidate)
	if candidateQuality == 0 {
		return false
	}
	currentQuality := quality(current)
	if currentQuality == 0 {
		return true
	}
	if strings.TrimSpace(current) == strings.TrimSpace(candidate) {
		return false
	}
	if outranks(candidateTrust, currentTrust) {
		return true
	}
	return candidateQuality > currentQuality
}

func presenceQuality(value string) int {
	if IsMissing(value) {
		return 0
	}
	return 1
}

func descriptionQuality(value string) int {
	if IsMissing(value) {
		return 0
	}
	if len([]rune(strings.TrimSpace(value))) < minDescriptionLength {
		return 1
	}
	return 2
}

func ratingQuality(value string) int {
	if isMissingRating(value) {
		return 0
	}
	return 1
}

func posterQuality(value string) int {
	if IsPlaceholderPoster(value) {
		return 0
	}
	return 1
}

func cleanCast(cast []string) []string {
	if len(cast) == 0 {
		return nil
	}
	out := make([]string, 0, len(cast))
	seen := make(map[string]struct{}, len(cast))
	for _, name := range cast {
		trimmed := strings.TrimSpace(name)
		if IsMissing(trimmed) {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sameStrings(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func unionStrings(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, value := range base {
		seen[value] = struct{}{}
	}
	out := base
	for _, value := range extra {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
