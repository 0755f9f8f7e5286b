package search

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

var (
	tokenPattern          = regexp.MustCompile(`[\p{L}\p{N}]+`)
	titleSeparators       = []string{" — ", " – ", " - ", " | ", " _ ", "_", " · ", " :: "}
	trailingParenthetical = regexp.MustCompile(`\s*[(（\[【]([^()（）\[\]【】]*)[)）\]】]\s*$`)
	bookQuotes            = strings.NewReplacer("《", "", "》", "", "「", "", "」", "", "“", "", "”", "")
)

// siteTokens mark a title segment that names the hosting site rather than the work.
var siteTokens = []string{
	"wikipedia", "维基百科", "維基百科", "百度百科", "baidu", "豆瓣", "douban", "imdb",
	"goodreads", "rotten tomatoes", "metacritic", "the movie database", "tmdb", "bangumi",
	"番组计划", "bgm.tv", "myanimelist", "anilist", "open library", "musicbrainz", "discogs",
	"allmusic", "amazon", "youtube", "bilibili", "哔哩哔哩", "知乎", "zhihu", "mydramalist",
	"apple music", "spotify", "netflix", "free encyclopedia", "自由的百科全书",
}

// descriptorTokens mark a trailing parenthetical that only disambiguates the work.
var descriptorTokens = []string{
	"film", "movie", "tv series", "series", "miniseries", "novel", "book", "album", "manga",
	"comic", "anime", "soundtrack", "video game", "电影", "电视剧", "小说", "漫画", "专辑", "动画", "短剧",
}

// CleanTitle strips markup, quoting, site-name suffixes and disambiguating
// parentheticals such as "(2021 film)".
func CleanTitle(raw string) string {
	title := common.CleanHTMLText(raw)
	if title == "" {
		return ""
	}
	for {
		stripped := stripSiteSuffix(title)
		stripped = stripDescriptor(stripped)
		if stripped == title || stripped == "" {
			break
		}
		title = stripped
	}
	title = strings.TrimSpace(bookQuotes.Replace(title))
	return strings.Trim(title, " -–—|:_·")
}

func stripSiteSuffix(title string) string {
	for _, sep := range titleSeparators {
		idx := strings.LastIndex(title, sep)
		if idx <= 0 {
			continue
		}
		tail := strings.ToLower(title[idx+len(sep):])
		if containsAny(tail, siteTokens) {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

func stripDescriptor(title string) string {
	match := trailingParenthetical.FindStringSubmatchIndex(title)
	if match == nil || match[0] == 0 {
		return title
	}
	inner := strings.ToLower(title[match[2]:match[3]])
	if common.ExtractYear(inner) > 0 || containsAny(inner, descriptorTokens) || containsAny(inner, siteTokens) {
		return strings.TrimSpace(title[:match[0]])
	}
	return title
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

// normalizeTitle folds width and compatibility forms, lowercases and joins the
// letter/digit runs with single spaces. It is the title half of MergeKey.
func normalizeTitle(raw string) string {
	value := width.Fold.String(norm.NFKC.String(raw))
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	tokens := tokenPattern.FindAllString(value, -1)
	return strings.Join(tokens, " ")
}

// MergeKey is the canonical dedupe key: normalized title plus release year.
func MergeKey(title, year string) string {
	normalized := normalizeTitle(title)
	if normalized == "" {
		return ""
	}
	return normalized + "|" + strings.TrimSpace(year)
}

// ItemKey is MergeKey for a canonical record.
func ItemKey(item domain.MediaItem) string {
	return MergeKey(CleanTitle(item.Title), domain.YearOf(item.ReleaseDate))
}

// isShortQuery flags queries that are too short or purely numeric to be
// specific. They are still searched.
func isShortQuery(query string) bool {
	trimmed := strings.TrimSpace(query)
	if len([]rune(trimmed)) < 3 {
		return true
	}
	for _, r := range trimmed {
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
