package search

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

// ClassifierTable is the keyword and domain data behind the media type
// heuristics. It can be replaced from a YAML file without touching code.
type ClassifierTable struct {
	// Rules are checked in order; the first rule with a matching keyword wins.
	Rules []TypeRule `yaml:"rules"`
	// TypeTerms maps a media type to the hint appended to queries, per language.
	TypeTerms map[string]map[string]string `yaml:"typeTerms"`
	// TrustedDomains maps a media type to authoritative domains, per language,
	// most useful first. "All" covers unconstrained searches.
	TrustedDomains map[string]map[string][]string `yaml:"trustedDomains"`
	// MediaKeywords gate unconstrained web results, per language.
	MediaKeywords map[string][]string `yaml:"mediaKeywords"`
}

type TypeRule struct {
	Type     string   `yaml:"type"`
	Language string   `yaml:"lang"`
	Keywords []string `yaml:"keywords"`
}

// DefaultClassifierTable returns the built-in table.
func DefaultClassifierTable() ClassifierTable {
	return ClassifierTable{
		Rules: []TypeRule{
			{Type: "Short Drama", Language: "zh", Keywords: []string{"短剧", "微短剧", "竖屏剧"}},
			{Type: "Short Drama", Language: "en", Keywords: []string{"short drama", "mini drama", "vertical drama"}},
			{Type: "Comic", Language: "zh", Keywords: []string{"漫画", "条漫", "连载漫画"}},
			{Type: "Comic", Language: "en", Keywords: []string{"manga", "manhwa", "manhua", "comic", "comics", "graphic novel"}},
			{Type: "Music", Language: "zh", Keywords: []string{"专辑", "单曲", "歌曲", "原声带"}},
			{Type: "Music", Language: "en", Keywords: []string{"album", "single", "song", "soundtrack", "discography"}},
			{Type: "Book", Language: "zh", Keywords: []string{"小说", "书籍", "图书", "原著"}},
			{Type: "Book", Language: "en", Keywords: []string{"novel", "book", "ebook", "paperback", "hardcover"}},
			{Type: "TV Series", Language: "zh", Keywords: []string{"电视剧", "剧集", "美剧", "日剧", "韩剧", "番剧", "动画", "第一季", "第二季"}},
			{Type: "TV Series", Language: "en", Keywords: []string{"tv series", "tv show", "season", "episode", "miniseries", "anime"}},
			{Type: "Movie", Language: "zh", Keywords: []string{"电影", "影片", "院线"}},
			{Type: "Movie", Language: "en", Keywords: []string{"movie", "film", "feature film"}},
		},
		TypeTerms: map[string]map[string]string{
			"Movie":       {"zh": "电影", "en": "movie"},
			"TV Series":   {"zh": "电视剧", "en": "tv series"},
			"Book":        {"zh": "小说", "en": "book"},
			"Comic":       {"zh": "漫画", "en": "manga"},
			"Music":       {"zh": "专辑", "en": "album"},
			"Short Drama": {"zh": "短剧", "en": "short drama"},
		},
		TrustedDomains: map[string]map[string][]string{
			"All": {
				"zh": {"douban.com", "zh.wikipedia.org", "bgm.tv"},
				"en": {"imdb.com", "en.wikipedia.org", "goodreads.com"},
			},
			"Movie": {
				"zh": {"movie.douban.com", "zh.wikipedia.org", "imdb.com"},
				"en": {"imdb.com", "themoviedb.org", "en.wikipedia.org", "rottentomatoes.com"},
			},
			"TV Series": {
				"zh": {"movie.douban.com", "bgm.tv", "zh.wikipedia.org"},
				"en": {"imdb.com", "themoviedb.org", "en.wikipedia.org", "myanimelist.net"},
			},
			"Book": {
				"zh": {"book.douban.com", "zh.wikipedia.org"},
				"en": {"goodreads.com", "openlibrary.org", "en.wikipedia.org"},
			},
			"Comic": {
				"zh": {"bgm.tv", "book.douban.com", "zh.wikipedia.org"},
				"en": {"myanimelist.net", "mangaupdates.com", "anilist.co"},
			},
			"Music": {
				"zh": {"music.douban.com", "music.163.com", "zh.wikipedia.org"},
				"en": {"musicbrainz.org", "discogs.com", "allmusic.com"},
			},
			"Short Drama": {
				"zh": {"movie.douban.com", "baike.baidu.com"},
				"en": {"mydramalist.com", "imdb.com"},
			},
		},
		MediaKeywords: map[string][]string{
			"zh": {"电影", "电视剧", "剧集", "短剧", "小说", "漫画", "动画", "番剧", "专辑", "音乐", "歌曲",
				"导演", "主演", "演员", "作者", "上映", "首播", "出版", "豆瓣", "评分", "简介", "剧情"},
			"en": {"movie", "film", "series", "season", "episode", "show", "novel", "book", "author",
				"manga", "comic", "anime", "album", "song", "soundtrack", "director", "directed", "starring",
				"cast", "released", "premiere", "imdb", "wikipedia", "trailer", "plot", "drama"},
		},
	}
}

type compiledRule struct {
	mediaType domain.MediaType
	language  domain.Language
	keywords  []string
}

// Classifier answers the keyword questions the planner and scorer ask.
type Classifier struct {
	rules          []compiledRule
	typeTerms      map[domain.MediaType]map[domain.Language]string
	trustedDomains map[domain.MediaType]map[domain.Language][]string
	mediaKeywords  map[domain.Language][]string
}

func NewClassifier(table ClassifierTable) *Classifier {
	c := &Classifier{
		typeTerms:      make(map[domain.MediaType]map[domain.Language]string),
		trustedDomains: make(map[domain.MediaType]map[domain.Language][]string),
		mediaKeywords:  make(map[domain.Language][]string),
	}
	for _, rule := range table.Rules {
		mediaType := domain.ParseMediaType(rule.Type)
		if mediaType == domain.MediaTypeAll {
			continue
		}
		c.rules = append(c.rules, compiledRule{
			mediaType: mediaType,
			language:  domain.NormalizeLanguage(rule.Language),
			keywords:  lowerAll(rule.Keywords),
		})
	}
	for rawType, terms := range table.TypeTerms {
		mediaType := domain.ParseMediaType(rawType)
		byLang := make(map[domain.Language]string, len(terms))
		for lang, term := range terms {
			byLang[domain.NormalizeLanguage(lang)] = strings.TrimSpace(term)
		}
		c.typeTerms[mediaType] = byLang
	}
	for rawType, domains := range table.TrustedDomains {
		mediaType := domain.ParseMediaType(rawType)
		byLang := make(map[domain.Language][]string, len(domains))
		for lang, list := range domains {
			byLang[domain.NormalizeLanguage(lang)] = lowerAll(list)
		}
		c.trustedDomains[mediaType] = byLang
	}
	for lang, keywords := range table.MediaKeywords {
		c.mediaKeywords[domain.NormalizeLanguage(lang)] = lowerAll(keywords)
	}
	return c
}

func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultClassifierTable())
}

// LoadClassifierFile reads a YAML table. Sections present in the file replace
// the built-in ones; absent sections keep their defaults.
func LoadClassifierFile(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier table: %w", err)
	}
	var override ClassifierTable
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse classifier table %s: %w", path, err)
	}
	table := DefaultClassifierTable()
	if len(override.Rules) > 0 {
		table.Rules = override.Rules
	}
	if len(override.TypeTerms) > 0 {
		table.TypeTerms = override.TypeTerms
	}
	if len(override.TrustedDomains) > 0 {
		table.TrustedDomains = override.TrustedDomains
	}
	if len(override.MediaKeywords) > 0 {
		table.MediaKeywords = override.MediaKeywords
	}
	return NewClassifier(table), nil
}

// Infer guesses a media type from keywords in text. Rules for the text's own
// language are tried before the others. No match yields All.
func (c *Classifier) Infer(text string) domain.MediaType {
	lower := strings.ToLower(text)
	lang := domain.DetectLanguage(text)
	for _, pass := range []bool{true, false} {
		for _, rule := range c.rules {
			sameLang := rule.language == "" || rule.language == lang
			if sameLang != pass {
				continue
			}
			if containsAnyKeyword(lower, rule.keywords) {
				return rule.mediaType
			}
		}
	}
	return domain.MediaTypeAll
}

// TypeTerm is the hint word appended to a query for mediaType, or "".
func (c *Classifier) TypeTerm(mediaType domain.MediaType, lang domain.Language) string {
	terms := c.typeTerms[mediaType]
	if term := terms[lang]; term != "" {
		return term
	}
	return terms[domain.LanguageEN]
}

// TrustedDomains lists authoritative domains for mediaType, most useful first.
func (c *Classifier) TrustedDomains(mediaType domain.MediaType, lang domain.Language) []string {
	byLang, ok := c.trustedDomains[mediaType]
	if !ok {
		byLang = c.trustedDomains[domain.MediaTypeAll]
	}
	if list := byLang[lang]; len(list) > 0 {
		return list
	}
	return byLang[domain.LanguageEN]
}

// IsAuthoritative reports whether link's host belongs to a trusted domain of
// mediaType in any language.
func (c *Classifier) IsAuthoritative(link string, mediaType domain.MediaType) bool {
	host := common.HostOf(link)
	if host == "" {
		return false
	}
	byLang, ok := c.trustedDomains[mediaType]
	if !ok {
		byLang = c.trustedDomains[domain.MediaTypeAll]
	}
	for _, list := range byLang {
		for _, trusted := range list {
			if common.HostMatches(host, trusted) {
				return true
			}
		}
	}
	return false
}

// IsMediaCandidate reports whether text mentions anything media related.
// Chinese text is checked against both keyword sets since Chinese pages mix
// in English terms.
func (c *Classifier) IsMediaCandidate(text string, lang domain.Language) bool {
	lower := strings.ToLower(text)
	if lang == "" {
		lang = domain.DetectLanguage(text)
	}
	if containsAnyKeyword(lower, c.mediaKeywords[lang]) {
		return true
	}
	if lang == domain.LanguageZH {
		return containsAnyKeyword(lower, c.mediaKeywords[domain.LanguageEN])
	}
	return false
}

// containsAnyKeyword matches CJK keywords as substrings and Latin keywords on
// word boundaries, so "film" does not match "filmore".
func containsAnyKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	var padded string
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if hasHan(keyword) {
			if strings.Contains(lower, keyword) {
				return true
			}
			continue
		}
		if padded == "" {
			padded = " " + strings.Join(strings.FieldsFunc(lower, isWordSeparator), " ") + " "
		}
		if strings.Contains(padded, " "+keyword+" ") {
			return true
		}
	}
	return false
}

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func hasHan(value string) bool {
	for _, r := range value {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
