package poster

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

// OGImage returns the representative image a page declares in its meta tags.
func (f *Finder) OGImage(ctx context.Context, pageURL string) (string, error) {
	target, err := f.guard.ValidateString(ctx, pageURL)
	if err != nil {
		return "", err
	}
	client := f.proxy
	if isDomesticHost(target.Hostname()) {
		client = f.direct
	}
	return f.metaImage(ctx, client, target.String())
}

func (f *Finder) metaImage(ctx context.Context, client *http.Client, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	doc, err := common.FetchHTML(client, SourceOGImage, req)
	if err != nil {
		return "", err
	}
	return common.MetaImage(doc, pageURL), nil
}

type wikiResponse struct {
	Query struct {
		Pages map[string]struct {
			Title    string `json:"title"`
			Original struct {
				Source string `json:"source"`
			} `json:"original"`
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		} `json:"pages"`
	} `json:"query"`
}

// Wikipedia asks the pageimages API of the title's language edition first and
// the other edition second. Each edition is tried direct, then via the proxy.
func (f *Finder) Wikipedia(ctx context.Context, title string, lang domain.Language) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	if lang == "" {
		lang = domain.DetectLanguage(title)
	}
	editions := []domain.Language{lang, domain.LanguageEN}
	if lang == domain.LanguageEN {
		editions = []domain.Language{domain.LanguageEN, domain.LanguageZH}
	}

	var lastErr error
	for _, edition := range editions {
		params := url.Values{
			"action":      {"query"},
			"prop":        {"pageimages"},
			"piprop":      {"thumbnail|original"},
			"pithumbsize": {"1024"},
			"format":      {"json"},
			"redirects":   {"1"},
			"titles":      {title},
		}
		endpoint := strings.ReplaceAll(f.endpoints.Wikipedia, "{lang}", string(edition)) + "?" + params.Encode()

		attempts := []struct {
			client  *http.Client
			timeout time.Duration
		}{{f.direct, 8 * time.Second}, {f.proxy, 12 * time.Second}}
		for _, attempt := range attempts {
			image, err := f.wikiAttempt(ctx, attempt.client, attempt.timeout, endpoint)
			if err == nil {
				if image != "" {
					return image, nil
				}
				break
			}
			lastErr = err
		}
	}
	return "", lastErr
}

func (f *Finder) wikiAttempt(ctx context.Context, client *http.Client, timeout time.Duration, endpoint string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var response wikiResponse
	if err := common.GetJSON(attemptCtx, client, SourceWikipedia, endpoint, nil, &response); err != nil {
		return "", err
	}
	for id, page := range response.Query.Pages {
		if id == "-1" {
			continue
		}
		if page.Original.Source != "" {
			return page.Original.Source, nil
		}
		if page.Thumbnail.Source != "" {
			return page.Thumbnail.Source, nil
		}
	}
	return "", nil
}

var doubanSubjectPattern = regexp.MustCompile(`(movie|book)\.douban\.com/subject/(\d+)`)

// Douban finds the first subject linked from the search pages and returns its
// og:image. Douban is reached without the proxy.
func (f *Finder) Douban(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	searches := []string{
		f.endpoints.DoubanMovie + "/subject_search?" + url.Values{"search_text": {title}, "cat": {"1002"}}.Encode(),
		f.endpoints.DoubanBook + "/subject_search?" + url.Values{"search_text": {title}, "cat": {"1001"}}.Encode(),
		f.endpoints.DoubanWeb + "/search?" + url.Values{"q": {title}}.Encode(),
	}

	var lastErr error
	for _, searchURL := range searches {
		subjectURL, err := f.doubanSubject(ctx, searchURL)
		if err != nil {
			lastErr = err
			continue
		}
		if subjectURL == "" {
			continue
		}
		image, err := f.metaImage(ctx, f.direct, subjectURL)
		if err != nil {
			lastErr = err
			continue
		}
		if image != "" {
			return image, nil
		}
	}
	return "", lastErr
}

func (f *Finder) doubanSubject(ctx context.Context, searchURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	body, err := common.Fetch(f.direct, SourceDouban, req, 2*1024*1024)
	if err != nil {
		return "", err
	}
	match := doubanSubjectPattern.FindSubmatch(body)
	if match == nil {
		return "", nil
	}
	base := f.endpoints.DoubanMovie
	if string(match[1]) == "book" {
		base = f.endpoints.DoubanBook
	}
	return base + "/subject/" + string(match[2]) + "/", nil
}

var domesticSuffixes = []string{"douban.com", "doubanio.com", "bilibili.com", "baidu.com", "yandex.ru", "yandex.com", "qq.com", "163.com"}

func isDomesticHost(host string) bool {
	for _, suffix := range domesticSuffixes {
		if common.HostMatches(host, suffix) {
			return true
		}
	}
	return false
}
