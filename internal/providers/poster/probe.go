package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediatracker/searchservice/internal/providers/common"
)

const probeTimeout = 6 * time.Second

var ErrNotImage = errors.New("url does not serve an image")

// blockedImageHosts generate stock placeholders or refuse hotlinking.
var blockedImageHosts = []string{
	"placehold.co", "placeholder.com", "placehold.it", "dummyimage.com", "fakeimg.pl",
	"picsum.photos", "lorempixel.com", "placekitten.com",
	"alicdn.com", "tbcdn.cn", "360buyimg.com", "ebayimg.com", "pinimg.com",
	"encrypted-tbn0.gstatic.com", "encrypted-tbn1.gstatic.com", "encrypted-tbn2.gstatic.com", "encrypted-tbn3.gstatic.com",
}

// TrustedImageHosts are the poster domains image search results are limited to.
var TrustedImageHosts = []string{
	"image.tmdb.org", "m.media-amazon.com", "upload.wikimedia.org", "doubanio.com",
	"lain.bgm.tv", "covers.openlibrary.org", "coverartarchive.org", "mzstatic.com",
	"books.google.com", "anilist.co", "myanimelist.net",
}

func IsBlocked(rawURL string) bool {
	host := common.HostOf(rawURL)
	if host == "" {
		return true
	}
	for _, blocked := range blockedImageHosts {
		if common.HostMatches(host, blocked) {
			return true
		}
	}
	return false
}

func IsTrustedHost(rawURL string) bool {
	host := common.HostOf(rawURL)
	for _, trusted := range TrustedImageHosts {
		if common.HostMatches(host, trusted) {
			return true
		}
	}
	return false
}

// Probe confirms that rawURL is loadable and serves an image. It tries HEAD and
// falls back to a one-byte ranged GET for servers that reject HEAD.
func (f *Finder) Probe(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "data:image/") {
		return nil
	}
	if IsBlocked(rawURL) {
		return fmt.Errorf("%w: blocked host", ErrNotImage)
	}
	target, err := f.guard.ValidateString(ctx, rawURL)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := f.proxy
	if isDomesticHost(target.Hostname()) {
		client = f.direct
	}
	status, contentType, err := f.probeOnce(probeCtx, client, http.MethodHead, target.String())
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusForbidden || status == http.StatusNotImplemented) {
		status, contentType, err = f.probeOnce(probeCtx, client, http.MethodGet, target.String())
	}
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &common.StatusError{Provider: "poster_probe", StatusCode: status}
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: content-type %q", ErrNotImage, contentType)
	}
	return nil
}

func (f *Finder) probeOnce(ctx context.Context, client *http.Client, method, target string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", common.DefaultUserAgent)
	req.Header.Set("Accept", "image/*")
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	resp.Body.Close()
	return resp.StatusCode, resp.Header.Get("Content-Type"), nil
}
