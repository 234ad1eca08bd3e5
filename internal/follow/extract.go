package follow

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// maxBodyBytes caps how much HTML a fetch will read.
const maxBodyBytes = 10 << 20

// pageLoader performs plain HTTP fetches and article extraction. It is
// shared by the direct fetcher and the archive fetchers, which load the
// snapshot URL the same way.
type pageLoader struct {
	client *http.Client
}

func newPageLoader() *pageLoader {
	return &pageLoader{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// load fetches a URL and extracts its readable article text.
func (l *pageLoader) load(ctx context.Context, source string, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", source)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "%s: fetch", source), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read body", source)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, resilience.NewBlockedError(source, targetURL, resp.StatusCode,
			eris.Errorf("%s: blocked (%s)", source, blockType))
	}

	if resilience.IsBlockedHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewBlockedError(source, targetURL, resp.StatusCode,
			eris.Errorf("%s: status %d", source, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		err := eris.Errorf("%s: status %d", source, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	if len(body) < 100 {
		return nil, eris.Errorf("%s: empty page", source)
	}

	page := extractArticle(body, targetURL)
	page.StatusCode = resp.StatusCode
	page.FinalURL = targetURL
	return page, nil
}

// extractArticle runs readability extraction over raw HTML, falling back to
// tag stripping when readability cannot find an article body.
func extractArticle(body []byte, pageURL string) *Page {
	parsed, _ := url.Parse(pageURL)

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return &Page{
			Title:    article.Title,
			Byline:   article.Byline,
			SiteName: article.SiteName,
			Text:     strings.TrimSpace(article.TextContent),
		}
	}

	return &Page{
		Title: extractTitle(body),
		Text:  stripHTML(string(body)),
	}
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes entities,
// and collapses whitespace.
func stripHTML(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
