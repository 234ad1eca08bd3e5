package follow

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip link targets that never carry a usable
// narrative: media galleries, tag indexes, account pages.
var defaultExcludePatterns = []string{
	"/video/*",
	"/videos/*",
	"/photos/*",
	"/gallery/*",
	"/tag/*",
	"/tags/*",
	"/search/*",
	"/login/*",
	"/subscribe/*",
	"/newsletters/*",
}

// URLFilter rejects URLs based on glob-style patterns. Patterns that
// start with "/" match the URL path; anything else matches the host
// (e.g. "*pinterest.*"). Path matching uses path.Match plus a segmented
// match so "/video/*" matches multi-level paths like "/video/deep/path".
type URLFilter struct {
	hostPatterns []string
	pathPatterns []string
}

// NewURLFilter creates a URLFilter from glob patterns (e.g. "/video/*",
// "*.facebook.com"). Falls back to default patterns if none are
// provided.
func NewURLFilter(patterns []string) *URLFilter {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	f := &URLFilter{}
	for _, p := range patterns {
		if strings.HasPrefix(p, "/") {
			f.pathPatterns = append(f.pathPatterns, p)
		} else {
			f.hostPatterns = append(f.hostPatterns, p)
		}
	}
	return f
}

// Patterns returns the configured patterns, host patterns first.
func (m *URLFilter) Patterns() []string {
	out := make([]string, 0, len(m.hostPatterns)+len(m.pathPatterns))
	out = append(out, m.hostPatterns...)
	return append(out, m.pathPatterns...)
}

// IsExcluded checks whether a URL's host or path matches any exclude
// pattern.
func (m *URLFilter) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return m.isHostExcluded(u.Hostname()) || m.isPathExcluded(u.Path)
}

func (m *URLFilter) isHostExcluded(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range m.hostPatterns {
		// A hostname has no "/", so path.Match's "*" spans it freely.
		if ok, _ := path.Match(strings.ToLower(pattern), host); ok {
			return true
		}
	}
	return false
}

func (m *URLFilter) isPathExcluded(urlPath string) bool {
	urlPath = strings.ToLower(urlPath)
	for _, pattern := range m.pathPatterns {
		pattern = strings.ToLower(pattern)
		if matchSegmented(pattern, urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where a pattern like "/video/*"
// matches both "/video/clip" and "/video/deep/nested/path".
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	// For patterns ending in "/*", check if the URL path starts with the
	// pattern's directory prefix.
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}

	return false
}
