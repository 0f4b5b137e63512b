package scraper

import (
	"net/url"
	"strings"
)

// detectPatterns is checked in order against the URL's host; the first
// substring found wins.
var detectPatterns = []struct {
	substr   string
	strategy string
}{
	{"rentcafe.com", StrategyRentCafe},
	{"securecafe.com", StrategySecureCafe},
	{"ppmapartments.com", StrategyPPM},
	{"nestiolistings.com", StrategyFunnel},
	{"funnelleasing.com", StrategyFunnel},
	{"realpage.com", StrategyRealPage},
	{"g5searchmarketing.com", StrategyRealPage},
	{"bozzuto.com", StrategyBozzuto},
	{"groupfox.com", StrategyGroupFox},
	{"appfolio.com", StrategyAppFolio},
	{"sightmap.com", StrategySightMap},
}

// Detect picks a strategy id from a source URL. URLs that match no known
// platform get the unstructured fallback.
func Detect(rawURL string) string {
	host := detectHost(rawURL)
	if host == "" {
		return StrategyLLM
	}
	for _, p := range detectPatterns {
		if strings.Contains(host, p.substr) {
			return p.strategy
		}
	}
	return StrategyLLM
}

func detectHost(rawURL string) string {
	s := strings.ToLower(strings.TrimSpace(rawURL))
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Host != "" {
		return u.Host
	}
	// Scheme-less input like "foo.rentcafe.com/path".
	host, _, _ := strings.Cut(u.Path, "/")
	return host
}

// AssignStrategy fills a blank strategy id from the URL. A non-empty id is
// returned unchanged, so an operator override is never replaced.
func AssignStrategy(current, rawURL string) (string, bool) {
	if current != "" {
		return current, false
	}
	return Detect(rawURL), true
}
