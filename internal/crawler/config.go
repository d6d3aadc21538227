package crawler

import (
	"strings"

	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/urls"
)

// Options bound a crawl. Zero limits mean unlimited.
type Options struct {
	CrawlLimit         int
	ExcludeRoutes      []string
	DynamicRoutesLimit int
}

// OptionsFrom maps the resolved crawl options onto Options.
func OptionsFrom(c config.CrawlOptions) Options {
	return Options{
		CrawlLimit:         c.CrawlLimit,
		ExcludeRoutes:      append([]string(nil), c.ExcludeRoutes...),
		DynamicRoutesLimit: c.DynamicRoutesLimit,
	}
}

// excludePrefixes normalises the exclude patterns. Patterns that normalise to
// the empty route would match every path and are dropped.
func (o Options) excludePrefixes() []string {
	out := make([]string, 0, len(o.ExcludeRoutes))
	for _, pattern := range o.ExcludeRoutes {
		normalized := urls.NormalizeRoute(strings.TrimSpace(pattern))
		if normalized == "" {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func (o Options) limitReached(visited int) bool {
	return o.CrawlLimit > 0 && visited >= o.CrawlLimit
}
