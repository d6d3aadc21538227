package crawler

import "context"

// LinkExtractor returns the absolute links found on a page.
type LinkExtractor interface {
	ExtractLinks(ctx context.Context, url string) ([]string, error)
}

// Limiter throttles fetches.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// PageObserver is told the outcome of every page the crawl considers.
type PageObserver interface {
	ObservePage(site, status string)
}
