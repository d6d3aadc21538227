// Package collylinks extracts page links over plain HTTP using gocolly, for
// crawling sites that do not need JavaScript to render their navigation.
package collylinks

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every request, e.g. per-request auth.
	Headers map[string]string
}

// Extractor implements the crawler's link source with a Colly collector.
type Extractor struct {
	cfg           Config
	baseCollector *colly.Collector

	mu      sync.RWMutex
	headers map[string]string
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	e := &Extractor{cfg: cfg, baseCollector: c}
	e.SetHeaders(cfg.Headers)
	return e
}

// SetHeaders replaces the headers added to each request.
func (e *Extractor) SetHeaders(headers map[string]string) {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	e.mu.Lock()
	e.headers = copied
	e.mu.Unlock()
}

// ExtractLinks fetches rawURL and returns its absolute http(s) anchors in
// document order without duplicates.
func (e *Extractor) ExtractLinks(ctx context.Context, rawURL string) ([]string, error) {
	collector := e.baseCollector.Clone()

	var (
		links    []string
		seen     = make(map[string]struct{})
		fetchErr error
		status   int
	)

	e.mu.RLock()
	headers := e.headers
	e.mu.RUnlock()

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		href := strings.TrimSpace(el.Attr("href"))
		if href == "" {
			return
		}
		abs := el.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	if status == 0 {
		return nil, fmt.Errorf("no response from %s", rawURL)
	}
	return links, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
