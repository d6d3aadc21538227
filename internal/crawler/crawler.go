package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/metrics"
	"github.com/JakeFAU/webscreenshots/internal/retry"
	"github.com/JakeFAU/webscreenshots/internal/routes"
	"github.com/JakeFAU/webscreenshots/internal/urls"
)

// ErrNilExtractor is returned by New without a link source.
var ErrNilExtractor = errors.New("crawler: link extractor is required")

// Engine walks a site breadth first.
type Engine struct {
	extractor  LinkExtractor
	retrier    *retry.Retrier
	opts       Options
	logger     *zap.Logger
	limiter    Limiter
	observer   PageObserver
	classifier routes.SegmentClassifier
}

// Option customises an Engine.
type Option func(*Engine)

// WithLimiter throttles every fetch through l.
func WithLimiter(l Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithObserver reports page outcomes to o.
func WithObserver(o PageObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClassifier replaces the dynamic segment heuristic.
func WithClassifier(c routes.SegmentClassifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// New builds an Engine.
func New(extractor LinkExtractor, retrier *retry.Retrier, opts Options, logger *zap.Logger, options ...Option) (*Engine, error) {
	if extractor == nil {
		return nil, ErrNilExtractor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = retry.New(retry.Policy{MaxAttempts: 1}, logger)
	}
	e := &Engine{
		extractor: extractor,
		retrier:   retrier,
		opts:      opts,
		logger:    logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Crawl returns the same-origin pages reachable from seed, in visit order.
// A page whose links cannot be extracted after retries is logged and left
// unexpanded. When ctx ends the pages visited so far are returned with the
// context error.
func (e *Engine) Crawl(ctx context.Context, seed string) ([]string, error) {
	start, origin, err := urls.Canonical(seed)
	if err != nil {
		return nil, fmt.Errorf("crawl seed: %w", err)
	}
	analyzer, err := routes.NewAnalyzer(e.classifier)
	if err != nil {
		return nil, fmt.Errorf("crawl analyzer: %w", err)
	}

	excluded := e.opts.excludePrefixes()
	f := newFrontier()
	f.push(start)

	e.logger.Info("Crawling", zap.String("url", start))

	for !e.opts.limitReached(f.visitedCount()) {
		if err := ctx.Err(); err != nil {
			return f.visitedURLs(), fmt.Errorf("crawl interrupted: %w", err)
		}
		current, ok := f.pop()
		if !ok {
			break
		}
		if f.isVisited(current) {
			continue
		}

		parsed, err := url.Parse(current)
		if err != nil {
			continue
		}
		if isExcluded(parsed.Path, excluded) {
			e.logger.Debug("Skipping (excluded)", zap.String("url", current))
			continue
		}
		if e.groupFull(analyzer, current) {
			e.logger.Info("Skipping (group limit reached)", zap.String("url", current))
			e.observe(current, metrics.StatusSkipped)
			continue
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, current); err != nil {
				return f.visitedURLs(), fmt.Errorf("crawl interrupted: %w", err)
			}
		}

		links, err := retry.Do(ctx, e.retrier, "extract links", func(ctx context.Context, _ int) ([]string, error) {
			return e.extractor.ExtractLinks(ctx, current)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return f.visitedURLs(), fmt.Errorf("crawl interrupted: %w", ctxErr)
			}
			e.logger.Warn("Failed to crawl", zap.String("url", current), zap.Error(err))
			e.observe(current, metrics.StatusFailure)
			continue
		}

		f.markVisited(current)
		if err := analyzer.AddURLs(current); err != nil {
			e.logger.Debug("Analyzer rejected URL", zap.String("url", current), zap.Error(err))
		}
		e.observe(current, metrics.StatusSuccess)
		e.logFound(current, f.visitedCount())

		for _, link := range links {
			canonical, u, err := urls.Canonical(link)
			if err != nil || !urls.SameOrigin(origin, u) || f.isVisited(canonical) {
				continue
			}
			f.push(canonical)
		}
	}

	visited := f.visitedURLs()
	e.logger.Info("Crawl finished", zap.Int("visited", len(visited)))
	return visited, nil
}

func (e *Engine) groupFull(analyzer *routes.Analyzer, rawURL string) bool {
	if e.opts.DynamicRoutesLimit <= 0 {
		return false
	}
	info, ok, err := analyzer.GroupInfo(rawURL)
	if err != nil || !ok {
		return false
	}
	return info.Count >= e.opts.DynamicRoutesLimit
}

func (e *Engine) logFound(rawURL string, visited int) {
	fields := []zap.Field{zap.String("url", rawURL), zap.Int("visited", visited)}
	if e.opts.CrawlLimit > 0 {
		fields = append(fields, zap.Int("limit", e.opts.CrawlLimit))
	}
	e.logger.Info("Found", fields...)
}

func (e *Engine) observe(rawURL, status string) {
	if e.observer != nil {
		e.observer.ObservePage(rawURL, status)
	}
}

func isExcluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
