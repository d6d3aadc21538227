// Package app initializes and holds the long-lived services of a screenshot
// run, acting as a dependency injection container for the command layer.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/browser"
	chromedpengine "github.com/JakeFAU/webscreenshots/internal/browser/chromedp"
	rodengine "github.com/JakeFAU/webscreenshots/internal/browser/rod"
	"github.com/JakeFAU/webscreenshots/internal/capture"
	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/crawler"
	collylinks "github.com/JakeFAU/webscreenshots/internal/links/colly"
	"github.com/JakeFAU/webscreenshots/internal/metrics"
	"github.com/JakeFAU/webscreenshots/internal/policy/ratelimit"
	"github.com/JakeFAU/webscreenshots/internal/retry"
	"github.com/JakeFAU/webscreenshots/internal/storage"
)

// StoreOpener opens the blob store for an output directory.
type StoreOpener func(ctx context.Context, outputDir string) (storage.Store, error)

// Option customises NewApp.
type Option func(*options)

type options struct {
	openStore StoreOpener
	browser   browser.Service
}

// WithStoreOpener replaces storage.Open, mainly for tests.
func WithStoreOpener(open StoreOpener) Option {
	return func(o *options) {
		if open != nil {
			o.openStore = open
		}
	}
}

// WithBrowser skips engine construction and uses b instead.
func WithBrowser(b browser.Service) Option {
	return func(o *options) { o.browser = b }
}

// App holds the services shared by one run.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        storage.Store
	browser      browser.Service
	links        crawler.LinkExtractor
	metrics      *metrics.Recorder
	orchestrator *capture.Orchestrator
}

// GetBrowser exposes the browser engine.
func (a *App) GetBrowser() browser.Service {
	return a.browser
}

// GetLinkSource exposes the crawl link source.
func (a *App) GetLinkSource() crawler.LinkExtractor {
	return a.links
}

// GetMetrics exposes the run metrics.
func (a *App) GetMetrics() *metrics.Recorder {
	return a.metrics
}

// NewApp wires every service for cfg. It fails fast if the output location
// or the engine cannot be set up. Chrome itself starts on first use.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{openStore: storage.Open}
	for _, opt := range opts {
		opt(&o)
	}
	logger.Debug("Initializing application services")

	store, err := o.openStore(ctx, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc := o.browser
	if svc == nil {
		svc, err = newBrowser(cfg.BrowserOptions, store, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	rec := metrics.New()
	retrier := retry.New(retry.Policy{
		MaxAttempts: cfg.RetryOptions.MaxAttempts,
		Delay:       cfg.RetryOptions.Delay(),
	}, logger)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		browser: svc,
		metrics: rec,
	}

	deps := capture.Deps{
		Browser: svc,
		Retrier: retrier,
		Metrics: rec,
	}
	if cfg.Crawl {
		a.links = a.linkSource(svc)
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.CrawlOptions.RequestsPerSecond,
			Observer:          rec,
		})
		crawlOpts := []crawler.Option{crawler.WithObserver(rec)}
		if limiter.Enabled() {
			crawlOpts = append(crawlOpts, crawler.WithLimiter(limiter))
		}
		engine, err := crawler.New(a.links, retrier, crawler.OptionsFrom(cfg.CrawlOptions), logger.Named("crawler"), crawlOpts...)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize crawler: %w", err)
		}
		deps.Crawler = engine
	}

	a.orchestrator, err = capture.New(cfg, deps, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}

	logger.Debug("Application services initialized",
		zap.String("engine", cfg.BrowserOptions.Engine),
		zap.Bool("crawl", cfg.Crawl),
		zap.String("output_dir", cfg.OutputDir),
	)
	return a, nil
}

// Run executes the capture pass.
func (a *App) Run(ctx context.Context) (capture.Summary, error) {
	return a.orchestrator.Run(ctx)
}

// Close releases the output store and flushes the logger.
func (a *App) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing output store", zap.Error(err))
	}
	// Syncing stderr fails on some platforms; nothing useful can be done.
	_ = a.logger.Sync()
}

// linkSource picks the crawl link source. The static extractor can only
// carry per-request credentials, so session auth still applies to captures
// but not to crawling.
func (a *App) linkSource(svc browser.Service) crawler.LinkExtractor {
	if a.cfg.CrawlOptions.LinkSource != config.LinkSourceHTTP {
		return svc
	}
	auth := a.cfg.AuthOptions
	if auth != nil && !browser.IsPerRequest(auth) {
		a.logger.Warn("Static link source cannot reuse a browser session; crawling unauthenticated",
			zap.String("method", auth.Method))
	}
	return collylinks.New(collylinks.Config{
		UserAgent: a.cfg.BrowserOptions.UserAgent,
		Timeout:   a.cfg.BrowserOptions.NavigationTimeout(),
		Headers:   browser.RequestHeaders(auth),
	})
}

// ErrUnknownEngine is returned for an engine name NewApp cannot build.
var ErrUnknownEngine = errors.New("unknown browser engine")

func newBrowser(opts config.BrowserOptions, store storage.BlobStore, logger *zap.Logger) (browser.Service, error) {
	switch opts.Engine {
	case config.EngineChromedp, "":
		b, err := chromedpengine.New(chromedpengine.FromOptions(opts), store, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize chromedp engine: %w", err)
		}
		return b, nil
	case config.EngineRod:
		b, err := rodengine.New(rodengine.FromOptions(opts), store, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rod engine: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
}
