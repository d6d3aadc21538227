// Package capture drives a screenshot run: authenticate, optionally crawl,
// then capture every route at every viewport through one browser session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/auth"
	"github.com/JakeFAU/webscreenshots/internal/browser"
	"github.com/JakeFAU/webscreenshots/internal/clock/system"
	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/id/uuid"
	"github.com/JakeFAU/webscreenshots/internal/metrics"
	"github.com/JakeFAU/webscreenshots/internal/output"
	"github.com/JakeFAU/webscreenshots/internal/retry"
	"github.com/JakeFAU/webscreenshots/internal/urls"
)

var (
	// ErrNothingCrawled is returned when crawling finds no reachable page.
	ErrNothingCrawled = errors.New("crawl returned no urls")
	// ErrCleanup is returned when the browser cannot be released.
	ErrCleanup = errors.New("browser cleanup failed")
	// ErrNoCrawler is returned by New when crawling is enabled without a crawler.
	ErrNoCrawler = errors.New("capture: crawl enabled but no crawler configured")
)

// Crawler discovers same-origin pages from a seed.
type Crawler interface {
	Crawl(ctx context.Context, seed string) ([]string, error)
}

// Authenticator runs the authentication lifecycle.
type Authenticator interface {
	Authenticate(ctx context.Context, opts *config.AuthOptions) (auth.State, bool)
}

// Clock provides the run timestamp.
type Clock interface {
	Now() time.Time
}

// IDGenerator names a run.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators of an Orchestrator. Browser is required;
// Crawler is required when the config enables crawling. Everything else
// has a default.
type Deps struct {
	Browser browser.Service
	Crawler Crawler
	Auth    Authenticator
	Retrier *retry.Retrier
	Clock   Clock
	IDs     IDGenerator
	Metrics *metrics.Recorder
}

// Summary tallies a run.
type Summary struct {
	RunID     string
	Timestamp time.Time
	Successes int
	Failures  int
}

// Total is the number of capture tasks attempted.
func (s Summary) Total() int {
	return s.Successes + s.Failures
}

// Failed reports whether any capture failed.
func (s Summary) Failed() bool {
	return s.Failures > 0
}

// Orchestrator runs one capture pass over a resolved config.
type Orchestrator struct {
	cfg     config.Config
	browser browser.Service
	crawler Crawler
	auth    Authenticator
	retrier *retry.Retrier
	clock   Clock
	ids     IDGenerator
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// New builds an Orchestrator.
func New(cfg config.Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Browser == nil {
		return nil, errors.New("capture: browser service is required")
	}
	if cfg.Crawl && deps.Crawler == nil {
		return nil, ErrNoCrawler
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:     cfg,
		browser: deps.Browser,
		crawler: deps.Crawler,
		auth:    deps.Auth,
		retrier: deps.Retrier,
		clock:   deps.Clock,
		ids:     deps.IDs,
		metrics: deps.Metrics,
		logger:  logger,
	}
	if o.retrier == nil {
		o.retrier = retry.New(retry.Policy{
			MaxAttempts: cfg.RetryOptions.MaxAttempts,
			Delay:       cfg.RetryOptions.Delay(),
		}, logger)
	}
	if o.auth == nil {
		o.auth = auth.NewManager(deps.Browser, o.retrier, logger)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	return o, nil
}

// Run executes the whole pass. Individual capture failures are counted in
// the Summary; the returned error is reserved for failures that end the run.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Timestamp: o.clock.Now()}
	runID, err := o.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("run id: %w", err)
	}
	summary.RunID = runID
	logger := o.logger.With(zap.String("run_id", runID))
	o.metrics.SetRunTimestamp(summary.Timestamp)
	defer o.writeMetrics(logger)

	baseURL, base, err := baseOf(o.cfg.URL)
	if err != nil {
		return summary, err
	}
	routes := normalizeRoutes(o.cfg.Routes)

	if o.cfg.AuthOptions != nil {
		state, ok := o.auth.Authenticate(ctx, o.cfg.AuthOptions)
		o.metrics.ObserveAuth(o.cfg.AuthOptions.Method, state.String())
		if !ok {
			logger.Error("Authentication failed, continuing without it", zap.Stringer("state", state))
		}
	}

	if o.cfg.Crawl {
		crawled, err := o.crawler.Crawl(ctx, baseURL)
		if err != nil {
			o.release(ctx, logger)
			return summary, fmt.Errorf("crawl %s: %w", baseURL, err)
		}
		if len(crawled) == 0 {
			logger.Error("Crawl found no pages", zap.String("url", baseURL))
			o.release(ctx, logger)
			return summary, ErrNothingCrawled
		}
		routes = unionRoutes(routes, crawled)
		logger.Info("Routes to capture", zap.Int("count", len(routes)))
	}

	for i := range o.cfg.Viewports {
		viewport := o.cfg.Viewports[i]
		logger.Info("Viewport",
			zap.String("name", viewport.Name),
			zap.Int("width", viewport.Width),
			zap.Int("height", viewport.Height),
		)
		for _, route := range routes {
			if err := ctx.Err(); err != nil {
				o.release(ctx, logger)
				return summary, fmt.Errorf("capture interrupted: %w", err)
			}
			if o.captureOne(ctx, logger, base, route, &viewport, summary.Timestamp) {
				summary.Successes++
			} else {
				summary.Failures++
			}
		}
	}

	logger.Info("Cleaning up")
	if err := o.browser.Cleanup(ctx); err != nil {
		logger.Error("Failed during cleanup", zap.Error(err))
		return summary, fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	logger.Info("Cleanup complete")

	logger.Info("Summary", zap.Int("success", summary.Successes), zap.Int("failures", summary.Failures))
	if !summary.Failed() {
		logger.Info("All screenshots captured successfully!")
	}
	return summary, nil
}

// captureOne resolves, names and captures a single (viewport, route) task.
func (o *Orchestrator) captureOne(ctx context.Context, logger *zap.Logger, base *url.URL, route string, viewport *config.Viewport, ts time.Time) bool {
	target, err := urls.Resolve(base, route)
	if err != nil {
		logger.Error("Failed to resolve route", zap.String("route", route), zap.Error(err))
		o.metrics.ObserveCapture(viewport.Name, metrics.StatusFailure, 0)
		return false
	}
	outputPath, err := output.FilePath(output.Options{
		URL:       target,
		Viewport:  viewport.Name,
		Extension: o.cfg.CaptureOptions.ImageType,
		Pattern:   o.cfg.OutputPattern,
		OutputDir: o.cfg.OutputDir,
		Timestamp: ts,
	})
	if err != nil {
		logger.Error("Failed to build output path", zap.String("url", target), zap.Error(err))
		o.metrics.ObserveCapture(viewport.Name, metrics.StatusFailure, 0)
		return false
	}

	maxAttempts := o.retrier.Policy().MaxAttempts
	start := time.Now()
	err = o.retrier.Run(ctx, "capture screenshot", func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logger.Info("Capturing",
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
			)
		} else {
			logger.Debug("Capturing", zap.String("url", target))
		}
		return o.browser.CaptureScreenshot(ctx, target, outputPath, o.cfg.CaptureOptions, viewport)
	})
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Failed to capture", zap.String("url", target), zap.String("viewport", viewport.Name), zap.Error(err))
		o.metrics.ObserveCapture(viewport.Name, metrics.StatusFailure, elapsed)
		return false
	}
	logger.Info("Saved", zap.String("url", target), zap.String("path", outputPath))
	o.metrics.ObserveCapture(viewport.Name, metrics.StatusSuccess, elapsed)
	return true
}

// release is the cleanup on fatal paths; its error is logged because the
// run is already failing.
func (o *Orchestrator) release(ctx context.Context, logger *zap.Logger) {
	if err := o.browser.Cleanup(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Failed during cleanup", zap.Error(err))
	}
}

func (o *Orchestrator) writeMetrics(logger *zap.Logger) {
	if err := o.metrics.WriteTextfile(o.cfg.MetricsFile); err != nil {
		logger.Warn("Failed to write metrics", zap.String("path", o.cfg.MetricsFile), zap.Error(err))
	}
}

func baseOf(raw string) (string, *url.URL, error) {
	base, err := urls.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("base url: %w", err)
	}
	return base.String(), base, nil
}

// normalizeRoutes trims trailing slashes and drops duplicates, keeping order.
func normalizeRoutes(routes []string) []string {
	out := make([]string, 0, len(routes))
	seen := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		r = urls.NormalizeRoute(strings.TrimSpace(r))
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}

// unionRoutes appends the route of every crawled URL not already present.
func unionRoutes(routes, crawled []string) []string {
	out := append([]string(nil), routes...)
	seen := make(map[string]struct{}, len(out))
	for _, r := range out {
		seen[r] = struct{}{}
	}
	for _, raw := range crawled {
		r, err := urls.Route(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
