package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/metrics"
	"github.com/JakeFAU/webscreenshots/internal/retry"
	"github.com/JakeFAU/webscreenshots/internal/routes"
)

// graphExtractor serves links from a fixed page graph and records fetches.
type graphExtractor struct {
	mu      sync.Mutex
	graph   map[string][]string
	fails   map[string]error
	fetched []string
}

func (g *graphExtractor) ExtractLinks(_ context.Context, url string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetched = append(g.fetched, url)
	if err, ok := g.fails[url]; ok {
		return nil, err
	}
	return g.graph[url], nil
}

// MockObserver is a mock implementation of the PageObserver interface.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObservePage(site, status string) {
	m.Called(site, status)
}

// MockLimiter is a mock implementation of the Limiter interface.
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Wait(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func noPause(context.Context, time.Duration) error { return nil }

func newEngine(t *testing.T, ex LinkExtractor, opts Options, options ...Option) (*Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	r := retry.New(retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}, logger, retry.WithSleep(noPause))
	e, err := New(ex, r, opts, logger, options...)
	require.NoError(t, err)
	return e, logs
}

func TestNewRequiresExtractor(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNilExtractor)
}

func TestCrawlVisitsGraphBreadthFirst(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/":  {"https://example.com/b", "https://example.com/c"},
		"https://example.com/b": {"https://example.com/d"},
		"https://example.com/c": {},
		"https://example.com/d": {},
	}}
	e, logs := newEngine(t, ex, Options{})

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, visited)
	assert.Equal(t, visited, ex.fetched)
	assert.Equal(t, 4, logs.FilterMessage("Found").Len())
}

func TestCrawlNeverRevisits(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/":  {"https://example.com/a", "https://example.com/", "https://example.com/a#top"},
		"https://example.com/a": {"https://example.com/", "https://EXAMPLE.com:443/a"},
	}}
	e, _ := newEngine(t, ex, Options{})

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/a"}, visited)
	assert.Len(t, ex.fetched, 2)
}

func TestCrawlStaysOnSeedOrigin(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {
			"https://example.com.evil.org/",
			"http://example.com/insecure",
			"https://sub.example.com/",
			"https://example.com:8443/other-port",
			"mailto:hi@example.com",
			"https://example.com/ok",
		},
	}}
	e, _ := newEngine(t, ex, Options{})

	visited, err := e.Crawl(context.Background(), "https://EXAMPLE.com:443/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/ok"}, visited)
}

func TestCrawlHonorsCrawlLimit(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {"https://example.com/a", "https://example.com/b", "https://example.com/c"},
	}}
	e, _ := newEngine(t, ex, Options{CrawlLimit: 2})

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Len(t, visited, 2)
	assert.Len(t, ex.fetched, 2)
}

func TestCrawlHonorsDynamicRoutesLimit(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {
			"https://example.com/products/1",
			"https://example.com/products/2",
			"https://example.com/products/3",
			"https://example.com/products/4",
			"https://example.com/products/5",
			"https://example.com/about",
		},
	}}
	obs := &MockObserver{}
	obs.On("ObservePage", mock.Anything, metrics.StatusSuccess).Return()
	obs.On("ObservePage", mock.Anything, metrics.StatusSkipped).Return()
	e, logs := newEngine(t, ex, Options{DynamicRoutesLimit: 3}, WithObserver(obs))

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/products/1",
		"https://example.com/products/2",
		"https://example.com/products/3",
		"https://example.com/about",
	}, visited)
	assert.NotContains(t, ex.fetched, "https://example.com/products/4")
	assert.NotContains(t, ex.fetched, "https://example.com/products/5")
	assert.Equal(t, 2, logs.FilterMessage("Skipping (group limit reached)").Len())
	obs.AssertNumberOfCalls(t, "ObservePage", 7)
	obs.AssertCalled(t, "ObservePage", "https://example.com/products/4", metrics.StatusSkipped)
}

func TestCrawlUsesCustomClassifier(t *testing.T) {
	t.Parallel()

	graph := map[string][]string{
		"https://example.com/": {
			"https://example.com/docs/en",
			"https://example.com/docs/fr",
			"https://example.com/docs/de",
			"https://example.com/products/1",
			"https://example.com/products/2",
		},
	}
	locales := routes.ClassifierFunc(func(segment string) bool { return len(segment) == 2 })

	ex := &graphExtractor{graph: graph}
	e, _ := newEngine(t, ex, Options{DynamicRoutesLimit: 1}, WithClassifier(locales))
	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/docs/en",
		"https://example.com/products/1",
		"https://example.com/products/2",
	}, visited, "locale segments group together, numeric ids no longer do")

	defaults := &graphExtractor{graph: graph}
	e, _ = newEngine(t, defaults, Options{DynamicRoutesLimit: 1})
	visited, err = e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/docs/en",
		"https://example.com/docs/fr",
		"https://example.com/docs/de",
		"https://example.com/products/1",
	}, visited)
}

func TestCrawlExcludesRoutePrefixes(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {"https://example.com/private/a", "https://example.com/public", "https://example.com/private"},
	}}
	e, _ := newEngine(t, ex, Options{ExcludeRoutes: []string{"/private/", "/", ""}})

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/public"}, visited)
}

func TestCrawlDoesNotExpandFailedPages(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{
		graph: map[string][]string{
			"https://example.com/":     {"https://example.com/bad", "https://example.com/good"},
			"https://example.com/bad":  {"https://example.com/hidden"},
			"https://example.com/good": {},
		},
		fails: map[string]error{"https://example.com/bad": errors.New("navigation timeout")},
	}
	obs := &MockObserver{}
	obs.On("ObservePage", mock.Anything, mock.Anything).Return()
	e, logs := newEngine(t, ex, Options{}, WithObserver(obs))

	visited, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/good"}, visited)
	assert.NotContains(t, ex.fetched, "https://example.com/hidden")

	// Two attempts for the failing page, one for each of the others.
	assert.Len(t, ex.fetched, 4)
	assert.Equal(t, 1, logs.FilterMessage("Failed to crawl").Len())
	assert.Equal(t, 1, logs.FilterMessage("Operation failed").Len())
	obs.AssertCalled(t, "ObservePage", "https://example.com/bad", metrics.StatusFailure)
}

func TestCrawlWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {"https://example.com/a"},
	}}
	lim := &MockLimiter{}
	lim.On("Wait", mock.Anything, mock.Anything).Return(nil)
	e, _ := newEngine(t, ex, Options{}, WithLimiter(lim))

	_, err := e.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	lim.AssertNumberOfCalls(t, "Wait", 2)
	lim.AssertCalled(t, "Wait", mock.Anything, "https://example.com/a")
}

func TestCrawlReturnsPartialResultOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := &graphExtractor{graph: map[string][]string{
		"https://example.com/": {"https://example.com/a"},
	}}
	lim := &MockLimiter{}
	lim.On("Wait", mock.Anything, "https://example.com/").Return(nil)
	lim.On("Wait", mock.Anything, "https://example.com/a").Run(func(mock.Arguments) { cancel() }).Return(context.Canceled)
	e, _ := newEngine(t, ex, Options{}, WithLimiter(lim))

	visited, err := e.Crawl(ctx, "https://example.com/")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"https://example.com/"}, visited)
}

func TestCrawlRejectsRelativeSeed(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t, &graphExtractor{}, Options{})
	_, err := e.Crawl(context.Background(), "/relative")
	assert.Error(t, err)
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()

	opts := OptionsFrom(config.CrawlOptions{CrawlLimit: 7, ExcludeRoutes: []string{"/admin/"}, DynamicRoutesLimit: 2})
	assert.Equal(t, Options{CrawlLimit: 7, ExcludeRoutes: []string{"/admin/"}, DynamicRoutesLimit: 2}, opts)
	assert.Equal(t, []string{"/admin"}, opts.excludePrefixes())
}

func TestFrontierQueuesOnce(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	assert.True(t, f.push("a"))
	assert.False(t, f.push("a"))
	assert.False(t, f.push(""))
	u, ok := f.pop()
	require.True(t, ok)
	assert.Equal(t, "a", u)
	f.markVisited(u)
	f.markVisited(u)
	assert.Equal(t, 1, f.visitedCount())
	_, ok = f.pop()
	assert.False(t, ok)
}
