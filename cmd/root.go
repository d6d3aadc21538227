// Package cmd defines the CLI for the webscreenshots executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/app"
	"github.com/JakeFAU/webscreenshots/internal/capture"
	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/logging"
)

// ErrCaptureFailures is returned when the run finished but some captures failed.
var ErrCaptureFailures = errors.New("some screenshots failed")

// App defines the services the command drives.
// This allows us to inject a mock app during tests.
type App interface {
	Run(ctx context.Context) (capture.Summary, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// flagValues holds every flag of the root command.
type flagValues struct {
	url                 string
	outputDir           string
	outputPattern       string
	routes              []string
	crawl               bool
	crawlLimit          int
	excludeRoutes       []string
	dynamicRoutesLimit  int
	linkSource          string
	requestsPerSecond   float64
	fullPage            bool
	imageType           string
	quality             int
	headless            bool
	browserArgs         []string
	engine              string
	navigationTimeoutMs int
	userAgent           string
	maxAttempts         int
	delayMs             int
	viewports           string
	metricsFile         string

	configPath string
	dotenvPath string
	logLevel   string
	logDev     bool
}

type rootCommand struct {
	cmd    *cobra.Command
	flags  flagValues
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *rootCommand {
	rc := &rootCommand{}
	cmd := &cobra.Command{
		Use:   "webscreenshots [url]",
		Short: "Capture screenshots of a website at several viewports.",
		Long: `webscreenshots loads every configured route of a site in a headless
browser and saves a screenshot per viewport. With --crawl it first discovers
same-origin pages by following links, capping families of dynamic routes.

Configuration is layered: defaults, then a webscreenshots.{json,yaml,yml,toml}
file, then WEBSCREENSHOTS__* environment variables, then flags.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          rc.run,
	}
	rc.cmd = cmd

	f := &rc.flags
	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", "", "site to capture (may also be given as the first argument)")
	fs.StringVar(&f.outputDir, "output-dir", "", "output directory, local path or gs://bucket/prefix")
	fs.StringVar(&f.outputPattern, "output-pattern", "", "file path template using {host} {viewport} {route} {ext} {timestamp}")
	fs.StringSliceVar(&f.routes, "routes", nil, "routes to capture, relative to the url")
	fs.BoolVar(&f.crawl, "crawl", false, "discover routes by crawling same-origin links")
	fs.IntVar(&f.crawlLimit, "crawl-limit", 0, "maximum pages to visit while crawling (0 = unlimited)")
	fs.StringSliceVar(&f.excludeRoutes, "exclude-routes", nil, "path prefixes never crawled")
	fs.IntVar(&f.dynamicRoutesLimit, "dynamic-routes-limit", 0, "maximum pages per dynamic route group (0 = unlimited)")
	fs.StringVar(&f.linkSource, "link-source", "", "crawl link source: browser or http")
	fs.Float64Var(&f.requestsPerSecond, "requests-per-second", 0, "crawl fetch rate per host (0 = unlimited)")
	fs.BoolVar(&f.fullPage, "full-page", true, "capture the full scrollable page")
	fs.StringVar(&f.imageType, "image-type", "", "image format: png, jpeg or webp")
	fs.IntVar(&f.quality, "quality", 0, "jpeg/webp quality 0-100")
	fs.BoolVar(&f.headless, "headless", true, "run the browser headless")
	fs.StringSliceVar(&f.browserArgs, "browser-args", nil, "extra browser command line arguments")
	fs.StringVar(&f.engine, "engine", "", "browser engine: chromedp or rod")
	fs.IntVar(&f.navigationTimeoutMs, "navigation-timeout-ms", 0, "page load timeout in milliseconds")
	fs.StringVar(&f.userAgent, "user-agent", "", "browser user agent")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "attempts per browser operation")
	fs.IntVar(&f.delayMs, "delay-ms", 0, "pause between attempts in milliseconds")
	fs.StringVar(&f.viewports, "viewports", "", `viewports as JSON, e.g. [{"name":"desktop","width":1920,"height":1080}]`)
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")

	fs.StringVar(&f.configPath, "config", "", "config file (default is ./webscreenshots.{json,yaml,yml,toml})")
	fs.StringVar(&f.dotenvPath, "env-file", "", "dotenv file (default is ./.env)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.BoolVar(&f.logDev, "log-dev", false, "human readable development logging")

	return rc
}

func (rc *rootCommand) run(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(rc.flags.logDev, rc.flags.logLevel)
	if err != nil {
		return err
	}
	rc.logger = logger

	overrides, err := rc.flags.overrides(cmd.Flags(), args)
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(logger, config.Options{
		ConfigPath: rc.flags.configPath,
		DotenvPath: rc.flags.dotenvPath,
		Overrides:  overrides,
	})
	if err != nil {
		return err
	}

	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer appInstance.Close()

	summary, err := appInstance.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if summary.Failed() {
		return fmt.Errorf("%w: %d of %d", ErrCaptureFailures, summary.Failures, summary.Total())
	}
	return nil
}

// overrides builds the highest-precedence config layer. Only flags the user
// actually set take part; defaults come from the config resolver.
func (f *flagValues) overrides(fs *pflag.FlagSet, args []string) (config.Partial, error) {
	var p config.Partial
	if len(args) > 0 {
		p.URL = config.Ptr(args[0])
	}
	if fs.Changed("url") {
		p.URL = config.Ptr(f.url)
	}
	if fs.Changed("output-dir") {
		p.OutputDir = config.Ptr(f.outputDir)
	}
	if fs.Changed("output-pattern") {
		p.OutputPattern = config.Ptr(f.outputPattern)
	}
	if fs.Changed("routes") {
		p.Routes = nonNil(f.routes)
	}
	if fs.Changed("crawl") {
		p.Crawl = config.Ptr(f.crawl)
	}
	if fs.Changed("metrics-file") {
		p.MetricsFile = config.Ptr(f.metricsFile)
	}
	if fs.Changed("viewports") {
		var viewports []config.Viewport
		if err := json.Unmarshal([]byte(f.viewports), &viewports); err != nil {
			return config.Partial{}, fmt.Errorf("parse --viewports: %w", err)
		}
		p.Viewports = nonNil(viewports)
	}

	var crawlOpts config.CrawlOptionsPartial
	crawlSet := false
	if fs.Changed("crawl-limit") {
		crawlOpts.CrawlLimit, crawlSet = config.Ptr(f.crawlLimit), true
	}
	if fs.Changed("exclude-routes") {
		crawlOpts.ExcludeRoutes, crawlSet = nonNil(f.excludeRoutes), true
	}
	if fs.Changed("dynamic-routes-limit") {
		crawlOpts.DynamicRoutesLimit, crawlSet = config.Ptr(f.dynamicRoutesLimit), true
	}
	if fs.Changed("link-source") {
		crawlOpts.LinkSource, crawlSet = config.Ptr(f.linkSource), true
	}
	if fs.Changed("requests-per-second") {
		crawlOpts.RequestsPerSecond, crawlSet = config.Ptr(f.requestsPerSecond), true
	}
	if crawlSet {
		p.CrawlOptions = &crawlOpts
	}

	var captureOpts config.CaptureOptionsPartial
	if fs.Changed("full-page") {
		captureOpts.FullPage = config.Ptr(f.fullPage)
	}
	if fs.Changed("image-type") {
		captureOpts.ImageType = config.Ptr(f.imageType)
	}
	if fs.Changed("quality") {
		captureOpts.Quality = config.Ptr(f.quality)
	}
	if captureOpts != (config.CaptureOptionsPartial{}) {
		p.CaptureOptions = &captureOpts
	}

	var browserOpts config.BrowserOptionsPartial
	browserSet := false
	if fs.Changed("headless") {
		browserOpts.Headless, browserSet = config.Ptr(f.headless), true
	}
	if fs.Changed("browser-args") {
		browserOpts.Args, browserSet = nonNil(f.browserArgs), true
	}
	if fs.Changed("engine") {
		browserOpts.Engine, browserSet = config.Ptr(f.engine), true
	}
	if fs.Changed("navigation-timeout-ms") {
		browserOpts.NavigationTimeoutMs, browserSet = config.Ptr(f.navigationTimeoutMs), true
	}
	if fs.Changed("user-agent") {
		browserOpts.UserAgent, browserSet = config.Ptr(f.userAgent), true
	}
	if browserSet {
		p.BrowserOptions = &browserOpts
	}

	var retryOpts config.RetryOptionsPartial
	if fs.Changed("max-attempts") {
		retryOpts.MaxAttempts = config.Ptr(f.maxAttempts)
	}
	if fs.Changed("delay-ms") {
		retryOpts.DelayMs = config.Ptr(f.delayMs)
	}
	if retryOpts != (config.RetryOptionsPartial{}) {
		p.RetryOptions = &retryOpts
	}
	return p, nil
}

// nonNil keeps an explicitly empty list distinct from an unset one.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// execute runs the root command with args and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	rc := newRootCmd()
	rc.cmd.SetArgs(args)
	err := rc.cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	logger := rc.logger
	if logger == nil {
		logger, _ = logging.New(false, "info")
		logger = logging.OrNop(logger)
	}
	if errors.Is(err, ErrCaptureFailures) {
		logger.Error("Run finished with failures", zap.Error(err))
	} else {
		logger.Error("Command execution failed", zap.Error(err))
	}
	_ = logger.Sync()
	return 1
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
