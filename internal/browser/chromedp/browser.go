// Package chromedp implements browser.Service on headless Chrome via chromedp.
package chromedp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/auth"
	"github.com/JakeFAU/webscreenshots/internal/browser"
	"github.com/JakeFAU/webscreenshots/internal/config"
	imagehash "github.com/JakeFAU/webscreenshots/internal/hash/sha256"
	"github.com/JakeFAU/webscreenshots/internal/output"
	"github.com/JakeFAU/webscreenshots/internal/storage"
	"github.com/JakeFAU/webscreenshots/internal/urls"
)

var _ browser.Service = (*Browser)(nil)

const (
	defaultNavigationTimeout = 30 * time.Second
	loginPollInterval        = 100 * time.Millisecond
)

// Config controls the browser launch.
type Config struct {
	Headless          bool
	Args              []string
	UserAgent         string
	NavigationTimeout time.Duration
}

// FromOptions maps the run's browser options onto a Config.
func FromOptions(opts config.BrowserOptions) Config {
	return Config{
		Headless:          opts.Headless,
		Args:              append([]string(nil), opts.Args...),
		UserAgent:         opts.UserAgent,
		NavigationTimeout: opts.NavigationTimeout(),
	}
}

// Browser owns one lazily launched Chrome process shared by every operation.
type Browser struct {
	cfg    Config
	store  storage.BlobStore
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	headers       network.Headers
}

// New builds a Browser. Chrome is not started until the first operation.
func New(cfg Config, store storage.BlobStore, logger *zap.Logger) (*Browser, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("chromedp"),
	}, nil
}

// ExtractLinks loads rawURL and returns its anchors resolved against the final URL.
func (b *Browser) ExtractLinks(ctx context.Context, rawURL string) ([]string, error) {
	taskCtx, release, err := b.newTab(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var html, finalURL string
	if err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", rawURL, err)
	}

	if finalURL == "" {
		finalURL = rawURL
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parse final url: %w", err)
	}
	return browser.ParseLinks(html, base)
}

// CaptureScreenshot renders rawURL at viewport and stores the image at outputPath.
func (b *Browser) CaptureScreenshot(ctx context.Context, rawURL, outputPath string, capture config.CaptureOptions, viewport *config.Viewport) error {
	taskCtx, release, err := b.newTab(ctx)
	if err != nil {
		return err
	}
	defer release()

	var buf []byte
	actions := []chromedp.Action{b.networkSetupAction()}
	if viewport != nil {
		scale := viewport.DeviceScaleFactor
		if scale <= 0 {
			scale = 1
		}
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(viewport.Width), int64(viewport.Height), scale, false))
	}
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		screenshotAction(capture, &buf),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("capture %s: %w", rawURL, err)
	}

	image := imagehash.NewReader(bytes.NewReader(buf))
	uri, err := b.store.PutObject(ctx, outputPath, output.ContentType(capture.ImageType), image)
	if err != nil {
		return fmt.Errorf("store screenshot: %w", err)
	}
	b.logger.Debug("Screenshot stored",
		zap.String("url", rawURL),
		zap.String("uri", uri),
		zap.Int64("bytes", image.Len()),
		zap.String("sha256", image.Sum()),
	)
	return nil
}

// SetAuthentication arms per-request headers for basic and token auth and
// establishes a session for cookie and form auth.
func (b *Browser) SetAuthentication(ctx context.Context, opts *config.AuthOptions) (bool, error) {
	headers := toNetworkHeaders(browser.RequestHeaders(opts))
	b.mu.Lock()
	b.headers = headers
	b.mu.Unlock()

	if opts == nil {
		return true, nil
	}
	if browser.IsPerRequest(opts) {
		if len(headers) == 0 {
			return false, nil
		}
		b.logger.Info("Per-request authentication set", zap.String("method", opts.Method))
		return true, nil
	}

	switch opts.Method {
	case config.AuthCookie:
		return b.applyCookies(ctx, opts.CookiesPath)
	case config.AuthForm:
		if opts.Form == nil {
			b.logger.Warn("No form options provided for form authentication")
			return false, nil
		}
		return b.loginWithForm(ctx, opts.Form)
	default:
		return false, nil
	}
}

// Cleanup closes Chrome. Calling it without a launched browser is a no-op.
func (b *Browser) Cleanup(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (b *Browser) applyCookies(ctx context.Context, path string) (bool, error) {
	cookies, err := browser.ReadCookies(path)
	if err != nil {
		return false, err
	}

	taskCtx, release, err := b.newTab(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	params := toCookieParams(cookies)
	var applied []*network.Cookie
	if err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.SetCookies(params).Do(ctx); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
		var err error
		applied, err = cdpstorage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("read back cookies: %w", err)
		}
		return nil
	})); err != nil {
		return false, err
	}

	if len(applied) < len(cookies) {
		b.logger.Error("Failed to set cookies",
			zap.Int("provided", len(cookies)),
			zap.Int("applied", len(applied)),
		)
		return false, nil
	}
	b.logger.Info("Applied cookies", zap.Int("count", len(applied)))
	return true, nil
}

func (b *Browser) loginWithForm(ctx context.Context, form *config.FormAuth) (bool, error) {
	taskCtx, release, err := b.newTab(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(form.LoginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return false, fmt.Errorf("open login page: %w", err)
	}

	timeout := form.Timeout()
	for _, input := range form.Inputs {
		stepCtx, cancel := context.WithTimeout(taskCtx, timeout)
		err := chromedp.Run(stepCtx,
			chromedp.WaitVisible(input.Selector, chromedp.ByQuery),
			chromedp.SendKeys(input.Selector, input.Value, chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			return false, fmt.Errorf("fill %s: %w", input.Selector, err)
		}
	}

	stepCtx, cancel := context.WithTimeout(taskCtx, timeout)
	err = chromedp.Run(stepCtx, chromedp.Click(form.Submit, chromedp.ByQuery))
	cancel()
	if err != nil {
		return false, fmt.Errorf("submit login form: %w", err)
	}

	return b.awaitLoginOutcome(taskCtx, form, timeout)
}

// awaitLoginOutcome polls for a login signal until timeout elapses.
func (b *Browser) awaitLoginOutcome(ctx context.Context, form *config.FormAuth, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		success, failure, changed, err := b.loginSignals(ctx, form)
		if err == nil && (success || failure || changed) {
			ok := auth.JudgeLogin(success, failure, changed)
			b.logger.Info("Login form submitted",
				zap.Bool("success_marker", success),
				zap.Bool("error_marker", failure),
				zap.Bool("url_changed", changed),
				zap.Bool("authenticated", ok),
			)
			return ok, nil
		}
		if time.Now().After(deadline) {
			b.logger.Warn("Login may not have succeeded (URL unchanged and no success marker found)")
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("await login outcome: %w", ctx.Err())
		case <-time.After(loginPollInterval):
		}
	}
}

func (b *Browser) loginSignals(ctx context.Context, form *config.FormAuth) (bool, bool, bool, error) {
	var (
		location     string
		successNodes []*cdp.Node
		errorNodes   []*cdp.Node
	)
	actions := []chromedp.Action{chromedp.Location(&location)}
	if form.SuccessSelector != "" {
		actions = append(actions, chromedp.Nodes(form.SuccessSelector, &successNodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	}
	if form.ErrorSelector != "" {
		actions = append(actions, chromedp.Nodes(form.ErrorSelector, &errorNodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return false, false, false, err
	}
	return len(successNodes) > 0, len(errorNodes) > 0, urlChanged(form.LoginURL, location), nil
}

// ensureBrowser starts Chrome on first use.
func (b *Browser) ensureBrowser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Debug("Browser launched", zap.Bool("headless", b.cfg.Headless), zap.Strings("args", b.cfg.Args))
	return browserCtx, nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	for _, arg := range b.cfg.Args {
		name, value := browser.ParseArg(arg)
		if name == "" {
			continue
		}
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// newTab opens a tab bounded by the navigation timeout and by ctx.
func (b *Browser) newTab(ctx context.Context) (context.Context, func(), error) {
	browserCtx, err := b.ensureBrowser()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	stopForward := forwardCancel(ctx, cancelTask)
	return taskCtx, func() {
		stopForward()
		cancelTask()
		cancelTab()
	}, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	b.mu.Lock()
	headers := b.headers
	b.mu.Unlock()
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func screenshotAction(capture config.CaptureOptions, res *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var content *dom.Rect
		if capture.FullPage {
			_, _, _, _, _, cssContentSize, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return fmt.Errorf("get layout metrics: %w", err)
			}
			content = cssContentSize
		}
		var err error
		*res, err = screenshotParams(capture, content).Do(ctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		return nil
	})
}

// screenshotParams builds the capture request. A full page capture clips to
// the document size, since captureBeyondViewport alone still stops at the
// viewport.
func screenshotParams(capture config.CaptureOptions, content *dom.Rect) *page.CaptureScreenshotParams {
	params := page.CaptureScreenshot().
		WithFormat(screenshotFormat(capture.ImageType)).
		WithFromSurface(true)
	if capture.FullPage && content != nil && content.Width > 0 && content.Height > 0 {
		params = params.
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{Width: content.Width, Height: content.Height, Scale: 1})
	}
	if capture.Quality != nil && capture.ImageType != config.ImageTypePNG {
		params = params.WithQuality(int64(*capture.Quality))
	}
	return params
}

func screenshotFormat(imageType string) page.CaptureScreenshotFormat {
	switch imageType {
	case config.ImageTypeJPEG:
		return page.CaptureScreenshotFormatJpeg
	case config.ImageTypeWebP:
		return page.CaptureScreenshotFormatWebp
	default:
		return page.CaptureScreenshotFormatPng
	}
}

func toNetworkHeaders(h map[string]string) network.Headers {
	if len(h) == 0 {
		return nil
	}
	headers := network.Headers{}
	for key, value := range h {
		headers[key] = value
	}
	return headers
}

func toCookieParams(cookies []browser.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch c.SameSite {
		case "Strict", "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "Lax", "lax":
			param.SameSite = network.CookieSameSiteLax
		case "None", "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			expires := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return params
}

// urlChanged reports whether the page left the login URL.
func urlChanged(loginURL, current string) bool {
	if current == "" {
		return false
	}
	a, errA := urls.NormalizeURL(loginURL)
	c, errC := urls.NormalizeURL(current)
	if errA != nil || errC != nil {
		return loginURL != current
	}
	return a != c
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
