// Package rod implements browser.Service with go-rod.
package rod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/auth"
	"github.com/JakeFAU/webscreenshots/internal/browser"
	"github.com/JakeFAU/webscreenshots/internal/config"
	imagehash "github.com/JakeFAU/webscreenshots/internal/hash/sha256"
	"github.com/JakeFAU/webscreenshots/internal/output"
	"github.com/JakeFAU/webscreenshots/internal/storage"
	"github.com/JakeFAU/webscreenshots/internal/urls"
)

// Ensure Browser implements browser.Service at compile time.
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

// Browser drives a lazily launched Chrome through the DevTools protocol.
// Browser is safe for concurrent use by multiple goroutines.
type Browser struct {
	cfg    Config
	store  storage.BlobStore
	logger *zap.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	headers  []string
}

// New builds a Browser. Chrome is launched on the first operation.
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
		logger: logger.Named("rod"),
	}, nil
}

// ExtractLinks navigates to rawURL and returns its anchors.
func (b *Browser) ExtractLinks(ctx context.Context, rawURL string) ([]string, error) {
	page, release, err := b.newPage(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", rawURL, err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parse final url: %w", err)
	}
	return browser.ParseLinks(html, base)
}

// CaptureScreenshot renders rawURL at viewport and stores the image at outputPath.
func (b *Browser) CaptureScreenshot(ctx context.Context, rawURL, outputPath string, capture config.CaptureOptions, viewport *config.Viewport) error {
	page, release, err := b.newPage(ctx)
	if err != nil {
		return err
	}
	defer release()

	if viewport != nil {
		scale := viewport.DeviceScaleFactor
		if scale <= 0 {
			scale = 1
		}
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             viewport.Width,
			Height:            viewport.Height,
			DeviceScaleFactor: scale,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if err := page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", rawURL, err)
	}

	req := &proto.PageCaptureScreenshot{Format: screenshotFormat(capture.ImageType)}
	if capture.Quality != nil && capture.ImageType != config.ImageTypePNG {
		quality := *capture.Quality
		req.Quality = &quality
	}
	data, err := page.Screenshot(capture.FullPage, req)
	if err != nil {
		return fmt.Errorf("capture %s: %w", rawURL, err)
	}

	image := imagehash.NewReader(bytes.NewReader(data))
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

// SetAuthentication arms per-request headers or establishes a session.
func (b *Browser) SetAuthentication(ctx context.Context, opts *config.AuthOptions) (bool, error) {
	headers := toHeaderPairs(browser.RequestHeaders(opts))
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
		return b.applyCookies(opts.CookiesPath)
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

// Cleanup closes the browser and its launcher. It is a no-op before launch.
func (b *Browser) Cleanup(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	b.browser = nil
	b.launcher = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (b *Browser) applyCookies(path string) (bool, error) {
	cookies, err := browser.ReadCookies(path)
	if err != nil {
		return false, err
	}
	br, err := b.ensureBrowser()
	if err != nil {
		return false, err
	}

	if err := br.SetCookies(toCookieParams(cookies)); err != nil {
		return false, fmt.Errorf("set cookies: %w", err)
	}
	applied, err := br.GetCookies()
	if err != nil {
		return false, fmt.Errorf("read back cookies: %w", err)
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
	page, release, err := b.newPage(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := page.Navigate(form.LoginURL); err != nil {
		return false, fmt.Errorf("open login page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return false, fmt.Errorf("open login page: %w", err)
	}

	timeout := form.Timeout()
	for _, input := range form.Inputs {
		if err := fillInput(page, input, timeout); err != nil {
			return false, err
		}
	}
	if err := clickSubmit(page, form.Submit, timeout); err != nil {
		return false, err
	}
	return b.awaitLoginOutcome(ctx, page, form, timeout)
}

func fillInput(page *rod.Page, input config.FormInput, timeout time.Duration) error {
	step := page.Timeout(timeout)
	defer step.CancelTimeout()
	el, err := step.Element(input.Selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", input.Selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %s: %w", input.Selector, err)
	}
	if err := el.Input(input.Value); err != nil {
		return fmt.Errorf("fill %s: %w", input.Selector, err)
	}
	return nil
}

func clickSubmit(page *rod.Page, selector string, timeout time.Duration) error {
	step := page.Timeout(timeout)
	defer step.CancelTimeout()
	el, err := step.Element(selector)
	if err != nil {
		return fmt.Errorf("find submit %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	return nil
}

func (b *Browser) awaitLoginOutcome(ctx context.Context, page *rod.Page, form *config.FormAuth, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		success, failure, changed, err := loginSignals(page, form)
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

func loginSignals(page *rod.Page, form *config.FormAuth) (bool, bool, bool, error) {
	var success, failure bool
	if form.SuccessSelector != "" {
		has, _, err := page.Has(form.SuccessSelector)
		if err != nil {
			return false, false, false, err
		}
		success = has
	}
	if form.ErrorSelector != "" {
		has, _, err := page.Has(form.ErrorSelector)
		if err != nil {
			return false, false, false, err
		}
		failure = has
	}
	info, err := page.Info()
	if err != nil {
		return false, false, false, err
	}
	return success, failure, urlChanged(form.LoginURL, info.URL), nil
}

func (b *Browser) ensureBrowser() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := b.newLauncher()
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	b.launcher = l
	b.browser = br
	b.logger.Debug("Browser launched", zap.Bool("headless", b.cfg.Headless), zap.Strings("args", b.cfg.Args))
	return br, nil
}

func (b *Browser) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Set("disable-dev-shm-usage").
		Leakless(true).
		Headless(b.cfg.Headless)
	for _, arg := range b.cfg.Args {
		name, value := browser.ParseArg(arg)
		if name == "" {
			continue
		}
		if value == "" {
			l = l.Set(flags.Flag(name))
			continue
		}
		l = l.Set(flags.Flag(name), value)
	}
	return l
}

// newPage opens a page bound to ctx and the navigation timeout, with the
// per-request headers and user agent applied.
func (b *Browser) newPage(ctx context.Context) (*rod.Page, func(), error) {
	br, err := b.ensureBrowser()
	if err != nil {
		return nil, nil, err
	}
	raw, err := br.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	page := raw.Context(ctx).Timeout(b.cfg.NavigationTimeout)
	release := func() {
		page.CancelTimeout()
		_ = raw.Close()
	}

	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			release()
			return nil, nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	b.mu.Lock()
	headers := b.headers
	b.mu.Unlock()
	if len(headers) > 0 {
		if _, err := page.SetExtraHeaders(headers); err != nil {
			release()
			return nil, nil, fmt.Errorf("set extra headers: %w", err)
		}
	}
	return page, release, nil
}

func screenshotFormat(imageType string) proto.PageCaptureScreenshotFormat {
	switch imageType {
	case config.ImageTypeJPEG:
		return proto.PageCaptureScreenshotFormatJpeg
	case config.ImageTypeWebP:
		return proto.PageCaptureScreenshotFormatWebp
	default:
		return proto.PageCaptureScreenshotFormatPng
	}
}

func toHeaderPairs(h map[string]string) []string {
	if len(h) == 0 {
		return nil
	}
	pairs := make([]string, 0, 2*len(h))
	for key, value := range h {
		pairs = append(pairs, key, value)
	}
	return pairs
}

func toCookieParams(cookies []browser.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  proto.TimeSinceEpoch(c.Expires),
		}
		switch c.SameSite {
		case "Strict", "strict":
			param.SameSite = proto.NetworkCookieSameSiteStrict
		case "Lax", "lax":
			param.SameSite = proto.NetworkCookieSameSiteLax
		case "None", "none", "no_restriction":
			param.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, param)
	}
	return params
}

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
