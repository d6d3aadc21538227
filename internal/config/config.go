// Package config resolves the run configuration from built-in defaults, an
// optional config file, WEBSCREENSHOTS__* environment variables and command
// line overrides, in that order of precedence.
package config

import "time"

// Supported values for the enumerated fields.
const (
	ImageTypePNG  = "png"
	ImageTypeJPEG = "jpeg"
	ImageTypeWebP = "webp"

	EngineChromedp = "chromedp"
	EngineRod      = "rod"

	LinkSourceBrowser = "browser"
	LinkSourceHTTP    = "http"

	AuthBasic  = "basic"
	AuthToken  = "token"
	AuthCookie = "cookie"
	AuthForm   = "form"
)

// Config is the fully resolved run configuration.
type Config struct {
	URL            string         `mapstructure:"url" validate:"required,abs_url"`
	OutputDir      string         `mapstructure:"outputDir" validate:"required"`
	OutputPattern  string         `mapstructure:"outputPattern" validate:"required"`
	Routes         []string       `mapstructure:"routes"`
	BrowserOptions BrowserOptions `mapstructure:"browserOptions"`
	CaptureOptions CaptureOptions `mapstructure:"captureOptions"`
	Viewports      []Viewport     `mapstructure:"viewports" validate:"required,min=1,unique=Name,dive"`
	Crawl          bool           `mapstructure:"crawl"`
	CrawlOptions   CrawlOptions   `mapstructure:"crawlOptions"`
	RetryOptions   RetryOptions   `mapstructure:"retryOptions"`
	AuthOptions    *AuthOptions   `mapstructure:"authOptions"`
	MetricsFile    string         `mapstructure:"metricsFile"`
}

// BrowserOptions control the browser session.
type BrowserOptions struct {
	Headless            bool     `mapstructure:"headless"`
	Args                []string `mapstructure:"args"`
	Engine              string   `mapstructure:"engine" validate:"oneof=chromedp rod"`
	NavigationTimeoutMs int      `mapstructure:"navigationTimeoutMs" validate:"gte=0"`
	UserAgent           string   `mapstructure:"userAgent"`
}

// NavigationTimeout returns the per-navigation budget.
func (b BrowserOptions) NavigationTimeout() time.Duration {
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// CaptureOptions control the screenshot encoding.
type CaptureOptions struct {
	FullPage  bool   `mapstructure:"fullPage"`
	ImageType string `mapstructure:"imageType" validate:"oneof=png jpeg webp"`
	Quality   *int   `mapstructure:"quality" validate:"omitempty,min=0,max=100"`
}

// Viewport is a named window size.
type Viewport struct {
	Name              string  `mapstructure:"name" json:"name" validate:"required"`
	Width             int     `mapstructure:"width" json:"width" validate:"gt=0"`
	Height            int     `mapstructure:"height" json:"height" validate:"gt=0"`
	DeviceScaleFactor float64 `mapstructure:"deviceScaleFactor" json:"deviceScaleFactor" validate:"gt=0"`
}

// CrawlOptions bound the link crawl. Zero limits mean unlimited.
type CrawlOptions struct {
	CrawlLimit         int      `mapstructure:"crawlLimit" validate:"gte=0"`
	ExcludeRoutes      []string `mapstructure:"excludeRoutes"`
	DynamicRoutesLimit int      `mapstructure:"dynamicRoutesLimit" validate:"gte=0"`
	LinkSource         string   `mapstructure:"linkSource" validate:"oneof=browser http"`
	RequestsPerSecond  float64  `mapstructure:"requestsPerSecond" validate:"gte=0"`
}

// RetryOptions is the shared retry policy.
type RetryOptions struct {
	MaxAttempts int `mapstructure:"maxAttempts" validate:"gte=1"`
	DelayMs     int `mapstructure:"delayMs" validate:"gte=0"`
}

// Delay returns the pause between failed attempts.
func (r RetryOptions) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// AuthOptions configure how the run authenticates against the site.
type AuthOptions struct {
	Method      string     `mapstructure:"method" validate:"required,oneof=basic token cookie form"`
	Basic       *BasicAuth `mapstructure:"basic" validate:"required_if=Method basic"`
	CookiesPath string     `mapstructure:"cookiesPath" validate:"required_if=Method cookie"`
	Form        *FormAuth  `mapstructure:"form" validate:"required_if=Method form"`
	Token       *TokenAuth `mapstructure:"token" validate:"required_if=Method token"`
}

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// TokenAuth is a header sent with every request.
type TokenAuth struct {
	Header string `mapstructure:"header" validate:"required"`
	Value  string `mapstructure:"value" validate:"required"`
}

// FormAuth describes a login form. Inputs are typed in order.
type FormAuth struct {
	LoginURL        string      `mapstructure:"loginUrl" validate:"required,url"`
	Inputs          []FormInput `mapstructure:"inputs" validate:"required,min=1,dive"`
	Submit          string      `mapstructure:"submit" validate:"required"`
	ErrorSelector   string      `mapstructure:"errorSelector"`
	SuccessSelector string      `mapstructure:"successSelector"`
	TimeoutMs       int         `mapstructure:"timeoutMs" validate:"gte=0"`
}

// DefaultFormTimeout bounds each form step when TimeoutMs is unset.
const DefaultFormTimeout = 5 * time.Second

// Timeout returns the form step budget.
func (f FormAuth) Timeout() time.Duration {
	if f.TimeoutMs <= 0 {
		return DefaultFormTimeout
	}
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// FormInput is one selector/value pair of a login form.
type FormInput struct {
	Selector string `mapstructure:"selector" json:"selector" validate:"required"`
	Value    string `mapstructure:"value" json:"value"`
}

// Defaults returns the built-in configuration. URL is intentionally empty.
func Defaults() Config {
	return Config{
		OutputDir:     "screenshots",
		OutputPattern: "{host}/{viewport}/{host}-{viewport}-{route}.{ext}",
		Routes:        []string{""},
		BrowserOptions: BrowserOptions{
			Headless:            true,
			Engine:              EngineChromedp,
			NavigationTimeoutMs: 30000,
		},
		CaptureOptions: CaptureOptions{
			FullPage:  true,
			ImageType: ImageTypePNG,
		},
		Viewports: []Viewport{
			{Name: "desktop", Width: 1920, Height: 1080, DeviceScaleFactor: 1},
		},
		Crawl: false,
		CrawlOptions: CrawlOptions{
			LinkSource: LinkSourceBrowser,
		},
		RetryOptions: RetryOptions{
			MaxAttempts: 3,
			DelayMs:     0,
		},
	}
}
