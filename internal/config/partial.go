package config

// Partial is one configuration layer. Nil pointers and nil slices mean the
// layer does not set the field.
type Partial struct {
	URL            *string                `mapstructure:"url"`
	OutputDir      *string                `mapstructure:"outputDir"`
	OutputPattern  *string                `mapstructure:"outputPattern"`
	Routes         []string               `mapstructure:"routes"`
	BrowserOptions *BrowserOptionsPartial `mapstructure:"browserOptions"`
	CaptureOptions *CaptureOptionsPartial `mapstructure:"captureOptions"`
	Viewports      []Viewport             `mapstructure:"viewports"`
	Crawl          *bool                  `mapstructure:"crawl"`
	CrawlOptions   *CrawlOptionsPartial   `mapstructure:"crawlOptions"`
	RetryOptions   *RetryOptionsPartial   `mapstructure:"retryOptions"`
	AuthOptions    *AuthOptionsPartial    `mapstructure:"authOptions"`
	MetricsFile    *string                `mapstructure:"metricsFile"`
}

// BrowserOptionsPartial mirrors BrowserOptions.
type BrowserOptionsPartial struct {
	Headless            *bool    `mapstructure:"headless"`
	Args                []string `mapstructure:"args"`
	Engine              *string  `mapstructure:"engine"`
	NavigationTimeoutMs *int     `mapstructure:"navigationTimeoutMs"`
	UserAgent           *string  `mapstructure:"userAgent"`
}

// CaptureOptionsPartial mirrors CaptureOptions.
type CaptureOptionsPartial struct {
	FullPage  *bool   `mapstructure:"fullPage"`
	ImageType *string `mapstructure:"imageType"`
	Quality   *int    `mapstructure:"quality"`
}

// CrawlOptionsPartial mirrors CrawlOptions.
type CrawlOptionsPartial struct {
	CrawlLimit         *int     `mapstructure:"crawlLimit"`
	ExcludeRoutes      []string `mapstructure:"excludeRoutes"`
	DynamicRoutesLimit *int     `mapstructure:"dynamicRoutesLimit"`
	LinkSource         *string  `mapstructure:"linkSource"`
	RequestsPerSecond  *float64 `mapstructure:"requestsPerSecond"`
}

// RetryOptionsPartial mirrors RetryOptions.
type RetryOptionsPartial struct {
	MaxAttempts *int `mapstructure:"maxAttempts"`
	DelayMs     *int `mapstructure:"delayMs"`
}

// AuthOptionsPartial mirrors AuthOptions. Nested method blocks are replaced
// whole, not merged.
type AuthOptionsPartial struct {
	Method      *string    `mapstructure:"method"`
	Basic       *BasicAuth `mapstructure:"basic"`
	CookiesPath *string    `mapstructure:"cookiesPath"`
	Form        *FormAuth  `mapstructure:"form"`
	Token       *TokenAuth `mapstructure:"token"`
}

// IsZero reports whether the layer sets nothing.
func (p Partial) IsZero() bool {
	return p.URL == nil && p.OutputDir == nil && p.OutputPattern == nil &&
		p.Routes == nil && p.BrowserOptions == nil && p.CaptureOptions == nil &&
		p.Viewports == nil && p.Crawl == nil && p.CrawlOptions == nil &&
		p.RetryOptions == nil && p.AuthOptions == nil && p.MetricsFile == nil
}

// Merge applies layers over base in order, later layers winning. Object
// fields merge key by key; scalars and lists are replaced whole.
func Merge(base Config, layers ...Partial) Config {
	cfg := base
	cfg.Routes = cloneStrings(base.Routes)
	cfg.Viewports = append([]Viewport(nil), base.Viewports...)
	cfg.BrowserOptions.Args = cloneStrings(base.BrowserOptions.Args)
	cfg.CrawlOptions.ExcludeRoutes = cloneStrings(base.CrawlOptions.ExcludeRoutes)
	if base.AuthOptions != nil {
		auth := *base.AuthOptions
		cfg.AuthOptions = &auth
	}
	for _, layer := range layers {
		layer.applyTo(&cfg)
	}
	return cfg
}

func (p Partial) applyTo(cfg *Config) {
	setIf(&cfg.URL, p.URL)
	setIf(&cfg.OutputDir, p.OutputDir)
	setIf(&cfg.OutputPattern, p.OutputPattern)
	if p.Routes != nil {
		cfg.Routes = cloneStrings(p.Routes)
	}
	if p.Viewports != nil {
		cfg.Viewports = append([]Viewport(nil), p.Viewports...)
	}
	setIf(&cfg.Crawl, p.Crawl)
	setIf(&cfg.MetricsFile, p.MetricsFile)

	if b := p.BrowserOptions; b != nil {
		setIf(&cfg.BrowserOptions.Headless, b.Headless)
		if b.Args != nil {
			cfg.BrowserOptions.Args = cloneStrings(b.Args)
		}
		setIf(&cfg.BrowserOptions.Engine, b.Engine)
		setIf(&cfg.BrowserOptions.NavigationTimeoutMs, b.NavigationTimeoutMs)
		setIf(&cfg.BrowserOptions.UserAgent, b.UserAgent)
	}
	if c := p.CaptureOptions; c != nil {
		setIf(&cfg.CaptureOptions.FullPage, c.FullPage)
		setIf(&cfg.CaptureOptions.ImageType, c.ImageType)
		if c.Quality != nil {
			q := *c.Quality
			cfg.CaptureOptions.Quality = &q
		}
	}
	if c := p.CrawlOptions; c != nil {
		setIf(&cfg.CrawlOptions.CrawlLimit, c.CrawlLimit)
		if c.ExcludeRoutes != nil {
			cfg.CrawlOptions.ExcludeRoutes = cloneStrings(c.ExcludeRoutes)
		}
		setIf(&cfg.CrawlOptions.DynamicRoutesLimit, c.DynamicRoutesLimit)
		setIf(&cfg.CrawlOptions.LinkSource, c.LinkSource)
		setIf(&cfg.CrawlOptions.RequestsPerSecond, c.RequestsPerSecond)
	}
	if r := p.RetryOptions; r != nil {
		setIf(&cfg.RetryOptions.MaxAttempts, r.MaxAttempts)
		setIf(&cfg.RetryOptions.DelayMs, r.DelayMs)
	}
	if a := p.AuthOptions; a != nil {
		if cfg.AuthOptions == nil {
			cfg.AuthOptions = &AuthOptions{}
		}
		setIf(&cfg.AuthOptions.Method, a.Method)
		setIf(&cfg.AuthOptions.CookiesPath, a.CookiesPath)
		if a.Basic != nil {
			basic := *a.Basic
			cfg.AuthOptions.Basic = &basic
		}
		if a.Form != nil {
			form := *a.Form
			form.Inputs = append([]FormInput(nil), a.Form.Inputs...)
			cfg.AuthOptions.Form = &form
		}
		if a.Token != nil {
			token := *a.Token
			cfg.AuthOptions.Token = &token
		}
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// Ptr returns a pointer to v; handy when building override layers.
func Ptr[T any](v T) *T {
	return &v
}
