package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	assert.Empty(t, cfg.URL)
	assert.Equal(t, "screenshots", cfg.OutputDir)
	assert.Equal(t, "{host}/{viewport}/{host}-{viewport}-{route}.{ext}", cfg.OutputPattern)
	assert.Equal(t, []string{""}, cfg.Routes)
	assert.True(t, cfg.BrowserOptions.Headless)
	assert.True(t, cfg.CaptureOptions.FullPage)
	assert.Equal(t, ImageTypePNG, cfg.CaptureOptions.ImageType)
	assert.Equal(t, []Viewport{{Name: "desktop", Width: 1920, Height: 1080, DeviceScaleFactor: 1}}, cfg.Viewports)
	assert.False(t, cfg.Crawl)
	assert.Equal(t, RetryOptions{MaxAttempts: 3, DelayMs: 0}, cfg.RetryOptions)
	assert.Nil(t, cfg.AuthOptions)
}

func TestMergePrecedenceAndObjectMerge(t *testing.T) {
	t.Parallel()

	file := Partial{
		URL:            Ptr("https://file.example"),
		Routes:         []string{"/a", "/b"},
		CaptureOptions: &CaptureOptionsPartial{ImageType: Ptr(ImageTypeJPEG), Quality: Ptr(70)},
		RetryOptions:   &RetryOptionsPartial{DelayMs: Ptr(250)},
	}
	env := Partial{
		OutputDir:      Ptr("env-out"),
		Routes:         []string{"/c"},
		CaptureOptions: &CaptureOptionsPartial{FullPage: Ptr(false)},
	}
	overrides := Partial{
		OutputDir:    Ptr("override-out"),
		RetryOptions: &RetryOptionsPartial{MaxAttempts: Ptr(5)},
	}

	cfg := Merge(Defaults(), file, env, overrides)

	assert.Equal(t, "https://file.example", cfg.URL)
	assert.Equal(t, "override-out", cfg.OutputDir)
	assert.Equal(t, []string{"/c"}, cfg.Routes, "lists are replaced whole")
	assert.Equal(t, ImageTypeJPEG, cfg.CaptureOptions.ImageType)
	assert.False(t, cfg.CaptureOptions.FullPage)
	require.NotNil(t, cfg.CaptureOptions.Quality)
	assert.Equal(t, 70, *cfg.CaptureOptions.Quality)
	assert.Equal(t, RetryOptions{MaxAttempts: 5, DelayMs: 250}, cfg.RetryOptions)
	assert.Equal(t, Defaults().Viewports, cfg.Viewports)
}

func TestMergeAuthIsShallow(t *testing.T) {
	t.Parallel()

	file := Partial{AuthOptions: &AuthOptionsPartial{
		Method: Ptr(AuthBasic),
		Basic:  &BasicAuth{Username: "file-user", Password: "file-pass"},
	}}
	env := Partial{AuthOptions: &AuthOptionsPartial{
		Basic: &BasicAuth{Username: "env-user"},
	}}

	cfg := Merge(Defaults(), file, env)

	require.NotNil(t, cfg.AuthOptions)
	assert.Equal(t, AuthBasic, cfg.AuthOptions.Method)
	assert.Equal(t, &BasicAuth{Username: "env-user"}, cfg.AuthOptions.Basic)
}

func TestMergeDoesNotAliasBase(t *testing.T) {
	t.Parallel()

	base := Defaults()
	cfg := Merge(base)
	cfg.Routes[0] = "/mutated"
	cfg.Viewports[0].Name = "mutated"

	assert.Equal(t, []string{""}, base.Routes)
	assert.Equal(t, "desktop", base.Viewports[0].Name)
}

func TestLoadFileJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "custom.json", `{
  "url": "https://from-file.com",
  "outputDir": "file-screenshots",
  "routes": ["/home", "/about"],
  "browserOptions": {"headless": false, "args": ["--no-sandbox", "--disable-gpu"]},
  "captureOptions": {"fullPage": true, "imageType": "jpeg", "quality": 80},
  "crawl": true,
  "crawlOptions": {"crawlLimit": 10, "excludeRoutes": ["/private", "/login"], "dynamicRoutesLimit": 5},
  "viewports": [
    {"name": "mobile", "width": 375, "height": 667, "deviceScaleFactor": 2},
    {"name": "desktop", "width": 1920, "height": 1080}
  ],
  "retryOptions": {"maxAttempts": 4, "delayMs": 1000},
  "authOptions": {
    "method": "form",
    "form": {
      "loginUrl": "https://from-file.com/login",
      "inputs": [{"selector": "#Email", "value": "a@b.c"}, {"selector": "#Password", "value": "pw"}],
      "submit": "button[type=submit]"
    }
  }
}`)

	res, err := LoadFile(path, "")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, path, res.Path)

	layer := res.Layer
	assert.Equal(t, "https://from-file.com", *layer.URL)
	assert.Equal(t, "file-screenshots", *layer.OutputDir)
	assert.Nil(t, layer.OutputPattern)
	assert.Equal(t, []string{"/home", "/about"}, layer.Routes)
	assert.False(t, *layer.BrowserOptions.Headless)
	assert.Equal(t, []string{"--no-sandbox", "--disable-gpu"}, layer.BrowserOptions.Args)
	assert.Equal(t, "jpeg", *layer.CaptureOptions.ImageType)
	assert.Equal(t, 80, *layer.CaptureOptions.Quality)
	assert.True(t, *layer.Crawl)
	assert.Equal(t, 10, *layer.CrawlOptions.CrawlLimit)
	assert.Equal(t, []string{"/private", "/login"}, layer.CrawlOptions.ExcludeRoutes)
	assert.Equal(t, 5, *layer.CrawlOptions.DynamicRoutesLimit)
	assert.Equal(t, []Viewport{
		{Name: "mobile", Width: 375, Height: 667, DeviceScaleFactor: 2},
		{Name: "desktop", Width: 1920, Height: 1080},
	}, layer.Viewports)
	assert.Equal(t, 4, *layer.RetryOptions.MaxAttempts)
	assert.Equal(t, 1000, *layer.RetryOptions.DelayMs)
	require.NotNil(t, layer.AuthOptions.Form)
	assert.Equal(t, []FormInput{{Selector: "#Email", Value: "a@b.c"}, {Selector: "#Password", Value: "pw"}}, layer.AuthOptions.Form.Inputs)
}

func TestLoadFileFormInputsMapKeepsSelectors(t *testing.T) {
	t.Parallel()

	want := []FormInput{
		{Selector: "#userName", Value: "alice"},
		{Selector: "input.password", Value: "s3cret"},
		{Selector: "#Remember", Value: "true"},
		{Selector: "#pin", Value: "1234"},
	}
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "webscreenshots.json",
			content: `{"authOptions": {"method": "form", "form": {
  "loginUrl": "https://example.com/login",
  "inputs": {"#userName": "alice", "input.password": "s3cret", "#Remember": true, "#pin": 1234},
  "submit": "#go"}}}`,
		},
		{
			name: "yaml",
			file: "webscreenshots.yaml",
			content: `authOptions:
  method: form
  form:
    loginUrl: https://example.com/login
    inputs:
      "#userName": alice
      input.password: s3cret
      "#Remember": true
      "#pin": 1234
    submit: "#go"
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, tc.file, tc.content)

			res, err := LoadFile("", dir)
			require.NoError(t, err)
			require.NotNil(t, res.Layer.AuthOptions)
			require.NotNil(t, res.Layer.AuthOptions.Form)
			assert.Equal(t, want, res.Layer.AuthOptions.Form.Inputs)
			assert.Equal(t, "#go", res.Layer.AuthOptions.Form.Submit)
		})
	}
}

func TestLoadFileFormInputsMapRejectedInTOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "webscreenshots.toml", `[authOptions]
method = "form"

[authOptions.form]
loginUrl = "https://example.com/login"
submit = "#go"

[authOptions.form.inputs]
"#userName" = "alice"
`)

	_, err := LoadFile(path, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errInputsMapUnsupported)
}

func TestLoadFileFormInputsListInTOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "webscreenshots.toml", `[authOptions]
method = "form"

[authOptions.form]
loginUrl = "https://example.com/login"
submit = "#go"

[[authOptions.form.inputs]]
selector = "#userName"
value = "alice"
`)

	res, err := LoadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, []FormInput{{Selector: "#userName", Value: "alice"}}, res.Layer.AuthOptions.Form.Inputs)
}

func TestLoadEnvFormInputsMapKeepsOrder(t *testing.T) {
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__FORM__INPUTS", `{"#zeta":"1","#Alpha":"2"}`)

	layer, err := LoadEnv()
	require.NoError(t, err)
	require.NotNil(t, layer.AuthOptions)
	require.NotNil(t, layer.AuthOptions.Form)
	assert.Equal(t, []FormInput{{Selector: "#zeta", Value: "1"}, {Selector: "#Alpha", Value: "2"}}, layer.AuthOptions.Form.Inputs)
}

func TestLoadFileDiscoversYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "webscreenshots.yaml", "url: https://yaml.example\nretryOptions:\n  maxAttempts: 2\n")

	res, err := LoadFile("", dir)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "https://yaml.example", *res.Layer.URL)
	assert.Equal(t, 2, *res.Layer.RetryOptions.MaxAttempts)
}

func TestLoadFileMissingDiscoveredFileIsNotAnError(t *testing.T) {
	t.Parallel()

	res, err := LoadFile("", t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.True(t, res.Layer.IsZero())
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", "{bad json}")

	_, err := LoadFile(filepath.Join(dir, "nonexistent.json"), "")
	assert.Error(t, err, "explicit missing file is fatal")

	_, err = LoadFile(bad, "")
	assert.Error(t, err, "unparseable file is fatal")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WEBSCREENSHOTS__URL", "https://example.com")
	t.Setenv("WEBSCREENSHOTS__OUTPUTDIR", "custom-screenshots")
	t.Setenv("WEBSCREENSHOTS__OUTPUTPATTERN", "{host}/{route}/{viewport}.{ext}")
	t.Setenv("WEBSCREENSHOTS__ROUTES", "/home,/about")
	t.Setenv("WEBSCREENSHOTS__BROWSEROPTIONS__HEADLESS", "false")
	t.Setenv("WEBSCREENSHOTS__BROWSEROPTIONS__ARGS", "--no-sandbox,--disable-gpu")
	t.Setenv("WEBSCREENSHOTS__CAPTUREOPTIONS__FULLPAGE", "true")
	t.Setenv("WEBSCREENSHOTS__CAPTUREOPTIONS__IMAGETYPE", "jpeg")
	t.Setenv("WEBSCREENSHOTS__CAPTUREOPTIONS__QUALITY", "80")
	t.Setenv("WEBSCREENSHOTS__VIEWPORTS", `[{"name":"mobile","width":375,"height":667,"deviceScaleFactor":2},{"name":"desktop","width":1920,"height":1080}]`)
	t.Setenv("WEBSCREENSHOTS__CRAWL", "true")
	t.Setenv("WEBSCREENSHOTS__CRAWLOPTIONS__CRAWLLIMIT", "10")
	t.Setenv("WEBSCREENSHOTS__CRAWLOPTIONS__EXCLUDEROUTES", "/private,/login")
	t.Setenv("WEBSCREENSHOTS__CRAWLOPTIONS__DYNAMICROUTESLIMIT", "5")
	t.Setenv("WEBSCREENSHOTS__RETRYOPTIONS__MAXATTEMPTS", "4")
	t.Setenv("WEBSCREENSHOTS__RETRYOPTIONS__DELAYMS", "1000")
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__METHOD", "form")
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__FORM__LOGINURL", "https://example.com/login")
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__FORM__INPUTS", `{"#user":"bob","#pass":"secret"}`)
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__FORM__SUBMIT", "#go")
	t.Setenv("WEBSCREENSHOTS__AUTHOPTIONS__FORM__TIMEOUT_MS", "2500")

	layer, err := LoadEnv()
	require.NoError(t, err)

	cfg := Finalize(Merge(Defaults(), layer))
	assert.Equal(t, "https://example.com", cfg.URL)
	assert.Equal(t, "custom-screenshots", cfg.OutputDir)
	assert.Equal(t, "{host}/{route}/{viewport}.{ext}", cfg.OutputPattern)
	assert.Equal(t, []string{"/home", "/about"}, cfg.Routes)
	assert.False(t, cfg.BrowserOptions.Headless)
	assert.Equal(t, []string{"--no-sandbox", "--disable-gpu"}, cfg.BrowserOptions.Args)
	assert.True(t, cfg.CaptureOptions.FullPage)
	assert.Equal(t, "jpeg", cfg.CaptureOptions.ImageType)
	assert.Equal(t, 80, *cfg.CaptureOptions.Quality)
	assert.Equal(t, []Viewport{
		{Name: "mobile", Width: 375, Height: 667, DeviceScaleFactor: 2},
		{Name: "desktop", Width: 1920, Height: 1080, DeviceScaleFactor: 1},
	}, cfg.Viewports)
	assert.True(t, cfg.Crawl)
	assert.Equal(t, CrawlOptions{
		CrawlLimit:         10,
		ExcludeRoutes:      []string{"/private", "/login"},
		DynamicRoutesLimit: 5,
		LinkSource:         LinkSourceBrowser,
	}, cfg.CrawlOptions)
	assert.Equal(t, RetryOptions{MaxAttempts: 4, DelayMs: 1000}, cfg.RetryOptions)

	require.NotNil(t, cfg.AuthOptions)
	require.NotNil(t, cfg.AuthOptions.Form)
	assert.Equal(t, []FormInput{{Selector: "#user", Value: "bob"}, {Selector: "#pass", Value: "secret"}}, cfg.AuthOptions.Form.Inputs)
	assert.Equal(t, 2500*time.Millisecond, cfg.AuthOptions.Form.Timeout())
	assert.Nil(t, cfg.AuthOptions.Basic)
}

func TestLoadEnvOnlySetsWhatIsPresent(t *testing.T) {
	t.Setenv("WEBSCREENSHOTS__URL", "https://example.com")
	t.Setenv("WEBSCREENSHOTS__CAPTUREOPTIONS__FULLPAGE", "true")
	t.Setenv("WEBSCREENSHOTS__OUTPUTDIR", "")

	layer, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", *layer.URL)
	assert.Nil(t, layer.OutputDir, "empty variables count as unset")
	require.NotNil(t, layer.CaptureOptions)
	assert.True(t, *layer.CaptureOptions.FullPage)
	assert.Nil(t, layer.CaptureOptions.ImageType)
	assert.Nil(t, layer.BrowserOptions)
	assert.Nil(t, layer.AuthOptions)
}

func TestLoadEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("WEBSCREENSHOTS__VIEWPORTS", `[{"name":`)

	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestValidateAggregatesViolations(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.CaptureOptions.ImageType = "gif"
	cfg.RetryOptions.MaxAttempts = 0
	cfg.Viewports = []Viewport{{Name: "", Width: 0, Height: 10, DeviceScaleFactor: 1}}

	err := Validate(cfg)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	paths := make([]string, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		paths = append(paths, v.Path)
	}
	assert.ElementsMatch(t, []string{
		"url",
		"captureOptions.imageType",
		"viewports[0].name",
		"viewports[0].width",
		"retryOptions.maxAttempts",
	}, paths)
	assert.Contains(t, err.Error(), "captureOptions.imageType must be one of [png, jpeg, webp]")
	assert.Len(t, verr.Unwrap(), len(verr.Violations))
}

func TestValidateAuthConditionalRequirements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		auth  *AuthOptions
		paths []string
	}{
		{name: "form missing everything", auth: &AuthOptions{Method: AuthForm}, paths: []string{"authOptions.form"}},
		{
			name:  "form missing fields",
			auth:  &AuthOptions{Method: AuthForm, Form: &FormAuth{LoginURL: "https://example.com/login"}},
			paths: []string{"authOptions.form.inputs", "authOptions.form.submit"},
		},
		{name: "basic missing block", auth: &AuthOptions{Method: AuthBasic}, paths: []string{"authOptions.basic"}},
		{name: "token missing value", auth: &AuthOptions{Method: AuthToken, Token: &TokenAuth{Header: "X-Auth"}}, paths: []string{"authOptions.token.value"}},
		{name: "cookie missing path", auth: &AuthOptions{Method: AuthCookie}, paths: []string{"authOptions.cookiesPath"}},
		{name: "unknown method", auth: &AuthOptions{Method: "oauth"}, paths: []string{"authOptions.method"}},
		{name: "valid token", auth: &AuthOptions{Method: AuthToken, Token: &TokenAuth{Header: "X-Auth", Value: "t"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			cfg.URL = "https://example.com"
			cfg.AuthOptions = tc.auth

			err := Validate(cfg)
			if len(tc.paths) == 0 {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "error = %v", err)
			got := make([]string, 0, len(verr.Violations))
			for _, v := range verr.Violations {
				got = append(got, v.Path)
			}
			assert.ElementsMatch(t, tc.paths, got)
		})
	}
}

func TestValidateRejectsDuplicateViewportNames(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.URL = "example.com"
	cfg.Viewports = append(cfg.Viewports, cfg.Viewports[0])

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "viewports must not repeat Name")
}

func TestResolveLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "webscreenshots.json", `{"url": "https://file.com", "captureOptions": {"imageType": "webp"}}`)
	writeFile(t, dir, ".env", "WEBSCREENSHOTS__OUTPUTDIR=dotenv-output\nWEBSCREENSHOTS__RETRYOPTIONS__DELAYMS=50\n")
	t.Setenv("WEBSCREENSHOTS__RETRYOPTIONS__DELAYMS", "75")

	core, logs := observer.New(zapcore.InfoLevel)
	cfg, err := Resolve(zap.New(core), Options{
		Dir:       dir,
		Overrides: Partial{OutputDir: Ptr("override-output")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Unsetenv("WEBSCREENSHOTS__OUTPUTDIR") })

	assert.Equal(t, "https://file.com", cfg.URL)
	assert.Equal(t, "override-output", cfg.OutputDir)
	assert.Equal(t, []string{""}, cfg.Routes)
	assert.Equal(t, "webp", cfg.CaptureOptions.ImageType)
	assert.True(t, cfg.CaptureOptions.FullPage)
	assert.Equal(t, 75, cfg.RetryOptions.DelayMs, ".env never overrides the real environment")
	assert.Equal(t, 1, logs.FilterMessage("Loaded config from file").Len())
}

func TestResolveRequiresURL(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_, err := Resolve(zap.New(core), Options{Dir: t.TempDir()})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "error = %v", err)
	assert.Equal(t, "url", verr.Violations[0].Path)
	assert.Equal(t, 1, logs.FilterMessage("No config file found, using defaults").Len())
}

func TestResolveFailsOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "webscreenshots.json", "{not json")

	_, err := Resolve(nil, Options{Dir: dir, SkipDotenv: true})
	assert.Error(t, err)
}
