// Package browser defines the browser automation contract used by the crawl
// and capture stages, plus helpers shared by the engines that implement it.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscreenshots/internal/config"
)

// Service drives a single shared browser session.
type Service interface {
	// ExtractLinks loads url and returns the absolute hrefs of its anchors.
	ExtractLinks(ctx context.Context, url string) ([]string, error)
	// CaptureScreenshot renders url at viewport and writes the image to outputPath.
	CaptureScreenshot(ctx context.Context, url, outputPath string, capture config.CaptureOptions, viewport *config.Viewport) error
	// SetAuthentication records auth for the session. Session methods (cookie,
	// form) are established immediately; per-request methods are armed.
	SetAuthentication(ctx context.Context, auth *config.AuthOptions) (bool, error)
	// Cleanup releases the browser. It is safe to call when nothing was launched.
	Cleanup(ctx context.Context) error
}

// ErrNoCookies is returned when a cookie file holds an empty list.
var ErrNoCookies = errors.New("no cookies found in cookie file")

// Cookie is one entry of a cookie file, in the DevTools export format.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ReadCookies loads a JSON cookie list from path.
func ReadCookies(path string) ([]Cookie, error) {
	// #nosec G304 -- path comes from the run configuration.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("parse cookies from %s: %w", path, err)
	}
	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	return cookies, nil
}

// IsPerRequest reports whether auth is applied to every page load rather
// than established once for the session.
func IsPerRequest(auth *config.AuthOptions) bool {
	if auth == nil {
		return false
	}
	return auth.Method == config.AuthBasic || auth.Method == config.AuthToken
}

// RequestHeaders returns the extra headers a per-request method adds to each
// navigation. Session methods and incomplete credentials yield nil.
func RequestHeaders(auth *config.AuthOptions) map[string]string {
	if auth == nil {
		return nil
	}
	switch auth.Method {
	case config.AuthBasic:
		if auth.Basic == nil || auth.Basic.Username == "" || auth.Basic.Password == "" {
			return nil
		}
		token := base64.StdEncoding.EncodeToString([]byte(auth.Basic.Username + ":" + auth.Basic.Password))
		return map[string]string{"Authorization": "Basic " + token}
	case config.AuthToken:
		if auth.Token == nil || auth.Token.Header == "" || auth.Token.Value == "" {
			return nil
		}
		return map[string]string{auth.Token.Header: auth.Token.Value}
	default:
		return nil
	}
}

// ParseLinks returns the http(s) anchors of an HTML document resolved
// against base, deduplicated in document order.
func ParseLinks(html string, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

// ParseArg splits a command-line switch such as "--window-size=800,600" into
// its flag name and value. A bare switch has an empty value.
func ParseArg(arg string) (string, string) {
	trimmed := strings.TrimLeft(strings.TrimSpace(arg), "-")
	name, value, _ := strings.Cut(trimmed, "=")
	return name, value
}
