// Package urls normalises site URLs and routes so the crawler, the capture
// loop and the output naming agree on identity.
package urls

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned when input cannot be turned into an absolute URL.
var ErrInvalidURL = errors.New("invalid URL")

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*://`)

// NormalizeURL turns user input into an absolute URL string.
// Input without a scheme is assumed to be https. The scheme and host are
// lowercased, default ports dropped, the fragment removed and an empty path
// becomes "/". Repeated trailing slashes collapse to one.
func NormalizeURL(input string) (string, error) {
	u, err := Parse(input)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Parse is NormalizeURL returning the parsed form.
func Parse(input string) (*url.URL, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, input)
	}
	if !schemePrefix.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, input, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, input)
	}
	canonicalize(u)
	u.Path = collapseTrailingSlashes(u.Path)
	u.RawPath = collapseTrailingSlashes(u.RawPath)
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// collapseTrailingSlashes turns a run of trailing slashes into one.
func collapseTrailingSlashes(p string) string {
	if !strings.HasSuffix(p, "//") {
		return p
	}
	return strings.TrimRight(p, "/") + "/"
}

// Canonical returns the identity form of an absolute URL: lowercased scheme
// and host, no default port, no fragment. Unlike Parse it never adds a
// scheme, so relative input is rejected.
func Canonical(raw string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	canonicalize(u)
	return u.String(), u, nil
}

func canonicalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
}

// NormalizeRoute strips trailing slashes; "/" becomes "".
func NormalizeRoute(route string) string {
	return strings.TrimRight(route, "/")
}

// Route returns the normalised path of an absolute URL.
func Route(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	return NormalizeRoute(u.Path), nil
}

// Resolve resolves route against base the way a browser resolves a link.
func Resolve(base *url.URL, route string) (string, error) {
	ref, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("%w: route %q: %v", ErrInvalidURL, route, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// SameOrigin reports whether a and b share scheme and host (port included).
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
