// Package output renders screenshot destinations from the output pattern.
package output

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Placeholders understood by FilePath.
const (
	PlaceholderHost      = "{host}"
	PlaceholderViewport  = "{viewport}"
	PlaceholderRoute     = "{route}"
	PlaceholderExt       = "{ext}"
	PlaceholderTimestamp = "{timestamp}"
)

// gcsScheme marks an output directory that lives in a GCS bucket.
const gcsScheme = "gs://"

var whitespace = regexp.MustCompile(`\s+`)

// Options describe one screenshot destination.
type Options struct {
	URL       string
	Viewport  string
	Extension string
	Pattern   string
	OutputDir string
	Timestamp time.Time
}

// FilePath substitutes the placeholders in Options.Pattern and joins the
// result onto Options.OutputDir. Query strings and fragments never reach the
// file name.
func FilePath(opts Options) (string, error) {
	parsed, err := url.Parse(opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse screenshot url: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("screenshot url %q has no host", opts.URL)
	}

	resolved := strings.NewReplacer(
		PlaceholderHost, Host(parsed.Hostname()),
		PlaceholderViewport, Viewport(opts.Viewport),
		PlaceholderRoute, Route(parsed.Path),
		PlaceholderExt, opts.Extension,
		PlaceholderTimestamp, Timestamp(opts.Timestamp),
	).Replace(opts.Pattern)

	return Join(opts.OutputDir, resolved), nil
}

// Host replaces dots so the host is usable as a directory name.
func Host(hostname string) string {
	return strings.ReplaceAll(hostname, ".", "-")
}

// Route flattens a URL path into a single name; the root becomes "home".
func Route(p string) string {
	safe := strings.Trim(strings.ReplaceAll(p, "/", "-"), "-")
	if safe == "" {
		return "home"
	}
	return safe
}

// Viewport lowercases a viewport name and collapses whitespace to dashes.
func Viewport(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(name), "-")
}

// Timestamp formats t as an ISO-8601 UTC instant with ':' and '.' replaced.
func Timestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// Join joins rel onto dir. gs:// directories keep their scheme intact.
func Join(dir, rel string) string {
	if strings.HasPrefix(dir, gcsScheme) {
		return gcsScheme + path.Join(strings.TrimPrefix(dir, gcsScheme), rel)
	}
	return filepath.Join(dir, rel)
}

// ContentType maps an image type to its MIME type.
func ContentType(imageType string) string {
	switch strings.ToLower(imageType) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
