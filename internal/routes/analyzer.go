// Package routes groups crawled URLs into route patterns so that pages which
// differ only by an identifier (/products/1, /products/2) count as one route.
package routes

import (
	"fmt"
	"net/url"
	"strings"
)

// DynamicSegment is the wildcard used in group patterns.
const DynamicSegment = ":dynamic"

// rootPattern is the group for the site root.
const rootPattern = "/"

// GroupInfo describes the group a URL belongs to.
type GroupInfo struct {
	Pattern string
	Count   int
}

type group struct {
	pattern  string
	segments []string
	count    int
}

// Analyzer keeps a deduplicated URL set and the groups derived from it.
// Groups are rebuilt from scratch on every change. Analyzer is not safe for
// concurrent use.
type Analyzer struct {
	classifier SegmentClassifier
	urls       []string
	known      map[string]struct{}
	groups     []*group
	index      map[string]*group
}

// NewAnalyzer builds an Analyzer seeded with initial. A nil classifier means
// the HeuristicClassifier.
func NewAnalyzer(classifier SegmentClassifier, initial ...string) (*Analyzer, error) {
	if classifier == nil {
		classifier = NewHeuristicClassifier()
	}
	a := &Analyzer{
		classifier: classifier,
		known:      make(map[string]struct{}),
		index:      make(map[string]*group),
	}
	if err := a.AddURLs(initial...); err != nil {
		return nil, err
	}
	return a, nil
}

// AddURLs registers more URLs and rebuilds the groups. Every URL is validated
// before any is added, so a bad batch leaves the Analyzer untouched.
func (a *Analyzer) AddURLs(rawURLs ...string) error {
	for _, raw := range rawURLs {
		if _, err := pathSegments(raw); err != nil {
			return err
		}
	}
	for _, raw := range rawURLs {
		if _, ok := a.known[raw]; ok {
			continue
		}
		a.known[raw] = struct{}{}
		a.urls = append(a.urls, raw)
	}
	a.rebuild()
	return nil
}

// GroupInfo returns the first group, in creation order, whose pattern matches
// rawURL segment by segment.
func (a *Analyzer) GroupInfo(rawURL string) (GroupInfo, bool, error) {
	segments, err := pathSegments(rawURL)
	if err != nil {
		return GroupInfo{}, false, err
	}
	for _, g := range a.groups {
		if matches(g.segments, segments) {
			return GroupInfo{Pattern: g.pattern, Count: g.count}, true, nil
		}
	}
	return GroupInfo{}, false, nil
}

// Groups returns a snapshot of every group in creation order.
func (a *Analyzer) Groups() []GroupInfo {
	out := make([]GroupInfo, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, GroupInfo{Pattern: g.pattern, Count: g.count})
	}
	return out
}

func (a *Analyzer) rebuild() {
	a.groups = a.groups[:0]
	clear(a.index)

	var (
		lengths  []int
		byLength = make(map[int][][]string)
	)
	for _, raw := range a.urls {
		// Validated on insert.
		segments, _ := pathSegments(raw)
		n := len(segments)
		if _, ok := byLength[n]; !ok {
			lengths = append(lengths, n)
		}
		byLength[n] = append(byLength[n], segments)
	}

	if roots, ok := byLength[0]; ok {
		a.add(rootPattern, len(roots))
	}

	for _, n := range lengths {
		if n == 0 {
			continue
		}
		var (
			prefixes []string
			byPrefix = make(map[string][][]string)
		)
		for _, segments := range byLength[n] {
			prefix := strings.Join(segments[:n-1], "/")
			if _, ok := byPrefix[prefix]; !ok {
				prefixes = append(prefixes, prefix)
			}
			byPrefix[prefix] = append(byPrefix[prefix], segments)
		}

		for _, prefix := range prefixes {
			members := byPrefix[prefix]
			if a.collapses(members, n-1) {
				pattern := "/" + DynamicSegment
				if prefix != "" {
					pattern = "/" + prefix + pattern
				}
				a.add(pattern, len(members))
				continue
			}
			for _, segments := range members {
				a.add("/"+strings.Join(segments, "/"), 1)
			}
		}
	}
}

// collapses reports whether members should share a :dynamic pattern: either
// every last segment is dynamic, or there are at least two distinct last
// segments and each distinct value is dynamic.
func (a *Analyzer) collapses(members [][]string, last int) bool {
	allDynamic := true
	unique := make(map[string]struct{})
	for _, segments := range members {
		seg := segments[last]
		unique[seg] = struct{}{}
		if !a.classifier.IsDynamicSegment(seg) {
			allDynamic = false
		}
	}
	if allDynamic {
		return true
	}
	if len(unique) < 2 {
		return false
	}
	for seg := range unique {
		if !a.classifier.IsDynamicSegment(seg) {
			return false
		}
	}
	return true
}

func (a *Analyzer) add(pattern string, count int) {
	if g, ok := a.index[pattern]; ok {
		g.count += count
		return
	}
	g := &group{
		pattern:  pattern,
		segments: splitPath(pattern),
		count:    count,
	}
	a.index[pattern] = g
	a.groups = append(a.groups, g)
}

func matches(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p == DynamicSegment {
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}

func pathSegments(raw string) ([]string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", raw)
	}
	return splitPath(u.Path), nil
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
