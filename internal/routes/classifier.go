package routes

import "regexp"

// SegmentClassifier decides whether a path segment looks like an identifier
// rather than a fixed route name.
type SegmentClassifier interface {
	IsDynamicSegment(segment string) bool
}

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	slugSegment    = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	hasLetter      = regexp.MustCompile(`[a-zA-Z]`)
	hasDigit       = regexp.MustCompile(`\d`)
)

// HeuristicClassifier flags numeric ids, UUIDs and mixed letter/digit slugs.
type HeuristicClassifier struct{}

// NewHeuristicClassifier returns the default classifier.
func NewHeuristicClassifier() HeuristicClassifier {
	return HeuristicClassifier{}
}

// IsDynamicSegment implements SegmentClassifier.
func (HeuristicClassifier) IsDynamicSegment(segment string) bool {
	switch {
	case numericSegment.MatchString(segment):
		return true
	case uuidSegment.MatchString(segment):
		return true
	default:
		return slugSegment.MatchString(segment) &&
			hasLetter.MatchString(segment) &&
			hasDigit.MatchString(segment)
	}
}

// ClassifierFunc adapts a function to SegmentClassifier.
type ClassifierFunc func(segment string) bool

// IsDynamicSegment implements SegmentClassifier.
func (f ClassifierFunc) IsDynamicSegment(segment string) bool {
	return f(segment)
}
