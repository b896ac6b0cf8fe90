package cache

import (
	"fmt"
	"strings"
	"time"
)

// Class names a TTL bucket. All callers pick a class instead of hand-rolling
// TTLs so the same logical cache never ends up with inconsistent lifetimes.
type Class string

const (
	ClassProfile        Class = "profile"
	ClassSocialGraph    Class = "social_graph"
	ClassFeed           Class = "feed"
	ClassEngagement     Class = "engagement"
	ClassExpensiveQuery Class = "expensive_query"
	ClassRecommendation Class = "recommendation"
	ClassSearch         Class = "search"
	ClassActivity       Class = "activity"
	ClassMedia          Class = "media"
	ClassSession        Class = "session"
	ClassTemp           Class = "temp"
)

// Base TTLs per class.
var classTTL = map[Class]time.Duration{
	ClassProfile:        30 * time.Minute,
	ClassSocialGraph:    30 * time.Minute,
	ClassFeed:           10 * time.Minute,
	ClassEngagement:     5 * time.Minute,
	ClassExpensiveQuery: time.Hour,
	ClassRecommendation: 30 * time.Minute,
	ClassSearch:         15 * time.Minute,
	ClassActivity:       5 * time.Minute,
	ClassMedia:          2 * time.Hour,
	ClassSession:        15 * time.Minute,
	ClassTemp:           5 * time.Minute,
}

const (
	// EmptyResultTTL keeps empty results short-lived so transient emptiness
	// recovers quickly.
	EmptyResultTTL = 3 * time.Minute

	// VelocityTTL bounds how stale engagement velocity may be served.
	VelocityTTL = time.Minute

	LockTTLShort  = 10 * time.Second
	LockTTLMedium = 30 * time.Second
	LockTTLLong   = 60 * time.Second

	// MaxKeyLength is the hard cap on assembled keys.
	MaxKeyLength = 250

	largePayloadBytes = 10000
	smallPayloadBytes = 100
)

// TTLFor picks a TTL for a payload of the given class. Empty results always
// get EmptyResultTTL. Large payloads amortize the expensive recomputation
// with up to double the base TTL; tiny payloads get half, floor-clamped to
// the activity TTL.
func TTLFor(class Class, dataSize int, isEmpty bool) time.Duration {
	if isEmpty {
		return EmptyResultTTL
	}
	base, ok := classTTL[class]
	if !ok {
		base = classTTL[ClassTemp]
	}
	switch {
	case dataSize > largePayloadBytes:
		if doubled := base * 2; doubled < classTTL[ClassExpensiveQuery] {
			return doubled
		}
		return classTTL[ClassExpensiveQuery]
	case dataSize > 0 && dataSize < smallPayloadBytes:
		if halved := base / 2; halved > classTTL[ClassActivity] {
			return halved
		}
		return classTTL[ClassActivity]
	}
	return base
}

// stampede-risk classes always take a lock before recomputing.
var lockedClasses = map[Class]bool{
	ClassFeed:           true,
	ClassExpensiveQuery: true,
	ClassRecommendation: true,
	ClassSearch:         true,
}

// ShouldUseLock reports whether a recompute for the class warrants stampede
// protection.
func ShouldUseLock(class Class, estimatedCompute time.Duration) bool {
	if lockedClasses[class] {
		return true
	}
	return estimatedCompute > time.Second
}

// LockTTLFor picks a lock TTL proportional to the expected compute time.
// The TTL is a safety valve: a crashed holder can wedge the key for at most
// this long.
func LockTTLFor(estimatedCompute time.Duration) time.Duration {
	switch {
	case estimatedCompute > 30*time.Second:
		return LockTTLLong
	case estimatedCompute > 5*time.Second:
		return LockTTLMedium
	default:
		return LockTTLShort
	}
}

var keySanitizer = strings.NewReplacer(":", "_", "*", "_")

// sanitizePart strips the structural delimiters from a substituted value
// and caps its length so one oversized id cannot blow the key budget.
func sanitizePart(v string) string {
	if v == "" {
		return "none"
	}
	v = keySanitizer.Replace(v)
	if len(v) > 50 {
		v = v[:50]
	}
	return v
}

// Key assembles a cache key from a template prefix and substituted values.
// Values have `:` and `*` escaped (both are structural in the key
// namespace). Oversized keys are a construction-time error, never a silent
// truncation.
func Key(prefix string, parts ...string) (string, error) {
	b := strings.Builder{}
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(sanitizePart(p))
	}
	key := b.String()
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("cache key too long: %d > %d (prefix %s)", len(key), MaxKeyLength, prefix)
	}
	return key, nil
}
