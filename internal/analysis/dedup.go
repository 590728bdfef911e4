package analysis

import (
	"math"
	"sort"
	"time"

	"readiness/internal/store"
)

// DefaultDedupTolerance absorbs local-vs-UTC start time discrepancies between providers.
const DefaultDedupTolerance = 90 * time.Minute

const maxRelativeDiff = 0.10

// MergeOptions tunes the duplicate predicate
type MergeOptions struct {
	Tolerance time.Duration
}

// MergeResult is the canonical activity set, newest first.
type MergeResult struct {
	Activities        []store.Activity
	DuplicatesRemoved int
}

// IsDuplicate reports whether a and b describe the same session: starts within
// tolerance, compatible types, and duration and distance each within 10% when
// both sides report them.
func IsDuplicate(a, b store.Activity, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultDedupTolerance
	}

	gap := a.StartLocal.Sub(b.StartLocal)
	if gap < 0 {
		gap = -gap
	}
	if gap > tolerance {
		return false
	}

	ta, tb := NormalizeType(a.Type), NormalizeType(b.Type)
	if ta != tb && ta != TypeOther && tb != TypeOther {
		return false
	}

	if a.Duration != nil && b.Duration != nil && !withinRelative(*a.Duration, *b.Duration) {
		return false
	}
	if a.Distance != nil && b.Distance != nil && !withinRelative(*a.Distance, *b.Distance) {
		return false
	}
	return true
}

func withinRelative(a, b float64) bool {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= maxRelativeDiff
}

// Merge reconciles the three provider lists. Coaching activities are always
// kept; social ones only when no coaching activity matches; device ones only
// when neither a coaching nor a social activity matches.
func Merge(coaching, social, device []store.Activity, opts MergeOptions) MergeResult {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultDedupTolerance
	}

	out := make([]store.Activity, 0, len(coaching)+len(social)+len(device))
	out = append(out, coaching...)

	for _, a := range social {
		if !matchesAny(a, coaching, tol) {
			out = append(out, a)
		}
	}
	for _, a := range device {
		if !matchesAny(a, coaching, tol) && !matchesAny(a, social, tol) {
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartLocal.After(out[j].StartLocal)
	})

	return MergeResult{
		Activities:        out,
		DuplicatesRemoved: len(coaching) + len(social) + len(device) - len(out),
	}
}

func matchesAny(a store.Activity, candidates []store.Activity, tol time.Duration) bool {
	for _, c := range candidates {
		if IsDuplicate(a, c, tol) {
			return true
		}
	}
	return false
}
