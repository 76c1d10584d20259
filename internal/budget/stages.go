package budget

import (
	"errors"
	"time"
)

// ErrDeadlineExceeded signals that the remaining budget cannot fit the
// stage's minimum viable timeout plus the safety margin. Callers treat
// this as "defer to a resume pass", not as a fault.
var ErrDeadlineExceeded = errors.New("budget: deadline exceeded for stage")

// StageClass groups pipeline stages with similar upstream latency.
type StageClass string

const (
	// StageLight covers cheap single-fact lookups (tagline, industries).
	StageLight StageClass = "light"
	// StageLocation covers HQ and manufacturing location searches.
	StageLocation StageClass = "location"
	// StageKeywords covers product keyword extraction.
	StageKeywords StageClass = "keywords"
	// StageReviews covers review search plus URL verification, the
	// slowest stage by far.
	StageReviews StageClass = "reviews"
)

// StageLimits bounds the timeout handed to one upstream call.
type StageLimits struct {
	Min time.Duration
	Max time.Duration
}

var stageLimits = map[StageClass]StageLimits{
	StageLight:    {Min: 15 * time.Second, Max: 60 * time.Second},
	StageLocation: {Min: 20 * time.Second, Max: 90 * time.Second},
	StageKeywords: {Min: 30 * time.Second, Max: 90 * time.Second},
	StageReviews:  {Min: 60 * time.Second, Max: 90 * time.Second},
}

// LimitsFor returns the timeout bounds for a stage class. Unknown
// classes get the light bounds.
func LimitsFor(class StageClass) StageLimits {
	if l, ok := stageLimits[class]; ok {
		return l
	}
	return stageLimits[StageLight]
}

// MinRequired is the least remaining budget that makes attempting the
// stage worthwhile: its minimum timeout plus the safety margin.
func MinRequired(class StageClass) time.Duration {
	return LimitsFor(class).Min + DefaultSafetyMargin
}

// Allocate returns the timeout for one upstream call of the given
// stage class, or ErrDeadlineExceeded when the remaining budget cannot
// fit the stage's minimum plus the safety margin. The returned timeout
// never exceeds remaining minus the safety margin.
func Allocate(class StageClass, remaining time.Duration) (time.Duration, error) {
	limits := LimitsFor(class)
	if remaining < limits.Min+DefaultSafetyMargin {
		return 0, ErrDeadlineExceeded
	}
	return ClampStageTimeout(remaining, limits.Min, limits.Max, DefaultSafetyMargin), nil
}

// RetrySchedule is the delay before each transient-failure retry of an
// upstream stage. Index 0 is the first attempt (no delay).
var RetrySchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}
