package budget

import (
	"time"
)

// Defaults for invocation-level budgets. The hard cap reflects the
// gateway's request ceiling; clients may ask for less but never more.
const (
	DefaultHardCap = 25 * time.Second
	MinHardCap     = 5 * time.Second
	MaxHardCap     = 120 * time.Second

	DefaultStageMin     = 2500 * time.Millisecond
	DefaultStageMax     = 8 * time.Second
	DefaultSafetyMargin = 1200 * time.Millisecond
	DefaultDeferFloor   = 3500 * time.Millisecond
)

// Budget tracks a deadline for one invocation. All stage allocations
// are derived from Remaining so a late stage can never overrun the
// caller's own deadline.
type Budget struct {
	startedAt time.Time
	total     time.Duration
	hardCap   time.Duration
	nowFunc   func() time.Time
}

// Option configures a Budget.
type Option func(*Budget)

// WithHardCap overrides the server-side ceiling. Clamped to
// [MinHardCap, MaxHardCap].
func WithHardCap(d time.Duration) Option {
	return func(b *Budget) {
		b.hardCap = clampDuration(d, MinHardCap, MaxHardCap, DefaultHardCap)
	}
}

// WithClientDeadline applies a caller-provided budget, clamped to the
// hard cap. Zero or negative means "use the hard cap".
func WithClientDeadline(d time.Duration) Option {
	return func(b *Budget) {
		if d <= 0 {
			return
		}
		b.total = clampDuration(d, MinHardCap, b.hardCap, b.hardCap)
	}
}

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) Option {
	return func(b *Budget) {
		b.nowFunc = now
	}
}

// Start begins a budget at the current time.
func Start(opts ...Option) *Budget {
	b := &Budget{
		hardCap: DefaultHardCap,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.total <= 0 {
		b.total = b.hardCap
	}
	b.startedAt = b.nowFunc()
	return b
}

// Total returns the full budget for this invocation.
func (b *Budget) Total() time.Duration { return b.total }

// HardCap returns the clamped server-side ceiling.
func (b *Budget) HardCap() time.Duration { return b.hardCap }

// Elapsed returns time spent since Start, never negative.
func (b *Budget) Elapsed() time.Duration {
	e := b.nowFunc().Sub(b.startedAt)
	if e < 0 {
		return 0
	}
	return e
}

// Remaining returns the unspent budget, never negative.
func (b *Budget) Remaining() time.Duration {
	r := b.total - b.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the deadline has passed.
func (b *Budget) Expired() bool { return b.Remaining() == 0 }

// ShouldDefer reports whether remaining budget has dropped below the
// floor at which another network stage is worth starting.
func (b *Budget) ShouldDefer(minRemaining time.Duration) bool {
	floor := clampDuration(minRemaining, 500*time.Millisecond, b.hardCap, DefaultDeferFloor)
	return b.Remaining() < floor
}

// ClampStageTimeout computes a stage timeout from the remaining
// budget: max(min, min(max, remaining - safety)). The result is always
// at least min, so callers must gate doomed calls with ShouldDefer or
// Allocate first.
func ClampStageTimeout(remaining, min, max, safetyMargin time.Duration) time.Duration {
	min = clampDuration(min, 250*time.Millisecond, 60*time.Second, DefaultStageMin)
	max = clampDuration(max, min, 60*time.Second, DefaultStageMax)
	safety := clampDuration(safetyMargin, 0, 20*time.Second, DefaultSafetyMargin)

	raw := remaining - safety
	if raw < 0 {
		raw = 0
	}
	if raw > max {
		raw = max
	}
	if raw < min {
		raw = min
	}
	return raw
}

func clampDuration(d, min, max, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
