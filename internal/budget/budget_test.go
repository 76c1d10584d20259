package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time, elapsed *time.Duration) func() time.Time {
	return func() time.Time { return start.Add(*elapsed) }
}

func TestStart_DefaultsToHardCap(t *testing.T) {
	b := Start()
	assert.Equal(t, DefaultHardCap, b.Total())
	assert.Equal(t, DefaultHardCap, b.HardCap())
}

func TestStart_ClampsHardCap(t *testing.T) {
	b := Start(WithHardCap(10 * time.Minute))
	assert.Equal(t, MaxHardCap, b.HardCap())

	b = Start(WithHardCap(1 * time.Second))
	assert.Equal(t, MinHardCap, b.HardCap())
}

func TestStart_ClientDeadlineClampedToHardCap(t *testing.T) {
	b := Start(WithHardCap(25*time.Second), WithClientDeadline(90*time.Second))
	assert.Equal(t, 25*time.Second, b.Total())

	b = Start(WithHardCap(60*time.Second), WithClientDeadline(30*time.Second))
	assert.Equal(t, 30*time.Second, b.Total())
}

func TestBudget_RemainingAndExpired(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	elapsed := time.Duration(0)
	b := Start(WithHardCap(10*time.Second), WithNow(fixedClock(start, &elapsed)))

	assert.Equal(t, 10*time.Second, b.Remaining())
	assert.False(t, b.Expired())

	elapsed = 4 * time.Second
	assert.Equal(t, 6*time.Second, b.Remaining())

	elapsed = 15 * time.Second
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.True(t, b.Expired())
}

func TestBudget_ShouldDefer(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	elapsed := time.Duration(0)
	b := Start(WithHardCap(10*time.Second), WithNow(fixedClock(start, &elapsed)))

	assert.False(t, b.ShouldDefer(DefaultDeferFloor))

	elapsed = 7 * time.Second // 3s remaining < 3.5s floor
	assert.True(t, b.ShouldDefer(DefaultDeferFloor))
}

func TestClampStageTimeout_BasicWindow(t *testing.T) {
	got := ClampStageTimeout(10*time.Second, 2500*time.Millisecond, 8*time.Second, 1200*time.Millisecond)
	assert.Equal(t, 8*time.Second, got)

	got = ClampStageTimeout(5*time.Second, 2500*time.Millisecond, 8*time.Second, 1200*time.Millisecond)
	assert.Equal(t, 3800*time.Millisecond, got)

	// Below min: floored, caller is expected to have gated with Allocate.
	got = ClampStageTimeout(2*time.Second, 2500*time.Millisecond, 8*time.Second, 1200*time.Millisecond)
	assert.Equal(t, 2500*time.Millisecond, got)
}

func TestAllocate_DeadlineExceededBelowMinimum(t *testing.T) {
	_, err := Allocate(StageReviews, 30*time.Second)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)

	_, err = Allocate(StageLight, 10*time.Second)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestAllocate_NeverOverrunsRemaining(t *testing.T) {
	cases := []struct {
		class     StageClass
		remaining time.Duration
	}{
		{StageLight, 17 * time.Second},
		{StageLight, 45 * time.Second},
		{StageLocation, 25 * time.Second},
		{StageKeywords, 40 * time.Second},
		{StageReviews, 62 * time.Second},
		{StageReviews, 5 * time.Minute},
	}
	for _, tc := range cases {
		got, err := Allocate(tc.class, tc.remaining)
		require.NoError(t, err, "class %s remaining %s", tc.class, tc.remaining)
		assert.LessOrEqual(t, got, tc.remaining-DefaultSafetyMargin,
			"class %s remaining %s", tc.class, tc.remaining)
		assert.GreaterOrEqual(t, got, LimitsFor(tc.class).Min)
	}
}

func TestAllocate_CappedAtStageMax(t *testing.T) {
	got, err := Allocate(StageReviews, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, LimitsFor(StageReviews).Max, got)
}

func TestMinRequired_PerClass(t *testing.T) {
	assert.Equal(t, 16200*time.Millisecond, MinRequired(StageLight))
	assert.Equal(t, 21200*time.Millisecond, MinRequired(StageLocation))
	assert.Equal(t, 31200*time.Millisecond, MinRequired(StageKeywords))
	assert.Equal(t, 61200*time.Millisecond, MinRequired(StageReviews))
}
