package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
)

func newResumeFixture(t *testing.T) (*ResumeStore, *docstore.Client) {
	t.Helper()
	client := docstore.NewClient(docstore.NewMemory("/normalized_domain", 200))
	return NewResumeStore(client), client
}

func freezeResumeClock(s *ResumeStore, at time.Time) func(d time.Duration) {
	current := at
	s.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

func TestResumeStore_EnsureLockDedupsRecentInvocations(t *testing.T) {
	s, _ := newResumeFixture(t)
	advance := freezeResumeClock(s, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	doc, err := s.EnsureLock(ctx, "sess-1", model.InvocationDirectHTTP)
	require.NoError(t, err)
	assert.Equal(t, model.ResumeStatusInProgress, doc.Status)
	assert.Equal(t, model.InvocationDirectHTTP, doc.InvocationMode)

	// A second invocation inside the dedup window is suppressed.
	_, err = s.EnsureLock(ctx, "sess-1", model.InvocationDirectHTTP)
	assert.ErrorIs(t, err, ErrDuplicateInvocation)

	// Past the window the lock is re-taken, presumably from a stall.
	advance(resumeDedupWindow + time.Second)
	doc, err = s.EnsureLock(ctx, "sess-1", model.InvocationResumeWorker)
	require.NoError(t, err)
	assert.Equal(t, model.InvocationResumeWorker, doc.InvocationMode)
}

func TestResumeStore_TryClaimExactlyOneWinner(t *testing.T) {
	s, _ := newResumeFixture(t)
	ctx := context.Background()

	doc, err := s.TryClaim(ctx, "sess-1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", doc.LockedBy)
	assert.Equal(t, model.ResumeStatusRunning, doc.Status)

	_, err = s.TryClaim(ctx, "sess-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, ErrSessionLocked)

	// The holder may refresh its own claim.
	_, err = s.TryClaim(ctx, "sess-1", "worker-a", time.Minute)
	assert.NoError(t, err)
}

func TestResumeStore_TryClaimTakesOverExpiredLock(t *testing.T) {
	s, _ := newResumeFixture(t)
	advance := freezeResumeClock(s, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := s.TryClaim(ctx, "sess-1", "worker-a", time.Minute)
	require.NoError(t, err)

	advance(30 * time.Second)
	_, err = s.TryClaim(ctx, "sess-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, ErrSessionLocked)

	advance(time.Minute)
	doc, err := s.TryClaim(ctx, "sess-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", doc.LockedBy)

	// The displaced worker's release must not clobber the new claim.
	require.NoError(t, s.Release(ctx, "sess-1", "worker-a"))
	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-b", got.LockedBy)
}

func TestResumeStore_CheckpointTracksMissingByCompany(t *testing.T) {
	s, _ := newResumeFixture(t)
	ctx := context.Background()

	_, err := s.EnsureLock(ctx, "sess-1", model.InvocationResumeWorker)
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint(ctx, "sess-1", "acme.com", []string{"reviews"}))
	doc, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, doc.ResumeNeeded)
	assert.Equal(t, []string{"reviews"}, doc.MissingByCompany["acme.com"])

	// A company that finished drops out of the map.
	require.NoError(t, s.Checkpoint(ctx, "sess-1", "acme.com", nil))
	doc, err = s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, doc.ResumeNeeded)
	assert.NotContains(t, doc.MissingByCompany, "acme.com")
}

func TestResumeStore_ScheduleResumeSetsCooldown(t *testing.T) {
	s, _ := newResumeFixture(t)
	advance := freezeResumeClock(s, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := s.EnsureLock(ctx, "sess-1", model.InvocationDirectHTTP)
	require.NoError(t, err)
	require.NoError(t, s.ScheduleResume(ctx, "sess-1", "upstream_timeout", 0))

	doc, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResumeStatusQueued, doc.Status)
	assert.True(t, doc.ResumeNeeded)
	assert.Equal(t, "upstream_timeout", doc.ResumeError)
	assert.Equal(t, ResumeRunDelay.Milliseconds(), doc.BackoffMS)
	assert.Equal(t, 1, doc.CycleCount)
	assert.Empty(t, doc.LockedBy)

	assert.False(t, s.RunAllowed(doc))
	advance(ResumeRunDelay + time.Second)
	assert.True(t, s.RunAllowed(doc))
}

func TestResumeStore_CompleteWritesTerminalMarker(t *testing.T) {
	s, client := newResumeFixture(t)
	ctx := context.Background()

	_, err := s.EnsureLock(ctx, "sess-1", model.InvocationDirectHTTP)
	require.NoError(t, err)
	require.NoError(t, s.ScheduleResume(ctx, "sess-1", "fields still missing", ResumeRunDelay))
	require.NoError(t, s.Complete(ctx, "sess-1", []string{"acme.com"}, 6, 2))

	doc, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResumeStatusComplete, doc.Status)
	assert.False(t, doc.ResumeNeeded)
	assert.Empty(t, doc.ResumeError)

	item, err := client.Read(ctx, model.CompleteDocPrefix+"sess-1", controlHint())
	require.NoError(t, err)
	var complete model.CompleteDoc
	require.NoError(t, docstore.FromDocument(item.Body, &complete))
	assert.Equal(t, "sess-1", complete.SessionID)
	assert.Equal(t, []string{"acme.com"}, complete.CompanyIDs)
	assert.Equal(t, 6, complete.FieldsCompleted)
	assert.Equal(t, 2, complete.ReviewsValidated)
	assert.Equal(t, 1, complete.CycleCount)
	assert.NotEmpty(t, complete.CompletedAt)
}
