package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
)

func TestMemoryStore_ApplyCreatesAndMerges(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	snap, err := s.Apply(ctx, "sess-1", Update{
		Status:     StatusPtr(StatusRunning),
		Stage:      StringPtr("tagline"),
		CompanyIDs: []string{"acme.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "tagline", snap.Stage)
	assert.False(t, snap.CreatedAt.IsZero())

	// Counters add, id sets union, untouched fields survive.
	snap, err = s.Apply(ctx, "sess-1", Update{
		Stage:                StringPtr("reviews"),
		FieldsCompletedDelta: 3,
		ReviewsVerifiedDelta: 1,
		VerifiedReviewIDs:    []string{"r1"},
	})
	require.NoError(t, err)
	snap, err = s.Apply(ctx, "sess-1", Update{
		FieldsCompletedDelta: 2,
		ReviewsVerifiedDelta: 1,
		VerifiedReviewIDs:    []string{"r1", "r2"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "reviews", snap.Stage)
	assert.Equal(t, 5, snap.FieldsCompleted)
	assert.Equal(t, 2, snap.ReviewsVerified)
	assert.Equal(t, []string{"r1", "r2"}, snap.VerifiedReviewIDs)
	assert.Equal(t, []string{"acme.com"}, snap.CompanyIDs)
}

func TestMemoryStore_MissingByCompanyMerge(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	_, err := s.Apply(ctx, "sess-1", Update{MissingByCompany: map[string][]string{
		"acme.com":   {"reviews"},
		"globex.com": {"tagline", "reviews"},
	}})
	require.NoError(t, err)

	// An empty list means the company finished and drops out.
	snap, err := s.Apply(ctx, "sess-1", Update{MissingByCompany: map[string][]string{
		"acme.com": {},
	}})
	require.NoError(t, err)
	assert.NotContains(t, snap.MissingByCompany, "acme.com")
	assert.Equal(t, []string{"tagline", "reviews"}, snap.MissingByCompany["globex.com"])
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	_, err := s.Apply(ctx, "sess-1", Update{VerifiedReviewIDs: []string{"r1"}})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	snap.VerifiedReviewIDs[0] = "mutated"
	snap.Status = StatusFailed

	again, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, again.VerifiedReviewIDs)
	assert.Equal(t, StatusQueued, again.Status)
}

func TestMemoryStore_EvictsOldestAtCapacity(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Apply(ctx, fmt.Sprintf("sess-%d", i), Update{})
		require.NoError(t, err)
	}

	_, err := s.Get(ctx, "sess-0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "sess-3")
	assert.NoError(t, err)

	snaps, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
	assert.Equal(t, "sess-1", snaps[0].SessionID)
}

func TestMemoryStore_UpdatingDoesNotResetInsertionOrder(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	_, err := s.Apply(ctx, "sess-a", Update{})
	require.NoError(t, err)
	_, err = s.Apply(ctx, "sess-b", Update{})
	require.NoError(t, err)
	// Touching sess-a must not save it from eviction.
	_, err = s.Apply(ctx, "sess-a", Update{FieldsCompletedDelta: 1})
	require.NoError(t, err)
	_, err = s.Apply(ctx, "sess-c", Update{})
	require.NoError(t, err)

	_, err = s.Get(ctx, "sess-a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "sess-b")
	assert.NoError(t, err)
}

func TestMirrorStore_SurvivesMemoryLoss(t *testing.T) {
	client := docstore.NewClient(docstore.NewMemory("/normalized_domain", 200))
	ctx := context.Background()

	first := NewMirrorStore(NewMemoryStore(0), client)
	_, err := first.Apply(ctx, "sess-1", Update{
		Status:               StatusPtr(StatusRunning),
		FieldsCompletedDelta: 4,
	})
	require.NoError(t, err)

	// A fresh process with empty memory reads the mirrored document.
	second := NewMirrorStore(NewMemoryStore(0), client)
	snap, err := second.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 4, snap.FieldsCompleted)

	snaps, err := second.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "sess-1", snaps[0].SessionID)
}

func TestMirrorStore_DocumentCarriesControlEnvelope(t *testing.T) {
	client := docstore.NewClient(docstore.NewMemory("/normalized_domain", 200))
	ctx := context.Background()

	s := NewMirrorStore(NewMemoryStore(0), client)
	_, err := s.Apply(ctx, "sess-1", Update{Status: StatusPtr(StatusComplete)})
	require.NoError(t, err)

	item, err := client.Read(ctx, model.SessionDocPrefix+"sess-1", docstore.Document{
		"partition_key": model.ControlPartitionKey,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ControlDocType, item.Body.StringField("type"))
	assert.Equal(t, model.ControlPartitionKey, item.Body.StringField("normalized_domain"))
	assert.Equal(t, string(StatusComplete), item.Body.StringField("status"))
}
