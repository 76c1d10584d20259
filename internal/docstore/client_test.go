package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabarnam/enrich-cli/internal/resilience"
)

// stubContainer scripts per-(id,pk) outcomes and records the order of
// partition keys attempted.
type stubContainer struct {
	MemoryContainer
	pkPath       string
	readAttempts []string
	readErr      map[string]error // pk -> error; missing means success
	upsertErr    map[string]error
	upsertCalls  map[string]int
}

func newStubContainer(pkPath string) *stubContainer {
	return &stubContainer{
		MemoryContainer: *NewMemory(pkPath, 0),
		pkPath:          pkPath,
		readErr:         map[string]error{},
		upsertErr:       map[string]error{},
		upsertCalls:     map[string]int{},
	}
}

func (s *stubContainer) DeclaredPartitionKeyPath() string { return s.pkPath }

func (s *stubContainer) ReadItem(ctx context.Context, id, pk string) (*Item, error) {
	s.readAttempts = append(s.readAttempts, pk)
	if err, ok := s.readErr[pk]; ok {
		return nil, err
	}
	return s.MemoryContainer.ReadItem(ctx, id, pk)
}

func (s *stubContainer) UpsertItem(ctx context.Context, doc Document, pk string) (*Item, error) {
	s.upsertCalls[pk]++
	if err, ok := s.upsertErr[pk]; ok {
		return nil, err
	}
	return s.MemoryContainer.UpsertItem(ctx, doc, pk)
}

func newTestClient(c Container) *Client {
	cl := NewClient(c)
	cl.sleep = func(context.Context, time.Duration) error { return nil }
	return cl
}

func TestClient_Read_FallsBackPastFailingCandidates(t *testing.T) {
	stub := newStubContainer("/partition_key")
	// Document physically stored under pk "X".
	_, err := stub.MemoryContainer.UpsertItem(context.Background(),
		Document{"id": "doc1", "normalized_domain": "X"}, "X")
	require.NoError(t, err)

	// Hint yields candidates Y (declared path), X, Z, then sentinels.
	hint := Document{
		"id":                "doc1",
		"partition_key":     "Y",
		"pk":                "X",
		"normalized_domain": "Z",
	}

	client := newTestClient(stub)
	item, err := client.Read(context.Background(), "doc1", hint)
	require.NoError(t, err)
	assert.Equal(t, "X", item.Body.StringField("normalized_domain"))
	// First candidate Y was attempted and missed before X hit.
	assert.Equal(t, []string{"Y", "X"}, stub.readAttempts)
}

func TestClient_Read_AllCandidatesMiss(t *testing.T) {
	stub := newStubContainer("/normalized_domain")
	client := newTestClient(stub)

	_, err := client.Read(context.Background(), "ghost", Document{"id": "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Upsert_RetriesTransientThenSucceeds(t *testing.T) {
	stub := newStubContainer("/normalized_domain")

	// Fail twice with throttling, then succeed on the third attempt of
	// the same partition key candidate.
	recovering := &recoveringContainer{stub: stub, failuresLeft: 2}
	client := newTestClient(recovering)

	item, err := client.Upsert(context.Background(), Document{"id": "c1", "normalized_domain": "acme.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ETag)
	assert.Equal(t, 3, recovering.calls)
}

// recoveringContainer fails the first N upserts with a 429 and then
// delegates.
type recoveringContainer struct {
	stub         *stubContainer
	failuresLeft int
	calls        int
}

func (r *recoveringContainer) DeclaredPartitionKeyPath() string { return r.stub.pkPath }

func (r *recoveringContainer) ReadItem(ctx context.Context, id, pk string) (*Item, error) {
	return r.stub.ReadItem(ctx, id, pk)
}

func (r *recoveringContainer) UpsertItem(ctx context.Context, doc Document, pk string) (*Item, error) {
	r.calls++
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return nil, resilience.NewTransientError(errors.New("throttled"), 429)
	}
	return r.stub.MemoryContainer.UpsertItem(ctx, doc, pk)
}

func (r *recoveringContainer) ReplaceItem(ctx context.Context, doc Document, pk, etag string) (*Item, error) {
	return r.stub.ReplaceItem(ctx, doc, pk, etag)
}

func (r *recoveringContainer) ListIDPrefix(ctx context.Context, prefix string, limit int) ([]Item, error) {
	return r.stub.ListIDPrefix(ctx, prefix, limit)
}

func (r *recoveringContainer) DeleteItem(ctx context.Context, id, pk string) error {
	return r.stub.DeleteItem(ctx, id, pk)
}

func (r *recoveringContainer) Close() error { return nil }

func TestClient_Replace_PropagatesPreconditionFailure(t *testing.T) {
	mem := NewMemory("/normalized_domain", 0)
	client := newTestClient(mem)

	doc := Document{"id": "c1", "normalized_domain": "acme.com"}
	item, err := client.Upsert(context.Background(), doc)
	require.NoError(t, err)

	// A second writer replaces first; the stale etag must lose.
	_, err = client.Replace(context.Background(), doc, item.ETag)
	require.NoError(t, err)

	_, err = client.Replace(context.Background(), doc, item.ETag)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestClient_UpsertMerged_PreservesExistingFields(t *testing.T) {
	mem := NewMemory("/normalized_domain", 0)
	client := newTestClient(mem)

	_, err := client.Upsert(context.Background(), Document{
		"id":                "_import_session_s1",
		"normalized_domain": "import",
		"saved_ids":         []any{"a", "b"},
	})
	require.NoError(t, err)

	hint := Document{"id": "_import_session_s1", "normalized_domain": "import"}
	_, err = client.UpsertMerged(context.Background(), "_import_session_s1", hint, Document{
		"stage_beacon": "enriching",
	})
	require.NoError(t, err)

	item, err := client.Read(context.Background(), "_import_session_s1", hint)
	require.NoError(t, err)
	assert.Equal(t, "enriching", item.Body.StringField("stage_beacon"))
	assert.Len(t, item.Body["saved_ids"], 2)
}
