package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionKeyCandidates_OrderAndDedup(t *testing.T) {
	doc := Document{
		"id":                "acme-co",
		"normalized_domain": "acme.com",
		"partition_key":     "acme.com",
		"location":          map[string]any{"region": "us"},
	}

	got := PartitionKeyCandidates(doc, "/normalized_domain", "acme-co")
	// Declared path and partition_key both resolve to "acme.com" and
	// collapse; id candidates collapse with the requested id.
	assert.Equal(t, []string{"acme.com", "acme-co", NoPartitionKey}, got)
}

func TestPartitionKeyCandidates_NestedDeclaredPath(t *testing.T) {
	doc := Document{
		"id":       "acme-co",
		"location": map[string]any{"region": "us-west"},
	}
	got := PartitionKeyCandidates(doc, "/location/region", "acme-co")
	assert.Equal(t, "us-west", got[0])
}

func TestPartitionKeyCandidates_ImportArtifact(t *testing.T) {
	doc := Document{"id": "_import_complete_sess42"}
	got := PartitionKeyCandidates(doc, "/normalized_domain", "_import_complete_sess42")
	assert.Contains(t, got, "import")
	// Sentinel closes the list.
	assert.Equal(t, NoPartitionKey, got[len(got)-1])
}

func TestPartitionKeyCandidates_EmptyDoc(t *testing.T) {
	got := PartitionKeyCandidates(nil, "/normalized_domain", "some-id")
	assert.Equal(t, []string{"some-id", NoPartitionKey}, got)
}

func TestIsImportArtifactID(t *testing.T) {
	assert.True(t, IsImportArtifactID("_import_resume_s1"))
	assert.True(t, IsImportArtifactID("_import_stop_s1"))
	assert.True(t, IsImportArtifactID("_import_timeout_s1"))
	assert.False(t, IsImportArtifactID("import_resume_s1"))
	assert.False(t, IsImportArtifactID("acme-co"))
}

func TestValueAtPath(t *testing.T) {
	doc := Document{
		"a": map[string]any{"b": map[string]any{"c": "deep"}},
		"n": float64(7),
	}

	v, ok := ValueAtPath(doc, "/a/b/c")
	assert.True(t, ok)
	assert.Equal(t, "deep", v)

	v, ok = ValueAtPath(doc, "/n")
	assert.True(t, ok)
	assert.Equal(t, "7", v)

	_, ok = ValueAtPath(doc, "/a/missing")
	assert.False(t, ok)

	_, ok = ValueAtPath(doc, "/")
	assert.False(t, ok)
}
