package docstore

import (
	"fmt"
	"strings"
)

// DefaultPartitionKeyPath is assumed when the container's declared
// path cannot be determined.
const DefaultPartitionKeyPath = "/normalized_domain"

// NoPartitionKey is the sentinel candidate meaning "attempt the
// operation without a partition key value". It is always the last
// candidate tried.
const NoPartitionKey = ""

// importArtifactPrefixes are id prefixes whose documents always live
// in the "import" partition, whatever the container's declared path.
var importArtifactPrefixes = []string{
	"_import_resume_",
	"_import_session_",
	"_import_complete_",
	"_import_timeout_",
	"_import_stop_",
}

// IsImportArtifactID reports whether the id names an import control
// artifact.
func IsImportArtifactID(id string) bool {
	for _, p := range importArtifactPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// ValueAtPath resolves a slash-separated path ("/a/b") against nested
// maps. Missing segments yield ("", false).
func ValueAtPath(doc Document, path string) (string, bool) {
	parts := splitPath(path)
	if doc == nil || len(parts) == 0 {
		return "", false
	}
	var cur any = map[string]any(doc)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// PartitionKeyCandidates builds the ordered, deduplicated list of
// partition key values to try when the container's real partitioning
// of a document is uncertain (schema drift between writers). Earlier
// entries are more likely; NoPartitionKey closes the list.
func PartitionKeyCandidates(doc Document, containerPkPath, requestedID string) []string {
	docID := doc.ID()
	if docID == "" {
		docID = requestedID
	}

	raw := make([]string, 0, 8)
	if v, ok := ValueAtPath(doc, containerPkPath); ok && v != "" {
		raw = append(raw, v)
	}
	for _, key := range []string{"partition_key", "partitionKey", "pk", "normalized_domain"} {
		if s := doc.StringField(key); s != "" {
			raw = append(raw, s)
		}
	}
	if s := doc.ID(); s != "" {
		raw = append(raw, s)
	}
	if requestedID != "" {
		raw = append(raw, requestedID)
	}
	if IsImportArtifactID(docID) {
		raw = append(raw, "import")
	}
	raw = append(raw, NoPartitionKey)

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
