// Package docstore provides partition-key-agnostic access to the
// company document container. Documents are kept in raw map form so
// fields written by other services survive round trips untouched.
package docstore

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Document is a schemaless document body. The only universally
// required field is "id".
type Document map[string]any

// ID returns the document id, or "" when absent.
func (d Document) ID() string {
	return d.StringField("id")
}

// StringField returns a top-level field coerced to string; non-string
// values yield "".
func (d Document) StringField(key string) string {
	if d == nil {
		return ""
	}
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy. Nested maps are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ToDocument converts any JSON-serializable value into a Document.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: marshal document")
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "docstore: unmarshal document")
	}
	return doc, nil
}

// FromDocument projects a Document into a typed struct.
func FromDocument(doc Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "docstore: marshal document")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "docstore: project document")
	}
	return nil
}

// Merge overlays patch onto base without dropping fields only present
// in base. Used for control documents that are upserted many times
// during a session: previously written progress must never be lost.
func Merge(base, patch Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
