package session

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
)

// MirrorStore layers a durable session document over the in-memory
// store. Writes update memory first, then best-effort mirror the
// snapshot into a _import_session_ control document; reads fall back
// to the document when memory was evicted or the process restarted.
type MirrorStore struct {
	inner Store
	store *docstore.Client
}

// NewMirrorStore wraps inner with a durable mirror.
func NewMirrorStore(inner Store, store *docstore.Client) *MirrorStore {
	return &MirrorStore{inner: inner, store: store}
}

func sessionDocID(sessionID string) string {
	return model.SessionDocPrefix + sessionID
}

func (m *MirrorStore) Apply(ctx context.Context, sessionID string, up Update) (*Snapshot, error) {
	snap, err := m.inner.Apply(ctx, sessionID, up)
	if err != nil {
		return nil, err
	}

	body, err := docstore.ToDocument(snap)
	if err != nil {
		return nil, eris.Wrap(err, "session: encode snapshot")
	}
	body["id"] = sessionDocID(sessionID)
	body["partition_key"] = model.ControlPartitionKey
	body["normalized_domain"] = model.ControlPartitionKey
	body["type"] = model.ControlDocType
	if _, err := m.store.Upsert(ctx, body); err != nil {
		// The in-memory answer is still correct; polls only lose the
		// restart-survival guarantee until the next write lands.
		zap.L().Warn("session: mirror write failed",
			zap.String("session", sessionID), zap.Error(err))
	}
	return snap, nil
}

func (m *MirrorStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap, err := m.inner.Get(ctx, sessionID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	item, derr := m.store.Read(ctx, sessionDocID(sessionID), docstore.Document{
		"partition_key": model.ControlPartitionKey,
	})
	if derr != nil {
		if errors.Is(derr, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, derr
	}
	var out Snapshot
	if err := docstore.FromDocument(item.Body, &out); err != nil {
		return nil, eris.Wrapf(err, "session: decode doc %s", sessionID)
	}
	out.SessionID = sessionID
	return &out, nil
}

func (m *MirrorStore) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	snaps, err := m.inner.List(ctx, limit)
	if err != nil || len(snaps) > 0 {
		return snaps, err
	}

	items, err := m.store.Container().ListIDPrefix(ctx, model.SessionDocPrefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(items))
	for _, item := range items {
		var snap Snapshot
		if err := docstore.FromDocument(item.Body, &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	return out, nil
}
