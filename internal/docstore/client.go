package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/resilience"
)

const upsertAttemptsPerCandidate = 3

// Client wraps a Container with partition-key candidate fallback and
// transient-failure retries, so callers never need to know how the
// container is actually partitioned.
type Client struct {
	container Container
	pkPath    string
	sleep     func(context.Context, time.Duration) error
}

// NewClient builds a Client over a container. The declared partition
// key path is read once; an empty answer falls back to
// DefaultPartitionKeyPath.
func NewClient(container Container) *Client {
	path := container.DeclaredPartitionKeyPath()
	if path == "" {
		path = DefaultPartitionKeyPath
	}
	return &Client{
		container: container,
		pkPath:    path,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PartitionKeyPath returns the path the client resolves candidates
// against.
func (c *Client) PartitionKeyPath() string { return c.pkPath }

// Container exposes the underlying container for callers that need
// backend-specific operations (migrations, listing).
func (c *Client) Container() Container { return c.container }

// Read point-reads a document by id, trying each partition key
// candidate derived from the hint document until one succeeds. A hint
// carrying normalized_domain or partition_key makes the first attempt
// cheap; a bare hint still terminates via the id and sentinel
// candidates. Returns ErrNotFound when no candidate matches.
func (c *Client) Read(ctx context.Context, id string, hint Document) (*Item, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	candidates := PartitionKeyCandidates(hint, c.pkPath, id)

	var lastErr error
	for _, pk := range candidates {
		item, err := c.container.ReadItem(ctx, id, pk)
		if err == nil {
			return item, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		zap.L().Warn("docstore read exhausted candidates",
			zap.String("id", id),
			zap.String("pk_path", c.pkPath),
			zap.Int("candidates", len(candidates)),
			zap.Error(lastErr))
		return nil, eris.Wrapf(lastErr, "docstore: read %s", id)
	}
	return nil, ErrNotFound
}

// Upsert writes a document, trying each partition key candidate in
// order. Transient backend failures (throttle, unavailable, timeout)
// are retried up to three times per candidate with a short backoff;
// non-transient failures move to the next candidate.
func (c *Client) Upsert(ctx context.Context, doc Document) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	candidates := PartitionKeyCandidates(doc, c.pkPath, id)

	var lastErr error
	for _, pk := range candidates {
		for attempt := 0; attempt < upsertAttemptsPerCandidate; attempt++ {
			item, err := c.container.UpsertItem(ctx, doc, pk)
			if err == nil {
				return item, nil
			}
			lastErr = err

			if !resilience.IsTransient(err) || attempt == upsertAttemptsPerCandidate-1 {
				break
			}
			delay := upsertRetryDelay(err, attempt)
			zap.L().Warn("docstore upsert transient failure, retrying",
				zap.String("id", id),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, eris.Wrapf(lastErr, "docstore: upsert %s", id)
}

// upsertRetryDelay backs off harder on throttling than on other
// transient failures.
func upsertRetryDelay(err error, attempt int) time.Duration {
	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode == 429 {
		d := time.Duration(2000*(attempt+1)) * time.Millisecond
		if d > 5*time.Second {
			d = 5 * time.Second
		}
		return d
	}
	return time.Duration(1000*(attempt+1)) * time.Millisecond
}

// Replace performs an etag-conditioned write against the document's
// resolved partition. ErrPreconditionFailed propagates untouched so
// callers can treat the lost race as a signal.
func (c *Client) Replace(ctx context.Context, doc Document, etag string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	candidates := PartitionKeyCandidates(doc, c.pkPath, id)

	var lastErr error
	for _, pk := range candidates {
		item, err := c.container.ReplaceItem(ctx, doc, pk, etag)
		if err == nil {
			return item, nil
		}
		if errors.Is(err, ErrPreconditionFailed) {
			return nil, ErrPreconditionFailed
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, eris.Wrapf(lastErr, "docstore: replace %s", id)
	}
	return nil, ErrNotFound
}

// UpsertMerged reads the current document, overlays patch on top, and
// upserts the result. Fields written by earlier passes survive.
// Documents that do not exist yet are created from the patch alone.
func (c *Client) UpsertMerged(ctx context.Context, id string, hint, patch Document) (*Item, error) {
	existing, err := c.Read(ctx, id, hint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var base Document
	if existing != nil {
		base = existing.Body
	}
	merged := Merge(base, patch)
	merged["id"] = id
	return c.Upsert(ctx, merged)
}
