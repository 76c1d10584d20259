// Package queue hands resume work to the next worker pass. The
// durable path is a Redis list; when Redis is not configured the
// fallback is an in-process detached goroutine, so a session never
// strands just because the deployment is single-node.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/resilience"
)

// DefaultKey is the Redis list resume jobs travel on.
const DefaultKey = "enrich:resume"

// ErrEmpty means the queue had no job within the wait window.
var ErrEmpty = errors.New("queue: empty")

// Job is one resume request.
type Job struct {
	SessionID   string   `json:"session_id"`
	CompanyIDs  []string `json:"company_ids,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	RunAfterMS  int64    `json:"run_after_ms,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
	EnqueuedAt  string   `json:"enqueued_at,omitempty"`
}

// Delay returns the job's requested cooldown.
func (j Job) Delay() time.Duration {
	if j.RunAfterMS <= 0 {
		return 0
	}
	return time.Duration(j.RunAfterMS) * time.Millisecond
}

// Enqueuer accepts resume jobs. Implementations must not block on the
// work itself.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// redisCommands is the slice of the go-redis client the queue uses.
type redisCommands interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisQueue is the durable resume queue over a Redis list.
type RedisQueue struct {
	rdb redisCommands
	key string
	now func() time.Time
}

// NewRedisQueue builds a queue on the given list key. Empty key uses
// DefaultKey.
func NewRedisQueue(rdb redisCommands, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key, now: time.Now}
}

// Enqueue pushes a job onto the list head.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SessionID == "" {
		return eris.New("queue: job missing session_id")
	}
	if job.EnqueuedAt == "" {
		job.EnqueuedAt = q.now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: encode job")
	}
	// Losing an enqueue loses the session's resume pass, so transient
	// redis failures get the standard retry treatment.
	push := func(ctx context.Context) error {
		return q.rdb.LPush(ctx, q.key, payload).Err()
	}
	retry := resilience.FromRetryConfig(3, 250, 2000, 2.0, 0.25)
	if err := resilience.Do(ctx, retry, push); err != nil {
		return eris.Wrapf(err, "queue: lpush %s", q.key)
	}
	zap.L().Info("queue: resume job enqueued",
		zap.String("session", job.SessionID),
		zap.String("reason", job.Reason),
		zap.Int64("run_after_ms", job.RunAfterMS))
	return nil
}

// Dequeue blocks up to wait for the next job. ErrEmpty on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, eris.Wrapf(err, "queue: brpop %s", q.key)
	}
	// BRPOP answers [key, value].
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, eris.Wrap(err, "queue: decode job")
	}
	return &job, nil
}

// Healthy pings the backend.
func (q *RedisQueue) Healthy(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// SpawnDetached runs fn on its own goroutine under a context that
// survives the caller's cancelation, bounded by timeout. It returns
// immediately; the caller's request finishes while the work runs.
func SpawnDetached(ctx context.Context, timeout time.Duration, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)
	go func() {
		runCtx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		fn(runCtx)
	}()
}

// DetachedEnqueuer is the no-Redis fallback: each job runs in-process
// on a detached goroutine after its requested delay.
type DetachedEnqueuer struct {
	handler func(ctx context.Context, job Job)
	timeout time.Duration
}

// NewDetachedEnqueuer builds the fallback around a job handler.
func NewDetachedEnqueuer(timeout time.Duration, handler func(ctx context.Context, job Job)) *DetachedEnqueuer {
	return &DetachedEnqueuer{handler: handler, timeout: timeout}
}

func (d *DetachedEnqueuer) Enqueue(ctx context.Context, job Job) error {
	if job.SessionID == "" {
		return eris.New("queue: job missing session_id")
	}
	delay := job.Delay()
	SpawnDetached(ctx, d.timeout+delay, func(runCtx context.Context) {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
			}
		}
		d.handler(runCtx, job)
	})
	return nil
}
