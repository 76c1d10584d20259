// Package monitoring counts what the enrichment pipeline actually did:
// candidates fetched and validated, rejection buckets, upstream failure
// buckets, excluded-host hits. The collector is process-local; the
// status endpoint surfaces its snapshot and the reporter logs it on an
// interval.
package monitoring

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	CandidatesFetched    int64 `json:"candidates_fetched"`
	CandidatesConsidered int64 `json:"candidates_considered"`
	ReviewsValidated     int64 `json:"reviews_validated"`
	ReviewsSaved         int64 `json:"reviews_saved"`

	FieldsCompleted int64 `json:"fields_completed"`
	FieldsFailed    int64 `json:"fields_failed"`
	FieldsDeferred  int64 `json:"fields_deferred"`

	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsResumed   int64 `json:"sessions_resumed"`

	// Rejections is keyed by rejection bucket, e.g. "self_domain".
	Rejections map[string]int64 `json:"rejections,omitempty"`
	// UpstreamFailures is keyed by field status, e.g. "upstream_timeout".
	UpstreamFailures map[string]int64 `json:"upstream_failures,omitempty"`
	// ExcludedHosts counts candidates dropped per excluded host.
	ExcludedHosts map[string]int64 `json:"excluded_hosts,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates pipeline counters. All methods are safe for
// concurrent use.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		snap: Snapshot{
			Rejections:       make(map[string]int64),
			UpstreamFailures: make(map[string]int64),
			ExcludedHosts:    make(map[string]int64),
		},
		now: time.Now,
	}
}

// ObserveCandidates records how many review candidates one stage
// fetched from upstream and how many survived pre-validation filters.
func (c *Collector) ObserveCandidates(fetched, considered int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.CandidatesFetched += int64(fetched)
	c.snap.CandidatesConsidered += int64(considered)
}

// ObserveReviews records validation outcomes: URLs actually probed and
// reviews that made it onto the company document.
func (c *Collector) ObserveReviews(validated, saved int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.ReviewsValidated += int64(validated)
	c.snap.ReviewsSaved += int64(saved)
}

// ObserveFields records one pass's field accounting.
func (c *Collector) ObserveFields(completed, failed, deferred int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.FieldsCompleted += int64(completed)
	c.snap.FieldsFailed += int64(failed)
	c.snap.FieldsDeferred += int64(deferred)
}

// ObserveSession records a session reaching its terminal state or
// being rescheduled.
func (c *Collector) ObserveSession(completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if completed {
		c.snap.SessionsCompleted++
	} else {
		c.snap.SessionsResumed++
	}
}

// ObserveRejections merges per-bucket rejection counts.
func (c *Collector) ObserveRejections(byBucket map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for bucket, n := range byBucket {
		c.snap.Rejections[bucket] += int64(n)
	}
}

// ObserveUpstreamFailure counts one upstream failure by field status.
func (c *Collector) ObserveUpstreamFailure(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.UpstreamFailures[status]++
}

// ObserveExcludedHost counts a candidate dropped for its host.
func (c *Collector) ObserveExcludedHost(host string) {
	if host == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.ExcludedHosts[host]++
}

// Collect returns a copy of the counters; the caller may hold it
// without racing further observation.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.snap
	out.Rejections = copyCounts(c.snap.Rejections)
	out.UpstreamFailures = copyCounts(c.snap.UpstreamFailures)
	out.ExcludedHosts = copyCounts(c.snap.ExcludedHosts)
	out.CollectedAt = c.now().UTC()
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
