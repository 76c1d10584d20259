package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AlertType identifies the kind of degradation an evaluation found.
type AlertType string

const (
	AlertUpstreamFailureRate  AlertType = "upstream_failure_rate"
	AlertFieldFailureRate     AlertType = "field_failure_rate"
	AlertValidationStarvation AlertType = "validation_starvation"
)

// Alert is one degradation finding over a snapshot.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Thresholds tune the evaluation. Zero values disable a check.
type Thresholds struct {
	// FieldFailureRate alerts when failed/(failed+completed) exceeds
	// the rate; at least minFieldSample fields must have finished.
	FieldFailureRate float64
	// UpstreamFailures alerts on total upstream failures since start.
	UpstreamFailures int64
	// SavedPerValidated alerts when too few validated URLs produce a
	// saved review, meaning the brand matcher or the backend's
	// candidates have degraded.
	SavedPerValidated float64
}

const minFieldSample = 10

// Evaluate checks a snapshot against thresholds.
func Evaluate(snap Snapshot, th Thresholds) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.FieldsCompleted + snap.FieldsFailed
	if th.FieldFailureRate > 0 && finished >= minFieldSample {
		rate := float64(snap.FieldsFailed) / float64(finished)
		if rate > th.FieldFailureRate {
			alerts = append(alerts, Alert{
				Type:     AlertFieldFailureRate,
				Severity: "high",
				Message: fmt.Sprintf("field failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
					rate*100, th.FieldFailureRate*100, snap.FieldsFailed, finished),
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    th.FieldFailureRate,
					"failed":       snap.FieldsFailed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}
	}

	if th.UpstreamFailures > 0 {
		var total int64
		for _, n := range snap.UpstreamFailures {
			total += n
		}
		if total > th.UpstreamFailures {
			alerts = append(alerts, Alert{
				Type:     AlertUpstreamFailureRate,
				Severity: "high",
				Message: fmt.Sprintf("%d upstream failures exceeds threshold %d",
					total, th.UpstreamFailures),
				Details: map[string]any{
					"failures":  snap.UpstreamFailures,
					"threshold": th.UpstreamFailures,
				},
				Timestamp: now,
			})
		}
	}

	if th.SavedPerValidated > 0 && snap.ReviewsValidated >= minFieldSample {
		rate := float64(snap.ReviewsSaved) / float64(snap.ReviewsValidated)
		if rate < th.SavedPerValidated {
			alerts = append(alerts, Alert{
				Type:     AlertValidationStarvation,
				Severity: "medium",
				Message: fmt.Sprintf("only %.1f%% of validated URLs produced a saved review (threshold %.1f%%)",
					rate*100, th.SavedPerValidated*100),
				Details: map[string]any{
					"validated": snap.ReviewsValidated,
					"saved":     snap.ReviewsSaved,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Reporter logs the collector's snapshot on an interval and surfaces
// threshold alerts as warnings.
type Reporter struct {
	collector  *Collector
	thresholds Thresholds
	interval   time.Duration
}

// NewReporter builds a periodic reporter. interval <= 0 uses five
// minutes.
func NewReporter(collector *Collector, thresholds Thresholds, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reporter{collector: collector, thresholds: thresholds, interval: interval}
}

// Run blocks until ctx is canceled, reporting once per interval.
func (r *Reporter) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.reporter"))
	log.Info("starting telemetry reporter", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("telemetry reporter stopped")
			return
		case <-ticker.C:
			r.report(log)
		}
	}
}

func (r *Reporter) report(log *zap.Logger) {
	snap := r.collector.Collect()
	log.Info("enrichment telemetry",
		zap.Int64("candidates_fetched", snap.CandidatesFetched),
		zap.Int64("candidates_considered", snap.CandidatesConsidered),
		zap.Int64("reviews_validated", snap.ReviewsValidated),
		zap.Int64("reviews_saved", snap.ReviewsSaved),
		zap.Int64("fields_completed", snap.FieldsCompleted),
		zap.Int64("fields_failed", snap.FieldsFailed),
		zap.Int64("fields_deferred", snap.FieldsDeferred),
		zap.Int64("sessions_completed", snap.SessionsCompleted),
		zap.Int64("sessions_resumed", snap.SessionsResumed),
		zap.Any("rejections", snap.Rejections),
		zap.Any("upstream_failures", snap.UpstreamFailures))

	for _, alert := range Evaluate(snap, r.thresholds) {
		log.Warn("enrichment degradation",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
			zap.Any("details", alert.Details))
	}
}
