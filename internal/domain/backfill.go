package domain

import "github.com/google/uuid"

// MetricsOutcome classifies one metrics computation attempt.
type MetricsOutcome string

const (
	MetricsSucceeded        MetricsOutcome = "succeeded"
	MetricsAlreadyProcessed MetricsOutcome = "already_processed"
	MetricsErrored          MetricsOutcome = "errored"
)

// MetricsResult is the per-trail outcome of a metrics computation.
type MetricsResult struct {
	TrailID uuid.UUID      `json:"trail_id"`
	Outcome MetricsOutcome `json:"outcome"`
	Metrics *Metrics       `json:"metrics,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BackfillReport aggregates one backfill run.
type BackfillReport struct {
	Succeeded        int             `json:"succeeded"`
	AlreadyProcessed int             `json:"already_processed"`
	Errored          int             `json:"errored"`
	Results          []MetricsResult `json:"results"`
}

// Add records r in the report counters.
func (b *BackfillReport) Add(r MetricsResult) {
	switch r.Outcome {
	case MetricsSucceeded:
		b.Succeeded++
	case MetricsAlreadyProcessed:
		b.AlreadyProcessed++
	default:
		b.Errored++
	}
	b.Results = append(b.Results, r)
}

// BackfillStatus reports metrics completion across all closed trails.
type BackfillStatus struct {
	ClosedTrails int64   `json:"closed_trails"`
	WithMetrics  int64   `json:"with_metrics"`
	Pending      int64   `json:"pending"`
	Percent      float64 `json:"percent_complete"`
}

// NewBackfillStatus derives Pending and Percent from the two counts.
// An empty store is reported as 100% complete.
func NewBackfillStatus(closed, withMetrics int64) BackfillStatus {
	s := BackfillStatus{ClosedTrails: closed, WithMetrics: withMetrics, Pending: closed - withMetrics, Percent: 100}
	if closed > 0 {
		s.Percent = float64(withMetrics) / float64(closed) * 100
	}
	return s
}
