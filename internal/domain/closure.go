package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClosureResult describes the outcome of one close attempt. It is transient:
// returned to callers and logged, never persisted.
//
// Exactly one of Closed or Deleted is true on success. Both are false when the
// request was a no-op (trail already closing or closed) or when Error is set.
type ClosureResult struct {
	TrailID uuid.UUID `json:"trail_id"`
	Closed  bool      `json:"closed"`
	Deleted bool      `json:"deleted"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Reasons reported in ClosureResult.Reason.
const (
	ReasonInsufficientPoints = "insufficient valid points"
	ReasonTrailGone          = "trail does not exist"
	ReasonAlreadyClosing     = "trail is already closing"
	ReasonAlreadyClosed      = "trail is already closed"
	ReasonStale              = "no activity within timeout"
	ReasonDuplicateOpen      = "newer open trail exists for scope"
	ReasonRequested          = "close requested"
)

// CloseOptions carries per-request closure settings.
// A zero MetricsMode lets the pipeline pick one from the point count; the
// choice is persisted on the trail either way.
type CloseOptions struct {
	EndTime     *time.Time
	MetricsMode MetricsMode
	Reason      string
}

// Freshness is the result of a staleness check.
type Freshness struct {
	Fresh        bool      `json:"fresh"`
	LastActivity time.Time `json:"last_activity"`
}

// ReconcileResult is returned by a reconciliation of one scope.
type ReconcileResult struct {
	MostRecentOpen *Trail          `json:"most_recent_open"`
	Processed      []ClosureResult `json:"processed"`
	// StaleClosed is set when the newest trail was stale and its close
	// either closed or discarded it.
	StaleClosed bool `json:"stale_closed"`
}

// OpenTrailCheck is returned by CheckOpenTrails.
type OpenTrailCheck struct {
	OpenTrail        *Trail     `json:"open_trail"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
	StaleTrailClosed bool       `json:"stale_trail_closed"`
}

// OperationReconcile is returned by a reconciliation of every other vehicle in
// an operation.
type OperationReconcile struct {
	ActiveTrails []Trail  `json:"active_trails"`
	Errors       []string `json:"errors"`
}
