// Package job defines the deferred-work unit processed by the queue.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Phase identifies the kind of deferred work. Only Phase-2 enrichment
// exists today; the column is enumerated so later phases slot in.
type Phase string

const (
	// PhaseEnrichment is the asynchronous deep-enrichment pass.
	PhaseEnrichment Phase = "phase2"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseEnrichment
}

// Status is the queue state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces the status machine: pending moves only to
// processing; processing settles to complete or failed, or returns to
// pending on a retryable failure. Terminal states move only through
// explicit retry, which is modelled as a reset rather than a transition.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusComplete || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}

// Live reports whether the status occupies the at-most-one-per-node slot.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusProcessing
}

// Job is one unit of deferred work against a node.
type Job struct {
	ID             string     `json:"id"`
	NodeID         string     `json:"nodeId"`
	Phase          Phase      `json:"phase"`
	Status         Status     `json:"status"`
	Priority       int        `json:"priority"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	NextEligibleAt time.Time  `json:"nextEligibleAt"`
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
}

// New creates a pending job eligible to run immediately.
func New(nodeID string, phase Phase, priority, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:             uuid.New().String(),
		NodeID:         nodeID,
		Phase:          phase,
		Status:         StatusPending,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		NextEligibleAt: now,
		CreatedAt:      now,
	}
}

// Live reports whether the job occupies the at-most-one-per-node slot.
func (j *Job) Live() bool {
	return j.Status.Live()
}

// ExhaustedAttempts reports whether another retry would exceed the cap.
func (j *Job) ExhaustedAttempts() bool {
	return j.Attempts >= j.MaxAttempts
}

// Stats are the queue counts grouped by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
}

// Total returns the number of jobs across all statuses.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Complete + s.Failed
}
