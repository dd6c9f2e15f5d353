// Package events defines the notification payloads published on the
// in-process bus and streamed to clients over SSE.
package events

import "time"

// Event types carried by NotificationEvent.
const (
	TypeEnrichmentComplete = "enrichment_complete"
	TypeQueueStatus        = "queue_status"
)

// Event is implemented by every notification payload.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// HierarchyUpdate records one code change applied during enrichment.
type HierarchyUpdate struct {
	View    string `json:"view"`
	OldCode string `json:"oldCode"`
	NewCode string `json:"newCode"`
}

// EnrichmentComplete is published when a Phase-2 job settles, whether
// it succeeded or exhausted its attempts.
type EnrichmentComplete struct {
	NodeID           string            `json:"nodeId"`
	Success          bool              `json:"success"`
	HierarchyUpdates []HierarchyUpdate `json:"hierarchyUpdates,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

func (e EnrichmentComplete) EventType() string     { return TypeEnrichmentComplete }
func (e EnrichmentComplete) OccurredAt() time.Time { return e.Timestamp }

// QueueStatus is published whenever the queue counts change.
type QueueStatus struct {
	Pending    int       `json:"pending"`
	Processing int       `json:"processing"`
	Complete   int       `json:"complete"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e QueueStatus) EventType() string     { return TypeQueueStatus }
func (e QueueStatus) OccurredAt() time.Time { return e.Timestamp }
