// Package audit defines the append-only history of hierarchy-code and
// metadata changes.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies what happened to the node's code.
type ChangeType string

const (
	ChangeCreated      ChangeType = "created"
	ChangeUpdated      ChangeType = "updated"
	ChangeMoved        ChangeType = "moved"
	ChangeRestructured ChangeType = "restructured"
	ChangeMerged       ChangeType = "merged"
	ChangeDeleted      ChangeType = "deleted"
)

// TriggeredBy names the subsystem that caused the change.
type TriggeredBy string

const (
	TriggerImport      TriggeredBy = "import"
	TriggerUserMove    TriggeredBy = "user_move"
	TriggerRestructure TriggeredBy = "restructure"
	TriggerMerge       TriggeredBy = "merge"
	TriggerEnrichment  TriggeredBy = "enrichment"
)

// Entry is one immutable audit record. Metadata holds free-form
// context; it is passed through redaction before persistence.
type Entry struct {
	ID             string         `json:"id"`
	NodeID         string         `json:"nodeId"`
	HierarchyType  string         `json:"hierarchyType"`
	OldCode        string         `json:"oldCode,omitempty"`
	NewCode        string         `json:"newCode,omitempty"`
	ChangeType     ChangeType     `json:"changeType"`
	TriggeredBy    TriggeredBy    `json:"triggeredBy"`
	Reason         string         `json:"reason,omitempty"`
	RelatedNodeIDs []string       `json:"relatedNodeIds,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ChangedAt      time.Time      `json:"changedAt"`
}

// NewEntry creates an audit record stamped with the current time.
func NewEntry(nodeID, hierarchyType, oldCode, newCode string, change ChangeType, trigger TriggeredBy, reason string) Entry {
	return Entry{
		ID:            uuid.New().String(),
		NodeID:        nodeID,
		HierarchyType: hierarchyType,
		OldCode:       oldCode,
		NewCode:       newCode,
		ChangeType:    change,
		TriggeredBy:   trigger,
		Reason:        reason,
		ChangedAt:     time.Now().UTC(),
	}
}

// WithRelated attaches the ids of sibling nodes touched by the same
// restructure.
func (e Entry) WithRelated(ids []string) Entry {
	e.RelatedNodeIDs = ids
	return e
}

// WithMetadata attaches a context bag to the entry.
func (e Entry) WithMetadata(m map[string]any) Entry {
	e.Metadata = m
	return e
}
