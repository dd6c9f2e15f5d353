package node

// CodeMutation relocates one existing node's hierarchy code within a
// view. Restructures emit one mutation per displaced sibling; the
// store applies a batch atomically.
type CodeMutation struct {
	NodeID  string `json:"nodeId"`
	View    View   `json:"view"`
	OldCode string `json:"oldCode"`
	NewCode string `json:"newCode"`
}

// Noop reports whether the mutation would leave the code unchanged.
func (m CodeMutation) Noop() bool {
	return m.OldCode == m.NewCode
}
