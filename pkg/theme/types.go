// Package theme defines the domain model shared by the pipeline stages.
package theme

// Response is one input record. The caller owns it; the pipeline treats it
// as read-only.
type Response struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Assignment is the raw per-response output of a theme-proposal pass.
type Assignment struct {
	ResponseID  string `json:"response_id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Candidate is a theme label/description pair proposed by one batch pass.
// Candidates exist only between proposal and reconciliation.
type Candidate struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Canonical is a reconciled theme. The ID is assigned once during
// reconciliation and is stable for the run; the member set is filled by the
// classification pass and immutable afterward.
type Canonical struct {
	ID                string   `json:"theme_id"`
	Label             string   `json:"label"`
	Description       string   `json:"description"`
	MemberResponseIDs []string `json:"member_response_ids"`
}

// UnclassifiedID is the reserved theme id for responses whose classification
// pass permanently failed. They are bucketed here rather than dropped.
const UnclassifiedID = "unclassified"

// Failure reason tags.
const (
	ReasonTransportExhausted  = "transport_exhausted"
	ReasonValidationExhausted = "validation_exhausted"
	ReasonUnclassified        = "unclassified"
)

// Failure records a response (or reconciliation item) that could not be
// processed after the retry/split policy was exhausted.
type Failure struct {
	ID       string `json:"id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	Detail   string `json:"detail,omitempty"`
}

// PipelineResult is the final output of a successful run.
type PipelineResult struct {
	// Mapping from response id to canonical theme id. Every input response
	// id appears exactly once, minus the ids in Failures.
	Mapping map[string]string `json:"mapping"`

	// Themes is the canonical theme list in stable order. Every theme id
	// referenced by Mapping exists here.
	Themes []Canonical `json:"themes"`

	// Failures lists responses that could not be classified, with reason tags.
	Failures []Failure `json:"failures"`
}

// Theme returns the canonical theme with the given id, or nil.
func (r *PipelineResult) Theme(id string) *Canonical {
	for i := range r.Themes {
		if r.Themes[i].ID == id {
			return &r.Themes[i]
		}
	}
	return nil
}
