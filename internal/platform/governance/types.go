package governance

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Facilitator API DTOs
// --------------------------------------------------------------------------

// APIResolution is a proposal's resolution state as returned by the
// facilitator.
type APIResolution struct {
	ProposalID     string `json:"proposal_id"`
	Status         string `json:"status"` // "pending" or "resolved"
	WinningOutcome *int   `json:"winning_outcome"`
	ResolvedAt     string `json:"resolved_at"` // RFC 3339, empty while pending
}

// Resolution is the venue-side view of a facilitator resolution.
type Resolution struct {
	ProposalID     string
	Resolved       bool
	WinningOutcome int
	ResolvedAt     time.Time
}

// ToResolution converts the API DTO, validating that resolved entries carry
// a winning outcome.
func (r *APIResolution) ToResolution() (Resolution, error) {
	out := Resolution{ProposalID: r.ProposalID}

	if r.Status != "resolved" {
		return out, nil
	}

	if r.WinningOutcome == nil {
		return Resolution{}, fmt.Errorf("resolved without winning_outcome")
	}
	out.Resolved = true
	out.WinningOutcome = *r.WinningOutcome

	if r.ResolvedAt != "" {
		ts, err := time.Parse(time.RFC3339, r.ResolvedAt)
		if err != nil {
			return Resolution{}, fmt.Errorf("parse resolved_at %q: %w", r.ResolvedAt, err)
		}
		out.ResolvedAt = ts
	}

	return out, nil
}
