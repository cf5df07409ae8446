package models

import "time"

// ANPROutcome describes how a plate recognition request was resolved.
type ANPROutcome string

const (
	ANPRPending     ANPROutcome = "pending"
	ANPRRecognized  ANPROutcome = "recognized"
	ANPRSimulated   ANPROutcome = "simulated"
	ANPRTimeout     ANPROutcome = "timeout"
	ANPRUnavailable ANPROutcome = "unavailable"
	ANPRCancelled   ANPROutcome = "cancelled"
)

// ANPRRequest tracks one plate recognition request bound to a session.
// An empty Plate on a resolved request means no plate was found.
type ANPRRequest struct {
	RequestID  string      `json:"request_id"`
	SessionID  string      `json:"session_id"`
	ScaleID    int         `json:"scale_id"`
	IssuedAt   time.Time   `json:"issued_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	Plate      string      `json:"plate,omitempty"`
	Outcome    ANPROutcome `json:"outcome"`
}

// Resolved reports whether a result (possibly none) has been recorded.
func (r ANPRRequest) Resolved() bool {
	return r.ResolvedAt != nil
}

// Clone returns a copy that shares no pointers with the receiver.
func (r ANPRRequest) Clone() ANPRRequest {
	out := r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
