package models

import "time"

// SessionState enumerates the lifecycle stages of a weighing session.
type SessionState string

const (
	StateIdle           SessionState = "IDLE"
	StateWeighing       SessionState = "WEIGHING"
	StateStableCaptured SessionState = "STABLE_CAPTURED"
	StateAwaitingPlate  SessionState = "AWAITING_PLATE"
	StateReadyToSubmit  SessionState = "READY_TO_SUBMIT"
	StateSubmitting     SessionState = "SUBMITTING"
	StateCommitted      SessionState = "COMMITTED"
	StateAbandoned      SessionState = "ABANDONED"
	StateFailed         SessionState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCommitted, StateAbandoned, StateFailed:
		return true
	default:
		return false
	}
}

// CaptureMode records what froze the gross weight.
type CaptureMode string

const (
	CaptureAuto     CaptureMode = "auto"
	CaptureOperator CaptureMode = "operator"
)

// PlateSource records where the plate number of a session came from.
type PlateSource string

const (
	PlateRecognized PlateSource = "anpr"
	PlateSimulated  PlateSource = "simulated"
	PlateTimeout    PlateSource = "anpr_timeout"
	PlateManual     PlateSource = "manual"
)

// TareSource records where the tare weight came from.
type TareSource string

const (
	TareDefault TareSource = "default"
	TareScale   TareSource = "scale_record"
	TareVehicle TareSource = "vehicle_record"
	TareManual  TareSource = "manual"
)

// WeighingSession is the lifecycle of one vehicle's weighing event on one scale.
type WeighingSession struct {
	SessionID   string       `json:"session_id"`
	ScaleID     int          `json:"scale_id"`
	State       SessionState `json:"state"`
	GrossKg     float64      `json:"gross_kg"`
	TareKg      float64      `json:"tare_kg"`
	NetKg       float64      `json:"net_kg"`
	PlateNumber string       `json:"plate_number,omitempty"`
	PlateSource PlateSource  `json:"plate_source,omitempty"`
	Driver      string       `json:"driver,omitempty"`
	Vendor      string       `json:"vendor,omitempty"`
	PONumber    string       `json:"po_number,omitempty"`
	CaptureMode CaptureMode  `json:"capture_mode,omitempty"`
	TareSource  TareSource   `json:"tare_source,omitempty"`
	CapturedAt  *time.Time   `json:"captured_at,omitempty"`
	OpenedAt    time.Time    `json:"opened_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	EndReason   string       `json:"end_reason,omitempty"`

	ANPR              *ANPRRequest `json:"anpr,omitempty"`
	SubmitAttempts    int          `json:"submit_attempts"`
	LastError         string       `json:"last_error,omitempty"`
	StabilityTimedOut bool         `json:"stability_timed_out,omitempty"`

	TicketID   string `json:"ticket_id,omitempty"`
	InvoiceRef string `json:"invoice_ref,omitempty"`
}

// SetGross freezes the gross weight and refreshes the net weight.
func (s *WeighingSession) SetGross(kg float64) {
	s.GrossKg = kg
	s.NetKg = s.GrossKg - s.TareKg
}

// SetTare records the tare weight and refreshes the net weight.
func (s *WeighingSession) SetTare(kg float64, source TareSource) {
	s.TareKg = kg
	s.TareSource = source
	s.NetKg = s.GrossKg - s.TareKg
}

// Clone returns a copy that shares no pointers with the receiver.
func (s WeighingSession) Clone() WeighingSession {
	out := s
	if s.CapturedAt != nil {
		t := *s.CapturedAt
		out.CapturedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.ANPR != nil {
		req := s.ANPR.Clone()
		out.ANPR = &req
	}
	return out
}

// CaptureLock is the ownership token that binds a scale to its active session.
type CaptureLock struct {
	ScaleID    int       `json:"scale_id"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}
