package models

import "time"

// EventType distinguishes the payloads pushed to stream subscribers.
type EventType string

const (
	EventReading EventType = "reading"
	EventSession EventType = "session"
)

// Event is one message on the live stream. Reading events carry the flat
// scale_id/weight/connected triple; session events carry the session too.
type Event struct {
	Type      EventType        `json:"type"`
	ScaleID   int              `json:"scale_id"`
	Weight    float64          `json:"weight"`
	Connected bool             `json:"connected"`
	Timestamp time.Time        `json:"timestamp"`
	Session   *WeighingSession `json:"session,omitempty"`
}

// ReadingEvent wraps a raw reading for the stream.
func ReadingEvent(r ScaleReading) Event {
	return Event{
		Type:      EventReading,
		ScaleID:   r.ScaleID,
		Weight:    r.WeightKg,
		Connected: r.Connected,
		Timestamp: r.Timestamp,
	}
}

// SessionEvent wraps a session state change for the stream. The last known
// reading of the scale is carried along so clients can render both at once.
func SessionEvent(s WeighingSession, last ScaleReading) Event {
	snapshot := s.Clone()
	return Event{
		Type:      EventSession,
		ScaleID:   s.ScaleID,
		Weight:    last.WeightKg,
		Connected: last.Connected,
		Timestamp: s.UpdatedAt,
		Session:   &snapshot,
	}
}
