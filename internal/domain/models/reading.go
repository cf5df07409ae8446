package models

import "time"

// ScaleReading is a single weight sample reported by a weighbridge indicator.
type ScaleReading struct {
	ScaleID   int       `json:"scale_id"`
	WeightKg  float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`
}

// Disconnected builds the reading emitted while a scale cannot be reached.
func Disconnected(scaleID int, at time.Time) ScaleReading {
	return ScaleReading{ScaleID: scaleID, Timestamp: at, Connected: false}
}
