package models

import "time"

// Transaction is the durable record of a committed weighing session.
// SessionID is the idempotency key.
type Transaction struct {
	TicketID    string    `bson:"ticket_id" json:"ticket_id"`
	SessionID   string    `bson:"session_id" json:"session_id"`
	ScaleID     int       `bson:"scale_id" json:"scale_id"`
	GrossKg     float64   `bson:"gross_kg" json:"gross_kg"`
	TareKg      float64   `bson:"tare_kg" json:"tare_kg"`
	NetKg       float64   `bson:"net_kg" json:"net_kg"`
	PlateNumber string    `bson:"plate_number" json:"plate_number"`
	Driver      string    `bson:"driver,omitempty" json:"driver,omitempty"`
	Vendor      string    `bson:"vendor,omitempty" json:"vendor,omitempty"`
	PONumber    string    `bson:"po_number,omitempty" json:"po_number,omitempty"`
	CommittedAt time.Time `bson:"committed_at" json:"committed_at"`
	InvoiceRef  string    `bson:"invoice_ref" json:"invoice_ref"`
}

// TransactionFromSession builds the uncommitted draft of a session's transaction.
// Ticket, invoice reference and commit time are assigned by the store.
func TransactionFromSession(s WeighingSession) Transaction {
	return Transaction{
		SessionID:   s.SessionID,
		ScaleID:     s.ScaleID,
		GrossKg:     s.GrossKg,
		TareKg:      s.TareKg,
		NetKg:       s.GrossKg - s.TareKg,
		PlateNumber: s.PlateNumber,
		Driver:      s.Driver,
		Vendor:      s.Vendor,
		PONumber:    s.PONumber,
	}
}

// Vehicle is master data for a known vehicle, used to look up its tare on record.
type Vehicle struct {
	PlateNumber  string  `bson:"plate_number" json:"plate_number"`
	DriverName   string  `bson:"driver_name,omitempty" json:"driver_name,omitempty"`
	DefaultTare  float64 `bson:"default_tare" json:"default_tare"`
	OwnerCompany string  `bson:"owner_company,omitempty" json:"owner_company,omitempty"`
}
