// Package repository holds what every store adapter shares: the not-found
// sentinel and the ticket numbering scheme.
package repository

import (
	"errors"
	"fmt"
	"time"
)

// FirstTicketNumber is the number of the first ticket ever issued.
const FirstTicketNumber int64 = 1001

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TicketID formats a ticket sequence number.
func TicketID(seq int64) string {
	return fmt.Sprintf("T-%d", seq)
}

// InvoiceRef derives the invoice reference of a ticket committed at the given time.
func InvoiceRef(committedAt time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%d", committedAt.Format("20060102"), seq)
}
