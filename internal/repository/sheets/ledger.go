// Package sheets exports committed tickets to a Google Sheets ledger.
package sheets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/stoneweigh/internal/config"
	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// RowWriter appends one row of values to a sheet range.
type RowWriter interface {
	WriteRow(ctx context.Context, sheetRange string, values []interface{}) error
}

// Ledger appends one row per committed ticket.
type Ledger struct {
	writer     RowWriter
	sheetRange string
	logger     *zap.Logger
}

// NewLedger builds a ledger that writes through w into sheetRange.
func NewLedger(w RowWriter, sheetRange string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{writer: w, sheetRange: sheetRange, logger: logger}
}

// NewGoogleLedger connects to the configured spreadsheet.
func NewGoogleLedger(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*Ledger, error) {
	writer, err := newSheetWriter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewLedger(writer, cfg.Range, logger), nil
}

// Append exports tx as a ledger row.
func (l *Ledger) Append(ctx context.Context, tx models.Transaction) error {
	if err := l.writer.WriteRow(ctx, l.sheetRange, Row(tx)); err != nil {
		return fmt.Errorf("export ticket %s: %w", tx.TicketID, err)
	}
	l.logger.Debug("ticket exported", zap.String("ticket_id", tx.TicketID))
	return nil
}

// Row lays out a transaction in ledger column order.
func Row(tx models.Transaction) []interface{} {
	return []interface{}{
		tx.TicketID,
		tx.CommittedAt.Format(time.RFC3339),
		tx.ScaleID,
		tx.PlateNumber,
		tx.Driver,
		tx.Vendor,
		tx.PONumber,
		tx.GrossKg,
		tx.TareKg,
		tx.NetKg,
		tx.InvoiceRef,
		tx.SessionID,
	}
}

type sheetWriter struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *zap.Logger
}

func newSheetWriter(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*sheetWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &sheetWriter{service: service, spreadsheetID: cfg.SpreadsheetID, logger: logger}, nil
}

func (w *sheetWriter) WriteRow(ctx context.Context, sheetRange string, values []interface{}) error {
	if sheetRange == "" {
		return fmt.Errorf("sheetRange must not be empty")
	}

	call := w.service.Spreadsheets.Values.
		Append(w.spreadsheetID, sheetRange, &sheetsapi.ValueRange{Values: [][]interface{}{values}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append row into range %s: %w", sheetRange, err)
	}
	return nil
}
