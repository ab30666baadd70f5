package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sequence kinds tracked in id_sequences. Each kind counts independently per
// calendar year.
const (
	seqOrder   = "order"
	seqInvoice = "invoice"
	seqReceipt = "receipt"
)

// nextSequence returns the next gapless number for (kind, year) inside the
// caller's transaction. The upsert-returning form makes concurrent callers
// serialize on the sequence row instead of handing out duplicates.
func nextSequence(ctx context.Context, tx pgx.Tx, kind string, year int) (int64, error) {
	var last int64
	err := tx.QueryRow(ctx, `
		INSERT INTO id_sequences (kind, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (kind, year)
		DO UPDATE SET last_number = id_sequences.last_number + 1
		RETURNING last_number
	`, kind, year).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence for %d: %w", kind, year, err)
	}
	return last, nil
}

// NextOrderID formats ORD-<year>-<seq4>.
func NextOrderID(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	n, err := nextSequence(ctx, tx, seqOrder, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%04d", year, n), nil
}

// NextInvoiceID formats INV-<year>-<seq4>.
func NextInvoiceID(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	n, err := nextSequence(ctx, tx, seqInvoice, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%04d", year, n), nil
}

// NextReceiptID formats the legacy spaced receipt number "REC - <year> - <seq4>".
func NextReceiptID(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	n, err := nextSequence(ctx, tx, seqReceipt, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("REC - %d - %04d", year, n), nil
}
