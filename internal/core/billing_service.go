package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BillingService manages invoices, receipts and delivery records. Billing
// state never drives order status: paying, unpaying or deleting a document
// leaves the fulfillment state machine untouched.
type BillingService interface {
	// CreateInvoice raises the order's sales invoice. At most one per order;
	// a zero amount defaults to the quoted amount.
	CreateInvoice(ctx context.Context, orderID string, amount decimal.Decimal, dueDate *time.Time) (*Invoice, error)
	// CreateReceipt issues a payment receipt. Receipts are only available
	// once the order's latest batch has passed QC.
	CreateReceipt(ctx context.Context, orderID string, amount decimal.Decimal) (*Invoice, error)
	// SetInvoiceStatus flips an invoice between paid and unpaid.
	SetInvoiceStatus(ctx context.Context, invoiceID string, status InvoiceStatus) (*Invoice, error)
	// CreateDelivery opens a shipment record against an invoice. An invoice
	// backs at most one delivery.
	CreateDelivery(ctx context.Context, invoiceID string) (*Delivery, error)

	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetInvoices(ctx context.Context, orderID string) ([]Invoice, error)
	DeleteInvoice(ctx context.Context, invoiceID string) error
	GetDelivery(ctx context.Context, deliveryID string) (*Delivery, error)
	DeleteDelivery(ctx context.Context, deliveryID string) error
}

type billingService struct {
	pool *pgxpool.Pool
}

// NewBillingService constructs the billing service.
func NewBillingService(pool *pgxpool.Pool) BillingService {
	return &billingService{pool: pool}
}

func (s *billingService) CreateInvoice(ctx context.Context, orderID string, amount decimal.Decimal, dueDate *time.Time) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fetchOrderQ(ctx, tx, orderID, false)
	if err != nil {
		return nil, err
	}

	var existing string
	err = tx.QueryRow(ctx,
		"SELECT invoice_id FROM invoices WHERE order_ref = $1 AND kind = $2",
		orderID, string(KindInvoice),
	).Scan(&existing)
	if err == nil {
		return nil, &ValidationError{Field: "order", Reason: fmt.Sprintf("already invoiced as %s", existing)}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing invoice for %s: %w", orderID, err)
	}

	if amount.IsZero() {
		amount = order.QuotedAmount
	}
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Reason: "cannot be negative"}
	}

	now := time.Now()
	invoiceID, err := NextInvoiceID(ctx, tx, now.Year())
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		InvoiceID:    invoiceID,
		Kind:         KindInvoice,
		OrderRef:     orderID,
		CustomerName: order.CustomerName,
		Amount:       amount,
		DueDate:      dueDate,
		Status:       InvoiceUnpaid,
		CreatedAt:    now,
	}
	if err := insertInvoiceTx(ctx, tx, inv); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}
	return inv, nil
}

func (s *billingService) CreateReceipt(ctx context.Context, orderID string, amount decimal.Decimal) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fetchOrderQ(ctx, tx, orderID, false)
	if err != nil {
		return nil, err
	}

	// Receipts certify paid-for goods, so they are gated on the QC pass the
	// same way packaging is.
	var qc *string
	err = tx.QueryRow(ctx, `
		SELECT qc_status FROM production_batches
		WHERE order_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID).Scan(&qc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ValidationError{Field: "order", Reason: "has no production batch"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check QC status for %s: %w", orderID, err)
	}
	if qc == nil || QCStatus(*qc) != QCPassed {
		return nil, &ValidationError{Field: "order", Reason: "latest batch has not passed QC"}
	}

	if amount.IsZero() {
		amount = order.QuotedAmount
	}
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Reason: "cannot be negative"}
	}

	now := time.Now()
	receiptID, err := NextReceiptID(ctx, tx, now.Year())
	if err != nil {
		return nil, err
	}
	rec := &Invoice{
		InvoiceID:    receiptID,
		Kind:         KindReceipt,
		OrderRef:     orderID,
		CustomerName: order.CustomerName,
		Amount:       amount,
		Status:       InvoicePaid,
		CreatedAt:    now,
	}
	if err := insertInvoiceTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit receipt: %w", err)
	}
	return rec, nil
}

func insertInvoiceTx(ctx context.Context, tx pgx.Tx, inv *Invoice) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO invoices (invoice_id, kind, order_ref, customer_name, amount, due_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.InvoiceID, string(inv.Kind), inv.OrderRef, inv.CustomerName, inv.Amount,
		inv.DueDate, string(inv.Status), inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", inv.Kind, inv.InvoiceID, err)
	}
	return nil
}

func (s *billingService) SetInvoiceStatus(ctx context.Context, invoiceID string, status InvoiceStatus) (*Invoice, error) {
	if status != InvoicePaid && status != InvoiceUnpaid {
		return nil, &ValidationError{Field: "status", Reason: "must be paid or unpaid"}
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE invoices SET status = $1 WHERE invoice_id = $2", string(status), invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice %s: %w", invoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	return s.GetInvoice(ctx, invoiceID)
}

func (s *billingService) CreateDelivery(ctx context.Context, invoiceID string) (*Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := getInvoiceQ(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Kind != KindInvoice {
		return nil, &ValidationError{Field: "invoice", Reason: "receipts cannot back a delivery"}
	}

	var existing string
	err = tx.QueryRow(ctx,
		"SELECT delivery_id FROM deliveries WHERE invoice_ref = $1", invoiceID,
	).Scan(&existing)
	if err == nil {
		return nil, &ValidationError{Field: "invoice", Reason: fmt.Sprintf("already has delivery %s", existing)}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing delivery for %s: %w", invoiceID, err)
	}

	d := &Delivery{
		DeliveryID: uuid.NewString(),
		InvoiceRef: invoiceID,
		OrderRef:   inv.OrderRef,
		Status:     DeliveryPending,
		CreatedAt:  time.Now(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO deliveries (delivery_id, invoice_ref, order_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.DeliveryID, d.InvoiceRef, d.OrderRef, string(d.Status), d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert delivery: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit delivery: %w", err)
	}
	return d, nil
}

const invoiceSelect = `
	SELECT invoice_id, kind, order_ref, customer_name, amount, due_date, status, created_at
	FROM invoices`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.InvoiceID, &inv.Kind, &inv.OrderRef, &inv.CustomerName,
		&inv.Amount, &inv.DueDate, &inv.Status, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func getInvoiceQ(ctx context.Context, tx pgx.Tx, invoiceID string) (*Invoice, error) {
	inv, err := scanInvoice(tx.QueryRow(ctx, invoiceSelect+" WHERE invoice_id = $1", invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

func (s *billingService) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, invoiceSelect+" WHERE invoice_id = $1", invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

func (s *billingService) GetInvoices(ctx context.Context, orderID string) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx, invoiceSelect+" WHERE order_ref = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices for %s: %w", orderID, err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (s *billingService) DeleteInvoice(ctx context.Context, invoiceID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM invoices WHERE invoice_id = $1", invoiceID)
	if err != nil {
		return fmt.Errorf("failed to delete invoice %s: %w", invoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	return nil
}

func (s *billingService) GetDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	var d Delivery
	err := s.pool.QueryRow(ctx, `
		SELECT delivery_id, invoice_ref, order_ref, status, created_at, delivered_at
		FROM deliveries
		WHERE delivery_id = $1
	`, deliveryID).Scan(&d.DeliveryID, &d.InvoiceRef, &d.OrderRef, &d.Status, &d.CreatedAt, &d.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "delivery", ID: deliveryID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch delivery %s: %w", deliveryID, err)
	}
	return &d, nil
}

func (s *billingService) DeleteDelivery(ctx context.Context, deliveryID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM deliveries WHERE delivery_id = $1", deliveryID)
	if err != nil {
		return fmt.Errorf("failed to delete delivery %s: %w", deliveryID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "delivery", ID: deliveryID}
	}
	return nil
}
