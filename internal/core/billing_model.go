package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a billing document for an order. Kind "invoice" uses
// INV-<year>-<seq4> numbering and is limited to one per order; kind
// "receipt" uses the legacy "REC - <year> - <seq4>" format and may only be
// generated once the order's production has passed QC.
type Invoice struct {
	InvoiceID    string          `json:"invoice_id"`
	Kind         InvoiceKind     `json:"kind"`
	OrderRef     string          `json:"order_ref"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
	Status       InvoiceStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Delivery links an invoice to a physical shipment. An invoice may back at
// most one delivery. The catalog adjustments consumed for the shipment are
// stamped with the delivery id when it is marked delivered, so an undo can
// restore them exactly.
type Delivery struct {
	DeliveryID  string         `json:"delivery_id"` // uuid
	InvoiceRef  string         `json:"invoice_ref"`
	OrderRef    string         `json:"order_ref"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}
