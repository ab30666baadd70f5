package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobOrder is the shop-floor job a production batch runs under. One job order
// exists per order; a second batch for the same order reuses it. Stage and
// progress mirror the latest batch.
type JobOrder struct {
	JobID        string     `json:"job_id"` // JOB-<epoch>
	OrderRef     string     `json:"order_ref"`
	GarmentType  string     `json:"garment_type"`
	Quantity     int        `json:"quantity"`
	CurrentStage BatchStage `json:"current_stage"`
	Progress     int        `json:"progress"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ProductionBatch is one production run fulfilling all or part of an order.
// The stage carries a fixed progress mapping (25/50/75/100); QC is an
// independent sub-state. Batches are never deleted, only completed or
// sent back to rework.
type ProductionBatch struct {
	BatchID      string      `json:"batch_id"` // BAT-<epoch>
	OrderRef     string      `json:"order_ref"`
	JobID        string      `json:"job_id"`
	GarmentType  string      `json:"garment_type"`
	Quantity     int         `json:"quantity"`
	CurrentStage BatchStage  `json:"current_stage"`
	Progress     int         `json:"progress"`
	Status       BatchStatus `json:"status"`
	QCStatus     QCStatus    `json:"qc_status"`
	QCInspector  string      `json:"qc_inspector,omitempty"`
	QCDate       *time.Time  `json:"qc_date,omitempty"`
	QCDefects    string      `json:"qc_defects,omitempty"`
	Credited     bool        `json:"credited"` // finished-goods lot already credited to the catalog
	CreatedAt    time.Time   `json:"created_at"`
}

// DeductionRecord is the audit entry written once per batch at batch
// creation. It doubles as the compensating-transaction source if the
// deduction is ever reverted.
type DeductionRecord struct {
	ID        int             `json:"id"`
	BatchRef  string          `json:"batch_ref"`
	OrderRef  string          `json:"order_ref"`
	Items     []DeductionItem `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeductionItem is one material line of a deduction record. Quantity is the
// amount actually removed, which may be less than requested when stock ran
// short (the shortfall is clamped, not failed).
type DeductionItem struct {
	ItemName   string          `json:"item_name"`
	SKU        string          `json:"sku"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	LowStock   bool            `json:"low_stock"`
}
