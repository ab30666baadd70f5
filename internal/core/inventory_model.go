package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManagementItem is raw fabric or accessory stock in the management pool.
// Quantity never goes below zero: deductions clamp and flag low stock.
type ManagementItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	MinStock  decimal.Decimal `json:"min_stock"`
	LowStock  bool            `json:"low_stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CatalogItem is a sellable finished-goods lot, distinct from the
// raw-material management pool. Lots credited by QC passes carry
// source=production and a PROD-<batchId> sku.
type CatalogItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Source    CatalogSource   `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DeductionResult reports what a deduct call actually removed. Removed may be
// less than requested; LowStock is set when the remaining quantity is at or
// below the item's minimum.
type DeductionResult struct {
	SKU      string
	Removed  decimal.Decimal
	LowStock bool
	Item     *ManagementItem // state after the deduction; nil when the sku was unknown
}

// CatalogAdjustment records one lot consumed for an order's fulfillment, with
// a full snapshot of the lot at consumption time so the consumption can be
// reversed exactly, recreating the lot if it was fully removed.
type CatalogAdjustment struct {
	ID          string          `json:"id"` // uuid
	OrderRef    string          `json:"order_ref"`
	DeliveryRef *string         `json:"delivery_ref,omitempty"`
	SKU         string          `json:"sku"`
	Quantity    decimal.Decimal `json:"quantity"`
	Snapshot    CatalogItem     `json:"snapshot"`
	Restored    bool            `json:"restored"`
	CreatedAt   time.Time       `json:"created_at"`
}
