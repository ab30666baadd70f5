package core

import (
	"fmt"
	"time"
)

// OrderType distinguishes who supplies the fabric.
type OrderType string

const (
	// OrderTypeFOB is a full-package order: the shop supplies fabric and materials.
	OrderTypeFOB OrderType = "FOB"
	// OrderTypeCMT is cut-make-trim: the customer supplies materials, the shop supplies labor.
	OrderTypeCMT OrderType = "CMT"
)

// DeliveryType selects the fulfillment branch after packaging.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "for_delivery"
	DeliveryTypePickup   DeliveryType = "for_pickup"
)

// OrderStatus is the order lifecycle state. Transitions are validated against
// orderEdges; anything not listed there is rejected.
type OrderStatus string

const (
	OrderStatusQuoted             OrderStatus = "quoted"
	OrderStatusApproved           OrderStatus = "approved"
	OrderStatusInProduction       OrderStatus = "in_production"
	OrderStatusProductionComplete OrderStatus = "production_complete"
	OrderStatusPackaged           OrderStatus = "packaged"
	OrderStatusReadyForDelivery   OrderStatus = "ready_for_delivery"
	OrderStatusReadyForPickup     OrderStatus = "ready_for_pickup"
	OrderStatusOutForDelivery     OrderStatus = "out_for_delivery"
	OrderStatusCompleted          OrderStatus = "completed"
)

// orderEdges is the closed transition table for the fulfillment state machine.
// The production_complete → in_production edge is the QC rework loop; the
// completed → out_for_delivery and completed → ready_for_pickup edges are the
// explicit undo paths. Everything else moves strictly forward.
var orderEdges = map[OrderStatus][]OrderStatus{
	OrderStatusQuoted:             {OrderStatusApproved},
	OrderStatusApproved:           {OrderStatusInProduction},
	OrderStatusInProduction:       {OrderStatusProductionComplete},
	OrderStatusProductionComplete: {OrderStatusPackaged, OrderStatusInProduction},
	OrderStatusPackaged:           {OrderStatusReadyForDelivery, OrderStatusReadyForPickup},
	OrderStatusReadyForDelivery:   {OrderStatusOutForDelivery},
	OrderStatusReadyForPickup:     {OrderStatusCompleted},
	OrderStatusOutForDelivery:     {OrderStatusCompleted},
	OrderStatusCompleted:          {OrderStatusOutForDelivery, OrderStatusReadyForPickup},
}

// CanTransition reports whether the edge s → to exists in the transition table.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// statusRank orders statuses along the main forward path, used for
// "don't move the order backwards" checks when a batch is created against an
// order that is already further along.
var statusRank = map[OrderStatus]int{
	OrderStatusQuoted:             0,
	OrderStatusApproved:           1,
	OrderStatusInProduction:       2,
	OrderStatusProductionComplete: 3,
	OrderStatusPackaged:           4,
	OrderStatusReadyForDelivery:   5,
	OrderStatusReadyForPickup:     5,
	OrderStatusOutForDelivery:     6,
	OrderStatusCompleted:          7,
}

// Rank returns the forward-path position of the status.
func (s OrderStatus) Rank() int { return statusRank[s] }

// BatchStage is the production stage of a batch. Each stage carries a fixed
// progress percentage.
type BatchStage string

const (
	StageDesigning BatchStage = "Designing"
	StageCutting   BatchStage = "Cutting"
	StageSewing    BatchStage = "Sewing"
	StageCompleted BatchStage = "Completed"
)

var stageProgress = map[BatchStage]int{
	StageDesigning: 25,
	StageCutting:   50,
	StageSewing:    75,
	StageCompleted: 100,
}

// Progress returns the fixed progress percentage for the stage, or 0 for an
// unknown stage.
func (s BatchStage) Progress() int { return stageProgress[s] }

// Valid reports whether s is one of the four defined stages.
func (s BatchStage) Valid() bool {
	_, ok := stageProgress[s]
	return ok
}

// BatchStatus is the coarse batch state, independent of the stage.
type BatchStatus string

const (
	BatchStatusInProgress BatchStatus = "in-progress"
	BatchStatusCompleted  BatchStatus = "completed"
)

// QCStatus is the quality-control sub-state of a batch.
type QCStatus string

const (
	QCPending QCStatus = "pending"
	QCPassed  QCStatus = "passed"
	QCFailed  QCStatus = "failed"
)

// CatalogSource records how a finished-goods lot entered the catalog.
type CatalogSource string

const (
	SourceManual     CatalogSource = "manual"
	SourceProduction CatalogSource = "production"
)

// InvoiceKind separates sales invoices from payment receipts; both live in
// the billings collection but only one open invoice is allowed per order.
type InvoiceKind string

const (
	KindInvoice InvoiceKind = "invoice"
	KindReceipt InvoiceKind = "receipt"
)

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
)

// DeliveryStatus is the shipment state of a delivery record.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryTransit   DeliveryStatus = "transit"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// NewBatchID returns a production batch identifier for the given creation time.
func NewBatchID(now time.Time) string { return fmt.Sprintf("BAT-%d", now.UnixMilli()) }

// NewJobID returns a job order identifier for the given creation time.
func NewJobID(now time.Time) string { return fmt.Sprintf("JOB-%d", now.UnixMilli()) }

// FinishedGoodsSKU is the catalog sku for the finished-goods lot credited when
// a batch passes QC.
func FinishedGoodsSKU(batchID string) string { return "PROD-" + batchID }
