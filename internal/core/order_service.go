package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Notifier sends a customer-facing message about an order event. A nil
// Notifier disables notifications; send failures are logged, never returned,
// because a dropped text must not roll back a state transition.
type Notifier interface {
	Send(ctx context.Context, phone, message, kind string) error
}

// OrderService owns the order lifecycle from quotation to completion. Every
// transition is validated against the closed edge table; compound steps
// (packaging checks, finished-goods consumption, delivery stamping) run in a
// single transaction so a failure leaves no partial state behind.
type OrderService interface {
	// SubmitQuotation prices the input against the base-rate table, assigns
	// the next ORD number, and persists the order as quoted.
	SubmitQuotation(ctx context.Context, in QuotationInput) (*Order, *QuoteBreakdown, error)
	// ApproveOrder moves a quoted order to approved.
	ApproveOrder(ctx context.Context, orderID string) (*Order, error)
	// PackageOrder moves production_complete to packaged, but only when the
	// order's most recent batch has passed QC.
	PackageOrder(ctx context.Context, orderID string) (*Order, error)
	// ReadyForDelivery stages a for_delivery order for shipment and consumes
	// its finished goods from the catalog.
	ReadyForDelivery(ctx context.Context, orderID string) (*Order, error)
	// ReadyForPickup stages a for_pickup order and records the pickup date.
	ReadyForPickup(ctx context.Context, orderID string, pickupDate time.Time) (*Order, error)
	// MarkOutForDelivery dispatches the shipment. The order must already have
	// a delivery record (created by billing); it moves to transit.
	MarkOutForDelivery(ctx context.Context, orderID string) (*Order, error)
	// MarkDelivered completes a delivery order, stamps the consumed catalog
	// adjustments with the delivery id, and marks the delivery delivered.
	MarkDelivered(ctx context.Context, orderID string) (*Order, error)
	// UndoDelivered reverses MarkDelivered: restores every consumed lot from
	// its snapshot and puts the shipment back in transit.
	UndoDelivered(ctx context.Context, orderID string) (*Order, error)
	// MarkPickedUp completes a pickup order. An invoice must exist first.
	MarkPickedUp(ctx context.Context, orderID string) (*Order, error)
	// UndoPickedUp reverses MarkPickedUp and restores the consumed lots.
	UndoPickedUp(ctx context.Context, orderID string) (*Order, error)

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrders(ctx context.Context) ([]Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

type orderService struct {
	pool     *pgxpool.Pool
	pricing  PricingService
	inv      InventoryService
	notifier Notifier
}

// NewOrderService constructs the fulfillment service. notifier may be nil.
func NewOrderService(pool *pgxpool.Pool, pricing PricingService, inv InventoryService, notifier Notifier) OrderService {
	return &orderService{pool: pool, pricing: pricing, inv: inv, notifier: notifier}
}

// ── Quotation ───────────────────────────────────────────────────────────────

func (s *orderService) SubmitQuotation(ctx context.Context, in QuotationInput) (*Order, *QuoteBreakdown, error) {
	if in.CustomerName == "" {
		return nil, nil, &ValidationError{Field: "customer_name", Reason: "is required"}
	}
	if in.GarmentType == "" {
		return nil, nil, &ValidationError{Field: "garment_type", Reason: "is required"}
	}
	if in.DeliveryType != DeliveryTypeDelivery && in.DeliveryType != DeliveryTypePickup {
		return nil, nil, &ValidationError{Field: "delivery_type", Reason: "must be for_delivery or for_pickup"}
	}

	rates, err := s.pricing.RateTable(ctx)
	if err != nil {
		return nil, nil, err
	}
	quote, err := ComputeQuote(in, rates)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	orderID, err := NextOrderID(ctx, tx, now.Year())
	if err != nil {
		return nil, nil, err
	}

	order := &Order{
		OrderID:         orderID,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CustomerAddress: in.CustomerAddress,
		GarmentType:     in.GarmentType,
		OrderType:       in.OrderType,
		DeliveryType:    in.DeliveryType,
		Quantity:        quote.TotalQuantity,
		QuotedAmount:    quote.Total,
		Status:          OrderStatusQuoted,
		Sizes:           in.Sizes,
		Colors:          in.Fabrics,
		Accessories:     in.Accessories,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders
			(order_id, customer_name, customer_phone, customer_address, garment_type,
			 order_type, delivery_type, quantity, quoted_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, order.OrderID, order.CustomerName, order.CustomerPhone, order.CustomerAddress,
		order.GarmentType, string(order.OrderType), string(order.DeliveryType),
		order.Quantity, order.QuotedAmount, string(order.Status), now, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, row := range order.Sizes {
		if _, err := tx.Exec(ctx,
			"INSERT INTO order_sizes (order_ref, size, quantity) VALUES ($1, $2, $3)",
			orderID, row.Size, row.Quantity,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to insert size row: %w", err)
		}
	}
	for _, row := range order.Colors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_colors (order_ref, name, hex, yards, fabric_sku, fabric_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, orderID, row.Name, row.Hex, row.Yards, row.FabricSKU, row.FabricPrice); err != nil {
			return nil, nil, fmt.Errorf("failed to insert color row: %w", err)
		}
	}
	for _, row := range order.Accessories {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_accessories (order_ref, sku, name, price, quantity)
			VALUES ($1, $2, $3, $4, $5)
		`, orderID, row.SKU, row.Name, row.Price, row.Quantity); err != nil {
			return nil, nil, fmt.Errorf("failed to insert accessory row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit quotation: %w", err)
	}

	s.notify(ctx, order, fmt.Sprintf(
		"Hi %s, your quotation %s for %d x %s totals %s. Reply to approve.",
		order.CustomerName, order.OrderID, order.Quantity, order.GarmentType,
		order.QuotedAmount.StringFixed(2)), "quotation")
	return order, quote, nil
}

// ── Forward transitions ─────────────────────────────────────────────────────

func (s *orderService) ApproveOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.simpleTransition(ctx, orderID, OrderStatusApproved, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, order, fmt.Sprintf(
		"Hi %s, order %s is approved and queued for production.",
		order.CustomerName, order.OrderID), "approval")
	return order, nil
}

func (s *orderService) PackageOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.simpleTransition(ctx, orderID, OrderStatusPackaged, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		var qc *string
		err := tx.QueryRow(ctx, `
			SELECT qc_status FROM production_batches
			WHERE order_ref = $1
			ORDER BY created_at DESC
			LIMIT 1
		`, orderID).Scan(&qc)
		if errors.Is(err, pgx.ErrNoRows) {
			return &ValidationError{Field: "order", Reason: "has no production batch to package"}
		}
		if err != nil {
			return fmt.Errorf("failed to check QC status for %s: %w", orderID, err)
		}
		if qc == nil || QCStatus(*qc) != QCPassed {
			return &ValidationError{Field: "order", Reason: "latest batch has not passed QC"}
		}
		return nil
	})
}

func (s *orderService) ReadyForDelivery(ctx context.Context, orderID string) (*Order, error) {
	return s.simpleTransition(ctx, orderID, OrderStatusReadyForDelivery, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		if order.DeliveryType != DeliveryTypeDelivery {
			return &ValidationError{Field: "delivery_type", Reason: "order is for pickup"}
		}
		_, err := s.inv.ConsumeFinishedGoodsTx(ctx, tx, order, decimal.NewFromInt(int64(order.Quantity)))
		return err
	})
}

func (s *orderService) ReadyForPickup(ctx context.Context, orderID string, pickupDate time.Time) (*Order, error) {
	if pickupDate.IsZero() {
		return nil, &ValidationError{Field: "pickup_date", Reason: "is required"}
	}
	order, err := s.simpleTransition(ctx, orderID, OrderStatusReadyForPickup, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		if order.DeliveryType != DeliveryTypePickup {
			return &ValidationError{Field: "delivery_type", Reason: "order is for delivery"}
		}
		if _, err := tx.Exec(ctx,
			"UPDATE orders SET pickup_date = $1 WHERE order_id = $2", pickupDate, orderID,
		); err != nil {
			return fmt.Errorf("failed to set pickup date: %w", err)
		}
		order.PickupDate = &pickupDate
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, order, fmt.Sprintf(
		"Hi %s, order %s is ready for pickup on %s.",
		order.CustomerName, order.OrderID, pickupDate.Format("Jan 2, 2006")), "pickup")
	return order, nil
}

func (s *orderService) MarkOutForDelivery(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.simpleTransition(ctx, orderID, OrderStatusOutForDelivery, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		return s.setDeliveryStatusTx(ctx, tx, orderID, DeliveryTransit, false)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, order, fmt.Sprintf(
		"Hi %s, order %s is out for delivery.", order.CustomerName, order.OrderID), "dispatch")
	return order, nil
}

func (s *orderService) MarkDelivered(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.simpleTransition(ctx, orderID, OrderStatusCompleted, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		// ReadyForDelivery normally consumed the lots already; consuming here
		// covers orders that skipped straight through, and is a no-op when
		// unrestored adjustments exist.
		if _, err := s.inv.ConsumeFinishedGoodsTx(ctx, tx, order, decimal.NewFromInt(int64(order.Quantity))); err != nil {
			return err
		}
		deliveryID, err := s.lockDeliveryTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := time.Now()
		if _, err := tx.Exec(ctx, `
			UPDATE deliveries SET status = $1, delivered_at = $2 WHERE order_ref = $3
		`, string(DeliveryDelivered), now, orderID); err != nil {
			return fmt.Errorf("failed to mark delivery delivered: %w", err)
		}
		return s.inv.StampAdjustmentsTx(ctx, tx, orderID, deliveryID)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, order, fmt.Sprintf(
		"Hi %s, order %s has been delivered. Thank you!", order.CustomerName, order.OrderID), "delivered")
	return order, nil
}

// ── Undo transitions ────────────────────────────────────────────────────────

func (s *orderService) UndoDelivered(ctx context.Context, orderID string) (*Order, error) {
	return s.simpleTransition(ctx, orderID, OrderStatusOutForDelivery, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		restored, err := s.inv.RestoreAdjustmentsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		log.Printf("order %s: restored %d catalog lot(s) on delivery undo", orderID, restored)
		return s.setDeliveryStatusTx(ctx, tx, orderID, DeliveryTransit, true)
	})
}

func (s *orderService) MarkPickedUp(ctx context.Context, orderID string) (*Order, error) {
	return s.simpleTransition(ctx, orderID, OrderStatusCompleted, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		if order.DeliveryType != DeliveryTypePickup {
			return &ValidationError{Field: "delivery_type", Reason: "order is for delivery"}
		}
		var invoiceID string
		err := tx.QueryRow(ctx, `
			SELECT invoice_id FROM invoices
			WHERE order_ref = $1 AND kind = $2
		`, orderID, string(KindInvoice)).Scan(&invoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Entity: "invoice", ID: orderID}
		}
		if err != nil {
			return fmt.Errorf("failed to look up invoice for %s: %w", orderID, err)
		}
		_, err = s.inv.ConsumeFinishedGoodsTx(ctx, tx, order, decimal.NewFromInt(int64(order.Quantity)))
		return err
	})
}

func (s *orderService) UndoPickedUp(ctx context.Context, orderID string) (*Order, error) {
	return s.simpleTransition(ctx, orderID, OrderStatusReadyForPickup, func(ctx context.Context, tx pgx.Tx, order *Order) error {
		if order.DeliveryType != DeliveryTypePickup {
			return &ValidationError{Field: "delivery_type", Reason: "order is for delivery"}
		}
		restored, err := s.inv.RestoreAdjustmentsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		log.Printf("order %s: restored %d catalog lot(s) on pickup undo", orderID, restored)
		return nil
	})
}

// ── Reads and deletion ──────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fetchOrderQ(ctx, tx, orderID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit read: %w", err)
	}
	return order, nil
}

func (s *orderService) GetOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, orderSelect+" ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM orders WHERE order_id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "order", ID: orderID}
	}
	return nil
}

// ── Shared helpers ──────────────────────────────────────────────────────────

// simpleTransition locks the order, validates the edge to target, runs the
// optional step inside the same transaction, and persists the new status.
func (s *orderService) simpleTransition(ctx context.Context, orderID string, target OrderStatus,
	step func(context.Context, pgx.Tx, *Order) error) (*Order, error) {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fetchOrderQ(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(target) {
		return nil, &TransitionError{Entity: "order", ID: orderID,
			From: string(order.Status), To: string(target)}
	}

	if step != nil {
		if err := step(ctx, tx, order); err != nil {
			return nil, err
		}
	}

	if err := transitionOrderTx(ctx, tx, order, target); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition to %s: %w", target, err)
	}
	return order, nil
}

// transitionOrderTx validates and persists the status edge, mutating order in
// place. Used by both the fulfillment and production services.
func transitionOrderTx(ctx context.Context, tx pgx.Tx, order *Order, target OrderStatus) error {
	if !order.Status.CanTransition(target) {
		return &TransitionError{Entity: "order", ID: order.OrderID,
			From: string(order.Status), To: string(target)}
	}
	now := time.Now()
	_, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3",
		string(target), now, order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to transition order %s to %s: %w", order.OrderID, target, err)
	}
	order.Status = target
	order.UpdatedAt = now
	return nil
}

const orderSelect = `
	SELECT order_id, customer_name, customer_phone, customer_address, garment_type,
	       order_type, delivery_type, quantity, quoted_amount, status, pickup_date,
	       created_at, updated_at
	FROM orders`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.OrderID, &o.CustomerName, &o.CustomerPhone, &o.CustomerAddress,
		&o.GarmentType, &o.OrderType, &o.DeliveryType, &o.Quantity, &o.QuotedAmount,
		&o.Status, &o.PickupDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// fetchOrderQ loads the order with its size, color and accessory rows inside
// the caller's transaction, locking the header row when forUpdate is set.
func fetchOrderQ(ctx context.Context, tx pgx.Tx, orderID string, forUpdate bool) (*Order, error) {
	q := orderSelect + " WHERE order_id = $1"
	if forUpdate {
		q += " FOR UPDATE"
	}
	order, err := scanOrder(tx.QueryRow(ctx, q, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	rows, err := tx.Query(ctx,
		"SELECT size, quantity FROM order_sizes WHERE order_ref = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query size rows: %w", err)
	}
	for rows.Next() {
		var r SizeRow
		if err := rows.Scan(&r.Size, &r.Quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan size row: %w", err)
		}
		order.Sizes = append(order.Sizes, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT name, hex, yards, fabric_sku, fabric_price
		FROM order_colors WHERE order_ref = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query color rows: %w", err)
	}
	for rows.Next() {
		var r ColorRow
		if err := rows.Scan(&r.Name, &r.Hex, &r.Yards, &r.FabricSKU, &r.FabricPrice); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan color row: %w", err)
		}
		order.Colors = append(order.Colors, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT sku, name, price, quantity
		FROM order_accessories WHERE order_ref = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accessory rows: %w", err)
	}
	for rows.Next() {
		var r AccessoryRow
		if err := rows.Scan(&r.SKU, &r.Name, &r.Price, &r.Quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan accessory row: %w", err)
		}
		order.Accessories = append(order.Accessories, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// lockDeliveryTx returns the id of the order's delivery record, locked.
func (s *orderService) lockDeliveryTx(ctx context.Context, tx pgx.Tx, orderID string) (string, error) {
	var deliveryID string
	err := tx.QueryRow(ctx,
		"SELECT delivery_id FROM deliveries WHERE order_ref = $1 FOR UPDATE", orderID,
	).Scan(&deliveryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &NotFoundError{Entity: "delivery", ID: orderID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up delivery for %s: %w", orderID, err)
	}
	return deliveryID, nil
}

// setDeliveryStatusTx moves the order's delivery record to status. When
// clearDeliveredAt is set the delivered timestamp is wiped (undo path).
func (s *orderService) setDeliveryStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status DeliveryStatus, clearDeliveredAt bool) error {
	if _, err := s.lockDeliveryTx(ctx, tx, orderID); err != nil {
		return err
	}
	q := "UPDATE deliveries SET status = $1 WHERE order_ref = $2"
	if clearDeliveredAt {
		q = "UPDATE deliveries SET status = $1, delivered_at = NULL WHERE order_ref = $2"
	}
	if _, err := tx.Exec(ctx, q, string(status), orderID); err != nil {
		return fmt.Errorf("failed to update delivery status for %s: %w", orderID, err)
	}
	return nil
}

func (s *orderService) notify(ctx context.Context, order *Order, message, kind string) {
	if s.notifier == nil || order.CustomerPhone == "" {
		return
	}
	if err := s.notifier.Send(ctx, order.CustomerPhone, message, kind); err != nil {
		log.Printf("notify: failed to send %s message for %s: %v", kind, order.OrderID, err)
	}
}
