package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryService is the shared stock ledger. The management pool holds raw
// fabric and accessories; the catalog pool holds sellable finished goods.
// Deductions clamp at zero and flag low stock instead of failing: running a
// batch short of thread is a warning, not a hard stop.
//
// TX-scoped methods work inside a caller-provided transaction so the
// production and fulfillment state machines can keep stock changes atomic
// with their own status writes. Both state machines must go through these
// operations; they are the only writers of quantity fields.
type InventoryService interface {
	ListManagement(ctx context.Context) ([]ManagementItem, error)
	ListCatalog(ctx context.Context) ([]CatalogItem, error)
	// ReceiveMaterial adds quantity to a management item, creating it on first receipt.
	ReceiveMaterial(ctx context.Context, item ManagementItem) (*ManagementItem, error)
	// AddCatalogItem registers a manually sourced finished-goods lot.
	AddCatalogItem(ctx context.Context, item CatalogItem) (*CatalogItem, error)

	// Deduct removes up to qty from a management item. Unknown skus are a
	// no-op ("nothing to deduct"), not an error.
	Deduct(ctx context.Context, sku string, qty decimal.Decimal) (*DeductionResult, error)
	// Credit restores quantity to a management item, the exact inverse of Deduct.
	Credit(ctx context.Context, sku string, qty decimal.Decimal) error

	DeductTx(ctx context.Context, tx pgx.Tx, sku string, qty decimal.Decimal) (*DeductionResult, error)
	CreditTx(ctx context.Context, tx pgx.Tx, sku string, qty decimal.Decimal) error
	// MergeOrCreateCatalogItemTx sums quantities into an existing lot with the
	// same sku, or creates a new source=production lot.
	MergeOrCreateCatalogItemTx(ctx context.Context, tx pgx.Tx, item CatalogItem) error
	// ConsumeFinishedGoodsTx takes qty garments out of the catalog for an
	// order, preferring the order's own PROD- lots and falling back to a loose
	// customer/order-id match. It records one CatalogAdjustment per lot
	// touched and is idempotent per order: existing unrestored adjustments are
	// returned as-is. A shortfall is logged, never an error.
	ConsumeFinishedGoodsTx(ctx context.Context, tx pgx.Tx, order *Order, qty decimal.Decimal) ([]CatalogAdjustment, error)
	// RestoreAdjustmentsTx reverses every unrestored adjustment for the order,
	// recreating fully removed lots from their snapshots. Returns how many
	// adjustments were restored.
	RestoreAdjustmentsTx(ctx context.Context, tx pgx.Tx, orderID string) (int, error)
	// StampAdjustmentsTx attaches the order's unrestored adjustments to a delivery.
	StampAdjustmentsTx(ctx context.Context, tx pgx.Tx, orderID, deliveryID string) error
	// RecordDeductionTx appends the batch's audit record; exactly one record
	// may exist per batch.
	RecordDeductionTx(ctx context.Context, tx pgx.Tx, record *DeductionRecord) error

	GetDeductionRecord(ctx context.Context, batchID string) (*DeductionRecord, error)
	AdjustmentsForOrder(ctx context.Context, orderID string) ([]CatalogAdjustment, error)
}

type inventoryService struct {
	pool *pgxpool.Pool
}

// NewInventoryService constructs the inventory ledger over the
// inventory_management and inventory_catalog tables.
func NewInventoryService(pool *pgxpool.Pool) InventoryService {
	return &inventoryService{pool: pool}
}

// ── Management pool ──────────────────────────────────────────────────────────

func (s *inventoryService) ListManagement(ctx context.Context) ([]ManagementItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sku, name, category, quantity, unit, unit_price, min_stock, low_stock, created_at, updated_at
		FROM inventory_management
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query management inventory: %w", err)
	}
	defer rows.Close()

	var items []ManagementItem
	for rows.Next() {
		var it ManagementItem
		if err := rows.Scan(&it.SKU, &it.Name, &it.Category, &it.Quantity, &it.Unit,
			&it.UnitPrice, &it.MinStock, &it.LowStock, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan management item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *inventoryService) ReceiveMaterial(ctx context.Context, item ManagementItem) (*ManagementItem, error) {
	if item.SKU == "" {
		return nil, &ValidationError{Field: "sku", Reason: "is required"}
	}
	if item.Quantity.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Reason: "cannot be negative"}
	}

	var out ManagementItem
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inventory_management (sku, name, category, quantity, unit, unit_price, min_stock, low_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $4 <= $7)
		ON CONFLICT (sku) DO UPDATE SET
			quantity   = inventory_management.quantity + EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			low_stock  = inventory_management.quantity + EXCLUDED.quantity <= inventory_management.min_stock,
			updated_at = NOW()
		RETURNING sku, name, category, quantity, unit, unit_price, min_stock, low_stock, created_at, updated_at
	`, item.SKU, item.Name, item.Category, item.Quantity, item.Unit, item.UnitPrice, item.MinStock).Scan(
		&out.SKU, &out.Name, &out.Category, &out.Quantity, &out.Unit,
		&out.UnitPrice, &out.MinStock, &out.LowStock, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to receive material %s: %w", item.SKU, err)
	}
	return &out, nil
}

func (s *inventoryService) Deduct(ctx context.Context, sku string, qty decimal.Decimal) (*DeductionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.DeductTx(ctx, tx, sku, qty)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deduction: %w", err)
	}
	return res, nil
}

func (s *inventoryService) DeductTx(ctx context.Context, tx pgx.Tx, sku string, qty decimal.Decimal) (*DeductionResult, error) {
	if qty.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Reason: "cannot be negative"}
	}

	var it ManagementItem
	err := tx.QueryRow(ctx, `
		SELECT sku, name, category, quantity, unit, unit_price, min_stock, created_at
		FROM inventory_management
		WHERE sku = $1
		FOR UPDATE
	`, sku).Scan(&it.SKU, &it.Name, &it.Category, &it.Quantity, &it.Unit, &it.UnitPrice, &it.MinStock, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing to deduct. Matches the observed behavior of the shop: a
		// material that was never stocked is not an error at batch time.
		return &DeductionResult{SKU: sku, Removed: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock management item %s: %w", sku, err)
	}

	removed := qty
	newQty := it.Quantity.Sub(qty)
	if newQty.IsNegative() {
		removed = it.Quantity
		newQty = decimal.Zero
	}
	low := newQty.LessThanOrEqual(it.MinStock)

	_, err = tx.Exec(ctx, `
		UPDATE inventory_management
		SET quantity = $1, low_stock = $2, updated_at = NOW()
		WHERE sku = $3
	`, newQty, low, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to deduct from %s: %w", sku, err)
	}

	if removed.LessThan(qty) {
		log.Printf("inventory: short deduction on %s, requested %s, removed %s", sku, qty, removed)
	}

	it.Quantity = newQty
	it.LowStock = low
	return &DeductionResult{SKU: sku, Removed: removed, LowStock: low, Item: &it}, nil
}

func (s *inventoryService) Credit(ctx context.Context, sku string, qty decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.CreditTx(ctx, tx, sku, qty); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit credit: %w", err)
	}
	return nil
}

func (s *inventoryService) CreditTx(ctx context.Context, tx pgx.Tx, sku string, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return &ValidationError{Field: "quantity", Reason: "cannot be negative"}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE inventory_management
		SET quantity  = quantity + $1,
		    low_stock = quantity + $1 <= min_stock,
		    updated_at = NOW()
		WHERE sku = $2
	`, qty, sku)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "management item", ID: sku}
	}
	return nil
}

// ── Catalog pool ─────────────────────────────────────────────────────────────

func (s *inventoryService) ListCatalog(ctx context.Context) ([]CatalogItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sku, name, quantity, unit_price, source, created_at, updated_at
		FROM inventory_catalog
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog inventory: %w", err)
	}
	defer rows.Close()

	var items []CatalogItem
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.SKU, &it.Name, &it.Quantity, &it.UnitPrice, &it.Source, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *inventoryService) AddCatalogItem(ctx context.Context, item CatalogItem) (*CatalogItem, error) {
	if item.SKU == "" {
		return nil, &ValidationError{Field: "sku", Reason: "is required"}
	}
	if item.Source == "" {
		item.Source = SourceManual
	}

	var out CatalogItem
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inventory_catalog (sku, name, quantity, unit_price, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE SET
			quantity   = inventory_catalog.quantity + EXCLUDED.quantity,
			updated_at = NOW()
		RETURNING sku, name, quantity, unit_price, source, created_at, updated_at
	`, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.Source).Scan(
		&out.SKU, &out.Name, &out.Quantity, &out.UnitPrice, &out.Source, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add catalog item %s: %w", item.SKU, err)
	}
	return &out, nil
}

func (s *inventoryService) MergeOrCreateCatalogItemTx(ctx context.Context, tx pgx.Tx, item CatalogItem) error {
	if item.Source == "" {
		item.Source = SourceProduction
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_catalog (sku, name, quantity, unit_price, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE SET
			quantity   = inventory_catalog.quantity + EXCLUDED.quantity,
			updated_at = NOW()
	`, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.Source)
	if err != nil {
		return fmt.Errorf("failed to merge catalog item %s: %w", item.SKU, err)
	}
	return nil
}

// ── Finished-goods consumption & restitution ─────────────────────────────────

func (s *inventoryService) ConsumeFinishedGoodsTx(ctx context.Context, tx pgx.Tx, order *Order, qty decimal.Decimal) ([]CatalogAdjustment, error) {
	existing, err := adjustmentsForOrderQ(ctx, tx, order.OrderID, true)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		// Consumption already happened for this order; reuse it.
		return existing, nil
	}

	lots, err := s.candidateLots(ctx, tx, order)
	if err != nil {
		return nil, err
	}

	remaining := qty
	var adjustments []CatalogAdjustment
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := remaining
		if lot.Quantity.LessThan(take) {
			take = lot.Quantity
		}

		left := lot.Quantity.Sub(take)
		if left.IsZero() {
			if _, err := tx.Exec(ctx, `DELETE FROM inventory_catalog WHERE sku = $1`, lot.SKU); err != nil {
				return nil, fmt.Errorf("failed to remove consumed lot %s: %w", lot.SKU, err)
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE inventory_catalog SET quantity = $1, updated_at = NOW() WHERE sku = $2
			`, left, lot.SKU); err != nil {
				return nil, fmt.Errorf("failed to reduce lot %s: %w", lot.SKU, err)
			}
		}

		snapshot, err := json.Marshal(lot)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot lot %s: %w", lot.SKU, err)
		}

		adj := CatalogAdjustment{
			ID:       uuid.NewString(),
			OrderRef: order.OrderID,
			SKU:      lot.SKU,
			Quantity: take,
			Snapshot: lot,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO catalog_adjustments (id, order_ref, sku, quantity, snapshot, restored)
			VALUES ($1, $2, $3, $4, $5, false)
		`, adj.ID, adj.OrderRef, adj.SKU, adj.Quantity, snapshot); err != nil {
			return nil, fmt.Errorf("failed to record catalog adjustment for %s: %w", lot.SKU, err)
		}

		adjustments = append(adjustments, adj)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		log.Printf("inventory: finished-goods shortfall for order %s, %s of %s garments not in catalog",
			order.OrderID, remaining, qty)
	}
	return adjustments, nil
}

// candidateLots collects consumable catalog lots for the order: first the
// order's own reserved PROD- lots, then the loose customer/order-id scan the
// legacy workflow relied on for manually corrected stock.
func (s *inventoryService) candidateLots(ctx context.Context, tx pgx.Tx, order *Order) ([]CatalogItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.sku, c.name, c.quantity, c.unit_price, c.source, c.created_at, c.updated_at
		FROM inventory_catalog c
		JOIN production_batches b ON c.sku = 'PROD-' || b.batch_id
		WHERE b.order_ref = $1 AND c.source = 'production' AND c.quantity > 0
		ORDER BY c.created_at
		FOR UPDATE OF c
	`, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reserved lots for order %s: %w", order.OrderID, err)
	}
	lots, seen, err := scanLots(rows, nil)
	if err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT sku, name, quantity, unit_price, source, created_at, updated_at
		FROM inventory_catalog
		WHERE source = 'production' AND quantity > 0
		  AND (name ILIKE '%' || $1 || '%' OR name ILIKE '%' || $2 || '%')
		ORDER BY created_at
		FOR UPDATE
	`, order.CustomerName, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog for order %s: %w", order.OrderID, err)
	}
	loose, _, err := scanLots(rows, seen)
	if err != nil {
		return nil, err
	}
	return append(lots, loose...), nil
}

func scanLots(rows pgx.Rows, seen map[string]bool) ([]CatalogItem, map[string]bool, error) {
	defer rows.Close()
	if seen == nil {
		seen = make(map[string]bool)
	}
	var lots []CatalogItem
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.SKU, &it.Name, &it.Quantity, &it.UnitPrice, &it.Source, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan catalog lot: %w", err)
		}
		if seen[it.SKU] {
			continue
		}
		seen[it.SKU] = true
		lots = append(lots, it)
	}
	return lots, seen, rows.Err()
}

func (s *inventoryService) RestoreAdjustmentsTx(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	adjustments, err := adjustmentsForOrderQ(ctx, tx, orderID, true)
	if err != nil {
		return 0, err
	}

	for _, adj := range adjustments {
		tag, err := tx.Exec(ctx, `
			UPDATE inventory_catalog SET quantity = quantity + $1, updated_at = NOW() WHERE sku = $2
		`, adj.Quantity, adj.SKU)
		if err != nil {
			return 0, fmt.Errorf("failed to restore lot %s: %w", adj.SKU, err)
		}
		if tag.RowsAffected() == 0 {
			// Lot was fully removed at consumption time; recreate it from the snapshot.
			snap := adj.Snapshot
			if _, err := tx.Exec(ctx, `
				INSERT INTO inventory_catalog (sku, name, quantity, unit_price, source)
				VALUES ($1, $2, $3, $4, $5)
			`, snap.SKU, snap.Name, adj.Quantity, snap.UnitPrice, snap.Source); err != nil {
				return 0, fmt.Errorf("failed to recreate lot %s from snapshot: %w", adj.SKU, err)
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE catalog_adjustments SET restored = true WHERE id = $1
		`, adj.ID); err != nil {
			return 0, fmt.Errorf("failed to mark adjustment %s restored: %w", adj.ID, err)
		}
	}
	return len(adjustments), nil
}

func (s *inventoryService) StampAdjustmentsTx(ctx context.Context, tx pgx.Tx, orderID, deliveryID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE catalog_adjustments SET delivery_ref = $1
		WHERE order_ref = $2 AND restored = false
	`, deliveryID, orderID)
	if err != nil {
		return fmt.Errorf("failed to stamp adjustments for order %s: %w", orderID, err)
	}
	return nil
}

func (s *inventoryService) AdjustmentsForOrder(ctx context.Context, orderID string) ([]CatalogAdjustment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	adjustments, err := adjustmentsForOrderQ(ctx, tx, orderID, false)
	if err != nil {
		return nil, err
	}
	return adjustments, tx.Commit(ctx)
}

func adjustmentsForOrderQ(ctx context.Context, tx pgx.Tx, orderID string, unrestoredOnly bool) ([]CatalogAdjustment, error) {
	query := `
		SELECT id, order_ref, delivery_ref, sku, quantity, snapshot, restored, created_at
		FROM catalog_adjustments
		WHERE order_ref = $1
	`
	if unrestoredOnly {
		query += " AND restored = false"
	}
	query += " ORDER BY created_at"

	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var adjustments []CatalogAdjustment
	for rows.Next() {
		var adj CatalogAdjustment
		var snapshot []byte
		if err := rows.Scan(&adj.ID, &adj.OrderRef, &adj.DeliveryRef, &adj.SKU, &adj.Quantity,
			&snapshot, &adj.Restored, &adj.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog adjustment: %w", err)
		}
		if err := json.Unmarshal(snapshot, &adj.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for adjustment %s: %w", adj.ID, err)
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// ── Deduction records ────────────────────────────────────────────────────────

func (s *inventoryService) RecordDeductionTx(ctx context.Context, tx pgx.Tx, record *DeductionRecord) error {
	var id int
	err := tx.QueryRow(ctx, `
		INSERT INTO deduction_records (batch_ref, order_ref)
		VALUES ($1, $2)
		RETURNING id
	`, record.BatchRef, record.OrderRef).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert deduction record for batch %s: %w", record.BatchRef, err)
	}
	record.ID = id

	for _, item := range record.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO deduction_record_items (record_id, item_name, sku, quantity, unit, unit_price, total_price, low_stock)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, item.ItemName, item.SKU, item.Quantity, item.Unit, item.UnitPrice, item.TotalPrice, item.LowStock)
		if err != nil {
			return fmt.Errorf("failed to insert deduction item %s: %w", item.ItemName, err)
		}
	}
	return nil
}

func (s *inventoryService) GetDeductionRecord(ctx context.Context, batchID string) (*DeductionRecord, error) {
	var rec DeductionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, batch_ref, order_ref, created_at
		FROM deduction_records
		WHERE batch_ref = $1
	`, batchID).Scan(&rec.ID, &rec.BatchRef, &rec.OrderRef, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "deduction record", ID: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deduction record for batch %s: %w", batchID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT item_name, sku, quantity, unit, unit_price, total_price, low_stock
		FROM deduction_record_items
		WHERE record_id = $1
		ORDER BY id
	`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deduction items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item DeductionItem
		if err := rows.Scan(&item.ItemName, &item.SKU, &item.Quantity, &item.Unit,
			&item.UnitPrice, &item.TotalPrice, &item.LowStock); err != nil {
			return nil, fmt.Errorf("failed to scan deduction item: %w", err)
		}
		rec.Items = append(rec.Items, item)
	}
	return &rec, rows.Err()
}
