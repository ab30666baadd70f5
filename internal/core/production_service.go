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

// ProductionService owns the production-batch state machine: stage
// progression, the QC gate, and the rework loop. Batch creation consumes the
// inventory ledger proportionally to the batch's share of the order; a QC
// pass credits the finished-goods catalog exactly once per batch.
type ProductionService interface {
	// CreateBatch starts a production run for the order. It reuses the
	// order's job order (creating one on the first batch), deducts materials
	// proportionally, writes the batch's single DeductionRecord, and moves
	// the order to in_production unless it is already further along.
	CreateBatch(ctx context.Context, orderID string, quantity int, startStage BatchStage) (*ProductionBatch, error)
	// UpdateStage moves the batch to a stage with its fixed progress value.
	// Moving to Completed behaves exactly like CompleteBatch.
	UpdateStage(ctx context.Context, batchID string, stage BatchStage) (*ProductionBatch, error)
	// CompleteBatch finishes the run and moves the order to
	// production_complete. Inventory is not touched until QC passes.
	CompleteBatch(ctx context.Context, batchID string) (*ProductionBatch, error)
	// SubmitQC records an inspection. A pass credits one finished-goods lot
	// to the catalog; a fail leaves the batch completed but blocked from
	// packaging and receipt generation.
	SubmitQC(ctx context.Context, batchID, inspector string, result QCStatus, defects string) (*ProductionBatch, error)
	// SendToRework returns a failed batch to the floor: QC back to pending,
	// progress clamped to the cutting stage, order back to in_production.
	SendToRework(ctx context.Context, batchID string) (*ProductionBatch, error)

	GetBatch(ctx context.Context, batchID string) (*ProductionBatch, error)
	GetBatches(ctx context.Context, orderID string) ([]ProductionBatch, error)
	GetJobOrder(ctx context.Context, orderID string) (*JobOrder, error)
}

type productionService struct {
	pool *pgxpool.Pool
	inv  InventoryService
}

// NewProductionService constructs the production workflow controller.
func NewProductionService(pool *pgxpool.Pool, inv InventoryService) ProductionService {
	return &productionService{pool: pool, inv: inv}
}

func (s *productionService) CreateBatch(ctx context.Context, orderID string, quantity int, startStage BatchStage) (*ProductionBatch, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if startStage == "" {
		startStage = StageDesigning
	}
	if !startStage.Valid() {
		return nil, &ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", startStage)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fetchOrderQ(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}

	// Neither a second active batch nor a batch larger than the order is
	// rejected; the shop has always been allowed to do both. Surface it so
	// operators can see it happening.
	var activeBatches int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM production_batches WHERE order_ref = $1 AND status = $2",
		orderID, string(BatchStatusInProgress),
	).Scan(&activeBatches); err != nil {
		return nil, fmt.Errorf("failed to count active batches: %w", err)
	}
	if activeBatches > 0 {
		log.Printf("production: order %s already has %d active batch(es)", orderID, activeBatches)
	}
	if quantity > order.Quantity {
		log.Printf("production: batch quantity %d exceeds order quantity %d for %s",
			quantity, order.Quantity, orderID)
	}

	now := time.Now()
	job, err := s.ensureJobOrderTx(ctx, tx, order, startStage, now)
	if err != nil {
		return nil, err
	}

	batch := &ProductionBatch{
		BatchID:      NewBatchID(now),
		OrderRef:     order.OrderID,
		JobID:        job.JobID,
		GarmentType:  order.GarmentType,
		Quantity:     quantity,
		CurrentStage: startStage,
		Progress:     startStage.Progress(),
		Status:       BatchStatusInProgress,
		QCStatus:     QCPending,
		CreatedAt:    now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO production_batches
			(batch_id, order_ref, job_id, garment_type, quantity, current_stage, progress, status, qc_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, batch.BatchID, batch.OrderRef, batch.JobID, batch.GarmentType, batch.Quantity,
		string(batch.CurrentStage), batch.Progress, string(batch.Status), string(batch.QCStatus), now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert batch: %w", err)
	}
	if err := s.mirrorJobOrderTx(ctx, tx, batch); err != nil {
		return nil, err
	}

	if err := s.deductMaterialsTx(ctx, tx, order, batch); err != nil {
		return nil, err
	}

	if order.Status.Rank() < OrderStatusInProduction.Rank() {
		if err := transitionOrderTx(ctx, tx, order, OrderStatusInProduction); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch creation: %w", err)
	}
	return batch, nil
}

// ensureJobOrderTx returns the order's job order, creating it on first use.
func (s *productionService) ensureJobOrderTx(ctx context.Context, tx pgx.Tx, order *Order, stage BatchStage, now time.Time) (*JobOrder, error) {
	var job JobOrder
	err := tx.QueryRow(ctx, `
		SELECT job_id, order_ref, garment_type, quantity, current_stage, progress, status, created_at
		FROM job_orders
		WHERE order_ref = $1
	`, order.OrderID).Scan(&job.JobID, &job.OrderRef, &job.GarmentType, &job.Quantity,
		&job.CurrentStage, &job.Progress, &job.Status, &job.CreatedAt)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up job order for %s: %w", order.OrderID, err)
	}

	job = JobOrder{
		JobID:        NewJobID(now),
		OrderRef:     order.OrderID,
		GarmentType:  order.GarmentType,
		Quantity:     order.Quantity,
		CurrentStage: stage,
		Progress:     stage.Progress(),
		Status:       BatchStatusInProgress,
		CreatedAt:    now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO job_orders (job_id, order_ref, garment_type, quantity, current_stage, progress, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.JobID, job.OrderRef, job.GarmentType, job.Quantity, string(job.CurrentStage), job.Progress, string(job.Status), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create job order: %w", err)
	}
	return &job, nil
}

// deductMaterialsTx performs the proportional ledger deductions for a batch
// and appends the batch's single DeductionRecord. A batch covering half the
// order consumes half of each selected fabric's yardage and half of each
// accessory count.
func (s *productionService) deductMaterialsTx(ctx context.Context, tx pgx.Tx, order *Order, batch *ProductionBatch) error {
	ratio := decimal.NewFromInt(int64(batch.Quantity)).
		Div(decimal.NewFromInt(int64(order.Quantity)))

	record := &DeductionRecord{BatchRef: batch.BatchID, OrderRef: order.OrderID}

	appendItem := func(name, sku, unit string, unitPrice decimal.Decimal, res *DeductionResult) {
		if res.Item != nil {
			name = res.Item.Name
			unit = res.Item.Unit
			unitPrice = res.Item.UnitPrice
		}
		record.Items = append(record.Items, DeductionItem{
			ItemName:   name,
			SKU:        sku,
			Quantity:   res.Removed,
			Unit:       unit,
			UnitPrice:  unitPrice,
			TotalPrice: unitPrice.Mul(res.Removed),
			LowStock:   res.LowStock,
		})
	}

	for _, color := range order.Colors {
		res, err := s.inv.DeductTx(ctx, tx, color.FabricSKU, color.Yards.Mul(ratio))
		if err != nil {
			return err
		}
		appendItem(color.Name+" fabric", color.FabricSKU, "yard", color.FabricPrice, res)
	}
	for _, acc := range order.Accessories {
		qty := decimal.NewFromInt(int64(acc.Quantity)).Mul(ratio)
		res, err := s.inv.DeductTx(ctx, tx, acc.SKU, qty)
		if err != nil {
			return err
		}
		appendItem(acc.Name, acc.SKU, "pc", acc.Price, res)
	}

	return s.inv.RecordDeductionTx(ctx, tx, record)
}

func (s *productionService) UpdateStage(ctx context.Context, batchID string, stage BatchStage) (*ProductionBatch, error) {
	if !stage.Valid() {
		return nil, &ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", stage)}
	}
	if stage == StageCompleted {
		return s.CompleteBatch(ctx, batchID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := lockBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	batch.CurrentStage = stage
	batch.Progress = stage.Progress()
	if err := s.saveBatchStageTx(ctx, tx, batch); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stage update: %w", err)
	}
	return batch, nil
}

func (s *productionService) CompleteBatch(ctx context.Context, batchID string) (*ProductionBatch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := lockBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	batch.CurrentStage = StageCompleted
	batch.Progress = StageCompleted.Progress()
	batch.Status = BatchStatusCompleted
	if err := s.saveBatchStageTx(ctx, tx, batch); err != nil {
		return nil, err
	}

	order, err := fetchOrderQ(ctx, tx, batch.OrderRef, true)
	if err != nil {
		return nil, err
	}
	if order.Status.Rank() < OrderStatusProductionComplete.Rank() {
		if err := transitionOrderTx(ctx, tx, order, OrderStatusProductionComplete); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch completion: %w", err)
	}
	return batch, nil
}

func (s *productionService) SubmitQC(ctx context.Context, batchID, inspector string, result QCStatus, defects string) (*ProductionBatch, error) {
	if inspector == "" {
		return nil, &ValidationError{Field: "inspector", Reason: "is required"}
	}
	if result != QCPassed && result != QCFailed {
		return nil, &ValidationError{Field: "result", Reason: "must be passed or failed"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := lockBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchStatusCompleted {
		return nil, &TransitionError{Entity: "batch", ID: batchID,
			From: string(batch.Status), To: "qc " + string(result)}
	}

	now := time.Now()
	batch.QCStatus = result
	batch.QCInspector = inspector
	batch.QCDate = &now
	batch.QCDefects = defects
	_, err = tx.Exec(ctx, `
		UPDATE production_batches
		SET qc_status = $1, qc_inspector = $2, qc_date = $3, qc_defects = $4
		WHERE batch_id = $5
	`, string(result), inspector, now, defects, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to record QC result: %w", err)
	}

	// A pass credits the catalog with the finished-goods lot, once. Earlier
	// failed attempts credit nothing, and a rework cycle cannot double-credit.
	if result == QCPassed && !batch.Credited {
		order, err := fetchOrderQ(ctx, tx, batch.OrderRef, false)
		if err != nil {
			return nil, err
		}

		unitPrice := decimal.Zero
		if order.Quantity > 0 {
			unitPrice = order.QuotedAmount.Div(decimal.NewFromInt(int64(order.Quantity)))
		}
		lot := CatalogItem{
			SKU:       FinishedGoodsSKU(batch.BatchID),
			Name:      fmt.Sprintf("%s for %s (%s)", order.GarmentType, order.CustomerName, order.OrderID),
			Quantity:  decimal.NewFromInt(int64(batch.Quantity)),
			UnitPrice: unitPrice,
			Source:    SourceProduction,
		}
		if err := s.inv.MergeOrCreateCatalogItemTx(ctx, tx, lot); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE production_batches SET credited = true WHERE batch_id = $1", batchID,
		); err != nil {
			return nil, fmt.Errorf("failed to mark batch credited: %w", err)
		}
		batch.Credited = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit QC submission: %w", err)
	}
	return batch, nil
}

func (s *productionService) SendToRework(ctx context.Context, batchID string) (*ProductionBatch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := lockBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.QCStatus != QCFailed {
		return nil, &TransitionError{Entity: "batch", ID: batchID,
			From: "qc " + string(batch.QCStatus), To: "rework"}
	}

	batch.Status = BatchStatusInProgress
	batch.QCStatus = QCPending
	if batch.Progress > StageCutting.Progress() {
		batch.Progress = StageCutting.Progress()
		batch.CurrentStage = StageCutting
	}
	_, err = tx.Exec(ctx, `
		UPDATE production_batches
		SET status = $1, qc_status = $2, current_stage = $3, progress = $4
		WHERE batch_id = $5
	`, string(batch.Status), string(batch.QCStatus), string(batch.CurrentStage), batch.Progress, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to send batch to rework: %w", err)
	}
	if err := s.mirrorJobOrderTx(ctx, tx, batch); err != nil {
		return nil, err
	}

	order, err := fetchOrderQ(ctx, tx, batch.OrderRef, true)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusInProduction {
		if err := transitionOrderTx(ctx, tx, order, OrderStatusInProduction); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rework: %w", err)
	}
	return batch, nil
}

// saveBatchStageTx persists stage/progress/status and mirrors them onto the
// linked job order.
func (s *productionService) saveBatchStageTx(ctx context.Context, tx pgx.Tx, batch *ProductionBatch) error {
	_, err := tx.Exec(ctx, `
		UPDATE production_batches
		SET current_stage = $1, progress = $2, status = $3
		WHERE batch_id = $4
	`, string(batch.CurrentStage), batch.Progress, string(batch.Status), batch.BatchID)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batch.BatchID, err)
	}
	return s.mirrorJobOrderTx(ctx, tx, batch)
}

func (s *productionService) mirrorJobOrderTx(ctx context.Context, tx pgx.Tx, batch *ProductionBatch) error {
	_, err := tx.Exec(ctx, `
		UPDATE job_orders
		SET current_stage = $1, progress = $2, status = $3
		WHERE job_id = $4
	`, string(batch.CurrentStage), batch.Progress, string(batch.Status), batch.JobID)
	if err != nil {
		return fmt.Errorf("failed to mirror job order %s: %w", batch.JobID, err)
	}
	return nil
}

func lockBatchTx(ctx context.Context, tx pgx.Tx, batchID string) (*ProductionBatch, error) {
	batch, err := scanBatch(tx.QueryRow(ctx, batchSelect+" WHERE batch_id = $1 FOR UPDATE", batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "batch", ID: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock batch %s: %w", batchID, err)
	}
	return batch, nil
}

const batchSelect = `
	SELECT batch_id, order_ref, job_id, garment_type, quantity, current_stage,
	       progress, status, qc_status, qc_inspector, qc_date, qc_defects, credited, created_at
	FROM production_batches`

func scanBatch(row pgx.Row) (*ProductionBatch, error) {
	var b ProductionBatch
	var inspector, defects *string
	err := row.Scan(&b.BatchID, &b.OrderRef, &b.JobID, &b.GarmentType, &b.Quantity,
		&b.CurrentStage, &b.Progress, &b.Status, &b.QCStatus, &inspector, &b.QCDate,
		&defects, &b.Credited, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if inspector != nil {
		b.QCInspector = *inspector
	}
	if defects != nil {
		b.QCDefects = *defects
	}
	return &b, nil
}

func (s *productionService) GetBatch(ctx context.Context, batchID string) (*ProductionBatch, error) {
	batch, err := scanBatch(s.pool.QueryRow(ctx, batchSelect+" WHERE batch_id = $1", batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "batch", ID: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch %s: %w", batchID, err)
	}
	return batch, nil
}

func (s *productionService) GetBatches(ctx context.Context, orderID string) ([]ProductionBatch, error) {
	rows, err := s.pool.Query(ctx, batchSelect+" WHERE order_ref = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var batches []ProductionBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

func (s *productionService) GetJobOrder(ctx context.Context, orderID string) (*JobOrder, error) {
	var job JobOrder
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, order_ref, garment_type, quantity, current_stage, progress, status, created_at
		FROM job_orders
		WHERE order_ref = $1
	`, orderID).Scan(&job.JobID, &job.OrderRef, &job.GarmentType, &job.Quantity,
		&job.CurrentStage, &job.Progress, &job.Status, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "job order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job order for %s: %w", orderID, err)
	}
	return &job, nil
}
