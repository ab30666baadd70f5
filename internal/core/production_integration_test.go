package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"goldenthreads/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// newServices wires the service stack over the test pool with no notifier.
func newServices(pool *pgxpool.Pool) (core.OrderService, core.ProductionService, core.InventoryService, core.BillingService) {
	pricing := core.NewPricingService(pool)
	inv := core.NewInventoryService(pool)
	orders := core.NewOrderService(pool, pricing, inv, nil)
	production := core.NewProductionService(pool, inv)
	billing := core.NewBillingService(pool)
	return orders, production, inv, billing
}

// createApprovedOrder submits and approves a 10-shirt FOB order drawing
// 10 yards of FAB-BLK and 20 shell buttons.
func createApprovedOrder(t *testing.T, ctx context.Context, orders core.OrderService, deliveryType core.DeliveryType) *core.Order {
	t.Helper()
	order, _, err := orders.SubmitQuotation(ctx, core.QuotationInput{
		CustomerName:  "Maria Santos",
		CustomerPhone: "+639171234567",
		GarmentType:   "T-Shirt",
		OrderType:     core.OrderTypeFOB,
		DeliveryType:  deliveryType,
		Sizes:         []core.SizeRow{{Size: "M", Quantity: 10}},
		Fabrics: []core.ColorRow{
			{Name: "Black", Hex: "#000000", Yards: decimal.NewFromInt(10), FabricSKU: "FAB-BLK", FabricPrice: decimal.NewFromInt(80)},
		},
		Accessories: []core.AccessoryRow{
			{SKU: "ACC-BTN", Name: "Shell Buttons", Price: decimal.NewFromInt(2), Quantity: 20},
		},
	})
	if err != nil {
		t.Fatalf("SubmitQuotation failed: %v", err)
	}
	if order.Status != core.OrderStatusQuoted {
		t.Fatalf("expected quoted order, got %s", order.Status)
	}
	order, err = orders.ApproveOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("ApproveOrder failed: %v", err)
	}
	return order
}

// passedBatch runs a batch through completion and a QC pass.
func passedBatch(t *testing.T, ctx context.Context, production core.ProductionService, orderID string, qty int) *core.ProductionBatch {
	t.Helper()
	batch, err := production.CreateBatch(ctx, orderID, qty, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if _, err := production.CompleteBatch(ctx, batch.BatchID); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	batch, err = production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCPassed, "")
	if err != nil {
		t.Fatalf("SubmitQC failed: %v", err)
	}
	return batch
}

func managementQty(t *testing.T, ctx context.Context, inv core.InventoryService, sku string) decimal.Decimal {
	t.Helper()
	items, err := inv.ListManagement(ctx)
	if err != nil {
		t.Fatalf("ListManagement failed: %v", err)
	}
	for _, it := range items {
		if it.SKU == sku {
			return it.Quantity
		}
	}
	t.Fatalf("sku %s not found", sku)
	return decimal.Zero
}

func TestProduction_OrderIDFormat(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, _, _, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	expected := fmt.Sprintf("ORD-%d-0001", time.Now().Year())
	if order.OrderID != expected {
		t.Errorf("expected first order id %s, got %s", expected, order.OrderID)
	}
}

func TestProduction_PartialBatchDeductsProportionally(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, inv, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)

	// Half the order consumes half the yardage and half the buttons.
	batch, err := production.CreateBatch(ctx, order.OrderID, 5, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	if got := managementQty(t, ctx, inv, "FAB-BLK"); !got.Equal(decimal.NewFromInt(95)) {
		t.Errorf("expected 95 yards of FAB-BLK left, got %s", got)
	}
	if got := managementQty(t, ctx, inv, "ACC-BTN"); !got.Equal(decimal.NewFromInt(490)) {
		t.Errorf("expected 490 buttons left, got %s", got)
	}

	record, err := inv.GetDeductionRecord(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("GetDeductionRecord failed: %v", err)
	}
	if len(record.Items) != 2 {
		t.Fatalf("expected 2 deduction items, got %d", len(record.Items))
	}
	for _, item := range record.Items {
		switch item.SKU {
		case "FAB-BLK":
			if !item.Quantity.Equal(decimal.NewFromInt(5)) {
				t.Errorf("expected 5 yards deducted, got %s", item.Quantity)
			}
		case "ACC-BTN":
			if !item.Quantity.Equal(decimal.NewFromInt(10)) {
				t.Errorf("expected 10 buttons deducted, got %s", item.Quantity)
			}
		default:
			t.Errorf("unexpected deduction item %s", item.SKU)
		}
	}

	updated, err := orders.GetOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if updated.Status != core.OrderStatusInProduction {
		t.Errorf("expected in_production, got %s", updated.Status)
	}

	// A second batch reuses the same job order.
	second, err := production.CreateBatch(ctx, order.OrderID, 5, core.StageDesigning)
	if err != nil {
		t.Fatalf("second CreateBatch failed: %v", err)
	}
	if second.JobID != batch.JobID {
		t.Errorf("expected shared job order, got %s and %s", batch.JobID, second.JobID)
	}
}

func TestProduction_BatchFromQuotedOrderRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, _, _ := newServices(pool)
	ctx := context.Background()

	order, _, err := orders.SubmitQuotation(ctx, core.QuotationInput{
		CustomerName: "Jose Cruz",
		GarmentType:  "T-Shirt",
		OrderType:    core.OrderTypeCMT,
		DeliveryType: core.DeliveryTypePickup,
		Sizes:        []core.SizeRow{{Size: "L", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("SubmitQuotation failed: %v", err)
	}

	_, err = production.CreateBatch(ctx, order.OrderID, 4, core.StageDesigning)
	var trErr *core.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError for unapproved order, got %v", err)
	}
}

func TestProduction_QCFailReworkPassCreditsOnce(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, inv, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	batch, err := production.CreateBatch(ctx, order.OrderID, 10, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if _, err := production.CompleteBatch(ctx, batch.BatchID); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	// Fail QC: nothing reaches the catalog.
	batch, err = production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCFailed, "loose seams")
	if err != nil {
		t.Fatalf("SubmitQC failed: %v", err)
	}
	lots, err := inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 0 {
		t.Fatalf("failed QC must not credit the catalog, found %d lot(s)", len(lots))
	}

	// Rework resets QC and winds progress back to cutting.
	batch, err = production.SendToRework(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("SendToRework failed: %v", err)
	}
	if batch.QCStatus != core.QCPending {
		t.Errorf("expected pending QC after rework, got %s", batch.QCStatus)
	}
	if batch.Progress > 50 {
		t.Errorf("expected progress clamped to 50, got %d", batch.Progress)
	}
	reworked, err := orders.GetOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if reworked.Status != core.OrderStatusInProduction {
		t.Errorf("expected in_production during rework, got %s", reworked.Status)
	}

	// Finish again and pass: exactly one finished-goods lot at the per-unit
	// quoted price.
	if _, err := production.UpdateStage(ctx, batch.BatchID, core.StageSewing); err != nil {
		t.Fatalf("UpdateStage failed: %v", err)
	}
	if _, err := production.CompleteBatch(ctx, batch.BatchID); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}
	batch, err = production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCPassed, "")
	if err != nil {
		t.Fatalf("SubmitQC failed: %v", err)
	}
	if !batch.Credited {
		t.Error("expected batch marked credited after QC pass")
	}

	lots, err = inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("expected exactly one catalog lot, got %d", len(lots))
	}
	lot := lots[0]
	if lot.SKU != core.FinishedGoodsSKU(batch.BatchID) {
		t.Errorf("unexpected lot sku %s", lot.SKU)
	}
	if !lot.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected lot quantity 10, got %s", lot.Quantity)
	}
	wantUnit := order.QuotedAmount.Div(decimal.NewFromInt(10))
	if !lot.UnitPrice.Equal(wantUnit) {
		t.Errorf("expected unit price %s, got %s", wantUnit, lot.UnitPrice)
	}

	// A repeated pass must not credit a second time.
	if _, err := production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCPassed, ""); err != nil {
		t.Fatalf("repeat SubmitQC failed: %v", err)
	}
	lots, err = inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 1 || !lots[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Error("repeated QC pass must not double-credit the catalog")
	}
}

func TestProduction_QCRequiresInspectorAndCompletedBatch(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, _, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	batch, err := production.CreateBatch(ctx, order.OrderID, 10, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	_, err = production.SubmitQC(ctx, batch.BatchID, "", core.QCPassed, "")
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for missing inspector, got %v", err)
	}

	_, err = production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCPassed, "")
	var trErr *core.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError for in-progress batch, got %v", err)
	}
}
