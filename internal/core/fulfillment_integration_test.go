package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"goldenthreads/internal/core"

	"github.com/shopspring/decimal"
)

func TestFulfillment_PackageGuardedByQC(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, _, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)

	// No batch at all: packaging is not even a legal transition yet.
	_, err := orders.PackageOrder(ctx, order.OrderID)
	var trErr *core.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError before production, got %v", err)
	}

	batch, err := production.CreateBatch(ctx, order.OrderID, 10, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if _, err := production.CompleteBatch(ctx, batch.BatchID); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	// Completed but QC still pending: blocked.
	_, err = orders.PackageOrder(ctx, order.OrderID)
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError before QC pass, got %v", err)
	}

	if _, err := production.SubmitQC(ctx, batch.BatchID, "Ana Reyes", core.QCPassed, ""); err != nil {
		t.Fatalf("SubmitQC failed: %v", err)
	}
	packaged, err := orders.PackageOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("PackageOrder failed: %v", err)
	}
	if packaged.Status != core.OrderStatusPackaged {
		t.Errorf("expected packaged, got %s", packaged.Status)
	}
}

func TestFulfillment_DeliveryFlowWithUndo(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, inv, billing := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	batch := passedBatch(t, ctx, production, order.OrderID, 10)
	if _, err := orders.PackageOrder(ctx, order.OrderID); err != nil {
		t.Fatalf("PackageOrder failed: %v", err)
	}

	invoice, err := billing.CreateInvoice(ctx, order.OrderID, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	delivery, err := billing.CreateDelivery(ctx, invoice.InvoiceID)
	if err != nil {
		t.Fatalf("CreateDelivery failed: %v", err)
	}

	// Staging for delivery consumes the finished-goods lot.
	if _, err := orders.ReadyForDelivery(ctx, order.OrderID); err != nil {
		t.Fatalf("ReadyForDelivery failed: %v", err)
	}
	lots, err := inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 0 {
		t.Fatalf("expected catalog emptied by consumption, got %d lot(s)", len(lots))
	}
	adjustments, err := inv.AdjustmentsForOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("AdjustmentsForOrder failed: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(adjustments))
	}
	if !adjustments[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected 10 consumed, got %s", adjustments[0].Quantity)
	}

	if _, err := orders.MarkOutForDelivery(ctx, order.OrderID); err != nil {
		t.Fatalf("MarkOutForDelivery failed: %v", err)
	}
	d, err := billing.GetDelivery(ctx, delivery.DeliveryID)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if d.Status != core.DeliveryTransit {
		t.Errorf("expected transit, got %s", d.Status)
	}

	completed, err := orders.MarkDelivered(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if completed.Status != core.OrderStatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	d, err = billing.GetDelivery(ctx, delivery.DeliveryID)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if d.Status != core.DeliveryDelivered || d.DeliveredAt == nil {
		t.Errorf("expected delivered with timestamp, got %s", d.Status)
	}
	adjustments, err = inv.AdjustmentsForOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("AdjustmentsForOrder failed: %v", err)
	}
	if adjustments[0].DeliveryRef == nil || *adjustments[0].DeliveryRef != delivery.DeliveryID {
		t.Error("expected adjustment stamped with delivery id")
	}

	// Undo puts the lot back exactly and the shipment back in transit.
	undone, err := orders.UndoDelivered(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("UndoDelivered failed: %v", err)
	}
	if undone.Status != core.OrderStatusOutForDelivery {
		t.Errorf("expected out_for_delivery after undo, got %s", undone.Status)
	}
	lots, err = inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("expected restored lot, got %d lot(s)", len(lots))
	}
	if lots[0].SKU != core.FinishedGoodsSKU(batch.BatchID) {
		t.Errorf("restored lot has wrong sku %s", lots[0].SKU)
	}
	if !lots[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected 10 restored, got %s", lots[0].Quantity)
	}
	d, err = billing.GetDelivery(ctx, delivery.DeliveryID)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if d.Status != core.DeliveryTransit || d.DeliveredAt != nil {
		t.Errorf("expected transit with cleared timestamp after undo, got %s", d.Status)
	}

	// Delivering again consumes again and completes.
	completed, err = orders.MarkDelivered(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("second MarkDelivered failed: %v", err)
	}
	if completed.Status != core.OrderStatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	lots, err = inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 0 {
		t.Error("expected catalog consumed again after redelivery")
	}
}

func TestFulfillment_PickupFlowRequiresInvoice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, inv, billing := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypePickup)
	passedBatch(t, ctx, production, order.OrderID, 10)
	if _, err := orders.PackageOrder(ctx, order.OrderID); err != nil {
		t.Fatalf("PackageOrder failed: %v", err)
	}

	// A pickup order cannot take the delivery branch.
	_, err := orders.ReadyForDelivery(ctx, order.OrderID)
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for pickup order, got %v", err)
	}

	pickupDate := time.Now().AddDate(0, 0, 3)
	staged, err := orders.ReadyForPickup(ctx, order.OrderID, pickupDate)
	if err != nil {
		t.Fatalf("ReadyForPickup failed: %v", err)
	}
	if staged.PickupDate == nil {
		t.Fatal("expected pickup date recorded")
	}

	// No invoice yet: handover is blocked.
	_, err = orders.MarkPickedUp(ctx, order.OrderID)
	var nfErr *core.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError without invoice, got %v", err)
	}

	if _, err := billing.CreateInvoice(ctx, order.OrderID, decimal.Zero, nil); err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	completed, err := orders.MarkPickedUp(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("MarkPickedUp failed: %v", err)
	}
	if completed.Status != core.OrderStatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	lots, err := inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 0 {
		t.Error("expected finished goods consumed at pickup")
	}

	undone, err := orders.UndoPickedUp(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("UndoPickedUp failed: %v", err)
	}
	if undone.Status != core.OrderStatusReadyForPickup {
		t.Errorf("expected ready_for_pickup after undo, got %s", undone.Status)
	}
	lots, err = inv.ListCatalog(ctx)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(lots) != 1 || !lots[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Error("expected finished goods restored after pickup undo")
	}
}

func TestFulfillment_DispatchRequiresDeliveryRecord(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, _, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	passedBatch(t, ctx, production, order.OrderID, 10)
	if _, err := orders.PackageOrder(ctx, order.OrderID); err != nil {
		t.Fatalf("PackageOrder failed: %v", err)
	}
	if _, err := orders.ReadyForDelivery(ctx, order.OrderID); err != nil {
		t.Fatalf("ReadyForDelivery failed: %v", err)
	}

	_, err := orders.MarkOutForDelivery(ctx, order.OrderID)
	var nfErr *core.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError without delivery record, got %v", err)
	}
}

func TestFulfillment_DeleteOrderCascades(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	orders, production, _, _ := newServices(pool)
	ctx := context.Background()

	order := createApprovedOrder(t, ctx, orders, core.DeliveryTypeDelivery)
	batch, err := production.CreateBatch(ctx, order.OrderID, 10, core.StageDesigning)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	if err := orders.DeleteOrder(ctx, order.OrderID); err != nil {
		t.Fatalf("DeleteOrder failed: %v", err)
	}
	_, err = orders.GetOrder(ctx, order.OrderID)
	var nfErr *core.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError after delete, got %v", err)
	}
	_, err = production.GetBatch(ctx, batch.BatchID)
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected batch removed with order, got %v", err)
	}
}
