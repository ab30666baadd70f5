package core_test

import (
	"testing"

	"goldenthreads/internal/core"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from    core.OrderStatus
		to      core.OrderStatus
		allowed bool
	}{
		{core.OrderStatusQuoted, core.OrderStatusApproved, true},
		{core.OrderStatusApproved, core.OrderStatusInProduction, true},
		{core.OrderStatusInProduction, core.OrderStatusProductionComplete, true},
		{core.OrderStatusProductionComplete, core.OrderStatusPackaged, true},
		{core.OrderStatusProductionComplete, core.OrderStatusInProduction, true}, // rework
		{core.OrderStatusPackaged, core.OrderStatusReadyForDelivery, true},
		{core.OrderStatusPackaged, core.OrderStatusReadyForPickup, true},
		{core.OrderStatusReadyForDelivery, core.OrderStatusOutForDelivery, true},
		{core.OrderStatusOutForDelivery, core.OrderStatusCompleted, true},
		{core.OrderStatusReadyForPickup, core.OrderStatusCompleted, true},
		{core.OrderStatusCompleted, core.OrderStatusOutForDelivery, true}, // undo delivered
		{core.OrderStatusCompleted, core.OrderStatusReadyForPickup, true}, // undo pickup

		{core.OrderStatusQuoted, core.OrderStatusInProduction, false},
		{core.OrderStatusQuoted, core.OrderStatusCompleted, false},
		{core.OrderStatusApproved, core.OrderStatusPackaged, false},
		{core.OrderStatusInProduction, core.OrderStatusPackaged, false},
		{core.OrderStatusPackaged, core.OrderStatusCompleted, false},
		{core.OrderStatusPackaged, core.OrderStatusInProduction, false},
		{core.OrderStatusReadyForDelivery, core.OrderStatusCompleted, false},
		{core.OrderStatusReadyForDelivery, core.OrderStatusReadyForPickup, false},
		{core.OrderStatusCompleted, core.OrderStatusQuoted, false},
		{core.OrderStatusCompleted, core.OrderStatusPackaged, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestBatchStageProgress(t *testing.T) {
	cases := []struct {
		stage    core.BatchStage
		progress int
	}{
		{core.StageDesigning, 25},
		{core.StageCutting, 50},
		{core.StageSewing, 75},
		{core.StageCompleted, 100},
	}
	for _, tc := range cases {
		if got := tc.stage.Progress(); got != tc.progress {
			t.Errorf("%s: expected progress %d, got %d", tc.stage, tc.progress, got)
		}
		if !tc.stage.Valid() {
			t.Errorf("%s should be valid", tc.stage)
		}
	}
	if core.BatchStage("Pressing").Valid() {
		t.Error("unknown stage should not be valid")
	}
}

func TestFinishedGoodsSKU(t *testing.T) {
	if got := core.FinishedGoodsSKU("BAT-1700000000000"); got != "PROD-BAT-1700000000000" {
		t.Errorf("unexpected sku %s", got)
	}
}
