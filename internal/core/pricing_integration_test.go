package core_test

import (
	"context"
	"testing"

	"goldenthreads/internal/core"

	"github.com/shopspring/decimal"
)

func TestPricing_RateTableAlwaysHasCustomFallback(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	pricing := core.NewPricingService(pool)
	ctx := context.Background()

	// Wipe the seeded table; the fallback must still be served.
	if _, err := pool.Exec(ctx, "DELETE FROM base_pricing"); err != nil {
		t.Fatalf("failed to clear base_pricing: %v", err)
	}

	rates, err := pricing.RateTable(ctx)
	if err != nil {
		t.Fatalf("RateTable failed: %v", err)
	}
	custom, ok := rates["Custom"]
	if !ok {
		t.Fatal("expected Custom fallback in empty rate table")
	}
	if !custom.Fabric.Equal(decimal.NewFromInt(120)) || !custom.Labor.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected fallback rates %s/%s", custom.Fabric, custom.Labor)
	}
}

func TestPricing_SetRateUpserts(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	pricing := core.NewPricingService(pool)
	ctx := context.Background()

	rate := core.BaseRate{Fabric: decimal.NewFromInt(90), Labor: decimal.NewFromInt(55)}
	if err := pricing.SetRate(ctx, "T-Shirt", rate); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}

	rates, err := pricing.RateTable(ctx)
	if err != nil {
		t.Fatalf("RateTable failed: %v", err)
	}
	got := rates["T-Shirt"]
	if !got.Fabric.Equal(rate.Fabric) || !got.Labor.Equal(rate.Labor) {
		t.Errorf("expected updated rates 90/55, got %s/%s", got.Fabric, got.Labor)
	}
}
