package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PricingService loads the per-garment base rate card from the base_pricing
// table. It replaces hardcoded rate constants in the costing path; garment
// types without a row fall back to the "Custom" entry.
type PricingService interface {
	RateTable(ctx context.Context) (map[string]BaseRate, error)
	SetRate(ctx context.Context, garmentType string, rate BaseRate) error
}

type pricingService struct {
	pool *pgxpool.Pool
}

// NewPricingService constructs a PricingService backed by the base_pricing table.
func NewPricingService(pool *pgxpool.Pool) PricingService {
	return &pricingService{pool: pool}
}

func (s *pricingService) RateTable(ctx context.Context) (map[string]BaseRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT garment_type, fabric_rate, labor_rate
		FROM base_pricing
		ORDER BY garment_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query base pricing: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]BaseRate)
	for rows.Next() {
		var garment string
		var fabric, labor decimal.Decimal
		if err := rows.Scan(&garment, &fabric, &labor); err != nil {
			return nil, fmt.Errorf("failed to scan base pricing row: %w", err)
		}
		rates[garment] = BaseRate{Fabric: fabric, Labor: labor}
	}
	if _, ok := rates["Custom"]; !ok {
		rates["Custom"] = customBaseRate
	}
	return rates, rows.Err()
}

func (s *pricingService) SetRate(ctx context.Context, garmentType string, rate BaseRate) error {
	if garmentType == "" {
		return &ValidationError{Field: "garment_type", Reason: "is required"}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO base_pricing (garment_type, fabric_rate, labor_rate)
		VALUES ($1, $2, $3)
		ON CONFLICT (garment_type) DO UPDATE SET fabric_rate = $2, labor_rate = $3
	`, garmentType, rate.Fabric, rate.Labor)
	if err != nil {
		return fmt.Errorf("failed to upsert base pricing for %s: %w", garmentType, err)
	}
	return nil
}
