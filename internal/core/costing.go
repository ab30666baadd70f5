package core

import "github.com/shopspring/decimal"

// Costing constants. Overhead is a fixed share of direct costs; the profit
// margin is only a default, callers may override per quotation.
var (
	overheadRate        = decimal.NewFromFloat(0.15)
	defaultProfitMargin = decimal.NewFromFloat(0.25)
)

// BaseRate is the per-unit fabric and labor rate for a garment type, used
// when a quotation has no explicit fabric rows (and always for labor).
type BaseRate struct {
	Fabric decimal.Decimal
	Labor  decimal.Decimal
}

// customBaseRate is the fallback row for garment types missing from the
// base-pricing table. Unknown garments quote as "Custom" rather than failing.
var customBaseRate = BaseRate{
	Fabric: decimal.NewFromInt(120),
	Labor:  decimal.NewFromInt(100),
}

// QuoteBreakdown is the deterministic price breakdown persisted onto the
// order at quotation submission. Nothing is rounded until display.
type QuoteBreakdown struct {
	GarmentType     string          `json:"garment_type"`
	TotalQuantity   int             `json:"total_quantity"`
	FabricCost      decimal.Decimal `json:"fabric_cost"`
	LaborCost       decimal.Decimal `json:"labor_cost"`
	AccessoriesCost decimal.Decimal `json:"accessories_cost"`
	Overhead        decimal.Decimal `json:"overhead"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Profit          decimal.Decimal `json:"profit"`
	Total           decimal.Decimal `json:"total"`
}

// ComputeQuote prices a quotation. It is a pure function of the input and the
// rate table:
//
//	fabricCost      = 0 for CMT; Σ(price × yards) for FOB with fabric rows;
//	                  baseRate.Fabric × qty when FOB has no fabric rows
//	laborCost       = baseRate.Labor × qty
//	accessoriesCost = Σ(price × quantity)
//	overhead        = 15% × (fabric + labor + accessories)
//	subtotal        = fabric + labor + accessories + overhead
//	profit          = subtotal × margin (default 25%)
//	total           = subtotal + profit
func ComputeQuote(in QuotationInput, rates map[string]BaseRate) (*QuoteBreakdown, error) {
	totalQty := 0
	for _, row := range in.Sizes {
		totalQty += row.Quantity
	}
	if totalQty <= 0 {
		return nil, &ValidationError{Field: "sizes", Reason: "must total at least one garment"}
	}
	if in.OrderType != OrderTypeFOB && in.OrderType != OrderTypeCMT {
		return nil, &ValidationError{Field: "order_type", Reason: "must be FOB or CMT"}
	}

	margin := in.ProfitMargin
	if margin.IsZero() {
		margin = defaultProfitMargin
	}
	if margin.IsNegative() {
		return nil, &ValidationError{Field: "profit_margin", Reason: "cannot be negative"}
	}

	rate, ok := rates[in.GarmentType]
	if !ok {
		if rate, ok = rates["Custom"]; !ok {
			rate = customBaseRate
		}
	}

	qty := decimal.NewFromInt(int64(totalQty))

	var fabricCost decimal.Decimal
	switch {
	case in.OrderType == OrderTypeCMT:
		// Customer supplies materials.
	case len(in.Fabrics) > 0:
		for _, f := range in.Fabrics {
			fabricCost = fabricCost.Add(f.FabricPrice.Mul(f.Yards))
		}
	default:
		fabricCost = rate.Fabric.Mul(qty)
	}

	laborCost := rate.Labor.Mul(qty)

	var accessoriesCost decimal.Decimal
	for _, a := range in.Accessories {
		accessoriesCost = accessoriesCost.Add(a.Price.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}

	direct := fabricCost.Add(laborCost).Add(accessoriesCost)
	overhead := overheadRate.Mul(direct)
	subtotal := direct.Add(overhead)
	profit := subtotal.Mul(margin)

	return &QuoteBreakdown{
		GarmentType:     in.GarmentType,
		TotalQuantity:   totalQty,
		FabricCost:      fabricCost,
		LaborCost:       laborCost,
		AccessoriesCost: accessoriesCost,
		Overhead:        overhead,
		Subtotal:        subtotal,
		Profit:          profit,
		Total:           subtotal.Add(profit),
	}, nil
}
