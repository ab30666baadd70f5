package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a garment order header. Status progresses through the fulfillment
// state machine:
//
//	quoted → approved → in_production → production_complete → packaged
//	       → {ready_for_delivery → out_for_delivery | ready_for_pickup}
//	       → completed
//
// with the rework and undo edges defined in orderEdges.
type Order struct {
	OrderID         string          `json:"order_id"` // ORD-<year>-<seq4>, assigned at quotation submission
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	CustomerAddress string          `json:"customer_address"`
	GarmentType     string          `json:"garment_type"`
	OrderType       OrderType       `json:"order_type"`
	DeliveryType    DeliveryType    `json:"delivery_type"`
	Quantity        int             `json:"quantity"` // sum of the size breakdown
	QuotedAmount    decimal.Decimal `json:"quoted_amount"`
	Status          OrderStatus     `json:"status"`
	PickupDate      *time.Time      `json:"pickup_date,omitempty"`
	Sizes           []SizeRow       `json:"sizes"`
	Colors          []ColorRow      `json:"colors"`      // empty for CMT
	Accessories     []AccessoryRow  `json:"accessories"` //
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SizeRow is one line of the size breakdown.
type SizeRow struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// ColorRow is one selected fabric: a color swatch plus the raw-material sku
// it draws yardage from.
type ColorRow struct {
	Name        string          `json:"name"`
	Hex         string          `json:"hex"`
	Yards       decimal.Decimal `json:"yards"`
	FabricSKU   string          `json:"fabric_sku"`
	FabricPrice decimal.Decimal `json:"fabric_price"` // per yard
}

// AccessoryRow is one selected accessory (buttons, zippers, prints).
type AccessoryRow struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// QuotationInput is the request to cost and create a new order.
// ProfitMargin zero means "use the default 25%".
type QuotationInput struct {
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	GarmentType     string
	OrderType       OrderType
	DeliveryType    DeliveryType
	Sizes           []SizeRow
	Fabrics         []ColorRow
	Accessories     []AccessoryRow
	ProfitMargin    decimal.Decimal
}
