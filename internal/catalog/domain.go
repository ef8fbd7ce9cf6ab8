package catalog

import "errors"

// UpdateInput carries optional product changes. A nil field keeps the stored
// value; an explicit zero value overwrites it.
type UpdateInput struct {
	Name          *string  `json:"name"`
	Barcode       *string  `json:"barcode"`
	ProductCode   *string  `json:"productCode"`
	Reference     *string  `json:"reference"`
	Price         *float64 `json:"price" validate:"omitempty,gte=0"`
	CostPrice     *float64 `json:"costPrice" validate:"omitempty,gte=0"`
	Quantity      *float64 `json:"quantity" validate:"omitempty,gte=0"`
	MinStockLevel *float64 `json:"minStockLevel" validate:"omitempty,gte=0"`
	MaxStockLevel *float64 `json:"maxStockLevel" validate:"omitempty,gte=0"`
	Vendor        *string  `json:"vendor"`
	Category      *string  `json:"category"`
}

// SaleInput describes one point-of-sale line. UnitPrice overrides the stored
// selling price when present.
type SaleInput struct {
	ProductID int64    `json:"productId" validate:"required,gt=0"`
	Quantity  float64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice *float64 `json:"unitPrice" validate:"omitempty,gte=0"`
	Notes     string   `json:"notes"`
}

// SaleResult reports a committed sale.
type SaleResult struct {
	TransactionID     string  `json:"transactionId"`
	ProductID         int64   `json:"productId"`
	ProductName       string  `json:"productName"`
	Quantity          float64 `json:"quantity"`
	UnitPrice         float64 `json:"unitPrice"`
	Total             float64 `json:"total"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	LowStock          bool    `json:"lowStock"`
}

// SaleEvent describes a committed sale for notification.
type SaleEvent struct {
	TransactionID string
	ProductID     int64
	ProductName   string
	Quantity      float64
	Remaining     float64
	LowStock      bool
}

// ErrInvalidInput rejects malformed catalog requests.
var ErrInvalidInput = errors.New("catalog: invalid input")
