package ledger

import (
	"errors"
	"time"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "in"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "out"
	// MovementAdjustment indicates manual adjustments.
	MovementAdjustment MovementType = "adjustment"
)

// TransactionType classifies priced exchanges.
type TransactionType string

const (
	TransactionSale       TransactionType = "sale"
	TransactionPurchase   TransactionType = "purchase"
	TransactionAdjustment TransactionType = "adjustment"
)

// InvoiceStatus tracks invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusFinalized InvoiceStatus = "finalized"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Vendor is a supplier referenced by products and invoices. Vendors are
// created on first reference by name and never deleted.
type Vendor struct {
	ID        int64
	Name      string
	Phone     string
	Email     string
	Address   string
	CreatedAt time.Time
}

// Category groups products. Same lifecycle as Vendor.
type Category struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Product is a catalog entry. Barcode is unique among active products when
// present; an empty string means no barcode. Soft-deleted products keep their
// rows for audit but are excluded from matching and listing.
type Product struct {
	ID             int64
	Name           string
	Barcode        string
	ProductCode    string
	Reference      string
	Price          float64
	CostPrice      float64
	Quantity       float64
	MinStockLevel  float64
	MaxStockLevel  float64
	VendorID       int64
	CategoryID     int64
	ImageURL       string
	ImageLocalPath string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSold       time.Time
}

// Movement is an append-only audit record of a quantity-affecting event.
// NewQuantity must equal PreviousQuantity +/- Quantity per the movement type.
type Movement struct {
	ID               int64
	ProductID        int64
	Type             MovementType
	Quantity         float64
	PreviousQuantity float64
	NewQuantity      float64
	Reason           string
	ReferenceID      string
	CreatedAt        time.Time
}

// Transaction is an immutable record of a priced exchange.
type Transaction struct {
	ID            int64
	TransactionID string
	ProductID     int64
	Quantity      float64
	UnitPrice     float64
	TotalPrice    float64
	Type          TransactionType
	Notes         string
	CreatedAt     time.Time
}

// Invoice is the header persisted once per distinct RequestID.
type Invoice struct {
	ID               int64
	RequestID        string
	InvoiceNumber    string
	InvoiceDate      time.Time
	VendorID         int64
	TotalItems       int
	TotalAmount      float64
	Status           InvoiceStatus
	QualityAnalysis  map[string]any
	TotalsData       map[string]any
	AdditionalData   map[string]any
	ConfidenceScores map[string]any
	CreatedAt        time.Time
	FinalizedAt      time.Time
}

// InvoiceImage references a persisted page image. Owned by Invoice and
// removed with it.
type InvoiceImage struct {
	ID         int64
	InvoiceID  int64
	ImagePath  string
	PageNumber int
	ImageType  string
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search          string
	VendorID        int64
	CategoryID      int64
	IncludeInactive bool
	Limit           int
	Offset          int
}

// StockUpdate carries the quantity and pricing for a matched product.
type StockUpdate struct {
	Quantity  float64
	Price     float64
	CostPrice float64
}

// ErrNotFound indicates a missing row.
var ErrNotFound = errors.New("ledger: not found")

// ErrDuplicateKey indicates a unique-constraint violation, distinguishable
// from generic storage failure.
var ErrDuplicateKey = errors.New("ledger: duplicate key")

// ErrNegativeStock triggered when a movement would make quantity negative.
var ErrNegativeStock = errors.New("ledger: negative stock not allowed")
