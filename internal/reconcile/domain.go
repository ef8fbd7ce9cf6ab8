package reconcile

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Payload is the invoice finalize request received from the mobile scanning
// pipeline or the sync relay.
type Payload struct {
	RequestID        string         `json:"requestId" validate:"required"`
	Vendor           string         `json:"vendor"`
	InvoiceNumber    string         `json:"invoiceNumber"`
	InvoiceDate      string         `json:"invoiceDate"`
	Items            []LineItem     `json:"items" validate:"required,min=1"`
	Total            *float64       `json:"total"`
	InvoiceImages    []PageImage    `json:"invoiceImages"`
	AdditionalFields map[string]any `json:"additionalFields"`
	Metadata         map[string]any `json:"metadata"`
	ProcessingMethod string         `json:"processingMethod"`
	QualityAnalysis  map[string]any `json:"qualityAnalysis"`
	TotalsData       map[string]any `json:"totalsData"`
	Confidence       map[string]any `json:"confidence"`
}

// LineItem is one scanned invoice line. Either Name or Description must be
// present; CostPrice falls back to UnitPrice, SellingPrice to the cost.
type LineItem struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Quantity     float64  `json:"quantity"`
	CostPrice    *float64 `json:"costPrice"`
	UnitPrice    *float64 `json:"unitPrice"`
	SellingPrice *float64 `json:"sellingPrice"`
	Barcode      string   `json:"barcode"`
	ProductCode  string   `json:"productCode"`
	Reference    string   `json:"reference"`
}

// PageImage is an embedded invoice page to be materialised to file storage.
type PageImage struct {
	Base64       string `json:"base64"`
	PageNumber   int    `json:"pageNumber"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
}

// ItemResult reports one line item's outcome. Item failures are independent;
// a failed item never aborts its siblings.
type ItemResult struct {
	ItemID    int    `json:"itemId"`
	ProductID int64  `json:"productId,omitempty"`
	Processed bool   `json:"processed"`
	Created   bool   `json:"created,omitempty"`
	MatchedBy string `json:"matchedBy,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stats summarises an invoice's processing outcome.
type Stats struct {
	TotalItems     int    `json:"totalItems"`
	ProcessedItems int    `json:"processedItems"`
	FailedItems    int    `json:"failedItems"`
	Vendor         string `json:"vendor,omitempty"`
}

// Result is the finalize response body.
type Result struct {
	Success   bool         `json:"success"`
	InvoiceID int64        `json:"invoiceId"`
	RequestID string       `json:"requestId"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Stats     Stats        `json:"stats"`
	Items     []ItemResult `json:"items"`
}

// ValidationError rejects a payload before any storage access. ItemIndex is
// -1 for header-level violations.
type ValidationError struct {
	Field     string
	ItemIndex int
	Message   string
}

func (e *ValidationError) Error() string {
	if e.ItemIndex >= 0 {
		return fmt.Sprintf("item %d: %s: %s", e.ItemIndex, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validator.New()

// Validate checks the header-level structure. Item-level defects are not
// checked here: a structurally valid invoice processes items independently
// and reports per-item failures instead of rejecting the batch.
func (p *Payload) Validate() *ValidationError {
	if strings.TrimSpace(p.RequestID) == "" {
		return &ValidationError{Field: "requestId", ItemIndex: -1, Message: "required"}
	}
	if err := validate.Struct(p); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: fieldName(errs[0].Field()), ItemIndex: -1, Message: "invalid value"}
		}
		return &ValidationError{Field: "payload", ItemIndex: -1, Message: err.Error()}
	}
	if len(p.Items) == 0 {
		return &ValidationError{Field: "items", ItemIndex: -1, Message: "must not be empty"}
	}
	return nil
}

func fieldName(name string) string {
	if name == "" {
		return "payload"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// resolvedItem carries a line item after default resolution, applied once
// per field: explicit value, then fallback, then hard default.
type resolvedItem struct {
	Name         string
	Quantity     float64
	CostPrice    float64
	SellingPrice float64
	Barcode      string
	ProductCode  string
	Reference    string
}

// resolveItem validates one line item and applies pricing defaults.
func resolveItem(index int, item LineItem) (resolvedItem, *ValidationError) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		name = strings.TrimSpace(item.Description)
	}
	if name == "" {
		return resolvedItem{}, &ValidationError{Field: "name", ItemIndex: index, Message: "name or description required"}
	}
	if item.Quantity <= 0 || math.IsNaN(item.Quantity) || math.IsInf(item.Quantity, 0) {
		return resolvedItem{}, &ValidationError{Field: "quantity", ItemIndex: index, Message: "must be a positive number"}
	}

	cost := 0.0
	switch {
	case item.CostPrice != nil:
		cost = *item.CostPrice
	case item.UnitPrice != nil:
		cost = *item.UnitPrice
	}
	if cost < 0 {
		return resolvedItem{}, &ValidationError{Field: "costPrice", ItemIndex: index, Message: "must not be negative"}
	}

	selling := cost
	if item.SellingPrice != nil {
		selling = *item.SellingPrice
	}
	if selling < 0 {
		return resolvedItem{}, &ValidationError{Field: "sellingPrice", ItemIndex: index, Message: "must not be negative"}
	}

	return resolvedItem{
		Name:         name,
		Quantity:     item.Quantity,
		CostPrice:    cost,
		SellingPrice: selling,
		Barcode:      strings.TrimSpace(item.Barcode),
		ProductCode:  strings.TrimSpace(item.ProductCode),
		Reference:    strings.TrimSpace(item.Reference),
	}, nil
}

// calculatedTotal sums cost price times quantity over resolvable items.
func calculatedTotal(items []LineItem) float64 {
	var total float64
	for i, item := range items {
		resolved, err := resolveItem(i, item)
		if err != nil {
			continue
		}
		total += resolved.CostPrice * resolved.Quantity
	}
	return total
}
