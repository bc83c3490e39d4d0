// Package masterdata resolves vendor, brand and item master records and owns the item
// stock counter. CRUD for these records lives in the back-office service.
package masterdata

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Vendor is a supplier master record.
type Vendor struct {
	ID      int64
	StoreID int64
	Name    string
}

// Brand groups items by manufacturer.
type Brand struct {
	ID      int64
	StoreID int64
	Name    string
}

// Item is a stockable ingredient or product.
type Item struct {
	ID            int64
	StoreID       int64
	Name          string
	HSN           string
	PurchasePrice decimal.Decimal
	MRP           decimal.Decimal
	Stock         int64
}

var (
	ErrVendorNotFound = shared.NotFound("masterdata: vendor not found")
	ErrBrandNotFound  = shared.NotFound("masterdata: brand not found")
	ErrItemNotFound   = shared.NotFound("masterdata: item not found")
)
