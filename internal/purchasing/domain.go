// Package purchasing implements the purchase fulfillment workflow: a purchase moves from
// purchase order through proforma and final invoice, fulfillment, stock entry and rack
// assignment, with quantities and tax recomputed per stage.
package purchasing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// StageStatus is the state of one workflow track.
type StageStatus string

const (
	StageDraft     StageStatus = "draft"
	StageConfirmed StageStatus = "confirmed"
	StageCompleted StageStatus = "completed"
	StageCancelled StageStatus = "cancelled"
	StagePending   StageStatus = "pending"
)

// Stage names a workflow track.
type Stage string

const (
	StagePO             Stage = "po"
	StagePI             Stage = "pi"
	StageInvoice        Stage = "invoice"
	StageFulfillment    Stage = "fulfillment"
	StageStockEntry     Stage = "stockEntry"
	StageRackAssignment Stage = "rackAssignment"
)

// Stages lists the tracks in workflow order.
var Stages = []Stage{StagePO, StagePI, StageInvoice, StageFulfillment, StageStockEntry, StageRackAssignment}

// Status holds the independent stage tracks of a purchase.
type Status struct {
	PO             StageStatus `json:"po"`
	PI             StageStatus `json:"pi"`
	Invoice        StageStatus `json:"invoice"`
	Fulfillment    StageStatus `json:"fulfillment"`
	StockEntry     StageStatus `json:"stockEntry"`
	RackAssignment StageStatus `json:"rackAssignment"`
}

func initialStatus() Status {
	return Status{
		PO:             StageDraft,
		PI:             StageDraft,
		Invoice:        StageDraft,
		Fulfillment:    StagePending,
		StockEntry:     StagePending,
		RackAssignment: StagePending,
	}
}

// Of returns the status of a track.
func (s Status) Of(stage Stage) StageStatus {
	switch stage {
	case StagePO:
		return s.PO
	case StagePI:
		return s.PI
	case StageInvoice:
		return s.Invoice
	case StageFulfillment:
		return s.Fulfillment
	case StageStockEntry:
		return s.StockEntry
	case StageRackAssignment:
		return s.RackAssignment
	}
	return ""
}

func (s *Status) set(stage Stage, value StageStatus) {
	switch stage {
	case StagePO:
		s.PO = value
	case StagePI:
		s.PI = value
	case StageInvoice:
		s.Invoice = value
	case StageFulfillment:
		s.Fulfillment = value
	case StageStockEntry:
		s.StockEntry = value
	case StageRackAssignment:
		s.RackAssignment = value
	}
}

// Completed reports whether the track is completed.
func (s Status) Completed(stage Stage) bool {
	return s.Of(stage) == StageCompleted
}

// predecessor returns the stage that must be completed before stage may complete.
func predecessor(stage Stage) (Stage, bool) {
	switch stage {
	case StagePI:
		return StagePO, true
	case StageInvoice:
		return StagePI, true
	case StageFulfillment, StageStockEntry:
		return StageInvoice, true
	case StageRackAssignment:
		return StageStockEntry, true
	}
	return "", false
}

// PaymentStatus tracks settlement independently of the stage tracks.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// FulfillmentStatus tracks delivery progress independently of the stage tracks.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentInProgress FulfillmentStatus = "in-progress"
	FulfillmentCompleted  FulfillmentStatus = "completed"
)

// TaxType selects single-rate or split-rate tax.
type TaxType string

const (
	TaxInterstate TaxType = "interstate"
	TaxIntrastate TaxType = "intrastate"
)

// TaxRates are percentages. IGST applies to interstate lines, CGST+SGST to intrastate lines.
type TaxRates struct {
	IGST decimal.Decimal `json:"igst"`
	CGST decimal.Decimal `json:"cgst"`
	SGST decimal.Decimal `json:"sgst"`
}

// RackAssignment places part of a line's received quantity in a rack.
type RackAssignment struct {
	RackID   int64 `json:"rackId"`
	Quantity int64 `json:"quantity"`
}

// Line is one ordered item within a purchase.
type Line struct {
	ID       uuid.UUID `json:"id"`
	ItemID   int64     `json:"item"`
	ItemName string    `json:"itemName"`
	HSN      string    `json:"hsn"`

	OrderedQty         int64 `json:"orderedQty"`
	InvoicedOrderedQty int64 `json:"invoicedOrderedQty"`
	InvoicedQty        int64 `json:"invoicedQty"`
	ReceivedQty        int64 `json:"receivedQty"`

	Price         decimal.Decimal `json:"price"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	MRP           decimal.Decimal `json:"mrp"`
	Discount      decimal.Decimal `json:"discount"`
	TaxType       TaxType         `json:"taxType"`
	Rates         TaxRates        `json:"rates"`
	TaxableAmount decimal.Decimal `json:"taxableAmount"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	Total         decimal.Decimal `json:"total"`

	Racks   []RackAssignment `json:"racks"`
	Scanned bool             `json:"scanned"`
	Printed bool             `json:"printed"`
}

// RackedQty sums the quantities assigned to racks.
func (l Line) RackedQty() int64 {
	var sum int64
	for _, r := range l.Racks {
		sum += r.Quantity
	}
	return sum
}

// Summary is a stage total across all lines.
type Summary struct {
	TotalTaxableAmount decimal.Decimal `json:"totalTaxableAmount"`
	TotalTax           decimal.Decimal `json:"totalTax"`
	NetTotal           decimal.Decimal `json:"netTotal"`
	RoundOff           decimal.Decimal `json:"roundOff"`
}

// Pricing is the creation-time total built from the raw submitted line values.
type Pricing struct {
	SubTotal   decimal.Decimal `json:"subTotal"`
	TaxTotal   decimal.Decimal `json:"taxTotal"`
	Discount   decimal.Decimal `json:"discount"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// StageDetails stamps who completed a stage and when.
type StageDetails struct {
	CompletedBy int64      `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// FulfillmentDetails adds the delivery date to the fulfillment stamp.
type FulfillmentDetails struct {
	StageDetails
	ActualDeliveryDate *time.Time `json:"actualDeliveryDate,omitempty"`
}

// Details groups the per-stage stamps.
type Details struct {
	PO             StageDetails       `json:"po"`
	PI             StageDetails       `json:"pi"`
	Invoice        StageDetails       `json:"invoice"`
	Fulfillment    FulfillmentDetails `json:"fulfillment"`
	StockEntry     StageDetails       `json:"stockEntry"`
	RackAssignment StageDetails       `json:"rackAssignment"`
}

// Purchase is the aggregate root of the workflow.
type Purchase struct {
	ID          int64
	UUID        uuid.UUID
	PurchaseID  string
	StoreID     int64
	VendorID    int64
	VendorName  string
	BrandID     *int64
	InvoiceNo   string
	InvoiceDate *time.Time
	Notes       string

	Lines []Line

	Status            Status
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	Details           Details

	POSummary      Summary
	PISummary      Summary
	InvoiceSummary Summary
	Pricing        Pricing

	CreatedBy int64
	UpdatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Line returns the line with the given id.
func (p *Purchase) Line(id uuid.UUID) (*Line, bool) {
	for i := range p.Lines {
		if p.Lines[i].ID == id {
			return &p.Lines[i], true
		}
	}
	return nil, false
}

// Cancelled reports whether the purchase was cancelled.
func (p *Purchase) Cancelled() bool {
	for _, stage := range Stages {
		if p.Status.Of(stage) == StageCancelled {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a failed transition never leaks into the loaded document.
func (p Purchase) Clone() Purchase {
	out := p
	out.Lines = make([]Line, len(p.Lines))
	for i, l := range p.Lines {
		l.Racks = append([]RackAssignment(nil), l.Racks...)
		out.Lines[i] = l
	}
	if p.BrandID != nil {
		id := *p.BrandID
		out.BrandID = &id
	}
	return out
}

var (
	ErrNotFound               = shared.NotFound("purchasing: purchase not found")
	ErrLineNotFound           = shared.NotFound("purchasing: purchase line not found")
	ErrForbidden              = shared.NewError(httpx.ErrForbidden, "purchasing: purchase belongs to another store")
	ErrConcurrentModification = shared.NewError(httpx.ErrConflict, "purchasing: purchase was modified concurrently")
	ErrDuplicatePurchaseID    = shared.NewError(httpx.ErrDuplicate, "purchasing: purchase identifier already exists")
	ErrCancelled              = shared.Precondition("purchasing: purchase is cancelled")
	ErrStockEntered           = shared.Precondition("purchasing: stock entry already completed")
	ErrLocked                 = shared.NewError(httpx.ErrConflict, "purchasing: purchase is being modified by another request")
)

func errAlreadyCompleted(stage Stage) *shared.Error {
	return shared.Precondition("purchasing: " + string(stage) + " already completed").With("stage", stage)
}

func errRequires(stage, required Stage) *shared.Error {
	return shared.Precondition("purchasing: "+string(stage)+" requires "+string(required)+" to be completed").
		With("stage", stage).With("requires", required)
}
