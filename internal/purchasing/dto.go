package purchasing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type rackRequest struct {
	Rack     int64 `json:"rack" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

func toAssignments(in []rackRequest) []RackAssignment {
	if in == nil {
		return nil
	}
	out := make([]RackAssignment, len(in))
	for i, r := range in {
		out[i] = RackAssignment{RackID: r.Rack, Quantity: r.Quantity}
	}
	return out
}

type lineRequest struct {
	Item          int64            `json:"item" validate:"required,gt=0"`
	ItemName      string           `json:"itemName"`
	HSN           string           `json:"hsn"`
	Quantity      int64            `json:"quantity" validate:"required,gt=0"`
	Price         *decimal.Decimal `json:"price"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice"`
	MRP           decimal.Decimal  `json:"mrp"`
	Discount      decimal.Decimal  `json:"discount"`
	TaxType       TaxType          `json:"taxType" validate:"omitempty,oneof=interstate intrastate"`
	Rates         TaxRates         `json:"rates"`
	Total         *decimal.Decimal `json:"total"`
	TaxAmount     *decimal.Decimal `json:"taxAmount"`
	Racks         []rackRequest    `json:"racks" validate:"dive"`
}

type createRequest struct {
	Vendor      int64         `json:"vendor" validate:"required,gt=0"`
	Brand       *int64        `json:"brand" validate:"omitempty,gt=0"`
	InvoiceNo   string        `json:"invoiceNo" validate:"max=64"`
	InvoiceDate *time.Time    `json:"invoiceDate"`
	Notes       string        `json:"notes"`
	Items       []lineRequest `json:"items" validate:"required,min=1,dive"`
	Pricing     *Pricing      `json:"pricing"`
}

func (r createRequest) input() CreateInput {
	lines := make([]LineInput, len(r.Items))
	for i, l := range r.Items {
		lines[i] = LineInput{
			ItemID:        l.Item,
			ItemName:      l.ItemName,
			HSN:           l.HSN,
			Quantity:      l.Quantity,
			Price:         l.Price,
			PurchasePrice: l.PurchasePrice,
			MRP:           l.MRP,
			Discount:      l.Discount,
			TaxType:       l.TaxType,
			Rates:         l.Rates,
			Total:         l.Total,
			TaxAmount:     l.TaxAmount,
			Racks:         toAssignments(l.Racks),
		}
	}
	return CreateInput{
		VendorID:    r.Vendor,
		BrandID:     r.Brand,
		InvoiceNo:   r.InvoiceNo,
		InvoiceDate: r.InvoiceDate,
		Notes:       r.Notes,
		Lines:       lines,
		Pricing:     r.Pricing,
	}
}

type summaryRequest struct {
	TotalTaxableAmount *decimal.Decimal `json:"totalTaxableAmount"`
	TotalTax           *decimal.Decimal `json:"totalTax"`
	NetTotal           *decimal.Decimal `json:"netTotal"`
	RoundOff           *decimal.Decimal `json:"roundOff"`
}

// quantityRequest accepts the stage specific names piQty and invQty besides quantity.
type quantityRequest struct {
	LineID   uuid.UUID `json:"lineId" validate:"required"`
	Quantity *int64    `json:"quantity" validate:"omitempty,gte=0"`
	PIQty    *int64    `json:"piQty" validate:"omitempty,gte=0"`
	InvQty   *int64    `json:"invQty" validate:"omitempty,gte=0"`
}

type stageRequest struct {
	Summary *summaryRequest   `json:"summary"`
	Items   []quantityRequest `json:"items" validate:"dive"`
	Notes   string            `json:"notes"`
}

func (r *stageRequest) input() *StageInput {
	if r == nil {
		return nil
	}
	in := &StageInput{Notes: r.Notes}
	if r.Summary != nil {
		in.Summary = &SummaryOverride{
			TotalTaxableAmount: r.Summary.TotalTaxableAmount,
			TotalTax:           r.Summary.TotalTax,
			NetTotal:           r.Summary.NetTotal,
			RoundOff:           r.Summary.RoundOff,
		}
	}
	for _, item := range r.Items {
		qty := item.Quantity
		for _, alt := range []*int64{item.PIQty, item.InvQty} {
			if qty == nil {
				qty = alt
			}
		}
		in.Lines = append(in.Lines, QuantityOverride{LineID: item.LineID, Quantity: qty})
	}
	return in
}

type fulfillmentRequest struct {
	ActualDeliveryDate *time.Time `json:"actualDeliveryDate"`
	Notes              string     `json:"notes"`
}

func (r *fulfillmentRequest) input() *FulfillmentInput {
	if r == nil {
		return nil
	}
	return &FulfillmentInput{ActualDeliveryDate: r.ActualDeliveryDate, Notes: r.Notes}
}

type stockEntryLineRequest struct {
	LineID      uuid.UUID     `json:"lineId" validate:"required"`
	ReceivedQty *int64        `json:"receivedQty" validate:"omitempty,gte=0"`
	InvQty      *int64        `json:"invQty" validate:"omitempty,gte=0"`
	Racks       []rackRequest `json:"racks" validate:"dive"`
	Scanned     *bool         `json:"scanned"`
	Printed     *bool         `json:"printed"`
}

type stockEntryRequest struct {
	Items []stockEntryLineRequest `json:"items" validate:"dive"`
	Notes string                  `json:"notes"`
}

func (r *stockEntryRequest) input() *StockEntryInput {
	if r == nil {
		return nil
	}
	in := &StockEntryInput{Notes: r.Notes}
	for _, item := range r.Items {
		in.Lines = append(in.Lines, StockEntryLine{
			LineID:      item.LineID,
			ReceivedQty: item.ReceivedQty,
			InvoicedQty: item.InvQty,
			Racks:       toAssignments(item.Racks),
			Scanned:     item.Scanned,
			Printed:     item.Printed,
		})
	}
	return in
}

type rackAssignmentLineRequest struct {
	LineID uuid.UUID     `json:"lineId" validate:"required"`
	Racks  []rackRequest `json:"racks" validate:"dive"`
}

type rackAssignmentRequest struct {
	Items []rackAssignmentLineRequest `json:"items" validate:"dive"`
	Notes string                      `json:"notes"`
}

func (r *rackAssignmentRequest) input() *RackAssignmentInput {
	if r == nil {
		return nil
	}
	in := &RackAssignmentInput{Notes: r.Notes}
	for _, item := range r.Items {
		racks := toAssignments(item.Racks)
		if racks == nil {
			racks = []RackAssignment{}
		}
		in.Lines = append(in.Lines, RackAssignmentLine{LineID: item.LineID, Racks: racks})
	}
	return in
}

type workflowRequest struct {
	Force          bool                   `json:"force"`
	PO             *stageRequest          `json:"po" validate:"omitempty"`
	PI             *stageRequest          `json:"pi" validate:"omitempty"`
	Invoice        *stageRequest          `json:"invoice" validate:"omitempty"`
	Fulfillment    *fulfillmentRequest    `json:"fulfillment"`
	StockEntry     *stockEntryRequest     `json:"stockEntry" validate:"omitempty"`
	RackAssignment *rackAssignmentRequest `json:"rackAssignment" validate:"omitempty"`
}

func (r workflowRequest) input() WorkflowInput {
	return WorkflowInput{
		Force:          r.Force,
		PO:             r.PO.input(),
		PI:             r.PI.input(),
		Invoice:        r.Invoice.input(),
		Fulfillment:    r.Fulfillment.input(),
		StockEntry:     r.StockEntry.input(),
		RackAssignment: r.RackAssignment.input(),
	}
}

type lineUpdateRequest struct {
	Quantity *int64           `json:"quantity" validate:"omitempty,gt=0"`
	Price    *decimal.Decimal `json:"price"`
	MRP      *decimal.Decimal `json:"mrp"`
	Discount *decimal.Decimal `json:"discount"`
	TaxType  *TaxType         `json:"taxType" validate:"omitempty,oneof=interstate intrastate"`
	Rates    *TaxRates        `json:"rates"`
}

func (r lineUpdateRequest) input() LineUpdate {
	return LineUpdate{Quantity: r.Quantity, Price: r.Price, MRP: r.MRP, Discount: r.Discount, TaxType: r.TaxType, Rates: r.Rates}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type transferRequest struct {
	LineID   uuid.UUID `json:"lineId" validate:"required"`
	FromRack int64     `json:"fromRack" validate:"required,gt=0"`
	ToRack   int64     `json:"toRack" validate:"required,gt=0,nefield=FromRack"`
	Quantity int64     `json:"quantity" validate:"required,gt=0"`
}

type purchaseResponse struct {
	ID                int64             `json:"id"`
	UUID              uuid.UUID         `json:"uuid"`
	PurchaseID        string            `json:"purchaseId"`
	Store             int64             `json:"store"`
	Vendor            int64             `json:"vendor"`
	VendorName        string            `json:"vendorName"`
	Brand             *int64            `json:"brand,omitempty"`
	InvoiceNo         string            `json:"invoiceNo"`
	InvoiceDate       *time.Time        `json:"invoiceDate,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Items             []Line            `json:"items"`
	Status            Status            `json:"status"`
	PaymentStatus     PaymentStatus     `json:"paymentStatus"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	Details           Details           `json:"details"`
	POSummary         Summary           `json:"poSummary"`
	PISummary         Summary           `json:"piSummary"`
	InvoiceSummary    Summary           `json:"invoiceSummary"`
	Pricing           Pricing           `json:"pricing"`
	CreatedBy         int64             `json:"createdBy"`
	UpdatedBy         int64             `json:"updatedBy"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	Version           int64             `json:"version"`
	CompletedStages   []Stage           `json:"completedStages,omitempty"`
}

func toResponse(p Purchase) purchaseResponse {
	return purchaseResponse{
		ID:                p.ID,
		UUID:              p.UUID,
		PurchaseID:        p.PurchaseID,
		Store:             p.StoreID,
		Vendor:            p.VendorID,
		VendorName:        p.VendorName,
		Brand:             p.BrandID,
		InvoiceNo:         p.InvoiceNo,
		InvoiceDate:       p.InvoiceDate,
		Notes:             p.Notes,
		Items:             p.Lines,
		Status:            p.Status,
		PaymentStatus:     p.PaymentStatus,
		FulfillmentStatus: p.FulfillmentStatus,
		Details:           p.Details,
		POSummary:         p.POSummary,
		PISummary:         p.PISummary,
		InvoiceSummary:    p.InvoiceSummary,
		Pricing:           p.Pricing,
		CreatedBy:         p.CreatedBy,
		UpdatedBy:         p.UpdatedBy,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		Version:           p.Version,
	}
}
