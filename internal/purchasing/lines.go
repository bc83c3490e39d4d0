package purchasing

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/masterdata"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// LineInput is one submitted line of a new purchase.
type LineInput struct {
	ItemID        int64
	ItemName      string
	HSN           string
	Quantity      int64
	Price         *decimal.Decimal
	PurchasePrice *decimal.Decimal
	MRP           decimal.Decimal
	Discount      decimal.Decimal
	TaxType       TaxType
	Rates         TaxRates
	Total         *decimal.Decimal
	TaxAmount     *decimal.Decimal
	Racks         []RackAssignment
}

// LineUpdate changes a line before the PO is completed. Nil fields are left untouched.
type LineUpdate struct {
	Quantity *int64
	Price    *decimal.Decimal
	MRP      *decimal.Decimal
	Discount *decimal.Decimal
	TaxType  *TaxType
	Rates    *TaxRates
}

func validTaxType(t TaxType) bool {
	return t == "" || t == TaxInterstate || t == TaxIntrastate
}

// validateLineInput checks the fields that need no master data.
func validateLineInput(index int, in LineInput) error {
	if in.ItemID <= 0 {
		return lineError(index, "itemId is required")
	}
	if in.Quantity <= 0 {
		return lineError(index, "quantity must be positive")
	}
	if in.Price == nil && in.PurchasePrice == nil {
		return lineError(index, "price is required")
	}
	for _, v := range []*decimal.Decimal{in.Price, in.PurchasePrice} {
		if v != nil && v.IsNegative() {
			return lineError(index, "price must not be negative")
		}
	}
	if in.Discount.IsNegative() {
		return lineError(index, "discount must not be negative")
	}
	if !validTaxType(in.TaxType) {
		return lineError(index, "taxType must be interstate or intrastate")
	}
	return validateRacks(index, in.Racks, in.Quantity)
}

// buildLine snapshots the item and fills every stage quantity from the ordered quantity.
func buildLine(index int, in LineInput, item masterdata.Item) (Line, error) {
	hsn := strings.TrimSpace(in.HSN)
	if hsn == "" {
		hsn = item.HSN
	}
	if hsn == "" {
		return Line{}, lineError(index, "hsn is required")
	}
	name := strings.TrimSpace(in.ItemName)
	if name == "" {
		name = item.Name
	}
	price := deref(in.Price)
	if in.Price == nil {
		price = *in.PurchasePrice
	}
	purchasePrice := price
	if in.PurchasePrice != nil {
		purchasePrice = *in.PurchasePrice
	}
	mrp := in.MRP
	if mrp.IsZero() {
		mrp = item.MRP
	}
	line := Line{
		ID:                 uuid.New(),
		ItemID:             item.ID,
		ItemName:           name,
		HSN:                hsn,
		OrderedQty:         in.Quantity,
		InvoicedOrderedQty: in.Quantity,
		InvoicedQty:        in.Quantity,
		Price:              price,
		PurchasePrice:      purchasePrice,
		MRP:                mrp,
		Discount:           in.Discount,
		TaxType:            in.TaxType,
		Rates:              in.Rates,
		Racks:              append([]RackAssignment(nil), in.Racks...),
	}
	line.rawAmounts(in.Total, in.TaxAmount)
	return line, nil
}

// rawAmounts sets the creation-time amounts, preferring client supplied totals.
func (l *Line) rawAmounts(total, taxAmount *decimal.Decimal) {
	l.TaxableAmount = DeriveTaxable(l.Price, l.OrderedQty, l.Discount)
	l.TaxAmount = DeriveTax(l.TaxableAmount, l.TaxType, l.Rates)
	if taxAmount != nil {
		l.TaxAmount = *taxAmount
	}
	l.Total = l.TaxableAmount
	if total != nil {
		l.Total = *total
	}
}

// UpdateLine edits a draft line and refreshes the PO summary and pricing.
func (p *Purchase) UpdateLine(actor int64, lineID uuid.UUID, upd LineUpdate) error {
	if p.Cancelled() {
		return ErrCancelled
	}
	if p.Status.Completed(StagePO) {
		return shared.Precondition("purchasing: lines cannot change once po is completed").With("stage", StagePO)
	}
	line, ok := p.Line(lineID)
	if !ok {
		return ErrLineNotFound.With("lineId", lineID.String())
	}
	next := *line
	if upd.Quantity != nil {
		if *upd.Quantity <= 0 {
			return shared.Validation("purchasing: quantity must be positive")
		}
		next.OrderedQty = *upd.Quantity
		next.InvoicedOrderedQty = *upd.Quantity
		next.InvoicedQty = *upd.Quantity
	}
	if upd.Price != nil {
		if upd.Price.IsNegative() {
			return shared.Validation("purchasing: price must not be negative")
		}
		next.Price = *upd.Price
		next.PurchasePrice = *upd.Price
	}
	if upd.MRP != nil {
		next.MRP = *upd.MRP
	}
	if upd.Discount != nil {
		if upd.Discount.IsNegative() {
			return shared.Validation("purchasing: discount must not be negative")
		}
		next.Discount = *upd.Discount
	}
	if upd.TaxType != nil {
		if !validTaxType(*upd.TaxType) {
			return shared.Validation("purchasing: taxType must be interstate or intrastate")
		}
		next.TaxType = *upd.TaxType
	}
	if upd.Rates != nil {
		next.Rates = *upd.Rates
	}
	if next.RackedQty() > next.OrderedQty {
		return shared.Validation("purchasing: rack quantities exceed ordered quantity")
	}
	next.rawAmounts(nil, nil)
	*line = next
	p.POSummary = summarize(p.Lines, StagePO, p.POSummary.RoundOff)
	p.Pricing = creationPricing(p.Lines)
	p.UpdatedBy = actor
	return nil
}
