package purchasing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// DeriveTaxable returns price*quantity - discount. Negative results are not clamped.
func DeriveTaxable(price decimal.Decimal, quantity int64, discount decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Sub(discount)
}

// DeriveTax applies the single interstate rate or the split intrastate rates to taxable.
func DeriveTax(taxable decimal.Decimal, taxType TaxType, rates TaxRates) decimal.Decimal {
	var rate decimal.Decimal
	switch taxType {
	case TaxInterstate:
		rate = rates.IGST
	case TaxIntrastate:
		rate = rates.CGST.Add(rates.SGST)
	default:
		return decimal.Zero
	}
	return taxable.Mul(rate).Div(hundred).Round(2)
}

// DeriveTotal returns taxable + tax.
func DeriveTotal(taxable, tax decimal.Decimal) decimal.Decimal {
	return taxable.Add(tax)
}

// stageQty returns the quantity field a stage computes its amounts from.
func (l Line) stageQty(stage Stage) int64 {
	switch stage {
	case StagePI:
		return l.InvoicedOrderedQty
	case StageInvoice:
		return l.InvoicedQty
	default:
		return l.OrderedQty
	}
}

// recompute refreshes the line amounts from the stage quantity.
func (l *Line) recompute(stage Stage) {
	l.TaxableAmount = DeriveTaxable(l.PurchasePrice, l.stageQty(stage), l.Discount)
	l.TaxAmount = DeriveTax(l.TaxableAmount, l.TaxType, l.Rates)
	l.Total = DeriveTotal(l.TaxableAmount, l.TaxAmount)
}

// summarize sums the stage amounts of every line and applies roundOff.
func summarize(lines []Line, stage Stage, roundOff decimal.Decimal) Summary {
	out := Summary{RoundOff: roundOff}
	for _, l := range lines {
		taxable := DeriveTaxable(l.PurchasePrice, l.stageQty(stage), l.Discount)
		tax := DeriveTax(taxable, l.TaxType, l.Rates)
		out.TotalTaxableAmount = out.TotalTaxableAmount.Add(taxable)
		out.TotalTax = out.TotalTax.Add(tax)
	}
	out.NetTotal = out.TotalTaxableAmount.Add(out.TotalTax).Add(roundOff)
	return out
}

// creationPricing sums the raw submitted line totals and tax amounts.
func creationPricing(lines []Line) Pricing {
	var p Pricing
	for _, l := range lines {
		p.SubTotal = p.SubTotal.Add(l.Total)
		p.TaxTotal = p.TaxTotal.Add(l.TaxAmount)
		p.Discount = p.Discount.Add(l.Discount)
	}
	p.GrandTotal = p.SubTotal.Add(p.TaxTotal)
	return p
}
