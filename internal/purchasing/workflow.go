package purchasing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// SummaryOverride carries caller-supplied summary fields; nil fields keep the computed value.
type SummaryOverride struct {
	TotalTaxableAmount *decimal.Decimal
	TotalTax           *decimal.Decimal
	NetTotal           *decimal.Decimal
	RoundOff           *decimal.Decimal
}

func (o *SummaryOverride) apply(s Summary) Summary {
	if o == nil {
		return s
	}
	if o.TotalTaxableAmount != nil {
		s.TotalTaxableAmount = *o.TotalTaxableAmount
	}
	if o.TotalTax != nil {
		s.TotalTax = *o.TotalTax
	}
	if o.NetTotal != nil {
		s.NetTotal = *o.NetTotal
	}
	if o.RoundOff != nil {
		s.RoundOff = *o.RoundOff
	}
	return s
}

func (o *SummaryOverride) roundOff(current decimal.Decimal) decimal.Decimal {
	if o == nil || o.RoundOff == nil {
		return current
	}
	return *o.RoundOff
}

// QuantityOverride sets the stage quantity of one line.
type QuantityOverride struct {
	LineID   uuid.UUID
	Quantity *int64
}

// StageInput is the completion payload of the PO, PI and Invoice stages.
type StageInput struct {
	Summary *SummaryOverride
	Lines   []QuantityOverride
	Notes   string
}

// FulfillmentInput is the completion payload of the fulfillment stage.
type FulfillmentInput struct {
	ActualDeliveryDate *time.Time
	Notes              string
}

// StockEntryLine records what was physically received for one line.
type StockEntryLine struct {
	LineID      uuid.UUID
	ReceivedQty *int64
	InvoicedQty *int64
	// Racks replaces the line's rack assignments when non-nil.
	Racks   []RackAssignment
	Scanned *bool
	Printed *bool
}

// StockEntryInput is the completion payload of the stock entry stage.
type StockEntryInput struct {
	Lines []StockEntryLine
	Notes string
}

// RackAssignmentLine replaces the rack list of one line.
type RackAssignmentLine struct {
	LineID uuid.UUID
	Racks  []RackAssignment
}

// RackAssignmentInput is the completion payload of the rack assignment stage.
type RackAssignmentInput struct {
	Lines []RackAssignmentLine
	Notes string
}

// WorkflowInput drives the bulk completion. With Force every incomplete stage is completed in
// order using the supplied data or defaults; otherwise only stages with data are completed.
type WorkflowInput struct {
	Force          bool
	PO             *StageInput
	PI             *StageInput
	Invoice        *StageInput
	Fulfillment    *FulfillmentInput
	StockEntry     *StockEntryInput
	RackAssignment *RackAssignmentInput
}

func (in WorkflowInput) supplied(stage Stage) bool {
	switch stage {
	case StagePO:
		return in.PO != nil
	case StagePI:
		return in.PI != nil
	case StageInvoice:
		return in.Invoice != nil
	case StageFulfillment:
		return in.Fulfillment != nil
	case StageStockEntry:
		return in.StockEntry != nil
	case StageRackAssignment:
		return in.RackAssignment != nil
	}
	return false
}

// RackMovement moves item quantity into (positive) or out of (negative) a rack.
type RackMovement struct {
	RackID   int64
	ItemID   int64
	Quantity int64
}

// StockDelta adjusts the global stock counter of an item.
type StockDelta struct {
	ItemID int64
	Delta  int64
}

// Effects are the writes a transition requires outside the purchase document.
type Effects struct {
	Racks []RackMovement
	Stock []StockDelta
}

func (e *Effects) merge(other Effects) {
	e.Racks = append(e.Racks, other.Racks...)
	e.Stock = append(e.Stock, other.Stock...)
}

func (p *Purchase) checkTransition(stage Stage) error {
	if p.Cancelled() {
		return ErrCancelled
	}
	if p.Status.Completed(stage) {
		return errAlreadyCompleted(stage)
	}
	if prev, ok := predecessor(stage); ok && !p.Status.Completed(prev) {
		return errRequires(stage, prev)
	}
	return nil
}

func (p *Purchase) stamp(actor int64, now time.Time, notes string) StageDetails {
	p.UpdatedBy = actor
	at := now
	return StageDetails{CompletedBy: actor, CompletedAt: &at, Notes: notes}
}

// CompletePO merges the supplied summary over the current one and completes the PO.
func (p *Purchase) CompletePO(actor int64, in StageInput, now time.Time) error {
	if err := p.checkTransition(StagePO); err != nil {
		return err
	}
	p.POSummary = in.Summary.apply(p.POSummary)
	p.Status.PO = StageCompleted
	p.Details.PO = p.stamp(actor, now, in.Notes)
	return nil
}

// CompletePI applies invoiced-ordered quantity overrides and recomputes the PI summary.
func (p *Purchase) CompletePI(actor int64, in StageInput, now time.Time) error {
	if err := p.checkTransition(StagePI); err != nil {
		return err
	}
	if err := p.applyQuantities(in.Lines, func(l *Line, qty int64) { l.InvoicedOrderedQty = qty }); err != nil {
		return err
	}
	for i := range p.Lines {
		// invoice quantity follows until the invoice stage overrides it
		p.Lines[i].InvoicedQty = p.Lines[i].InvoicedOrderedQty
		p.Lines[i].recompute(StagePI)
	}
	p.PISummary = summarize(p.Lines, StagePI, in.Summary.roundOff(p.PISummary.RoundOff))
	p.Status.PI = StageCompleted
	p.Details.PI = p.stamp(actor, now, in.Notes)
	return nil
}

// CompleteInvoice applies invoiced quantity overrides and recomputes the invoice summary.
func (p *Purchase) CompleteInvoice(actor int64, in StageInput, now time.Time) error {
	if err := p.checkTransition(StageInvoice); err != nil {
		return err
	}
	if err := p.applyQuantities(in.Lines, func(l *Line, qty int64) { l.InvoicedQty = qty }); err != nil {
		return err
	}
	for i := range p.Lines {
		p.Lines[i].recompute(StageInvoice)
	}
	p.InvoiceSummary = summarize(p.Lines, StageInvoice, in.Summary.roundOff(p.InvoiceSummary.RoundOff))
	p.Status.Invoice = StageCompleted
	p.Details.Invoice = p.stamp(actor, now, in.Notes)
	return nil
}

// CompleteFulfillment records the delivery.
func (p *Purchase) CompleteFulfillment(actor int64, in FulfillmentInput, now time.Time) error {
	if err := p.checkTransition(StageFulfillment); err != nil {
		return err
	}
	p.fulfil(actor, in, now)
	return nil
}

func (p *Purchase) fulfil(actor int64, in FulfillmentInput, now time.Time) {
	delivered := now
	if in.ActualDeliveryDate != nil {
		delivered = *in.ActualDeliveryDate
	}
	p.Status.Fulfillment = StageCompleted
	p.FulfillmentStatus = FulfillmentCompleted
	p.Details.Fulfillment = FulfillmentDetails{StageDetails: p.stamp(actor, now, in.Notes), ActualDeliveryDate: &delivered}
}

// CompleteStockEntry records received quantities and returns the rack and stock writes they imply.
func (p *Purchase) CompleteStockEntry(actor int64, in StockEntryInput, now time.Time) (Effects, error) {
	if err := p.checkTransition(StageStockEntry); err != nil {
		return Effects{}, err
	}
	supplied := make(map[uuid.UUID]StockEntryLine, len(in.Lines))
	for i, entry := range in.Lines {
		if _, ok := p.Line(entry.LineID); !ok {
			return Effects{}, ErrLineNotFound.With("lineId", entry.LineID.String())
		}
		if entry.ReceivedQty != nil && *entry.ReceivedQty < 0 {
			return Effects{}, lineError(i, "receivedQty must not be negative")
		}
		if entry.InvoicedQty != nil && *entry.InvoicedQty < 0 {
			return Effects{}, lineError(i, "invoicedQty must not be negative")
		}
		supplied[entry.LineID] = entry
	}

	var effects Effects
	for i := range p.Lines {
		line := &p.Lines[i]
		line.ReceivedQty = line.OrderedQty
		if entry, ok := supplied[line.ID]; ok {
			if entry.ReceivedQty != nil {
				line.ReceivedQty = *entry.ReceivedQty
			}
			line.InvoicedQty = line.ReceivedQty
			if entry.InvoicedQty != nil {
				line.InvoicedQty = *entry.InvoicedQty
			}
			if entry.Racks != nil {
				line.Racks = append([]RackAssignment(nil), entry.Racks...)
			}
			if entry.Scanned != nil {
				line.Scanned = *entry.Scanned
			}
			if entry.Printed != nil {
				line.Printed = *entry.Printed
			}
		}
		if err := validateRacks(i, line.Racks, line.ReceivedQty); err != nil {
			return Effects{}, err
		}
		if line.ItemID > 0 && line.ReceivedQty > 0 {
			effects.Stock = append(effects.Stock, StockDelta{ItemID: line.ItemID, Delta: line.ReceivedQty})
		}
		for _, r := range line.Racks {
			effects.Racks = append(effects.Racks, RackMovement{RackID: r.RackID, ItemID: line.ItemID, Quantity: r.Quantity})
		}
	}

	p.Status.StockEntry = StageCompleted
	p.Details.StockEntry = p.stamp(actor, now, in.Notes)
	if !p.Status.Completed(StageFulfillment) {
		p.fulfil(actor, FulfillmentInput{}, now)
	}
	return effects, nil
}

// CompleteRackAssignment replaces rack lists and returns the rack movements needed to match them.
func (p *Purchase) CompleteRackAssignment(actor int64, in RackAssignmentInput, now time.Time) (Effects, error) {
	if err := p.checkTransition(StageRackAssignment); err != nil {
		return Effects{}, err
	}
	var removes, adds []RackMovement
	for i, entry := range in.Lines {
		line, ok := p.Line(entry.LineID)
		if !ok {
			return Effects{}, ErrLineNotFound.With("lineId", entry.LineID.String())
		}
		if err := validateRacks(i, entry.Racks, line.ReceivedQty); err != nil {
			return Effects{}, err
		}
		r, a := rackDiff(line.ItemID, line.Racks, entry.Racks)
		removes = append(removes, r...)
		adds = append(adds, a...)
		line.Racks = append([]RackAssignment(nil), entry.Racks...)
	}
	p.Status.RackAssignment = StageCompleted
	p.Details.RackAssignment = p.stamp(actor, now, in.Notes)
	return Effects{Racks: append(removes, adds...)}, nil
}

// MoveLineStock moves qty of a line's assignment from one rack to another.
func (p *Purchase) MoveLineStock(actor int64, lineID uuid.UUID, fromRack, toRack, qty int64) (Effects, error) {
	if p.Cancelled() {
		return Effects{}, ErrCancelled
	}
	if !p.Status.Completed(StageStockEntry) {
		return Effects{}, errRequires(StageRackAssignment, StageStockEntry)
	}
	if qty <= 0 {
		return Effects{}, shared.Validation("purchasing: quantity must be positive")
	}
	if fromRack == toRack {
		return Effects{}, shared.Validation("purchasing: source and destination rack must differ")
	}
	line, ok := p.Line(lineID)
	if !ok {
		return Effects{}, ErrLineNotFound.With("lineId", lineID.String())
	}
	next := make([]RackAssignment, 0, len(line.Racks)+1)
	var moved bool
	for _, r := range line.Racks {
		if r.RackID == fromRack && !moved {
			if r.Quantity < qty {
				return Effects{}, shared.Validation("purchasing: line holds less than the requested quantity in the source rack").
					With("available", r.Quantity).With("requested", qty)
			}
			r.Quantity -= qty
			moved = true
			if r.Quantity == 0 {
				continue
			}
		}
		next = append(next, r)
	}
	if !moved {
		return Effects{}, shared.Validation("purchasing: line has no assignment in the source rack").With("rackId", fromRack)
	}
	merged := false
	for i := range next {
		if next[i].RackID == toRack {
			next[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		next = append(next, RackAssignment{RackID: toRack, Quantity: qty})
	}
	line.Racks = next
	p.UpdatedBy = actor
	return Effects{Racks: []RackMovement{
		{RackID: fromRack, ItemID: line.ItemID, Quantity: -qty},
		{RackID: toRack, ItemID: line.ItemID, Quantity: qty},
	}}, nil
}

// CompleteWorkflow completes several stages in order. Ordering is enforced in both modes.
func (p *Purchase) CompleteWorkflow(actor int64, in WorkflowInput, now time.Time) (Effects, []Stage, error) {
	var (
		effects   Effects
		completed []Stage
	)
	for _, stage := range Stages {
		if in.Force {
			if p.Status.Completed(stage) {
				continue
			}
		} else if !in.supplied(stage) {
			continue
		}
		eff, err := p.completeStage(actor, stage, in, now)
		if err != nil {
			return Effects{}, nil, err
		}
		effects.merge(eff)
		completed = append(completed, stage)
	}
	if len(completed) == 0 {
		if in.Force {
			return Effects{}, nil, errAlreadyCompleted(StageRackAssignment)
		}
		return Effects{}, nil, shared.Validation("purchasing: no stage data supplied")
	}
	return effects, completed, nil
}

func (p *Purchase) completeStage(actor int64, stage Stage, in WorkflowInput, now time.Time) (Effects, error) {
	switch stage {
	case StagePO:
		return Effects{}, p.CompletePO(actor, deref(in.PO), now)
	case StagePI:
		return Effects{}, p.CompletePI(actor, deref(in.PI), now)
	case StageInvoice:
		return Effects{}, p.CompleteInvoice(actor, deref(in.Invoice), now)
	case StageFulfillment:
		return Effects{}, p.CompleteFulfillment(actor, deref(in.Fulfillment), now)
	case StageStockEntry:
		return p.CompleteStockEntry(actor, deref(in.StockEntry), now)
	case StageRackAssignment:
		if in.RackAssignment == nil {
			// keep the assignments recorded at stock entry
			return p.CompleteRackAssignment(actor, RackAssignmentInput{}, now)
		}
		return p.CompleteRackAssignment(actor, *in.RackAssignment, now)
	}
	return Effects{}, fmt.Errorf("purchasing: unknown stage %q", stage)
}

// Cancel marks every stage that is not completed as cancelled.
func (p *Purchase) Cancel(actor int64) error {
	if p.Cancelled() {
		return ErrCancelled
	}
	if p.Status.Completed(StageStockEntry) {
		return ErrStockEntered
	}
	for _, stage := range Stages {
		if !p.Status.Completed(stage) {
			p.Status.set(stage, StageCancelled)
		}
	}
	p.UpdatedBy = actor
	return nil
}

func (p *Purchase) applyQuantities(overrides []QuantityOverride, set func(*Line, int64)) error {
	for i, o := range overrides {
		line, ok := p.Line(o.LineID)
		if !ok {
			return ErrLineNotFound.With("lineId", o.LineID.String())
		}
		if o.Quantity == nil {
			continue
		}
		if *o.Quantity < 0 {
			return lineError(i, "quantity must not be negative")
		}
		set(line, *o.Quantity)
	}
	return nil
}

func validateRacks(index int, racks []RackAssignment, received int64) error {
	var sum int64
	for _, r := range racks {
		if r.RackID <= 0 {
			return lineError(index, "rackId is required")
		}
		if r.Quantity <= 0 {
			return lineError(index, "rack quantity must be positive")
		}
		sum += r.Quantity
	}
	if sum > received {
		return lineError(index, "rack quantities exceed received quantity").With("received", received).With("assigned", sum)
	}
	return nil
}

// rackDiff returns the removals and additions that turn old into next for one item.
func rackDiff(itemID int64, old, next []RackAssignment) (removes, adds []RackMovement) {
	delta := make(map[int64]int64)
	var order []int64
	track := func(rackID, qty int64) {
		if _, ok := delta[rackID]; !ok {
			order = append(order, rackID)
		}
		delta[rackID] += qty
	}
	for _, r := range old {
		track(r.RackID, -r.Quantity)
	}
	for _, r := range next {
		track(r.RackID, r.Quantity)
	}
	for _, rackID := range order {
		switch d := delta[rackID]; {
		case d < 0:
			removes = append(removes, RackMovement{RackID: rackID, ItemID: itemID, Quantity: d})
		case d > 0:
			adds = append(adds, RackMovement{RackID: rackID, ItemID: itemID, Quantity: d})
		}
	}
	return removes, adds
}

func lineError(index int, message string) *shared.Error {
	return shared.Validation(fmt.Sprintf("purchasing: items[%d]: %s", index, message)).With("line", index)
}

func deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}
