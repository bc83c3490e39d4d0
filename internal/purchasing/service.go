package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-pos/internal/masterdata"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var tracer = otel.Tracer("odyssey-pos/purchasing")

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	SequenceSource
	// Create inserts p and assigns ID, UUID and Version.
	Create(ctx context.Context, p *Purchase) error
	Get(ctx context.Context, id int64) (Purchase, error)
	// Update persists p when the stored version matches p.Version and bumps it.
	Update(ctx context.Context, p *Purchase) error
	Delete(ctx context.Context, id, version int64) error
}

// MasterDataPort resolves vendors, brands and items and owns the item stock counter.
type MasterDataPort interface {
	GetVendor(ctx context.Context, storeID, id int64) (masterdata.Vendor, error)
	GetBrand(ctx context.Context, storeID, id int64) (masterdata.Brand, error)
	GetItem(ctx context.Context, storeID, id int64) (masterdata.Item, error)
	AdjustStock(ctx context.Context, storeID, id int64, delta int64) error
}

// RackPort moves received stock in and out of racks.
type RackPort interface {
	AddStock(ctx context.Context, actor shared.Actor, rackID, itemID, qty int64, purchaseID string) error
	RemoveStock(ctx context.Context, actor shared.Actor, rackID, itemID, qty int64) error
}

// TxManager runs fn inside one database transaction.
type TxManager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards one-time side effects.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// TransitionRecorder counts workflow transitions.
type TransitionRecorder interface {
	RecordTransition(stage, result string)
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repo        RepositoryPort
	MasterData  MasterDataPort
	Racks       RackPort
	Tx          TxManager
	Locker      Locker
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     TransitionRecorder
	Logger      *slog.Logger
	// Location decides the calendar day used in purchase identifiers.
	Location *time.Location
}

// Service orchestrates the purchase workflow.
type Service struct {
	repo        RepositoryPort
	masterdata  MasterDataPort
	racks       RackPort
	tx          TxManager
	locker      Locker
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     TransitionRecorder
	logger      *slog.Logger
	numberer    *Numberer
	now         func() time.Time
}

// NewService constructs the purchasing service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		masterdata:  deps.MasterData,
		racks:       deps.Racks,
		tx:          deps.Tx,
		locker:      deps.Locker,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		numberer:    NewNumberer(deps.Repo, deps.Location),
		now:         time.Now,
	}
}

// CreateInput describes a new purchase.
type CreateInput struct {
	VendorID    int64
	BrandID     *int64
	InvoiceNo   string
	InvoiceDate *time.Time
	Notes       string
	Lines       []LineInput
	// Pricing replaces the computed creation pricing when supplied.
	Pricing *Pricing
}

// Create validates the input, resolves master data and stores a draft purchase.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Purchase, error) {
	ctx, span := tracer.Start(ctx, "purchasing.create", trace.WithAttributes(attribute.Int64("store.id", actor.StoreID)))
	defer span.End()

	p, err := s.build(ctx, actor, input)
	if err != nil {
		return Purchase{}, s.fail(span, err)
	}
	at := s.now()
	err = s.withLock(ctx, s.numberer.LockKey(actor.StoreID, at), func(ctx context.Context) error {
		id, err := s.numberer.Next(ctx, actor.StoreID, at)
		if err != nil {
			return err
		}
		p.PurchaseID = id
		return s.inTx(ctx, func(ctx context.Context) error {
			return s.repo.Create(ctx, &p)
		})
	})
	if err != nil {
		return Purchase{}, s.fail(span, err)
	}
	s.recordAudit(ctx, actor, "PURCHASE_CREATE", p, map[string]any{"purchase_id": p.PurchaseID, "lines": len(p.Lines)})
	s.logger.Info("purchase created", slog.String("purchase_id", p.PurchaseID), slog.Int64("store_id", p.StoreID), slog.Int("lines", len(p.Lines)))
	return p, nil
}

func (s *Service) build(ctx context.Context, actor shared.Actor, input CreateInput) (Purchase, error) {
	if !actor.Valid() {
		return Purchase{}, errNoActor
	}
	if input.VendorID <= 0 {
		return Purchase{}, shared.Validation("purchasing: vendor is required")
	}
	if len(input.Lines) == 0 {
		return Purchase{}, shared.Validation("purchasing: items are required")
	}
	for i, line := range input.Lines {
		if err := validateLineInput(i, line); err != nil {
			return Purchase{}, err
		}
	}
	vendor, err := s.masterdata.GetVendor(ctx, actor.StoreID, input.VendorID)
	if err != nil {
		return Purchase{}, err
	}
	if input.BrandID != nil {
		if _, err := s.masterdata.GetBrand(ctx, actor.StoreID, *input.BrandID); err != nil {
			return Purchase{}, err
		}
	}
	lines := make([]Line, 0, len(input.Lines))
	for i, in := range input.Lines {
		item, err := s.masterdata.GetItem(ctx, actor.StoreID, in.ItemID)
		if err != nil {
			if errors.Is(err, httpx.ErrNotFound) {
				return Purchase{}, lineError(i, "item not found").Wrap(err)
			}
			return Purchase{}, err
		}
		line, err := buildLine(i, in, item)
		if err != nil {
			return Purchase{}, err
		}
		lines = append(lines, line)
	}
	now := s.now()
	p := Purchase{
		UUID:              uuid.New(),
		StoreID:           actor.StoreID,
		VendorID:          vendor.ID,
		VendorName:        vendor.Name,
		BrandID:           input.BrandID,
		InvoiceNo:         input.InvoiceNo,
		InvoiceDate:       input.InvoiceDate,
		Notes:             input.Notes,
		Lines:             lines,
		Status:            initialStatus(),
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentPending,
		CreatedBy:         actor.UserID,
		UpdatedBy:         actor.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	p.POSummary = summarize(p.Lines, StagePO, p.POSummary.RoundOff)
	p.Pricing = creationPricing(p.Lines)
	if input.Pricing != nil {
		p.Pricing = *input.Pricing
	}
	return p, nil
}

// Get returns a purchase of the actor's store.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Purchase, error) {
	return s.load(ctx, actor, id)
}

// Delete removes a purchase whose stock has not been entered.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	var deleted Purchase
	err := s.withLock(ctx, purchaseLockKey(id), func(ctx context.Context) error {
		p, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if p.Status.Completed(StageStockEntry) {
			return ErrStockEntered
		}
		deleted = p
		return s.repo.Delete(ctx, p.ID, p.Version)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PURCHASE_DELETE", deleted, map[string]any{"purchase_id": deleted.PurchaseID})
	return nil
}

// Cancel cancels every stage that is not completed.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (Purchase, error) {
	return s.mutate(ctx, actor, id, "cancel", func(p *Purchase, _ time.Time) (Effects, error) {
		return Effects{}, p.Cancel(actor.UserID)
	})
}

// UpdateLine edits a line of a purchase whose PO is not completed.
func (s *Service) UpdateLine(ctx context.Context, actor shared.Actor, id int64, lineID uuid.UUID, upd LineUpdate) (Purchase, error) {
	return s.mutate(ctx, actor, id, "update_line", func(p *Purchase, _ time.Time) (Effects, error) {
		return Effects{}, p.UpdateLine(actor.UserID, lineID, upd)
	})
}

// UpdatePaymentStatus sets the payment status.
func (s *Service) UpdatePaymentStatus(ctx context.Context, actor shared.Actor, id int64, status PaymentStatus) (Purchase, error) {
	switch status {
	case PaymentPending, PaymentPartial, PaymentPaid:
	default:
		return Purchase{}, shared.Validation("purchasing: payment status must be pending, partial or paid").With("status", status)
	}
	return s.mutate(ctx, actor, id, "payment_status", func(p *Purchase, _ time.Time) (Effects, error) {
		if p.Cancelled() {
			return Effects{}, ErrCancelled
		}
		p.PaymentStatus = status
		return Effects{}, nil
	})
}

// UpdateFulfillmentStatus sets the delivery progress status.
func (s *Service) UpdateFulfillmentStatus(ctx context.Context, actor shared.Actor, id int64, status FulfillmentStatus) (Purchase, error) {
	switch status {
	case FulfillmentPending, FulfillmentInProgress, FulfillmentCompleted:
	default:
		return Purchase{}, shared.Validation("purchasing: fulfillment status must be pending, in-progress or completed").With("status", status)
	}
	return s.mutate(ctx, actor, id, "fulfillment_status", func(p *Purchase, _ time.Time) (Effects, error) {
		if p.Cancelled() {
			return Effects{}, ErrCancelled
		}
		p.FulfillmentStatus = status
		return Effects{}, nil
	})
}

// CompletePO completes the purchase order stage.
func (s *Service) CompletePO(ctx context.Context, actor shared.Actor, id int64, in StageInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StagePO, func(p *Purchase, now time.Time) (Effects, error) {
		return Effects{}, p.CompletePO(actor.UserID, in, now)
	})
}

// CompletePI completes the purchase invoice stage.
func (s *Service) CompletePI(ctx context.Context, actor shared.Actor, id int64, in StageInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StagePI, func(p *Purchase, now time.Time) (Effects, error) {
		return Effects{}, p.CompletePI(actor.UserID, in, now)
	})
}

// CompleteInvoice completes the final invoice stage.
func (s *Service) CompleteInvoice(ctx context.Context, actor shared.Actor, id int64, in StageInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StageInvoice, func(p *Purchase, now time.Time) (Effects, error) {
		return Effects{}, p.CompleteInvoice(actor.UserID, in, now)
	})
}

// CompleteFulfillment completes the fulfillment stage.
func (s *Service) CompleteFulfillment(ctx context.Context, actor shared.Actor, id int64, in FulfillmentInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StageFulfillment, func(p *Purchase, now time.Time) (Effects, error) {
		return Effects{}, p.CompleteFulfillment(actor.UserID, in, now)
	})
}

// CompleteStockEntry records received stock, pushes it into racks and increments item stock.
func (s *Service) CompleteStockEntry(ctx context.Context, actor shared.Actor, id int64, in StockEntryInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StageStockEntry, func(p *Purchase, now time.Time) (Effects, error) {
		return p.CompleteStockEntry(actor.UserID, in, now)
	})
}

// CompleteRackAssignment replaces rack assignments and moves rack stock to match.
func (s *Service) CompleteRackAssignment(ctx context.Context, actor shared.Actor, id int64, in RackAssignmentInput) (Purchase, error) {
	return s.transition(ctx, actor, id, StageRackAssignment, func(p *Purchase, now time.Time) (Effects, error) {
		return p.CompleteRackAssignment(actor.UserID, in, now)
	})
}

// CompleteWorkflow completes several stages at once; all of them apply or none do.
func (s *Service) CompleteWorkflow(ctx context.Context, actor shared.Actor, id int64, in WorkflowInput) (Purchase, []Stage, error) {
	var completed []Stage
	p, err := s.transition(ctx, actor, id, "workflow", func(p *Purchase, now time.Time) (Effects, error) {
		effects, stages, err := p.CompleteWorkflow(actor.UserID, in, now)
		completed = stages
		return effects, err
	})
	if err != nil {
		return Purchase{}, nil, err
	}
	return p, completed, nil
}

// TransferLineStock moves part of a line's racked quantity to another rack.
func (s *Service) TransferLineStock(ctx context.Context, actor shared.Actor, id int64, lineID uuid.UUID, fromRack, toRack, qty int64) (Purchase, error) {
	return s.mutate(ctx, actor, id, "transfer", func(p *Purchase, _ time.Time) (Effects, error) {
		return p.MoveLineStock(actor.UserID, lineID, fromRack, toRack, qty)
	})
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, stage Stage, fn func(*Purchase, time.Time) (Effects, error)) (Purchase, error) {
	p, err := s.mutate(ctx, actor, id, "complete_"+string(stage), fn)
	s.observe(stage, err)
	if err == nil {
		s.logger.Info("purchase stage completed", slog.String("purchase_id", p.PurchaseID), slog.String("stage", string(stage)), slog.Int64("store_id", p.StoreID))
	}
	return p, err
}

// mutate loads the purchase under its lock, applies fn to a copy and persists the copy
// together with its effects in one transaction. A failure leaves the stored purchase unchanged.
func (s *Service) mutate(ctx context.Context, actor shared.Actor, id int64, op string, fn func(*Purchase, time.Time) (Effects, error)) (Purchase, error) {
	ctx, span := tracer.Start(ctx, "purchasing."+op, trace.WithAttributes(
		attribute.Int64("purchase.id", id),
		attribute.Int64("store.id", actor.StoreID),
	))
	defer span.End()

	var out Purchase
	err := s.withLock(ctx, purchaseLockKey(id), func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		now := s.now()
		effects, err := fn(&next, now)
		if err != nil {
			return err
		}
		next.UpdatedBy = actor.UserID
		next.UpdatedAt = now
		return s.inTx(ctx, func(ctx context.Context) error {
			if err := s.applyEffects(ctx, actor, next, effects); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, &next); err != nil {
				return err
			}
			out = next
			return nil
		})
	})
	if err != nil {
		return Purchase{}, s.fail(span, err)
	}
	s.recordAudit(ctx, actor, "PURCHASE_"+strings.ToUpper(op), out, map[string]any{"purchase_id": out.PurchaseID, "status": out.Status})
	return out, nil
}

func (s *Service) applyEffects(ctx context.Context, actor shared.Actor, p Purchase, effects Effects) error {
	if len(effects.Stock) > 0 && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, "stock-entry:"+p.UUID.String(), "purchasing"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errAlreadyCompleted(StageStockEntry)
			}
			return fmt.Errorf("purchasing: idempotency: %w", err)
		}
	}
	for _, delta := range effects.Stock {
		if err := s.masterdata.AdjustStock(ctx, p.StoreID, delta.ItemID, delta.Delta); err != nil {
			return err
		}
	}
	if len(effects.Racks) > 0 && s.racks == nil {
		return errors.New("purchasing: rack ledger not configured")
	}
	for _, move := range effects.Racks {
		var err error
		if move.Quantity > 0 {
			err = s.racks.AddStock(ctx, actor, move.RackID, move.ItemID, move.Quantity, p.PurchaseID)
		} else {
			err = s.racks.RemoveStock(ctx, actor, move.RackID, move.ItemID, -move.Quantity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, actor shared.Actor, id int64) (Purchase, error) {
	if !actor.Valid() {
		return Purchase{}, errNoActor
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Purchase{}, err
	}
	if p.StoreID != actor.StoreID {
		return Purchase{}, ErrForbidden
	}
	return p, nil
}

func (s *Service) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, cache.ErrLockBusy) {
		return ErrLocked
	}
	return err
}

func (s *Service) inTx(ctx context.Context, fn func(context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTransaction(ctx, fn)
}

func (s *Service) observe(stage Stage, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	var domainErr *shared.Error
	switch {
	case errors.As(err, &domainErr):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	s.metrics.RecordTransition(string(stage), result)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, p Purchase, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		StoreID:  actor.StoreID,
		Action:   action,
		Entity:   "purchase",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record purchase audit", slog.String("action", action), slog.Any("error", err))
	}
}

func purchaseLockKey(id int64) string {
	return "purchase:" + strconv.FormatInt(id, 10)
}

var errNoActor = shared.NewError(httpx.ErrUnauthorized, "purchasing: actor with store is required")
