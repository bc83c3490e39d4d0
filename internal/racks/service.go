package racks

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var tracer = otel.Tracer("odyssey-pos/racks")

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	// Create inserts r and assigns ID and Version.
	Create(ctx context.Context, r *Rack) error
	Get(ctx context.Context, id int64) (Rack, error)
	// Update persists r when the stored version matches r.Version and bumps it.
	Update(ctx context.Context, r *Rack) error
	Delete(ctx context.Context, id, version int64) error
	ListActive(ctx context.Context, storeID int64) ([]Rack, error)
	StoreIDs(ctx context.Context) ([]int64, error)
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

// AlertRecorder counts triggered alerts.
type AlertRecorder interface {
	RecordRackAlert(alertType, severity string)
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repo    RepositoryPort
	Tx      TxManager
	Locker  Locker
	Audit   AuditPort
	Metrics AlertRecorder
	Logger  *slog.Logger
	// ScanConcurrency bounds the stores scanned in parallel by ScanAlerts.
	ScanConcurrency int
}

// Service maintains the rack ledger.
type Service struct {
	repo            RepositoryPort
	tx              TxManager
	locker          Locker
	audit           AuditPort
	metrics         AlertRecorder
	logger          *slog.Logger
	scanConcurrency int
	now             func() time.Time
}

// NewService constructs the rack service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := deps.ScanConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		repo:            deps.Repo,
		tx:              deps.Tx,
		locker:          deps.Locker,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		logger:          logger,
		scanConcurrency: concurrency,
		now:             time.Now,
	}
}

// CreateInput describes a new rack.
type CreateInput struct {
	Code     string
	Name     string
	Location string
	Category string
	Type     string
	Tags     []string
	Capacity int64
	Alerts   AlertConfig
}

// UpdateInput changes rack metadata; nil fields are left untouched.
type UpdateInput struct {
	Name     *string
	Location *string
	Category *string
	Type     *string
	Tags     []string
	Capacity *int64
	Alerts   *AlertConfig
	Active   *bool
}

func validateAlerts(cfg AlertConfig) error {
	if cfg.OverCapacity.Enabled && cfg.OverCapacity.ThresholdPercent <= 0 {
		return shared.Validation("racks: over-capacity threshold must be positive")
	}
	if cfg.LowStock.Enabled && cfg.LowStock.Threshold < 0 {
		return shared.Validation("racks: low-stock threshold must not be negative")
	}
	if cfg.Temperature.Enabled && cfg.Temperature.Min > cfg.Temperature.Max {
		return shared.Validation("racks: temperature min must not exceed max")
	}
	return nil
}

// CreateRack registers a rack; codes are unique per store.
func (s *Service) CreateRack(ctx context.Context, actor shared.Actor, in CreateInput) (Rack, error) {
	if !actor.Valid() {
		return Rack{}, errNoActor
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Rack{}, shared.Validation("racks: code is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return Rack{}, shared.Validation("racks: name is required")
	}
	if in.Capacity <= 0 {
		return Rack{}, shared.Validation("racks: capacity must be positive")
	}
	if err := validateAlerts(in.Alerts); err != nil {
		return Rack{}, err
	}
	now := s.now()
	r := Rack{
		StoreID:   actor.StoreID,
		Code:      code,
		Name:      strings.TrimSpace(in.Name),
		Location:  in.Location,
		Category:  in.Category,
		Type:      in.Type,
		Tags:      in.Tags,
		Capacity:  in.Capacity,
		Alerts:    in.Alerts,
		Active:    true,
		CreatedBy: actor.UserID,
		UpdatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.inTx(ctx, func(ctx context.Context) error { return s.repo.Create(ctx, &r) }); err != nil {
		return Rack{}, err
	}
	s.recordAudit(ctx, actor, "RACK_CREATE", r, map[string]any{"code": r.Code, "capacity": r.Capacity})
	return r, nil
}

// GetRack returns a rack of the actor's store.
func (s *Service) GetRack(ctx context.Context, actor shared.Actor, id int64) (Rack, error) {
	return s.load(ctx, actor, id)
}

// UpdateRack changes metadata, capacity or alert rules.
func (s *Service) UpdateRack(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (Rack, error) {
	if in.Alerts != nil {
		if err := validateAlerts(*in.Alerts); err != nil {
			return Rack{}, err
		}
	}
	if in.Capacity != nil && *in.Capacity <= 0 {
		return Rack{}, shared.Validation("racks: capacity must be positive")
	}
	return s.mutate(ctx, actor, id, "update", func(r *Rack, _ time.Time) error {
		if in.Name != nil {
			r.Name = *in.Name
		}
		if in.Location != nil {
			r.Location = *in.Location
		}
		if in.Category != nil {
			r.Category = *in.Category
		}
		if in.Type != nil {
			r.Type = *in.Type
		}
		if in.Tags != nil {
			r.Tags = in.Tags
		}
		if in.Capacity != nil {
			r.Capacity = *in.Capacity
		}
		if in.Alerts != nil {
			r.Alerts = *in.Alerts
		}
		if in.Active != nil {
			r.Active = *in.Active
		}
		return nil
	})
}

// DeleteRack removes an empty rack.
func (s *Service) DeleteRack(ctx context.Context, actor shared.Actor, id int64) error {
	var deleted Rack
	err := s.withLock(ctx, rackLockKey(id), func(ctx context.Context) error {
		r, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if len(r.Items) > 0 {
			return ErrNotEmpty.With("items", len(r.Items))
		}
		deleted = r
		return s.inTx(ctx, func(ctx context.Context) error { return s.repo.Delete(ctx, r.ID, r.Version) })
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "RACK_DELETE", deleted, map[string]any{"code": deleted.Code})
	return nil
}

// ReserveSpace holds qty units of the rack.
func (s *Service) ReserveSpace(ctx context.Context, actor shared.Actor, id, qty int64) (Rack, error) {
	if qty <= 0 {
		return Rack{}, shared.Validation("racks: quantity must be positive")
	}
	return s.mutate(ctx, actor, id, "reserve", func(r *Rack, _ time.Time) error {
		available := r.AvailableSpace()
		if !r.ReserveSpace(qty) {
			return errInsufficientSpace(available, qty)
		}
		return nil
	})
}

// ReleaseReservedSpace frees reserved units; over-release clamps at zero.
func (s *Service) ReleaseReservedSpace(ctx context.Context, actor shared.Actor, id, qty int64) (Rack, error) {
	if qty <= 0 {
		return Rack{}, shared.Validation("racks: quantity must be positive")
	}
	return s.mutate(ctx, actor, id, "release", func(r *Rack, _ time.Time) error {
		r.ReleaseReservedSpace(qty)
		return nil
	})
}

// AddItem places qty units of an item into the rack when they fit.
func (s *Service) AddItem(ctx context.Context, actor shared.Actor, id, itemID, qty int64, purchaseID string) (Rack, error) {
	if err := validateMove(itemID, qty); err != nil {
		return Rack{}, err
	}
	return s.mutate(ctx, actor, id, "add_item", func(r *Rack, now time.Time) error {
		return add(r, itemID, qty, purchaseID, now)
	})
}

// RemoveItem takes qty units of an item out of the rack.
func (s *Service) RemoveItem(ctx context.Context, actor shared.Actor, id, itemID, qty int64) (Rack, error) {
	if err := validateMove(itemID, qty); err != nil {
		return Rack{}, err
	}
	return s.mutate(ctx, actor, id, "remove_item", func(r *Rack, now time.Time) error {
		return remove(r, itemID, qty, now)
	})
}

// AddStock implements the purchasing rack port.
func (s *Service) AddStock(ctx context.Context, actor shared.Actor, rackID, itemID, qty int64, purchaseID string) error {
	_, err := s.AddItem(ctx, actor, rackID, itemID, qty, purchaseID)
	return err
}

// RemoveStock implements the purchasing rack port.
func (s *Service) RemoveStock(ctx context.Context, actor shared.Actor, rackID, itemID, qty int64) error {
	_, err := s.RemoveItem(ctx, actor, rackID, itemID, qty)
	return err
}

// Transfer moves qty units of an item between two racks of the store in one transaction.
func (s *Service) Transfer(ctx context.Context, actor shared.Actor, fromID, toID, itemID, qty int64) (Rack, Rack, error) {
	if err := validateMove(itemID, qty); err != nil {
		return Rack{}, Rack{}, err
	}
	if fromID == toID {
		return Rack{}, Rack{}, shared.Validation("racks: source and destination rack must differ")
	}
	var from, to Rack
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		var batches []Batch
		from, err = s.mutate(ctx, actor, fromID, "transfer_out", func(r *Rack, now time.Time) error {
			taken, ok := r.TakeItem(itemID, qty, now)
			if !ok {
				return ErrItemShortage.With("rackId", r.ID).With("item", itemID).With("requested", qty)
			}
			batches = taken
			return nil
		})
		if err != nil {
			return err
		}
		to, err = s.mutate(ctx, actor, toID, "transfer_in", func(r *Rack, now time.Time) error {
			if !r.CanAccommodate(qty) {
				return errInsufficientSpace(r.AvailableSpace(), qty).With("rackId", r.ID)
			}
			for _, b := range batches {
				r.AddItem(itemID, b.Quantity, b.PurchaseID, now)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return Rack{}, Rack{}, err
	}
	return from, to, nil
}

// RecordTemperature stores a temperature reading.
func (s *Service) RecordTemperature(ctx context.Context, actor shared.Actor, id int64, celsius float64) (Rack, []Alert, error) {
	r, err := s.mutate(ctx, actor, id, "temperature", func(r *Rack, now time.Time) error {
		t, at := celsius, now
		r.Temperature = &t
		r.TemperatureAt = &at
		return nil
	})
	if err != nil {
		return Rack{}, nil, err
	}
	return r, r.CheckAlerts(), nil
}

// UpsertZone creates or resizes a zone.
func (s *Service) UpsertZone(ctx context.Context, actor shared.Actor, id int64, code, name string, capacity int64) (Rack, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Rack{}, shared.Validation("racks: zone code is required")
	}
	if capacity < 0 {
		return Rack{}, shared.Validation("racks: zone capacity must not be negative")
	}
	return s.mutate(ctx, actor, id, "upsert_zone", func(r *Rack, _ time.Time) error {
		r.UpsertZone(code, name, capacity)
		return nil
	})
}

// AddZoneItem places qty units into a zone when they fit its own budget.
func (s *Service) AddZoneItem(ctx context.Context, actor shared.Actor, id int64, code string, itemID, qty int64, purchaseID string) (Rack, error) {
	if err := validateMove(itemID, qty); err != nil {
		return Rack{}, err
	}
	return s.mutate(ctx, actor, id, "add_zone_item", func(r *Rack, now time.Time) error {
		z, ok := r.Zone(code)
		if !ok {
			return ErrZoneNotFound.With("zone", code)
		}
		if z.Capacity > 0 && z.AvailableSpace() < qty {
			return errInsufficientSpace(z.AvailableSpace(), qty).With("zone", code)
		}
		z.AddItem(itemID, qty, purchaseID, now)
		return nil
	})
}

// RemoveZoneItem takes qty units out of a zone.
func (s *Service) RemoveZoneItem(ctx context.Context, actor shared.Actor, id int64, code string, itemID, qty int64) (Rack, error) {
	if err := validateMove(itemID, qty); err != nil {
		return Rack{}, err
	}
	return s.mutate(ctx, actor, id, "remove_zone_item", func(r *Rack, now time.Time) error {
		z, ok := r.Zone(code)
		if !ok {
			return ErrZoneNotFound.With("zone", code)
		}
		if !z.RemoveItem(itemID, qty, now) {
			return ErrItemShortage.With("zone", code).With("item", itemID).With("requested", qty)
		}
		return nil
	})
}

// Alerts evaluates the alert rules of one rack.
func (s *Service) Alerts(ctx context.Context, actor shared.Actor, id int64) ([]Alert, error) {
	r, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return r.CheckAlerts(), nil
}

// RackAlerts pairs a rack with its triggered alerts.
type RackAlerts struct {
	RackID  int64
	StoreID int64
	Code    string
	Alerts  []Alert
}

// ScanAlerts evaluates the active racks of every store, scanning stores in parallel.
func (s *Service) ScanAlerts(ctx context.Context) ([]RackAlerts, error) {
	ctx, span := tracer.Start(ctx, "racks.scan_alerts")
	defer span.End()

	stores, err := s.repo.StoreIDs(ctx)
	if err != nil {
		return nil, s.fail(span, err)
	}
	results := make([][]RackAlerts, len(stores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scanConcurrency)
	for i, storeID := range stores {
		g.Go(func() error {
			racks, err := s.repo.ListActive(gctx, storeID)
			if err != nil {
				return err
			}
			for _, r := range racks {
				if alerts := r.CheckAlerts(); len(alerts) > 0 {
					results[i] = append(results[i], RackAlerts{RackID: r.ID, StoreID: r.StoreID, Code: r.Code, Alerts: alerts})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(span, err)
	}
	var out []RackAlerts
	for _, perStore := range results {
		for _, ra := range perStore {
			for _, a := range ra.Alerts {
				if s.metrics != nil {
					s.metrics.RecordRackAlert(string(a.Type), string(a.Severity))
				}
				s.logger.Warn("rack alert", slog.Int64("store_id", ra.StoreID), slog.String("rack", ra.Code),
					slog.String("type", string(a.Type)), slog.String("severity", string(a.Severity)), slog.String("message", a.Message))
			}
			out = append(out, ra)
		}
	}
	span.SetAttributes(attribute.Int("racks.alerting", len(out)))
	return out, nil
}

func add(r *Rack, itemID, qty int64, purchaseID string, now time.Time) error {
	if !r.CanAccommodate(qty) {
		return errInsufficientSpace(r.AvailableSpace(), qty).With("rackId", r.ID)
	}
	r.AddItem(itemID, qty, purchaseID, now)
	return nil
}

func remove(r *Rack, itemID, qty int64, now time.Time) error {
	if !r.RemoveItem(itemID, qty, now) {
		return ErrItemShortage.With("rackId", r.ID).With("item", itemID).With("requested", qty)
	}
	return nil
}

func validateMove(itemID, qty int64) error {
	if itemID <= 0 {
		return shared.Validation("racks: item is required")
	}
	if qty <= 0 {
		return shared.Validation("racks: quantity must be positive")
	}
	return nil
}

// mutate loads the rack under its lock, applies fn to a copy, enforces the capacity
// invariant and persists the copy. A failure leaves the stored rack unchanged.
func (s *Service) mutate(ctx context.Context, actor shared.Actor, id int64, op string, fn func(*Rack, time.Time) error) (Rack, error) {
	ctx, span := tracer.Start(ctx, "racks."+op, trace.WithAttributes(
		attribute.Int64("rack.id", id),
		attribute.Int64("store.id", actor.StoreID),
	))
	defer span.End()

	var out Rack
	err := s.withLock(ctx, rackLockKey(id), func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		now := s.now()
		if err := fn(&next, now); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedBy = actor.UserID
		next.UpdatedAt = now
		if err := s.inTx(ctx, func(ctx context.Context) error { return s.repo.Update(ctx, &next) }); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Rack{}, s.fail(span, err)
	}
	s.recordAudit(ctx, actor, "RACK_"+strings.ToUpper(op), out, map[string]any{
		"occupancy": out.CurrentOccupancy,
		"reserved":  out.ReservedSpace,
	})
	return out, nil
}

func (s *Service) load(ctx context.Context, actor shared.Actor, id int64) (Rack, error) {
	if !actor.Valid() {
		return Rack{}, errNoActor
	}
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return Rack{}, err
	}
	if r.StoreID != actor.StoreID {
		return Rack{}, ErrForbidden
	}
	return r, nil
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

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, r Rack, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		StoreID:  actor.StoreID,
		Action:   action,
		Entity:   "rack",
		EntityID: strconv.FormatInt(r.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record rack audit", slog.String("action", action), slog.Any("error", err))
	}
}

func rackLockKey(id int64) string {
	return "rack:" + strconv.FormatInt(id, 10)
}

var errNoActor = shared.NewError(httpx.ErrUnauthorized, "racks: actor with store is required")
