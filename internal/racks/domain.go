// Package racks keeps the capacity ledger of physical storage racks: occupancy, reserved
// space, the items each rack holds, zone sub-ledgers and alert evaluation.
package racks

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Item is the rack's record of a quantity it holds, per originating purchase.
type Item struct {
	ItemID     int64     `json:"item"`
	Quantity   int64     `json:"quantity"`
	PurchaseID string    `json:"purchaseId,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Batch is a quantity of one item traced to the purchase it arrived with.
type Batch struct {
	PurchaseID string
	Quantity   int64
}

// Zone is a sub-ledger with its own budget, independent of the rack capacity.
type Zone struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Capacity  int64  `json:"capacity"`
	Occupancy int64  `json:"occupancy"`
	Items     []Item `json:"items"`
}

// OverCapacityAlert triggers when occupancy reaches ThresholdPercent of capacity.
type OverCapacityAlert struct {
	Enabled          bool    `json:"enabled"`
	ThresholdPercent float64 `json:"thresholdPercent"`
}

// LowStockAlert triggers when the total held quantity drops to Threshold or below.
type LowStockAlert struct {
	Enabled   bool  `json:"enabled"`
	Threshold int64 `json:"threshold"`
}

// TemperatureAlert triggers when the last reading leaves [Min, Max].
type TemperatureAlert struct {
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// AlertConfig holds the independently enabled alert rules of a rack.
type AlertConfig struct {
	OverCapacity OverCapacityAlert `json:"overCapacity"`
	LowStock     LowStockAlert     `json:"lowStock"`
	Temperature  TemperatureAlert  `json:"temperature"`
}

// AlertType names an alert rule.
type AlertType string

const (
	AlertOverCapacity AlertType = "over_capacity"
	AlertLowStock     AlertType = "low_stock"
	AlertTemperature  AlertType = "temperature"
)

// Severity grades a triggered alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one triggered rule.
type Alert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// Rack is a physical storage location.
type Rack struct {
	ID       int64
	StoreID  int64
	Code     string
	Name     string
	Location string
	Category string
	Type     string
	Tags     []string

	Capacity         int64
	CurrentOccupancy int64
	ReservedSpace    int64
	Items            []Item
	Zones            []Zone
	Alerts           AlertConfig

	Temperature    *float64
	TemperatureAt  *time.Time
	LastStockEntry *time.Time
	Active         bool

	CreatedBy int64
	UpdatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Clone returns a deep copy.
func (r Rack) Clone() Rack {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Items = append([]Item(nil), r.Items...)
	if r.Zones != nil {
		out.Zones = make([]Zone, len(r.Zones))
		for i, z := range r.Zones {
			z.Items = append([]Item(nil), z.Items...)
			out.Zones[i] = z
		}
	}
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	return out
}

// AvailableSpace is capacity minus occupancy and reservations, never negative.
func (r *Rack) AvailableSpace() int64 {
	return max(0, r.Capacity-r.CurrentOccupancy-r.ReservedSpace)
}

// OccupancyPercentage is occupancy relative to capacity.
func (r *Rack) OccupancyPercentage() float64 {
	if r.Capacity <= 0 {
		return 0
	}
	return float64(r.CurrentOccupancy) / float64(r.Capacity) * 100
}

// TotalItems sums the quantities held.
func (r *Rack) TotalItems() int64 {
	return sumItems(r.Items)
}

// CanAccommodate reports whether qty more units fit.
func (r *Rack) CanAccommodate(qty int64) bool {
	return r.AvailableSpace() >= qty
}

// AddItem merges qty into the (item, purchase) entry and raises occupancy. It does not
// check capacity; callers use CanAccommodate first.
func (r *Rack) AddItem(itemID, qty int64, purchaseID string, now time.Time) {
	r.Items = addItem(r.Items, itemID, qty, purchaseID, now)
	r.CurrentOccupancy += qty
	at := now
	r.LastStockEntry = &at
}

// RemoveItem takes qty of the item out of the rack, oldest entries first. It reports false
// and changes nothing when the rack holds less than qty of the item.
func (r *Rack) RemoveItem(itemID, qty int64, now time.Time) bool {
	_, ok := r.TakeItem(itemID, qty, now)
	return ok
}

// TakeItem is RemoveItem that also returns the batches the units came from, in the
// order they were consumed.
func (r *Rack) TakeItem(itemID, qty int64, now time.Time) ([]Batch, bool) {
	items, taken, ok := removeItem(r.Items, itemID, qty, now)
	if !ok {
		return nil, false
	}
	r.Items = items
	r.CurrentOccupancy -= qty
	return taken, true
}

// ReserveSpace holds qty units when they fit.
func (r *Rack) ReserveSpace(qty int64) bool {
	if qty < 0 || !r.CanAccommodate(qty) {
		return false
	}
	r.ReservedSpace += qty
	return true
}

// ReleaseReservedSpace frees qty reserved units, clamped at zero.
func (r *Rack) ReleaseReservedSpace(qty int64) {
	r.ReservedSpace = max(0, r.ReservedSpace-qty)
}

// Recompute derives rack and zone occupancy from their item lists.
func (r *Rack) Recompute() {
	r.CurrentOccupancy = sumItems(r.Items)
	for i := range r.Zones {
		r.Zones[i].Occupancy = sumItems(r.Zones[i].Items)
	}
}

// Validate recomputes occupancy and rejects a rack whose occupancy and reservations
// exceed its capacity. Zones are checked against their own capacity only.
func (r *Rack) Validate() error {
	r.Recompute()
	if r.Capacity > 0 && r.CurrentOccupancy+r.ReservedSpace > r.Capacity {
		return ErrCapacity.
			With("capacity", r.Capacity).
			With("occupancy", r.CurrentOccupancy).
			With("reserved", r.ReservedSpace)
	}
	for _, z := range r.Zones {
		if z.Capacity > 0 && z.Occupancy > z.Capacity {
			return ErrCapacity.With("zone", z.Code).With("capacity", z.Capacity).With("occupancy", z.Occupancy)
		}
	}
	return nil
}

// CheckAlerts evaluates every enabled rule against the current state.
func (r *Rack) CheckAlerts() []Alert {
	var alerts []Alert
	cfg := r.Alerts
	if cfg.OverCapacity.Enabled {
		pct := r.OccupancyPercentage()
		if pct >= cfg.OverCapacity.ThresholdPercent {
			severity := SeverityWarning
			if pct >= 100 {
				severity = SeverityCritical
			}
			alerts = append(alerts, Alert{
				Type:      AlertOverCapacity,
				Severity:  severity,
				Message:   fmt.Sprintf("rack %s is %.1f%% full", r.Code, pct),
				Value:     pct,
				Threshold: cfg.OverCapacity.ThresholdPercent,
			})
		}
	}
	if cfg.LowStock.Enabled {
		total := r.TotalItems()
		if total <= cfg.LowStock.Threshold {
			alerts = append(alerts, Alert{
				Type:      AlertLowStock,
				Severity:  SeverityInfo,
				Message:   fmt.Sprintf("rack %s holds %d units", r.Code, total),
				Value:     float64(total),
				Threshold: float64(cfg.LowStock.Threshold),
			})
		}
	}
	if cfg.Temperature.Enabled && r.Temperature != nil {
		t := *r.Temperature
		if t < cfg.Temperature.Min || t > cfg.Temperature.Max {
			threshold := cfg.Temperature.Max
			if t < cfg.Temperature.Min {
				threshold = cfg.Temperature.Min
			}
			alerts = append(alerts, Alert{
				Type:      AlertTemperature,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("rack %s temperature %.1f outside %.1f..%.1f", r.Code, t, cfg.Temperature.Min, cfg.Temperature.Max),
				Value:     t,
				Threshold: threshold,
			})
		}
	}
	return alerts
}

// Zone returns the zone with the given code.
func (r *Rack) Zone(code string) (*Zone, bool) {
	for i := range r.Zones {
		if r.Zones[i].Code == code {
			return &r.Zones[i], true
		}
	}
	return nil, false
}

// UpsertZone creates or resizes a zone.
func (r *Rack) UpsertZone(code, name string, capacity int64) {
	if z, ok := r.Zone(code); ok {
		if name != "" {
			z.Name = name
		}
		z.Capacity = capacity
		return
	}
	r.Zones = append(r.Zones, Zone{Code: code, Name: name, Capacity: capacity})
}

// AvailableSpace is the zone budget left, never negative.
func (z *Zone) AvailableSpace() int64 {
	return max(0, z.Capacity-z.Occupancy)
}

// AddItem merges qty into the zone.
func (z *Zone) AddItem(itemID, qty int64, purchaseID string, now time.Time) {
	z.Items = addItem(z.Items, itemID, qty, purchaseID, now)
	z.Occupancy += qty
}

// RemoveItem takes qty out of the zone, reporting false when it holds less.
func (z *Zone) RemoveItem(itemID, qty int64, now time.Time) bool {
	items, _, ok := removeItem(z.Items, itemID, qty, now)
	if !ok {
		return false
	}
	z.Items = items
	z.Occupancy -= qty
	return true
}

func addItem(items []Item, itemID, qty int64, purchaseID string, now time.Time) []Item {
	for i := range items {
		if items[i].ItemID == itemID && items[i].PurchaseID == purchaseID {
			items[i].Quantity += qty
			items[i].UpdatedAt = now
			return items
		}
	}
	return append(items, Item{ItemID: itemID, Quantity: qty, PurchaseID: purchaseID, AssignedAt: now, UpdatedAt: now})
}

func removeItem(items []Item, itemID, qty int64, now time.Time) ([]Item, []Batch, bool) {
	var held int64
	for _, it := range items {
		if it.ItemID == itemID {
			held += it.Quantity
		}
	}
	if held == 0 || held < qty {
		return items, nil, false
	}
	out := make([]Item, 0, len(items))
	var taken []Batch
	remaining := qty
	for _, it := range items {
		if it.ItemID == itemID && remaining > 0 {
			take := min(it.Quantity, remaining)
			it.Quantity -= take
			it.UpdatedAt = now
			remaining -= take
			taken = append(taken, Batch{PurchaseID: it.PurchaseID, Quantity: take})
		}
		if it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out, taken, true
}

func sumItems(items []Item) int64 {
	var sum int64
	for _, it := range items {
		sum += it.Quantity
	}
	return sum
}

var (
	ErrNotFound               = shared.NotFound("racks: rack not found")
	ErrZoneNotFound           = shared.NotFound("racks: zone not found")
	ErrForbidden              = shared.NewError(httpx.ErrForbidden, "racks: rack belongs to another store")
	ErrDuplicateCode          = shared.NewError(httpx.ErrDuplicate, "racks: rack code already exists")
	ErrConcurrentModification = shared.NewError(httpx.ErrConflict, "racks: rack was modified concurrently")
	ErrCapacity               = shared.NewError(httpx.ErrCapacity, "racks: insufficient space")
	ErrItemShortage           = shared.Validation("racks: rack does not hold the requested quantity")
	ErrNotEmpty               = shared.Precondition("racks: rack still holds items")
	ErrLocked                 = shared.NewError(httpx.ErrConflict, "racks: rack is being modified by another request")
)

func errInsufficientSpace(available, requested int64) *shared.Error {
	return ErrCapacity.With("available", available).With("requested", requested)
}
