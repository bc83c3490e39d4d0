package racks

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	racks  map[int64]Rack
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{racks: make(map[int64]Rack)}
}

func (r *memoryRepo) Create(ctx context.Context, rack *Rack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.racks {
		if existing.StoreID == rack.StoreID && existing.Code == rack.Code {
			return ErrDuplicateCode
		}
	}
	r.nextID++
	rack.ID = r.nextID
	rack.Version = 1
	r.racks[rack.ID] = rack.Clone()
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Rack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rack, ok := r.racks[id]
	if !ok {
		return Rack{}, ErrNotFound
	}
	return rack.Clone(), nil
}

func (r *memoryRepo) Update(ctx context.Context, rack *Rack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.racks[rack.ID]
	if !ok || stored.Version != rack.Version {
		return ErrConcurrentModification
	}
	rack.Version++
	r.racks[rack.ID] = rack.Clone()
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.racks[id]
	if !ok || stored.Version != version {
		return ErrConcurrentModification
	}
	delete(r.racks, id)
	return nil
}

func (r *memoryRepo) ListActive(ctx context.Context, storeID int64) ([]Rack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Rack
	for _, rack := range r.racks {
		if rack.StoreID == storeID && rack.Active {
			out = append(out, rack.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) StoreIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, rack := range r.racks {
		if !seen[rack.StoreID] {
			seen[rack.StoreID] = true
			out = append(out, rack.StoreID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *memoryRepo) snapshot() map[int64]Rack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]Rack, len(r.racks))
	for id, rack := range r.racks {
		out[id] = rack.Clone()
	}
	return out
}

func (r *memoryRepo) restore(racks map[int64]Rack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.racks = racks
}

// memoryTx restores the repo when the callback fails, like a database rollback.
type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(saved)
		return err
	}
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type countingAlerts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingAlerts) RecordRackAlert(alertType, severity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[alertType+":"+severity]++
}

type fixture struct {
	svc    *Service
	repo   *memoryRepo
	audit  *memoryAudit
	alerts *countingAlerts
	actor  shared.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMemoryRepo(),
		audit:  &memoryAudit{},
		alerts: &countingAlerts{counts: map[string]int{}},
		actor:  shared.Actor{UserID: 42, StoreID: 1},
	}
	f.svc = NewService(Deps{
		Repo:    f.repo,
		Tx:      &memoryTx{repo: f.repo},
		Audit:   f.audit,
		Metrics: f.alerts,
	})
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) rack(t *testing.T, code string, capacity int64) Rack {
	t.Helper()
	r, err := f.svc.CreateRack(context.Background(), f.actor, CreateInput{Code: code, Name: "Rack " + code, Capacity: capacity})
	require.NoError(t, err)
	return r
}

func TestCreateRackValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing code", CreateInput{Name: "A", Capacity: 1}},
		{"missing name", CreateInput{Code: "A", Capacity: 1}},
		{"zero capacity", CreateInput{Code: "A", Name: "A"}},
		{"bad temperature range", CreateInput{Code: "A", Name: "A", Capacity: 1, Alerts: AlertConfig{
			Temperature: TemperatureAlert{Enabled: true, Min: 8, Max: 2},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRack(ctx, f.actor, tc.in)
			require.ErrorIs(t, err, httpx.ErrValidation)
		})
	}

	_, err := f.svc.CreateRack(ctx, shared.Actor{}, CreateInput{Code: "A", Name: "A", Capacity: 1})
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	f.rack(t, "A1", 10)
	_, err = f.svc.CreateRack(ctx, f.actor, CreateInput{Code: "A1", Name: "Again", Capacity: 10})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestReserveThenOverReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 50)

	r, err := f.svc.ReserveSpace(ctx, f.actor, r.ID, 30)
	require.NoError(t, err)
	require.Equal(t, int64(30), r.ReservedSpace)

	_, err = f.svc.ReserveSpace(ctx, f.actor, r.ID, 25)
	require.ErrorIs(t, err, ErrCapacity)
	var domainErr *shared.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, int64(20), domainErr.Details["available"])
	require.Equal(t, int64(25), domainErr.Details["requested"])

	stored, err := f.svc.GetRack(ctx, f.actor, r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), stored.ReservedSpace)

	released, err := f.svc.ReleaseReservedSpace(ctx, f.actor, r.ID, 40)
	require.NoError(t, err)
	require.Zero(t, released.ReservedSpace)
	require.Equal(t, int64(50), released.AvailableSpace())
}

func TestAddItemAgainstReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 10)

	_, err := f.svc.ReserveSpace(ctx, f.actor, r.ID, 6)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, f.actor, r.ID, 11, 5, "pur-1")
	require.ErrorIs(t, err, httpx.ErrCapacity)

	r, err = f.svc.AddItem(ctx, f.actor, r.ID, 11, 4, "pur-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), r.CurrentOccupancy)
	require.Zero(t, r.AvailableSpace())

	_, err = f.svc.RemoveItem(ctx, f.actor, r.ID, 11, 5)
	require.ErrorIs(t, err, ErrItemShortage)

	r, err = f.svc.RemoveItem(ctx, f.actor, r.ID, 11, 4)
	require.NoError(t, err)
	require.Empty(t, r.Items)
	require.Zero(t, r.CurrentOccupancy)
}

func TestStoreScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 10)
	other := shared.Actor{UserID: 7, StoreID: 2}

	_, err := f.svc.GetRack(ctx, other, r.ID)
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = f.svc.AddItem(ctx, other, r.ID, 11, 1, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = f.svc.GetRack(ctx, f.actor, 999)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestTransferIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.rack(t, "A1", 10)
	to := f.rack(t, "B1", 3)

	_, err := f.svc.AddItem(ctx, f.actor, from.ID, 11, 6, "pur-1")
	require.NoError(t, err)

	_, _, err = f.svc.Transfer(ctx, f.actor, from.ID, to.ID, 11, 5)
	require.ErrorIs(t, err, httpx.ErrCapacity)
	stored, err := f.svc.GetRack(ctx, f.actor, from.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), stored.CurrentOccupancy, "failed transfer must not drain the source")

	src, dst, err := f.svc.Transfer(ctx, f.actor, from.ID, to.ID, 11, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), src.CurrentOccupancy)
	require.Equal(t, int64(3), dst.CurrentOccupancy)
	require.Equal(t, "pur-1", dst.Items[0].PurchaseID)

	_, _, err = f.svc.Transfer(ctx, f.actor, from.ID, from.ID, 11, 1)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestTransferKeepsBatchOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.rack(t, "A1", 20)
	to := f.rack(t, "B1", 20)

	_, err := f.svc.AddItem(ctx, f.actor, from.ID, 11, 5, "PUR-OLD")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, f.actor, from.ID, 11, 5, "PUR-NEW")
	require.NoError(t, err)

	src, dst, err := f.svc.Transfer(ctx, f.actor, from.ID, to.ID, 11, 7)
	require.NoError(t, err)
	require.Len(t, src.Items, 1)
	require.Equal(t, "PUR-NEW", src.Items[0].PurchaseID)
	require.Equal(t, int64(3), src.Items[0].Quantity)
	require.Len(t, dst.Items, 2)
	require.Equal(t, "PUR-OLD", dst.Items[0].PurchaseID)
	require.Equal(t, int64(5), dst.Items[0].Quantity)
	require.Equal(t, "PUR-NEW", dst.Items[1].PurchaseID)
	require.Equal(t, int64(2), dst.Items[1].Quantity)
	require.Equal(t, int64(7), dst.CurrentOccupancy)
}

func TestDeleteOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 10)

	_, err := f.svc.AddItem(ctx, f.actor, r.ID, 11, 2, "")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.DeleteRack(ctx, f.actor, r.ID), httpx.ErrPrecondition)

	_, err = f.svc.RemoveItem(ctx, f.actor, r.ID, 11, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteRack(ctx, f.actor, r.ID))

	_, err = f.svc.GetRack(ctx, f.actor, r.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Equal(t, []string{"RACK_CREATE", "RACK_ADD_ITEM", "RACK_REMOVE_ITEM", "RACK_DELETE"}, f.audit.actions())
}

func TestUpdateRackCannotShrinkBelowOccupancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 10)
	_, err := f.svc.AddItem(ctx, f.actor, r.ID, 11, 8, "")
	require.NoError(t, err)

	small := int64(5)
	_, err = f.svc.UpdateRack(ctx, f.actor, r.ID, UpdateInput{Capacity: &small})
	require.ErrorIs(t, err, ErrCapacity)

	larger, name := int64(20), "Dry goods"
	r, err = f.svc.UpdateRack(ctx, f.actor, r.ID, UpdateInput{Capacity: &larger, Name: &name})
	require.NoError(t, err)
	require.Equal(t, int64(20), r.Capacity)
	require.Equal(t, "Dry goods", r.Name)
}

func TestZoneOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rack(t, "A1", 5)

	_, err := f.svc.AddZoneItem(ctx, f.actor, r.ID, "Z1", 11, 1, "")
	require.ErrorIs(t, err, ErrZoneNotFound)

	_, err = f.svc.UpsertZone(ctx, f.actor, r.ID, "Z1", "Cold", 10)
	require.NoError(t, err)
	r, err = f.svc.AddZoneItem(ctx, f.actor, r.ID, "Z1", 11, 8, "")
	require.NoError(t, err)
	z, _ := r.Zone("Z1")
	require.Equal(t, int64(8), z.Occupancy)
	require.Zero(t, r.CurrentOccupancy)

	_, err = f.svc.AddZoneItem(ctx, f.actor, r.ID, "Z1", 11, 3, "")
	require.ErrorIs(t, err, httpx.ErrCapacity)

	r, err = f.svc.RemoveZoneItem(ctx, f.actor, r.ID, "Z1", 11, 8)
	require.NoError(t, err)
	z, _ = r.Zone("Z1")
	require.Zero(t, z.Occupancy)
}

func TestRecordTemperatureAndScanAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.CreateRack(ctx, f.actor, CreateInput{
		Code: "C1", Name: "Chiller", Capacity: 10,
		Alerts: AlertConfig{Temperature: TemperatureAlert{Enabled: true, Min: 2, Max: 8}},
	})
	require.NoError(t, err)
	f.rack(t, "A1", 10)
	_, err = f.svc.CreateRack(ctx, shared.Actor{UserID: 7, StoreID: 2}, CreateInput{
		Code: "L1", Name: "Low", Capacity: 10,
		Alerts: AlertConfig{LowStock: LowStockAlert{Enabled: true, Threshold: 0}},
	})
	require.NoError(t, err)

	_, alerts, err := f.svc.RecordTemperature(ctx, f.actor, r.ID, 11.5)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, AlertTemperature, alerts[0].Type)

	found, err := f.svc.ScanAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "C1", found[0].Code)
	require.Equal(t, "L1", found[1].Code)
	require.Equal(t, 1, f.alerts.counts["temperature:critical"])
	require.Equal(t, 1, f.alerts.counts["low_stock:info"])
}
