package purchasing

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/racks"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// rackStore is an in-memory racks.RepositoryPort for running purchasing against the
// real rack ledger.
type rackStore struct {
	racks  map[int64]racks.Rack
	nextID int64
}

func (s *rackStore) Create(ctx context.Context, r *racks.Rack) error {
	s.nextID++
	r.ID = s.nextID
	r.Version = 1
	s.racks[r.ID] = r.Clone()
	return nil
}

func (s *rackStore) Get(ctx context.Context, id int64) (racks.Rack, error) {
	r, ok := s.racks[id]
	if !ok {
		return racks.Rack{}, racks.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *rackStore) Update(ctx context.Context, r *racks.Rack) error {
	stored, ok := s.racks[r.ID]
	if !ok || stored.Version != r.Version {
		return racks.ErrConcurrentModification
	}
	r.Version++
	s.racks[r.ID] = r.Clone()
	return nil
}

func (s *rackStore) Delete(ctx context.Context, id, version int64) error {
	delete(s.racks, id)
	return nil
}

func (s *rackStore) ListActive(ctx context.Context, storeID int64) ([]racks.Rack, error) {
	var out []racks.Rack
	for _, r := range s.racks {
		if r.StoreID == storeID && r.Active {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *rackStore) StoreIDs(ctx context.Context) ([]int64, error) {
	return []int64{1}, nil
}

func (s *rackStore) snapshot() map[int64]racks.Rack {
	out := make(map[int64]racks.Rack, len(s.racks))
	for id, r := range s.racks {
		out[id] = r.Clone()
	}
	return out
}

// ledgerTx rolls back purchases, item counters, idempotency keys and racks together.
type ledgerTx struct {
	repo  *memoryRepo
	md    *memoryMasterData
	store *rackStore
	idem  *memoryIdempotency
}

func (t *ledgerTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	purchases := t.repo.snapshot()
	items := maps.Clone(t.md.items)
	stored := t.store.snapshot()
	keys := maps.Clone(t.idem.keys)
	if err := fn(ctx); err != nil {
		t.repo.purchases = purchases
		t.md.items = items
		t.store.racks = stored
		t.idem.keys = keys
		return err
	}
	return nil
}

func withRackLedger(t *testing.T) (*fixture, *racks.Service) {
	t.Helper()
	f := newFixture(t)
	store := &rackStore{racks: map[int64]racks.Rack{}}
	idem := &memoryIdempotency{keys: map[string]bool{}}
	tx := &ledgerTx{repo: f.repo, md: f.md, store: store, idem: idem}
	ledger := racks.NewService(racks.Deps{Repo: store, Tx: tx})
	f.svc = NewService(Deps{
		Repo:        f.repo,
		MasterData:  f.md,
		Racks:       ledger,
		Tx:          tx,
		Idempotency: idem,
		Metrics:     f.metrics,
	})
	f.svc.now = func() time.Time { return f.now }
	return f, ledger
}

func newRack(t *testing.T, ledger *racks.Service, actor shared.Actor, code string, capacity int64) racks.Rack {
	t.Helper()
	r, err := ledger.CreateRack(context.Background(), actor, racks.CreateInput{Code: code, Name: "Rack " + code, Capacity: capacity})
	require.NoError(t, err)
	return r
}

func TestStockEntryHonoursRackReservations(t *testing.T) {
	ctx := context.Background()
	f, ledger := withRackLedger(t)
	cold := newRack(t, ledger, f.actor, "COLD-1", 10)
	dry := newRack(t, ledger, f.actor, "DRY-1", 10)
	_, err := ledger.ReserveSpace(ctx, f.actor, cold.ID, 6)
	require.NoError(t, err)

	p := f.invoiced(t)
	lineID := p.Lines[0].ID
	before := f.stored(t, p.ID)

	_, err = f.svc.CompleteStockEntry(ctx, f.actor, p.ID, StockEntryInput{Lines: []StockEntryLine{
		{LineID: lineID, ReceivedQty: qty(10), Racks: []RackAssignment{{RackID: dry.ID, Quantity: 5}, {RackID: cold.ID, Quantity: 5}}},
	}})
	require.ErrorIs(t, err, httpx.ErrCapacity)
	var domainErr *shared.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, int64(4), domainErr.Details["available"])
	require.Equal(t, int64(5), domainErr.Details["requested"])

	require.Equal(t, before, f.stored(t, p.ID))
	require.Zero(t, f.md.items[11].Stock)
	untouched, err := ledger.GetRack(ctx, f.actor, dry.ID)
	require.NoError(t, err)
	require.Zero(t, untouched.CurrentOccupancy)
	require.Empty(t, untouched.Items)

	out, err := f.svc.CompleteStockEntry(ctx, f.actor, p.ID, StockEntryInput{Lines: []StockEntryLine{
		{LineID: lineID, ReceivedQty: qty(10), Racks: []RackAssignment{{RackID: cold.ID, Quantity: 4}, {RackID: dry.ID, Quantity: 6}}},
	}})
	require.NoError(t, err)
	require.Equal(t, int64(10), f.md.items[11].Stock)

	coldNow, err := ledger.GetRack(ctx, f.actor, cold.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), coldNow.CurrentOccupancy)
	require.Equal(t, int64(6), coldNow.ReservedSpace)
	require.Zero(t, coldNow.AvailableSpace())
	require.Equal(t, out.PurchaseID, coldNow.Items[0].PurchaseID)
}

func TestRackAssignmentMovesStockInRackLedger(t *testing.T) {
	ctx := context.Background()
	f, ledger := withRackLedger(t)
	cold := newRack(t, ledger, f.actor, "COLD-1", 10)
	dry := newRack(t, ledger, f.actor, "DRY-1", 10)

	p := f.invoiced(t)
	lineID := p.Lines[0].ID
	_, err := f.svc.CompleteStockEntry(ctx, f.actor, p.ID, StockEntryInput{Lines: []StockEntryLine{
		{LineID: lineID, ReceivedQty: qty(10), Racks: []RackAssignment{{RackID: cold.ID, Quantity: 4}, {RackID: dry.ID, Quantity: 6}}},
	}})
	require.NoError(t, err)

	out, err := f.svc.CompleteRackAssignment(ctx, f.actor, p.ID, RackAssignmentInput{Lines: []RackAssignmentLine{
		{LineID: lineID, Racks: []RackAssignment{{RackID: dry.ID, Quantity: 10}}},
	}})
	require.NoError(t, err)
	require.Equal(t, []RackAssignment{{RackID: dry.ID, Quantity: 10}}, out.Lines[0].Racks)

	coldNow, err := ledger.GetRack(ctx, f.actor, cold.ID)
	require.NoError(t, err)
	require.Zero(t, coldNow.CurrentOccupancy)
	dryNow, err := ledger.GetRack(ctx, f.actor, dry.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), dryNow.CurrentOccupancy)
	require.Zero(t, dryNow.AvailableSpace())
}
