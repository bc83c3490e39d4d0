package racks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func TestReserveSpaceRespectsCapacity(t *testing.T) {
	r := Rack{Code: "A1", Capacity: 50}

	require.True(t, r.ReserveSpace(30))
	require.False(t, r.ReserveSpace(25))
	require.Equal(t, int64(30), r.ReservedSpace)
	require.Equal(t, int64(20), r.AvailableSpace())

	r.ReleaseReservedSpace(30)
	require.Zero(t, r.ReservedSpace)
	require.Equal(t, int64(50), r.AvailableSpace())

	r.ReleaseReservedSpace(10)
	require.Zero(t, r.ReservedSpace)
}

func TestAvailableSpaceNeverNegative(t *testing.T) {
	r := Rack{Capacity: 10, CurrentOccupancy: 8, ReservedSpace: 5}
	require.Zero(t, r.AvailableSpace())
	require.False(t, r.CanAccommodate(1))
	require.True(t, r.CanAccommodate(0))
}

func TestAddAndRemoveItems(t *testing.T) {
	r := Rack{Capacity: 100}
	r.AddItem(11, 5, "p-1", testNow)
	r.AddItem(11, 3, "p-2", testNow.Add(time.Hour))
	r.AddItem(11, 2, "p-1", testNow.Add(2*time.Hour))
	require.Len(t, r.Items, 2)
	require.Equal(t, int64(10), r.CurrentOccupancy)
	require.Equal(t, int64(10), r.TotalItems())
	require.NotNil(t, r.LastStockEntry)

	require.False(t, r.RemoveItem(11, 11, testNow))
	require.False(t, r.RemoveItem(12, 1, testNow))
	require.Equal(t, int64(10), r.CurrentOccupancy)

	require.True(t, r.RemoveItem(11, 8, testNow))
	require.Equal(t, int64(2), r.CurrentOccupancy)
	require.Len(t, r.Items, 1)
	require.Equal(t, "p-2", r.Items[0].PurchaseID)
	require.Equal(t, int64(2), r.Items[0].Quantity)
}

func TestTakeItemReportsConsumedBatches(t *testing.T) {
	r := Rack{Capacity: 100}
	r.AddItem(11, 5, "PUR-OLD", testNow)
	r.AddItem(11, 5, "PUR-NEW", testNow.Add(time.Hour))

	taken, ok := r.TakeItem(11, 7, testNow)
	require.True(t, ok)
	require.Equal(t, []Batch{{PurchaseID: "PUR-OLD", Quantity: 5}, {PurchaseID: "PUR-NEW", Quantity: 2}}, taken)
	require.Equal(t, int64(3), r.CurrentOccupancy)

	taken, ok = r.TakeItem(11, 4, testNow)
	require.False(t, ok)
	require.Nil(t, taken)
	require.Equal(t, int64(3), r.CurrentOccupancy)
}

func TestValidateRecomputesOccupancy(t *testing.T) {
	r := Rack{Capacity: 10, Items: []Item{{ItemID: 1, Quantity: 6}}, ReservedSpace: 3}
	require.NoError(t, r.Validate())
	require.Equal(t, int64(6), r.CurrentOccupancy)

	r.ReservedSpace = 5
	err := r.Validate()
	require.ErrorIs(t, err, ErrCapacity)
}

func TestZonesAreIndependentBudgets(t *testing.T) {
	r := Rack{Capacity: 5}
	r.UpsertZone("Z1", "Cold", 20)
	z, ok := r.Zone("Z1")
	require.True(t, ok)
	z.AddItem(1, 15, "", testNow)
	require.Equal(t, int64(5), z.AvailableSpace())
	require.NoError(t, r.Validate())
	require.Zero(t, r.CurrentOccupancy)

	z.AddItem(1, 6, "", testNow)
	require.ErrorIs(t, r.Validate(), ErrCapacity)

	require.True(t, z.RemoveItem(1, 6, testNow))
	require.False(t, z.RemoveItem(1, 16, testNow))

	r.UpsertZone("Z1", "", 30)
	z, _ = r.Zone("Z1")
	require.Equal(t, "Cold", z.Name)
	require.Equal(t, int64(30), z.Capacity)
}

func TestCheckAlerts(t *testing.T) {
	hot := 9.5
	r := Rack{
		Code:             "C1",
		Capacity:         10,
		CurrentOccupancy: 10,
		Items:            []Item{{ItemID: 1, Quantity: 10}},
		Temperature:      &hot,
		Alerts: AlertConfig{
			OverCapacity: OverCapacityAlert{Enabled: true, ThresholdPercent: 80},
			LowStock:     LowStockAlert{Enabled: true, Threshold: 2},
			Temperature:  TemperatureAlert{Enabled: true, Min: 2, Max: 8},
		},
	}

	alerts := r.CheckAlerts()
	require.Len(t, alerts, 2)
	require.Equal(t, AlertOverCapacity, alerts[0].Type)
	require.Equal(t, SeverityCritical, alerts[0].Severity)
	require.Equal(t, AlertTemperature, alerts[1].Type)
	require.Equal(t, 8.0, alerts[1].Threshold)

	r.CurrentOccupancy = 8
	r.Items = []Item{{ItemID: 1, Quantity: 2}}
	cool := 4.0
	r.Temperature = &cool
	alerts = r.CheckAlerts()
	require.Len(t, alerts, 2)
	require.Equal(t, SeverityWarning, alerts[0].Severity)
	require.Equal(t, AlertLowStock, alerts[1].Type)
	require.Equal(t, SeverityInfo, alerts[1].Severity)

	r.Alerts = AlertConfig{}
	require.Empty(t, r.CheckAlerts())
}

func TestCloneIsDeep(t *testing.T) {
	temp := 3.0
	r := Rack{
		Tags:        []string{"dry"},
		Items:       []Item{{ItemID: 1, Quantity: 1}},
		Zones:       []Zone{{Code: "Z", Items: []Item{{ItemID: 1, Quantity: 1}}}},
		Temperature: &temp,
	}
	c := r.Clone()
	c.Tags[0] = "wet"
	c.Items[0].Quantity = 9
	c.Zones[0].Items[0].Quantity = 9
	*c.Temperature = 7

	require.Equal(t, "dry", r.Tags[0])
	require.Equal(t, int64(1), r.Items[0].Quantity)
	require.Equal(t, int64(1), r.Zones[0].Items[0].Quantity)
	require.Equal(t, 3.0, *r.Temperature)
}
