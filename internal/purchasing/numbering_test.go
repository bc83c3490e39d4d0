package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSequence struct {
	max   string
	taken map[string]bool
}

func (s stubSequence) MaxPurchaseID(ctx context.Context, storeID int64, prefix string) (string, error) {
	return s.max, nil
}

func (s stubSequence) PurchaseIDExists(ctx context.Context, storeID int64, purchaseID string) (bool, error) {
	return s.taken[purchaseID], nil
}

func TestNumberer(t *testing.T) {
	now := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		seq  stubSequence
		want string
	}{
		{"first of day", stubSequence{}, "PUR202603040001"},
		{"increments max", stubSequence{max: "PUR202603040041"}, "PUR202603040042"},
		{"collision falls back to timestamp", stubSequence{max: "PUR202603040041", taken: map[string]bool{"PUR202603040042": true}}, "PUR20260304" + "1772667000000"},
		{"exhausted sequence falls back to timestamp", stubSequence{max: "PUR202603049999"}, "PUR20260304" + "1772667000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNumberer(tc.seq, nil)
			got, err := n.Next(context.Background(), 1, now)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNumbererUsesStoreLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	n := NewNumberer(stubSequence{}, loc)
	at := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	got, err := n.Next(context.Background(), 1, at)
	require.NoError(t, err)
	require.Equal(t, "PUR202603050001", got)
	require.Equal(t, "purchase-id:1:20260305", n.LockKey(1, at))
}

func TestLockKeyAndIdentifierShareTheDay(t *testing.T) {
	n := NewNumberer(stubSequence{}, nil)
	at := time.Date(2026, 3, 4, 23, 59, 59, 999_000_000, time.UTC)
	key := n.LockKey(7, at)
	got, err := n.Next(context.Background(), 7, at)
	require.NoError(t, err)
	require.Equal(t, "purchase-id:7:20260304", key)
	require.Equal(t, "PUR202603040001", got)
	require.Equal(t, key[len("purchase-id:7:"):], got[len(purchaseIDPrefix):len(purchaseIDPrefix)+8])
}

func TestParseSequence(t *testing.T) {
	require.True(t, IsSequential("PUR202603040007", "PUR20260304"))
	require.False(t, IsSequential("PUR202603041772667000000", "PUR20260304"))
	require.False(t, IsSequential("PUR202603030007", "PUR20260304"))
}
