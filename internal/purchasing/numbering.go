package purchasing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	purchaseIDPrefix = "PUR"
	sequenceWidth    = 4
	maxSequence      = 9999
)

// SequenceSource answers the queries the identifier generator needs.
type SequenceSource interface {
	// MaxPurchaseID returns the highest id of the form prefix+NNNN for the store, or "".
	MaxPurchaseID(ctx context.Context, storeID int64, prefix string) (string, error)
	PurchaseIDExists(ctx context.Context, storeID int64, purchaseID string) (bool, error)
}

// Numberer mints PUR+YYYYMMDD+NNNN identifiers per store and calendar day.
type Numberer struct {
	source SequenceSource
	loc    *time.Location
}

// NewNumberer builds a Numberer evaluating calendar days in loc (UTC when nil).
func NewNumberer(source SequenceSource, loc *time.Location) *Numberer {
	if loc == nil {
		loc = time.UTC
	}
	return &Numberer{source: source, loc: loc}
}

// DayPrefix returns the identifier prefix for t.
func (n *Numberer) DayPrefix(t time.Time) string {
	return purchaseIDPrefix + t.In(n.loc).Format("20060102")
}

// LockKey names the redis lock serialising minting for the store-day containing at.
func (n *Numberer) LockKey(storeID int64, at time.Time) string {
	return fmt.Sprintf("purchase-id:%d:%s", storeID, n.DayPrefix(at)[len(purchaseIDPrefix):])
}

// Next returns the next free identifier for the store-day containing at. Callers pass the
// same instant they locked with.
func (n *Numberer) Next(ctx context.Context, storeID int64, at time.Time) (string, error) {
	prefix := n.DayPrefix(at)
	last, err := n.source.MaxPurchaseID(ctx, storeID, prefix)
	if err != nil {
		return "", fmt.Errorf("purchasing: max purchase id: %w", err)
	}
	seq := parseSequence(last, prefix) + 1
	if seq <= maxSequence {
		candidate := fmt.Sprintf("%s%0*d", prefix, sequenceWidth, seq)
		exists, err := n.source.PurchaseIDExists(ctx, storeID, candidate)
		if err != nil {
			return "", fmt.Errorf("purchasing: check purchase id: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return prefix + strconv.FormatInt(at.UnixMilli(), 10), nil
}

func parseSequence(id, prefix string) int {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || len(suffix) != sequenceWidth {
		return 0
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return seq
}

// IsSequential reports whether id follows the prefix+NNNN form.
func IsSequential(id, prefix string) bool {
	return parseSequence(id, prefix) > 0
}
