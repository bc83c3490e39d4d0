package racks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var rackColumns = []string{
	"id", "store_id", "code", "name", "location", "category", "type", "tags",
	"capacity", "current_occupancy", "reserved_space", "items", "zones", "alerts",
	"temperature", "temperature_at", "last_stock_entry", "active",
	"created_by", "updated_by", "created_at", "updated_at", "version",
}

// Repository provides PostgreSQL backed persistence for racks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func encodeRack(r *Rack) (items, zones, alerts []byte, err error) {
	if items, err = json.Marshal(nonNil(r.Items)); err != nil {
		return nil, nil, nil, fmt.Errorf("racks: encode items: %w", err)
	}
	if zones, err = json.Marshal(nonNil(r.Zones)); err != nil {
		return nil, nil, nil, fmt.Errorf("racks: encode zones: %w", err)
	}
	if alerts, err = json.Marshal(r.Alerts); err != nil {
		return nil, nil, nil, fmt.Errorf("racks: encode alerts: %w", err)
	}
	return items, zones, alerts, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Create inserts a rack.
func (r *Repository) Create(ctx context.Context, rack *Rack) error {
	items, zones, alerts, err := encodeRack(rack)
	if err != nil {
		return err
	}
	query, args := psql.Insert("racks").
		Columns(rackColumns[1:22]...).
		Values(rack.StoreID, rack.Code, rack.Name, rack.Location, rack.Category, rack.Type, nonNil(rack.Tags),
			rack.Capacity, rack.CurrentOccupancy, rack.ReservedSpace, items, zones, alerts,
			rack.Temperature, rack.TemperatureAt, rack.LastStockEntry, rack.Active,
			rack.CreatedBy, rack.UpdatedBy, rack.CreatedAt, rack.UpdatedAt).
		Suffix("RETURNING id, version").MustSql()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&rack.ID, &rack.Version)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode.With("code", rack.Code)
	}
	return err
}

func scanRack(row pgx.Row) (Rack, error) {
	var (
		rack                 Rack
		items, zones, alerts []byte
	)
	err := row.Scan(
		&rack.ID, &rack.StoreID, &rack.Code, &rack.Name, &rack.Location, &rack.Category, &rack.Type, &rack.Tags,
		&rack.Capacity, &rack.CurrentOccupancy, &rack.ReservedSpace, &items, &zones, &alerts,
		&rack.Temperature, &rack.TemperatureAt, &rack.LastStockEntry, &rack.Active,
		&rack.CreatedBy, &rack.UpdatedBy, &rack.CreatedAt, &rack.UpdatedAt, &rack.Version,
	)
	if err != nil {
		return Rack{}, err
	}
	for _, doc := range []struct {
		src []byte
		dst any
	}{{items, &rack.Items}, {zones, &rack.Zones}, {alerts, &rack.Alerts}} {
		if len(doc.src) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.src, doc.dst); err != nil {
			return Rack{}, fmt.Errorf("racks: decode document: %w", err)
		}
	}
	return rack, nil
}

// Get loads a rack by id.
func (r *Repository) Get(ctx context.Context, id int64) (Rack, error) {
	query, args := psql.Select(rackColumns...).From("racks").Where(sq.Eq{"id": id}).MustSql()
	rack, err := scanRack(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rack{}, ErrNotFound
	}
	return rack, err
}

// Update writes rack when its version is current and advances the version.
func (r *Repository) Update(ctx context.Context, rack *Rack) error {
	items, zones, alerts, err := encodeRack(rack)
	if err != nil {
		return err
	}
	query, args := psql.Update("racks").SetMap(map[string]any{
		"name":              rack.Name,
		"location":          rack.Location,
		"category":          rack.Category,
		"type":              rack.Type,
		"tags":              nonNil(rack.Tags),
		"capacity":          rack.Capacity,
		"current_occupancy": rack.CurrentOccupancy,
		"reserved_space":    rack.ReservedSpace,
		"items":             items,
		"zones":             zones,
		"alerts":            alerts,
		"temperature":       rack.Temperature,
		"temperature_at":    rack.TemperatureAt,
		"last_stock_entry":  rack.LastStockEntry,
		"active":            rack.Active,
		"updated_by":        rack.UpdatedBy,
		"updated_at":        rack.UpdatedAt,
		"version":           sq.Expr("version + 1"),
	}).Where(sq.Eq{"id": rack.ID, "store_id": rack.StoreID, "version": rack.Version}).
		Suffix("RETURNING version").MustSql()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&rack.Version)
	switch {
	case errors.Is(err, pgx.ErrNoRows), db.IsSerializationFailure(err):
		return ErrConcurrentModification
	case err != nil:
		return err
	}
	return nil
}

// Delete removes the rack at the given version.
func (r *Repository) Delete(ctx context.Context, id, version int64) error {
	query, args := psql.Delete("racks").Where(sq.Eq{"id": id, "version": version}).MustSql()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ListActive returns the active racks of a store ordered by code.
func (r *Repository) ListActive(ctx context.Context, storeID int64) ([]Rack, error) {
	query, args := psql.Select(rackColumns...).From("racks").
		Where(sq.Eq{"store_id": storeID, "active": true}).OrderBy("code").MustSql()
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rack
	for rows.Next() {
		rack, err := scanRack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rack)
	}
	return out, rows.Err()
}

// StoreIDs lists the stores owning at least one active rack.
func (r *Repository) StoreIDs(ctx context.Context) ([]int64, error) {
	query, args := psql.Select("DISTINCT store_id").From("racks").
		Where(sq.Eq{"active": true}).OrderBy("store_id").MustSql()
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
