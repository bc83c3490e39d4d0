package masterdata

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository reads master records scoped to a store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetVendor resolves a vendor in the store.
func (r *Repository) GetVendor(ctx context.Context, storeID, id int64) (Vendor, error) {
	query, args := psql.Select("id", "store_id", "name").From("vendors").
		Where(sq.Eq{"id": id, "store_id": storeID}).MustSql()
	var v Vendor
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&v.ID, &v.StoreID, &v.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, ErrVendorNotFound
	}
	return v, err
}

// GetBrand resolves a brand in the store.
func (r *Repository) GetBrand(ctx context.Context, storeID, id int64) (Brand, error) {
	query, args := psql.Select("id", "store_id", "name").From("brands").
		Where(sq.Eq{"id": id, "store_id": storeID}).MustSql()
	var b Brand
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&b.ID, &b.StoreID, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Brand{}, ErrBrandNotFound
	}
	return b, err
}

// GetItem resolves an item in the store.
func (r *Repository) GetItem(ctx context.Context, storeID, id int64) (Item, error) {
	query, args := psql.Select("id", "store_id", "name", "COALESCE(hsn, '')", "purchase_price", "mrp", "stock").
		From("items").Where(sq.Eq{"id": id, "store_id": storeID}).MustSql()
	var it Item
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).
		Scan(&it.ID, &it.StoreID, &it.Name, &it.HSN, &it.PurchasePrice, &it.MRP, &it.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

// AdjustStock applies a signed delta to the item's global stock counter.
func (r *Repository) AdjustStock(ctx context.Context, storeID, id int64, delta int64) error {
	query, args := psql.Update("items").
		Set("stock", sq.Expr("stock + ?", delta)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "store_id": storeID}).MustSql()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
