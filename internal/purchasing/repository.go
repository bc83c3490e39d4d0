package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var purchaseColumns = []string{
	"id", "uuid", "purchase_id", "store_id", "vendor_id", "vendor_name", "brand_id",
	"invoice_no", "invoice_date", "notes", "lines", "status", "payment_status",
	"fulfillment_status", "details", "po_summary", "pi_summary", "invoice_summary", "pricing",
	"created_by", "updated_by", "created_at", "updated_at", "version",
}

// Repository provides PostgreSQL backed persistence. Lines, summaries and stage details
// are stored as JSONB documents on the purchases row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type purchaseDocs struct {
	lines, status, details, poSummary, piSummary, invoiceSummary, pricing []byte
}

func encodeDocs(p *Purchase) (purchaseDocs, error) {
	var (
		d   purchaseDocs
		err error
	)
	targets := []struct {
		dst *[]byte
		src any
	}{
		{&d.lines, p.Lines},
		{&d.status, p.Status},
		{&d.details, p.Details},
		{&d.poSummary, p.POSummary},
		{&d.piSummary, p.PISummary},
		{&d.invoiceSummary, p.InvoiceSummary},
		{&d.pricing, p.Pricing},
	}
	for _, t := range targets {
		if *t.dst, err = json.Marshal(t.src); err != nil {
			return purchaseDocs{}, fmt.Errorf("purchasing: encode document: %w", err)
		}
	}
	return d, nil
}

func (d purchaseDocs) decode(p *Purchase) error {
	targets := []struct {
		src []byte
		dst any
	}{
		{d.lines, &p.Lines},
		{d.status, &p.Status},
		{d.details, &p.Details},
		{d.poSummary, &p.POSummary},
		{d.piSummary, &p.PISummary},
		{d.invoiceSummary, &p.InvoiceSummary},
		{d.pricing, &p.Pricing},
	}
	for _, t := range targets {
		if len(t.src) == 0 {
			continue
		}
		if err := json.Unmarshal(t.src, t.dst); err != nil {
			return fmt.Errorf("purchasing: decode document: %w", err)
		}
	}
	return nil
}

// Create inserts a purchase.
func (r *Repository) Create(ctx context.Context, p *Purchase) error {
	docs, err := encodeDocs(p)
	if err != nil {
		return err
	}
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	query, args := psql.Insert("purchases").
		Columns(purchaseColumns[1:23]...).
		Values(p.UUID, p.PurchaseID, p.StoreID, p.VendorID, p.VendorName, p.BrandID,
			p.InvoiceNo, p.InvoiceDate, p.Notes, docs.lines, docs.status, p.PaymentStatus,
			p.FulfillmentStatus, docs.details, docs.poSummary, docs.piSummary, docs.invoiceSummary, docs.pricing,
			p.CreatedBy, p.UpdatedBy, p.CreatedAt, p.UpdatedAt).
		Suffix("RETURNING id, version").MustSql()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&p.ID, &p.Version)
	if db.IsUniqueViolation(err) {
		return ErrDuplicatePurchaseID.With("purchaseId", p.PurchaseID)
	}
	return err
}

// Get loads a purchase by id.
func (r *Repository) Get(ctx context.Context, id int64) (Purchase, error) {
	query, args := psql.Select(purchaseColumns...).From("purchases").
		Where(sq.Eq{"id": id}).MustSql()
	var (
		p    Purchase
		docs purchaseDocs
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.UUID, &p.PurchaseID, &p.StoreID, &p.VendorID, &p.VendorName, &p.BrandID,
		&p.InvoiceNo, &p.InvoiceDate, &p.Notes, &docs.lines, &docs.status, &p.PaymentStatus,
		&p.FulfillmentStatus, &docs.details, &docs.poSummary, &docs.piSummary, &docs.invoiceSummary, &docs.pricing,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	if err != nil {
		return Purchase{}, err
	}
	if err := docs.decode(&p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// Update writes p when its version is current and advances the version.
func (r *Repository) Update(ctx context.Context, p *Purchase) error {
	docs, err := encodeDocs(p)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	query, args := psql.Update("purchases").SetMap(map[string]any{
		"brand_id":           p.BrandID,
		"invoice_no":         p.InvoiceNo,
		"invoice_date":       p.InvoiceDate,
		"notes":              p.Notes,
		"lines":              docs.lines,
		"status":             docs.status,
		"payment_status":     p.PaymentStatus,
		"fulfillment_status": p.FulfillmentStatus,
		"details":            docs.details,
		"po_summary":         docs.poSummary,
		"pi_summary":         docs.piSummary,
		"invoice_summary":    docs.invoiceSummary,
		"pricing":            docs.pricing,
		"updated_by":         p.UpdatedBy,
		"updated_at":         p.UpdatedAt,
		"version":            sq.Expr("version + 1"),
	}).Where(sq.Eq{"id": p.ID, "store_id": p.StoreID, "version": p.Version}).
		Suffix("RETURNING version").MustSql()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&p.Version)
	switch {
	case errors.Is(err, pgx.ErrNoRows), db.IsSerializationFailure(err):
		return ErrConcurrentModification
	case err != nil:
		return err
	}
	return nil
}

// Delete removes the purchase at the given version.
func (r *Repository) Delete(ctx context.Context, id, version int64) error {
	query, args := psql.Delete("purchases").Where(sq.Eq{"id": id, "version": version}).MustSql()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// MaxPurchaseID returns the highest sequential identifier with prefix in the store.
func (r *Repository) MaxPurchaseID(ctx context.Context, storeID int64, prefix string) (string, error) {
	query, args := psql.Select("COALESCE(MAX(purchase_id), '')").From("purchases").
		Where(sq.Eq{"store_id": storeID}).
		Where(sq.Expr("purchase_id ~ ?", "^"+prefix+"[0-9]{4}$")).MustSql()
	var id string
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// PurchaseIDExists reports whether the identifier is taken in the store.
func (r *Repository) PurchaseIDExists(ctx context.Context, storeID int64, purchaseID string) (bool, error) {
	query, args := psql.Select("1").From("purchases").
		Where(sq.Eq{"store_id": storeID, "purchase_id": purchaseID}).Prefix("SELECT EXISTS (").Suffix(")").MustSql()
	var exists bool
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
