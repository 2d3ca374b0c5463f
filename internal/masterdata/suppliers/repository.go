package suppliers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error)
	Get(ctx context.Context, id int64) (Supplier, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Create(ctx context.Context, s Supplier) (Supplier, error)
	LockByID(ctx context.Context, id int64) (Supplier, error)
	Update(ctx context.Context, s Supplier) error
	CountPurchaseOrders(ctx context.Context, id int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

type txRepository struct {
	tx     pgx.Tx
	tenant string
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, name, contact_name, email, phone, address, active, created_at, updated_at`

func scan(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Name, &s.ContactName, &s.Email, &s.Phone, &s.Address, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, tenant: internalShared.TenantFromContext(ctx)})
	})
}

// List uses a dynamic query due to filter complexity
func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error) {
	where, args := filters.Where(internalShared.TenantFromContext(ctx), internalShared.FoldName(filters.Search))
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM supplier WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM supplier WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		columns, where, filters.OrderBy("created_at", "email"), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Supplier{}
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Supplier, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM supplier WHERE tenant_id=$1 AND id=$2`,
		internalShared.TenantFromContext(ctx), id))
}

func (t *txRepository) Create(ctx context.Context, s Supplier) (Supplier, error) {
	created, err := scan(t.tx.QueryRow(ctx, `INSERT INTO supplier (tenant_id, name, name_key, contact_name, email, phone, address, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+columns,
		t.tenant, s.Name, internalShared.FoldName(s.Name), s.ContactName, s.Email, s.Phone, s.Address, s.Active))
	return created, uniqueName(err)
}

func (t *txRepository) LockByID(ctx context.Context, id int64) (Supplier, error) {
	return scan(t.tx.QueryRow(ctx, `SELECT `+columns+` FROM supplier WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, t.tenant, id))
}

func (t *txRepository) Update(ctx context.Context, s Supplier) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier SET name=$3, name_key=$4, contact_name=$5, email=$6, phone=$7, address=$8, active=$9, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, t.tenant, s.ID, s.Name, internalShared.FoldName(s.Name), s.ContactName, s.Email, s.Phone, s.Address, s.Active)
	return uniqueName(err)
}

func (t *txRepository) CountPurchaseOrders(ctx context.Context, id int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_order WHERE tenant_id=$1 AND supplier_id=$2`, t.tenant, id).Scan(&n)
	return n, err
}

func (t *txRepository) Delete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM supplier WHERE tenant_id=$1 AND id=$2`, t.tenant, id)
	return err
}

func uniqueName(err error) error {
	if db.IsUniqueViolationOf(err, "supplier_name_key") {
		return internalShared.NewValidationError("name", "a supplier with this name already exists")
	}
	return err
}
