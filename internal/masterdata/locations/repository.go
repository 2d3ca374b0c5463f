package locations

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

// Repository persists locations.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error)
	Get(ctx context.Context, id int64) (Location, error)
	GetDefault(ctx context.Context) (Location, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, loc Location) (Location, error)
	LockByID(ctx context.Context, id int64) (Location, error)
	Update(ctx context.Context, loc Location) error
	ClearDefault(ctx context.Context) error
	MarkDefault(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

type txRepository struct {
	tx     pgx.Tx
	tenant string
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, name, address, is_default, active, created_at, updated_at`

func scan(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.IsDefault, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrLocationNotFound
	}
	return l, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, tenant: internalShared.TenantFromContext(ctx)})
	})
}

// List uses a dynamic query due to filter complexity
func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	where, args := filters.Where(internalShared.TenantFromContext(ctx), internalShared.FoldName(filters.Search))
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM location WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM location WHERE %s ORDER BY is_default DESC, %s LIMIT $%d OFFSET $%d`,
		columns, where, filters.OrderBy("created_at"), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Location{}
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Location, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM location WHERE tenant_id=$1 AND id=$2`,
		internalShared.TenantFromContext(ctx), id))
}

func (r *repository) GetDefault(ctx context.Context) (Location, error) {
	l, err := scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM location WHERE tenant_id=$1 AND is_default`,
		internalShared.TenantFromContext(ctx)))
	if errors.Is(err, ErrLocationNotFound) {
		return Location{}, ErrNoDefault
	}
	return l, err
}

func (t *txRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM location WHERE tenant_id=$1`, t.tenant).Scan(&n)
	return n, err
}

func (t *txRepository) Create(ctx context.Context, loc Location) (Location, error) {
	created, err := scan(t.tx.QueryRow(ctx, `INSERT INTO location (tenant_id, name, name_key, address, is_default, active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+columns,
		t.tenant, loc.Name, internalShared.FoldName(loc.Name), loc.Address, loc.IsDefault, loc.Active))
	return created, uniqueName(err)
}

func (t *txRepository) LockByID(ctx context.Context, id int64) (Location, error) {
	return scan(t.tx.QueryRow(ctx, `SELECT `+columns+` FROM location WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, t.tenant, id))
}

func (t *txRepository) Update(ctx context.Context, loc Location) error {
	_, err := t.tx.Exec(ctx, `UPDATE location SET name=$3, name_key=$4, address=$5, active=$6, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, t.tenant, loc.ID, loc.Name, internalShared.FoldName(loc.Name), loc.Address, loc.Active)
	return uniqueName(err)
}

func (t *txRepository) ClearDefault(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `UPDATE location SET is_default=FALSE, updated_at=NOW() WHERE tenant_id=$1 AND is_default`, t.tenant)
	return err
}

func (t *txRepository) MarkDefault(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE location SET is_default=TRUE, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, t.tenant, id)
	return err
}

func (t *txRepository) Delete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM location WHERE tenant_id=$1 AND id=$2`, t.tenant, id)
	return err
}

func uniqueName(err error) error {
	if db.IsUniqueViolationOf(err, "location_name_key") {
		return internalShared.NewValidationError("name", "a location with this name already exists")
	}
	return err
}
