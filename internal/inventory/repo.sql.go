package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// idempotencyModule scopes ledger keys in idempotency_keys.
const idempotencyModule = "inventory"

// Repository persists inventory data in PostgreSQL. Every query is scoped to
// the tenant carried by ctx.
type Repository struct {
	pool *pgxpool.Pool
	idem *shared.IdempotencyStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, idem: shared.NewIdempotencyStore(pool)}
}

type txRepository struct {
	tx     pgx.Tx
	tenant string
	idem   *shared.IdempotencyStore
}

// WithTx executes the callback inside a READ COMMITTED transaction, joining
// one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, tenant: shared.TenantFromContext(ctx), idem: r.idem})
	})
}

const itemColumns = `id, product_id, location_id, quantity, reserved_quantity, reorder_point, reorder_quantity, cost_price, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.ProductID, &item.LocationID, &item.Quantity, &item.ReservedQuantity,
		&item.ReorderPoint, &item.ReorderQuantity, &item.CostPrice, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

// GetItem loads an item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_item WHERE tenant_id=$1 AND id=$2`,
		shared.TenantFromContext(ctx), id))
}

// ListItems filters items, ordered by product then location.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	where, args := itemWhere(shared.TenantFromContext(ctx), filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_item WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_item WHERE %s
ORDER BY product_id, location_id
LIMIT $%d OFFSET $%d`, itemColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func itemWhere(tenant string, filter ItemFilter) (string, []any) {
	clauses := []string{"tenant_id=$1"}
	args := []any{tenant}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id=$%d", len(args)))
	}
	if filter.LocationID != nil {
		args = append(args, *filter.LocationID)
		clauses = append(clauses, fmt.Sprintf("location_id=$%d", len(args)))
	}
	if filter.LowStock {
		clauses = append(clauses, "reorder_point IS NOT NULL AND quantity <= reorder_point")
	}
	return strings.Join(clauses, " AND "), args
}

// StockLevel aggregates a product across locations.
func (r *Repository) StockLevel(ctx context.Context, productID int64) (StockLevel, error) {
	rows, err := r.pool.Query(ctx, `SELECT location_id, quantity, reserved_quantity FROM inventory_item
WHERE tenant_id=$1 AND product_id=$2 ORDER BY location_id`, shared.TenantFromContext(ctx), productID)
	if err != nil {
		return StockLevel{}, err
	}
	defer rows.Close()
	var locs []LocationStock
	for rows.Next() {
		var ls LocationStock
		if err := rows.Scan(&ls.LocationID, &ls.Quantity, &ls.Reserved); err != nil {
			return StockLevel{}, err
		}
		ls.Available = ls.Quantity - ls.Reserved
		locs = append(locs, ls)
	}
	if err := rows.Err(); err != nil {
		return StockLevel{}, err
	}
	return aggregateStock(productID, locs), nil
}

func aggregateStock(productID int64, locs []LocationStock) StockLevel {
	level := StockLevel{ProductID: productID, Locations: []LocationStock{}}
	for _, ls := range locs {
		level.Quantity += ls.Quantity
		level.Reserved += ls.Reserved
		level.Available += ls.Available
		level.Locations = append(level.Locations, ls)
	}
	return level
}

const movementColumns = `id, inventory_item_id, product_id, location_id, type, quantity, previous_quantity, new_quantity,
reserved_delta, previous_reserved, new_reserved, reference_type, reference_id, reason, user_id, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m     Movement
		refID *int64
	)
	if err := row.Scan(&m.ID, &m.ItemID, &m.ProductID, &m.LocationID, &m.Type, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity,
		&m.ReservedDelta, &m.PreviousReserved, &m.NewReserved, &m.Reference.Type, &refID, &m.Reason, &m.UserID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	if refID != nil {
		m.Reference.ID = *refID
	}
	return m, nil
}

// GetMovement loads one ledger entry by id.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movement WHERE tenant_id=$1 AND id=$2`,
		shared.TenantFromContext(ctx), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	return m, err
}

// ListMovements returns ledger entries newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{shared.TenantFromContext(ctx)}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProductID != nil {
		add("product_id=$%d", *filter.ProductID)
	}
	if filter.LocationID != nil {
		add("location_id=$%d", *filter.LocationID)
	}
	if filter.ItemID != nil {
		add("inventory_item_id=$%d", *filter.ItemID)
	}
	if filter.ReferenceType != "" {
		add("reference_type=$%d", string(filter.ReferenceType))
	}
	if filter.ReferenceID != nil {
		add("reference_id=$%d", *filter.ReferenceID)
	}
	if filter.Type != "" {
		add("type=$%d", string(filter.Type))
	}
	where := strings.Join(clauses, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_movement WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_movement WHERE %s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, movementColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// ListReservations returns the reservation rows held by ref.
func (r *Repository) ListReservations(ctx context.Context, ref Reference) ([]Reservation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, product_id, location_id, quantity, updated_at FROM reservation
WHERE tenant_id=$1 AND reference_type=$2 AND reference_id=$3
ORDER BY product_id, location_id`, shared.TenantFromContext(ctx), string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Reservation{}
	for rows.Next() {
		res := Reservation{Reference: ref}
		if err := rows.Scan(&res.ID, &res.ProductID, &res.LocationID, &res.Quantity, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// LowStockCounts reports, per tenant, how many items sit at or below their
// reorder point. Used by the background scan, which runs without a tenant.
func (r *Repository) LowStockCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, COUNT(*) FROM inventory_item
WHERE reorder_point IS NOT NULL AND quantity <= reorder_point
GROUP BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var (
			tenant string
			n      int
		)
		if err := rows.Scan(&tenant, &n); err != nil {
			return nil, err
		}
		counts[tenant] = n
	}
	return counts, rows.Err()
}

// CountItemsAtLocation reports how many inventory rows reference a location.
func (r *Repository) CountItemsAtLocation(ctx context.Context, locationID int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM inventory_item WHERE tenant_id=$1 AND location_id=$2`,
		shared.TenantFromContext(ctx), locationID).Scan(&n)
	return n, err
}

func (r *txRepository) EnsureItem(ctx context.Context, productID, locationID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_item (tenant_id, product_id, location_id)
VALUES ($1,$2,$3)
ON CONFLICT (tenant_id, product_id, location_id) DO NOTHING`, r.tenant, productID, locationID)
	return err
}

func (r *txRepository) LockItem(ctx context.Context, productID, locationID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_item
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3 FOR UPDATE`, r.tenant, productID, locationID))
}

func (r *txRepository) LockItemByID(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_item
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, r.tenant, id))
}

func (r *txRepository) CreateItem(ctx context.Context, item Item) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `INSERT INTO inventory_item (tenant_id, product_id, location_id, reorder_point, reorder_quantity, cost_price)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+itemColumns, r.tenant, item.ProductID, item.LocationID, item.ReorderPoint, item.ReorderQuantity, item.CostPrice))
}

func (r *txRepository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_item
SET quantity=$3, reserved_quantity=$4, reorder_point=$5, reorder_quantity=$6, cost_price=$7, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, r.tenant, item.ID, item.Quantity, item.ReservedQuantity, item.ReorderPoint, item.ReorderQuantity, item.CostPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movement (tenant_id, inventory_item_id, product_id, location_id, type, quantity,
previous_quantity, new_quantity, reserved_delta, previous_reserved, new_reserved, reference_type, reference_id, reason, user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id, created_at`, r.tenant, m.ItemID, m.ProductID, m.LocationID, string(m.Type), m.Quantity,
		m.PreviousQuantity, m.NewQuantity, m.ReservedDelta, m.PreviousReserved, m.NewReserved,
		string(m.Reference.Type), m.Reference.IDPtr(), m.Reason, m.UserID).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func (r *txRepository) LockReservation(ctx context.Context, ref Reference, productID, locationID int64) (Reservation, error) {
	res := Reservation{Reference: ref}
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, location_id, quantity, updated_at FROM reservation
WHERE tenant_id=$1 AND reference_type=$2 AND reference_id=$3 AND product_id=$4 AND location_id=$5
FOR UPDATE`, r.tenant, string(ref.Type), ref.ID, productID, locationID).
		Scan(&res.ID, &res.ProductID, &res.LocationID, &res.Quantity, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *txRepository) SaveReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO reservation (tenant_id, reference_type, reference_id, product_id, location_id, quantity)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant_id, reference_type, reference_id, product_id, location_id)
DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		r.tenant, string(res.Reference.Type), res.Reference.ID, res.ProductID, res.LocationID, res.Quantity)
	return err
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, fingerprint string) error {
	return r.idem.Claim(ctx, r.tx, r.tenant, idempotencyModule, key, fingerprint)
}

func (r *txRepository) RecordIdempotencyResult(ctx context.Context, key string, movementID int64) error {
	return r.idem.RecordResult(ctx, r.tx, r.tenant, idempotencyModule, key, movementID)
}
