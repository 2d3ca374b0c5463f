package procurement

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx     pgx.Tx
	tenant string
}

// WithTx runs fn in the transaction bound to ctx, or a new one. The stock
// ledger joins the same transaction during receipts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, tenant: shared.TenantFromContext(ctx)})
	})
}

const headerColumns = `id, po_number, supplier_id, status, order_date, expected_date, received_date, notes, total_amount, created_at, updated_at`

func scanHeader(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &status, &po.OrderDate, &po.ExpectedDate,
		&po.ReceivedDate, &po.Notes, &po.TotalAmount, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	po.Status = POStatus(status)
	return po, err
}

func loadItems(ctx context.Context, q shared.DBTX, poID int64) ([]POItem, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_order_id, product_id, location_id, ordered_quantity, received_quantity, unit_cost
FROM purchase_order_item WHERE purchase_order_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []POItem{}
	for rows.Next() {
		var it POItem
		if err := rows.Scan(&it.ID, &it.PurchaseOrderID, &it.ProductID, &it.LocationID, &it.OrderedQuantity, &it.ReceivedQuantity, &it.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get returns the order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	conn := db.Conn(ctx, r.pool)
	po, err := scanHeader(conn.QueryRow(ctx, `SELECT `+headerColumns+` FROM purchase_order WHERE tenant_id=$1 AND id=$2`,
		shared.TenantFromContext(ctx), id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = loadItems(ctx, conn, po.ID)
	return po, err
}

// List returns order headers, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	clauses := []string{"tenant_id = $1"}
	args := []any{shared.TenantFromContext(ctx)}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		clauses = append(clauses, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_order WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM purchase_order WHERE %s ORDER BY order_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		headerColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

func (t *txRepo) Create(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanHeader(t.tx.QueryRow(ctx, `INSERT INTO purchase_order (tenant_id, po_number, supplier_id, status, order_date, expected_date, notes, total_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+headerColumns,
		t.tenant, po.PONumber, po.SupplierID, string(po.Status), po.OrderDate, po.ExpectedDate, po.Notes, po.TotalAmount))
	if err != nil {
		return PurchaseOrder{}, err
	}
	created.Items, err = t.insertItems(ctx, created.ID, po.Items)
	return created, err
}

func (t *txRepo) insertItems(ctx context.Context, poID int64, items []POItem) ([]POItem, error) {
	out := make([]POItem, 0, len(items))
	for _, it := range items {
		it.PurchaseOrderID = poID
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_item (purchase_order_id, product_id, location_id, ordered_quantity, received_quantity, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, poID, it.ProductID, it.LocationID, it.OrderedQuantity, it.ReceivedQuantity, it.UnitCost).Scan(&it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (t *txRepo) Lock(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanHeader(t.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM purchase_order WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, t.tenant, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = loadItems(ctx, t.tx, po.ID)
	return po, err
}

func (t *txRepo) UpdateHeader(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order SET supplier_id=$3, status=$4, expected_date=$5, received_date=$6, notes=$7, total_amount=$8, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, t.tenant, po.ID, po.SupplierID, string(po.Status), po.ExpectedDate, po.ReceivedDate, po.Notes, po.TotalAmount)
	return err
}

func (t *txRepo) ReplaceItems(ctx context.Context, poID int64, items []POItem) ([]POItem, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_item WHERE purchase_order_id=$1`, poID); err != nil {
		return nil, err
	}
	return t.insertItems(ctx, poID, items)
}

func (t *txRepo) UpdateReceived(ctx context.Context, itemID, received int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_item SET received_quantity=$2 WHERE id=$1`, itemID, received)
	return err
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_order WHERE tenant_id=$1 AND id=$2`, t.tenant, id)
	return err
}
