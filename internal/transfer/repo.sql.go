package transfer

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

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, tenant: shared.TenantFromContext(ctx)})
	})
}

const columns = `id, transfer_number, from_location_id, to_location_id, status, notes, initiated_at, completed_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	err := row.Scan(&t.ID, &t.TransferNumber, &t.FromLocationID, &t.ToLocationID, &status, &t.Notes,
		&t.InitiatedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	t.Status = Status(status)
	return t, err
}

func loadItems(ctx context.Context, q shared.DBTX, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity FROM stock_transfer_item WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	conn := db.Conn(ctx, r.pool)
	t, err := scanTransfer(conn.QueryRow(ctx, `SELECT `+columns+` FROM stock_transfer WHERE tenant_id=$1 AND id=$2`,
		shared.TenantFromContext(ctx), id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, conn, t.ID)
	return t, err
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Transfer, int, error) {
	clauses := []string{"tenant_id = $1"}
	args := []any{shared.TenantFromContext(ctx)}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filters.Status != "" {
		add("status = $%d", string(filters.Status))
	}
	if filters.FromLocationID > 0 {
		add("from_location_id = $%d", filters.FromLocationID)
	}
	if filters.ToLocationID > 0 {
		add("to_location_id = $%d", filters.ToLocationID)
	}
	where := strings.Join(clauses, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transfer WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM stock_transfer WHERE %s ORDER BY initiated_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		columns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (t *txRepo) Create(ctx context.Context, tr Transfer) (Transfer, error) {
	created, err := scanTransfer(t.tx.QueryRow(ctx, `INSERT INTO stock_transfer (tenant_id, transfer_number, from_location_id, to_location_id, status, notes, initiated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+columns,
		t.tenant, tr.TransferNumber, tr.FromLocationID, tr.ToLocationID, string(tr.Status), tr.Notes, tr.InitiatedAt))
	if err != nil {
		return Transfer{}, err
	}
	created.Items = make([]Item, 0, len(tr.Items))
	for _, it := range tr.Items {
		it.TransferID = created.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO stock_transfer_item (transfer_id, product_id, quantity) VALUES ($1,$2,$3) RETURNING id`,
			created.ID, it.ProductID, it.Quantity).Scan(&it.ID); err != nil {
			return Transfer{}, err
		}
		created.Items = append(created.Items, it)
	}
	return created, nil
}

func (t *txRepo) Lock(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx, `SELECT `+columns+` FROM stock_transfer WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, t.tenant, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = loadItems(ctx, t.tx, tr.ID)
	return tr, err
}

func (t *txRepo) UpdateStatus(ctx context.Context, tr Transfer) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_transfer SET status=$3, completed_at=$4, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		t.tenant, tr.ID, string(tr.Status), tr.CompletedAt)
	return err
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM stock_transfer WHERE tenant_id=$1 AND id=$2`, t.tenant, id)
	return err
}
