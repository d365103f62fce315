package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dukaan-erp/dukaan-erp/internal/platform/db"
	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// Repository persists stock entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateItemStock(ctx context.Context, id int64, qty, avgCost decimal.Decimal) error
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	ListBatchesForUpdate(ctx context.Context, itemID int64) ([]Batch, error)
	UpdateBatchQuantities(ctx context.Context, batch Batch) error
	SetBatchStatus(ctx context.Context, id int64, status BatchStatus) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction. Errors from
// the commit itself pass through the same code mapping as errors raised
// inside fn, so a serialization failure at commit still reads as a
// retryable conflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return mapPgError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

// mapPgError translates driver error codes into the domain taxonomy.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateItem, pgErr.Detail)
		case "55P03", "40001", "40P01":
			// Lock timeout, serialization failure, deadlock: retryable.
			return fmt.Errorf("stock: %s: %w", pgErr.Code, shared.ErrConflict)
		}
	}
	return err
}

const itemColumns = `id, sku, name, unit, qty, avg_cost, costing_method, tax_rate, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.SKU, &i.Name, &i.Unit, &i.Qty, &i.AvgCost, &i.CostingMethod, &i.TaxRate, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const batchColumns = `id, item_id, supplier_id, number, received, available, sold, damaged, unit_cost, mfg_date, expiry_date, status, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ItemID, &b.SupplierID, &b.Number, &b.Received, &b.Available, &b.Sold, &b.Damaged, &b.UnitCost, &b.MfgDate, &b.ExpiryDate, &b.Status, &b.CreatedAt)
	return b, err
}

func (r *txRepository) CreateItem(ctx context.Context, item Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO items (sku, name, unit, qty, avg_cost, costing_method, tax_rate)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+itemColumns,
		item.SKU, item.Name, item.Unit, item.Qty, item.AvgCost, string(item.CostingMethod), item.TaxRate)
	created, err := scanItem(row)
	if err != nil {
		return Item{}, err
	}
	return created, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) UpdateItemStock(ctx context.Context, id int64, qty, avgCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE items SET qty=$2, avg_cost=$3, updated_at=NOW() WHERE id=$1`, id, qty, avgCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO batches (item_id, supplier_id, number, received, available, sold, damaged, unit_cost, mfg_date, expiry_date, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+batchColumns,
		batch.ItemID, batch.SupplierID, batch.Number, batch.Received, batch.Available, batch.Sold, batch.Damaged,
		batch.UnitCost, batch.MfgDate, batch.ExpiryDate, string(batch.Status))
	created, err := scanBatch(row)
	if err != nil {
		return Batch{}, err
	}
	return created, nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, itemID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM batches WHERE item_id=$1 ORDER BY id FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *txRepository) UpdateBatchQuantities(ctx context.Context, batch Batch) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET available=$2, sold=$3, damaged=$4 WHERE id=$1`,
		batch.ID, batch.Available, batch.Sold, batch.Damaged)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", batch.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) SetBatchStatus(ctx context.Context, id int64, status BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, batch_id, qty_delta, type, unit_cost, ref_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		movement.ItemID, movement.BatchID, movement.QtyDelta, string(movement.Type), movement.UnitCost, movement.RefID, movement.OccurredAt)
	if err := row.Scan(&movement.ID); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
		}
		return Item{}, err
	}
	return item, nil
}

func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *Repository) ListBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	return r.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE item_id=$1 ORDER BY id`, itemID)
}

func (r *Repository) ListAllBatches(ctx context.Context) ([]Batch, error) {
	return r.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY item_id, id`)
}

func (r *Repository) ListBatchesExpiringBefore(ctx context.Context, cutoff time.Time) ([]Batch, error) {
	return r.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date < $1 ORDER BY expiry_date`, cutoff)
}

func (r *Repository) ListBatchesExpiringBetween(ctx context.Context, from, to time.Time) ([]Batch, error) {
	return r.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date > $1 AND expiry_date <= $2 ORDER BY expiry_date`, from, to)
}

func (r *Repository) CountMovements(ctx context.Context, itemID int64) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE item_id=$1`, itemID).Scan(&total)
	return total, err
}

func (r *Repository) ListMovements(ctx context.Context, itemID int64, limit, offset int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, batch_id, qty_delta, type, unit_cost, ref_id, occurred_at
FROM stock_movements WHERE item_id=$1 ORDER BY occurred_at DESC, id DESC LIMIT $2 OFFSET $3`, itemID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.BatchID, &m.QtyDelta, &m.Type, &m.UnitCost, &m.RefID, &m.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *Repository) queryBatches(ctx context.Context, query string, args ...any) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
