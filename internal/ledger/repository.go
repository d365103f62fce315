package ledger

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

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, code string) (Account, error)
	GetAccountForUpdate(ctx context.Context, code string) (Account, error)
	SetAccountActive(ctx context.Context, code string, active bool) error
	ListAccounts(ctx context.Context) ([]Account, error)
	ListAccountsByType(ctx context.Context, accountType AccountType) ([]Account, error)
	ListAccountsByGroup(ctx context.Context, group string) ([]Account, error)
	InsertEntry(ctx context.Context, in PostingInput, total decimal.Decimal) (Entry, error)
	InsertEntryLines(ctx context.Context, entryID int64, lines []PostingLine) error
	GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error)
	ApplyAccountDelta(ctx context.Context, code string, delta decimal.Decimal) error
	ApplyPartyDelta(ctx context.Context, partyID int64, delta decimal.Decimal) error
	AccountBalancesAsOf(ctx context.Context, asOf time.Time) ([]AccountBalance, error)
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
		return errors.New("ledger repository not initialised")
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
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, pgErr.Detail)
		case "55P03", "40001", "40P01":
			// Lock timeout, serialization failure, deadlock: retryable.
			return fmt.Errorf("ledger: %s: %w", pgErr.Code, shared.ErrConflict)
		}
	}
	return err
}

const accountColumns = `id, code, name, type, account_group, opening_balance, balance, active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Group, &a.OpeningBalance, &a.Balance, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, account_group, opening_balance, balance, active)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING `+accountColumns,
		account.Code, account.Name, string(account.Type), account.Group, account.OpeningBalance, account.Balance, account.Active)
	created, err := scanAccount(row)
	if err != nil {
		return Account{}, err
	}
	return created, nil
}

func (r *txRepository) GetAccount(ctx context.Context, code string) (Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account %s: %w", code, shared.ErrNotFound)
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, code string) (Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1 FOR UPDATE`, code)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account %s: %w", code, shared.ErrNotFound)
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) SetAccountActive(ctx context.Context, code string, active bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET active=$2, updated_at=NOW() WHERE code=$1`, code, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", code, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
}

func (r *txRepository) ListAccountsByType(ctx context.Context, accountType AccountType) ([]Account, error) {
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE type=$1 ORDER BY code`, string(accountType))
}

func (r *txRepository) ListAccountsByGroup(ctx context.Context, group string) ([]Account, error) {
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_group=$1 ORDER BY code`, group)
}

func (r *txRepository) InsertEntry(ctx context.Context, in PostingInput, total decimal.Decimal) (Entry, error) {
	var refType, refID *string
	if in.Reference != nil {
		refType = &in.Reference.Type
		refID = &in.Reference.ID
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (entry_date, ref_type, ref_id, narration, total, posted_by)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		in.Date, refType, refID, in.Narration, total, nullInt(in.ActorID))
	entry := Entry{
		Date:      in.Date,
		Reference: in.Reference,
		Narration: in.Narration,
		Total:     total,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertEntryLines(ctx context.Context, entryID int64, lines []PostingLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_entry_lines (entry_id, account_code, debit, credit, party_id, narration)
VALUES ($1,$2,$3,$4,$5,$6)`, entryID, line.AccountCode, line.Debit, line.Credit, line.PartyID, line.Narration); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error) {
	var entry Entry
	var refType, refID *string
	err := r.tx.QueryRow(ctx, `SELECT id, entry_date, ref_type, ref_id, narration, total, created_at FROM ledger_entries WHERE id=$1`, entryID).
		Scan(&entry.ID, &entry.Date, &refType, &refID, &entry.Narration, &entry.Total, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, fmt.Errorf("entry %d: %w", entryID, shared.ErrNotFound)
		}
		return Entry{}, err
	}
	if refType != nil && refID != nil {
		entry.Reference = &Reference{Type: *refType, ID: *refID}
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_code, debit, credit, party_id, narration FROM ledger_entry_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line EntryLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountCode, &line.Debit, &line.Credit, &line.PartyID, &line.Narration); err != nil {
			return Entry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) ApplyAccountDelta(ctx context.Context, code string, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=balance+$2, updated_at=NOW() WHERE code=$1`, code, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", code, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ApplyPartyDelta(ctx context.Context, partyID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE parties SET balance=balance+$2, updated_at=NOW() WHERE id=$1`, partyID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("party %d: %w", partyID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) AccountBalancesAsOf(ctx context.Context, asOf time.Time) ([]AccountBalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.code, a.name, a.type, a.account_group,
	a.opening_balance + COALESCE(SUM(l.debit - l.credit) FILTER (WHERE e.entry_date <= $1), 0) AS balance
FROM accounts a
LEFT JOIN ledger_entry_lines l ON l.account_code = a.code
LEFT JOIN ledger_entries e ON e.id = l.entry_id
WHERE a.active
GROUP BY a.code, a.name, a.type, a.account_group, a.opening_balance
ORDER BY a.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Type, &b.Group, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
