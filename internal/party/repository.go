package party

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// Repository persists parties in PostgreSQL. Party balances are
// written by ledger postings; this repository only reads them back.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const partyColumns = `id, name, kind, state_code, credit_limit, opening_balance, balance, created_at, updated_at`

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.StateCode, &p.CreditLimit, &p.OpeningBalance, &p.Balance, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateParty inserts a new party row.
func (r *Repository) CreateParty(ctx context.Context, p Party) (Party, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO parties (name, kind, state_code, credit_limit, opening_balance, balance)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+partyColumns,
		p.Name, string(p.Kind), p.StateCode, p.CreditLimit, p.OpeningBalance, p.Balance)
	created, err := scanParty(row)
	if err != nil {
		return Party{}, err
	}
	return created, nil
}

// GetParty fetches one party by id.
func (r *Repository) GetParty(ctx context.Context, id int64) (Party, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id=$1`, id)
	p, err := scanParty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, fmt.Errorf("party %d: %w", id, shared.ErrNotFound)
		}
		return Party{}, err
	}
	return p, nil
}

// ListParties lists parties, optionally filtered by kind.
func (r *Repository) ListParties(ctx context.Context, kind Kind) ([]Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties ORDER BY name`
	args := []any{}
	if kind != "" {
		query = `SELECT ` + partyColumns + ` FROM parties WHERE kind=$1 ORDER BY name`
		args = append(args, string(kind))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parties []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// ListPostings aggregates the party-tagged lines of each ledger entry
// into one chronological posting row per entry.
func (r *Repository) ListPostings(ctx context.Context, partyID int64) ([]Posting, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.entry_date, e.narration,
	COALESCE(SUM(l.debit), 0) AS debit,
	COALESCE(SUM(l.credit), 0) AS credit
FROM ledger_entries e
JOIN ledger_entry_lines l ON l.entry_id = e.id
WHERE l.party_id = $1
GROUP BY e.id, e.entry_date, e.narration
ORDER BY e.entry_date ASC, e.id ASC`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var postings []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.EntryID, &p.Date, &p.Narration, &p.Debit, &p.Credit); err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}
