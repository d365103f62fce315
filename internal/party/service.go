package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// RepositoryPort abstracts party persistence.
type RepositoryPort interface {
	CreateParty(ctx context.Context, p Party) (Party, error)
	GetParty(ctx context.Context, id int64) (Party, error)
	ListParties(ctx context.Context, kind Kind) ([]Party, error)
	// ListPostings returns the party's postings in ascending date
	// order, one row per ledger entry that tagged the party.
	ListPostings(ctx context.Context, partyID int64) ([]Posting, error)
}

// AuditPort records party events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service derives party statements from the posting stream and guards
// the stored-balance consistency invariant.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the party service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// CreateParty registers a customer or supplier. The stored balance
// starts at the opening balance.
func (s *Service) CreateParty(ctx context.Context, p Party) (Party, error) {
	if err := p.Validate(); err != nil {
		return Party{}, err
	}
	p.Balance = p.OpeningBalance
	created, err := s.repo.CreateParty(ctx, p)
	if err != nil {
		return Party{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "party.create",
			Entity:   "party",
			EntityID: fmt.Sprintf("%d", created.ID),
			Meta: map[string]any{
				"kind":    string(created.Kind),
				"opening": created.OpeningBalance.String(),
			},
			At: s.now(),
		})
	}
	return created, nil
}

// GetParty fetches one party.
func (s *Service) GetParty(ctx context.Context, id int64) (Party, error) {
	return s.repo.GetParty(ctx, id)
}

// ListParties lists parties, optionally filtered by kind.
func (s *Service) ListParties(ctx context.Context, kind Kind) ([]Party, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("party: unknown kind %q", kind)
	}
	return s.repo.ListParties(ctx, kind)
}

// Statement reconstructs a party's account from its postings: running
// balance starts at the opening balance and accumulates debit−credit
// per posting. When the derived closing balance diverges from the
// stored balance the statement is still returned together with
// ErrConsistencyFault so an operator can investigate.
func (s *Service) Statement(ctx context.Context, partyID int64) (Statement, error) {
	p, err := s.repo.GetParty(ctx, partyID)
	if err != nil {
		return Statement{}, err
	}
	postings, err := s.repo.ListPostings(ctx, partyID)
	if err != nil {
		return Statement{}, err
	}

	stmt := Statement{
		PartyID:        p.ID,
		PartyName:      p.Name,
		OpeningBalance: p.OpeningBalance,
		StoredBalance:  p.Balance,
	}
	running := p.OpeningBalance
	for _, posting := range postings {
		running = running.Add(posting.Debit).Sub(posting.Credit)
		stmt.Rows = append(stmt.Rows, StatementRow{
			Date:      posting.Date,
			Narration: posting.Narration,
			Debit:     posting.Debit,
			Credit:    posting.Credit,
			Balance:   running,
		})
	}
	stmt.ClosingBalance = running

	if !stmt.Consistent() {
		return stmt, fmt.Errorf("%w: party %d derived %s stored %s",
			ErrConsistencyFault, p.ID, stmt.ClosingBalance, stmt.StoredBalance)
	}
	return stmt, nil
}

// CreditAvailable reports how much more a customer can buy on credit.
// Zero credit limit means no limit is enforced.
func (s *Service) CreditAvailable(ctx context.Context, partyID int64) (decimal.Decimal, bool, error) {
	p, err := s.repo.GetParty(ctx, partyID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if p.CreditLimit.IsZero() {
		return decimal.Zero, false, nil
	}
	return p.CreditLimit.Sub(p.Balance), true, nil
}

// Fault describes one party whose derived balance diverged.
type Fault struct {
	PartyID int64
	Derived decimal.Decimal
	Stored  decimal.Decimal
}

// Reconcile sweeps every party and collects consistency faults. Used
// by the integrity job; faults are reported, never repaired.
func (s *Service) Reconcile(ctx context.Context) ([]Fault, error) {
	parties, err := s.repo.ListParties(ctx, "")
	if err != nil {
		return nil, err
	}
	var faults []Fault
	for _, p := range parties {
		stmt, err := s.Statement(ctx, p.ID)
		switch {
		case err == nil:
		case errors.Is(err, ErrConsistencyFault):
			faults = append(faults, Fault{
				PartyID: p.ID,
				Derived: stmt.ClosingBalance,
				Stored:  stmt.StoredBalance,
			})
		default:
			return faults, err
		}
	}
	return faults, nil
}
