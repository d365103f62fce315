package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the chart of accounts and balanced journal posting.
// Account balances are mutated only here, inside a single atomic unit
// of work per posting.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAccount registers a new chart-of-accounts entry.
func (s *Service) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if err := account.Validate(); err != nil {
		return Account{}, err
	}
	account.Balance = account.OpeningBalance
	account.Active = true
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertAccount(ctx, account)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "account.create",
			Entity:   "account",
			EntityID: created.Code,
			Meta: map[string]any{
				"type":    string(created.Type),
				"group":   created.Group,
				"opening": created.OpeningBalance.String(),
			},
			At: s.now(),
		})
	}
	return created, nil
}

// GetAccount fetches one account by code.
func (s *Service) GetAccount(ctx context.Context, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, code)
		return err
	})
	return account, err
}

// DeactivateAccount flags an account so new postings are rejected.
// The account and its history remain readable.
func (s *Service) DeactivateAccount(ctx context.Context, code string, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, code); err != nil {
			return err
		}
		return tx.SetAccountActive(ctx, code, false)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "account.deactivate",
			Entity:   "account",
			EntityID: code,
			At:       s.now(),
		})
	}
	return nil
}

// ListAccounts retrieves all chart of accounts entries.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// ListAccountsByType filters accounts by category.
func (s *Service) ListAccountsByType(ctx context.Context, accountType AccountType) ([]Account, error) {
	if !accountType.Valid() {
		return nil, fmt.Errorf("ledger: unknown account type %q", accountType)
	}
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccountsByType(ctx, accountType)
		return err
	})
	return accounts, err
}

// ListAccountsByGroup filters accounts by free-form group.
func (s *Service) ListAccountsByGroup(ctx context.Context, group string) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccountsByGroup(ctx, group)
		return err
	})
	return accounts, err
}

// Post validates and persists a balanced journal entry. Header, lines,
// account deltas, and any party delta commit together or not at all.
func (s *Service) Post(ctx context.Context, input PostingInput) (Entry, error) {
	if err := input.Validate(); err != nil {
		return Entry{}, err
	}

	accountDeltas := make(map[string]decimal.Decimal)
	partyDeltas := make(map[int64]decimal.Decimal)
	for _, line := range input.Lines {
		delta := line.Debit.Sub(line.Credit)
		accountDeltas[line.AccountCode] = accountDeltas[line.AccountCode].Add(delta)
		if line.PartyID != nil {
			partyDeltas[*line.PartyID] = partyDeltas[*line.PartyID].Add(delta)
		}
	}
	// Lock accounts in code order so concurrent postings touching the
	// same accounts serialise instead of deadlocking.
	codes := make([]string, 0, len(accountDeltas))
	for code := range accountDeltas {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, code := range codes {
			account, err := tx.GetAccountForUpdate(ctx, code)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrAccountNotFound, code)
				}
				return err
			}
			if !account.Active {
				return fmt.Errorf("%w: %s", ErrInactiveAccount, code)
			}
		}
		inserted, err := tx.InsertEntry(ctx, input, input.Total())
		if err != nil {
			return err
		}
		if err := tx.InsertEntryLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		for _, code := range codes {
			if err := tx.ApplyAccountDelta(ctx, code, accountDeltas[code]); err != nil {
				return err
			}
		}
		for partyID, delta := range partyDeltas {
			if err := tx.ApplyPartyDelta(ctx, partyID, delta); err != nil {
				return err
			}
		}
		inserted.Lines = toEntryLines(inserted.ID, input.Lines)
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.audit != nil {
		meta := map[string]any{
			"total": entry.Total.String(),
			"lines": len(entry.Lines),
		}
		if input.Reference != nil {
			meta["reference"] = input.Reference.Type + ":" + input.Reference.ID
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.post",
			Entity:   "ledger_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta:     meta,
			At:       s.now(),
		})
	}
	return entry, nil
}

// Reverse posts a new entry with the debit and credit sides of an
// existing entry swapped. The original stays untouched.
func (s *Service) Reverse(ctx context.Context, entryID int64, actorID int64, narration string) (Entry, error) {
	if entryID == 0 {
		return Entry{}, fmt.Errorf("%w: entry id required", ErrInvalidEntry)
	}
	var original Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetEntryWithLines(ctx, entryID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	if narration == "" {
		narration = fmt.Sprintf("Reversal of entry %d", original.ID)
	}
	lines := make([]PostingLine, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, PostingLine{
			AccountCode: line.AccountCode,
			Debit:       line.Credit,
			Credit:      line.Debit,
			PartyID:     line.PartyID,
			Narration:   line.Narration,
		})
	}
	return s.Post(ctx, PostingInput{
		Date:      s.now(),
		Narration: narration,
		Reference: &Reference{Type: "reversal", ID: fmt.Sprintf("%d", original.ID)},
		ActorID:   actorID,
		Lines:     lines,
	})
}

// GetEntry loads one posted entry with lines.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntryWithLines(ctx, entryID)
		return err
	})
	return entry, err
}

// BalancesAsOf projects active-account balances at a cutoff date:
// opening balance plus all line deltas dated at or before the cutoff.
func (s *Service) BalancesAsOf(ctx context.Context, asOf time.Time) ([]AccountBalance, error) {
	var balances []AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balances, err = tx.AccountBalancesAsOf(ctx, asOf)
		return err
	})
	return balances, err
}

func toEntryLines(entryID int64, lines []PostingLine) []EntryLine {
	out := make([]EntryLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, EntryLine{
			EntryID:     entryID,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			PartyID:     line.PartyID,
			Narration:   line.Narration,
		})
	}
	return out
}
