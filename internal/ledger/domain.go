package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNatured reports whether a positive raw balance belongs in the
// debit column. Postings store raw debit/credit magnitudes; the sign
// convention is resolved per type at read time only.
func (t AccountType) DebitNatured() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// Account models a chart of accounts node. Accounts are never deleted,
// only deactivated; balances change exclusively through postings.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	Group          string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks account fields before creation.
func (a Account) Validate() error {
	if a.Code == "" {
		return errors.New("ledger: account code required")
	}
	if a.Name == "" {
		return errors.New("ledger: account name required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("ledger: unknown account type %q", a.Type)
	}
	if !a.OpeningBalance.Equal(a.OpeningBalance.Round(2)) {
		return errors.New("ledger: opening balance precision beyond minor unit")
	}
	return nil
}

// Reference links an entry to the business document that produced it.
type Reference struct {
	Type string
	ID   string
}

// Entry is a posted, immutable journal entry header with its lines.
// Corrections are new reversing entries, never edits.
type Entry struct {
	ID        int64
	Date      time.Time
	Reference *Reference
	Narration string
	Total     decimal.Decimal
	Lines     []EntryLine
	CreatedAt time.Time
}

// EntryLine stores the debit or credit amount for one account.
type EntryLine struct {
	ID          int64
	EntryID     int64
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	PartyID     *int64
	Narration   string
}

// PostingLine is one side of a posting request.
type PostingLine struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	PartyID     *int64
	Narration   string
}

// PostingInput carries a balanced line set plus metadata.
type PostingInput struct {
	Date      time.Time
	Narration string
	Reference *Reference
	ActorID   int64
	Lines     []PostingLine
}

// AccountBalance is a read-side projection of an account balance as of
// a cutoff date.
type AccountBalance struct {
	Code    string
	Name    string
	Type    AccountType
	Group   string
	Balance decimal.Decimal
}

var (
	// ErrDuplicateAccount indicates the account code already exists.
	ErrDuplicateAccount = errors.New("ledger: account code already exists")
	// ErrAccountNotFound indicates a referenced account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInactiveAccount blocks postings to deactivated accounts.
	ErrInactiveAccount = errors.New("ledger: account is inactive")
	// ErrUnbalancedEntry indicates debits and credits do not match.
	ErrUnbalancedEntry = errors.New("ledger: debits and credits do not balance")
	// ErrInvalidEntry indicates malformed posting input.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Validate enforces the posting invariants before any mutation: every
// line one-sided with a positive amount at minor-unit precision, and
// total debits exactly equal to total credits.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: entry date required", ErrInvalidEntry)
	}
	if len(in.Lines) < 2 {
		return fmt.Errorf("%w: at least two lines required", ErrInvalidEntry)
	}
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for i, line := range in.Lines {
		if line.AccountCode == "" {
			return fmt.Errorf("%w: line %d missing account code", ErrInvalidEntry, i+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative amount", ErrInvalidEntry, i+1)
		}
		debitSet := line.Debit.IsPositive()
		creditSet := line.Credit.IsPositive()
		if debitSet == creditSet {
			return fmt.Errorf("%w: line %d must set exactly one of debit or credit", ErrInvalidEntry, i+1)
		}
		if !line.Debit.Equal(line.Debit.Round(2)) || !line.Credit.Equal(line.Credit.Round(2)) {
			return fmt.Errorf("%w: line %d precision beyond minor unit", ErrInvalidEntry, i+1)
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	if !totalDebit.Equal(totalCredit) {
		return fmt.Errorf("%w: debit %s vs credit %s", ErrUnbalancedEntry, totalDebit, totalCredit)
	}
	return nil
}

// Total returns the entry total, the sum of the debit side.
func (in PostingInput) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.Debit)
	}
	return total
}
