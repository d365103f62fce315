package party

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes customers from suppliers.
type Kind string

const (
	KindCustomer Kind = "CUSTOMER"
	KindSupplier Kind = "SUPPLIER"
)

// Valid reports whether k is a known party kind.
func (k Kind) Valid() bool {
	return k == KindCustomer || k == KindSupplier
}

// Party is a counterparty with a stored running balance. Positive
// means the party owes the business (customer udhari); for suppliers
// positive means the business owes the party. The opening balance is
// an explicit immutable fact, never back-calculated from postings.
type Party struct {
	ID             int64
	Name           string
	Kind           Kind
	StateCode      string
	CreditLimit    decimal.Decimal
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks party fields before creation.
func (p Party) Validate() error {
	if p.Name == "" {
		return errors.New("party: name required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("party: unknown kind %q", p.Kind)
	}
	if p.StateCode == "" {
		return errors.New("party: state code required")
	}
	if p.CreditLimit.IsNegative() {
		return errors.New("party: credit limit must not be negative")
	}
	return nil
}

// Posting is one ledger entry's net effect on a party, as tagged on
// the entry's lines.
type Posting struct {
	EntryID   int64
	Date      time.Time
	Narration string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// StatementRow is one statement line with the running balance after it.
type StatementRow struct {
	Date      time.Time       `json:"date"`
	Narration string          `json:"narration"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// Statement is a party's chronological account reconstruction.
type Statement struct {
	PartyID        int64           `json:"party_id"`
	PartyName      string          `json:"party_name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Rows           []StatementRow  `json:"rows"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
}

// Consistent reports whether the derived closing balance matches the
// stored balance.
func (s Statement) Consistent() bool {
	return s.ClosingBalance.Equal(s.StoredBalance)
}

// ErrConsistencyFault flags a derived balance diverging from the
// stored one. It is reported for investigation, never auto-corrected:
// silently adjusting financial figures is worse than halting.
var ErrConsistencyFault = errors.New("party: derived balance diverges from stored balance")
