// Package reports builds read-side projections over ledger balances.
package reports

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AccountBalance is the compiler input: one active account with its
// raw signed balance (debit-positive) as of the cutoff.
type AccountBalance struct {
	Code    string
	Name    string
	Type    string
	Group   string
	Balance decimal.Decimal
}

// TrialBalanceRow is one account line with its balance oriented into
// the debit or credit column.
type TrialBalanceRow struct {
	Code   string
	Name   string
	Group  string
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TrialBalanceGroup aggregates rows of one account type.
type TrialBalanceGroup struct {
	Type   string
	Rows   []TrialBalanceRow
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TrialBalance lists every account balance in its natural column. For
// a correctly posted ledger the two totals match; Difference surfaces
// any mismatch explicitly instead of hiding it.
type TrialBalance struct {
	Groups      []TrialBalanceGroup
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Difference  decimal.Decimal
}

// Natural resolves the display sign for a raw debit-positive balance:
// positive for an account sitting on its natural side, negative when
// it has flipped (an overdrawn asset, an overpaid liability).
func Natural(accountType string, raw decimal.Decimal) decimal.Decimal {
	if debitNatured(accountType) {
		return raw
	}
	return raw.Neg()
}

// debitNatured mirrors the ledger sign convention: asset and expense
// balances are debit-natured, the rest credit-natured.
func debitNatured(accountType string) bool {
	return accountType == "ASSET" || accountType == "EXPENSE"
}

// typeOrder keeps groups in statement order rather than alphabetical.
var typeOrder = map[string]int{
	"ASSET":     0,
	"LIABILITY": 1,
	"EQUITY":    2,
	"INCOME":    3,
	"EXPENSE":   4,
}

// BuildTrialBalance compiles account balances into grouped debit and
// credit columns with subtotals and grand totals.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	for _, acc := range accounts {
		grp, ok := groups[acc.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: acc.Type}
			groups[acc.Type] = grp
		}
		// Balances are stored debit-positive raw. A healthy liability,
		// equity, or income account therefore carries a negative raw
		// balance and lands in the credit column; the Natural helper
		// below reports its display sign.
		row := TrialBalanceRow{
			Code:   acc.Code,
			Name:   acc.Name,
			Group:  acc.Group,
			Debit:  decimal.Max(acc.Balance, decimal.Zero),
			Credit: decimal.Max(acc.Balance.Neg(), decimal.Zero),
		}
		grp.Rows = append(grp.Rows, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oki := typeOrder[keys[i]]
		oj, okj := typeOrder[keys[j]]
		if oki && okj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})

	result := TrialBalance{}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].Code < grp.Rows[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	result.Difference = result.TotalDebit.Sub(result.TotalCredit)
	return result
}
