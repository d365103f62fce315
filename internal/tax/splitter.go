// Package tax computes GST allocations for invoice lines. Intrastate
// supplies split the tax evenly between CGST and SGST; interstate
// supplies carry the whole amount as IGST.
package tax

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput indicates a malformed amount, rate, or state code.
var ErrInvalidInput = errors.New("tax: invalid input")

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Split is the CGST/SGST/IGST allocation of a single taxable amount.
type Split struct {
	CGST  decimal.Decimal `json:"cgst"`
	SGST  decimal.Decimal `json:"sgst"`
	IGST  decimal.Decimal `json:"igst"`
	Total decimal.Decimal `json:"total"`
}

// ComputeSplit allocates the GST on taxable at ratePercent between the
// seller and buyer states. Amounts are rounded to the minor currency
// unit; on an odd intrastate split the extra paisa goes to CGST so the
// allocation is deterministic.
func ComputeSplit(taxable, ratePercent decimal.Decimal, sellerState, buyerState string) (Split, error) {
	if taxable.IsNegative() {
		return Split{}, errors.Join(ErrInvalidInput, errors.New("taxable amount must not be negative"))
	}
	if ratePercent.IsNegative() || ratePercent.GreaterThan(hundred) {
		return Split{}, errors.Join(ErrInvalidInput, errors.New("rate must be between 0 and 100"))
	}
	sellerState = strings.TrimSpace(sellerState)
	buyerState = strings.TrimSpace(buyerState)
	if sellerState == "" || buyerState == "" {
		return Split{}, errors.Join(ErrInvalidInput, errors.New("seller and buyer state codes are required"))
	}

	total := taxable.Mul(ratePercent).Div(hundred).Round(2)
	if !strings.EqualFold(sellerState, buyerState) {
		return Split{IGST: total, CGST: decimal.Zero, SGST: decimal.Zero, Total: total}, nil
	}

	sgst := total.Div(two).RoundDown(2)
	cgst := total.Sub(sgst)
	return Split{CGST: cgst, SGST: sgst, IGST: decimal.Zero, Total: total}, nil
}
