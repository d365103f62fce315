package reports

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var inrPrinter = message.NewPrinter(language.MustParse("en-IN"))

// FormatINR renders an amount with Indian digit grouping for display,
// e.g. 1234567.80 -> "₹12,34,567.80". Display only; arithmetic stays
// on decimals.
func FormatINR(amount decimal.Decimal) string {
	f, _ := amount.Float64()
	return inrPrinter.Sprintf("₹%v", number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// TrialBalanceRowView is a display row with formatted amounts.
type TrialBalanceRowView struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Group   string `json:"group,omitempty"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
	Display string `json:"display"`
}

// TrialBalanceView is the JSON shape served to report screens.
type TrialBalanceView struct {
	Groups []TrialBalanceGroupView `json:"groups"`

	TotalDebit  string `json:"total_debit"`
	TotalCredit string `json:"total_credit"`
	Difference  string `json:"difference"`
	Balanced    bool   `json:"balanced"`
}

// TrialBalanceGroupView aggregates display rows per account type.
type TrialBalanceGroupView struct {
	Type   string                `json:"type"`
	Rows   []TrialBalanceRowView `json:"rows"`
	Debit  string                `json:"debit"`
	Credit string                `json:"credit"`
}

// NewTrialBalanceView converts a compiled trial balance for rendering.
func NewTrialBalanceView(tb TrialBalance) TrialBalanceView {
	view := TrialBalanceView{
		TotalDebit:  tb.TotalDebit.StringFixed(2),
		TotalCredit: tb.TotalCredit.StringFixed(2),
		Difference:  tb.Difference.StringFixed(2),
		Balanced:    tb.Difference.IsZero(),
	}
	for _, grp := range tb.Groups {
		groupView := TrialBalanceGroupView{
			Type:   grp.Type,
			Debit:  grp.Debit.StringFixed(2),
			Credit: grp.Credit.StringFixed(2),
		}
		for _, row := range grp.Rows {
			side := row.Debit
			if side.IsZero() {
				side = row.Credit
			}
			groupView.Rows = append(groupView.Rows, TrialBalanceRowView{
				Code:    row.Code,
				Name:    row.Name,
				Group:   row.Group,
				Debit:   row.Debit.StringFixed(2),
				Credit:  row.Credit.StringFixed(2),
				Display: FormatINR(side),
			})
		}
		view.Groups = append(view.Groups, groupView)
	}
	return view
}
