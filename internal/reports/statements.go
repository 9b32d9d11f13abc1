package reports

import (
	"slices"
	"strings"
	"time"

	"github.com/odyssey-erp/stockledger/internal/accounting"
)

// TrialBalanceRow is one leaf account.
type TrialBalanceRow struct {
	Code    string                 `json:"code"`
	Name    string                 `json:"name"`
	Type    accounting.AccountType `json:"type"`
	Debit   accounting.Amount      `json:"debit"`
	Credit  accounting.Amount      `json:"credit"`
	Balance accounting.Amount      `json:"balance"`
}

// TrialBalanceGroup aggregates rows of one account type.
type TrialBalanceGroup struct {
	Type   accounting.AccountType `json:"type"`
	Rows   []TrialBalanceRow      `json:"rows"`
	Debit  accounting.Amount      `json:"debit"`
	Credit accounting.Amount      `json:"credit"`
}

// TrialBalance lists every leaf with its totals. Total is the sum of signed
// balances folded back to debit-minus-credit and is zero for a sound ledger.
type TrialBalance struct {
	AsOf        *time.Time          `json:"asOf,omitempty"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  accounting.Amount   `json:"totalDebit"`
	TotalCredit accounting.Amount   `json:"totalCredit"`
	Total       accounting.Amount   `json:"total"`
}

// Balanced reports whether debits equal credits.
func (tb TrialBalance) Balanced() bool {
	return tb.Total == 0 && tb.TotalDebit == tb.TotalCredit
}

var typeOrder = []accounting.AccountType{
	accounting.AccountTypeAsset,
	accounting.AccountTypeLiability,
	accounting.AccountTypeEquity,
	accounting.AccountTypeRevenue,
	accounting.AccountTypeExpense,
}

func byCode[T any](code func(T) string) func(a, b T) int {
	return func(a, b T) int { return strings.Compare(code(a), code(b)) }
}

// BuildTrialBalance groups leaf balances by account type in chart order.
func BuildTrialBalance(leaves []accounting.LeafBalance) TrialBalance {
	groups := make(map[accounting.AccountType]*TrialBalanceGroup, len(typeOrder))
	var tb TrialBalance
	for _, leaf := range leaves {
		grp, ok := groups[leaf.Account.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: leaf.Account.Type}
			groups[leaf.Account.Type] = grp
		}
		grp.Rows = append(grp.Rows, TrialBalanceRow{
			Code:    leaf.Account.Code,
			Name:    leaf.Account.Name,
			Type:    leaf.Account.Type,
			Debit:   leaf.Debit,
			Credit:  leaf.Credit,
			Balance: leaf.Balance,
		})
		grp.Debit += leaf.Debit
		grp.Credit += leaf.Credit
		tb.TotalDebit += leaf.Debit
		tb.TotalCredit += leaf.Credit
		tb.Total += accounting.Amount(leaf.Account.NormalSign()) * leaf.Balance
	}
	for _, t := range typeOrder {
		grp, ok := groups[t]
		if !ok {
			continue
		}
		slices.SortFunc(grp.Rows, byCode(func(r TrialBalanceRow) string { return r.Code }))
		tb.Groups = append(tb.Groups, *grp)
	}
	return tb
}

// StatementLine is an account with its balance in normal sign.
type StatementLine struct {
	Code   string            `json:"code"`
	Name   string            `json:"name"`
	Amount accounting.Amount `json:"amount"`
}

// StatementSection groups lines under a label.
type StatementSection struct {
	Label string            `json:"label"`
	Lines []StatementLine   `json:"lines"`
	Total accounting.Amount `json:"total"`
}

func (s *StatementSection) add(leaf accounting.LeafBalance) {
	s.Lines = append(s.Lines, StatementLine{Code: leaf.Account.Code, Name: leaf.Account.Name, Amount: leaf.Balance})
	s.Total += leaf.Balance
}

func (s *StatementSection) sort() {
	slices.SortFunc(s.Lines, byCode(func(l StatementLine) string { return l.Code }))
}

// ProfitAndLoss contains revenue and expense sections.
type ProfitAndLoss struct {
	Revenue   StatementSection  `json:"revenue"`
	Expense   StatementSection  `json:"expense"`
	NetIncome accounting.Amount `json:"netIncome"`
}

// BuildProfitAndLoss aggregates revenue and expense leaves. Contra revenue
// such as sales returns carries a negative balance and reduces revenue.
func BuildProfitAndLoss(leaves []accounting.LeafBalance) ProfitAndLoss {
	pl := ProfitAndLoss{Revenue: StatementSection{Label: "Revenue"}, Expense: StatementSection{Label: "Expense"}}
	for _, leaf := range leaves {
		switch leaf.Account.Type {
		case accounting.AccountTypeRevenue:
			pl.Revenue.add(leaf)
		case accounting.AccountTypeExpense:
			pl.Expense.add(leaf)
		}
	}
	pl.Revenue.sort()
	pl.Expense.sort()
	pl.NetIncome = pl.Revenue.Total - pl.Expense.Total
	return pl
}

// BalanceSheet contains the permanent accounts. Current earnings close into
// equity so Assets equals TotalLiabilitiesAndEquity.
type BalanceSheet struct {
	Assets                    StatementSection  `json:"assets"`
	Liabilities               StatementSection  `json:"liabilities"`
	Equity                    StatementSection  `json:"equity"`
	CurrentEarnings           accounting.Amount `json:"currentEarnings"`
	TotalLiabilitiesAndEquity accounting.Amount `json:"totalLiabilitiesAndEquity"`
}

// BuildBalanceSheet aggregates assets, liabilities and equity.
func BuildBalanceSheet(leaves []accounting.LeafBalance) BalanceSheet {
	bs := BalanceSheet{
		Assets:      StatementSection{Label: "Assets"},
		Liabilities: StatementSection{Label: "Liabilities"},
		Equity:      StatementSection{Label: "Equity"},
	}
	for _, leaf := range leaves {
		switch leaf.Account.Type {
		case accounting.AccountTypeAsset:
			bs.Assets.add(leaf)
		case accounting.AccountTypeLiability:
			bs.Liabilities.add(leaf)
		case accounting.AccountTypeEquity:
			bs.Equity.add(leaf)
		}
	}
	bs.Assets.sort()
	bs.Liabilities.sort()
	bs.Equity.sort()
	bs.CurrentEarnings = BuildProfitAndLoss(leaves).NetIncome
	bs.TotalLiabilitiesAndEquity = bs.Liabilities.Total + bs.Equity.Total + bs.CurrentEarnings
	return bs
}
