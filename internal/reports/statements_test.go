package reports

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting"
)

func leaf(code, name string, typ accounting.AccountType, debit, credit accounting.Amount) accounting.LeafBalance {
	acc := accounting.Account{Code: code, Name: name, Type: typ, IsLeaf: true}
	return accounting.LeafBalance{Account: acc, Debit: debit, Credit: credit, Balance: accounting.Amount(acc.NormalSign()) * (debit - credit)}
}

func sampleLeaves() []accounting.LeafBalance {
	return []accounting.LeafBalance{
		leaf("5100", "Cost of Goods Sold", accounting.AccountTypeExpense, 1600, 540),
		leaf("1200", "Accounts Receivable", accounting.AccountTypeAsset, 3000, 1000),
		leaf("1300", "Inventory", accounting.AccountTypeAsset, 2740, 1600),
		leaf("2100", "Accounts Payable", accounting.AccountTypeLiability, 0, 2200),
		leaf("4100", "Sales Revenue", accounting.AccountTypeRevenue, 0, 3000),
		leaf("4200", "Sales Returns", accounting.AccountTypeRevenue, 1000, 0),
	}
}

func TestBuildTrialBalance(t *testing.T) {
	tb := BuildTrialBalance(sampleLeaves())
	require.True(t, tb.Balanced())
	require.Equal(t, accounting.Amount(8340), tb.TotalDebit)
	require.Equal(t, accounting.Amount(8340), tb.TotalCredit)
	require.Len(t, tb.Groups, 4)
	require.Equal(t, accounting.AccountTypeAsset, tb.Groups[0].Type)
	require.Equal(t, "1200", tb.Groups[0].Rows[0].Code)
	require.Equal(t, "1300", tb.Groups[0].Rows[1].Code)
	require.Equal(t, accounting.AccountTypeExpense, tb.Groups[3].Type)

	unbalanced := BuildTrialBalance(append(sampleLeaves(), leaf("1100", "Cash", accounting.AccountTypeAsset, 5, 0)))
	require.False(t, unbalanced.Balanced())
	require.Equal(t, accounting.Amount(5), unbalanced.Total)
}

func TestBuildProfitAndLoss(t *testing.T) {
	pl := BuildProfitAndLoss(sampleLeaves())
	require.Equal(t, accounting.Amount(2000), pl.Revenue.Total)
	require.Equal(t, accounting.Amount(1060), pl.Expense.Total)
	require.Equal(t, accounting.Amount(940), pl.NetIncome)
	require.Equal(t, accounting.Amount(-1000), pl.Revenue.Lines[1].Amount)
}

func TestBuildBalanceSheet(t *testing.T) {
	bs := BuildBalanceSheet(sampleLeaves())
	require.Equal(t, accounting.Amount(3140), bs.Assets.Total)
	require.Equal(t, accounting.Amount(2200), bs.Liabilities.Total)
	require.Equal(t, accounting.Amount(940), bs.CurrentEarnings)
	require.Equal(t, bs.Assets.Total, bs.TotalLiabilitiesAndEquity)
}
