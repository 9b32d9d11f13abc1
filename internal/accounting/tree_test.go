package accounting

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestTreeStructure(t *testing.T) {
	tree, err := NewTree([]Account{
		{ID: 1, Code: "1000", Type: AccountTypeAsset},
		{ID: 2, Code: "1100", Type: AccountTypeAsset, ParentID: ptr(1)},
		{ID: 3, Code: "1110", Type: AccountTypeAsset, ParentID: ptr(2)},
		{ID: 4, Code: "1120", Type: AccountTypeAsset, ParentID: ptr(2)},
		{ID: 5, Code: "1200", Type: AccountTypeAsset, ParentID: ptr(1)},
	})
	require.NoError(t, err)

	require.Equal(t, []int64{2, 1}, tree.Ancestors(3))
	require.Equal(t, []int64{3, 4, 5}, tree.LeafDescendants(1))
	require.Equal(t, []int64{5}, tree.LeafDescendants(5))
	require.True(t, tree.IsAncestor(1, 4))
	require.False(t, tree.IsAncestor(5, 4))

	acc, ok := tree.Get(2)
	require.True(t, ok)
	require.False(t, acc.IsLeaf)

	byCode, ok := tree.ByCode("1100")
	require.True(t, ok)
	require.Equal(t, int64(2), byCode.ID)
	_, ok = tree.ByCode("9999")
	require.False(t, ok)

	tree.Move(5, 2)
	require.Equal(t, []int64{2, 1}, tree.Ancestors(5))
	require.Equal(t, []int64{3, 4, 5}, tree.LeafDescendants(2))

	nets, err := tree.RollUp(map[int64]Amount{3: 10, 5: -4})
	require.NoError(t, err)
	require.Equal(t, Amount(6), nets[1])
	require.Equal(t, Amount(6), nets[2])
	require.Equal(t, Amount(-4), nets[5])
}

func TestTreeAddIndexesCode(t *testing.T) {
	tree, err := NewTree([]Account{{ID: 1, Code: "1000", Type: AccountTypeAsset}})
	require.NoError(t, err)

	require.NoError(t, tree.Add(Account{ID: 2, Code: "1300", Type: AccountTypeAsset, ParentID: ptr(1)}))
	added, ok := tree.ByCode(" 1300 ")
	require.True(t, ok)
	require.Equal(t, int64(2), added.ID)

	err = tree.Add(Account{ID: 3, Code: "1300", Type: AccountTypeAsset, ParentID: ptr(1)})
	require.ErrorIs(t, err, ErrDuplicateCode)
	_, ok = tree.Get(3)
	require.False(t, ok)

	_, err = NewTree([]Account{{ID: 1, Code: "1000"}, {ID: 2, Code: "1000"}})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestTreeRejectsOrphans(t *testing.T) {
	_, err := NewTree([]Account{{ID: 2, Code: "1100", ParentID: ptr(1)}})
	require.ErrorIs(t, err, ErrInvalidParent)
}

func TestParentsFirst(t *testing.T) {
	ordered := parentsFirst([]Account{
		{ID: 1, Code: "child", ParentID: ptr(3)},
		{ID: 2, Code: "root"},
		{ID: 3, Code: "mid", ParentID: ptr(2)},
	})
	codes := make([]string, len(ordered))
	for i, a := range ordered {
		codes[i] = a.Code
	}
	require.Equal(t, []string{"root", "mid", "child"}, codes)
}

func TestNormalSign(t *testing.T) {
	require.Equal(t, int64(1), AccountTypeAsset.NormalSign())
	require.Equal(t, int64(1), AccountTypeExpense.NormalSign())
	require.Equal(t, int64(-1), AccountTypeLiability.NormalSign())
	require.Equal(t, int64(-1), AccountTypeEquity.NormalSign())
	require.Equal(t, int64(-1), AccountTypeRevenue.NormalSign())
}

func TestMulAmountOverflow(t *testing.T) {
	v, err := MulAmount(3, 7)
	require.NoError(t, err)
	require.Equal(t, Amount(21), v)
	_, err = MulAmount(1<<40, 1<<40)
	require.ErrorIs(t, err, ErrAmountOverflow)
}
