package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeedDefault(t *testing.T) {
	seed, err := ParseSeed([]byte(DefaultSeed))
	require.NoError(t, err)
	require.Len(t, seed.Accounts, 14)
	require.Equal(t, "1300", seed.Mappings["inventory"])
}

func TestParseSeedRejectsForwardParent(t *testing.T) {
	_, err := ParseSeed([]byte(`
accounts:
  - {code: "1100", name: "Cash", type: ASSET, parent: "1000"}
  - {code: "1000", name: "Assets", type: ASSET}
`))
	require.ErrorContains(t, err, "must be declared first")
}

func TestParseSeedReorderLevels(t *testing.T) {
	seed, err := ParseSeed([]byte(`
reorder_levels:
  42: 10
`))
	require.NoError(t, err)
	require.Equal(t, int64(10), seed.ReorderLevels[42])
}
