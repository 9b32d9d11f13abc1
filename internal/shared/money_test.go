package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	usd, err := ParseCurrency("usd")
	require.NoError(t, err)
	require.Equal(t, "USD", usd.Code)
	require.Equal(t, int32(2), usd.Scale)
	require.Equal(t, "123.45", usd.Major(12345).String())

	jpy, err := ParseCurrency("JPY")
	require.NoError(t, err)
	require.Equal(t, int32(0), jpy.Scale)
	require.Equal(t, "500", jpy.Money(500).Amount.String())

	_, err = ParseCurrency("XXXX")
	require.Error(t, err)
}
