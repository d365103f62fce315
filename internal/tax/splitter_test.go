package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeSplitIntrastate(t *testing.T) {
	split, err := ComputeSplit(dec("1000"), dec("18"), "27", "27")
	require.NoError(t, err)
	require.True(t, split.CGST.Equal(dec("90")), "cgst=%s", split.CGST)
	require.True(t, split.SGST.Equal(dec("90")), "sgst=%s", split.SGST)
	require.True(t, split.IGST.IsZero())
	require.True(t, split.Total.Equal(dec("180")))
}

func TestComputeSplitInterstate(t *testing.T) {
	split, err := ComputeSplit(dec("1000"), dec("18"), "27", "29")
	require.NoError(t, err)
	require.True(t, split.IGST.Equal(dec("180")))
	require.True(t, split.CGST.IsZero())
	require.True(t, split.SGST.IsZero())
}

func TestComputeSplitOddPaisaGoesToCGST(t *testing.T) {
	// 0.25 * 18% = 0.045 -> 0.05 total, split 0.03 / 0.02.
	split, err := ComputeSplit(dec("0.25"), dec("18"), "07", "07")
	require.NoError(t, err)
	require.True(t, split.Total.Equal(dec("0.05")), "total=%s", split.Total)
	require.True(t, split.CGST.Equal(dec("0.03")), "cgst=%s", split.CGST)
	require.True(t, split.SGST.Equal(dec("0.02")), "sgst=%s", split.SGST)
	require.True(t, split.CGST.Add(split.SGST).Equal(split.Total))
}

func TestComputeSplitHalvesAlwaysReconcile(t *testing.T) {
	amounts := []string{"1", "9.99", "123.45", "0.01", "55555.55"}
	rates := []string{"0.25", "3", "5", "12", "18", "28"}
	for _, amt := range amounts {
		for _, rate := range rates {
			split, err := ComputeSplit(dec(amt), dec(rate), "33", "33")
			require.NoError(t, err)
			require.True(t, split.CGST.Add(split.SGST).Equal(split.Total),
				"amt=%s rate=%s cgst=%s sgst=%s total=%s", amt, rate, split.CGST, split.SGST, split.Total)
			require.True(t, split.CGST.Sub(split.SGST).LessThanOrEqual(dec("0.01")))
		}
	}
}

func TestComputeSplitZeroRate(t *testing.T) {
	split, err := ComputeSplit(dec("500"), decimal.Zero, "27", "27")
	require.NoError(t, err)
	require.True(t, split.Total.IsZero())
	require.True(t, split.CGST.IsZero())
	require.True(t, split.SGST.IsZero())
}

func TestComputeSplitInvalidInput(t *testing.T) {
	_, err := ComputeSplit(dec("-1"), dec("18"), "27", "27")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = ComputeSplit(dec("100"), dec("101"), "27", "27")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = ComputeSplit(dec("100"), dec("-1"), "27", "27")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = ComputeSplit(dec("100"), dec("18"), "", "27")
	require.ErrorIs(t, err, ErrInvalidInput)
}
