package decode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBCDRoundTrip(t *testing.T) {
	for n := 0; n <= 99; n++ {
		got, ok := BCD(ToBCD(n))
		require.True(t, ok, "n=%d", n)
		require.Equal(t, n, got)
	}
}

func TestBCDRejectsHighNibbles(t *testing.T) {
	for _, b := range []byte{0x0A, 0xA0, 0x9F, 0xFF} {
		_, ok := BCD(b)
		require.False(t, ok, "0x%02X", b)
	}
}

func TestFixedRoundTrip(t *testing.T) {
	for width := 1; width <= 4; width++ {
		top := uint64(1)<<(8*width) - 1
		for _, n := range []uint64{0, 1, 9, 10, top / 3, top / 2, top - 1, top} {
			for decimals := 0; decimals <= 3; decimals++ {
				buf := make([]byte, width)
				v := float64(n) / math.Pow10(decimals)
				PutFixed(buf, v, decimals)
				require.Equal(t, n, Uint(buf), "w=%d n=%d d=%d", width, n, decimals)
				require.InDelta(t, v, Fixed(buf, decimals), 1e-9)
			}
		}
	}
}

func TestUintBigEndian(t *testing.T) {
	require.Equal(t, uint64(0x0898), Uint([]byte{0x08, 0x98}))
	require.Equal(t, uint64(0x01020304), Uint([]byte{1, 2, 3, 4}))
	require.Equal(t, 220.0, Fixed([]byte{0x08, 0x98}, 1))
}

func TestClock(t *testing.T) {
	s, ok := Clock(0x09, 0x05, 0x00)
	require.True(t, ok)
	require.Equal(t, "09:05", s)

	s, ok = Clock(0x23, 0x59, 0x58)
	require.True(t, ok)
	require.Equal(t, "23:59:58", s)

	_, ok = Clock(0x23, 0x59, 0x5A)
	require.False(t, ok)
}

func TestDate(t *testing.T) {
	s, ok := Date(0x01, 0x12, 0x99)
	require.True(t, ok)
	require.Equal(t, "01:12:99", s)

	_, ok = Date(0x01, 0xF2, 0x99)
	require.False(t, ok)
}

func TestText(t *testing.T) {
	require.Equal(t, "ABC123", Text([]byte("\x06 ABC123  ")))
	require.Equal(t, "MF01", Text([]byte("MF01  \r\n:00")))
	require.Equal(t, "", Text([]byte("   ")))
}

func TestDecimal(t *testing.T) {
	v, ok := Decimal([]byte("001234.56"))
	require.True(t, ok)
	require.InDelta(t, 1234.56, v, 1e-9)

	_, ok = Decimal([]byte("12a4"))
	require.False(t, ok)
	_, ok = Decimal([]byte("     "))
	require.False(t, ok)

	v, ok = Decimal([]byte("-12.5"))
	require.True(t, ok)
	require.Equal(t, -12.5, v)
}

func TestDecimalRejectsNonPlainNumbers(t *testing.T) {
	for _, in := range []string{"      NaN", "+Inf", "-inf", "0x1p4", "1e3", "1.2.3", ".", "+", "12 34"} {
		_, ok := Decimal([]byte(in))
		require.False(t, ok, "%q", in)
	}
}

func TestPaddedID(t *testing.T) {
	require.Equal(t, "00000042", PaddedID([]byte{0, 0, 0, 42}, 8))
	require.Equal(t, "123456789", PaddedID([]byte{0x07, 0x5B, 0xCD, 0x15}, 7))
}
