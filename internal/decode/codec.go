package decode

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const ack = 0x06

// Uint reads b as an unsigned big-endian integer. Widths above 8 bytes
// keep only the low 64 bits.
func Uint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Fixed reads b as an unsigned big-endian integer scaled by 10^-decimals.
func Fixed(b []byte, decimals int) float64 {
	return float64(Uint(b)) / math.Pow10(decimals)
}

// PutFixed encodes v*10^decimals into dst as an unsigned big-endian
// integer, rounding to the nearest unit.
func PutFixed(dst []byte, v float64, decimals int) {
	n := uint64(math.Round(v * math.Pow10(decimals)))
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(n)
		n >>= 8
	}
}

// BCD decodes one packed BCD byte into 0..99. Nibbles above 9 are rejected.
func BCD(b byte) (int, bool) {
	hi, lo := b>>4, b&0x0F
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return int(hi)*10 + int(lo), true
}

// ToBCD packs n (0..99) into one BCD byte.
func ToBCD(n int) byte {
	return byte((n/10)%10)<<4 | byte(n%10)
}

// Clock renders BCD hour, minute and second as hh:mm or hh:mm:ss. A zero
// seconds byte is omitted, as the meters send it when they carry no seconds.
func Clock(h, m, s byte) (string, bool) {
	hh, ok1 := BCD(h)
	mm, ok2 := BCD(m)
	if !ok1 || !ok2 {
		return "", false
	}
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", hh, mm), true
	}
	ss, ok := BCD(s)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss), true
}

// Date renders BCD day, month and two-digit year as dd:mm:yy.
func Date(d, m, y byte) (string, bool) {
	dd, ok1 := BCD(d)
	mm, ok2 := BCD(m)
	yy, ok3 := BCD(y)
	if !ok1 || !ok2 || !ok3 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:%02d", dd, mm, yy), true
}

// Text extracts an ASCII field: it ends at the first CR, LF or NUL, ACK
// bytes are dropped and surrounding whitespace trimmed.
func Text(b []byte) string {
	if i := bytes.IndexAny(b, "\r\n\x00"); i >= 0 {
		b = b[:i]
	}
	b = bytes.ReplaceAll(b, []byte{ack}, nil)
	return strings.TrimSpace(string(b))
}

// Decimal parses an ASCII decimal field such as "001234.56": an optional
// sign, digits and at most one point. Anything else, including NaN, Inf,
// exponents and hex floats, is rejected.
func Decimal(b []byte) (float64, bool) {
	s := Text(b)
	if !isPlainDecimal(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isPlainDecimal(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	digits, points := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			points++
		default:
			return false
		}
	}
	return digits > 0 && points <= 1
}

// PaddedID renders a big-endian integer in decimal, left-padded with zeros
// to at least digits characters.
func PaddedID(b []byte, digits int) string {
	return fmt.Sprintf("%0*d", digits, Uint(b))
}
