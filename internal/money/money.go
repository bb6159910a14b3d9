// Package money converts between decimal currency amounts and the integer
// minor-unit representation the payment provider settles in. The scale is
// fixed at 1e6 (a 6-decimal stablecoin); all conversions are pure integer
// arithmetic so amounts survive round trips without floating-point drift.
package money

import (
	"fmt"
	"math"
	"strings"
)

// Scale is the number of minor units per whole currency unit.
const Scale int64 = 1_000_000

// Decimals is the number of fractional digits Scale supports.
const Decimals = 6

// centsPerUnit bridges the 2-decimal fiat amounts stored in the database
// to the 6-decimal minor units sent to the provider.
const centsPerUnit int64 = 100

// ParseDecimal converts a decimal string like "135.50" into minor units.
// It rejects empty input, malformed numbers, more than 6 fractional digits,
// and values that would overflow int64.
func ParseDecimal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("malformed amount")
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", s, Decimals)
	}
	if whole == "" {
		whole = "0"
	}

	var wholePart int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		digit := int64(c - '0')
		if wholePart > (math.MaxInt64-digit)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		wholePart = wholePart*10 + digit
	}

	var fracPart int64
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		fracPart = fracPart*10 + int64(c-'0')
	}
	// scale the fraction up to exactly Decimals digits
	for i := len(frac); i < Decimals; i++ {
		fracPart *= 10
	}

	if wholePart > (math.MaxInt64-fracPart)/Scale {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	minor := wholePart*Scale + fracPart
	if neg {
		minor = -minor
	}
	return minor, nil
}

// Format renders minor units as a canonical decimal string. Trailing zeros
// beyond two fraction digits are trimmed, so Format(ParseDecimal(x)) returns
// x for any normalized input.
func Format(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}

	whole := minor / Scale
	frac := minor % Scale

	fracStr := fmt.Sprintf("%06d", frac)
	// keep at least 2 digits for fiat display
	for len(fracStr) > 2 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}

	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}

// CentsToMinorUnits converts a fiat cent amount to provider minor units.
func CentsToMinorUnits(cents int64) int64 {
	return cents * (Scale / centsPerUnit)
}

// MinorUnitsToCents converts provider minor units back to fiat cents. It
// errors if the amount carries precision below one cent, since silently
// rounding a settlement amount would desynchronize the books.
func MinorUnitsToCents(minor int64) (int64, error) {
	perCent := Scale / centsPerUnit
	if minor%perCent != 0 {
		return 0, fmt.Errorf("minor amount %d is not representable in cents", minor)
	}
	return minor / perCent, nil
}

// FormatCents renders a cent amount as a decimal string, e.g. 13550 -> "135.50".
func FormatCents(cents int64) string {
	return Format(CentsToMinorUnits(cents))
}
