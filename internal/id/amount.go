package id

import (
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

// NormalizeDecimal validates a non-negative decimal string and strips redundant zeros.
func NormalizeDecimal(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if !decimalPattern.MatchString(clean) {
		return "", clierr.New(clierr.CodeUsage, "amount must be in decimal form like 1.23")
	}
	return normalizeDecimal(clean), nil
}

// ToBaseUnits converts a decimal amount into integer base units for a token with the
// given decimals. Precision beyond the token's decimals is truncated, never rounded up.
func ToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	clean, err := NormalizeDecimal(decimal)
	if err != nil {
		return nil, err
	}
	intPart, fracPart, _ := strings.Cut(clean, ".")
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return out, nil
}

// IsPositiveDecimal reports whether v parses as a decimal strictly greater than zero.
func IsPositiveDecimal(v string) bool {
	clean, err := NormalizeDecimal(v)
	if err != nil {
		return false
	}
	return strings.Trim(clean, "0.") != ""
}

// FormatUnits converts base units into a decimal string.
func FormatUnits(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	return formatDecimal(baseUnits.String(), decimals)
}

func formatDecimal(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return "0"
	}
	if decimals == 0 {
		return n.String()
	}
	negative := n.Sign() < 0
	s := new(big.Int).Abs(n).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out
}

func normalizeDecimal(v string) string {
	intPart, fracPart, hasFrac := strings.Cut(v, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac {
		return intPart
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
