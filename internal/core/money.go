// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts typed into forms
// and formatting decimal amounts for display.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts user input into a non-negative decimal rounded to
// cents.
//
// Both separator conventions are accepted. When the input carries both '.'
// and ',' the rightmost one is the decimal separator. A single kind of
// separator is read as a thousands separator when it repeats or when exactly
// three digits follow it; otherwise it marks the decimals. Currency symbols
// and spaces are ignored.
//
// Examples:
//
//	ParseAmount("1234.56")     -> 1234.56
//	ParseAmount("1234,56")     -> 1234.56
//	ParseAmount("48.000.000")  -> 48000000
//	ParseAmount("$1,250,000")  -> 1250000
//	ParseAmount("1.250.000,5") -> 1250000.5
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '$' || r == '€' || r == '£' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return decimal.Zero, ErrInvalidAmount
		}
	}

	normalized, ok := normalizeSeparators(s)
	if !ok {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// ParseOptionalAmount is ParseAmount where a blank field means zero.
func ParseOptionalAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return ParseAmount(s)
}

// ParsePositiveAmount rejects zero on top of ParseAmount.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseRate reads a monthly percentage such as "1.4", "1,125" or "0.875%".
// Either '.' or ',' may mark the decimals; there is no digit grouping and no
// rounding, so every decimal typed is kept.
func ParseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	s = strings.TrimSpace(s)
	if s == "" || strings.Count(s, ".")+strings.Count(s, ",") > 1 {
		return decimal.Zero, ErrInvalidRate
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return decimal.Zero, ErrInvalidRate
		}
	}
	s = strings.Replace(s, ",", ".", 1)
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return decimal.Zero, ErrInvalidRate
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidRate
	}
	return d, nil
}

// ParseOptionalRate is ParseRate where a blank field means zero.
func ParseOptionalRate(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return ParseRate(s)
}

func normalizeSeparators(s string) (string, bool) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot < 0 && lastComma < 0:
		return s, true
	case lastDot >= 0 && lastComma >= 0:
		decSep, thouSep := ".", ","
		if lastComma > lastDot {
			decSep, thouSep = ",", "."
		}
		if strings.Count(s, decSep) != 1 {
			return "", false
		}
		intPart, frac, _ := strings.Cut(s, decSep)
		if !validGrouping(intPart, thouSep) {
			return "", false
		}
		return strings.ReplaceAll(intPart, thouSep, "") + "." + frac, true
	default:
		sep := "."
		idx := lastDot
		if lastComma >= 0 {
			sep, idx = ",", lastComma
		}
		if strings.Count(s, sep) > 1 {
			if !validGrouping(s, sep) {
				return "", false
			}
			return strings.ReplaceAll(s, sep, ""), true
		}
		if len(s)-idx-1 == 3 && validGrouping(s, sep) {
			return strings.ReplaceAll(s, sep, ""), true
		}
		return strings.Replace(s, sep, ".", 1), true
	}
}

// validGrouping checks that every group after the first has three digits.
func validGrouping(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups) < 2 {
		return true
	}
	if groups[0] == "" || groups[0][0] == '0' || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// FormatMoney renders an amount with thousands separators and two decimals,
// e.g. 1062466.5 -> "1,062,466.50".
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
