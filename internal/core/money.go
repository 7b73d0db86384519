// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between cents and decimal representations.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxCents bounds a single amount, leaving room for ledger totals to be
// summed in int64.
const MaxCents int64 = 1_000_000_000_000_000

var hundred = decimal.NewFromInt(100)

// ParseDecimalToCents converts a decimal string to cents with half-up rounding.
//
// It accepts a dot (12.34) or a single decimal comma followed by one or two
// digits (12,34). Grouping separators are rejected rather than guessed at, so
// "1,000" is an error and not 1.00. Zero is a valid amount here; negative
// values, signs and amounts above MaxCents are rejected.
//
// Examples:
//
//	ParseDecimalToCents("12.34")    -> 1234, nil
//	ParseDecimalToCents("12,34")    -> 1234, nil
//	ParseDecimalToCents("12.345")   -> 1235, nil
//	ParseDecimalToCents("1,000")    -> 0, ErrInvalidAmount
//	ParseDecimalToCents("1,000.50") -> 0, ErrInvalidAmount
//	ParseDecimalToCents("-1")       -> 0, ErrInvalidAmount
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		frac := s[i+1:]
		if strings.ContainsAny(frac, ",.") || strings.Contains(s[:i], ".") || len(frac) < 1 || len(frac) > 2 {
			return 0, ErrInvalidAmount
		}
		s = s[:i] + "." + frac
	}
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0)
	if !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(MaxCents)) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// ParseMoney is ParseDecimalToCents returning a Money value.
func ParseMoney(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two fixed decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Add saturates at the int64 limits instead of wrapping.
func (m Money) Add(o Money) Money {
	sum := m.Cents + o.Cents
	switch {
	case o.Cents > 0 && sum < m.Cents:
		sum = math.MaxInt64
	case o.Cents < 0 && sum > m.Cents:
		sum = math.MinInt64
	}
	return Money{Cents: sum}
}

func (m Money) Sub(o Money) Money {
	diff := m.Cents - o.Cents
	switch {
	case o.Cents < 0 && diff < m.Cents:
		diff = math.MaxInt64
	case o.Cents > 0 && diff > m.Cents:
		diff = math.MinInt64
	}
	return Money{Cents: diff}
}

func (m Money) Less(o Money) bool {
	return m.Cents < o.Cents
}
