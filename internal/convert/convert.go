// Package convert holds the shared helpers used by the per-exchange
// payload converters. Required fields that are missing or non-numeric fail
// with a DataValidationError rather than degrading to zero.
package convert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DataValidationError reports a payload field that could not be converted.
type DataValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("invalid field %q value %q: %v", e.Field, e.Value, e.Err)
}

func (e *DataValidationError) Unwrap() error { return e.Err }

// Dec parses a required decimal field.
func Dec(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, &DataValidationError{Field: field, Value: raw, Err: fmt.Errorf("missing")}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &DataValidationError{Field: field, Value: raw, Err: err}
	}
	return v, nil
}

// OptDec parses an optional decimal field. Empty input yields zero without
// error; malformed input is still an error.
func OptDec(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return Dec(field, raw)
}

// MillisTime parses a millisecond epoch timestamp carried as a string.
func MillisTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, &DataValidationError{Field: field, Value: raw, Err: fmt.Errorf("missing")}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, &DataValidationError{Field: field, Value: raw, Err: err}
	}
	return time.UnixMilli(ms), nil
}

// MillisTimeInt converts a millisecond epoch carried as an integer.
func MillisTimeInt(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ChangeFromOpen derives the absolute and percentage 24h change from the
// last price and the price 24 hours ago.
func ChangeFromOpen(last, open decimal.Decimal) (change, percent decimal.Decimal) {
	change = last.Sub(open)
	if open.IsZero() {
		return change, decimal.Zero
	}
	percent = change.Div(open).Mul(decimal.NewFromInt(100))
	return change, percent
}
