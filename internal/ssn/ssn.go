// Package ssn handles Icelandic national IDs (kennitala) as typed by voters.
//
// Validation is structural only: ten digits with a plausible day and month.
// The modulus-11 check digit and the century digit are not verified.
package ssn

import (
	"strconv"
	"strings"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

// Length is the number of digits in a national ID.
const Length = 10

// Normalize strips every non-digit character.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format renders input as DDMMYY-XXXX. Partial input is formatted as far as
// it goes and anything past ten digits is dropped.
func Format(input string) string {
	digits := Normalize(input)
	if len(digits) > Length {
		digits = digits[:Length]
	}
	if len(digits) <= 6 {
		return digits
	}
	return digits[:6] + "-" + digits[6:]
}

// Validate reports whether input normalizes to a structurally valid ID.
func Validate(input string) bool {
	return Check(input) == nil
}

// Check is Validate with a reason attached.
func Check(input string) error {
	digits := Normalize(input)
	if len(digits) != Length {
		return apperrors.InvalidInput("national ID must be 10 digits")
	}

	day, _ := strconv.Atoi(digits[0:2])
	if day < 1 || day > 31 {
		return apperrors.InvalidInput("national ID has an invalid day")
	}

	month, _ := strconv.Atoi(digits[2:4])
	if month < 1 || month > 12 {
		return apperrors.InvalidInput("national ID has an invalid month")
	}

	return nil
}
