// Package identity validates caller credentials: CPF checksum and
// ISO birth-date format. Pure functions, no I/O.
package identity

import (
	"regexp"
	"strings"
	"time"
)

var (
	nonDigits  = regexp.MustCompile(`[^0-9]`)
	cpfPattern = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
)

// ValidateDate returns the date string unchanged when it parses as an ISO
// calendar date (YYYY-MM-DD), empty string otherwise.
func ValidateDate(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return ""
	}
	return s
}

// ValidateCPF strips non-digits and verifies the two weighted mod-11 check
// digits. Returns the normalized 11-digit string, or empty on failure.
// An id of 11 identical digits is always rejected.
func ValidateCPF(cpf string) string {
	cpf = nonDigits.ReplaceAllString(cpf, "")
	if len(cpf) != 11 || allSameDigit(cpf) {
		return ""
	}

	if checkDigit(cpf, 9, 10) != int(cpf[9]-'0') {
		return ""
	}
	if checkDigit(cpf, 10, 11) != int(cpf[10]-'0') {
		return ""
	}
	return cpf
}

// ExtractCPF scans free text for a 3-3-3-2 digit-group pattern (dots and
// dash optional) and validates the first match.
func ExtractCPF(text string) string {
	match := cpfPattern.FindString(text)
	if match == "" {
		return ""
	}
	return ValidateCPF(match)
}

// checkDigit computes one verification digit over cpf[0:n] with weights
// firstWeight..2. A weighted sum s maps to (s*10)%11, with 10 folded to 0.
func checkDigit(cpf string, n, firstWeight int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(cpf[i]-'0') * (firstWeight - i)
	}
	digit := sum * 10 % 11
	if digit == 10 {
		digit = 0
	}
	return digit
}

func allSameDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
