package dataprocessing

import (
	"regexp"
	"strings"

	"donorpulse/pkg/contracts/domain"
)

// accountPrefix matches the "4010 ∑ " style decoration accounting exports put in front of account labels.
var accountPrefix = regexp.MustCompile(`^\d+\s*∑\s*`)

// IsTotalName reports whether a donor name marks a year-total row.
func IsTotalName(name string) bool {
	return strings.HasPrefix(strings.TrimSpace(name), domain.TotalPrefix)
}

// CleanAccount strips the numeric summation prefix from an account label.
func CleanAccount(account string) string {
	return accountPrefix.ReplaceAllString(account, "")
}

// DonorName returns the donor a total row belongs to ("Total Alice" -> "Alice").
// Names without the total prefix are returned trimmed.
func DonorName(name string) string {
	trimmed := strings.TrimSpace(name)
	if !strings.HasPrefix(trimmed, domain.TotalPrefix) {
		return trimmed
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, domain.TotalPrefix))
}
