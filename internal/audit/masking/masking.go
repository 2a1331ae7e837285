package masking

import (
	"fmt"
	"strings"
)

const maskToken = "****"

var sensitiveBankKeys = map[string]struct{}{
	"account_number": {},
	"iban":           {},
	"routing_number": {},
	"sort_code":      {},
	"card_number":    {},
}

// MaskSecret redacts a value while keeping the last four characters for support lookups.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskBankDetails returns a copy of a bank details snapshot safe for audit logs and API output.
func MaskBankDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}

	masked := make(map[string]any, len(details))
	for key, value := range details {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" {
			continue
		}
		if _, ok := sensitiveBankKeys[normalized]; ok {
			masked[key] = MaskSecret(fmt.Sprint(value))
			continue
		}
		masked[key] = value
	}
	return masked
}
