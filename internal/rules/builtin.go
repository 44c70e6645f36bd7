package rules

import "github.com/opensource-finance/callshield/internal/domain"

// BuiltinPatterns returns the default pattern set. Patterns stored in the
// repository are appended after these when the service starts.
func BuiltinPatterns() []*domain.SensitivePattern {
	return []*domain.SensitivePattern{
		{
			ID:       "bank-info",
			TenantID: domain.GlobalTenantID,
			Name:     "Bank account details",
			Category: domain.CategoryBankInfo,
			Severity: 40,
			Keywords: []string{
				"account number", "bank account", "bank details", "routing number",
				"card number", "cvv", "pin number", "pin code", "sort code", "iban",
				"one-time password", "verification code",
			},
			Enabled: true,
		},
		{
			ID:       "personal-id",
			TenantID: domain.GlobalTenantID,
			Name:     "Personal identity",
			Category: domain.CategoryPersonalID,
			Severity: 40,
			Keywords: []string{
				"social security", "ssn", "passport number", "date of birth",
				"driver's license", "national id", "personal id", "aadhaar", "tax id",
			},
			Enabled: true,
		},
		{
			ID:       "scam-pressure",
			TenantID: domain.GlobalTenantID,
			Name:     "High-pressure scam language",
			Category: domain.CategoryScamPressure,
			Severity: 20,
			Keywords: []string{
				"act now", "urgent", "immediately", "gift card", "wire transfer",
				"do not hang up", "don't hang up", "don't tell anyone",
				"account will be suspended", "arrest warrant", "final notice",
			},
			Enabled: true,
		},
	}
}
