package momo

import (
	"strings"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

const countryCode = "260"

// DefaultPrefixes maps provider codes to the operator prefixes that follow the
// country code. Providers may override them through PhonePrefixes.
var DefaultPrefixes = map[string][]string{
	"MTN":    {"96", "76"},
	"AIRTEL": {"97", "77"},
	"ZAMTEL": {"95", "75"},
}

// NormalizePhone accepts 0XXXXXXXXX, 260XXXXXXXXX and +260XXXXXXXXX, ignoring
// spaces and dashes, and returns the 260XXXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case len(cleaned) == 10 && strings.HasPrefix(cleaned, "0"):
		cleaned = countryCode + cleaned[1:]
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, countryCode):
	default:
		return "", errors.NewAppError(errors.ValidationError, "Invalid phone number format").
			WithFields("phone_number: expected 0XXXXXXXXX or 260XXXXXXXXX")
	}

	for _, c := range cleaned {
		if c < '0' || c > '9' {
			return "", errors.NewAppError(errors.ValidationError, "Invalid phone number format").
				WithFields("phone_number: must contain digits only")
		}
	}
	if cleaned[3] != '7' && cleaned[3] != '9' {
		return "", errors.NewAppError(errors.ValidationError, "Invalid phone number format").
			WithFields("phone_number: not a mobile number")
	}
	return cleaned, nil
}

// OperatorPrefix returns the two digits after the country code of a normalised number.
func OperatorPrefix(normalized string) string {
	if len(normalized) < 5 {
		return ""
	}
	return normalized[3:5]
}

func prefixesFor(p *domain.Provider) []string {
	if len(p.PhonePrefixes) > 0 {
		return p.PhonePrefixes
	}
	return DefaultPrefixes[strings.ToUpper(p.Code)]
}

// ServesNumber reports whether the provider's prefixes cover the number.
func ServesNumber(p *domain.Provider, normalized string) bool {
	prefix := OperatorPrefix(normalized)
	for _, candidate := range prefixesFor(p) {
		if candidate == prefix {
			return true
		}
	}
	return false
}

// DetectProvider picks the active provider whose prefixes cover a normalised
// number. A number no active provider serves is never routed.
func DetectProvider(normalized string, active []*domain.Provider) (*domain.Provider, error) {
	for _, p := range active {
		if ServesNumber(p, normalized) {
			return p, nil
		}
	}
	return nil, errors.NewAppErrorf(errors.UnknownProviderError,
		"Could not detect a provider for numbers starting with %s", OperatorPrefix(normalized))
}
