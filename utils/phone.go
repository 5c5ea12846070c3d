package utils

import (
	"fmt"
	"strings"
)

// countryDialCodes maps ISO 3166-1 alpha-2 codes to E.164 dial codes for
// the regions we provision cells in.
var countryDialCodes = map[string]string{
	"US": "1", "CA": "1",
	"GB": "44", "IE": "353",
	"AU": "61", "NZ": "64",
	"DE": "49", "FR": "33", "ES": "34", "IT": "39", "NL": "31", "PT": "351",
	"BR": "55", "MX": "52", "CO": "57", "AR": "54",
	"IN": "91", "SG": "65", "PH": "63", "JP": "81",
	"ZA": "27", "NG": "234", "KE": "254",
	"AE": "971", "IL": "972",
}

// trunkZeroCountries use a leading national trunk "0" that must be dropped
// before prepending the dial code.
var trunkZeroCountries = map[string]bool{
	"GB": true, "IE": true, "AU": true, "NZ": true,
	"DE": true, "FR": true, "ES": true, "IT": true, "NL": true, "PT": true,
	"IN": true, "JP": true, "ZA": true, "NG": true, "KE": true, "IL": true,
	"AR": true,
}

// dialCodePreference resolves shared dial codes to a single region when
// inferring a country from a number.
var dialCodePreference = map[string]string{
	"1": "US",
}

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// NormalizePhone converts a raw phone string into its canonical "+<digits>"
// form using the given ISO country as the hint for national numbers. Two raw
// strings that denote the same number under the same country normalize to the
// same key, which is what contact dedup relies on.
func NormalizePhone(raw, country string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty phone number")
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '+' || r == '/':
			// common separators
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}
	num := digits.String()

	// Already international
	if hasPlus {
		if len(num) < minPhoneDigits+1 || len(num) > maxPhoneDigits {
			return "", fmt.Errorf("international number has %d digits", len(num))
		}
		return "+" + num, nil
	}
	if strings.HasPrefix(num, "00") {
		num = num[2:]
		if len(num) < minPhoneDigits+1 || len(num) > maxPhoneDigits {
			return "", fmt.Errorf("international number has %d digits", len(num))
		}
		return "+" + num, nil
	}

	dial, ok := countryDialCodes[strings.ToUpper(country)]
	if !ok {
		return "", fmt.Errorf("unsupported country %q", country)
	}

	// A national number sometimes arrives with the dial code already spelled
	// out ("14155550100" in the US). Only treat it that way when stripping
	// the code still leaves a full national number.
	if len(num) > 10 && strings.HasPrefix(num, dial) && len(num)-len(dial) >= minPhoneDigits {
		return "+" + num, nil
	}

	if trunkZeroCountries[strings.ToUpper(country)] {
		num = strings.TrimPrefix(num, "0")
	}
	if len(num) < minPhoneDigits || len(num)+len(dial) > maxPhoneDigits {
		return "", fmt.Errorf("national number has %d digits", len(num))
	}
	return "+" + dial + num, nil
}

// InferCountryFromPhone derives the ISO country of a canonical "+<digits>"
// number by longest-dial-code prefix match. Falls back to "US" when nothing
// matches, which keeps normalization usable for cells provisioned in regions
// we have not mapped yet.
func InferCountryFromPhone(phone string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")

	bestCountry := ""
	bestLen := 0
	for country, dial := range countryDialCodes {
		if !strings.HasPrefix(digits, dial) || len(dial) < bestLen {
			continue
		}
		if len(dial) > bestLen {
			bestCountry = country
			bestLen = len(dial)
			continue
		}
		// Same dial code shared by several regions: prefer the canonical one.
		if preferred, ok := dialCodePreference[dial]; ok {
			bestCountry = preferred
		}
	}
	if bestCountry == "" {
		return "US"
	}
	if preferred, ok := dialCodePreference[countryDialCodes[bestCountry]]; ok {
		return preferred
	}
	return bestCountry
}
