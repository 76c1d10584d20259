package enrich

import (
	"regexp"
	"strings"
)

var usStates = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming", "DC": "District of Columbia",
}

var caProvinces = map[string]string{
	"AB": "Alberta", "BC": "British Columbia", "MB": "Manitoba", "NB": "New Brunswick",
	"NL": "Newfoundland and Labrador", "NS": "Nova Scotia", "NT": "Northwest Territories",
	"NU": "Nunavut", "ON": "Ontario", "PE": "Prince Edward Island", "QC": "Quebec",
	"SK": "Saskatchewan", "YT": "Yukon",
}

var stateNameToAbbrev = func() map[string]string {
	m := make(map[string]string, len(usStates)+len(caProvinces))
	for abbr, full := range usStates {
		m[strings.ToLower(full)] = abbr
	}
	for abbr, full := range caProvinces {
		m[strings.ToLower(full)] = abbr
	}
	return m
}()

// InferredLocation is a "City, ST" location expanded with its country.
type InferredLocation struct {
	City        string `json:"city"`
	State       string `json:"state"`
	StateCode   string `json:"state_code"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Formatted   string `json:"formatted"`
}

var cityStateRe = regexp.MustCompile(`(?i)^(.+?),\s*([A-Z]{2})$`)

var cityFullStateRe = regexp.MustCompile(`^(.+?),\s*([A-Za-z\s]+?)(?:,\s*(.+))?$`)

// InferCountryFromState expands "City, ST" into a location with its
// country when ST is a US state or Canadian province code. Returns nil
// when the shape or code doesn't match.
func InferCountryFromState(location string) *InferredLocation {
	m := cityStateRe.FindStringSubmatch(strings.TrimSpace(location))
	if m == nil {
		return nil
	}
	city := strings.TrimSpace(m[1])
	code := strings.ToUpper(m[2])

	if full, ok := usStates[code]; ok {
		return &InferredLocation{
			City: city, State: full, StateCode: code,
			Country: "United States", CountryCode: "US",
			Formatted: city + ", " + code + ", United States",
		}
	}
	if full, ok := caProvinces[code]; ok {
		return &InferredLocation{
			City: city, State: full, StateCode: code,
			Country: "Canada", CountryCode: "CA",
			Formatted: city + ", " + code + ", Canada",
		}
	}
	return nil
}

// NormalizeLocation rewrites "Austin, Texas" to "Austin, TX" and
// "Toronto, Ontario" to "Toronto, ON". Unrecognized locations pass
// through trimmed.
func NormalizeLocation(location string) string {
	trimmed := strings.TrimSpace(location)
	if trimmed == "" {
		return trimmed
	}

	if m := cityStateRe.FindStringSubmatch(trimmed); m != nil {
		code := strings.ToUpper(m[2])
		if _, us := usStates[code]; us {
			return strings.TrimSpace(m[1]) + ", " + code
		}
		if _, ca := caProvinces[code]; ca {
			return strings.TrimSpace(m[1]) + ", " + code
		}
	}

	if m := cityFullStateRe.FindStringSubmatch(trimmed); m != nil {
		if abbrev, ok := stateNameToAbbrev[strings.ToLower(strings.TrimSpace(m[2]))]; ok {
			out := strings.TrimSpace(m[1]) + ", " + abbrev
			if country := strings.TrimSpace(m[3]); country != "" {
				out += ", " + country
			}
			return out
		}
	}
	return trimmed
}
