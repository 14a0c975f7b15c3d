package units

import (
	"regexp"
	"strconv"
	"strings"
)

// Unit is a parsed apparatus reference from a transcript.
type Unit struct {
	Type   string `json:"unit_type"`
	Number int    `json:"unit_number"`
}

// UnitTypes is the closed set of recognized apparatus types.
var UnitTypes = []string{
	"ambulance", "ems", "medic", "squad", "engine",
	"ladder", "rescue", "truck", "battalion", "chief",
}

// Unit numbers are two digits max. Three-digit tokens ("Engine 995") fail
// the word boundary and are dropped rather than truncated.
var unitPattern = regexp.MustCompile(
	`(?i)\b(` + strings.Join(UnitTypes, "|") + `)\s*(\d{1,2})(?:[-,]\d{1,2})?\b`)

// Parse scans a cleaned transcript for unit tokens. Numbers outside [1,99]
// are dropped. Results are deduplicated in order of first appearance.
func Parse(transcript string) []Unit {
	matches := unitPattern.FindAllStringSubmatch(transcript, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[Unit]bool, len(matches))
	var out []Unit
	for _, m := range matches {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 || n > 99 {
			continue
		}
		u := Unit{Type: strings.ToLower(m[1]), Number: n}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// DisplayName renders a unit for UI labels ("Engine 19").
func (u Unit) DisplayName() string {
	return strings.ToUpper(u.Type[:1]) + u.Type[1:] + " " + strconv.Itoa(u.Number)
}

// StripUnitTokens removes every unit token from a transcript. The call
// linker uses this to detect units-only fragments.
func StripUnitTokens(transcript string) string {
	return unitPattern.ReplaceAllString(transcript, "")
}
