package postproc

import (
	"regexp"
	"strings"
)

// Street-type tokens accepted in a numbered-street address.
var streetTypes = []string{
	"street", "st", "avenue", "ave", "road", "rd", "drive", "dr",
	"lane", "ln", "place", "pl", "court", "ct", "circle", "cir",
	"boulevard", "blvd", "parkway", "pkwy", "way", "trail",
	"terrace", "ter", "alley", "loop", "row", "plaza", "square",
}

var (
	streetTypeAlt = strings.Join(streetTypes, "|")

	// After the last dispatched unit the address usually follows directly.
	unitSequencePattern = regexp.MustCompile(
		`(?i)\b(?:engine|medic|ambulance|squad|rescue|ladder|ems)\s+\d+[, ]+`)

	// House number, optional cardinal, one to four name words, street type.
	// A comma straight after the number survives comma-joined digit grouping
	// ("10,301, Terminal Way" reconstructs to "10301, Terminal Way").
	numberedStreetPattern = regexp.MustCompile(
		`(?i)\b(\d{1,6}),?\s+((?:(?:north|south|east|west|n|s|e|w)\.?\s+)?` +
			`(?:[a-z0-9]+\s+){1,4}?(?:` + streetTypeAlt + `))\b`)

	intersectionPattern = regexp.MustCompile(
		`(?i)\b((?:[a-z0-9]+\s+){1,3}?(?:` + streetTypeAlt + `))\s+(?:and|&|at)\s+` +
			`((?:[a-z0-9]+\s+){1,3}?(?:` + streetTypeAlt + `))\b`)

	gridPattern = regexp.MustCompile(
		`(?i)\b([nsew])\s*(\d+)\s*&\s*(\d+)\s*([nsew])\b`)

	streetTypePattern = regexp.MustCompile(`(?i)\b(?:` + streetTypeAlt + `)\b`)
	unitTokenPattern  = regexp.MustCompile(
		`(?i)\b(?:engine|medic|ambulance|squad|rescue|ladder|ems|truck|battalion|chief)\b`)
	hasLetterPattern = regexp.MustCompile(`[a-zA-Z]`)
)

// Words that appear in chief-complaint phrases. A candidate made up
// entirely of these is a misparsed call type, not an address.
var callTypeWords = map[string]bool{
	"cardiac": true, "arrest": true, "chest": true, "pain": true, "heart": true,
	"difficulty": true, "breathing": true, "unconscious": true, "fainting": true,
	"seizure": true, "choking": true, "sick": true, "injured": true, "person": true,
	"abdominal": true, "back": true, "overdose": true, "psychiatric": true,
	"mental": true, "emotional": true, "fire": true, "hazmat": true, "trash": true,
	"vehicle": true, "accident": true, "trauma": true, "assault": true,
	"gunshot": true, "wound": true, "building": true, "alarm": true,
	"investigation": true, "environmental": true, "childbirth": true,
	"medical": true, "emergency": true,
}

// Address is an extracted incident location with pattern confidence.
type Address struct {
	Text       string
	Confidence float64
}

// AddressOptions tunes validation. RejectCallTypeWords drops candidates
// composed only of complaint-phrase words ("Chest Pain" is not a street);
// on by default, tunable because it can mask real streets named after them.
type AddressOptions struct {
	RejectCallTypeWords bool
}

// ExtractAddress tries four pattern families in order of specificity and
// returns the first candidate that survives validation.
func ExtractAddress(transcript string, opts AddressOptions) *Address {
	// 1. Text following the last dispatched unit.
	if locs := unitSequencePattern.FindAllStringIndex(transcript, -1); len(locs) > 0 {
		tail := transcript[locs[len(locs)-1][1]:]
		if m := numberedStreetPattern.FindStringSubmatch(tail); m != nil {
			if a := validate(m[1]+" "+m[2], false, opts); a != "" {
				return &Address{Text: a, Confidence: 0.95}
			}
		}
	}

	// 2. Numbered street anywhere.
	if m := numberedStreetPattern.FindStringSubmatch(transcript); m != nil {
		if a := validate(m[1]+" "+m[2], false, opts); a != "" {
			return &Address{Text: a, Confidence: 0.85}
		}
	}

	// 3. Intersection.
	if m := intersectionPattern.FindStringSubmatch(transcript); m != nil {
		if a := validate(m[1]+" and "+m[2], true, opts); a != "" {
			return &Address{Text: a, Confidence: 0.8}
		}
	}

	// 4. Grid coordinate.
	if m := gridPattern.FindStringSubmatch(transcript); m != nil {
		a := strings.ToUpper(m[1]) + " " + m[2] + " & " + m[3] + " " + strings.ToUpper(m[4])
		return &Address{Text: a, Confidence: 0.6}
	}

	return nil
}

// validate normalizes a candidate and applies the rejection rules. Returns
// "" when the candidate is not a plausible address.
func validate(candidate string, relaxStreetType bool, opts AddressOptions) string {
	c := strings.Join(strings.Fields(strings.ReplaceAll(candidate, ",", " ")), " ")
	c = strings.TrimRight(c, " .")

	if len(c) < 3 {
		return ""
	}
	if !hasLetterPattern.MatchString(c) {
		return ""
	}
	if !relaxStreetType && !streetTypePattern.MatchString(c) {
		return ""
	}
	if unitTokenPattern.MatchString(c) {
		return ""
	}
	if opts.RejectCallTypeWords && allCallTypeWords(c) {
		return ""
	}
	return c
}

// allCallTypeWords checks the street-name portion of a candidate: house
// numbers and street-type tokens are skipped, and if every remaining word
// is a complaint-phrase word the candidate is a misparsed call type.
func allCallTypeWords(candidate string) bool {
	var nameWords []string
	for _, w := range strings.Fields(strings.ToLower(candidate)) {
		if !hasLetterPattern.MatchString(w) || streetTypePattern.MatchString(w) {
			continue
		}
		nameWords = append(nameWords, w)
	}
	if len(nameWords) == 0 {
		return false
	}
	for _, w := range nameWords {
		if !callTypeWords[w] {
			return false
		}
	}
	return true
}
