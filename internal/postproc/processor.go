package postproc

import (
	"regexp"
	"strings"

	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/units"
)

// Result is the post-processor output for one raw transcript.
type Result struct {
	Cleaned         string
	IsNoise         bool
	IsHallucination bool
	Address         *Address
	Units           []units.Unit
	CallType        string
	Acuity          string
	Confidence      float64
	ParseErrors     int
}

var (
	beepMarkerPattern = regexp.MustCompile(`(?i)\{(?:beeping|beep|tone|tones|static)\}|\[(?:beeping|beep|tone|tones|static)\]`)
	promoPattern      = regexp.MustCompile(`(?i)for more .{0,40}(?:visit|go to)|subscribe|https?://|www\.|\.com\b|\.org\b|youtube|thanks for watching`)
	digitsPunctOnly   = regexp.MustCompile(`^[\d\s[:punct:]]*$`)

	commaJoinedDigits = regexp.MustCompile(`\b(\d{1,3}),(\d{3})\b`)
	dashJoinedDigits  = regexp.MustCompile(`\b(\d{1,4})-(\d{1,4})\b`)
	spacedDigitGroups = regexp.MustCompile(`\b(\d{1,3})( \d{1,3}){1,3}\b`)

	spokenAcuity   = regexp.MustCompile(`(?i)\b(?:(alpha)|(bravo)|(charlie))\b`)
	trailingAcuity = regexp.MustCompile(`\b([ABC])\s*\.?\s*$`)

	wideUnitPattern = regexp.MustCompile(
		`(?i)\b(?:` + strings.Join(units.UnitTypes, "|") + `)\s*(\d+)\b`)
)

// Processor cleans raw transcripts and extracts structured dispatch fields.
// Process is a pure function of its input and the current dictionary.
type Processor struct {
	dict *Dictionary
	opts AddressOptions
}

func NewProcessor(dict *Dictionary) *Processor {
	return &Processor{
		dict: dict,
		opts: AddressOptions{RejectCallTypeWords: true},
	}
}

// Process cleans a raw transcript and extracts address, units, call type,
// and acuity. Output confidence is input scaled down 5% per parse error;
// noise or hallucination clamps it to 0.1.
func (p *Processor) Process(raw string, rawConfidence float64) Result {
	res := Result{Cleaned: collapseWhitespace(raw)}

	res.IsNoise = isNoise(res.Cleaned)
	res.IsHallucination = isHallucination(res.Cleaned)
	if res.IsNoise || res.IsHallucination {
		res.CallType = classify.TypeNonEmergency
		res.Confidence = 0.1
		return res
	}

	if p.dict != nil {
		res.Cleaned = p.dict.Apply(res.Cleaned)
	}
	res.Cleaned = reconstructNumbers(res.Cleaned)

	if addr := ExtractAddress(res.Cleaned, p.opts); addr != nil {
		res.Address = addr
	}
	res.Units = units.Parse(res.Cleaned)
	res.ParseErrors += countDroppedUnits(res.Cleaned)

	res.CallType = classify.MatchCallType(res.Cleaned)
	res.Acuity = extractAcuity(res.Cleaned)

	conf := rawConfidence * (1 - 0.05*float64(res.ParseErrors))
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	res.Confidence = conf
	return res
}

func isNoise(t string) bool {
	trimmed := strings.TrimSpace(t)
	if trimmed == "" {
		return true
	}
	if beepMarkerPattern.MatchString(trimmed) {
		return true
	}
	if len(strings.Fields(trimmed)) == 1 {
		return true
	}
	return digitsPunctOnly.MatchString(trimmed)
}

func isHallucination(t string) bool {
	return promoPattern.MatchString(t)
}

// reconstructNumbers rejoins digit groups the transcription engine splits:
// "10,301" -> "10301", "78-47" -> "7847", "78 47 12" -> "784712".
func reconstructNumbers(t string) string {
	t = commaJoinedDigits.ReplaceAllString(t, "$1$2")
	t = dashJoinedDigits.ReplaceAllString(t, "$1$2")
	t = spacedDigitGroups.ReplaceAllStringFunc(t, func(m string) string {
		return strings.ReplaceAll(m, " ", "")
	})
	return collapseWhitespace(t)
}

func collapseWhitespace(t string) string {
	return strings.Join(strings.Fields(t), " ")
}

// countDroppedUnits counts unit tokens whose number fell outside [1,99].
// Each one is a parse error that lowers output confidence.
func countDroppedUnits(t string) int {
	dropped := 0
	for _, m := range wideUnitPattern.FindAllStringSubmatch(t, -1) {
		if len(m[1]) > 2 {
			dropped++
		}
	}
	return dropped
}

func extractAcuity(t string) string {
	if m := spokenAcuity.FindStringSubmatch(t); m != nil {
		switch {
		case m[1] != "":
			return "A"
		case m[2] != "":
			return "B"
		default:
			return "C"
		}
	}
	if m := trailingAcuity.FindStringSubmatch(t); m != nil {
		return m[1]
	}
	return ""
}
