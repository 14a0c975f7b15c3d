package classify

import (
	"strings"
)

// Classification is the classifier output for one call.
type Classification struct {
	CallType     string
	Keywords     []string
	AcuityLevel  string
	UrgencyScore float64
}

// MatchCallType maps a cleaned transcript to the taxonomy. When keywords
// from several types match, the longest keyword wins (most specific).
// Returns TypeUnknown when nothing matches.
func MatchCallType(transcript string) string {
	lower := strings.ToLower(transcript)

	best := TypeUnknown
	bestLen := 0
	for _, callType := range AllTypes {
		for _, kw := range typeKeywords[callType] {
			if strings.Contains(lower, kw) && len(kw) > bestLen {
				best = callType
				bestLen = len(kw)
			}
		}
	}
	return best
}

// Classify confirms the extracted call type (or derives one as a last
// resort), collects matched keywords, and scores urgency. The acuity
// letter comes from the post-processor; absent means "unknown".
func Classify(transcript, extractedCallType, extractedAcuity string) Classification {
	callType := extractedCallType
	if callType == "" || callType == TypeUnknown {
		callType = MatchCallType(transcript)
	}

	lower := strings.ToLower(transcript)
	var keywords []string
	urgency := 0.0
	for _, kws := range typeKeywords {
		for _, kw := range kws {
			if !strings.Contains(lower, kw) {
				continue
			}
			keywords = append(keywords, kw)
			w, ok := urgencyWeights[kw]
			if !ok {
				w = defaultUrgency
			}
			if w > urgency {
				urgency = w
			}
		}
	}
	if urgency == 0 {
		urgency = defaultUrgency
	}

	acuity := extractedAcuity
	if acuity == "" {
		acuity = "unknown"
	}

	return Classification{
		CallType:     callType,
		Keywords:     keywords,
		AcuityLevel:  acuity,
		UrgencyScore: urgency,
	}
}

// OverdoseTypes is the overdose complaint family tracked by the
// public-health scans.
var OverdoseTypes = []string{TypeOverdose}

// OverdoseFamily reports whether a call type belongs to the overdose
// complaint family.
func OverdoseFamily(callType string) bool {
	for _, t := range OverdoseTypes {
		if callType == t {
			return true
		}
	}
	return false
}

// PublicHealthTypes is the closed complaint set monitored by the z-score
// anomaly scan.
var PublicHealthTypes = []string{
	TypeOverdose, TypeEnvironmental, TypePsychiatric,
	TypeInjuredPerson, TypeOBChildbirth,
}
