package hospital

import (
	"regexp"
	"strings"
)

// SORResult is the outcome of service-on-request detection for one
// transcript: a request to contact the medical director for orders.
type SORResult struct {
	IsSOR         bool
	Confidence    float64
	PhysicianName string
}

var (
	sorStrongPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bservice\s+on\s+request\b`),
		regexp.MustCompile(`(?i)\bmedical\s+director\b`),
		regexp.MustCompile(`(?i)\bmedical\s+control\b`),
		regexp.MustCompile(`(?i)\brequesting\s+orders\b`),
		regexp.MustCompile(`(?i)\bphysician\s+consult\b`),
	}
	sorWeakPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bstanding\s+orders\b`),
		regexp.MustCompile(`(?i)\bonline\s+medical\b`),
	}
	// "Dr. Smith" / "Doctor Smith on the line"
	physicianPattern = regexp.MustCompile(`\b(?i:dr\.?|doctor)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
)

// DetectSOR scans one hospital segment transcript. Strong patterns alone
// are enough; weak patterns only count alongside a physician mention.
func DetectSOR(transcript string) SORResult {
	res := SORResult{}
	if strings.TrimSpace(transcript) == "" {
		return res
	}

	if m := physicianPattern.FindStringSubmatch(transcript); m != nil {
		res.PhysicianName = m[1]
	}

	for _, p := range sorStrongPatterns {
		if p.MatchString(transcript) {
			res.IsSOR = true
			res.Confidence = 0.9
			if res.PhysicianName != "" {
				res.Confidence = 0.95
			}
			return res
		}
	}

	if res.PhysicianName != "" {
		for _, p := range sorWeakPatterns {
			if p.MatchString(transcript) {
				res.IsSOR = true
				res.Confidence = 0.7
				return res
			}
		}
	}
	return res
}
