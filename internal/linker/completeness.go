package linker

import (
	"regexp"
	"strings"

	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/postproc"
	"github.com/snarg/dispatch-intel/internal/units"
)

var (
	trailingStopPattern = regexp.MustCompile(`(?i)\b(?:and|to|at|on|near|from)[\s.,]*$`)
	leadingArticle      = regexp.MustCompile(`(?i)^\s*(?:the|a|an|of|for|with)\b`)
	// House-number-sized digit runs signal a location even when the street
	// type was garbled ("7212 US 31 South").
	houseNumberPattern = regexp.MustCompile(`\b\d{3,6}\b`)
	unavailableMarkers  = map[string]bool{
		"[unavailable]":      true,
		"[audio unavailable]": true,
		"transcription unavailable": true,
	}
)

// analysis describes how complete a single call transcript looks.
type analysis struct {
	Incomplete bool
	Confidence float64

	HasUnits     bool
	HasLocation  bool
	HasCallType  bool
	TrailingStop bool
	UnitsOnly    bool
}

// analyze decides whether a transcript reads like a whole dispatch or a
// fragment cut mid-transmission.
func analyze(transcript string) analysis {
	t := strings.TrimSpace(transcript)
	a := analysis{}

	if t == "" || unavailableMarkers[strings.ToLower(t)] {
		a.Incomplete = true
		a.Confidence = 0.9
		return a
	}

	parsedUnits := units.Parse(t)
	a.HasUnits = len(parsedUnits) > 0
	a.HasLocation = postproc.ExtractAddress(t, postproc.AddressOptions{RejectCallTypeWords: true}) != nil ||
		houseNumberPattern.MatchString(t)
	a.HasCallType = classify.MatchCallType(t) != classify.TypeUnknown
	a.TrailingStop = trailingStopPattern.MatchString(t)
	a.UnitsOnly = a.HasUnits && !a.HasLocation && !a.HasCallType && onlyUnitTokens(t)

	if a.HasUnits && a.HasLocation && a.HasCallType {
		return a
	}

	switch {
	case a.TrailingStop:
		a.Incomplete = true
		a.Confidence = 0.8
	case a.UnitsOnly:
		a.Incomplete = true
		a.Confidence = 0.75
	case a.HasLocation && !a.HasCallType:
		a.Incomplete = true
		a.Confidence = 0.7
	case len(t) < 15:
		a.Incomplete = true
		a.Confidence = 0.6
	}
	return a
}

// onlyUnitTokens reports whether the transcript is nothing but unit
// references and filler punctuation ("Engine 26, Medic 26").
func onlyUnitTokens(t string) bool {
	stripped := units.StripUnitTokens(t)
	stripped = strings.Trim(stripped, " ,.-")
	return stripped == ""
}
