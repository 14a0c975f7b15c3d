package linker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
)

func TestAnalyze(t *testing.T) {
	cases := []struct {
		name           string
		transcript     string
		wantIncomplete bool
	}{
		{"empty", "", true},
		{"unavailable_marker", "[unavailable]", true},
		{"units_only", "Engine 26, Medic 26", true},
		{"trailing_stop", "Medic 12 responding to", true},
		{"short_fragment", "copy that", true},
		{"address_without_call_type", "1555 South Harding Street", true},
		{"complete_dispatch", "Engine 19, 1555 South Harding Street, Chest Pain", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := analyze(tc.transcript)
			if a.Incomplete != tc.wantIncomplete {
				t.Errorf("analyze(%q).Incomplete = %v, want %v", tc.transcript, a.Incomplete, tc.wantIncomplete)
			}
		})
	}
}

func TestAnalyze_EmptyHighConfidence(t *testing.T) {
	a := analyze("")
	if a.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", a.Confidence)
	}
}

func TestScore_FragmentPair(t *testing.T) {
	l := New(Options{Window: 5 * time.Minute, Log: zerolog.Nop()})
	base := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)

	first := &database.CallAPI{
		CallID:     1,
		Talkgroup:  10202,
		StartTime:  base,
		Transcript: "Engine 26, Medic 26",
	}
	second := &database.CallAPI{
		CallID:     2,
		Talkgroup:  10202,
		StartTime:  base.Add(12 * time.Second),
		Transcript: "7212 US 31 South, Chest Pain",
	}

	s := l.score(second, analyze(second.Transcript), first, analyze(first.Transcript))
	if s <= mergeThreshold {
		t.Errorf("score = %v, want > %v for a units-only fragment and its dispatch body", s, mergeThreshold)
	}
}

func TestScore_UnrelatedCallsBelowThreshold(t *testing.T) {
	l := New(Options{Window: 5 * time.Minute, Log: zerolog.Nop()})
	base := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)

	a := &database.CallAPI{
		StartTime:  base,
		Transcript: "Engine 19, 1555 South Harding Street, Chest Pain",
	}
	b := &database.CallAPI{
		StartTime:  base.Add(4 * time.Minute),
		Transcript: "Ladder 7, 980 East Washington Street, building alarm",
	}

	s := l.score(a, analyze(a.Transcript), b, analyze(b.Transcript))
	if s > mergeThreshold {
		t.Errorf("score = %v, want <= %v for unrelated complete dispatches", s, mergeThreshold)
	}
}

func TestScore_TimeDecay(t *testing.T) {
	l := New(Options{Window: 5 * time.Minute, Log: zerolog.Nop()})
	base := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)

	frag := &database.CallAPI{StartTime: base, Transcript: "Engine 26, Medic 26"}
	near := &database.CallAPI{StartTime: base.Add(12 * time.Second), Transcript: "7212 US 31 South, Chest Pain"}
	far := &database.CallAPI{StartTime: base.Add(5 * time.Minute), Transcript: "7212 US 31 South, Chest Pain"}

	sNear := l.score(near, analyze(near.Transcript), frag, analyze(frag.Transcript))
	sFar := l.score(far, analyze(far.Transcript), frag, analyze(frag.Transcript))
	if sFar >= sNear {
		t.Errorf("time decay missing: near=%v far=%v", sNear, sFar)
	}
}
