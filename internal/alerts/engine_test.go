package alerts

import (
	"math"
	"testing"
	"time"

	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/transcribe"
)

func TestMatchKeywords(t *testing.T) {
	cases := []struct {
		name       string
		keywords   []string
		transcript string
		callType   string
		want       bool
	}{
		{"transcript_hit", []string{"cardiac arrest"}, "CPR in progress, cardiac arrest", "Cardiac Arrest", true},
		{"call_type_hit", []string{"overdose"}, "unresponsive male, narcan given", "Overdose", true},
		{"case_insensitive", []string{"ACTIVE SHOOTER"}, "reports of an active shooter", "Unknown", true},
		{"no_hit", []string{"structure fire"}, "chest pain, 54 year old male", "Chest Pain", false},
		{"empty_keyword_skipped", []string{""}, "anything at all", "Unknown", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchKeywords(tc.keywords, tc.transcript, tc.callType); got != tc.want {
				t.Errorf("matchKeywords = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	pc := transcribe.ProcessedCall{
		CallType:   "Overdose",
		Location:   "1200 Main Street",
		Transcript: "possible overdose, narcan en route",
		CapturedAt: time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
	}

	got := RenderTemplate("{callType} at {location} ({time}): {transcript}", pc)
	want := "Overdose at 1200 Main Street (2026-08-24T14:30:00Z): possible overdose, narcan en route"
	if got != want {
		t.Errorf("RenderTemplate = %q, want %q", got, want)
	}

	t.Run("empty_template_default", func(t *testing.T) {
		if got := RenderTemplate("", pc); got != "Overdose at 1200 Main Street" {
			t.Errorf("default template = %q", got)
		}
	})
}

func TestZStats(t *testing.T) {
	t.Run("spike_over_baseline", func(t *testing.T) {
		// Mean 1.2, stdev 0.5 baseline with today at 5 should be far
		// past the critical threshold.
		baseline := []int{1, 1, 1, 2, 1, 1, 2, 1, 1, 1, 2, 1, 1, 1, 2, 1, 1, 1, 2, 1}
		mean, stdev, z := zStats(baseline, 5)
		if math.Abs(mean-1.25) > 0.01 {
			t.Errorf("mean = %v, want ~1.25", mean)
		}
		if stdev <= 0 {
			t.Fatalf("stdev = %v, want > 0", stdev)
		}
		if z <= 4 {
			t.Errorf("z = %v, want > 4 for a 5-call day against this baseline", z)
		}
	})

	t.Run("flat_baseline_same_today", func(t *testing.T) {
		_, stdev, z := zStats([]int{2, 2, 2, 2}, 2)
		if stdev != 0 || z != 0 {
			t.Errorf("stdev=%v z=%v, want 0,0", stdev, z)
		}
	})

	t.Run("flat_baseline_deviation", func(t *testing.T) {
		_, _, z := zStats([]int{0, 0, 0, 0}, 3)
		if z <= 4 {
			t.Errorf("z = %v, want large excursion on flat baseline", z)
		}
	})

	t.Run("empty_baseline", func(t *testing.T) {
		mean, stdev, z := zStats(nil, 7)
		if mean != 0 || stdev != 0 || z != 0 {
			t.Errorf("got %v,%v,%v, want zeros", mean, stdev, z)
		}
	})
}

func TestFillDays(t *testing.T) {
	daily := []database.DailyTypeCount{{Count: 3}, {Count: 1}}
	counts := fillDays(daily, 5)
	if len(counts) != 5 {
		t.Fatalf("len = %d, want 5", len(counts))
	}
	if counts[0] != 3 || counts[1] != 1 || counts[4] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAreaKey(t *testing.T) {
	cases := []struct {
		location string
		want     string
	}{
		{"1200 Main Street", "1200 main street"},
		{"1200 Main Street Apartment 4", "1200 main street"},
		{"Main & Washington", "main & washington"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := areaKey(tc.location); got != tc.want {
			t.Errorf("areaKey(%q) = %q, want %q", tc.location, got, tc.want)
		}
	}
}

func TestSuppressedCooldown(t *testing.T) {
	var s suppressed
	if !s.shouldFire("overdose_spike") {
		t.Fatal("first fire suppressed")
	}
	if s.shouldFire("overdose_spike") {
		t.Error("immediate re-fire not suppressed")
	}
	if !s.shouldFire("area:main street") {
		t.Error("distinct key suppressed")
	}
}
