package classify

import "testing"

func TestMatchCallType(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		want       string
	}{
		{"chest_pain", "Engine 19, 1555 South Harding Street, Chest Pain", TypeChestPain},
		{"sick_person", "Medic 73, 10301 Terminal Way, sick person", TypeSickPerson},
		{"longest_keyword_wins", "unresponsive, cardiac arrest, CPR in progress", TypeCardiacArrest},
		{"overdose", "Medic 12, possible overdose, Narcan administered", TypeOverdose},
		{"no_match", "Engine 4 returning to quarters", TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchCallType(tc.transcript); got != tc.want {
				t.Errorf("MatchCallType(%q) = %q, want %q", tc.transcript, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("urgency_from_keyword_weights", func(t *testing.T) {
		c := Classify("Engine 19, chest pain at the plaza", "", "")
		if c.CallType != TypeChestPain {
			t.Errorf("CallType = %q, want %q", c.CallType, TypeChestPain)
		}
		if c.UrgencyScore < 0.8 {
			t.Errorf("UrgencyScore = %v, want >= 0.8", c.UrgencyScore)
		}
		if c.AcuityLevel != "unknown" {
			t.Errorf("AcuityLevel = %q, want unknown", c.AcuityLevel)
		}
	})

	t.Run("cardiac_arrest_max_urgency", func(t *testing.T) {
		c := Classify("cardiac arrest, CPR in progress", "", "B")
		if c.UrgencyScore != 1.0 {
			t.Errorf("UrgencyScore = %v, want 1.0", c.UrgencyScore)
		}
		if c.AcuityLevel != "B" {
			t.Errorf("AcuityLevel = %q, want B", c.AcuityLevel)
		}
	})

	t.Run("extracted_type_confirmed", func(t *testing.T) {
		c := Classify("garbled audio", TypeSeizure, "")
		if c.CallType != TypeSeizure {
			t.Errorf("CallType = %q, want %q", c.CallType, TypeSeizure)
		}
	})

	t.Run("default_urgency_floor", func(t *testing.T) {
		c := Classify("Engine 4 returning to quarters", "", "")
		if c.UrgencyScore != 0.2 {
			t.Errorf("UrgencyScore = %v, want 0.2", c.UrgencyScore)
		}
	})
}

func TestOverdoseFamily(t *testing.T) {
	if len(OverdoseTypes) == 0 {
		t.Fatal("OverdoseTypes is empty")
	}
	for _, ct := range OverdoseTypes {
		if !OverdoseFamily(ct) {
			t.Errorf("OverdoseFamily(%q) = false, want true", ct)
		}
	}
	if !OverdoseFamily(TypeOverdose) {
		t.Error("OverdoseFamily(TypeOverdose) = false")
	}
	if OverdoseFamily(TypeSeizure) {
		t.Error("OverdoseFamily(TypeSeizure) = true, want false")
	}
}
