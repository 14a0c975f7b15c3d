package postproc

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/classify"
	"github.com/snarg/dispatch-intel/internal/units"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	dict, err := NewDictionary("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	return NewProcessor(dict)
}

func TestProcess_AddressAfterUnits(t *testing.T) {
	p := newTestProcessor(t)

	res := p.Process("Engine 19, 1555 South Harding Street, Chest Pain", 0.92)

	if res.Address == nil || res.Address.Text != "1555 South Harding Street" {
		t.Fatalf("Address = %+v, want 1555 South Harding Street", res.Address)
	}
	if res.Address.Confidence != 0.95 {
		t.Errorf("address confidence = %v, want 0.95", res.Address.Confidence)
	}
	if len(res.Units) != 1 || res.Units[0] != (units.Unit{Type: "engine", Number: 19}) {
		t.Errorf("Units = %v, want [engine 19]", res.Units)
	}
	if res.CallType != classify.TypeChestPain {
		t.Errorf("CallType = %q, want %q", res.CallType, classify.TypeChestPain)
	}
	if res.Confidence < 0.85 {
		t.Errorf("Confidence = %v, want >= 0.85", res.Confidence)
	}
}

func TestProcess_CommaJoinedNumber(t *testing.T) {
	p := newTestProcessor(t)

	res := p.Process("Engine 995, Medic 73, 10,301, Terminal Way, sick person", 0.9)

	if res.Address == nil || res.Address.Text != "10301 Terminal Way" {
		t.Fatalf("Address = %+v, want 10301 Terminal Way", res.Address)
	}
	// Engine 995 is out of the unit number range and is dropped.
	if len(res.Units) != 1 || res.Units[0] != (units.Unit{Type: "medic", Number: 73}) {
		t.Errorf("Units = %v, want [medic 73]", res.Units)
	}
	if res.CallType != classify.TypeSickPerson {
		t.Errorf("CallType = %q, want %q", res.CallType, classify.TypeSickPerson)
	}
	if res.ParseErrors == 0 {
		t.Error("dropped unit should count as a parse error")
	}
}

func TestProcess_NoiseRejection(t *testing.T) {
	p := newTestProcessor(t)

	res := p.Process("{beeping} for more videos visit youtube.com", 0.95)

	if !res.IsHallucination {
		t.Error("IsHallucination = false, want true")
	}
	if res.Confidence != 0.1 {
		t.Errorf("Confidence = %v, want 0.1", res.Confidence)
	}
	if res.CallType != classify.TypeNonEmergency {
		t.Errorf("CallType = %q, want %q", res.CallType, classify.TypeNonEmergency)
	}
	if res.Address != nil {
		t.Errorf("Address = %+v, want nil", res.Address)
	}
}

func TestProcess_NoiseVariants(t *testing.T) {
	p := newTestProcessor(t)
	cases := []struct {
		name string
		raw  string
	}{
		{"whitespace_only", "   "},
		{"single_word", "copy"},
		{"digits_and_punct", "10-4. 10-4."},
		{"beep_marker", "{beep} {beep}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Process(tc.raw, 0.9)
			if !res.IsNoise {
				t.Errorf("IsNoise = false for %q", tc.raw)
			}
			if res.Confidence != 0.1 {
				t.Errorf("Confidence = %v, want 0.1", res.Confidence)
			}
		})
	}
}

func TestProcess_FixedPoint(t *testing.T) {
	p := newTestProcessor(t)

	first := p.Process("Engine 19, 1555 South Harding Street, Chest Pain", 0.9)
	second := p.Process(first.Cleaned, 0.9)

	if first.Cleaned != second.Cleaned {
		t.Errorf("not a fixed point: %q -> %q", first.Cleaned, second.Cleaned)
	}
}

func TestReconstructNumbers(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"10,301", "10301"},
		{"78-47", "7847"},
		{"78 47 12", "784712"},
		{"meet  at   the  plaza", "meet at the plaza"},
	}
	for _, tc := range cases {
		if got := reconstructNumbers(tc.in); got != tc.want {
			t.Errorf("reconstructNumbers(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractAcuity(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"chest pain bravo", "B"},
		{"sick person charlie response", "C"},
		{"difficulty breathing A", "A"},
		{"no acuity here", ""},
	}
	for _, tc := range cases {
		if got := extractAcuity(tc.in); got != tc.want {
			t.Errorf("extractAcuity(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDictionaryApply(t *testing.T) {
	dict, err := NewDictionary("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}

	t.Run("whole_word_only", func(t *testing.T) {
		if got := dict.Apply("cedars hospital"); got != "cedars hospital" {
			t.Errorf("partial word replaced: %q", got)
		}
	})

	t.Run("case_preserved", func(t *testing.T) {
		if got := dict.Apply("Cedar activity reported"); got != "Seizure activity reported" {
			t.Errorf("Apply = %q, want Seizure activity reported", got)
		}
	})

	t.Run("multi_word_phrase", func(t *testing.T) {
		if got := dict.Apply("patient in cardiac rest"); got != "patient in cardiac arrest" {
			t.Errorf("Apply = %q, want cardiac arrest", got)
		}
	})
}

func TestExtractAddress(t *testing.T) {
	opts := AddressOptions{RejectCallTypeWords: true}

	t.Run("intersection", func(t *testing.T) {
		a := ExtractAddress("crews respond to Madison Avenue and Troy Street", opts)
		if a == nil || a.Confidence != 0.8 {
			t.Fatalf("Address = %+v, want intersection at 0.8", a)
		}
	})

	t.Run("call_type_words_rejected", func(t *testing.T) {
		if a := ExtractAddress("Medic 4, 12 Chest Pain St", opts); a != nil {
			// "Chest Pain St" still carries a street type, so the numbered
			// pattern matches; the denylist must reject it.
			if a.Text == "12 Chest Pain St" {
				t.Errorf("call-type street accepted: %+v", a)
			}
		}
	})

	t.Run("no_address", func(t *testing.T) {
		if a := ExtractAddress("Engine 4 returning to quarters", opts); a != nil {
			t.Errorf("Address = %+v, want nil", a)
		}
	})
}
