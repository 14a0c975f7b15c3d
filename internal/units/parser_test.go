package units

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		want       []Unit
	}{
		{
			"single_unit",
			"Engine 19, 1555 South Harding Street, Chest Pain",
			[]Unit{{"engine", 19}},
		},
		{
			"multiple_units",
			"Engine 26, Medic 26, respond to 7212 US 31 South",
			[]Unit{{"engine", 26}, {"medic", 26}},
		},
		{
			"three_digit_number_dropped",
			"Engine 995, Medic 73, 10301 Terminal Way, sick person",
			[]Unit{{"medic", 73}},
		},
		{
			"duplicates_collapsed",
			"Medic 12 copy, Medic 12 en route",
			[]Unit{{"medic", 12}},
		},
		{
			"no_space_before_number",
			"Squad7 responding",
			[]Unit{{"squad", 7}},
		},
		{
			"dash_suffix_ignored",
			"Battalion 4-2 on scene",
			[]Unit{{"battalion", 4}},
		},
		{
			"no_units",
			"structure fire reported at the plaza",
			nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.transcript)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Parse(%q) = %v, want %v", tc.transcript, got, tc.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	u := Unit{Type: "engine", Number: 19}
	if got := u.DisplayName(); got != "Engine 19" {
		t.Errorf("DisplayName = %q, want %q", got, "Engine 19")
	}
}
