package ingest

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestDedupeLRU(t *testing.T) {
	d := newDedupeLRU(0) // floor is 10k

	key := "1|10202|1724500000"
	if d.seen(key) {
		t.Fatal("fresh key reported as seen")
	}
	if !d.seen(key) {
		t.Fatal("repeated key not reported as seen")
	}
}

func TestDedupeLRU_Bounded(t *testing.T) {
	d := newDedupeLRU(10000)
	for i := 0; i < 15000; i++ {
		d.seen(fmt.Sprintf("1|%d|%d", i%500, i))
	}
	if d.len() != 10000 {
		t.Errorf("len = %d, want 10000", d.len())
	}
	if !d.seen("1|0|14500") {
		t.Error("recent key evicted")
	}
	if d.seen("1|0|100") {
		t.Error("evicted key still reported as seen")
	}
}

func TestIntakeAllowList(t *testing.T) {
	in := NewIntake(IntakeOptions{
		Systems:    []string{"1"},
		Talkgroups: []int{10202, 10244},
		Log:        zerolog.Nop(),
	})

	cases := []struct {
		system    string
		talkgroup int
		want      bool
	}{
		{"1", 10202, true},
		{"1", 10244, true},
		{"1", 99999, false},
		{"2", 10202, false},
	}
	for _, tc := range cases {
		if got := in.allowed(tc.system, tc.talkgroup); got != tc.want {
			t.Errorf("allowed(%s, %d) = %v, want %v", tc.system, tc.talkgroup, got, tc.want)
		}
	}
}

func TestIntakeAllowList_EmptyAllowsAll(t *testing.T) {
	in := NewIntake(IntakeOptions{Log: zerolog.Nop()})
	if !in.allowed("7", 12345) {
		t.Error("empty allow-list should accept everything")
	}
}
