package model

import (
	"testing"
	"time"
)

func TestEffectiveDate(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 3, 10, 3, 59, 0, 0, loc), "2026-03-09"},
		{time.Date(2026, 3, 10, 4, 0, 0, 0, loc), "2026-03-10"},
		{time.Date(2026, 3, 10, 23, 0, 0, 0, loc), "2026-03-10"},
	}
	for _, tc := range cases {
		if got := EffectiveDate(tc.at, 4); got != tc.want {
			t.Errorf("EffectiveDate(%s) = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestDegradedFlags(t *testing.T) {
	f := BaselineStale | InputClamped
	if !f.Has(BaselineStale) || f.Has(BaselineMissing) {
		t.Fatalf("Has mismatch for %b", f)
	}
	if got := f.String(); got != "baseline_stale,input_clamped" {
		t.Errorf("String() = %q", got)
	}
	if got := DegradedFlags(0).String(); got != "none" {
		t.Errorf("zero String() = %q", got)
	}
}

func TestCorrectionRate(t *testing.T) {
	s := ActivitySample{KeyCount: 40, BackspaceCount: 4}
	if got := s.CorrectionRate(); got != 0.1 {
		t.Errorf("CorrectionRate = %v, want 0.1", got)
	}
	if got := (ActivitySample{}).CorrectionRate(); got != 0 {
		t.Errorf("empty CorrectionRate = %v, want 0", got)
	}
}
