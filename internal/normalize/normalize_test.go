package normalize

import (
	"slices"
	"testing"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"international with plus", "+49 151 1234 5678", "DE", "4915112345678"},
		{"national mobile prefix", "0151 12345678", "DE", "4915112345678"},
		{"double zero prefix", "0049 151 12345678", "DE", "4915112345678"},
		{"digits-only international", "4915112345678", "DE", "4915112345678"},
		{"punctuation stripped", "(415) 555-2671", "US", "14155552671"},
		{"us with country code", "+1 415-555-2671", "DE", "14155552671"},
		{"no region international", "+44 20 7946 0958", "", "442079460958"},
		{"empty", "", "DE", ""},
		{"letters", "alice99", "DE", ""},
		{"too short", "112", "DE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Phone(tt.raw, tt.region); got != tt.want {
				t.Errorf("Phone(%q, %q) = %q, want %q", tt.raw, tt.region, got, tt.want)
			}
		})
	}
}

func TestPhonesDeduplicates(t *testing.T) {
	got := Phones("DE", "+49 151 12345678", "", "0151 12345678", "+1 415 555 2671")
	want := []string{"4915112345678", "14155552671"}
	if !slices.Equal(got, want) {
		t.Errorf("Phones() = %v, want %v", got, want)
	}
}

func TestSameHandle(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"alice99", "alice99", true},
		{"Alice99", "alice99", true},
		{"@alice99", "alice99", true},
		{" alice99 ", "ALICE99", true},
		{"alice", "alice99", false},
		{"", "", false},
		{"@", "", false},
	}
	for _, tt := range tests {
		if got := SameHandle(tt.a, tt.b); got != tt.want {
			t.Errorf("SameHandle(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
