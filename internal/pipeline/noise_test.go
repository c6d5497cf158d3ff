package pipeline

import "testing"

func TestIsNoiseTranscript(t *testing.T) {
	cases := []struct {
		text  string
		noise bool
	}{
		{"", true},
		{"  ", true},
		{"*crunching*", true},
		{"[inaudible]", true},
		{"(music)", true},
		{"Um.", true},
		{"you", true},
		{"Thanks for watching!", true},
		{"what's the weather", false},
		{"you are right", false},
	}
	for _, tc := range cases {
		if got := IsNoiseTranscript(tc.text); got != tc.noise {
			t.Errorf("IsNoiseTranscript(%q) = %v, want %v", tc.text, got, tc.noise)
		}
	}
}
