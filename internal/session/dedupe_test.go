package session

import "testing"

func TestDedupeRepeatedPhrases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no repeats unchanged",
			in:   "the quick brown fox jumps over the lazy dog",
			want: "the quick brown fox jumps over the lazy dog",
		},
		{
			name: "two word repeat collapses",
			in:   "and then and then we left",
			want: "and then we left",
		},
		{
			name: "boundary echo with punctuation",
			in:   "we should go home. we should go home tomorrow",
			want: "we should go home. tomorrow",
		},
		{
			name: "triple repeat collapses to one",
			in:   "over there over there over there now",
			want: "over there now",
		},
		{
			name: "single repeated word kept",
			in:   "no no no that is wrong",
			want: "no no no that is wrong",
		},
		{
			name: "case insensitive match",
			in:   "So anyway so anyway it worked",
			want: "So anyway it worked",
		},
		{
			name: "short input unchanged",
			in:   "hi hi",
			want: "hi hi",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DedupeRepeatedPhrases(tc.in); got != tc.want {
				t.Errorf("DedupeRepeatedPhrases(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
