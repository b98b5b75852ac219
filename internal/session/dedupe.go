package session

import "strings"

const (
	dedupeMinPhrase = 2
	dedupeMaxPhrase = 5
)

// DedupeRepeatedPhrases collapses immediately repeated short phrases in the
// assembled text. Segment boundaries occasionally land mid-utterance and the
// model transcribes the same words on both sides of the cut; single repeated
// words are left alone since those are often genuine speech.
func DedupeRepeatedPhrases(text string) string {
	words := strings.Fields(text)
	if len(words) < dedupeMinPhrase*2 {
		return text
	}

	out := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		matched := 0
		for n := dedupeMaxPhrase; n >= dedupeMinPhrase; n-- {
			if i+2*n > len(words) {
				continue
			}
			if phraseEqual(words[i:i+n], words[i+n:i+2*n]) {
				matched = n
				break
			}
		}

		if matched == 0 {
			out = append(out, words[i])
			i++
			continue
		}

		// Keep one copy, then swallow every immediate repeat of it
		out = append(out, words[i:i+matched]...)
		i += matched
		for i+matched <= len(words) && phraseEqual(out[len(out)-matched:], words[i:i+matched]) {
			i += matched
		}
	}

	return strings.Join(out, " ")
}

func phraseEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(normalizeWord(a[i]), normalizeWord(b[i])) {
			return false
		}
	}
	return true
}

// normalizeWord strips trailing punctuation so "again," matches "again"
func normalizeWord(w string) string {
	return strings.TrimRight(w, ".,!?;:")
}
