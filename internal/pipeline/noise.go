package pipeline

import "strings"

// noiseWords are whole transcripts whisper tends to hallucinate on room noise.
var noiseWords = map[string]bool{
	"crunching": true, "static": true, "silence": true, "noise": true,
	"inaudible": true, "unintelligible": true, "background noise": true,
	"music": true, "typing": true, "breathing": true, "sigh": true,
	"cough": true, "sneeze": true, "laughter": true, "applause": true,
	"you": true, "the": true, "a": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true,
	"thanks for watching!": true,
}

// IsNoiseTranscript reports whether an ASR result is likely background noise
// rather than speech.
func IsNoiseTranscript(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	for _, pair := range [][2]string{{"*", "*"}, {"[", "]"}, {"(", ")"}} {
		if len(text) >= 2 && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			return true
		}
	}
	lower := strings.ToLower(text)
	return noiseWords[lower] || noiseWords[strings.TrimRight(lower, ".!?")]
}
