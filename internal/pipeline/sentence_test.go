package pipeline

import (
	"strings"
	"testing"
)

func TestSentenceBuffer(t *testing.T) {
	var sb sentenceBuffer
	var got []string
	for _, tok := range []string{"Hello", " there.", " How", " are you", "? Fine", "."} {
		if s := sb.Add(tok); s != "" {
			got = append(got, s)
		}
	}
	if rest := sb.Flush(); rest != "" {
		got = append(got, rest)
	}
	want := []string{"Hello there.", "How are you?", "Fine."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("sentences = %q, want %q", got, want)
	}
}

func TestSplitAtSentenceIgnoresDecimals(t *testing.T) {
	complete, rest := splitAtSentence("Pi is 3.14 roughly")
	if complete != "" || rest != "Pi is 3.14 roughly" {
		t.Fatalf("split = %q / %q", complete, rest)
	}
}

func TestCodeFilter(t *testing.T) {
	var cf codeFilter
	var out strings.Builder
	for _, tok := range []string{"Run this: `", "``go\nfmt.Println()\n`", "``", " then done."} {
		out.WriteString(cf.Filter(tok))
	}
	if got := out.String(); got != "Run this:  then done." {
		t.Fatalf("filtered = %q", got)
	}
}

func TestSpeakable(t *testing.T) {
	if got := speakable("**Bold** and  `code` # heading"); got != "Bold and code heading" {
		t.Fatalf("speakable = %q", got)
	}
}
