package pipeline

import "strings"

// sentenceBuffer accumulates streamed tokens and splits at sentence boundaries.
type sentenceBuffer struct {
	buf strings.Builder
}

// Add appends a token and returns any complete sentences ready for TTS, or ""
// if no boundary has been seen yet.
func (s *sentenceBuffer) Add(token string) string {
	s.buf.WriteString(token)
	complete, remainder := splitAtSentence(s.buf.String())
	if complete == "" {
		return ""
	}
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return complete
}

// Flush returns whatever text is left in the buffer.
func (s *sentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitAtSentence cuts text after the last sentence ender that is followed by
// whitespace.
func splitAtSentence(text string) (string, string) {
	lastIdx := -1
	for i := range len(text) - 1 {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			lastIdx = i + 1
		}
	}
	if lastIdx < 0 {
		return "", text
	}
	return strings.TrimSpace(text[:lastIdx]), text[lastIdx:]
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}

// codeFilter drops tokens inside ``` fences so code is shown but never spoken.
// Fence markers may be split across tokens.
type codeFilter struct {
	inCode  bool
	pending string
}

func (f *codeFilter) Filter(token string) string {
	text := f.pending + token
	f.pending = ""

	var out strings.Builder
	for {
		idx := strings.Index(text, "```")
		if idx < 0 {
			break
		}
		if !f.inCode {
			out.WriteString(text[:idx])
		}
		f.inCode = !f.inCode
		text = text[idx+3:]
	}

	// Hold back a trailing partial fence.
	keep := 0
	for keep < 2 && keep < len(text) && text[len(text)-1-keep] == '`' {
		keep++
	}
	f.pending = text[len(text)-keep:]
	text = text[:len(text)-keep]

	if !f.inCode {
		out.WriteString(text)
	}
	return out.String()
}

var markdownReplacer = strings.NewReplacer(
	"**", "", "__", "", "`", "", "#", "", "*", "", "~~", "", ">", "",
)

// speakable strips markdown emphasis and collapses whitespace.
func speakable(sentence string) string {
	return strings.Join(strings.Fields(markdownReplacer.Replace(sentence)), " ")
}
