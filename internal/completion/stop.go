package completion

import "strings"

// Action is the verdict of the stop detector.
type Action int

const (
	// Continue means stream the unsent text and keep decoding.
	Continue Action = iota
	// Withhold means keep decoding but do not stream yet: the text ends in
	// a prefix of a stop word.
	Withhold
	// Stop ends generation.
	Stop
)

// Verdict is the outcome of Detect.
type Verdict struct {
	Action Action
	// Cut is the byte offset the text is truncated at for a stop-word
	// match, -1 otherwise.
	Cut       int
	Word      string
	Limit     bool
	Truncated bool
	NewLine   bool
}

// Detect decides what happens after a decoded token. It does not modify s.
// Rules, first match wins: prediction budget exhausted; earliest exact stop
// word at or after the last streamed byte; a partial stop word at the end of
// the text; context window full; otherwise continue.
func Detect(s *State, stops []string, tokenText string) Verdict {
	if s.NRemaining <= 0 {
		return Verdict{Action: Stop, Cut: -1, Limit: true}
	}

	from := s.NSentText - 1
	if from < 0 {
		from = 0
	}
	if from > len(s.Text) {
		from = len(s.Text)
	}
	best, word := -1, ""
	for _, w := range stops {
		if w == "" {
			continue
		}
		if i := strings.Index(s.Text[from:], w); i >= 0 && (best < 0 || from+i < best) {
			best, word = from+i, w
		}
	}
	if best >= 0 {
		return Verdict{Action: Stop, Cut: best, Word: word}
	}

	ctxFull := s.NPast >= s.NCtx
	if partialStop(s.Text, stops) >= 0 && !ctxFull {
		// Decoding past a full context is impossible, so a pending partial
		// match there falls through to truncation.
		return Verdict{Action: Withhold, Cut: -1}
	}
	if ctxFull {
		return Verdict{Action: Stop, Cut: -1, Truncated: true}
	}
	return Verdict{Action: Continue, Cut: -1, NewLine: strings.Contains(tokenText, "\n")}
}

// partialStop returns the offset where a strict prefix of some stop word
// starts at the end of text, or -1.
func partialStop(text string, stops []string) int {
	best := -1
	for _, w := range stops {
		n := len(w) - 1
		if n > len(text) {
			n = len(text)
		}
		for k := n; k > 0; k-- {
			if strings.HasSuffix(text, w[:k]) {
				if at := len(text) - k; best < 0 || at < best {
					best = at
				}
				break
			}
		}
	}
	return best
}

// apply records v in s.
func (s *State) apply(v Verdict) {
	switch {
	case v.Cut >= 0:
		s.Text = s.Text[:v.Cut]
		if s.NSentText > len(s.Text) {
			s.NSentText = len(s.Text)
		}
		s.StoppedWord = true
		s.StoppingWord = v.Word
	case v.Limit:
		s.StoppedLimit = true
	case v.Truncated:
		s.Truncated = true
	}
	if v.NewLine {
		s.HasNewLine = true
	}
	if v.Action == Stop {
		s.HasNextToken = false
	}
}
