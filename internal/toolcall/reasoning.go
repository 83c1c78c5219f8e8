package toolcall

import "strings"

// ReasoningFormat selects how reasoning blocks are recognized.
type ReasoningFormat string

const (
	// ReasoningNone leaves the text untouched.
	ReasoningNone ReasoningFormat = "none"
	// ReasoningDeepSeek extracts <think>...</think> blocks.
	ReasoningDeepSeek ReasoningFormat = "deepseek"
)

// ParseReasoningFormat accepts "none", "deepseek" and "auto" (an alias for
// deepseek). Unknown values map to none.
func ParseReasoningFormat(s string) ReasoningFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deepseek", "auto":
		return ReasoningDeepSeek
	}
	return ReasoningNone
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// splitReasoning separates <think> blocks from content. With forcedOpen the
// text starts inside a think block whose opening tag lives in the prompt.
// An unterminated block runs to the end of the text.
func splitReasoning(raw string, forcedOpen bool) (content, reasoning string) {
	var c, r strings.Builder
	cursor := 0
	if forcedOpen {
		end := indexTag(raw, thinkClose)
		if end < 0 {
			return "", raw
		}
		r.WriteString(raw[:end])
		cursor = end + len(thinkClose)
	}
	for cursor < len(raw) {
		start := indexTag(raw[cursor:], thinkOpen)
		if start < 0 {
			c.WriteString(raw[cursor:])
			break
		}
		start += cursor
		c.WriteString(raw[cursor:start])
		body := start + len(thinkOpen)
		end := indexTag(raw[body:], thinkClose)
		if end < 0 {
			r.WriteString(raw[body:])
			break
		}
		end += body
		r.WriteString(raw[body:end])
		cursor = end + len(thinkClose)
	}
	return c.String(), strings.TrimSpace(r.String())
}

// indexTag finds the ASCII tag in s ignoring ASCII case. The offset indexes s
// itself, whatever else the text contains.
func indexTag(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		j := 0
		for ; j < len(tag); j++ {
			c := s[i+j]
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != tag[j] {
				break
			}
		}
		if j == len(tag) {
			return i
		}
	}
	return -1
}
