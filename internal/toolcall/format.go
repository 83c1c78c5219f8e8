// Package toolcall turns finished model output into a structured assistant
// message: plain content, optional reasoning, and tool invocations.
package toolcall

import "strings"

// Format is the tool-call wire convention a chat template expects.
type Format int

const (
	// ContentOnly never yields tool calls.
	ContentOnly Format = iota
	// Generic is the template-agnostic JSON envelope:
	// {"tool_call":{...}}, {"tool_calls":[...]} or {"response":...}.
	Generic
	// Hermes wraps each call in <tool_call>...</tool_call>.
	Hermes
	// MistralNemo emits [TOOL_CALLS] followed by a JSON array.
	MistralNemo
	// Llama3 emits a bare {"name":...,"parameters":...} object.
	Llama3
)

var formatNames = map[Format]string{
	ContentOnly: "content-only",
	Generic:     "generic",
	Hermes:      "hermes",
	MistralNemo: "mistral-nemo",
	Llama3:      "llama3",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// ParseFormat maps a format name back to its value.
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, true
		}
	}
	return ContentOnly, false
}

// Triggers are the strings that open a tool call in the format, used as
// grammar triggers.
func (f Format) Triggers() []string {
	switch f {
	case Hermes:
		return []string{"<tool_call>"}
	case MistralNemo:
		return []string{"[TOOL_CALLS]"}
	case Llama3:
		return []string{`{"name"`}
	case Generic:
		return []string{"{"}
	}
	return nil
}
