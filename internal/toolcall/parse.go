package toolcall

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"llamagen/pkg/types"
)

// Syntax describes how a completion is to be parsed.
type Syntax struct {
	Format          Format
	ReasoningFormat ReasoningFormat
	// ReasoningInContent keeps extracted reasoning inline in Content,
	// wrapped in think tags, instead of reporting it separately.
	ReasoningInContent bool
	// ThinkingForcedOpen means the prompt already opened a think block.
	ThinkingForcedOpen bool
	ParseToolCalls     bool
}

// Message is a parsed assistant turn.
type Message struct {
	Content          string
	ReasoningContent string
	ToolCalls        []types.ToolCall
}

// Parse structures text according to syn. An error means the text claimed
// to contain tool calls that could not be decoded; callers fall back to the
// raw text.
func Parse(text string, syn Syntax) (Message, error) {
	var msg Message
	body := text
	if syn.ReasoningFormat == ReasoningDeepSeek {
		content, reasoning := splitReasoning(text, syn.ThinkingForcedOpen)
		body = content
		if reasoning != "" {
			if syn.ReasoningInContent {
				msg.Content = thinkOpen + reasoning + thinkClose
			} else {
				msg.ReasoningContent = reasoning
			}
		}
	}

	content, calls, err := parseCalls(body, syn)
	if err != nil {
		return Message{}, err
	}
	if msg.Content != "" && content != "" {
		msg.Content += "\n"
	}
	msg.Content += content
	msg.ToolCalls = calls
	return msg, nil
}

func parseCalls(text string, syn Syntax) (string, []types.ToolCall, error) {
	if !syn.ParseToolCalls {
		return text, nil, nil
	}
	switch syn.Format {
	case Hermes:
		return parseHermes(text)
	case MistralNemo:
		return parseMistralNemo(text)
	case Llama3:
		return parseLlama3(text)
	case Generic:
		return parseGeneric(text)
	}
	return text, nil, nil
}

type rawCall struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

func (c rawCall) toolCall() (types.ToolCall, error) {
	if c.Name == "" {
		return types.ToolCall{}, fmt.Errorf("tool call without a name")
	}
	args := c.Arguments
	if len(args) == 0 {
		args = c.Parameters
	}
	return types.ToolCall{ID: c.ID, Type: "function", Function: types.FunctionCall{Name: c.Name, Arguments: argumentString(args)}}, nil
}

// argumentString returns arguments as compact JSON, key order and string
// contents preserved. A JSON
// string value is assumed to already hold encoded arguments.
func argumentString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return string(raw)
	}
	return out.String()
}

func decodeCalls(raw []byte) ([]types.ToolCall, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	var list []rawCall
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
	} else {
		var one rawCall
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode tool call: %w", err)
		}
		list = []rawCall{one}
	}
	out := make([]types.ToolCall, 0, len(list))
	for _, c := range list {
		tc, err := c.toolCall()
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func parseHermes(text string) (string, []types.ToolCall, error) {
	const open, closeTag = "<tool_call>", "</tool_call>"
	var content strings.Builder
	var calls []types.ToolCall
	rest := text
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			content.WriteString(rest)
			break
		}
		content.WriteString(rest[:i])
		rest = rest[i+len(open):]
		j := strings.Index(rest, closeTag)
		body := rest
		if j >= 0 {
			body = rest[:j]
			rest = rest[j+len(closeTag):]
		} else {
			rest = ""
		}
		cs, err := decodeCalls([]byte(body))
		if err != nil {
			return "", nil, err
		}
		calls = append(calls, cs...)
	}
	return strings.TrimSpace(content.String()), calls, nil
}

func parseMistralNemo(text string) (string, []types.ToolCall, error) {
	const prefix = "[TOOL_CALLS]"
	i := strings.Index(text, prefix)
	if i < 0 {
		return text, nil, nil
	}
	calls, err := decodeCalls([]byte(text[i+len(prefix):]))
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(text[:i]), calls, nil
}

func parseLlama3(text string) (string, []types.ToolCall, error) {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "<|python_tag|>")
	if !strings.HasPrefix(t, "{") || !strings.Contains(t, `"name"`) {
		return text, nil, nil
	}
	var calls []types.ToolCall
	// Parallel calls are separated by semicolons.
	for _, part := range splitTopLevel(t, ';') {
		cs, err := decodeCalls([]byte(part))
		if err != nil {
			return "", nil, err
		}
		calls = append(calls, cs...)
	}
	return "", calls, nil
}

func parseGeneric(text string) (string, []types.ToolCall, error) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "{") {
		return text, nil, nil
	}
	var env struct {
		ToolCall  json.RawMessage `json:"tool_call"`
		ToolCalls json.RawMessage `json:"tool_calls"`
		Response  json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal([]byte(t), &env); err != nil {
		return "", nil, fmt.Errorf("decode generic response: %w", err)
	}
	switch {
	case len(env.ToolCalls) > 0:
		calls, err := decodeCalls(env.ToolCalls)
		return "", calls, err
	case len(env.ToolCall) > 0:
		calls, err := decodeCalls(env.ToolCall)
		return "", calls, err
	case len(env.Response) > 0:
		var s string
		if err := json.Unmarshal(env.Response, &s); err == nil {
			return s, nil, nil
		}
		return string(env.Response), nil, nil
	}
	return "", nil, fmt.Errorf("generic response has no tool_call, tool_calls or response")
}

// splitTopLevel splits s on sep outside of JSON strings and brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			esc = false
		case inStr && ch == '\\':
			esc = true
		case ch == '"':
			inStr = !inStr
		case inStr:
		case ch == '{' || ch == '[':
			depth++
		case ch == '}' || ch == ']':
			depth--
		case ch == sep && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}
