package chat

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ChatMLName names the built-in template used when nothing else renders.
const ChatMLName = "chatml"

const toolsPreamble = "# Tools\n\nYou may call one or more functions to assist with the user query.\n\nYou are provided with function signatures within <tools></tools> XML tags:\n<tools>"

const toolsEpilogue = "\n</tools>\n\nFor each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>"

// chatML is the built-in ChatML renderer. Tools are advertised in the
// system turn with Hermes-style tool_call instructions.
type chatML struct{}

func (chatML) Name() string { return ChatMLName }

func (chatML) Render(in Inputs) (string, error) {
	var b strings.Builder
	msgs := in.Messages

	system := ""
	if len(msgs) > 0 && msgs[0].Role == "system" {
		system = msgs[0].Content
		msgs = msgs[1:]
	}
	if len(in.Tools) > 0 {
		b.WriteString("<|im_start|>system\n")
		if system != "" {
			b.WriteString(system)
			b.WriteString("\n\n")
		}
		b.WriteString(toolsPreamble)
		for _, t := range in.Tools {
			j, err := json.MarshalNoEscape(t)
			if err != nil {
				return "", fmt.Errorf("chatml: tool tojson: %w", err)
			}
			b.WriteString("\n")
			b.Write(j)
		}
		b.WriteString(toolsEpilogue)
		b.WriteString("<|im_end|>\n")
	} else if system != "" {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		b.WriteString("<|im_end|>\n")
	}

	for _, m := range msgs {
		switch m.Role {
		case "tool":
			b.WriteString("<|im_start|>user\n<tool_response>\n")
			b.WriteString(m.Content)
			b.WriteString("\n</tool_response><|im_end|>\n")
		case "assistant":
			b.WriteString("<|im_start|>assistant\n")
			b.WriteString(m.Content)
			for i, c := range m.ToolCalls {
				if i > 0 || m.Content != "" {
					b.WriteString("\n")
				}
				args := c.Function.Arguments
				if args == "" {
					args = "{}"
				}
				fmt.Fprintf(&b, "<tool_call>\n{\"name\": %q, \"arguments\": %s}\n</tool_call>", c.Function.Name, args)
			}
			b.WriteString("<|im_end|>\n")
		default:
			b.WriteString("<|im_start|>")
			b.WriteString(m.Role)
			b.WriteString("\n")
			b.WriteString(m.Content)
			b.WriteString("<|im_end|>\n")
		}
	}
	if in.AddGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
		if !in.EnableThinking && wantsThinkToggle(in.Kwargs) {
			b.WriteString("<think>\n\n</think>\n\n")
		}
	}
	return b.String(), nil
}

// wantsThinkToggle reports whether enable_thinking was set explicitly.
func wantsThinkToggle(kwargs map[string]string) bool {
	_, ok := kwargs["enable_thinking"]
	return ok
}
