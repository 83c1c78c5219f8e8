package chat

import (
	"strings"

	"llamagen/internal/toolcall"
)

// DetectFormat picks the tool-call convention from a template's source.
func DetectFormat(src string) toolcall.Format {
	switch {
	case strings.Contains(src, "<tool_call>"):
		return toolcall.Hermes
	case strings.Contains(src, "[TOOL_CALLS]"):
		return toolcall.MistralNemo
	case strings.Contains(src, "<|start_header_id|>") && strings.Contains(src, "ipython"):
		return toolcall.Llama3
	default:
		return toolcall.Generic
	}
}

// thinkingForcedOpen reports whether the rendered prompt leaves a think
// block open for the model to continue.
func thinkingForcedOpen(prompt string) bool {
	return strings.HasSuffix(strings.TrimRight(prompt, " \t\r\n"), "<think>")
}
