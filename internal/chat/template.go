package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"

	"llamagen/pkg/types"
)

// Inputs is everything a chat template can see.
type Inputs struct {
	Messages            []types.ChatMessage
	Tools               []types.Tool
	ToolChoice          string
	AddGenerationPrompt bool
	EnableThinking      bool
	ParallelToolCalls   bool
	Kwargs              map[string]string
	BOSToken            string
	EOSToken            string
}

// Template renders chat inputs into a single prompt.
type Template interface {
	Name() string
	Render(in Inputs) (string, error)
}

// jinjaTemplate renders a model-bound Jinja template with gonja.
type jinjaTemplate struct {
	src string
	tpl *exec.Template
}

func newJinja(src string) (*jinjaTemplate, error) {
	tpl, err := gonja.FromString(src)
	if err != nil {
		return nil, fmt.Errorf("parse chat template: %w", err)
	}
	return &jinjaTemplate{src: src, tpl: tpl}, nil
}

func (t *jinjaTemplate) Name() string { return "jinja" }

func (t *jinjaTemplate) Render(in Inputs) (out string, err error) {
	// gonja panics on some unsupported constructs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render chat template: %v", r)
		}
	}()
	data := map[string]any{
		"messages":              messagesValue(in.Messages),
		"add_generation_prompt": in.AddGenerationPrompt,
		"bos_token":             in.BOSToken,
		"eos_token":             in.EOSToken,
		"enable_thinking":       in.EnableThinking,
		"parallel_tool_calls":   in.ParallelToolCalls,
		"tool_choice":           in.ToolChoice,
		"raise_exception": func(msg string) (string, error) {
			return "", errors.New(msg)
		},
		"strftime_now": func(format string) string {
			return strftime(time.Now(), format)
		},
	}
	if len(in.Tools) > 0 {
		data["tools"] = toolsValue(in.Tools)
	}
	for k, v := range in.Kwargs {
		if _, reserved := data[k]; reserved && k != "enable_thinking" {
			continue
		}
		data[k] = kwargValue(v)
	}
	var sb strings.Builder
	if err := t.tpl.Execute(&sb, exec.NewContext(data)); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return sb.String(), nil
}

// messagesValue exposes messages the way templates index them, with tool
// call arguments decoded into objects.
func messagesValue(msgs []types.ChatMessage) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		v := map[string]any{"role": m.Role, "content": m.Content}
		if m.Name != "" {
			v["name"] = m.Name
		}
		if m.ToolCallID != "" {
			v["tool_call_id"] = m.ToolCallID
		}
		if m.ReasoningContent != "" {
			v["reasoning_content"] = m.ReasoningContent
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]any, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				var args any = c.Function.Arguments
				var decoded map[string]any
				if json.Unmarshal([]byte(c.Function.Arguments), &decoded) == nil {
					args = decoded
				}
				calls = append(calls, map[string]any{
					"id":       c.ID,
					"type":     "function",
					"function": map[string]any{"name": c.Function.Name, "arguments": args},
				})
			}
			v["tool_calls"] = calls
		}
		out = append(out, v)
	}
	return out
}

func toolsValue(tools []types.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		var v map[string]any
		if json.Unmarshal(b, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

func kwargValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	var decoded any
	if json.Unmarshal([]byte(v), &decoded) == nil {
		return decoded
	}
	return v
}

// strftime supports the directives chat templates use for dates.
func strftime(t time.Time, format string) string {
	r := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%B", t.Format("January"),
		"%b", t.Format("Jan"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
		"%%", "%",
	)
	return r.Replace(format)
}
