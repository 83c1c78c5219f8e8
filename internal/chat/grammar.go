package chat

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"llamagen/internal/grammar"
	"llamagen/internal/toolcall"
	"llamagen/pkg/types"
)

const genericPreamble = "Respond in JSON format, either with `tool_call` (a request to call tools) or with `response` reply to the user's request"

// toolGrammar builds the grammar constraining output to calls of tools in
// the given format. With tool choice "auto" plain answers stay possible.
func toolGrammar(format toolcall.Format, tools []types.Tool, choice string, parallel bool) (string, error) {
	b := grammar.NewBuilder(nil)
	nameKey, argsKey := "name", "arguments"
	if format == toolcall.Llama3 {
		argsKey = "parameters"
	}

	calls := make([]string, 0, len(tools))
	for i, t := range tools {
		var schema any
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return "", fmt.Errorf("tool %q: invalid parameters schema: %w", t.Function.Name, err)
			}
		} else {
			schema = map[string]any{"type": "object"}
		}
		prefix := "tool-" + strconv.Itoa(i)
		args, err := b.WithRoot(schema).Visit(schema, prefix+"-args")
		if err != nil {
			return "", fmt.Errorf("tool %q: %w", t.Function.Name, err)
		}
		name, _ := json.MarshalNoEscape(t.Function.Name)
		body := fmt.Sprintf(`"{" space %s space ":" space %s space "," space %s space ":" space %s "}" space`,
			grammar.Literal(`"`+nameKey+`"`), grammar.Literal(string(name)), grammar.Literal(`"`+argsKey+`"`), args)
		calls = append(calls, b.AddRule(prefix+"-call", body))
	}
	call := b.AddRule("tool-call", strings.Join(calls, " | "))

	var root string
	switch format {
	case toolcall.Hermes:
		one := b.AddRule("tool-call-block", `"<tool_call>" space `+call+` "</tool_call>" space`)
		root = one
		if parallel {
			root = one + "+"
		}
		if choice != "required" {
			root = "(" + root + ") | " + b.AddRule("free-text", `[^<] [^\x00]*`)
		}
	case toolcall.MistralNemo:
		list := call
		if parallel {
			list = call + ` ( "," space ` + call + ` )*`
		}
		root = `"[TOOL_CALLS]" "[" space ` + list + ` "]" space`
		if choice != "required" {
			root = "(" + root + ") | " + b.AddRule("free-text", `[^[] [^\x00]*`)
		}
	case toolcall.Llama3:
		root = call
		if parallel {
			root = call + ` ( ";" space ` + call + ` )*`
		}
		if choice != "required" {
			root = "(" + root + ") | " + b.AddRule("free-text", `[^{] [^\x00]*`)
		}
	default:
		var env string
		if parallel {
			env = `"{" space ` + grammar.Literal(`"tool_calls"`) + ` space ":" space "[" space ` + call + ` ( "," space ` + call + ` )* "]" space "}" space`
		} else {
			env = `"{" space ` + grammar.Literal(`"tool_call"`) + ` space ":" space ` + call + ` "}" space`
		}
		root = b.AddRule("tool-calls", env)
		if choice != "required" {
			resp := `"{" space ` + grammar.Literal(`"response"`) + ` space ":" space ` + b.Primitive("string") + ` "}" space`
			root = root + " | " + b.AddRule("response", resp)
		}
	}
	b.AddRule("root", root)
	return b.String(), nil
}
