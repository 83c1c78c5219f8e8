// Package grammar converts JSON schemas into GBNF grammars understood by the
// llama.cpp grammar sampler.
package grammar

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Space is the whitespace rule used between JSON tokens.
const Space = `| " " | "\n" [ \t]{0,20}`

var primitives = map[string]string{
	"boolean":        `("true" | "false") space`,
	"char":           `[^"\\\x7F\x00-\x1F] | [\\] (["\\bfnrt] | "u" [0-9a-fA-F]{4})`,
	"decimal-part":   `[0-9]{1,16}`,
	"integral-part":  `[0] | [1-9] [0-9]{0,15}`,
	"number":         `("-"? integral-part) ("." decimal-part)? ([eE] [-+]? integral-part)? space`,
	"integer":        `("-"? integral-part) space`,
	"string":         `"\"" char* "\"" space`,
	"null":           `"null" space`,
	"value":          `object | array | string | number | boolean | null`,
	"object":         `"{" space ( string ":" space value ("," space string ":" space value)* )? "}" space`,
	"array":          `"[" space ( value ("," space value)* )? "]" space`,
}

var primitiveDeps = map[string][]string{
	"number":  {"integral-part", "decimal-part"},
	"integer": {"integral-part"},
	"string":  {"char"},
	"value":   {"object", "array", "string", "number", "boolean", "null"},
	"object":  {"string", "value"},
	"array":   {"value"},
}

var invalidName = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Builder accumulates GBNF rules. The zero value is not usable; see NewBuilder.
type Builder struct {
	doc   map[string]any
	rules map[string]string
	order []string
	refs  map[string]string
}

// NewBuilder returns a builder resolving $ref pointers against doc, which
// may be nil.
func NewBuilder(doc any) *Builder {
	b := &Builder{rules: map[string]string{"space": Space}, order: []string{"space"}, refs: map[string]string{}}
	if m, ok := doc.(map[string]any); ok {
		b.doc = m
	}
	return b
}

// WithRoot switches $ref resolution to doc for subsequent visits, so one
// builder can hold the rules of several independent schemas.
func (b *Builder) WithRoot(doc any) *Builder {
	b.doc, _ = doc.(map[string]any)
	b.refs = map[string]string{}
	return b
}

// FromJSONSchema converts a JSON schema document into a grammar whose root
// rule matches instances of the schema.
func FromJSONSchema(data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("invalid json schema: %w", err)
	}
	b := NewBuilder(doc)
	got, err := b.Visit(doc, "root")
	if err != nil {
		return "", err
	}
	if got != "root" {
		b.AddRule("root", got)
	}
	return b.String(), nil
}

// Literal quotes s as a GBNF string literal.
func Literal(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// AddRule registers body under a sanitized form of name and returns the name
// actually used. Identical bodies share a name; clashes get a numeric suffix.
func (b *Builder) AddRule(name, body string) string {
	key := invalidName.ReplaceAllString(name, "-")
	if key == "" {
		key = "rule"
	}
	if cur, ok := b.rules[key]; ok && cur != body {
		i := 0
		for {
			cand := key + strconv.Itoa(i)
			if cur, ok := b.rules[cand]; !ok || cur == body {
				key = cand
				break
			}
			i++
		}
	}
	if _, ok := b.rules[key]; !ok {
		b.order = append(b.order, key)
	}
	b.rules[key] = body
	return key
}

// Primitive ensures the named primitive rule and its dependencies exist.
func (b *Builder) Primitive(name string) string {
	body, ok := primitives[name]
	if !ok {
		return name
	}
	if _, ok := b.rules[name]; ok {
		return name
	}
	// Register before walking deps: value, object and array refer to each other.
	b.rules[name] = body
	b.order = append(b.order, name)
	for _, d := range primitiveDeps[name] {
		b.Primitive(d)
	}
	return name
}

// String renders all rules, root first.
func (b *Builder) String() string {
	var sb strings.Builder
	if body, ok := b.rules["root"]; ok {
		fmt.Fprintf(&sb, "root ::= %s\n", body)
	}
	for _, name := range b.order {
		if name == "root" {
			continue
		}
		fmt.Fprintf(&sb, "%s ::= %s\n", name, b.rules[name])
	}
	return sb.String()
}

// Visit adds the rules needed to match schema and returns the rule name
// that matches it.
func (b *Builder) Visit(schema any, name string) (string, error) {
	if name == "" {
		name = "root"
	}
	switch s := schema.(type) {
	case nil:
		return b.AddRule(name, b.Primitive("value")), nil
	case bool:
		if !s {
			return "", fmt.Errorf("schema %q is false and matches nothing", name)
		}
		return b.AddRule(name, b.Primitive("value")), nil
	case map[string]any:
		return b.visitObject(s, name)
	default:
		return "", fmt.Errorf("unsupported schema node %T at %q", schema, name)
	}
}

func (b *Builder) visitObject(s map[string]any, name string) (string, error) {
	if ref, ok := s["$ref"].(string); ok {
		return b.visitRef(ref)
	}
	if alts, ok := s["anyOf"].([]any); ok {
		return b.visitAlternatives(alts, name)
	}
	if alts, ok := s["oneOf"].([]any); ok {
		return b.visitAlternatives(alts, name)
	}
	if parts, ok := s["allOf"].([]any); ok {
		return b.visitObject(mergeAllOf(parts, b), name)
	}
	if c, ok := s["const"]; ok {
		lit, err := jsonLiteral(c)
		if err != nil {
			return "", err
		}
		return b.AddRule(name, lit+" space"), nil
	}
	if vals, ok := s["enum"].([]any); ok {
		lits := make([]string, 0, len(vals))
		for _, v := range vals {
			lit, err := jsonLiteral(v)
			if err != nil {
				return "", err
			}
			lits = append(lits, lit)
		}
		return b.AddRule(name, "("+strings.Join(lits, " | ")+") space"), nil
	}

	switch t := s["type"].(type) {
	case []any:
		alts := make([]any, 0, len(t))
		for _, tt := range t {
			m := copyMap(s)
			m["type"] = tt
			alts = append(alts, m)
		}
		return b.visitAlternatives(alts, name)
	case string:
		switch t {
		case "object":
			return b.visitProperties(s, name)
		case "array":
			return b.visitArray(s, name)
		case "string":
			return b.visitString(s, name)
		case "integer", "number", "boolean", "null":
			return b.AddRule(name, b.Primitive(t)), nil
		default:
			return "", fmt.Errorf("unsupported schema type %q", t)
		}
	}
	if _, ok := s["properties"]; ok {
		return b.visitProperties(s, name)
	}
	if _, ok := s["items"]; ok {
		return b.visitArray(s, name)
	}
	return b.AddRule(name, b.Primitive("value")), nil
}

func (b *Builder) visitRef(ref string) (string, error) {
	if rule, ok := b.refs[ref]; ok {
		return rule, nil
	}
	var key string
	switch {
	case strings.HasPrefix(ref, "#/definitions/"):
		key = "definitions"
	case strings.HasPrefix(ref, "#/$defs/"):
		key = "$defs"
	default:
		return "", fmt.Errorf("unsupported $ref %q", ref)
	}
	defName := ref[strings.LastIndex(ref, "/")+1:]
	defs, _ := b.doc[key].(map[string]any)
	target, ok := defs[defName]
	if !ok {
		return "", fmt.Errorf("unresolved $ref %q", ref)
	}
	rule := invalidName.ReplaceAllString("ref-"+defName, "-")
	// Reserve the name first so recursive schemas terminate.
	b.refs[ref] = rule
	got, err := b.Visit(target, rule)
	if err != nil {
		return "", err
	}
	if got != rule {
		b.refs[ref] = got
	}
	return got, nil
}

func (b *Builder) visitAlternatives(alts []any, name string) (string, error) {
	refs := make([]string, 0, len(alts))
	for i, alt := range alts {
		r, err := b.Visit(alt, name+"-"+strconv.Itoa(i))
		if err != nil {
			return "", err
		}
		refs = append(refs, r)
	}
	return b.AddRule(name, strings.Join(refs, " | ")), nil
}

func (b *Builder) visitString(s map[string]any, name string) (string, error) {
	minLen, hasMin := intField(s, "minLength")
	maxLen, hasMax := intField(s, "maxLength")
	if !hasMin && !hasMax {
		return b.AddRule(name, b.Primitive("string")), nil
	}
	b.Primitive("char")
	rep := "{" + strconv.Itoa(minLen) + ","
	if hasMax {
		rep += strconv.Itoa(maxLen)
	}
	rep += "}"
	return b.AddRule(name, `"\"" char`+rep+` "\"" space`), nil
}

func (b *Builder) visitArray(s map[string]any, name string) (string, error) {
	if prefix, ok := s["prefixItems"].([]any); ok {
		parts := make([]string, 0, len(prefix))
		for i, it := range prefix {
			r, err := b.Visit(it, name+"-tuple-"+strconv.Itoa(i))
			if err != nil {
				return "", err
			}
			parts = append(parts, r)
		}
		return b.AddRule(name, `"[" space `+strings.Join(parts, ` "," space `)+` "]" space`), nil
	}
	item := b.Primitive("value")
	if it, ok := s["items"]; ok {
		r, err := b.Visit(it, name+"-item")
		if err != nil {
			return "", err
		}
		item = r
	}
	minItems, _ := intField(s, "minItems")
	maxItems, hasMax := intField(s, "maxItems")
	if hasMax && maxItems == 0 {
		return b.AddRule(name, `"[" space "]" space`), nil
	}
	var body string
	switch {
	case minItems == 0 && !hasMax:
		body = `"[" space ( ` + item + ` ( "," space ` + item + ` )* )? "]" space`
	default:
		lo := minItems - 1
		if lo < 0 {
			lo = 0
		}
		rep := "{" + strconv.Itoa(lo) + ","
		if hasMax {
			rep += strconv.Itoa(maxItems - 1)
		}
		rep += "}"
		inner := item + ` ( "," space ` + item + ` )` + rep
		if minItems == 0 {
			inner = "( " + inner + " )?"
		}
		body = `"[" space ` + inner + ` "]" space`
	}
	return b.AddRule(name, body), nil
}

func (b *Builder) visitProperties(s map[string]any, name string) (string, error) {
	props, _ := s["properties"].(map[string]any)
	if len(props) == 0 {
		return b.AddRule(name, b.Primitive("object")), nil
	}
	required := map[string]bool{}
	if req, ok := s["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				required[rs] = true
			}
		}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := map[string]string{}
	var req, opt []string
	for _, k := range keys {
		valRule, err := b.Visit(props[k], name+"-"+k)
		if err != nil {
			return "", err
		}
		kv[k] = b.AddRule(name+"-"+k+"-kv", jsonString(k)+` space ":" space `+valRule)
		if required[k] {
			req = append(req, k)
		} else {
			opt = append(opt, k)
		}
	}

	var chain func(ks []string, firstOptional bool) string
	chain = func(ks []string, firstOptional bool) string {
		ref := kv[ks[0]]
		var out string
		if firstOptional {
			out = `( "," space ` + ref + ` )?`
		} else {
			out = ref
		}
		if len(ks) > 1 {
			out += " " + b.AddRule(name+"-"+ks[0]+"-rest", chain(ks[1:], true))
		}
		return out
	}

	var sb strings.Builder
	sb.WriteString(`"{" space `)
	reqRefs := make([]string, 0, len(req))
	for _, k := range req {
		reqRefs = append(reqRefs, kv[k])
	}
	sb.WriteString(strings.Join(reqRefs, ` "," space `))
	if len(opt) > 0 {
		sb.WriteString(" (")
		if len(req) > 0 {
			sb.WriteString(` "," space ( `)
		}
		alts := make([]string, 0, len(opt))
		for i := range opt {
			alts = append(alts, chain(opt[i:], false))
		}
		sb.WriteString(strings.Join(alts, " | "))
		if len(req) > 0 {
			sb.WriteString(" )")
		}
		sb.WriteString(" )?")
	}
	sb.WriteString(` "}" space`)
	return b.AddRule(name, sb.String()), nil
}

func mergeAllOf(parts []any, b *Builder) map[string]any {
	props := map[string]any{}
	var required []any
	for _, p := range parts {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := m["$ref"].(string); ok {
			m = b.resolve(ref)
		}
		if pp, ok := m["properties"].(map[string]any); ok {
			for k, v := range pp {
				props[k] = v
			}
		}
		if rr, ok := m["required"].([]any); ok {
			required = append(required, rr...)
		}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func (b *Builder) resolve(ref string) map[string]any {
	for _, key := range []string{"definitions", "$defs"} {
		prefix := "#/" + key + "/"
		if strings.HasPrefix(ref, prefix) {
			defs, _ := b.doc[key].(map[string]any)
			m, _ := defs[strings.TrimPrefix(ref, prefix)].(map[string]any)
			return m
		}
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func intField(s map[string]any, key string) (int, bool) {
	switch v := s[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// jsonString is the GBNF literal matching k encoded as a JSON string.
func jsonString(k string) string {
	enc, _ := json.MarshalNoEscape(k)
	return Literal(string(enc))
}

func jsonLiteral(v any) (string, error) {
	enc, err := json.MarshalNoEscape(v)
	if err != nil {
		return "", fmt.Errorf("encode literal: %w", err)
	}
	return Literal(string(enc)), nil
}
