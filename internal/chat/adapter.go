// Package chat renders chat requests into prompts for the completion engine
// and structures the generated text into OpenAI-style responses.
package chat

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"llamagen/internal/completion"
	"llamagen/internal/grammar"
	"llamagen/internal/sampling"
	"llamagen/internal/toolcall"
	"llamagen/pkg/types"
)

// Options configure an Adapter. They come from session setup and are
// read-only afterwards.
type Options struct {
	// Template overrides the model-bound template source. The name
	// "chatml" selects the built-in template.
	Template           string
	UseJinja           bool
	ReasoningFormat    toolcall.ReasoningFormat
	ReasoningInContent bool
	Kwargs             map[string]string
	BOSToken           string
	EOSToken           string
	Logger             zerolog.Logger
}

// Adapter turns chat requests into completion requests and back.
type Adapter struct {
	opts     Options
	tpl      Template
	src      string
	fallback Template
	now      func() time.Time
	parse    func(string, toolcall.Syntax) (toolcall.Message, error)
}

// New selects a template: the override, else the model's own, else chatml.
// A template that fails to parse falls back to chatml.
func New(modelTemplate string, opts Options) *Adapter {
	a := &Adapter{opts: opts, fallback: chatML{}, now: time.Now, parse: toolcall.Parse}
	src := modelTemplate
	if opts.Template != "" {
		src = opts.Template
	}
	a.src = src
	switch {
	case src == "" || src == ChatMLName || !opts.UseJinja:
		a.tpl = chatML{}
	default:
		t, err := newJinja(src)
		if err != nil {
			opts.Logger.Warn().Err(err).Msg("chat template unusable, using chatml")
			a.tpl = chatML{}
		} else {
			a.tpl = t
		}
	}
	return a
}

// TemplateName reports which renderer is active.
func (a *Adapter) TemplateName() string { return a.tpl.Name() }

// Format reports the tool-call format of the active template.
func (a *Adapter) Format() toolcall.Format {
	if a.tpl.Name() == ChatMLName {
		return toolcall.Hermes
	}
	return DetectFormat(a.src)
}

// Prepared is a rendered chat request ready for the completion engine.
type Prepared struct {
	Request            completion.Request
	Prompt             string
	Format             toolcall.Format
	HasTools           bool
	ThinkingForcedOpen bool
	Model              string
}

// Prepare validates req and renders it. Errors are InvalidParamError.
func (a *Adapter) Prepare(req types.ChatRequest) (Prepared, *completion.Error) {
	if len(req.Messages) == 0 {
		return Prepared{}, completion.Errorf(completion.InvalidParamError, "messages must not be empty")
	}
	hasSchema := len(req.JSONSchema) > 0 && string(req.JSONSchema) != "null"
	if req.Grammar != "" && hasSchema {
		return Prepared{}, completion.Errorf(completion.InvalidParamError, "cannot use both json_schema and grammar")
	}
	choice := strings.ToLower(strings.TrimSpace(req.ToolChoice))
	switch choice {
	case "":
		choice = "auto"
	case "auto", "none", "required":
	default:
		return Prepared{}, completion.Errorf(completion.InvalidParamError, "invalid tool_choice %q", req.ToolChoice)
	}
	hasTools := len(req.Tools) > 0
	if hasTools && choice != "none" && req.Grammar != "" {
		return Prepared{}, completion.Errorf(completion.InvalidParamError, "cannot use custom grammar constraints with tools")
	}
	if hasTools && choice != "none" && hasSchema {
		return Prepared{}, completion.Errorf(completion.InvalidParamError, "cannot use json_schema with tools")
	}

	kwargs := mergeKwargs(a.opts.Kwargs, req.ChatTemplateKwargs)
	in := Inputs{
		Messages:            req.Messages,
		AddGenerationPrompt: true,
		EnableThinking:      enableThinking(kwargs),
		Kwargs:              kwargs,
		BOSToken:            a.opts.BOSToken,
		EOSToken:            a.opts.EOSToken,
		ToolChoice:          choice,
	}
	if req.ParallelToolCalls != nil {
		in.ParallelToolCalls = *req.ParallelToolCalls
	}
	useTools := hasTools && choice != "none"
	if useTools {
		in.Tools = req.Tools
		in.ParallelToolCalls = true
	}

	format := toolcall.ContentOnly
	tpl := a.tpl
	if useTools {
		format = a.Format()
		if format == toolcall.Generic {
			in.Messages = withSystemNote(in.Messages, genericPreamble)
		}
	}
	prompt, err := tpl.Render(in)
	if err != nil {
		a.opts.Logger.Warn().Err(err).Str("template", tpl.Name()).Msg("chat template render failed, falling back to chatml")
		tpl = a.fallback
		if useTools {
			format = toolcall.Hermes
			in.Messages = req.Messages
		}
		if prompt, err = tpl.Render(in); err != nil {
			return Prepared{}, completion.Errorf(completion.GeneralError, "render chat template: %v", err)
		}
	}

	cfg := sampling.Config{
		Grammar:     req.Grammar,
		GrammarLazy: req.GrammarLazy,
		Triggers:    req.GrammarTriggers,
	}
	cfg.Apply(req.SamplingOptions)
	if hasSchema {
		g, err := grammar.FromJSONSchema(req.JSONSchema)
		if err != nil {
			return Prepared{}, completion.Errorf(completion.InvalidParamError, "%v", err)
		}
		cfg.Grammar = g
	}
	if useTools {
		g, err := toolGrammar(format, req.Tools, choice, in.ParallelToolCalls)
		if err != nil {
			return Prepared{}, completion.Errorf(completion.InvalidParamError, "%v", err)
		}
		cfg.Grammar = g
		cfg.Triggers = format.Triggers()
	}
	if hasTools {
		cfg.GrammarLazy = false
	}

	npredict := req.NPredict
	if npredict <= 0 {
		npredict = req.MaxTokens
	}
	forced := in.EnableThinking && thinkingForcedOpen(prompt)
	a.opts.Logger.Debug().Str("template", tpl.Name()).Str("format", format.String()).Bool("tools", useTools).Bool("thinking_forced_open", forced).Msg("chat prompt rendered")
	return Prepared{
		Request: completion.Request{
			Prompt:    completion.PromptText(prompt),
			Stop:      req.Stop,
			NPredict:  npredict,
			IgnoreEOS: req.IgnoreEOS,
			Sampling:  cfg,
			HasTools:  hasTools,
		},
		Prompt:             prompt,
		Format:             format,
		HasTools:           hasTools,
		ThinkingForcedOpen: forced,
		Model:              req.Model,
	}, nil
}

// Finish attaches the chat response to a successful result. Tool calls are
// parsed only when the request declared tools; parse failures keep the raw
// text.
func (a *Adapter) Finish(p Prepared, res completion.Result) completion.Result {
	if !res.Success {
		return res
	}
	var msg *toolcall.Message
	if p.HasTools && res.Content != "" {
		msg = a.parseContent(p, res.Content)
	}
	res.Chat = buildResponse(p.Model, res, msg, a.now())
	return res
}

// parseContent returns nil when the text cannot be structured, including
// when the parser panics.
func (a *Adapter) parseContent(p Prepared, text string) (msg *toolcall.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.opts.Logger.Error().Interface("panic", r).Str("format", p.Format.String()).Msg("tool call parser panicked, returning raw content")
			msg = nil
		}
	}()
	parsed, err := a.parse(text, a.Syntax(p))
	if err != nil {
		a.opts.Logger.Debug().Err(err).Str("format", p.Format.String()).Msg("tool call parse failed, returning raw content")
		return nil
	}
	return &parsed
}

// Syntax is the parse descriptor for a prepared request.
func (a *Adapter) Syntax(p Prepared) toolcall.Syntax {
	return toolcall.Syntax{
		Format:             p.Format,
		ReasoningFormat:    a.opts.ReasoningFormat,
		ReasoningInContent: a.opts.ReasoningInContent,
		ThinkingForcedOpen: p.ThinkingForcedOpen,
		ParseToolCalls:     true,
	}
}

func withSystemNote(msgs []types.ChatMessage, note string) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(msgs)+1)
	if len(msgs) > 0 && msgs[0].Role == "system" {
		first := msgs[0]
		first.Content = first.Content + "\n\n" + note
		out = append(out, first)
		return append(out, msgs[1:]...)
	}
	out = append(out, types.ChatMessage{Role: "system", Content: note})
	return append(out, msgs...)
}
