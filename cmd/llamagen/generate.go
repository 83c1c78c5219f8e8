package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamagen/internal/completion"
	"llamagen/internal/manager"
	"llamagen/pkg/types"
)

// genFlags are the generation knobs shared by complete and chat.
type genFlags struct {
	model       string
	nPredict    int
	stop        []string
	temperature float32
	topP        float32
	topK        int
	seed        uint32
	grammar     string
	schemaFile  string
}

func (g *genFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&g.model, "model", "m", "", "Model id (defaults to the configured default)")
	f.IntVarP(&g.nPredict, "n-predict", "n", 0, "Maximum tokens to generate (0 = until context fills)")
	f.StringSliceVar(&g.stop, "stop", nil, "Stop sequence; repeatable")
	f.Float32Var(&g.temperature, "temperature", 0, "Sampling temperature (0 = greedy; omitted = configured default)")
	f.Float32Var(&g.topP, "top-p", 0, "Nucleus sampling probability")
	f.IntVar(&g.topK, "top-k", 0, "Top-K sampling")
	f.Uint32Var(&g.seed, "seed", 0, "Sampling seed (omitted = configured default)")
	f.StringVar(&g.grammar, "grammar", "", "GBNF grammar file constraining the output")
	f.StringVar(&g.schemaFile, "json-schema", "", "JSON schema file the output must satisfy")
}

// sampling forwards only the flags given on the command line, so
// --temperature 0 asks for greedy decoding.
func (g *genFlags) sampling(cmd *cobra.Command) types.SamplingOptions {
	var o types.SamplingOptions
	f := cmd.Flags()
	if f.Changed("temperature") {
		o.Temperature = &g.temperature
	}
	if f.Changed("top-p") {
		o.TopP = &g.topP
	}
	if f.Changed("top-k") {
		o.TopK = &g.topK
	}
	if f.Changed("seed") {
		o.Seed = &g.seed
	}
	return o
}

func (g *genFlags) grammarText() (string, json.RawMessage, error) {
	var grammar string
	var schema json.RawMessage
	if g.grammar != "" {
		b, err := os.ReadFile(g.grammar)
		if err != nil {
			return "", nil, err
		}
		grammar = string(b)
	}
	if g.schemaFile != "" {
		b, err := os.ReadFile(g.schemaFile)
		if err != nil {
			return "", nil, err
		}
		schema = b
	}
	return grammar, schema, nil
}

// promptArg joins args, reading stdin when the only argument is "-".
func promptArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	return strings.Join(args, " "), nil
}

// setup loads config, logger and manager for a one-shot generation.
func (o *options) setup(cmd *cobra.Command) (*manager.Manager, zerolog.Logger, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	mgr, err := buildManager(cfg, log)
	return mgr, log, err
}

// printStream copies deltas to out and returns the final result.
func printStream(out io.Writer, st *completion.Stream) completion.Result {
	for ev := range st.All() {
		fmt.Fprint(out, ev.Delta)
	}
	fmt.Fprintln(out)
	return st.Result()
}

func logResult(log zerolog.Logger, res completion.Result) error {
	if res.Err != nil {
		return res.Err
	}
	log.Debug().
		Int("prompt_tokens", res.PromptTokens).
		Int("predicted_tokens", res.PredictedTokens).
		Bool("stopped_eos", res.StoppedEOS).
		Bool("stopped_word", res.StoppedWord).
		Bool("stopped_limit", res.StoppedLimit).
		Bool("truncated", res.Truncated).
		Msg("completion finished")
	return nil
}

func newCompleteCmd(o *options) *cobra.Command {
	g := &genFlags{}
	var ignoreEOS bool
	cmd := &cobra.Command{
		Use:     "complete [prompt...]",
		Short:   "Complete a raw prompt and stream the text to stdout",
		Example: "  llamagen complete -n 32 \"Count: 1 2 3\"\n  echo 'Once upon' | llamagen complete -",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptArg(cmd, args)
			if err != nil {
				return err
			}
			grammar, schema, err := g.grammarText()
			if err != nil {
				return err
			}
			req, cerr := completion.FromWire(types.CompletionRequest{
				Prompt:          &prompt,
				NPredict:        g.nPredict,
				Stop:            g.stop,
				IgnoreEOS:       ignoreEOS,
				Grammar:         grammar,
				JSONSchema:      schema,
				SamplingOptions: g.sampling(cmd),
			})
			if cerr != nil {
				return cerr
			}
			mgr, log, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()
			st, err := mgr.Stream(cmd.Context(), g.model, req)
			if err != nil {
				return err
			}
			return logResult(log, printStream(cmd.OutOrStdout(), st))
		},
	}
	g.register(cmd)
	cmd.Flags().BoolVar(&ignoreEOS, "ignore-eos", false, "Keep generating past end-of-sequence")
	return cmd
}

func newChatCmd(o *options) *cobra.Command {
	g := &genFlags{}
	var system, toolsFile, toolChoice string
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send one user message through the chat template",
		Long: "Streams the assistant reply to stdout. With --tools the reply is parsed " +
			"for tool calls and printed as a chat.completion JSON object.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := promptArg(cmd, args)
			if err != nil {
				return err
			}
			grammar, schema, err := g.grammarText()
			if err != nil {
				return err
			}
			req := types.ChatRequest{
				Model:           g.model,
				NPredict:        g.nPredict,
				Stop:            g.stop,
				Grammar:         grammar,
				JSONSchema:      schema,
				ToolChoice:      toolChoice,
				SamplingOptions: g.sampling(cmd),
			}
			if system != "" {
				req.Messages = append(req.Messages, types.ChatMessage{Role: "system", Content: system})
			}
			req.Messages = append(req.Messages, types.ChatMessage{Role: "user", Content: msg})
			if toolsFile != "" {
				b, err := os.ReadFile(toolsFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(b, &req.Tools); err != nil {
					return fmt.Errorf("tools file: %w", err)
				}
			}

			mgr, log, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()
			if len(req.Tools) > 0 {
				return chatJSON(cmd.Context(), cmd.OutOrStdout(), mgr, req)
			}
			st, err := mgr.ChatStream(cmd.Context(), req)
			if err != nil {
				return err
			}
			return logResult(log, printStream(cmd.OutOrStdout(), st))
		},
	}
	g.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&system, "system", "s", "", "System prompt")
	f.StringVar(&toolsFile, "tools", "", "JSON file with an array of OpenAI-style tool definitions")
	f.StringVar(&toolChoice, "tool-choice", "auto", "Tool choice: auto|none|required")
	return cmd
}

func chatJSON(ctx context.Context, out io.Writer, mgr *manager.Manager, req types.ChatRequest) error {
	res, err := mgr.Chat(ctx, req)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	b, err := json.MarshalIndent(res.Chat, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
