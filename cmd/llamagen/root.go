package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"llamagen/internal/config"
	"llamagen/internal/manager"
	"llamagen/internal/registry"
	"llamagen/internal/runtime"
	"llamagen/internal/session"
)

// options is shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&options{}) }

func newRootCmdWith(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "llamagen",
		Short:         "Local text generation over GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", envStr("LLAMAGEN_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	pf.String("models-dir", envStr("LLAMAGEN_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	pf.String("default-model", "", "Default model id when a request omits model")
	pf.String("backend", envStr("LLAMAGEN_BACKEND", runtime.BackendYzma), "Runtime backend: yzma|llama")
	pf.String("lib-path", envStr("YZMA_LIB", ""), "Directory holding the llama.cpp shared libraries (yzma)")
	pf.Int("n-ctx", 0, "Context size in tokens (0 = default)")
	pf.Int("n-gpu-layers", 0, "Layers to offload to the GPU")
	pf.Int("threads", 0, "CPU threads (0 = runtime default)")
	pf.String("chat-template", "", "Chat template name or Jinja source overriding the model's")
	pf.String("log-level", envStr("LLAMAGEN_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	pf.String("log-format", "console", "Log format: console|json")

	root.AddCommand(
		newServeCmd(o),
		newCompleteCmd(o),
		newChatCmd(o),
		newModelsCmd(o),
		newInfoCmd(o),
	)
	return root
}

// load reads the config file and applies flags on top. A flag wins when it
// was set explicitly; its default fills only fields the file left empty.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	fs := cmd.Flags()
	flagString(fs, "addr", &cfg.Addr)
	flagString(fs, "models-dir", &cfg.ModelsDir)
	flagString(fs, "default-model", &cfg.DefaultModel)
	flagString(fs, "backend", &cfg.Backend)
	flagString(fs, "lib-path", &cfg.LibPath)
	flagString(fs, "chat-template", &cfg.ChatTemplate)
	flagString(fs, "log-level", &cfg.LogLevel)
	flagString(fs, "log-format", &cfg.LogFormat)
	flagInt(fs, "n-ctx", &cfg.NCtx)
	flagInt(fs, "n-gpu-layers", &cfg.NGPULayers)
	flagInt(fs, "threads", &cfg.Threads)
	flagInt(fs, "vram-budget-mb", &cfg.VRAMBudgetMB)
	flagInt(fs, "vram-margin-mb", &cfg.VRAMMarginMB)
	flagInt(fs, "max-queue-depth", &cfg.MaxQueueDepth)
	flagInt(fs, "max-wait-ms", &cfg.MaxWaitMS)
	if fs.Changed("cors-origins") {
		cfg.CORSOrigins, _ = fs.GetStringSlice("cors-origins")
	}
	return cfg, cfg.Validate()
}

func flagString(fs *pflag.FlagSet, name string, dst *string) {
	v, err := fs.GetString(name)
	if err != nil {
		return
	}
	if fs.Changed(name) || *dst == "" {
		*dst = v
	}
}

func flagInt(fs *pflag.FlagSet, name string, dst *int) {
	v, err := fs.GetInt(name)
	if err != nil {
		return
	}
	if fs.Changed(name) || *dst == 0 {
		*dst = v
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if format == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return l.Level(lvl).With().Timestamp().Logger()
}

// buildManager opens the runtime, scans the models directory and wires the
// manager the way every subcommand needs it.
func buildManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	backend, err := runtime.Open(cfg.Backend, cfg.LibPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:      reg,
		BudgetMB:      cfg.VRAMBudgetMB,
		MarginMB:      cfg.VRAMMarginMB,
		DefaultModel:  cfg.DefaultModel,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		Session: session.Config{
			Backend:  backend,
			Model:    cfg.ModelParams(),
			Context:  cfg.ContextParams(),
			NPredict: cfg.NPredict,
			Sampling: cfg.Sampling,
			Chat:     cfg.ChatOptions(),
			JobTTL:   cfg.JobTTL(),
			Logger:   log,
		},
		Publisher: manager.LogPublisher{Log: log},
		Logger:    log,
	})
	rep := mgr.SanityCheck()
	ev := log.Info()
	if !rep.OK() {
		ev = log.Warn().Str("error", rep.Error).Strs("missing", rep.MissingModels)
	}
	ev.Str("backend", rep.Backend).Int("models", rep.Models).Bool("default_found", rep.DefaultFound).Msg("sanity check")
	return mgr, nil
}
