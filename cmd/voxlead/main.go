// Command voxlead is the main entry point for the VoxLead voice agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxlead-ai/voxlead/internal/agent"
	"github.com/voxlead-ai/voxlead/internal/config"
	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/internal/transport"
	"github.com/voxlead-ai/voxlead/pkg/audio"
	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
	"github.com/voxlead-ai/voxlead/pkg/plugin"
	"github.com/voxlead-ai/voxlead/pkg/plugin/leadstore"
	metricsplugin "github.com/voxlead-ai/voxlead/pkg/plugin/metrics"
	"github.com/voxlead-ai/voxlead/pkg/plugin/notify"
	"github.com/voxlead-ai/voxlead/pkg/plugin/translog"
	"github.com/voxlead-ai/voxlead/pkg/plugin/webhook"
	"github.com/voxlead-ai/voxlead/pkg/provider"
	"github.com/voxlead-ai/voxlead/pkg/provider/mock"
	"github.com/voxlead-ai/voxlead/pkg/provider/realtime"
	"github.com/voxlead-ai/voxlead/pkg/provider/textllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "listen", `run mode: "listen" serves WebSocket clients, "chat" reads text from stdin`)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlead: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlead: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxlead starting",
		"config", *configPath,
		"mode", *mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxlead",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)

	prov, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to create provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "model", cfg.Provider.Model)

	// ── Agent ─────────────────────────────────────────────────────────────────
	a, err := agent.New(agent.Config{
		Provider:     prov,
		SystemPrompt: cfg.Provider.Instructions,
		Audio: audio.Config{
			SampleRate:   cfg.Audio.SampleRate,
			BufferWindow: cfg.Audio.BufferWindow.Std(),
			VADEnabled:   cfg.Audio.VADEnabled,
			VADThreshold: cfg.Audio.VADThreshold,
		},
		Conversation: conversation.Config{
			MaxMessages:     cfg.Conversation.MaxMessages,
			SilenceTimeout:  cfg.Conversation.SilenceStd(),
			MaxDuration:     cfg.Conversation.MaxDuration.Std(),
			DisableMetadata: cfg.Conversation.DisableMetadata,
		},
		Lead: lead.Config{
			DisablePerMessageEvents: cfg.Lead.DisablePerMessageEvents,
		},
		ReconnectBaseDelay:   cfg.Reconnect.BaseDelay.Std(),
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
	}, logger)
	if err != nil {
		slog.Error("failed to create agent", "err", err)
		return 1
	}

	if cfg.Provider.Voice != "" {
		if err := prov.SetVoice(cfg.Provider.Voice); err != nil {
			slog.Warn("voice selection failed", "voice", cfg.Provider.Voice, "err", err)
		}
	}

	// ── Plugins ───────────────────────────────────────────────────────────────
	if err := registerPlugins(ctx, a, cfg); err != nil {
		slog.Error("failed to register plugins", "err", err)
		return 1
	}
	a.OnLead(func(info lead.Info) {
		slog.Info("lead snapshot",
			"name", info.Name,
			"email", info.Email,
			"phone", info.Phone,
			"complete", info.Complete(),
		)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if diff.VoiceChanged {
			if err := prov.SetVoice(diff.NewVoice); err != nil {
				slog.Warn("voice update failed", "voice", diff.NewVoice, "err", err)
			} else {
				slog.Info("voice updated", "voice", diff.NewVoice)
			}
		}
		if diff.RequiresRestart {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, *mode)

	// ── Run ───────────────────────────────────────────────────────────────────
	switch *mode {
	case "listen":
		err = runListen(ctx, a, cfg)
	case "chat":
		err = runChat(ctx, a)
	default:
		slog.Error("unknown mode", "mode", *mode)
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runListen serves WebSocket clients until the signal context is cancelled.
func runListen(ctx context.Context, a *agent.Agent, cfg *config.Config) error {
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	var opts []transport.Option
	if tls := cfg.Server.TLS; tls != nil {
		opts = append(opts, transport.WithTLS(tls.CertFile, tls.KeyFile))
	}
	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
	return a.Listen(ctx, addr, opts...)
}

// runChat connects the provider and relays stdin lines as user messages.
// Assistant replies are printed by the chatPrinter plugin.
func runChat(ctx context.Context, a *agent.Agent) error {
	if err := a.Use(&chatPrinter{}); err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		return err
	}

	fmt.Println("chat mode — type a message and press Enter (Ctrl+D to quit)")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := a.SendText(ctx, line); err != nil {
				slog.Error("send failed", "err", err)
			}
		}
	}
}

// chatPrinter prints assistant replies to stdout in chat mode.
type chatPrinter struct{}

func (chatPrinter) Name() string                 { return "chat-printer" }
func (chatPrinter) Initialize(plugin.Host) error { return nil }

func (chatPrinter) OnMessage(msg conversation.Message) error {
	if msg.Role == conversation.RoleAssistant {
		fmt.Printf("> %s\n", msg.Content)
	}
	return nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// textLLMBackends are the chat backends reachable through any-llm-go. They
// all share the same option pattern: optional APIKey plus optional BaseURL.
var textLLMBackends = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires the provider factories that ship with
// VoxLead into reg.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	reg.Register("realtime", func(entry config.ProviderEntry) (provider.Provider, error) {
		var opts []realtime.Option
		if entry.Model != "" {
			opts = append(opts, realtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, realtime.WithBaseURL(entry.BaseURL))
		}
		if entry.Instructions != "" {
			opts = append(opts, realtime.WithInstructions(entry.Instructions))
		}
		return realtime.New(entry.APIKey, logger, opts...), nil
	})

	reg.Register("mock", func(entry config.ProviderEntry) (provider.Provider, error) {
		return &mock.Provider{}, nil
	})

	for _, backend := range textLLMBackends {
		reg.Register(backend, func(entry config.ProviderEntry) (provider.Provider, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			var opts []textllm.Option
			if entry.Instructions != "" {
				opts = append(opts, textllm.WithSystemPrompt(entry.Instructions))
			}
			return textllm.New(backend, entry.Model, logger, opts, backendOpts...)
		})
	}

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// registerPlugins constructs and registers every plugin enabled in cfg.
func registerPlugins(ctx context.Context, a *agent.Agent, cfg *config.Config) error {
	if tc := cfg.Plugins.Translog; tc != nil {
		if err := a.Use(translog.New(tc.Path)); err != nil {
			return err
		}
	}
	if wc := cfg.Plugins.Webhook; wc != nil {
		var opts []webhook.Option
		for key, value := range wc.Headers {
			opts = append(opts, webhook.WithHeader(key, value))
		}
		if err := a.Use(webhook.New(wc.URL, opts...)); err != nil {
			return err
		}
	}
	if nc := cfg.Plugins.Notify; nc != nil {
		var opts []notify.Option
		if nc.Channel != "" {
			opts = append(opts, notify.WithChannel(nc.Channel))
		}
		if err := a.Use(notify.New(nc.URL, opts...)); err != nil {
			return err
		}
	}
	if lc := cfg.Plugins.LeadStore; lc != nil {
		store, err := leadstore.NewStore(ctx, lc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("leadstore: %w", err)
		}
		if err := a.Use(leadstore.NewPlugin(store)); err != nil {
			store.Close()
			return err
		}
	}
	if cfg.Plugins.Metrics {
		if err := a.Use(metricsplugin.New(nil)); err != nil {
			return err
		}
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         VoxLead — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", mode)
	providerValue := cfg.Provider.Name
	if cfg.Provider.Model != "" {
		providerValue += " / " + cfg.Provider.Model
	}
	printRow("Provider", providerValue)
	if cfg.Provider.Voice != "" {
		printRow("Voice", cfg.Provider.Voice)
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Plugins", enabledPlugins(cfg))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func enabledPlugins(cfg *config.Config) string {
	var names []string
	if cfg.Plugins.Translog != nil {
		names = append(names, "translog")
	}
	if cfg.Plugins.Webhook != nil {
		names = append(names, "webhook")
	}
	if cfg.Plugins.Notify != nil {
		names = append(names, "notify")
	}
	if cfg.Plugins.LeadStore != nil {
		names = append(names, "leadstore")
	}
	if cfg.Plugins.Metrics {
		names = append(names, "metrics")
	}
	if len(names) == 0 {
		return "(none)"
	}
	result := names[0]
	for _, n := range names[1:] {
		result += "," + n
	}
	return result
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
