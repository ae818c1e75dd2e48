// Command meetbridge joins an online meeting as a named AI assistant and
// answers participants who address it by voice or chat.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meetbridge/meetbridge/internal/analytics"
	"github.com/meetbridge/meetbridge/internal/bridge"
	"github.com/meetbridge/meetbridge/internal/config"
	"github.com/meetbridge/meetbridge/internal/credstore"
	"github.com/meetbridge/meetbridge/internal/health"
	"github.com/meetbridge/meetbridge/internal/observe"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv/azurefoundry"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv/copilotstudio"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv/directline"
	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
	"github.com/meetbridge/meetbridge/pkg/provider/llmproc/anyllm"
	"github.com/meetbridge/meetbridge/pkg/provider/meeting"
	"github.com/meetbridge/meetbridge/pkg/provider/meeting/acs"
	"github.com/meetbridge/meetbridge/pkg/provider/speech"
	"github.com/meetbridge/meetbridge/pkg/provider/speech/httptts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("meetbridge starting",
		"config", *configPath,
		"display_name", cfg.Agent.DisplayName,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Credentials ───────────────────────────────────────────────────────────
	if cfg.Credentials.File != "" {
		if err := resolveCredentials(cfg); err != nil {
			slog.Error("failed to resolve credentials", "err", err)
			return 1
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "meetbridge"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()
	recorder := analytics.NewRecorder(metrics)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	meetingProv, err := reg.CreateMeeting(cfg.Meeting.Provider)
	if err != nil {
		slog.Error("failed to create meeting provider", "name", cfg.Meeting.Provider.Name, "err", err)
		return 1
	}
	agentProv, err := reg.CreateAgent(cfg.Agent.Provider)
	if err != nil {
		slog.Error("failed to create agent provider", "kind", cfg.Agent.Provider.Kind, "err", err)
		return 1
	}

	var speechProv speech.Provider
	if name := cfg.Speech.Name; name != "" {
		p, err := reg.CreateSpeech(cfg.Speech)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("speech provider not implemented — skipping", "name", name)
		} else if err != nil {
			slog.Error("failed to create speech provider", "name", name, "err", err)
			return 1
		} else {
			speechProv = p
			slog.Info("provider created", "kind", "speech", "name", name)
		}
	}

	var llmProc llmproc.Processor
	if name := cfg.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("llm provider not implemented — skipping", "name", name)
		} else if err != nil {
			slog.Error("failed to create llm provider", "name", name, "err", err)
			return 1
		} else {
			llmProc = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.LLM.Model)
		}
	}

	// ── Bridge ────────────────────────────────────────────────────────────────
	pattern, err := cfg.ActivePattern()
	if err != nil {
		slog.Error("failed to resolve behavior pattern", "err", err)
		return 1
	}

	b, err := bridge.New(bridge.Config{
		DisplayName:     cfg.Agent.DisplayName,
		MeetingID:       cfg.Meeting.MeetingID,
		Pattern:         pattern,
		ExtraVariations: cfg.Agent.ExtraVariations,
		FuzzyThreshold:  cfg.Mention.FuzzyThreshold,
		LLMConfirmation: cfg.Mention.LLMConfirmation,
		GapWindow:       cfg.Caption.GapWindow.Std(),
		PendingWindow:   cfg.Caption.PendingMentionWindow.Std(),
		BufferSize:      cfg.Caption.BufferSize,
		BufferMaxAge:    cfg.Caption.BufferMaxAge.Std(),
		MinConfidence:   cfg.Intent.MinConfidence,
		IdleTimeout:     cfg.Session.IdleTimeout.Std(),
		PendingTTL:      cfg.Behavior.PendingTTL.Std(),
	}, meetingProv, agentProv, speechProv, llmProc,
		bridge.WithMetrics(metrics), bridge.WithRecorder(recorder))
	if err != nil {
		slog.Error("failed to build bridge", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		applyReload(b, logLevel, old, newCfg)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server (metrics + approval API) ──────────────────────────────────
	var httpSrv *http.Server
	if cfg.Server.ListenAddr != "" {
		httpSrv = newHTTPServer(cfg.Server.ListenAddr, metrics, b)
		go func() {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg)
	slog.Info("meetbridge ready — press Ctrl+C to shut down")

	runErr := b.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down…")
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := b.Close(shutdownCtx); err != nil {
		slog.Warn("bridge close error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with meetbridge. Used for startup logging.
var builtinProviders = map[string][]string{
	"agent":   {"copilot-studio", "direct-line", "azure-foundry"},
	"meeting": {"acs"},
	"speech":  {"http"},
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Agent backends ────────────────────────────────────────────────────────

	reg.RegisterAgent(agentconv.KindCopilotStudio, func(cfg config.AgentProviderConfig) (agentconv.Provider, error) {
		return copilotstudio.New(copilotstudio.Config{
			TokenEndpoint: cfg.TokenEndpoint,
			TenantID:      cfg.TenantID,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
		})
	})

	reg.RegisterAgent(agentconv.KindDirectLine, func(cfg config.AgentProviderConfig) (agentconv.Provider, error) {
		var opts []directline.Option
		if cfg.BaseURL != "" {
			opts = append(opts, directline.WithBaseURL(cfg.BaseURL))
		}
		return directline.New(cfg.Secret, opts...)
	})

	reg.RegisterAgent(agentconv.KindAzureFoundry, func(cfg config.AgentProviderConfig) (agentconv.Provider, error) {
		return azurefoundry.New(azurefoundry.Config{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Deployment: cfg.Deployment,
		})
	})

	// ── Meeting ───────────────────────────────────────────────────────────────

	reg.RegisterMeeting("acs", func(entry config.ProviderEntry) (meeting.Provider, error) {
		return acs.New(acs.Config{
			Endpoint:  entry.BaseURL,
			AccessKey: entry.APIKey,
		})
	})

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("http", func(entry config.ProviderEntry) (speech.Provider, error) {
		return httptts.New(httptts.Config{
			Endpoint: entry.BaseURL,
			APIKey:   entry.APIKey,
			Voice:    entry.StringOption("voice", ""),
		})
	})

	// ── LLM classification ────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llmproc.Processor, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llmproc.Processor, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Credentials ───────────────────────────────────────────────────────────────

// resolveCredentials fills secrets the config file leaves empty from the
// credential store. Explicit config values win.
func resolveCredentials(cfg *config.Config) error {
	store, err := credstore.Open(cfg.Credentials.File)
	if err != nil {
		return err
	}

	fill := func(target *string, key string) {
		if *target != "" {
			return
		}
		v, err := store.Get(key)
		if errors.Is(err, credstore.ErrNotFound) {
			return
		}
		if err != nil {
			slog.Warn("credential lookup failed", "key", key, "err", err)
			return
		}
		*target = v
		slog.Debug("credential resolved from store", "key", key)
	}

	switch cfg.Agent.Provider.Kind {
	case agentconv.KindCopilotStudio:
		fill(&cfg.Agent.Provider.ClientSecret,
			"agent.copilot-studio."+cfg.Agent.Provider.ClientID+".clientSecret")
	case agentconv.KindDirectLine:
		fill(&cfg.Agent.Provider.Secret, "agent.direct-line.secret")
	case agentconv.KindAzureFoundry:
		fill(&cfg.Agent.Provider.APIKey, "agent.azure-foundry.apiKey")
	}
	if cfg.Meeting.Provider.Name == "acs" {
		fill(&cfg.Meeting.Provider.APIKey, "acs.accessKey")
	}
	if cfg.Speech.Name != "" {
		fill(&cfg.Speech.APIKey, "speech."+cfg.Speech.Name+".apiKey")
	}
	if cfg.LLM.Name != "" {
		fill(&cfg.LLM.APIKey, "llm."+cfg.LLM.Name+".apiKey")
	}
	return nil
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyReload applies the reloadable subset of a config change to the
// running process. Everything else requires a restart.
func applyReload(b *bridge.Bridge, logLevel *slog.LevelVar, old, newCfg *config.Config) {
	d := config.Diff(old, newCfg)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.PatternChanged {
		if err := b.ApplyPattern(d.NewPattern); err != nil {
			slog.Error("failed to apply reloaded pattern", "err", err)
		}
	}
	if d.MentionThresholdChanged {
		if err := b.ApplyMentionThreshold(d.NewMentionThreshold); err != nil {
			slog.Error("failed to apply reloaded mention threshold", "err", err)
		}
	}
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// newHTTPServer exposes Prometheus metrics, a health probe, and the approval
// API for controlled-mode responses.
func newHTTPServer(addr string, metrics *observe.Metrics, b *bridge.Bridge) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "meeting",
		Check: func(context.Context) error {
			if !b.CallActive() {
				return errors.New("no active meeting call")
			}
			return nil
		},
	}).Register(mux)
	mux.HandleFunc("GET /v1/pending", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.Pending())
	})
	mux.HandleFunc("POST /v1/pending/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		if err := b.Approve(r.Context(), r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/pending/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		if err := b.Reject(r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/analytics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.Analytics())
	})

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        meetbridge — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Agent", string(cfg.Agent.Provider.Kind))
	printEntry("Display name", cfg.Agent.DisplayName)
	printEntry("Meeting", cfg.Meeting.Provider.Name)
	printEntry("Speech", cfg.Speech.Name)
	printEntry("LLM", cfg.LLM.Name)
	fmt.Printf("║  Patterns        : %-19d ║\n", len(cfg.Behavior.Patterns))
	if cfg.Server.ListenAddr != "" {
		printEntry("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

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
