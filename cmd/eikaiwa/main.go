// Command eikaiwa is the HTTP server of the English conversation tutor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/kamihatanoadoresu/english-conversation/internal/app"
	"github.com/kamihatanoadoresu/english-conversation/internal/auth"
	"github.com/kamihatanoadoresu/english-conversation/internal/config"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm/anyllm"
	oallm "github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm/openai"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
	oastt "github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt/openai"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt/whisper"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts/coqui"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts/elevenlabs"
	oatts "github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// Variables already set in the process win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "eikaiwa: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	// The application is created after the watcher, so changes are only
	// forwarded once it exists.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.ApplyConfig(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "eikaiwa: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "eikaiwa: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(app.SlogLevel(cfg.Server.LogLevel))

	slog.Info("eikaiwa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Tutor)

	providers, err := app.BuildProviders(reg, cfg.Providers, cfg.Resilience)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, providers,
		app.WithLogLevel(&level),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		if errors.Is(err, auth.ErrStoreMissing) {
			slog.Error("credential store not found, create it with eikaiwa-passwd",
				"path", cfg.Auth.CredentialsFile)
		} else {
			slog.Error("failed to initialise application", "err", err)
		}
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return reloadOnHangup(gctx, watcher) })
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// The tutor's voice and language are the defaults of the speech backends;
// per-entry options override them.
func registerBuiltinProviders(reg *config.Registry, tutor config.TutorConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optSeconds(entry, "timeout_seconds"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if n := entry.OptFloat("max_retries"); n > 0 {
			opts = append(opts, oallm.WithMaxRetries(int(n)))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm-go backend takes an optional API key and base URL.
	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if d := optSeconds(entry, "timeout_seconds"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		if n := entry.OptFloat("max_retries"); n > 0 {
			opts = append(opts, oastt.WithMaxRetries(int(n)))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithLanguage(or(entry.OptString("language"), tutor.Language))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if d := optSeconds(entry, "timeout_seconds"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oatts.Option{oatts.WithDefaultVoice(or(entry.OptString("voice"), tutor.Voice))}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if d := optSeconds(entry, "timeout_seconds"); d > 0 {
			opts = append(opts, oatts.WithTimeout(d))
		}
		if n := entry.OptFloat("max_retries"); n > 0 {
			opts = append(opts, oatts.WithMaxRetries(int(n)))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithLanguage(or(entry.OptString("language"), tutor.Language))}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, coqui.WithDefaultVoice(v))
		}
		if d := optSeconds(entry, "timeout_seconds"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         eikaiwa: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model, len(cfg.Providers.Fallbacks.LLM))
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model, len(cfg.Providers.Fallbacks.STT))
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model, len(cfg.Providers.Fallbacks.TTS))
	fmt.Printf("║  Level / speed   : %-19s ║\n", fmt.Sprintf("%s / %gx", cfg.Tutor.DefaultLevel, cfg.Tutor.DefaultSpeed))
	if cfg.Server.MaxSessions > 0 {
		fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Server.MaxSessions)
	} else {
		fmt.Printf("║  Max sessions    : %-19s ║\n", "(unlimited)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string, fallbacks int) {
	value := name
	if model != "" {
		value = name + " / " + model
	}
	if fallbacks > 0 {
		value += fmt.Sprintf(" +%d", fallbacks)
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optSeconds reads a numeric option as a number of seconds.
func optSeconds(entry config.ProviderEntry, key string) time.Duration {
	return time.Duration(entry.OptFloat(key) * float64(time.Second))
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
