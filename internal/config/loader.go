package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kamihatanoadoresu/english-conversation/internal/session"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Load reads the YAML file at path, expands ${VAR} references against the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader is Load for an in-memory document.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = ExpandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} with the value of the environment variable
// NAME. Unset variables expand to "" and are logged. A bare $ is left alone,
// so secrets containing $ survive.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRef.FindSubmatch(ref)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config: environment variable not set", "name", name)
		}
		return []byte(v)
	})
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.SessionIdleTimeout == 0 {
		s.SessionIdleTimeout = 30 * time.Minute
	}
	if s.MaxAudioBytes == 0 {
		s.MaxAudioBytes = 10 << 20
	}
	if s.TLS != nil {
		s.SecureCookie = true
	}

	if cfg.Auth.CredentialsFile == "" {
		cfg.Auth.CredentialsFile = "credentials.json"
	}

	t := &cfg.Tutor
	if t.Language == "" {
		t.Language = "en"
	}
	if t.Voice == "" {
		t.Voice = "alloy"
	}
	if t.Temperature == 0 {
		t.Temperature = 0.5
	}
	if t.MemoryTokens == 0 {
		t.MemoryTokens = 1000
	}
	if t.DefaultLevel == "" {
		t.DefaultLevel = string(session.DefaultLevel)
	}
	if t.DefaultSpeed == 0 {
		t.DefaultSpeed = float64(session.DefaultSpeed)
	}
	if t.ClipCacheSize == 0 {
		t.ClipCacheSize = 16
	}

	if cfg.Audio.ScratchDir == "" {
		cfg.Audio.ScratchDir = filepath.Join(os.TempDir(), "eikaiwa")
	}

	to := &cfg.Timeouts
	if to.Transcribe == 0 {
		to.Transcribe = 30 * time.Second
	}
	if to.Generate == 0 {
		to.Generate = 60 * time.Second
	}
	if to.Synthesize == 0 {
		to.Synthesize = 30 * time.Second
	}
}

// Validate checks cfg for coherence. Hard errors are joined into the
// returned error; soft issues are logged.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.session_idle_timeout %v must not be negative", cfg.Server.SessionIdleTimeout))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateEntry("llm", "providers.llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)
	for i, e := range cfg.Providers.Fallbacks.LLM {
		errs = append(errs, validateEntry("llm", fmt.Sprintf("providers.fallbacks.llm[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.Fallbacks.STT {
		errs = append(errs, validateEntry("stt", fmt.Sprintf("providers.fallbacks.stt[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.Fallbacks.TTS {
		errs = append(errs, validateEntry("tts", fmt.Sprintf("providers.fallbacks.tts[%d]", i), e)...)
	}

	t := cfg.Tutor
	if t.DefaultLevel != "" {
		if _, err := session.ParseLevel(t.DefaultLevel); err != nil {
			errs = append(errs, fmt.Errorf("tutor.default_level %q is invalid; valid values: beginner, intermediate, advanced", t.DefaultLevel))
		}
	}
	if t.DefaultSpeed != 0 && !session.Speed(t.DefaultSpeed).Valid() {
		errs = append(errs, fmt.Errorf("tutor.default_speed %v is invalid; valid values: 0.6, 0.8, 1.0, 1.2, 1.5, 2.0", t.DefaultSpeed))
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", t.Temperature))
	}
	if t.MemoryTokens < 0 {
		errs = append(errs, fmt.Errorf("tutor.memory_tokens %d must not be negative", t.MemoryTokens))
	}
	if t.MemoryTokens > 0 && t.MemoryTokens < 200 {
		slog.Warn("tutor.memory_tokens is very small; the tutor will summarise after almost every turn", "memory_tokens", t.MemoryTokens)
	}

	for name, d := range map[string]time.Duration{
		"transcribe": cfg.Timeouts.Transcribe,
		"generate":   cfg.Timeouts.Generate,
		"synthesize": cfg.Timeouts.Synthesize,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s %v must not be negative", name, d))
		}
	}
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.Cooldown < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateEntry checks one provider block. Unknown names are only logged, so
// third-party registrations keep working.
func validateEntry(kind, path string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	if known := ValidProviderNames[kind]; !slices.Contains(known, e.Name) {
		slog.Warn("unknown provider name; may be a typo or a third-party provider",
			"kind", kind,
			"name", e.Name,
			"known", known,
		)
	}
	return nil
}
