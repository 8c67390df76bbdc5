// Package config provides the configuration schema, loader, watcher and
// provider registry of the eikaiwa server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Tutor      TutorConfig      `yaml:"tutor"`
	Audio      AudioConfig      `yaml:"audio"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network, session and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// SecureCookie marks the session cookie Secure. Forced on with TLS.
	SecureCookie bool `yaml:"secure_cookie"`

	// SessionIdleTimeout drops sessions without events for this long.
	// Default: 30m.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// MaxAudioBytes caps the size of an uploaded recording. Default: 10 MiB.
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig locates the credential store.
type AuthConfig struct {
	// CredentialsFile is the JSON username → bcrypt hash document.
	// Default: "credentials.json".
	CredentialsFile string `yaml:"credentials_file"`
}

// ProvidersConfig selects the backend for each stage. Fallbacks are tried in
// order when the primary fails or its circuit breaker is open.
type ProvidersConfig struct {
	LLM       ProviderEntry   `yaml:"llm"`
	STT       ProviderEntry   `yaml:"stt"`
	TTS       ProviderEntry   `yaml:"tts"`
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig lists secondary backends per stage.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "ollama",
	// "whisper", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Self-hosted
	// backends (whisper.cpp, Coqui, Ollama) require it.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend (e.g. "gpt-4o-mini",
	// "whisper-1", "tts-1").
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TutorConfig holds the defaults of every new session.
type TutorConfig struct {
	// Language is the transcription language hint. Default: "en".
	Language string `yaml:"language"`

	// Voice is the synthesis voice passed to the TTS backend. Default: "alloy".
	Voice string `yaml:"voice"`

	// Temperature is the sampling temperature of tutor prompts. Default: 0.5.
	Temperature float64 `yaml:"temperature"`

	// MemoryTokens is the token budget of the conversation memory before
	// older turns are summarised. Default: 1000.
	MemoryTokens int `yaml:"memory_tokens"`

	// DefaultLevel is the level of a new session: beginner, intermediate or
	// advanced. Default: beginner.
	DefaultLevel string `yaml:"default_level"`

	// DefaultSpeed is the playback speed of a new session, one of 0.6, 0.8,
	// 1.0, 1.2, 1.5, 2.0. Default: 1.0.
	DefaultSpeed float64 `yaml:"default_speed"`

	// ClipCacheSize is the number of synthesised clips kept per session.
	// Default: 16.
	ClipCacheSize int `yaml:"clip_cache_size"`
}

// AudioConfig configures local audio handling.
type AudioConfig struct {
	// ScratchDir holds the short-lived files of the voice pipeline.
	// Default: "<os temp dir>/eikaiwa".
	ScratchDir string `yaml:"scratch_dir"`
}

// TimeoutsConfig bounds each external call.
type TimeoutsConfig struct {
	Transcribe time.Duration `yaml:"transcribe"`
	Generate   time.Duration `yaml:"generate"`
	Synthesize time.Duration `yaml:"synthesize"`
}

// ResilienceConfig tunes the per-backend circuit breakers.
type ResilienceConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}
