package app

import (
	"fmt"
	"log/slog"

	"github.com/kamihatanoadoresu/english-conversation/internal/config"
	"github.com/kamihatanoadoresu/english-conversation/internal/health"
	"github.com/kamihatanoadoresu/english-conversation/internal/resilience"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

// Providers holds one interface value per pipeline stage. Populated by
// [BuildProviders] from the config registry, or directly by tests.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Checks report whether each stage still has a backend that accepts
	// calls. They feed /readyz.
	Checks []health.Checker
}

// BuildProviders creates the configured backends through reg. A stage with
// fallbacks is wrapped in a circuit-breaking failover group; a stage
// without fallbacks uses its backend directly.
func BuildProviders(reg *config.Registry, pc config.ProvidersConfig, rc config.ResilienceConfig) (*Providers, error) {
	bc := resilience.BreakerConfig{MaxFailures: rc.MaxFailures, Cooldown: rc.Cooldown}
	p := &Providers{}

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: llm: %w", err)
	}
	p.LLM = primaryLLM
	if len(pc.Fallbacks.LLM) > 0 {
		fb := resilience.NewLLMFallback(label(pc.LLM, 0), primaryLLM, bc)
		for i, e := range pc.Fallbacks.LLM {
			v, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("app: llm fallback %d: %w", i, err)
			}
			fb.AddFallback(label(e, i+1), v)
		}
		p.LLM = fb
		p.Checks = append(p.Checks, health.Available("llm", fb.Group().Available))
	}

	primarySTT, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("app: stt: %w", err)
	}
	p.STT = primarySTT
	if len(pc.Fallbacks.STT) > 0 {
		fb := resilience.NewSTTFallback(label(pc.STT, 0), primarySTT, bc)
		for i, e := range pc.Fallbacks.STT {
			v, err := reg.CreateSTT(e)
			if err != nil {
				return nil, fmt.Errorf("app: stt fallback %d: %w", i, err)
			}
			fb.AddFallback(label(e, i+1), v)
		}
		p.STT = fb
		p.Checks = append(p.Checks, health.Available("stt", fb.Group().Available))
	}

	primaryTTS, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: tts: %w", err)
	}
	p.TTS = primaryTTS
	if len(pc.Fallbacks.TTS) > 0 {
		fb := resilience.NewTTSFallback(label(pc.TTS, 0), primaryTTS, bc)
		for i, e := range pc.Fallbacks.TTS {
			v, err := reg.CreateTTS(e)
			if err != nil {
				return nil, fmt.Errorf("app: tts fallback %d: %w", i, err)
			}
			fb.AddFallback(label(e, i+1), v)
		}
		p.TTS = fb
		p.Checks = append(p.Checks, health.Available("tts", fb.Group().Available))
	}

	slog.Info("providers ready",
		"llm", pc.LLM.Name, "llm_fallbacks", len(pc.Fallbacks.LLM),
		"stt", pc.STT.Name, "stt_fallbacks", len(pc.Fallbacks.STT),
		"tts", pc.TTS.Name, "tts_fallbacks", len(pc.Fallbacks.TTS),
	)
	return p, nil
}

// label names a group member for logs and health output. The position keeps
// two entries of the same backend apart.
func label(e config.ProviderEntry, pos int) string {
	name := e.Name
	if e.Model != "" {
		name += "/" + e.Model
	}
	return fmt.Sprintf("%d:%s", pos, name)
}
