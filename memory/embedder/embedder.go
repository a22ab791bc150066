// Package embedder selects the embedding strategy at startup.
//
// Strategy selection lives here, in the factory, so consumers only ever see
// the memory.Embedder interface. The factory never returns an uninitialized
// generator: when the configured model backend cannot be reached it degrades
// to the deterministic hash fallback and logs a warning.
package embedder

import (
	"fmt"
	"log"
	"time"

	"github.com/sentrahq/memory-go-sdk/memory"
	"github.com/sentrahq/memory-go-sdk/memory/embedder/hash"
	"github.com/sentrahq/memory-go-sdk/memory/embedder/ollama"
	"github.com/sentrahq/memory-go-sdk/memory/embedder/openai"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderHash selects the deterministic fallback directly.
	ProviderHash Provider = "hash"

	// ProviderOllama selects a local Ollama instance.
	ProviderOllama Provider = "ollama"

	// ProviderOpenAI selects an OpenAI-compatible API.
	ProviderOpenAI Provider = "openai"
)

// Config configures the factory.
type Config struct {
	// Provider selects the model backend. Empty or ProviderHash skips the
	// model path entirely.
	Provider Provider

	// BaseURL, APIKey, and Model configure the selected backend.
	BaseURL string
	APIKey  string
	Model   string

	// Dimensions is used by the hash fallback. Model backends report their
	// native dimension, which is authoritative once the embedder is
	// constructed.
	Dimensions int

	// Timeout per backend request.
	Timeout time.Duration
}

// New constructs the process-wide embedding generator. It is built once by
// the composition root and passed by reference to every consumer.
func New(cfg Config) memory.Embedder {
	model, err := newModelBacked(cfg)
	if err == nil {
		return model
	}
	if cfg.Provider != "" && cfg.Provider != ProviderHash {
		log.Printf("[EMBED] Model backend %q unavailable, running degraded with hash fallback: %v", cfg.Provider, err)
	}
	return hash.New(cfg.Dimensions)
}

func newModelBacked(cfg Config) (memory.Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		e, err := ollama.New(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[EMBED] Ollama embedder ready: model=%s dims=%d", cfg.Model, e.Dimensions())
		return e, nil
	case ProviderOpenAI:
		e, err := openai.New(openai.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[EMBED] OpenAI-compatible embedder ready: model=%s dims=%d", cfg.Model, e.Dimensions())
		return e, nil
	case "", ProviderHash:
		return nil, fmt.Errorf("no model backend configured")
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
