package llm

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/llm/gemini"
	"github.com/skald-labs/skald/pkg/llm/ollama"
	"github.com/skald-labs/skald/pkg/logger"
)

// Module provides the configured LLM provider as an fx module.
var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)

// NewProvider selects the chat provider from config. Ollama is the
// default; Gemini is used when LLM_PROVIDER=gemini. The returned
// provider is rate limited per LLM_REQUESTS_PER_SECOND.
func NewProvider(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (Provider, error) {
	log = log.With(logger.Scope("llm"))
	llmCfg := cfg.LLM

	var provider Provider

	switch llmCfg.Provider {
	case config.LLMProviderOllama, "":
		provider = ollama.NewClient(ollama.Config{
			BaseURL:     llmCfg.OllamaURL,
			Model:       llmCfg.Model,
			Temperature: llmCfg.Temperature,
			Timeout:     llmCfg.Timeout(),
		}, ollama.WithLogger(log))
		log.Info("using ollama LLM provider",
			slog.String("url", llmCfg.OllamaURL),
			slog.String("model", llmCfg.Model),
		)

	case config.LLMProviderGemini:
		if llmCfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		// genai wants a context at construction time.
		client, err := gemini.NewClient(context.Background(), gemini.Config{
			APIKey:      llmCfg.GeminiAPIKey,
			Model:       llmCfg.Model,
			Temperature: llmCfg.Temperature,
		}, gemini.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("initialize gemini provider: %w", err)
		}
		provider = client
		log.Info("using gemini LLM provider", slog.String("model", llmCfg.Model))

	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", llmCfg.Provider)
	}

	if llmCfg.RequestsPerSecond > 0 {
		provider = NewRateLimited(provider, llmCfg.RequestsPerSecond, llmCfg.Burst)
	}

	return provider, nil
}
