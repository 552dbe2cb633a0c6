package llm

import (
	"fmt"
	"net/http"

	"github.com/ashureev/studia/internal/config"
)

// NewBackend creates the backend selected by cfg.Provider.
func NewBackend(cfg config.ModelConfig) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderOllama, "":
		return NewOllamaBackend(cfg.BaseURL, cfg.Name, http.DefaultClient)
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, cfg.Name)
	case config.ProviderAnthropic:
		return NewAnthropicBackend(cfg.BaseURL, cfg.APIKey, cfg.Name, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
