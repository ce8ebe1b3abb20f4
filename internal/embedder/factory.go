package embedder

import (
	"fmt"
	"strings"
	"time"
)

// ProviderConfig selects and configures an embedding provider
type ProviderConfig struct {
	Provider   string // azure, openai, local or empty for auto
	Endpoint   string
	APIKey     string
	Deployment string
	Model      string
	APIVersion string
	Dimension  int
	Timeout    time.Duration
}

// NewProvider creates the provider named by cfg.Provider. With no name the
// provider is picked by DetectProvider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch DetectProvider(cfg) {
	case ProviderAzure:
		return NewAzureProvider(AzureConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Deployment: firstNonEmpty(cfg.Deployment, cfg.Model),
			APIVersion: cfg.APIVersion,
			Dimension:  cfg.Dimension,
			Timeout:    cfg.Timeout,
		})
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			URL:       cfg.Endpoint,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider NewProvider would use:
//  1. an explicit cfg.Provider
//  2. azure when both an endpoint and a key are set
//  3. openai when only a key is set
//  4. local otherwise
func DetectProvider(cfg ProviderConfig) string {
	if p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p != "" {
		return p
	}
	switch {
	case cfg.Endpoint != "" && cfg.APIKey != "":
		return ProviderAzure
	case cfg.APIKey != "":
		return ProviderOpenAI
	default:
		return ProviderLocal
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
