package translator

import (
	"context"
	"time"
)

// ServiceConfig configures one model provider.
type ServiceConfig struct {
	Credentials string        `mapstructure:"credentials" json:"credentials"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	Model       string        `mapstructure:"model" json:"model"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID   string        `mapstructure:"project_id" json:"project_id"`
	Region      string        `mapstructure:"region" json:"region"`
	// MaxOutputTokens caps the generated length; 0 leaves the provider default.
	MaxOutputTokens int `mapstructure:"max_output_tokens" json:"max_output_tokens"`
}

// TranslateRequest is one call to the model: a system instruction plus the
// chunk text, with sampling passed through unchanged.
type TranslateRequest struct {
	SystemPrompt    string            `json:"system_prompt"`
	Text            string            `json:"text"`
	PreviousContext string            `json:"previous_context,omitempty"`
	Glossary        map[string]string `json:"glossary,omitempty"`
	Temperature     float64           `json:"temperature"`
	TopP            float64           `json:"top_p"`
}

type ServiceResult struct {
	ServiceName    string            `json:"service_name"`
	TranslatedText string            `json:"translated_text"`
	FinishReason   string            `json:"finish_reason,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	Latency        time.Duration     `json:"latency"`
}

// TranslationService is the external model boundary. Translate returns
// one of the typed failures in errors.go when the call does not succeed.
type TranslationService interface {
	Name() string
	Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error)
	// IsAvailable verifies reachability and credentials before a run.
	IsAvailable(ctx context.Context) error
}
