// Package config loads run configuration from defaults, an optional YAML
// file, WENYAN_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/valpere/wenyan/internal/orchestrator"
	"github.com/valpere/wenyan/internal/splitter"
	"github.com/valpere/wenyan/internal/translator"
	chunkvalidator "github.com/valpere/wenyan/internal/validator"
)

// EnvPrefix prefixes every environment variable, e.g. WENYAN_MAX_TOKENS.
const EnvPrefix = "WENYAN"

// Providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderVertex     = "vertex"
)

type Config struct {
	Provider string `mapstructure:"provider" validate:"oneof=openai openrouter ollama vertex"`
	// Service holds credentials and endpoint settings; its keys sit at the
	// top level (api_key, model, base_url, ...).
	Service translator.ServiceConfig `mapstructure:",squash"`

	MaxTokens    int    `mapstructure:"max_tokens" validate:"gt=0"`
	SystemPrompt string `mapstructure:"system_prompt"`

	Sampling orchestrator.Sampling    `mapstructure:",squash"`
	Retry    orchestrator.RetryPolicy `mapstructure:"retry"`

	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"gt=0"`

	// Patterns are chapter heading rules; empty means the 第…回 default.
	Patterns   []splitter.Pattern    `mapstructure:"patterns" validate:"dive"`
	Validation chunkvalidator.Config `mapstructure:"validation"`

	ContextRunes           int           `mapstructure:"context_runes" validate:"gte=0"`
	EarlyVerify            bool          `mapstructure:"early_verify"`
	Review                 bool          `mapstructure:"review"`
	AutoContinue           bool          `mapstructure:"auto_continue"`
	ChapterPause           time.Duration `mapstructure:"chapter_pause" validate:"gte=0"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" validate:"gte=0"`

	Output OutputConfig `mapstructure:"output"`
	DBPath string       `mapstructure:"db" validate:"required"`
	Log    LogConfig    `mapstructure:"log"`
}

type OutputConfig struct {
	// Dest is a local directory or gs://bucket/prefix.
	Dest   string `mapstructure:"dest" validate:"required"`
	Format string `mapstructure:"format" validate:"oneof=txt md html"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	// File additionally receives JSON logs when set.
	File string `mapstructure:"file"`
}

// SetDefaults registers every key so environment variables bind to them.
func SetDefaults(v *viper.Viper) {
	retry := orchestrator.DefaultRetryPolicy()
	sampling := orchestrator.DefaultSampling()
	val := chunkvalidator.DefaultConfig()

	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("credentials", "")
	v.SetDefault("api_key", "")
	v.SetDefault("model", "")
	v.SetDefault("base_url", "")
	v.SetDefault("timeout", 120*time.Second)
	v.SetDefault("project_id", "")
	v.SetDefault("region", "us-central1")
	v.SetDefault("max_output_tokens", 0)

	v.SetDefault("max_tokens", 6000)
	v.SetDefault("system_prompt", translator.DefaultSystemPrompt)
	v.SetDefault("temperature", sampling.Temperature)
	v.SetDefault("top_p", sampling.TopP)

	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.rate_limit_delay", retry.RateLimitDelay)

	v.SetDefault("requests_per_second", 1.0)
	v.SetDefault("call_timeout", 120*time.Second)

	v.SetDefault("validation.min_sentence_ratio", val.MinSentenceRatio)
	v.SetDefault("validation.min_source_sentences", val.MinSourceSentences)
	v.SetDefault("validation.min_length_ratio", val.MinLengthRatio)
	v.SetDefault("validation.min_source_tokens", val.MinSourceTokens)
	v.SetDefault("validation.near_empty_runes", val.NearEmptyRunes)
	v.SetDefault("validation.target_lang", val.TargetLang)
	v.SetDefault("validation.check_refusals", val.CheckRefusals)

	v.SetDefault("context_runes", 100)
	v.SetDefault("early_verify", false)
	v.SetDefault("review", false)
	v.SetDefault("auto_continue", false)
	v.SetDefault("chapter_pause", 2*time.Second)
	v.SetDefault("max_consecutive_failures", 3)

	v.SetDefault("output.dest", "output")
	v.SetDefault("output.format", "txt")
	v.SetDefault("db", "wenyan.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// BindEnv makes WENYAN_RETRY_MAX_ATTEMPTS and friends override keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile loads path, or ./wenyan.yaml when path is empty and it exists.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("wenyan")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config, applies API key fallbacks and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Service.APIKey == "" {
		switch cfg.Provider {
		case ProviderOpenAI:
			cfg.Service.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderOpenRouter:
			cfg.Service.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate reports fields by their configuration key.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}()

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CheckCredentials reports a translator.ErrCredentials error when the
// provider needs a credential that is not configured.
func (c *Config) CheckCredentials() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderOpenRouter:
		if c.Service.APIKey == "" {
			return fmt.Errorf("%w: %s requires an API key (WENYAN_API_KEY or %s_API_KEY)",
				translator.ErrCredentials, c.Provider, strings.ToUpper(c.Provider))
		}
	case ProviderVertex:
		if c.Service.ProjectID == "" {
			return fmt.Errorf("%w: vertex requires project_id", translator.ErrCredentials)
		}
	}
	return nil
}
