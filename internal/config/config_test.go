package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/wenyan/internal/translator"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != ProviderOpenAI || cfg.MaxTokens != 6000 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Sampling.Temperature != 0 || cfg.Sampling.TopP != 1 {
		t.Errorf("unexpected sampling %+v", cfg.Sampling)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("unexpected retry %+v", cfg.Retry)
	}
	if cfg.Validation.TargetLang != "en" || cfg.ContextRunes != 100 || cfg.Output.Format != "txt" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.SystemPrompt != translator.DefaultSystemPrompt {
		t.Error("expected default system prompt")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WENYAN_MAX_TOKENS", "1500")
	t.Setenv("WENYAN_TEMPERATURE", "0.3")
	t.Setenv("WENYAN_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("WENYAN_CHAPTER_PAUSE", "0s")
	t.Setenv("WENYAN_API_KEY", "sk-env")

	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTokens != 1500 || cfg.Sampling.Temperature != 0.3 || cfg.Retry.MaxAttempts != 5 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.ChapterPause != 0 || cfg.Service.APIKey != "sk-env" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestLoad_APIKeyFallback(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	v := newViper(t)
	v.Set("provider", ProviderOpenRouter)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.APIKey != "or-key" {
		t.Errorf("expected fallback key, got %q", cfg.Service.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wenyan.yaml")
	yaml := `provider: ollama
model: qwen2.5:14b
max_tokens: 2000
patterns:
  - pattern: "卷([一二三四五六七八九十]+)"
    title_group: 0
output:
  dest: out
  format: md
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newViper(t)
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != ProviderOllama || cfg.Service.Model != "qwen2.5:14b" || cfg.MaxTokens != 2000 {
		t.Errorf("file not applied: %+v", cfg)
	}
	if len(cfg.Patterns) != 1 || !strings.HasPrefix(cfg.Patterns[0].Expr, "卷") {
		t.Errorf("patterns not decoded: %+v", cfg.Patterns)
	}
	if cfg.Output.Dest != "out" || cfg.Output.Format != "md" {
		t.Errorf("output not decoded: %+v", cfg.Output)
	}
}

func TestReadFile_Missing(t *testing.T) {
	v := newViper(t)
	if err := ReadFile(v, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value any
		field string
	}{
		{key: "temperature", value: 1.5, field: "temperature"},
		{key: "top_p", value: 0.0, field: "top_p"},
		{key: "max_tokens", value: 0, field: "max_tokens"},
		{key: "retry.max_attempts", value: 0, field: "max_attempts"},
		{key: "provider", value: "deepl", field: "provider"},
		{key: "output.format", value: "pdf", field: "format"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg := &Config{Provider: ProviderOpenAI}
	if err := cfg.CheckCredentials(); !errors.Is(err, translator.ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
	cfg.Service.APIKey = "sk"
	if err := cfg.CheckCredentials(); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	cfg = &Config{Provider: ProviderVertex}
	if err := cfg.CheckCredentials(); !errors.Is(err, translator.ErrCredentials) {
		t.Errorf("expected ErrCredentials for vertex without project, got %v", err)
	}

	cfg = &Config{Provider: ProviderOllama}
	if err := cfg.CheckCredentials(); err != nil {
		t.Errorf("ollama needs no credentials, got %v", err)
	}
}
