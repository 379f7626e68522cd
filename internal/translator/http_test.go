package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler http.HandlerFunc) (*ChatService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	svc := NewOpenAIService(ServiceConfig{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-4"})
	svc.client = server.Client()
	return svc, server
}

func TestChatService_Translate_Success(t *testing.T) {
	var got chatRequest
	svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "Here is the translation: The world under heaven."}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 6},
		})
	})

	result, err := svc.Translate(context.Background(), TranslateRequest{
		SystemPrompt: "Translate.",
		Text:         "天下",
		Temperature:  0,
		TopP:         1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TranslatedText != "The world under heaven." {
		t.Errorf("unexpected text %q", result.TranslatedText)
	}
	if result.FinishReason != "stop" {
		t.Errorf("unexpected finish reason %q", result.FinishReason)
	}
	if result.Metadata["completion_tokens"] != "6" {
		t.Errorf("unexpected metadata %v", result.Metadata)
	}
	if got.Model != "gpt-4" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Role != "system" || !strings.HasPrefix(got.Messages[0].Content, "Translate.") {
		t.Errorf("unexpected system message %+v", got.Messages[0])
	}
	if got.Messages[1].Content != "天下" {
		t.Errorf("unexpected user message %+v", got.Messages[1])
	}
	if got.TopP != 1 || got.Temperature != 0 {
		t.Errorf("sampling not passed through: temperature=%v top_p=%v", got.Temperature, got.TopP)
	}
}

func TestChatService_SamplingAlwaysSent(t *testing.T) {
	svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["temperature"]; !ok {
			t.Error("temperature 0 must be sent explicitly")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	})
	if _, err := svc.Translate(context.Background(), TranslateRequest{Text: "天", TopP: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChatService_Translate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		body     string
		wantKind Kind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"bad key"}`, wantKind: KindCredential},
		{name: "forbidden", status: http.StatusForbidden, wantKind: KindCredential},
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, wantKind: KindRateLimit},
		{name: "server error", status: http.StatusBadGateway, wantKind: KindTransport},
		{name: "timeout", status: http.StatusRequestTimeout, wantKind: KindTransport},
		{name: "content filter", status: http.StatusBadRequest, body: `{"error":{"code":"content_filter"}}`, wantKind: KindContentPolicy},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad"}`, wantKind: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := svc.Translate(context.Background(), TranslateRequest{Text: "天", TopP: 1})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err); got != tt.wantKind {
				t.Errorf("Classify(%v) = %s, want %s", err, got, tt.wantKind)
			}
		})
	}
}

func TestChatService_RetryAfterHeader(t *testing.T) {
	svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := svc.Translate(context.Background(), TranslateRequest{Text: "天", TopP: 1})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("expected 7s cool-down, got %s", rl.RetryAfter)
	}
}

func TestChatService_ContentFilterFinish(t *testing.T) {
	svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": ""}, "finish_reason": "content_filter"}},
		})
	})
	_, err := svc.Translate(context.Background(), TranslateRequest{Text: "天", TopP: 1})
	if Classify(err) != KindContentPolicy {
		t.Errorf("expected content policy failure, got %v", err)
	}
}

func TestChatService_NoAPIKey(t *testing.T) {
	svc := NewOpenAIService(ServiceConfig{})
	if _, err := svc.Translate(context.Background(), TranslateRequest{Text: "天"}); !errors.Is(err, ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
	if err := svc.IsAvailable(context.Background()); !errors.Is(err, ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
}

func TestChatService_IsAvailable(t *testing.T) {
	svc, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	if err := svc.IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	svc.apiKey = "wrong"
	if err := svc.IsAvailable(context.Background()); !errors.Is(err, ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
}

func TestOpenRouterService_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Title") == "" || r.Header.Get("HTTP-Referer") == "" {
			t.Error("expected attribution headers")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer server.Close()

	svc := NewOpenRouterService(ServiceConfig{APIKey: "k", BaseURL: server.URL})
	svc.client = server.Client()
	if svc.Name() != "openrouter" {
		t.Errorf("expected 'openrouter', got %q", svc.Name())
	}
	if svc.Model() != DefaultOpenRouterModel {
		t.Errorf("expected default model, got %q", svc.Model())
	}
	if _, err := svc.Translate(context.Background(), TranslateRequest{Text: "天", TopP: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOllamaTranslator_Translate_Success(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message":     map[string]string{"role": "assistant", "content": "<think>hmm</think>Heaven and earth."},
			"done_reason": "stop",
		})
	}))
	defer server.Close()

	svc := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL, Model: "qwen2.5:7b"})
	svc.client = server.Client()

	result, err := svc.Translate(context.Background(), TranslateRequest{Text: "天地", Temperature: 0.3, TopP: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TranslatedText != "Heaven and earth." {
		t.Errorf("unexpected text %q", result.TranslatedText)
	}
	if result.Metadata["model"] != "qwen2.5:7b" {
		t.Errorf("expected model in metadata, got %v", result.Metadata)
	}
	if got.Stream {
		t.Error("expected non-streaming request")
	}
	if got.Options.Temperature != 0.3 || got.Options.TopP != 0.9 {
		t.Errorf("sampling not passed through: %+v", got.Options)
	}
}

func TestOllamaTranslator_Translate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL})
	svc.client = server.Client()

	_, err := svc.Translate(context.Background(), TranslateRequest{Text: "天"})
	if Classify(err) != KindTransport {
		t.Errorf("expected transport failure, got %v", err)
	}
}

func TestOllamaTranslator_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	svc := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL})
	svc.client = server.Client()
	if err := svc.IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOllamaTranslator_IsAvailable_Down(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	svc := NewOllamaTranslator(ServiceConfig{BaseURL: url, Timeout: time.Second})
	if err := svc.IsAvailable(context.Background()); Classify(err) != KindTransport {
		t.Errorf("expected transport failure, got %v", err)
	}
}
