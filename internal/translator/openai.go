package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valpere/wenyan/internal/postprocess"
)

const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenAIModel       = "gpt-4"
	DefaultOpenRouterModel   = "openai/gpt-4o"
)

// ChatService talks to an OpenAI-compatible chat completions API.
type ChatService struct {
	name      string
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	headers   map[string]string
	client    *http.Client
}

func newChatService(name, baseURL, model string, cfg ServiceConfig) *ChatService {
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ChatService{
		name:      name,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: cfg.MaxOutputTokens,
		headers:   map[string]string{},
		client:    &http.Client{Timeout: timeout},
	}
}

// NewOpenAIService returns a client for the OpenAI API.
func NewOpenAIService(cfg ServiceConfig) *ChatService {
	return newChatService("openai", DefaultOpenAIBaseURL, DefaultOpenAIModel, cfg)
}

// NewOpenRouterService returns a client for OpenRouter, which speaks the
// same protocol and wants attribution headers.
func NewOpenRouterService(cfg ServiceConfig) *ChatService {
	s := newChatService("openrouter", DefaultOpenRouterBaseURL, DefaultOpenRouterModel, cfg)
	s.headers["HTTP-Referer"] = "https://github.com/valpere/wenyan"
	s.headers["X-Title"] = "Wenyan"
	return s
}

func (s *ChatService) Name() string { return s.name }

// Model returns the model name sent with each request.
func (s *ChatService) Model() string { return s.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *ChatService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	if s.apiKey == "" {
		return result, fmt.Errorf("%s: API key not configured: %w", s.name, ErrCredentials)
	}

	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: BuildSystemPrompt(req.SystemPrompt, req.Glossary, req.PreviousContext)},
			{Role: "user", Content: req.Text},
		},
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return result, &TransportError{Service: s.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return result, statusError(s.name, resp, string(raw))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return result, &TransportError{Service: s.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return result, fmt.Errorf("%s: empty response from API", s.name)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return result, &ContentPolicyError{Service: s.name, Reason: "finish_reason content_filter"}
	}

	result.TranslatedText = postprocess.Clean(choice.Message.Content)
	result.FinishReason = choice.FinishReason
	result.Metadata = map[string]string{
		"model":             s.model,
		"prompt_tokens":     fmt.Sprintf("%d", chatResp.Usage.PromptTokens),
		"completion_tokens": fmt.Sprintf("%d", chatResp.Usage.CompletionTokens),
	}
	return result, nil
}

// IsAvailable lists models to confirm the key is accepted.
func (s *ChatService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("%s: API key not configured: %w", s.name, ErrCredentials)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Service: s.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError(s.name, resp, string(raw))
	}
	return nil
}

func (s *ChatService) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
}
