package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/valpere/wenyan/internal/postprocess"
)

const (
	DefaultVertexModel  = "gemini-2.5-pro"
	DefaultVertexRegion = "us-central1"
)

// VertexService calls Gemini on Vertex AI.
type VertexService struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewVertexService creates the Vertex AI client. Application default
// credentials are used unless cfg.Credentials names a service account file.
func NewVertexService(ctx context.Context, cfg ServiceConfig) (*VertexService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex: project ID not configured: %w", ErrCredentials)
	}
	region := cfg.Region
	if region == "" {
		region = DefaultVertexRegion
	}
	model := cfg.Model
	if model == "" {
		model = DefaultVertexModel
	}

	var opts []option.ClientOption
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex: genai.NewClient: %v: %w", err, ErrCredentials)
	}
	return &VertexService{client: client, model: model, maxTokens: cfg.MaxOutputTokens}, nil
}

func (s *VertexService) Name() string { return "vertex" }

func (s *VertexService) Model() string { return s.model }

// Close releases the underlying gRPC connection.
func (s *VertexService) Close() error { return s.client.Close() }

func (s *VertexService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(BuildSystemPrompt(req.SystemPrompt, req.Glossary, req.PreviousContext))},
	}
	model.SetTemperature(float32(req.Temperature))
	model.SetTopP(float32(req.TopP))
	if s.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(s.maxTokens))
	}
	// Historical war narratives trip the default thresholds.
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return result, classifyVertexError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result, fmt.Errorf("vertex: empty response from API")
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return result, &ContentPolicyError{Service: s.Name(), Reason: cand.FinishReason.String()}
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	result.TranslatedText = postprocess.Clean(sb.String())
	result.FinishReason = cand.FinishReason.String()
	result.Metadata = map[string]string{"model": s.model}
	if u := resp.UsageMetadata; u != nil {
		result.Metadata["prompt_tokens"] = fmt.Sprintf("%d", u.PromptTokenCount)
		result.Metadata["completion_tokens"] = fmt.Sprintf("%d", u.CandidatesTokenCount)
	}
	return result, nil
}

// IsAvailable succeeds once the client exists: credentials are resolved
// when it is created.
func (s *VertexService) IsAvailable(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("vertex: client not initialized: %w", ErrCredentials)
	}
	return ctx.Err()
}

// classifyVertexError maps genai and gRPC failures to typed failures.
func classifyVertexError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &ContentPolicyError{Service: "vertex", Reason: blocked.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Service: "vertex", Err: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &TransportError{Service: "vertex", Err: err}
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &RateLimitError{Service: "vertex", Err: err}
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("vertex: %v: %w", st.Message(), ErrCredentials)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return &TransportError{Service: "vertex", Err: err}
	}
	return fmt.Errorf("vertex: %w", err)
}
