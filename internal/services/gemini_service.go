package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// GeminiService is the low-level text-generation client. Prompt building
// and response parsing for the itinerary live in ItineraryService; this
// layer only knows how to run one generation request with retries.
type GeminiService struct {
	client *genai.Client
	config config.GeminiConfig
	logger *logger.Logger
}

type GenerationRequest struct {
	Prompt          string
	MaxTokens       int32
	Temperature     *float32
	SystemRole      string
	TopP            *float32
	TopK            *float32
	DisableThinking bool
	ResponseFormat  string
}

type GenerationResponse struct {
	Content        string
	TokensUsed     int
	FinishReason   string
	ProcessingTime time.Duration
}

func NewGeminiService(cfg config.GeminiConfig, log *logger.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key required")
	}

	ctx := context.Background()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		client: client,
		config: cfg,
		logger: log,
	}

	log.Info("Generation service initialized",
		"model", cfg.Model,
		"max_tokens", cfg.MaxTokens,
		"temperature", cfg.Temperature)

	return service, nil
}

func (service *GeminiService) GenerateContent(ctx context.Context, request *GenerationRequest) (*GenerationResponse, error) {
	startTime := time.Now()

	var response *GenerationResponse
	var err error

	for attempt := 1; attempt <= service.config.MaxRetries; attempt++ {
		response, err = service.makeGenerationRequest(ctx, request)
		if err == nil {
			break
		}

		if attempt < service.config.MaxRetries {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": service.config.MaxRetries,
				"error":       err,
			}).Warn("content generation attempt failed")

			select {
			case <-time.After(service.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, models.NewTimeoutError("GENERATION_TIMEOUT", "content generation timed out").WithCause(ctx.Err())
			}
		}
	}

	if err != nil {
		service.logger.LogService("gemini", "generate_content", time.Since(startTime), map[string]interface{}{
			"prompt_length": len(request.Prompt),
			"attempts":      service.config.MaxRetries,
		}, err)
		return nil, models.WrapExternalError("gemini", err)
	}

	duration := time.Since(startTime)
	response.ProcessingTime = duration

	service.logger.LogService("gemini", "generate_content", duration, map[string]interface{}{
		"prompt_length":   len(request.Prompt),
		"response_length": len(response.Content),
		"tokens_used":     response.TokensUsed,
		"finish_reason":   response.FinishReason,
	}, nil)

	return response, nil
}

func (service *GeminiService) makeGenerationRequest(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	genCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	genConfig := &genai.GenerateContentConfig{}

	if req.SystemRole != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemRole, genai.RoleUser)
	}

	if req.Temperature != nil {
		genConfig.Temperature = req.Temperature
	} else {
		temp := float32(service.config.Temperature)
		genConfig.Temperature = &temp
	}

	if req.MaxTokens != 0 {
		genConfig.MaxOutputTokens = req.MaxTokens
	} else {
		genConfig.MaxOutputTokens = int32(service.config.MaxTokens)
	}

	if req.TopP != nil {
		genConfig.TopP = req.TopP
	}

	if req.TopK != nil {
		genConfig.TopK = req.TopK
	}

	if req.ResponseFormat != "" {
		genConfig.ResponseMIMEType = req.ResponseFormat
	}

	var budget int32 = 0
	if req.DisableThinking {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: &budget,
		}
	}

	result, err := service.client.Models.GenerateContent(genCtx, service.config.Model, genai.Text(req.Prompt), genConfig)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	if len(result.Candidates) == 0 {
		return nil, errors.New("no response candidates generated")
	}

	candidate := result.Candidates[0]

	text := ""
	if candidate.Content != nil && len(candidate.Content.Parts) > 0 {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}

	// rough estimate, the API does not always return usage metadata
	tokensUsed := len(req.Prompt)/4 + len(text)/4

	return &GenerationResponse{
		Content:      text,
		TokensUsed:   tokensUsed,
		FinishReason: string(candidate.FinishReason),
	}, nil
}

func (service *GeminiService) HealthCheck(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var temperature float32 = 0

	req := &GenerationRequest{
		Prompt:      "Respond with 'OK' if you can process this request",
		Temperature: &temperature,
		MaxTokens:   10,
	}

	resp, err := service.GenerateContent(testCtx, req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if resp.Content == "" {
		return errors.New("empty response received")
	}

	return nil
}

func (service *GeminiService) Close() error {
	service.logger.Info("Gemini client closed")
	return nil
}
