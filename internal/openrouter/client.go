// Package openrouter wraps the OpenRouter chat and embeddings API for
// content generation, semantic QA, and reuse-lookup embeddings.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/service"
)

const (
	// DefaultBaseURL is the OpenRouter API endpoint. The API is OpenAI
	// compatible, so the go-openai client talks to it unchanged.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultGenerationModel produces chunk content.
	DefaultGenerationModel = "anthropic/claude-3.5-sonnet"
	// DefaultQAModel runs semantic verification. A cheaper model is fine here
	// since rules catch the gross failures first.
	DefaultQAModel = "openai/gpt-4o-mini"
	// DefaultEmbeddingModel produces vectors for reuse lookups.
	DefaultEmbeddingModel = "openai/text-embedding-3-small"
	// DefaultEmbeddingDimensions is the expected vector width.
	DefaultEmbeddingDimensions = 1536
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the OpenRouter API key is not set
	ErrNoAPIKey = errors.New("OPENROUTER_API_KEY environment variable not set")
	// ErrEmptyResponse is returned when the model answers with no content
	ErrEmptyResponse = errors.New("model returned no content")
)

// ChatAPI defines the interface for chat completions (for testing)
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config holds client configuration.
type Config struct {
	APIKey              string
	BaseURL             string
	GenerationModel     string
	QAModel             string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// Client implements content generation, semantic QA, and embeddings against
// OpenRouter.
type Client struct {
	api             ChatAPI
	generationModel string
	qaModel         string
	embeddingModel  string
	dimensions      int
}

// NewClient creates a new OpenRouter client with explicit configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = DefaultGenerationModel
	}
	if cfg.QAModel == "" {
		cfg.QAModel = DefaultQAModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL

	return &Client{
		api:             openai.NewClientWithConfig(apiCfg),
		generationModel: cfg.GenerationModel,
		qaModel:         cfg.QAModel,
		embeddingModel:  cfg.EmbeddingModel,
		dimensions:      cfg.EmbeddingDimensions,
	}
}

// NewClientWithAPI creates a client with an injected API (for testing).
func NewClientWithAPI(api ChatAPI, cfg Config) *Client {
	c := NewClient(cfg)
	c.api = api
	return c
}

// NewClientFromEnv creates a client using the OPENROUTER_API_KEY environment variable.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(Config{APIKey: apiKey}), nil
}

type generationPayload struct {
	Title            string                 `json:"title"`
	ContentText      string                 `json:"content_text"`
	Data             map[string]interface{} `json:"data"`
	Sources          []string               `json:"sources"`
	SourceConfidence float64                `json:"source_confidence"`
}

const generationSystemPrompt = `You are an automotive service data specialist. ` +
	`Produce factual, vehicle-specific repair knowledge as JSON only, with keys ` +
	`title, content_text, data, sources, source_confidence (0..1). Never emit ` +
	`placeholder text; omit facts you cannot state precisely.`

// Generate implements service.ContentGenerator.
func (c *Client) Generate(ctx context.Context, req service.GenerationRequest) (*service.GenerationResult, error) {
	userPrompt := map[string]interface{}{
		"task":        "GENERATE_CHUNK",
		"vehicle_key": req.VehicleKey,
		"content_id":  req.ContentID,
		"chunk_type":  req.ChunkType,
	}
	if req.RepairHint != "" {
		userPrompt["repair_hint"] = req.RepairHint
		userPrompt["task"] = "REPAIR_CHUNK"
	}
	body, err := json.Marshal(userPrompt)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.generationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	content := firstChoice(resp)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	var payload generationPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("generation returned malformed JSON: %w", err)
	}
	if payload.SourceConfidence < 0 || payload.SourceConfidence > 1 {
		payload.SourceConfidence = 0
	}

	return &service.GenerationResult{
		Title:            payload.Title,
		ContentText:      payload.ContentText,
		Data:             payload.Data,
		Sources:          payload.Sources,
		SourceConfidence: payload.SourceConfidence,
	}, nil
}

type qaPayload struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

const qaSystemPrompt = `You are a strict automotive QA agent. Output JSON only ` +
	`with keys status (pass/fail) and notes.`

// CheckChunk implements service.SemanticChecker.
func (c *Client) CheckChunk(ctx context.Context, chunk *domain.Chunk) (bool, string, error) {
	prompt := map[string]interface{}{
		"task":        "QA_VERIFICATION",
		"vehicle":     chunk.VehicleKey,
		"chunk_type":  chunk.ChunkType,
		"content":     chunk.Data,
		"instructions": []string{
			"Verify that the content matches the vehicle and chunk type.",
			"Check for hallucinations (e.g. wrong engine, wrong specs).",
			"Check for formatting issues.",
		},
	}
	body, err := json.Marshal(prompt)
	if err != nil {
		return false, "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.qaModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: qaSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return false, "", fmt.Errorf("semantic check request failed: %w", err)
	}
	content := firstChoice(resp)
	if content == "" {
		return false, "", ErrEmptyResponse
	}

	var payload qaPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false, "", fmt.Errorf("semantic check returned malformed JSON: %w", err)
	}

	pass := strings.EqualFold(payload.Status, "pass")
	return pass, payload.Notes, nil
}

// Embed implements service.EmbeddingClient.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != c.dimensions {
		return nil, ErrWrongDimensions
	}
	return embedding, nil
}

func firstChoice(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
