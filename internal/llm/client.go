package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimensions matches the vector collection size
	DefaultEmbeddingDimensions = 384
	// DefaultChatModel is used for extraction and generation
	DefaultChatModel = "gpt-4o-mini"

	extractionTemperature = 0.1
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrEmptyCompletion is returned when the model returns no choices
	ErrEmptyCompletion = errors.New("completion returned no choices")
)

// Message is one chat turn
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting of one call
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatStream is a server-sent completion stream
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ChatAPI defines the interface for chat completions
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// OpenAIAdapter implements EmbeddingAPI and ChatAPI over go-openai
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIAdapter(apiKey, baseURL, embeddingModel string, dimensions int) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(embeddingModel),
		dimensions: dimensions,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      a.model,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return a.client.CreateChatCompletion(ctx, req)
}

func (a *OpenAIAdapter) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int
	// RequestsPerSecond limits CompleteJSON calls; zero disables limiting
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client wraps the OpenAI API client
type Client struct {
	embed      EmbeddingAPI
	chat       ChatAPI
	chatModel  string
	dimensions int
	limiter    *rate.Limiter
	timeout    time.Duration
	tokens     *TokenCounter
	logger     *zap.Logger
}

// NewClient creates a client from explicit configuration
func NewClient(cfg Config, logger *zap.Logger) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, dimensions)
	return newClient(adapter, adapter, cfg, logger)
}

func newClient(embed EmbeddingAPI, chat ChatAPI, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	model := cfg.ChatModel
	if model == "" {
		model = DefaultChatModel
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		embed:      embed,
		chat:       chat,
		chatModel:  model,
		dimensions: dimensions,
		limiter:    limiter,
		timeout:    cfg.Timeout,
		tokens:     NewTokenCounter(model),
		logger:     logger.With(zap.String("component", "llm")),
	}
}

// Dimensions returns the expected embedding size
func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Embed generates an embedding for the given text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for several texts in one request
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vectors, err := c.embed.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	for _, v := range vectors {
		if len(v) != c.dimensions {
			return nil, ErrWrongDimensions
		}
	}
	return vectors, nil
}

// CompleteJSON runs a low temperature completion that asks for a JSON object.
// The raw text is returned; callers parse it leniently.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, Usage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", Usage{}, err
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: extractionTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, ErrEmptyCompletion
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
