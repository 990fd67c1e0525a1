package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
)

const CompatName = "openai-compat"

// CompatConfig holds configuration for any OpenAI-compatible endpoint
// (vLLM, Ollama, LM Studio, llama.cpp server, hosted gateways).
type CompatConfig struct {
	ProviderName string // Display name (default: "openai-compat")
	APIKey       string // Optional for local servers
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// CompatClient implements LLMClient for OpenAI-compatible APIs.
type CompatClient struct {
	providerName string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *goopenai.Client
}

// NewCompatClient creates a new OpenAI-compatible client.
func NewCompatClient(cfg CompatConfig) (*CompatClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.DefaultModel == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = CompatName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	config := goopenai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &CompatClient{
		providerName: cfg.ProviderName,
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client:       goopenai.NewClientWithConfig(config),
	}, nil
}

// Name returns the provider name.
func (c *CompatClient) Name() string {
	return c.providerName
}

// Chat sends a chat completion request.
func (c *CompatClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  c.providerName,
		ModelUsed: model,
		Attempts:  1,
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
		// go-openai omits a zero temperature; the smallest non-zero float32 is its documented stand-in.
		if chatReq.Temperature == 0 {
			chatReq.Temperature = math.SmallestNonzeroFloat32
		}
	}
	// Local servers rarely implement json_schema; json_object is the
	// widely supported subset.
	if req.ResponseFormat != nil {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		err = c.mapError(err)
		result.ErrorType = "api_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%s returned no choices (model=%s)", c.providerName, resp.Model)
		result.ErrorType = "empty_response"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	choice := resp.Choices[0]
	result.Success = true
	result.Content = choice.Message.Content
	result.FinishReason = string(choice.FinishReason)
	if resp.Model != "" {
		result.ModelUsed = resp.Model
	}
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.TotalTokens = resp.Usage.TotalTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (c *CompatClient) mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Message:    fmt.Sprintf("%s rate limited: %s", c.providerName, apiErr.Message),
				StatusCode: apiErr.HTTPStatusCode,
			}
		}
		return &StatusError{Provider: c.providerName, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{Provider: c.providerName, StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}
	}
	return fmt.Errorf("%s API error: %w", c.providerName, err)
}

var _ LLMClient = (*CompatClient)(nil)
