package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/liushuangls/go-anthropic/v2"
)

const (
	AnthropicName         = "anthropic"
	anthropicDefaultModel = "claude-sonnet-4-20250514"

	// The Messages API requires max_tokens.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
	BaseURL      string       // Optional (tests)
	HTTPClient   *http.Client // Optional (tests)
}

// AnthropicClient implements LLMClient against the Anthropic Messages API.
type AnthropicClient struct {
	apiKey       string
	defaultModel string
	client       *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = anthropicDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       anthropic.NewClient(cfg.APIKey, opts...),
	}
}

// Name returns the provider identifier.
func (c *AnthropicClient) Name() string {
	return AnthropicName
}

// Chat sends a Messages API request. Anthropic has no response_format, so
// structured output relies on the prompt and local validation.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
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
		Provider:  AnthropicName,
		ModelUsed: model,
		Attempts:  1,
	}

	system, rest := systemAndUser(req.Messages)
	messages := make([]anthropic.Message, 0, len(rest))
	for _, m := range rest {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
			continue
		}
		messages = append(messages, anthropic.NewUserTextMessage(m.Content))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	msgReq := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		msgReq.Temperature = &t
	}

	resp, err := c.client.CreateMessages(ctx, msgReq)
	if err != nil {
		err = mapAnthropicError(err)
		result.ErrorType = "api_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	result.Success = true
	result.Content = resp.GetFirstContentText()
	result.FinishReason = string(resp.StopReason)
	if resp.Model != "" {
		result.ModelUsed = string(resp.Model)
	}
	result.PromptTokens = resp.Usage.InputTokens
	result.CompletionTokens = resp.Usage.OutputTokens
	result.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func mapAnthropicError(err error) error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Message:    fmt.Sprintf("Anthropic rate limited: %v", reqErr.Err),
				StatusCode: reqErr.StatusCode,
			}
		}
		return &StatusError{Provider: "Anthropic", StatusCode: reqErr.StatusCode, Body: fmt.Sprint(reqErr.Err)}
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRateLimitErr() {
			return &RateLimitError{Message: fmt.Sprintf("Anthropic rate limited: %s", apiErr.Message), StatusCode: http.StatusTooManyRequests}
		}
		return fmt.Errorf("Anthropic API error (%s): %s", apiErr.Type, apiErr.Message)
	}
	return err
}

var _ LLMClient = (*AnthropicClient)(nil)
