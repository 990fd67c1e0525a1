package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// doRequest makes an HTTP request to OpenRouter with retry logic. It
// returns the number of HTTP attempts made.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, orReq *openRouterRequest) (*openRouterResponse, int, error) {
	var (
		orResp   *openRouterResponse
		attempts int
	)

	// Inject nonce for retries on 413/422 (makes request "different")
	onRetry := func(n uint, _ error) {
		c.injectNonce(orReq, int(n)+1)
	}

	err := withRetry(ctx, c.maxRetries, c.retryDelay, onRetry, func() error {
		attempts++

		bodyBytes, err := json.Marshal(orReq)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/reask")
		req.Header.Set("X-Title", "reask")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenRouter rate limited: %s", string(respBody)),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				StatusCode: resp.StatusCode,
			}
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Provider: "OpenRouter", StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		var parsed openRouterResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to unmarshal response: %w", err))
		}

		// API returned 200 but with an error body or no choices
		if retryable, err := c.shouldRetryResponse(&parsed); err != nil {
			if retryable {
				return err
			}
			return retry.Unrecoverable(err)
		}

		orResp = &parsed
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return orResp, attempts, nil
}

// shouldRetryResponse checks a 200 OK response for content issues.
// A nil error means the response is usable.
func (c *OpenRouterClient) shouldRetryResponse(resp *openRouterResponse) (bool, error) {
	if resp.Error != nil {
		code := fmt.Sprintf("%v", resp.Error.Code)
		switch code {
		case "overloaded", "rate_limit_exceeded", "503", "502", "500":
			return true, fmt.Errorf("OpenRouter API error (retryable): %s", resp.Error.Message)
		}
		// content_filter, invalid_request, etc.
		return false, fmt.Errorf("OpenRouter API error: %s", resp.Error.Message)
	}

	// Empty choices - likely transient, worth retrying
	if len(resp.Choices) == 0 {
		return true, fmt.Errorf("empty choices in response (model=%s, id=%s)", resp.Model, resp.ID)
	}
	return false, nil
}

// injectNonce adds a unique comment to the last user message to make the
// request different. This helps bypass caching issues behind 413/422 errors.
func (c *OpenRouterClient) injectNonce(req *openRouterRequest, attempt int) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			nonce := uuid.New().String()[:16]
			req.Messages[i].Content += fmt.Sprintf("\n<!-- retry_%d_id: %s -->", attempt, nonce)
			return
		}
	}
}
