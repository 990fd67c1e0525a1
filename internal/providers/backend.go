package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackzampolin/reask/internal/extract"
)

// BackendOptions configures how a chat client is presented to the
// extraction workflow.
type BackendOptions struct {
	Model          string
	Instructions   string   // Sent as the system message
	Temperature    *float64 // nil leaves the provider default
	MaxTokens      int
	Timeout        time.Duration // Per-call budget (0 = none)
	ResponseFormat *ResponseFormat
	Limiter        *RateLimiter
}

// ChatBackend adapts an LLMClient to extract.Backend. Each Generate is a
// fresh single-turn conversation.
type ChatBackend struct {
	client LLMClient
	opts   BackendOptions
}

// NewBackend wraps client as an extraction backend.
func NewBackend(client LLMClient, opts BackendOptions) *ChatBackend {
	return &ChatBackend{client: client, opts: opts}
}

// Generate sends prompt as the user message and returns the raw text.
func (b *ChatBackend) Generate(ctx context.Context, prompt string) (*extract.RawResponse, error) {
	if b.opts.Limiter != nil {
		if err := b.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	messages := make([]Message, 0, 2)
	if b.opts.Instructions != "" {
		messages = append(messages, Message{Role: "system", Content: b.opts.Instructions})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	res, err := b.client.Chat(callCtx, &ChatRequest{
		Messages:       messages,
		Model:          b.opts.Model,
		Temperature:    b.opts.Temperature,
		MaxTokens:      b.opts.MaxTokens,
		ResponseFormat: b.opts.ResponseFormat,
	})
	if err != nil {
		return nil, b.classify(ctx, callCtx, err)
	}

	return &extract.RawResponse{
		Text:             res.Content,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		StopReason:       res.FinishReason,
		Provider:         res.Provider,
		Model:            res.ModelUsed,
	}, nil
}

// classify maps transport failures onto the workflow's error vocabulary.
// A caller cancellation passes through untouched.
func (b *ChatBackend) classify(ctx, callCtx context.Context, err error) error {
	if rle, ok := IsRateLimitError(err); ok && b.opts.Limiter != nil {
		b.opts.Limiter.Record429(rle.RetryAfter)
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s: %v", extract.ErrBackendTimeout, b.client.Name(), b.opts.Timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", extract.ErrBackendTimeout, b.client.Name(), err)
	}
	return fmt.Errorf("%s: %w", b.client.Name(), err)
}

var _ extract.Backend = (*ChatBackend)(nil)
