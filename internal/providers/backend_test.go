package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/reask/internal/extract"
)

type recordingClient struct {
	last *ChatRequest
	fn   func(ctx context.Context) (*ChatResult, error)
}

func (c *recordingClient) Name() string { return "recording" }

func (c *recordingClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	c.last = req
	return c.fn(ctx)
}

func TestChatBackend_Generate(t *testing.T) {
	t.Run("maps request and response", func(t *testing.T) {
		client := &recordingClient{fn: func(context.Context) (*ChatResult, error) {
			return &ChatResult{
				Content:          `{"value": 1}`,
				FinishReason:     "stop",
				PromptTokens:     10,
				CompletionTokens: 3,
				Provider:         "recording",
				ModelUsed:        "m-1",
			}, nil
		}}
		temperature := 0.2
		backend := NewBackend(client, BackendOptions{
			Model:        "m-1",
			Instructions: "Be precise.",
			Temperature:  &temperature,
			MaxTokens:    100,
		})

		raw, err := backend.Generate(context.Background(), "the prompt")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if raw.Text != `{"value": 1}` || raw.PromptTokens != 10 || raw.CompletionTokens != 3 {
			t.Errorf("unexpected raw response: %+v", raw)
		}
		if raw.StopReason != "stop" || raw.Model != "m-1" || raw.Provider != "recording" {
			t.Errorf("unexpected metadata: %+v", raw)
		}

		req := client.last
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "the prompt" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Model != "m-1" || req.Temperature == nil || *req.Temperature != 0.2 || req.MaxTokens != 100 {
			t.Errorf("unexpected request params: %+v", req)
		}
	})

	t.Run("omits empty instructions", func(t *testing.T) {
		client := &recordingClient{fn: func(context.Context) (*ChatResult, error) {
			return &ChatResult{Content: "x"}, nil
		}}
		if _, err := NewBackend(client, BackendOptions{}).Generate(context.Background(), "p"); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(client.last.Messages) != 1 || client.last.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", client.last.Messages)
		}
		if client.last.Temperature != nil {
			t.Errorf("Temperature = %v, want nil", *client.last.Temperature)
		}
	})

	t.Run("per-call timeout becomes backend timeout", func(t *testing.T) {
		client := &recordingClient{fn: func(ctx context.Context) (*ChatResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		backend := NewBackend(client, BackendOptions{Timeout: 10 * time.Millisecond})

		_, err := backend.Generate(context.Background(), "p")
		if !errors.Is(err, extract.ErrBackendTimeout) {
			t.Fatalf("expected ErrBackendTimeout, got %v", err)
		}
	})

	t.Run("caller cancellation passes through", func(t *testing.T) {
		client := &recordingClient{fn: func(ctx context.Context) (*ChatResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		backend := NewBackend(client, BackendOptions{Timeout: time.Minute})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := backend.Generate(ctx, "p")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if errors.Is(err, extract.ErrBackendTimeout) {
			t.Fatal("cancellation must not be reported as a timeout")
		}
	})

	t.Run("rate limit drains limiter", func(t *testing.T) {
		client := &recordingClient{fn: func(context.Context) (*ChatResult, error) {
			return nil, &RateLimitError{Message: "slow down", RetryAfter: time.Second, StatusCode: 429}
		}}
		limiter := NewRateLimiter(0.01)
		backend := NewBackend(client, BackendOptions{Limiter: limiter})

		_, err := backend.Generate(context.Background(), "p")
		if _, ok := IsRateLimitError(err); !ok {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		if limiter.Status().Last429Time.IsZero() {
			t.Error("limiter should record the 429")
		}
	})
}

func TestChatBackend_DrivesWorkflow(t *testing.T) {
	schema, err := extract.NewSchema("answer", extract.Field{
		Name:   "value",
		Type:   extract.TypeInteger,
		Range:  extract.Between(0, 10),
		OnFail: extract.OnFailReask,
	})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	mock := NewMockClient(`{"value": 99}`, `{"value": 4}`)
	mock.Latency = 0

	result, err := extract.Run(context.Background(), extract.Request{
		Schema:    schema,
		Template:  "Pick a number.\n${output_instructions}",
		Backend:   NewBackend(mock, BackendOptions{}),
		MaxReasks: 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Value["value"] != int64(4) {
		t.Errorf("value = %v, want 4", result.Value["value"])
	}
	if mock.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", mock.RequestCount())
	}
}
