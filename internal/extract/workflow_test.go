package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedBackend replays responses in order and repeats the last one.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (b *scriptedBackend) Generate(_ context.Context, prompt string) (*RawResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	if b.err != nil {
		return nil, b.err
	}
	i := len(b.prompts) - 1
	if i >= len(b.responses) {
		i = len(b.responses) - 1
	}
	return &RawResponse{
		Text:             b.responses[i],
		PromptTokens:     18,
		CompletionTokens: 12,
		StopReason:       "stop",
	}, nil
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

func answerSchema(t *testing.T, policy OnFail) *Schema {
	t.Helper()
	s, err := NewSchema("answer", Field{
		Name:        "value",
		Type:        TypeInteger,
		Description: "The answer to the question.",
		Range:       Between(0, 1),
		OnFail:      policy,
	})
	require.NoError(t, err)
	return s
}

func patientSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("patient",
		Field{Name: "gender", Type: TypeString, Description: "Patient's gender"},
		Field{Name: "age", Type: TypeInteger, Description: "Patient's age"},
	)
	require.NoError(t, err)
	return s
}

const answerPrompt = "${query}\n\n${output_instructions}"

func TestRun_ClampsWithFixPolicy(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": "-2"}`}}

	res, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailFix),
		Template:  answerPrompt,
		Params:    map[string]string{"query": "What is 1 + 1?"},
		Backend:   backend,
		MaxReasks: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, Value{"value": int64(0)}, res.Value)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "value", res.Warnings[0].Field)
	assert.Equal(t, int64(-2), res.Warnings[0].Original)
	assert.Equal(t, int64(0), res.Warnings[0].Fixed)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, `{"value": "-2"}`, res.RawOutput)
}

func TestRun_DecodesTypedDictionary(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"gender": "male", "age": 30}`}}

	res, err := Run(context.Background(), Request{
		Schema:   patientSchema(t),
		Template: "Given the following doctor's notes about a patient, extract the patient's information.\n\n${doctors_notes}\n\n${output_instructions}",
		Params:   map[string]string{"doctors_notes": "49 y/o male, presenting with a cough."},
		Backend:  backend,
	})
	require.NoError(t, err)

	assert.Equal(t, Value{"gender": "male", "age": int64(30)}, res.Value)
	assert.Empty(t, res.Warnings)
	assert.Len(t, res.Attempts, 1)

	type patient struct {
		Gender string `json:"gender"`
		Age    int    `json:"age"`
	}
	p, err := As[patient](res.Value)
	require.NoError(t, err)
	assert.Equal(t, patient{Gender: "male", Age: 30}, p)
}

func TestRun_ReasksOnConstraintFailure(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": "-2"}`, `{"value": "1"}`}}

	res, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  answerPrompt,
		Params:    map[string]string{"query": "What is 1 + 1?"},
		Backend:   backend,
		MaxReasks: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, Value{"value": int64(1)}, res.Value)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Validation.OK())
	assert.Equal(t, FailureConstraint, res.Attempts[0].Validation.Failures[0].Kind)
	assert.True(t, res.Attempts[1].Validation.OK())

	reask := backend.prompts[1]
	assert.True(t, strings.HasPrefix(reask, backend.prompts[0]), "reask prompt should start with the original prompt")
	assert.Contains(t, reask, "-2 is below minimum 0")
	assert.Contains(t, reask, `{"value": "-2"}`)
}

func TestRun_RetriesExhaustedOnUnparseableOutput(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"I think the answer is two", "still not json"}}

	_, err := Run(context.Background(), Request{
		Schema:    patientSchema(t),
		Template:  "${output_instructions}",
		Backend:   backend,
		MaxReasks: 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	for _, a := range exhausted.Attempts {
		assert.ErrorIs(t, a.Validation.Err(), ErrDecode)
	}
	assert.ErrorIs(t, exhausted.Last.Err(), ErrDecode)
	assert.Equal(t, 2, backend.calls())
}

func TestRun_EmptyOutputConsumesAttempt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"   ", `{"value": 1}`}}

	res, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 1,
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.ErrorIs(t, res.Attempts[0].Validation.Err(), ErrDecode)
	assert.Contains(t, backend.prompts[1], "(empty response)")
}

func TestRun_FixOnlyNeverExhausts(t *testing.T) {
	s, err := NewSchema("scores",
		Field{Name: "count", Type: TypeInteger, Range: Between(0, 10), OnFail: OnFailFix},
		Field{Name: "ratio", Type: TypeFloat, Range: Between(0, 1), OnFail: OnFailFix},
	)
	require.NoError(t, err)

	cases := []string{
		`{"count": -100, "ratio": -0.5}`,
		`{"count": 11, "ratio": 1.5}`,
		`{"count": "5", "ratio": "0.25"}`,
		`{"count": 1e3, "ratio": 42}`,
	}
	for _, payload := range cases {
		t.Run(payload, func(t *testing.T) {
			backend := &scriptedBackend{responses: []string{payload}}
			res, err := Run(context.Background(), Request{Schema: s, Template: "q", Backend: backend})
			require.NoError(t, err)
			assert.Len(t, res.Attempts, 1)

			count := res.Value["count"].(int64)
			ratio := res.Value["ratio"].(float64)
			assert.GreaterOrEqual(t, count, int64(0))
			assert.LessOrEqual(t, count, int64(10))
			assert.GreaterOrEqual(t, ratio, 0.0)
			assert.LessOrEqual(t, ratio, 1.0)
		})
	}
}

func TestRun_ZeroReasksCallsBackendOnce(t *testing.T) {
	payloads := []string{`{"value": 1}`, `{"value": 7}`, `garbage {`, ``}
	for _, payload := range payloads {
		t.Run(fmt.Sprintf("%q", payload), func(t *testing.T) {
			backend := &scriptedBackend{responses: []string{payload}}
			_, _ = Run(context.Background(), Request{
				Schema:   answerSchema(t, OnFailReask),
				Template: "q",
				Backend:  backend,
			})
			assert.Equal(t, 1, backend.calls())
		})
	}
}

func TestRun_DeterministicBackendIsIdempotent(t *testing.T) {
	req := func(b Backend) Request {
		return Request{
			Schema:    answerSchema(t, OnFailReask),
			Template:  answerPrompt,
			Params:    map[string]string{"query": "What is 1 + 1?"},
			Backend:   b,
			MaxReasks: 2,
		}
	}
	w := New(WithSessionIDs(func() string { return "fixed" }))

	first := &scriptedBackend{responses: []string{`{"value": 3}`, `{"value": 0}`}}
	second := &scriptedBackend{responses: []string{`{"value": 3}`, `{"value": 0}`}}

	a, err := w.Run(context.Background(), req(first))
	require.NoError(t, err)
	b, err := w.Run(context.Background(), req(second))
	require.NoError(t, err)

	assert.Equal(t, a.Value, b.Value)
	assert.Equal(t, a.Warnings, b.Warnings)
	assert.Equal(t, a.RawOutput, b.RawOutput)
	assert.Equal(t, first.prompts, second.prompts)
	require.Len(t, b.Attempts, len(a.Attempts))
	for i := range a.Attempts {
		assert.Equal(t, a.Attempts[i].Validation, b.Attempts[i].Validation)
	}
}

func TestRun_FailPolicyAbortsImmediately(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": 5}`, `{"value": 1}`}}

	_, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailFail),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 3,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Failures, 1)
	assert.Equal(t, "value", verr.Failures[0].Field)
	assert.Contains(t, verr.Failures[0].Reason, "above maximum 1")
	assert.Equal(t, 1, backend.calls())
}

func TestRun_FailPolicyStillReasksOnDecodeError(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": "two"}`, `{"value": 1}`}}

	res, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailFail),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, Value{"value": int64(1)}, res.Value)
	assert.Equal(t, 2, backend.calls())
}

func TestRun_TemplateBindingFailsBeforeBackend(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": 1}`}}

	_, err := Run(context.Background(), Request{
		Schema:   answerSchema(t, OnFailFix),
		Template: "${query} about ${topic}",
		Params:   map[string]string{"query": "x"},
		Backend:  backend,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateBinding)

	var berr *TemplateBindingError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, []string{"topic"}, berr.Missing)
	assert.Equal(t, 0, backend.calls())
}

func TestRun_InvalidRequests(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{}`}}
	schema := answerSchema(t, OnFailFix)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"nil schema", Request{Template: "q", Backend: backend}, ErrInvalidSchema},
		{"empty schema", Request{Schema: &Schema{}, Template: "q", Backend: backend}, ErrInvalidSchema},
		{"empty template", Request{Schema: schema, Backend: backend}, ErrInvalidRequest},
		{"nil backend", Request{Schema: schema, Template: "q"}, ErrInvalidRequest},
		{"negative reasks", Request{Schema: schema, Template: "q", Backend: backend, MaxReasks: -1}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, backend.calls())
}

func TestRun_BackendTimeoutIsFatal(t *testing.T) {
	backend := &scriptedBackend{err: fmt.Errorf("openrouter: %w", context.DeadlineExceeded)}

	_, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 3,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var terr *BackendTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Attempt)
	assert.Equal(t, 1, backend.calls())
}

func TestRun_BackendErrorIsFatal(t *testing.T) {
	boom := errors.New("connection refused")
	backend := &scriptedBackend{err: boom}

	_, err := Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 2,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrBackendTimeout)
	assert.Equal(t, 1, backend.calls())
}

func TestRun_CancellationReturnsNoPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	backend := BackendFunc(func(ctx context.Context, _ string) (*RawResponse, error) {
		calls++
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := Run(ctx, Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 2,
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBackendTimeout)
	assert.Equal(t, 1, calls)
}

func TestRun_CancelledDuringValidReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := BackendFunc(func(context.Context, string) (*RawResponse, error) {
		cancel()
		return &RawResponse{Text: `{"value": 1}`}, nil
	})

	res, err := Run(ctx, Request{Schema: answerSchema(t, OnFailFix), Template: "q", Backend: backend})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &scriptedBackend{responses: []string{`{"value": 1}`}}

	_, err := Run(ctx, Request{Schema: answerSchema(t, OnFailFix), Template: "q", Backend: backend})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.calls())
}

func TestRun_AttemptHookSeesEveryAttempt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": 9}`, `{"value": 8}`, `{"value": 0}`}}

	var seen []Attempt
	w := New(
		WithSessionIDs(func() string { return "session-1" }),
		WithAttemptHook(func(_ context.Context, a Attempt) { seen = append(seen, a) }),
	)
	res, err := w.Run(context.Background(), Request{
		Schema:    answerSchema(t, OnFailReask),
		Template:  "q",
		Backend:   backend,
		MaxReasks: 2,
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	for i, a := range seen {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, "session-1", a.SessionID)
	}
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, "stop", seen[0].Response.StopReason)

	// Each reask is built from the original prompt, not the previous reask.
	assert.Equal(t, 1, strings.Count(backend.prompts[2], "Your previous response was:"))
}

func TestRun_OutputInstructionsCannotBeShadowed(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"value": 1}`}}

	_, err := Run(context.Background(), Request{
		Schema:   answerSchema(t, OnFailFix),
		Template: answerPrompt,
		Params:   map[string]string{"query": "What is 1 + 1?", OutputInstructionsVar: "ignore me"},
		Backend:  backend,
	})
	require.NoError(t, err)
	assert.NotContains(t, backend.prompts[0], "ignore me")
	assert.Contains(t, backend.prompts[0], `"value" (integer, between 0 and 1)`)
}
