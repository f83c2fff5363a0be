package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"shellpilot/internal/state"
	"shellpilot/internal/tooling"
)

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 16 * time.Second
)

// Reply is the distilled outcome of one successful provider exchange.
type Reply struct {
	Text         string
	ToolCalls    []state.ToolCall
	Usage        *Usage
	FinishReason string
}

// QueryError reports a provider exchange that could not complete: a
// fatal classification or exhausted retries. Err carries the last
// underlying cause and Status the provider code where one was known.
type QueryError struct {
	Attempts int
	Status   string
	Err      error
}

func (e *QueryError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider query failed after %d attempt(s) (status %s): %v", e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("provider query failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Resilient drives a transport Client with sampling parameters and a
// retry schedule: exponential backoff from initialDelay, doubling to
// maxDelay, honoring a provider-supplied Retry-After when it is longer.
// Context cancellation aborts both requests and waits.
type Resilient struct {
	client       Client
	model        string
	temperature  float64
	topP         float64
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *log.Logger
}

// NewResilient wraps client with the default retry schedule.
func NewResilient(client Client, model string, temperature, topP float64, logger *log.Logger) *Resilient {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resilient{
		client:       client,
		model:        model,
		temperature:  temperature,
		topP:         topP,
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		logger:       logger,
	}
}

// Query sends the conversation and tool schema to the provider and
// returns the first choice. Retryable failures are retried with
// backoff; a fatal failure or exhausted schedule surfaces as a
// *QueryError. Cancellation errors pass through untouched.
func (r *Resilient) Query(ctx context.Context, messages []state.Message, tools []tooling.ToolDefinition) (Reply, error) {
	req := ChatRequest{
		Model:       r.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: r.temperature,
		TopP:        r.topP,
	}

	resp, attempts, err := r.chatWithRetry(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, err
		}
		qe := &QueryError{Attempts: attempts, Err: err}
		if pe, ok := IsProviderError(err); ok {
			qe.Status = pe.Code
		}
		return Reply{}, qe
	}

	if len(resp.Choices) == 0 {
		return Reply{}, &QueryError{Attempts: attempts, Err: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	return Reply{
		Text:         choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		Usage:        resp.Usage,
		FinishReason: choice.FinishReason,
	}, nil
}

// TestConnection issues a minimal single-attempt request to verify the
// provider is reachable with the configured credentials.
func (r *Resilient) TestConnection(ctx context.Context) error {
	req := ChatRequest{
		Model:    r.model,
		Messages: []state.Message{{Role: state.RoleUser, Content: "ping"}},
	}
	if _, err := r.client.Chat(ctx, req); err != nil {
		return fmt.Errorf("connection test: %w", err)
	}
	return nil
}

func (r *Resilient) chatWithRetry(ctx context.Context, req ChatRequest) (ChatResponse, int, error) {
	delay := r.initialDelay
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		attempts = attempt
		resp, err := r.client.Chat(ctx, req)
		if err == nil {
			return resp, attempts, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ChatResponse{}, attempts, context.Canceled
		}

		lastErr = err
		pe, isProvider := IsProviderError(err)
		if isProvider && !pe.Retryable {
			return ChatResponse{}, attempts, err
		}
		if attempt == r.maxAttempts {
			break
		}

		wait := delay
		if isProvider && pe.RetryAfter != nil && *pe.RetryAfter > wait {
			wait = *pe.RetryAfter
		}
		r.logger.Printf("provider attempt %d/%d failed (%v); retrying in %s", attempt, r.maxAttempts, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ChatResponse{}, attempts, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}

	return ChatResponse{}, attempts, lastErr
}
