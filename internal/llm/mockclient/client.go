// Package mockclient provides a deterministic llm.Client for offline
// runs and tests.
package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"shellpilot/internal/llm"
	"shellpilot/internal/state"
)

type step struct {
	resp llm.ChatResponse
	err  error
}

// Client replays scripted responses in order and falls back to echoing
// the last message once the script runs out. Every request is recorded
// so tests can inspect what the agent actually sent.
type Client struct {
	mu       sync.Mutex
	prefix   string
	script   []step
	requests []llm.ChatRequest
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Enqueue appends a scripted response.
func (c *Client) Enqueue(resp llm.ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step{resp: resp})
}

// EnqueueError appends a scripted failure.
func (c *Client) EnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step{err: err})
}

// EnqueueText appends a plain assistant reply.
func (c *Client) EnqueueText(content string) {
	c.Enqueue(llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Message:      state.Message{Role: state.RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
	})
}

// EnqueueToolCall appends an assistant reply requesting one tool call.
func (c *Client) EnqueueToolCall(id, name, arguments string) {
	c.Enqueue(llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Message: state.Message{
					Role: state.RoleAssistant,
					ToolCalls: []state.ToolCall{
						{
							ID:       id,
							Type:     "function",
							Function: state.FunctionCall{Name: name, Arguments: arguments},
						},
					},
				},
				FinishReason: "tool_calls",
			},
		},
	})
}

// Requests returns a copy of everything sent so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	if len(c.script) > 0 {
		next := c.script[0]
		c.script = c.script[1:]
		return next.resp, next.err
	}

	response := state.Message{
		Role: state.RoleAssistant,
	}

	if n := len(req.Messages); n > 0 {
		last := strings.TrimSpace(req.Messages[n-1].Content)
		if last == "" {
			response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
		} else {
			response.Content = fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
	} else {
		response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      response,
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}
