// Package openrouter talks to the OpenRouter chat completions API and
// maps its failures onto llm.ProviderError so the retry layer can tell
// transient trouble from fatal misconfiguration.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shellpilot/internal/llm"
	"shellpilot/internal/logging"
)

// Client is a minimal HTTP wrapper around the OpenRouter chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// NewClient wires together the dependencies for API access.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	trimmed := strings.TrimRight(baseURL, "/")
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    trimmed,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Chat executes a single completion request.
func (c *Client) Chat(ctx context.Context, reqPayload llm.ChatRequest) (llm.ChatResponse, error) {
	var respPayload llm.ChatResponse

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return respPayload, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return respPayload, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/shellpilot/shellpilot")
	req.Header.Set("X-Title", "Shellpilot")

	c.logger.Printf("sending %d messages to model %s", len(reqPayload.Messages), reqPayload.Model)
	logging.DevLog("openrouter: sending request to %s with %d messages", reqPayload.Model, len(reqPayload.Messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return respPayload, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return respPayload, llm.NewProviderError("openrouter", llm.ErrorTypeConnection, "", fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode >= 300 {
		logging.ErrorLog("openrouter API error: %d - %s", resp.StatusCode, string(body))
		return respPayload, classifyStatus(resp, body)
	}

	if err := json.Unmarshal(body, &respPayload); err != nil {
		logging.ErrorLog("openrouter response parse error: %v", err)
		return respPayload, fmt.Errorf("parse response: %w", err)
	}
	logging.DevLog("openrouter: received response with %d choices", len(respPayload.Choices))
	return respPayload, nil
}

// classifyTransport turns connection-level failures into typed errors.
// Cancellation is passed through untouched so callers see the caller's
// own context error, not a provider failure.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewProviderError("openrouter", llm.ErrorTypeTimeout, "", "request timed out")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return llm.NewProviderError("openrouter", llm.ErrorTypeTimeout, "", err.Error())
	}
	return llm.NewProviderError("openrouter", llm.ErrorTypeConnection, "", err.Error())
}

// classifyStatus maps an HTTP error status onto the provider error
// taxonomy. 429 responses carry the Retry-After header forward when the
// server sent one.
func classifyStatus(resp *http.Response, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if msg := parseErrorMessage(body); msg != "" {
		detail = msg
	}

	var errType llm.ErrorType
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		errType = llm.ErrorTypeAuth
	case resp.StatusCode == http.StatusPaymentRequired:
		errType = llm.ErrorTypeInsufficientCredit
	case resp.StatusCode == http.StatusForbidden:
		errType = llm.ErrorTypeModeration
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = llm.ErrorTypeRateLimit
	case resp.StatusCode >= 500:
		errType = llm.ErrorTypeProviderDown
	case resp.StatusCode >= 400:
		errType = llm.ErrorTypeBadRequest
	default:
		errType = llm.ErrorTypeUnknown
	}

	pe := llm.NewProviderError("openrouter", errType, strconv.Itoa(resp.StatusCode), detail)
	if errType == llm.ErrorTypeRateLimit {
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			pe.RetryAfter = &wait
		}
	}
	return pe
}

// parseErrorMessage pulls the human-readable message out of OpenRouter's
// error envelope, falling back to empty when the body is not that shape.
func parseErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Error.Message)
}

// parseRetryAfter understands the delay-seconds form of the header.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
