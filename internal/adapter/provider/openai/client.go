// Package openai implements an OpenAI-compatible chat completions client.
// Any endpoint speaking the same wire format works through the base URL, so
// swapping in a local model is a config change, not a code change.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

const defaultTimeout = 60 * time.Second

// defaultTemperature keeps answers close to the retrieved material.
const defaultTemperature = 0.2

// Client calls one chat-completions endpoint with one model.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Client against the OpenAI API.
// A non-positive timeout falls back to the default.
func New(apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithURL(defaultBaseURL, apiKey, model, timeout, logger)
}

// NewWithURL creates a Client with a custom base URL (for testing or
// OpenAI-compatible backends).
func NewWithURL(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.With("adapter", "openai"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete runs one system+user exchange and returns the model's text with
// token usage.
func (c *Client) Complete(ctx context.Context, system, user string) (*provider.ChatResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openai: api key missing")
	}

	reqBody := chatRequest{
		Model:       c.model,
		Temperature: defaultTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", strings.NewReader(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	// Replayable body for the retry.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(string(encoded))), nil
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		c.log.ErrorContext(ctx, "openai request failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode json: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		c.log.ErrorContext(ctx, "openai rejected request",
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg),
		)
		return nil, fmt.Errorf("openai: http %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	result := &provider.ChatResult{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
	}
	if result.Model == "" {
		result.Model = c.model
	}

	c.log.DebugContext(ctx, "openai completion",
		slog.String("model", result.Model),
		slog.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// doWithRetry executes the request with a single retry on 5xx or network
// errors. The request body is replayed through GetBody.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		if resp != nil {
			resp.Body.Close()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reason := "network error"
		if err == nil && resp != nil {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		c.log.WarnContext(ctx, "openai retry", slog.String("reason", reason))

		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		retryReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("replay request body: %w", bodyErr)
			}
			retryReq.Body = body
		}
		resp, err = c.httpClient.Do(retryReq)
	}

	return resp, err
}
