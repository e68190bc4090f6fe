// Package line implements the LINE Messaging API client: webhook signature
// verification plus push and reply message delivery.
//
// The client never retries on its own. Push delivery is not idempotent, and
// retrying here could double-send; the delivery queue owns the retry policy.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const defaultBaseURL = "https://api.line.me"

const defaultTimeout = 20 * time.Second

// maxTextLen is the LINE text message limit in characters.
const maxTextLen = 5000

// maxErrBodyLen caps the response body captured into error messages.
const maxErrBodyLen = 500

// Client talks to the LINE Messaging API for one channel.
type Client struct {
	baseURL       string
	channelSecret string
	channelToken  string
	httpClient    *http.Client
	log           *slog.Logger
}

// New creates a Client against the production LINE API.
// A non-positive timeout falls back to the default.
func New(channelSecret, channelToken string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithURL(defaultBaseURL, channelSecret, channelToken, timeout, logger)
}

// NewWithURL creates a Client with a custom base URL (for testing).
func NewWithURL(baseURL, channelSecret, channelToken string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:       baseURL,
		channelSecret: channelSecret,
		channelToken:  channelToken,
		httpClient:    &http.Client{Timeout: timeout},
		log:           logger.With("adapter", "line"),
	}
}

// VerifySignature checks the x-line-signature header against the raw webhook
// body: base64(HMAC-SHA256(channel secret, body)). A missing secret or
// signature never verifies.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c.channelSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// textMessage is the LINE message object for plain text.
type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Push sends a text message to one user.
func (c *Client) Push(ctx context.Context, to, text string) (*provider.PushResult, error) {
	payload := struct {
		To       string        `json:"to"`
		Messages []textMessage `json:"messages"`
	}{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: truncateText(text)}},
	}
	return c.postMessage(ctx, "/v2/bot/message/push", payload)
}

// Reply answers a webhook event using its single-use reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) (*provider.PushResult, error) {
	payload := struct {
		ReplyToken string        `json:"replyToken"`
		Messages   []textMessage `json:"messages"`
	}{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: truncateText(text)}},
	}
	return c.postMessage(ctx, "/v2/bot/message/reply", payload)
}

// postMessage POSTs one message payload and classifies the outcome. Non-2xx
// statuses come back as "http_{code}:{body}" errors so the delivery queue can
// store a useful failure reason.
func (c *Client) postMessage(ctx context.Context, path string, payload any) (*provider.PushResult, error) {
	if c.channelToken == "" {
		return nil, fmt.Errorf("line: channel access token missing")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("line: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("line: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "line request failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, fmt.Errorf("line: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
		c.log.WarnContext(ctx, "line rejected message",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("line: http_%d:%s", resp.StatusCode, snippet)
	}

	result := &provider.PushResult{}
	if reqID := resp.Header.Get("x-line-request-id"); reqID != "" {
		result.RequestID = &reqID
	}

	c.log.DebugContext(ctx, "line message accepted",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return result, nil
}

// truncateText cuts text to the platform limit, counting characters rather
// than bytes.
func truncateText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTextLen {
		return text
	}
	return string(runes[:maxTextLen])
}
