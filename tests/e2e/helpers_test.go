//go:build e2e

package e2e_test

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
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/agentrun"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/feeditem"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/pushmessage"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/quota"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/ragspace"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/source"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/testhelper"
	userrepo "github.com/heartmarshall/newsline-backend/internal/adapter/postgres/user"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/userquery"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/webhookevent"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/line"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/openai"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/retrieval"
	authpkg "github.com/heartmarshall/newsline-backend/internal/auth"
	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/answer"
	"github.com/heartmarshall/newsline-backend/internal/service/delivery"
	"github.com/heartmarshall/newsline-backend/internal/service/ingest"
	"github.com/heartmarshall/newsline-backend/internal/service/push"
	webhooksvc "github.com/heartmarshall/newsline-backend/internal/service/webhook"
	"github.com/heartmarshall/newsline-backend/internal/transport/middleware"
	"github.com/heartmarshall/newsline-backend/internal/transport/rest"
)

// e2eChannelSecret signs the webhook bodies the tests send, the same way the
// platform signs real callbacks.
const e2eChannelSecret = "e2e-channel-secret"

// ---------------------------------------------------------------------------
// Platform stubs: LINE Messaging API and the chat-completions endpoint run
// as local httptest servers so the full HTTP client code paths execute.
// ---------------------------------------------------------------------------

// stubMessage is one outbound message as the LINE stub saw it.
type stubMessage struct {
	To         string
	ReplyToken string
	Text       string
}

// lineStub records every push and reply and hands out request ids. FailPushes
// makes the next n push calls answer 500, for exercising the retry path.
type lineStub struct {
	mu         sync.Mutex
	pushes     []stubMessage
	replies    []stubMessage
	failPushes int
	srv        *httptest.Server
}

func newLineStub(t *testing.T) *lineStub {
	t.Helper()

	st := &lineStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/bot/message/push", st.handlePush)
	mux.HandleFunc("POST /v2/bot/message/reply", st.handleReply)
	st.srv = httptest.NewServer(mux)
	t.Cleanup(st.srv.Close)
	return st
}

func (s *lineStub) URL() string { return s.srv.URL }

func (s *lineStub) FailPushes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPushes = n
}

func (s *lineStub) Pushes() []stubMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stubMessage, len(s.pushes))
	copy(out, s.pushes)
	return out
}

func (s *lineStub) Replies() []stubMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stubMessage, len(s.replies))
	copy(out, s.replies)
	return out
}

type lineMessagePayload struct {
	To         string `json:"to"`
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

func (s *lineStub) handlePush(w http.ResponseWriter, r *http.Request) {
	var payload lineMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPushes > 0 {
		s.failPushes--
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"stub failure"}`))
		return
	}

	text := ""
	if len(payload.Messages) > 0 {
		text = payload.Messages[0].Text
	}
	s.pushes = append(s.pushes, stubMessage{To: payload.To, Text: text})

	w.Header().Set("x-line-request-id", fmt.Sprintf("req-%d", len(s.pushes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{}`))
}

func (s *lineStub) handleReply(w http.ResponseWriter, r *http.Request) {
	var payload lineMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	text := ""
	if len(payload.Messages) > 0 {
		text = payload.Messages[0].Text
	}
	s.replies = append(s.replies, stubMessage{ReplyToken: payload.ReplyToken, Text: text})

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{}`))
}

// llmStub fakes an OpenAI-compatible chat-completions endpoint with a
// settable response content.
type llmStub struct {
	mu      sync.Mutex
	content string
	calls   int
	srv     *httptest.Server
}

func newLLMStub(t *testing.T) *llmStub {
	t.Helper()

	st := &llmStub{content: "好的，我明白了。"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", st.handle)
	st.srv = httptest.NewServer(mux)
	t.Cleanup(st.srv.Close)
	return st
}

func (s *llmStub) URL() string { return s.srv.URL }

func (s *llmStub) SetContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
}

func (s *llmStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *llmStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls++
	content := s.content
	s.mu.Unlock()

	resp := map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     30,
			"completion_tokens": 12,
			"total_tokens":      42,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ---------------------------------------------------------------------------
// testServer wraps the full-stack HTTP server for E2E tests.
// ---------------------------------------------------------------------------

type testServer struct {
	URL    string
	Client *http.Client
	Pool   *pgxpool.Pool

	Line     *lineStub
	LLM      *llmStub
	Delivery *delivery.Service

	jwt *authpkg.JWTManager
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// setupTestServer bootstraps the full application stack backed by a real
// PostgreSQL container (shared via testhelper), with LINE and the LLM
// replaced by in-process stubs. The route layout matches the server binary.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	// 1. Get pool from testcontainers-backed helper.
	pool := testhelper.SetupTestDB(t)

	// 2. Infrastructure.
	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))
	txm := postgres.NewTxManager(pool)

	// 3. Repositories.
	sourceRepo := source.New(pool)
	itemRepo := feeditem.New(pool)
	eventRepo := webhookevent.New(pool)
	usersRepo := userrepo.New(pool, domain.DefaultDailyQuestionLimit)
	quotaRepo := quota.New(pool)
	queryRepo := userquery.New(pool)
	spaceRepo := ragspace.New(pool)
	runRepo := agentrun.New(pool)
	messageRepo := pushmessage.New(pool)

	// 4. Stubbed external providers.
	lineAPI := newLineStub(t)
	llmAPI := newLLMStub(t)

	lineClient := line.NewWithURL(lineAPI.URL(), e2eChannelSecret, "e2e-channel-token", 5*time.Second, logger)
	llmClient := openai.NewWithURL(llmAPI.URL(), "e2e-api-key", "gpt-4o-mini", 5*time.Second, logger)
	retriever := retrieval.NewStub()

	// 5. JWT manager with a test secret (>= 32 chars).
	jwtMgr := authpkg.NewJWTManager("test-secret-at-least-32-chars-long!!", "test-issuer", time.Hour)

	// 6. Services. Delivery runs with tight timings so the retry tests
	// finish fast.
	ingestService := ingest.NewService(logger, sourceRepo, itemRepo)

	answerService := answer.NewService(
		logger, usersRepo, quotaRepo, queryRepo, runRepo, spaceRepo,
		retriever, llmClient, "openai", "",
	)

	deliveryService := delivery.NewService(logger, messageRepo, lineClient, delivery.Config{
		BatchSize:    10,
		Workers:      2,
		PollInterval: 50 * time.Millisecond,
		SendTimeout:  2 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: 50 * time.Millisecond,
		ClaimTTL:     3 * time.Second,
	})

	pushService := push.NewService(
		logger, usersRepo, itemRepo, runRepo, messageRepo,
		deliveryService, llmClient, "openai", "",
	)

	webhookService := webhooksvc.NewService(logger, txm, eventRepo, usersRepo, answerService, lineClient)

	// 7. Handlers and middleware, laid out exactly like the server binary.
	webhookHandler := rest.NewWebhookHandler(webhookService, lineClient, logger)
	ingestHandler := rest.NewIngestHandler(ingestService, logger)
	agentsHandler := rest.NewAgentsHandler(answerService, pushService, logger)
	deliveryHandler := rest.NewDeliveryHandler(deliveryService, logger)
	healthHandler := rest.NewHealthHandler(pool, "test-version")

	limiter := middleware.NewRateLimiter(time.Minute)
	t.Cleanup(limiter.Stop)

	webhookChain := middleware.Chain(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		limiter.Limit(300),
	)
	apiChain := middleware.Chain(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.Auth(jwtMgr),
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", healthHandler.Live)
	mux.HandleFunc("GET /health/ready", healthHandler.Ready)
	mux.HandleFunc("GET /health", healthHandler.Health)

	mux.Handle("POST /webhook/line", webhookChain(http.HandlerFunc(webhookHandler.Callback)))

	mux.Handle("POST /v1/ingest/items", apiChain(http.HandlerFunc(ingestHandler.SubmitItem)))
	mux.Handle("POST /v1/sources", apiChain(http.HandlerFunc(ingestHandler.RegisterSource)))
	mux.Handle("GET /v1/sources", apiChain(http.HandlerFunc(ingestHandler.ListSources)))
	mux.Handle("PATCH /v1/sources/{id}", apiChain(http.HandlerFunc(ingestHandler.SetSourceEnabled)))
	mux.Handle("POST /v1/agents/answer", apiChain(http.HandlerFunc(agentsHandler.Ask)))
	mux.Handle("POST /v1/agents/push", apiChain(http.HandlerFunc(agentsHandler.Push)))
	mux.Handle("GET /v1/delivery/messages", apiChain(http.HandlerFunc(deliveryHandler.ListMessages)))
	mux.Handle("GET /v1/delivery/messages/{id}", apiChain(http.HandlerFunc(deliveryHandler.GetMessage)))
	mux.Handle("POST /v1/delivery/messages/{id}/requeue", apiChain(http.HandlerFunc(deliveryHandler.Requeue)))
	mux.Handle("GET /v1/delivery/stats", apiChain(http.HandlerFunc(deliveryHandler.Stats)))

	// 8. httptest server.
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{
		URL:      srv.URL,
		Client:   srv.Client(),
		Pool:     pool,
		Line:     lineAPI,
		LLM:      llmAPI,
		Delivery: deliveryService,
		jwt:      jwtMgr,
	}
}

// ---------------------------------------------------------------------------
// Request helpers.
// ---------------------------------------------------------------------------

// serviceToken mints a bearer token for the /v1 API.
func (ts *testServer) serviceToken(t *testing.T, service string) string {
	t.Helper()

	token, err := ts.jwt.GenerateServiceToken(service)
	require.NoError(t, err)
	return token
}

// doJSON sends one request with an optional JSON payload and bearer token,
// returning the status code and decoded body.
func (ts *testServer) doJSON(t *testing.T, method, path, token string, payload any) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &result), "undecodable body: %s", raw)
	}
	return resp.StatusCode, result
}

func (ts *testServer) postJSON(t *testing.T, path, token string, payload any) (int, map[string]any) {
	t.Helper()
	return ts.doJSON(t, http.MethodPost, path, token, payload)
}

func (ts *testServer) getJSON(t *testing.T, path, token string) (int, map[string]any) {
	t.Helper()
	return ts.doJSON(t, http.MethodGet, path, token, nil)
}

// postWebhook sends a callback body signed the way the platform signs it.
func (ts *testServer) postWebhook(t *testing.T, body []byte) (int, map[string]any) {
	t.Helper()
	return ts.postWebhookSigned(t, body, lineSignature(e2eChannelSecret, body))
}

// postWebhookSigned sends a callback body with an explicit signature value.
func (ts *testServer) postWebhookSigned(t *testing.T, body []byte, signature string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhook/line", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", signature)

	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &result), "undecodable body: %s", raw)
	}
	return resp.StatusCode, result
}

// lineSignature computes base64(HMAC-SHA256(secret, body)).
func lineSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ---------------------------------------------------------------------------
// Webhook event builders.
// ---------------------------------------------------------------------------

func webhookBody(t *testing.T, events ...map[string]any) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"destination": "U-bot-destination",
		"events":      events,
	})
	require.NoError(t, err)
	return body
}

func followEvent(eventID, userID, replyToken string) map[string]any {
	return map[string]any{
		"type":           "follow",
		"webhookEventId": eventID,
		"replyToken":     replyToken,
		"source":         map[string]any{"type": "user", "userId": userID},
	}
}

func unfollowEvent(eventID, userID string) map[string]any {
	return map[string]any{
		"type":           "unfollow",
		"webhookEventId": eventID,
		"source":         map[string]any{"type": "user", "userId": userID},
	}
}

func messageEvent(eventID, userID, replyToken, text string) map[string]any {
	ev := map[string]any{
		"type":       "message",
		"replyToken": replyToken,
		"source":     map[string]any{"type": "user", "userId": userID},
		"message":    map[string]any{"type": "text", "text": text},
	}
	if eventID != "" {
		ev["webhookEventId"] = eventID
	}
	return ev
}

// ---------------------------------------------------------------------------
// DB assertion helpers.
// ---------------------------------------------------------------------------

// countRows runs a COUNT query against the test database.
func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()

	var n int
	err := pool.QueryRow(context.Background(), query, args...).Scan(&n)
	require.NoError(t, err)
	return n
}
