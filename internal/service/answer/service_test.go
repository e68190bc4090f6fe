package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

// ---------------------------------------------------------------------------
// Manual mocks (moq-style with func fields)
// ---------------------------------------------------------------------------

type mockUserRepo struct {
	GetOrCreateFunc func(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error)
}

func (m *mockUserRepo) GetOrCreate(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error) {
	return m.GetOrCreateFunc(ctx, lineUserID, displayName, preferredLang)
}

type mockQuotaRepo struct {
	ConsumeFunc func(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error)
}

func (m *mockQuotaRepo) Consume(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error) {
	return m.ConsumeFunc(ctx, userID, day, limit)
}

type mockQueryRepo struct {
	InsertFunc func(ctx context.Context, q *domain.UserQuery) (int64, error)
}

func (m *mockQueryRepo) Insert(ctx context.Context, q *domain.UserQuery) (int64, error) {
	return m.InsertFunc(ctx, q)
}

type mockRunRepo struct {
	InsertFunc func(ctx context.Context, run *domain.AgentRun) (int64, error)
}

func (m *mockRunRepo) Insert(ctx context.Context, run *domain.AgentRun) (int64, error) {
	return m.InsertFunc(ctx, run)
}

type mockSpaceRepo struct {
	GetByKeyFunc func(ctx context.Context, spaceKey string) (*domain.RagSpace, error)
}

func (m *mockSpaceRepo) GetByKey(ctx context.Context, spaceKey string) (*domain.RagSpace, error) {
	return m.GetByKeyFunc(ctx, spaceKey)
}

type mockRetriever struct {
	RetrieveFunc func(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error) {
	return m.RetrieveFunc(ctx, spaceKey, question)
}

type mockLLM struct {
	CompleteFunc func(ctx context.Context, system, user string) (*provider.ChatResult, error)
	model        string
}

func (m *mockLLM) Complete(ctx context.Context, system, user string) (*provider.ChatResult, error) {
	return m.CompleteFunc(ctx, system, user)
}

func (m *mockLLM) Model() string { return m.model }

type serviceMocks struct {
	users     *mockUserRepo
	quota     *mockQuotaRepo
	queries   *mockQueryRepo
	runs      *mockRunRepo
	spaces    *mockSpaceRepo
	retriever *mockRetriever
	llm       *mockLLM
}

func newTestService() (*Service, *serviceMocks) {
	m := &serviceMocks{
		users: &mockUserRepo{
			GetOrCreateFunc: func(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error) {
				return &domain.User{
					ID:                 1,
					LineUserID:         lineUserID,
					Timezone:           "UTC",
					IsActive:           true,
					DailyQuestionLimit: 5,
				}, nil
			},
		},
		quota: &mockQuotaRepo{
			ConsumeFunc: func(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error) {
				return domain.QuotaResult{Allowed: true, Used: 1, Limit: limit}, nil
			},
		},
		queries: &mockQueryRepo{
			InsertFunc: func(ctx context.Context, q *domain.UserQuery) (int64, error) { return 11, nil },
		},
		runs: &mockRunRepo{
			InsertFunc: func(ctx context.Context, run *domain.AgentRun) (int64, error) { return 21, nil },
		},
		spaces: &mockSpaceRepo{
			GetByKeyFunc: func(ctx context.Context, spaceKey string) (*domain.RagSpace, error) {
				return nil, domain.ErrNotFound
			},
		},
		retriever: &mockRetriever{
			RetrieveFunc: func(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error) {
				return []provider.RetrievalRef{{"source": "stub", "space_key": spaceKey}}, nil
			},
		},
		llm: &mockLLM{
			model: "gpt-4o-mini",
			CompleteFunc: func(ctx context.Context, system, user string) (*provider.ChatResult, error) {
				return &provider.ChatResult{
					Text:         "台北今天有雨。",
					Model:        "gpt-4o-mini",
					InputTokens:  10,
					OutputTokens: 5,
					TotalTokens:  15,
				}, nil
			},
		},
	}

	svc := NewService(newTestLogger(), m.users, m.quota, m.queries, m.runs,
		m.spaces, m.retriever, m.llm, "openai", "")
	return svc, m
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptrString(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Ask
// ---------------------------------------------------------------------------

func TestService_Ask_Answered(t *testing.T) {
	svc, m := newTestService()

	var gotQuery *domain.UserQuery
	m.queries.InsertFunc = func(ctx context.Context, q *domain.UserQuery) (int64, error) {
		gotQuery = q
		return 11, nil
	}
	var gotRun *domain.AgentRun
	m.runs.InsertFunc = func(ctx context.Context, run *domain.AgentRun) (int64, error) {
		gotRun = run
		return 21, nil
	}
	var gotPrompt string
	complete := m.llm.CompleteFunc
	m.llm.CompleteFunc = func(ctx context.Context, system, user string) (*provider.ChatResult, error) {
		gotPrompt = user
		assert.Contains(t, system, "Lorekeeper")
		return complete(ctx, system, user)
	}

	got, err := svc.Ask(context.Background(), AskInput{
		LineUserID: "U123",
		Question:   "  台北天氣如何？  ",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusAnswered, got.Status)
	assert.Equal(t, int64(11), got.QueryID)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "台北今天有雨。", *got.Answer)
	assert.Nil(t, got.RejectedReason)
	assert.Equal(t, 4, got.Usage.Remaining())

	require.NotNil(t, gotQuery)
	assert.Equal(t, "台北天氣如何？", gotQuery.QuestionText)
	assert.Equal(t, domain.QueryStatusAnswered, gotQuery.Status)
	assert.Equal(t, "stub", gotQuery.RAGProvider)
	assert.Equal(t, "default", gotQuery.RAGSpaceKey)
	assert.Contains(t, string(gotQuery.RAGRefs), `"source":"stub"`)
	require.NotNil(t, gotQuery.AnsweredAt)

	require.NotNil(t, gotRun)
	assert.Equal(t, domain.AgentAnswer, gotRun.Agent)
	assert.Equal(t, domain.RunStatusDone, gotRun.Status)
	assert.Equal(t, "openai", gotRun.Provider)
	assert.Equal(t, "gpt-4o-mini", gotRun.Model)
	assert.Equal(t, "lorekeeper-v1", gotRun.PromptVersion)
	assert.Equal(t, 15, gotRun.TotalTokens)
	require.NotNil(t, gotRun.LatencyMS)
	assert.Equal(t, 1, gotRun.Meta["rag_refs_count"])

	assert.Contains(t, gotPrompt, "question:\n台北天氣如何？")
	assert.Contains(t, gotPrompt, "rag_refs:\n")
}

func TestService_Ask_QuotaDenied(t *testing.T) {
	svc, m := newTestService()

	m.quota.ConsumeFunc = func(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error) {
		return domain.QuotaResult{Allowed: false, Used: 5, Limit: 5}, nil
	}
	var gotQuery *domain.UserQuery
	m.queries.InsertFunc = func(ctx context.Context, q *domain.UserQuery) (int64, error) {
		gotQuery = q
		return 12, nil
	}
	m.runs.InsertFunc = func(ctx context.Context, run *domain.AgentRun) (int64, error) {
		t.Fatal("rejected questions must not record a run")
		return 0, nil
	}
	m.llm.CompleteFunc = func(ctx context.Context, system, user string) (*provider.ChatResult, error) {
		t.Fatal("rejected questions must not call the LLM")
		return nil, nil
	}

	got, err := svc.Ask(context.Background(), AskInput{LineUserID: "U123", Question: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusRejected, got.Status)
	assert.Nil(t, got.Answer)
	require.NotNil(t, got.RejectedReason)
	assert.Equal(t, "你今日提問次數已達上限（5次）。", *got.RejectedReason)
	assert.Equal(t, 0, got.Usage.Remaining())

	require.NotNil(t, gotQuery)
	assert.Equal(t, domain.QueryStatusRejected, gotQuery.Status)
	require.NotNil(t, gotQuery.RejectedReason)
	assert.Equal(t, domain.RejectReasonDailyLimit, *gotQuery.RejectedReason)
}

func TestService_Ask_LLMFailure(t *testing.T) {
	svc, m := newTestService()

	m.llm.CompleteFunc = func(ctx context.Context, system, user string) (*provider.ChatResult, error) {
		return nil, errors.New("openai: http 429: rate limited")
	}
	var gotQuery *domain.UserQuery
	m.queries.InsertFunc = func(ctx context.Context, q *domain.UserQuery) (int64, error) {
		gotQuery = q
		return 13, nil
	}
	var gotRun *domain.AgentRun
	m.runs.InsertFunc = func(ctx context.Context, run *domain.AgentRun) (int64, error) {
		gotRun = run
		return 22, nil
	}

	got, err := svc.Ask(context.Background(), AskInput{LineUserID: "U123", Question: "hi"})

	require.NoError(t, err, "LLM failures map to a FAILED outcome, not an error")
	assert.Equal(t, domain.QueryStatusFailed, got.Status)
	require.NotNil(t, got.RejectedReason)
	assert.Equal(t, overloadedText, *got.RejectedReason)

	require.NotNil(t, gotQuery)
	assert.Equal(t, domain.QueryStatusFailed, gotQuery.Status)
	require.NotNil(t, gotQuery.RejectedReason)
	assert.Contains(t, *gotQuery.RejectedReason, "rate limited")

	require.NotNil(t, gotRun)
	assert.Equal(t, domain.RunStatusFailed, gotRun.Status)
	require.NotNil(t, gotRun.ErrorMessage)
	assert.Contains(t, *gotRun.ErrorMessage, "rate limited")
	assert.Nil(t, gotRun.LatencyMS)
}

func TestService_Ask_EmptyAnswerFallback(t *testing.T) {
	svc, m := newTestService()

	m.llm.CompleteFunc = func(ctx context.Context, system, user string) (*provider.ChatResult, error) {
		return &provider.ChatResult{Text: "   "}, nil
	}

	got, err := svc.Ask(context.Background(), AskInput{LineUserID: "U123", Question: "hi"})

	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.Equal(t, emptyAnswerText, *got.Answer)
}

func TestService_Ask_RunInsertFailurePropagates(t *testing.T) {
	svc, m := newTestService()

	m.runs.InsertFunc = func(ctx context.Context, run *domain.AgentRun) (int64, error) {
		return 0, errors.New("disk full")
	}

	_, err := svc.Ask(context.Background(), AskInput{LineUserID: "U123", Question: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record agent run")
}

func TestService_Ask_QueryInsertFailurePropagates(t *testing.T) {
	svc, m := newTestService()

	m.queries.InsertFunc = func(ctx context.Context, q *domain.UserQuery) (int64, error) {
		return 0, errors.New("connection reset")
	}

	_, err := svc.Ask(context.Background(), AskInput{LineUserID: "U123", Question: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record query")
}

func TestService_Ask_ConfiguredSpaceUsed(t *testing.T) {
	svc, m := newTestService()

	ns := "news_graph"
	m.spaces.GetByKeyFunc = func(ctx context.Context, spaceKey string) (*domain.RagSpace, error) {
		return &domain.RagSpace{
			SpaceKey:       spaceKey,
			Backend:        "qdrant",
			Mode:           "vector",
			IsGraphEnabled: true,
			GraphNamespace: &ns,
		}, nil
	}
	var gotQuery *domain.UserQuery
	m.queries.InsertFunc = func(ctx context.Context, q *domain.UserQuery) (int64, error) {
		gotQuery = q
		return 14, nil
	}
	var retrievedKey string
	m.retriever.RetrieveFunc = func(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error) {
		retrievedKey = spaceKey
		return nil, nil
	}

	_, err := svc.Ask(context.Background(), AskInput{
		LineUserID:  "U123",
		Question:    "hi",
		RagSpaceKey: "news",
	})

	require.NoError(t, err)
	assert.Equal(t, "news", retrievedKey)
	require.NotNil(t, gotQuery)
	assert.Equal(t, "qdrant", gotQuery.RAGProvider)
	assert.Equal(t, "news", gotQuery.RAGSpaceKey)
	assert.Equal(t, "vector", gotQuery.RAGMode)
}

func TestService_Ask_DisplayNameTrimmed(t *testing.T) {
	svc, m := newTestService()

	var gotName *string
	users := m.users.GetOrCreateFunc
	m.users.GetOrCreateFunc = func(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error) {
		gotName = displayName
		return users(ctx, lineUserID, displayName, preferredLang)
	}

	_, err := svc.Ask(context.Background(), AskInput{
		LineUserID:  "U123",
		Question:    "hi",
		DisplayName: ptrString("  Ada  "),
	})

	require.NoError(t, err)
	require.NotNil(t, gotName)
	assert.Equal(t, "Ada", *gotName)
}

func TestService_Ask_Validation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Ask(context.Background(), AskInput{LineUserID: " ", Question: ""})

	require.Error(t, err)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Errors, 2)

	_, err = svc.Ask(context.Background(), AskInput{
		LineUserID: "U123",
		Question:   strings.Repeat("問", maxQuestionLen+1),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ---------------------------------------------------------------------------
// Quota day resolution
// ---------------------------------------------------------------------------

func TestQuotaDay(t *testing.T) {
	// 18:00 UTC on Aug 20 is already Aug 21 in Taipei (UTC+8).
	now := time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tz   string
		want time.Time
	}{
		{name: "taipei rolls over", tz: "Asia/Taipei", want: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)},
		{name: "utc", tz: "UTC", want: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)},
		{name: "empty falls back to utc", tz: "", want: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)},
		{name: "unknown falls back to utc", tz: "Mars/Olympus", want: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quotaDay(now, tt.tz))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "問題", truncate("問題很長", 2), "truncation counts runes, not bytes")
}
