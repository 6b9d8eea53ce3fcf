package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/api/apitest"
	"github.com/nhle/chatsync/internal/model"
)

func TestClient_SessionLifecycle(t *testing.T) {
	srv := apitest.New(t)
	c := api.NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	personas, err := c.ListPersonas(ctx)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "p1", personas[0].ID)

	sessionID, err := c.CreateSession(ctx, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	reply, err := c.SendChat(ctx, sessionID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply.Assistant)
	assert.Equal(t, model.VerdictPass, reply.Judge.Kind)
	assert.NotEmpty(t, reply.AssistantMessageID)
	assert.False(t, reply.CreatedAlerts())

	msgs, err := c.GetSessionMessages(ctx, sessionID, 50)
	require.NoError(t, err)
	assert.Equal(t, sessionID, msgs.Session.ID)
	assert.Equal(t, "p1", msgs.Session.PersonaID)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, model.RoleUser, msgs.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs.Messages[1].Role)

	summary, err := c.GetSessionSummary(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, summary)

	srv.SetSummary(sessionID, "talked about greetings")
	summary, err = c.GetSessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "talked about greetings", summary.Text)
}

func TestClient_TypedErrors(t *testing.T) {
	srv := apitest.New(t)
	c := api.NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.CreateSession(ctx, "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, api.StatusOf(err))

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid persona_id", apiErr.Detail)
	assert.Equal(t, "/sessions", apiErr.Path)

	_, err = c.GetSessionMessages(ctx, "missing", 10)
	assert.True(t, api.IsNotFound(err))

	srv.Fail(apitest.RouteDueAlerts, http.StatusInternalServerError, "boom")
	alerts, err := c.ListDueAlerts(ctx, "s1", 10)
	require.Error(t, err)
	assert.Nil(t, alerts, "a failed call must not look like an empty result")
	assert.Equal(t, http.StatusInternalServerError, api.StatusOf(err))
}

func TestClient_SendChatValidatesLength(t *testing.T) {
	c := api.NewClient("http://127.0.0.1:0")
	ctx := context.Background()

	_, err := c.SendChat(ctx, "s1", "")
	assert.ErrorIs(t, err, api.ErrInvalidMessage)

	_, err = c.SendChat(ctx, "s1", strings.Repeat("x", api.MaxMessageLength+1))
	assert.ErrorIs(t, err, api.ErrInvalidMessage)
}

func TestClient_Alerts(t *testing.T) {
	srv := apitest.New(t)
	c := api.NewClient(srv.URL)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	srv.AddAlert(model.Alert{ID: "a1", SessionID: "s1", Title: "Stretch", DueAt: &past})
	srv.AddAlert(model.Alert{ID: "a2", SessionID: "s1", Title: "Call mom", DueAt: &future})
	srv.AddAlert(model.Alert{ID: "a3", SessionID: "s2", Title: "Other", DueAt: &past})

	due, err := c.ListDueAlerts(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a1", due[0].ID)
	require.NotNil(t, due[0].DueAt)

	active, err := c.ListAlerts(ctx, api.AlertFilter{
		Scope:     model.AlertScopeSession,
		SessionID: "s1",
		Status:    model.AlertStatusActive,
	})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, c.UpdateAlert(ctx, "a1", model.AlertStatusDone))
	a, ok := srv.Alert("a1")
	require.True(t, ok)
	assert.Equal(t, model.AlertStatusDone, a.Status)

	err = c.UpdateAlert(ctx, "missing", model.AlertStatusCancelled)
	assert.True(t, api.IsNotFound(err))

	err = c.UpdateAlert(ctx, "a2", model.AlertStatusActive)
	assert.Error(t, err)

	_, err = c.ListAlerts(ctx, api.AlertFilter{Scope: model.AlertScopeSession})
	assert.Error(t, err)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p1","name":"Coach"}]`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, api.WithToken("secret"), api.WithMaxRetries(2))
	personas, err := c.ListPersonas(context.Background())
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, api.WithMaxRetries(0))
	_, err := c.ListPersonas(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, api.StatusOf(err))
}

func TestClient_RateLimitRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, api.WithMaxRetries(2))
	_, err := c.ListPersonas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Equal(t, http.StatusTooManyRequests, api.StatusOf(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_TimeoutLeavesCallerClientUntouched(t *testing.T) {
	srv := apitest.New(t)
	shared := &http.Client{Timeout: time.Minute}

	c := api.NewClient(srv.URL, api.WithHTTPClient(shared), api.WithTimeout(5*time.Second))
	_, err := c.ListPersonas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, shared.Timeout)
}

func TestAlert_DecodesLooseTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"a1","title":"t","status":"active","due_at":"2025-01-02T03:04:05.123456Z","created_at":"2025-01-01T00:00:00Z"},
			{"id":"a2","title":"t","status":"active","due_at":"tomorrow-ish"},
			{"id":"a3","title":"t","status":"active","due_at":null}
		]`))
	}))
	defer srv.Close()

	alerts, err := api.NewClient(srv.URL).ListDueAlerts(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	require.NotNil(t, alerts[0].DueAt)
	assert.Equal(t, 2025, alerts[0].DueAt.Year())
	assert.Nil(t, alerts[1].DueAt)
	assert.Nil(t, alerts[2].DueAt)
	assert.Equal(t, model.AlertPriorityMedium, alerts[0].EffectivePriority())
}
