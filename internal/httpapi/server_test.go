package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/tutord/internal/archive"
	"github.com/antoniostano/tutord/internal/config"
	"github.com/antoniostano/tutord/internal/llm"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/prompt"
	"github.com/antoniostano/tutord/internal/protocol"
	"github.com/antoniostano/tutord/internal/quota"
	"github.com/antoniostano/tutord/internal/session"
)

type testEnv struct {
	ts       *httptest.Server
	provider *llm.MockProvider
	archives *archive.InMemoryStore
	metrics  *observability.Metrics
	gate     *quota.Gate
}

func newTestEnv(t *testing.T, maxSessions int, opts ...session.Option) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsWith("test_httpapi", prometheus.NewRegistry())
	provider := llm.NewMockProvider()
	archives := archive.NewInMemoryStore()
	gate := quota.NewGate(quota.NewInMemoryStore(), quota.GateOptions{
		DefaultMaxSessions: maxSessions,
		AutoProvision:      true,
		Logger:             logger,
		Metrics:            metrics,
	})
	t.Cleanup(gate.Close)

	llmOpts := llm.Options{Model: "mock-tutor", Logger: logger, Metrics: metrics}
	manager, err := session.NewManager(session.NewMemoryStore(time.Hour), session.Deps{
		Prompts:    prompt.NewBuilder(),
		Completer:  llm.NewCompleter(provider, llmOpts),
		Summarizer: llm.NewSummarizer(provider, llmOpts),
		Quota:      gate,
		Archive:    archive.NewSink(archives, logger),
	}, append([]session.Option{session.WithLogger(logger), session.WithMetrics(metrics)}, opts...)...)
	require.NoError(t, err)

	srv := New(config.Config{}, manager, archives, metrics, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, provider: provider, archives: archives, metrics: metrics, gate: gate}
}

func (e *testEnv) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	res, err := http.Post(e.ts.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer res.Body.Close()
	return res.StatusCode, decodeBody(t, res)
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	res, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	return res.StatusCode, decodeBody(t, res)
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (e *testEnv) startSession(t *testing.T, userID string) string {
	t.Helper()
	status, body := e.post(t, "/v1/tutor/sessions", map[string]any{
		"user_id":     userID,
		"personality": "marie_curie",
		"subject":     "chemistry",
	})
	require.Equal(t, http.StatusCreated, status, body)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.startSession(t, "u1")

	status, body := env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "What is a mole?"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Good question! You asked: What is a mole?", body["ai_response"])
	assert.Equal(t, true, body["session_active"])
	assert.EqualValues(t, 2, body["message_count"])

	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["summary"])
	assert.EqualValues(t, 2, body["total_messages"])

	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/end", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_ended", body["code"])

	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "hello?"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
	assert.Equal(t, false, body["retryable"])

	status, body = env.get(t, "/v1/tutor/users/u1/sessions")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sessions retrieved successfully", body["message"])
	sessions, _ := body["sessions"].([]any)
	require.Len(t, sessions, 1)

	status, body = env.get(t, "/v1/tutor/users/u1/sessions/"+id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["session_id"])
	assert.NotContains(t, body, "messages")

	status, body = env.get(t, "/v1/tutor/users/u1/analytics")
	require.Equal(t, http.StatusOK, status)
	analytics, _ := body["analytics"].(map[string]any)
	assert.EqualValues(t, 1, analytics["total_sessions"])

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/v1/tutor/sessions", "201")))
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv(t, 5)

	status, body := env.post(t, "/v1/tutor/sessions", map[string]any{"personality": "marie_curie"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	postRaw := func(raw string) (int, map[string]any) {
		res, err := http.Post(env.ts.URL+"/v1/tutor/sessions", "application/json", strings.NewReader(raw))
		require.NoError(t, err)
		defer res.Body.Close()
		return res.StatusCode, decodeBody(t, res)
	}

	status, body = postRaw("")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "no JSON data provided", body["error"])

	status, body = postRaw("{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	status, body = postRaw(`{"user_id": "u1"`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])
	assert.NotEqual(t, "no JSON data provided", body["error"])
}

func TestStartSessionPreviewAndDefaults(t *testing.T) {
	env := newTestEnv(t, 5)
	status, body := env.post(t, "/v1/tutor/sessions", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusCreated, status)
	preview, _ := body["system_prompt"].(string)
	assert.True(t, strings.HasPrefix(preview, "You are an AI tutor with the personality of Albert Einstein."))
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.LessOrEqual(t, len([]rune(preview)), session.DefaultPromptPreview+3)
}

func TestStartSessionQuotaDenied(t *testing.T) {
	env := newTestEnv(t, 1)
	env.startSession(t, "u1")

	status, body := env.post(t, "/v1/tutor/sessions", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "quota_denied", body["code"])
	assert.Equal(t, false, body["retryable"])

	// Quota is per user.
	env.startSession(t, "u2")
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.startSession(t, "u1")

	status, body := env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	status, _ = env.post(t, "/v1/tutor/sessions/missing/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, status)

	env.provider.FailNext(&llm.ProviderError{Provider: "mock", Status: http.StatusServiceUnavailable, Body: "overloaded"})
	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream_failed", body["code"])
	assert.Equal(t, true, body["retryable"])

	env.provider.FailNext(&llm.ProviderError{Provider: "mock", Status: http.StatusBadRequest, Body: "bad request"})
	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, false, body["retryable"])

	// Failed exchanges do not count.
	status, body = env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["message_count"])
}

func TestAutoTerminationOverHTTP(t *testing.T) {
	env := newTestEnv(t, 5, session.WithLimits(4, 20))
	id := env.startSession(t, "u1")

	_, body := env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "one"})
	assert.Equal(t, true, body["session_active"])
	_, body = env.post(t, "/v1/tutor/sessions/"+id+"/messages", map[string]string{"message": "two"})
	assert.Equal(t, false, body["session_active"])
	assert.EqualValues(t, 4, body["message_count"])

	rec, err := env.archives.Get(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Length)
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, 5)

	status, body := env.get(t, "/v1/tutor/users/nobody/sessions")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "No sessions found", body["message"])
	assert.Empty(t, body["sessions"])

	status, _ = env.get(t, "/v1/tutor/users/nobody/sessions?limit=zero")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.get(t, "/v1/tutor/users/nobody/sessions/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	status, body = env.get(t, "/v1/tutor/users/nobody/analytics")
	require.Equal(t, http.StatusOK, status)
	analytics, _ := body["analytics"].(map[string]any)
	assert.EqualValues(t, 0, analytics["total_sessions"])
	assert.Nil(t, analytics["last_session_date"])
}

func TestHealthAndCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t, 5)

	status, body := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory", body["session_store"])

	status, body = env.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	status, body = env.get(t, "/v1/tutor/cache-health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "memory", body["mode"])

	status, body = env.get(t, "/v1/tutor/personalities")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.DefaultPersonality, body["default"])
	list, _ := body["personalities"].([]any)
	assert.Len(t, list, len(prompt.Personalities()))

	env.startSession(t, "u1")
	status, body = env.get(t, "/v1/perf/latency")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["stages"])
}

func TestMetricsServesInjectedRegistry(t *testing.T) {
	env := newTestEnv(t, 5)
	env.startSession(t, "u1")

	res, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "test_httpapi_active_sessions 1")
	assert.Contains(t, string(raw), "test_httpapi_session_events_total")
}

type downSessions struct{ Sessions }

func (downSessions) Ping(context.Context) (time.Duration, error) {
	return 0, errors.New("dial tcp: connection refused")
}

func (downSessions) StoreMode() string { return "redis" }

func TestHealthReportsUnreachableStore(t *testing.T) {
	srv := New(config.Config{}, downSessions{}, nil, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, err = http.Get(ts.URL + "/v1/tutor/cache-health")
	require.NoError(t, err)
	body := decodeBody(t, res)
	res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])

	res, err = http.Get(ts.URL + "/v1/tutor/users/u1/sessions")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func dialSession(t *testing.T, env *testEnv, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/tutor/sessions/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestSessionWebsocketExchange(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.startSession(t, "u1")
	conn := dialSession(t, env, id)

	require.NoError(t, conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "Why is the sky blue?"}))
	frame := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeAssistantMessage), frame["type"])
	assert.Equal(t, "Good question! You asked: Why is the sky blue?", frame["text"])
	assert.EqualValues(t, 2, frame["message_count"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user_message","text":""}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeErrorEvent), frame["type"])
	assert.Equal(t, "invalid_client_message", frame["code"])

	require.NoError(t, conn.WriteJSON(protocol.EndSession{Type: protocol.TypeEndSession}))
	frame = readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeSessionEnded), frame["type"])
	assert.Equal(t, "ended", frame["reason"])
	assert.NotEmpty(t, frame["summary"])

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)

	_, err = env.archives.Get(context.Background(), "u1", id)
	assert.NoError(t, err)
}

func TestSessionWebsocketRejectsUnknownSession(t *testing.T) {
	env := newTestEnv(t, 5)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/tutor/sessions/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
