package httpadapter_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/PabloGalante/aris-agent/internal/adapters/http"
	"github.com/PabloGalante/aris-agent/internal/adapters/llm"
	"github.com/PabloGalante/aris-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/aris-agent/internal/app/conversation"
	"github.com/PabloGalante/aris-agent/internal/app/pipeline"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type brokenSafety struct {
	*llm.MockLLM
}

func (brokenSafety) AnalyzeCrisis(ctx context.Context, in domain.CrisisInput) (domain.CrisisOutput, error) {
	return domain.CrisisOutput{}, &domain.AdapterError{
		Capability: domain.CapabilityCrisis,
		Kind:       domain.AdapterUpstream,
		Err:        errors.New("quota exceeded"),
	}
}

func newTestServer(t *testing.T, lang domain.LanguageService) http.Handler {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	svc := conversation.NewService(
		pipeline.NewDefaultOrchestrator(lang, metrics),
		memory.NewSessionStore(),
		memory.NewMessageStore(),
		nil,
		conversation.DefaultOptions(),
	)
	return httpadapter.NewServer(svc, reg)
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, h http.Handler, user string) string {
	t.Helper()

	w := do(t, h, http.MethodPost, "/sessions", user, map[string]string{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Session struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.DefaultSessionTitle, resp.Session.Title)
	return resp.Session.ID
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())

	w := do(t, srv, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSessionsRequireUser(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())

	w := do(t, srv, http.MethodPost, "/sessions", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSessionAndSendMessage(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())
	id := createSession(t, srv, "u1")

	w := do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{
		"text":       "I always ruin everything",
		"client_ref": "ref-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sent struct {
		Result struct {
			Kind       string                       `json:"kind"`
			Text       string                       `json:"text"`
			Distortion *domain.DistortionAnnotation `json:"distortion"`
		} `json:"result"`
		UserMessage *struct {
			ClientRef string `json:"client_ref"`
		} `json:"user_message"`
		AssistantMessage *struct {
			Role string `json:"role"`
		} `json:"assistant_message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "reply", sent.Result.Kind)
	assert.NotEmpty(t, sent.Result.Text)
	require.NotNil(t, sent.Result.Distortion)
	assert.True(t, sent.Result.Distortion.HasDistortion)
	require.NotNil(t, sent.UserMessage)
	assert.Equal(t, "ref-1", sent.UserMessage.ClientRef)
	require.NotNil(t, sent.AssistantMessage)
	assert.Equal(t, "assistant", sent.AssistantMessage.Role)

	w = do(t, srv, http.MethodGet, "/sessions/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var timeline struct {
		Session struct {
			Title string `json:"title"`
		} `json:"session"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timeline))
	assert.Equal(t, "I always ruin everything", timeline.Session.Title)
	require.Len(t, timeline.Messages, 2)
	assert.Equal(t, "user", timeline.Messages[0].Role)
	assert.Equal(t, "assistant", timeline.Messages[1].Role)

	w = do(t, srv, http.MethodGet, "/sessions", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)
}

func TestSendMessageCrisisReturnsAdvisory(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())
	id := createSession(t, srv, "u1")

	w := do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{
		"text": "I want to end my life",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var sent struct {
		Result struct {
			Kind     string `json:"kind"`
			Advisory string `json:"advisory"`
		} `json:"result"`
		AssistantMessage any `json:"assistant_message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "crisis", sent.Result.Kind)
	assert.Contains(t, sent.Result.Advisory, "988")
	assert.Nil(t, sent.AssistantMessage)
}

func TestSendMessageErrors(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())
	id := createSession(t, srv, "u1")

	w := do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "someone-else", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageSafetyUnavailable(t *testing.T) {
	srv := newTestServer(t, brokenSafety{llm.NewMockLLM()})
	id := createSession(t, srv, "u1")

	w := do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{"text": "hello"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "safety_check_unavailable")
	assert.NotContains(t, w.Body.String(), "quota")
}

func TestDeleteSessionAndClearHistory(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())
	id := createSession(t, srv, "u1")

	w := do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodDelete, "/sessions/"+id+"/messages", "u1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/sessions/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages":[]`)

	w = do(t, srv, http.MethodDelete, "/sessions/"+id, "u1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/sessions/"+id, "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, llm.NewMockLLM())
	id := createSession(t, srv, "u1")
	do(t, srv, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{"text": "hello"})

	w := do(t, srv, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aris_pipeline_results_total")
}

func TestEventStream(t *testing.T) {
	h := newTestServer(t, llm.NewMockLLM())
	ts := httptest.NewServer(h)
	defer ts.Close()

	id := createSession(t, h, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	next := func(event string) {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event:") && strings.Contains(lines.Text(), event) {
				return
			}
		}
		t.Fatalf("stream ended before %q event", event)
	}

	next("snapshot")

	w := do(t, h, http.MethodPost, "/sessions/"+id+"/messages", "u1", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	next("added")
}
