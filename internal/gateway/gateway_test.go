// ABOUTME: Transport tests over httptest: REST handlers and WebSocket round-trips
// ABOUTME: Exercises the full store/hub/dispatcher wiring behind real HTTP

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confab-dev/confab/internal/dispatch"
	"github.com/confab-dev/confab/internal/hub"
	"github.com/confab-dev/confab/internal/store"
)

// wireEnvelope decodes the generic envelope shape off the wire
type wireEnvelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Source         string          `json:"source"`
	Data           json.RawMessage `json:"data"`
	Timestamp      time.Time       `json:"timestamp"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	st := store.New(backend, time.Hour, nil)
	h := hub.New(nil)
	t.Cleanup(h.Close)

	srv := New(":0", st, h, dispatch.New(st, h, 0, nil), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAPI_SubmitAndReadBack(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1",
		"role":           "assistant",
		"content":        "generated upstream",
		"source":         "integration",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg store.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, store.RoleAssistant, msg.Role)

	getResp, err := http.Get(ts.URL + "/api/conversations/conv-1/messages")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var msgs []*store.Message
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "generated upstream", msgs[0].Content)
}

func TestAPI_SubmitDefaultsToIntegrationSource(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1",
		"role":           "user",
		"content":        "no source given",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg store.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, store.SourceIntegration, msg.Source)
}

func TestAPI_SubmitRejectsMalformed(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing conversation", map[string]any{"role": "user", "content": "hi"}},
		{"missing content", map[string]any{"conversationId": "c", "role": "user"}},
		{"bad role", map[string]any{"conversationId": "c", "role": "demigod", "content": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/messages", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errBody map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
			assert.Equal(t, "validation_error", errBody["code"])
		})
	}
}

func TestAPI_GetConversationNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/conversations/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "read paths never auto-create")
}

func TestAPI_SearchAndMetadata(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1", "role": "user", "content": "the launch checklist",
	}).Body.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/conversations/conv-1/metadata",
		strings.NewReader(`{"title":"Launch Prep","tags":["ops"]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, q := range []string{"LAUNCH", "ops", "checklist"} {
		searchResp, err := http.Get(ts.URL + "/api/search?q=" + q)
		require.NoError(t, err)
		var results []*store.Conversation
		require.NoError(t, json.NewDecoder(searchResp.Body).Decode(&results))
		searchResp.Body.Close()
		require.Len(t, results, 1, "query %q", q)
		assert.Equal(t, "conv-1", results[0].ID)
	}

	missResp, err := http.Get(ts.URL + "/api/search?q=zebra")
	require.NoError(t, err)
	defer missResp.Body.Close()
	var empty []*store.Conversation
	require.NoError(t, json.NewDecoder(missResp.Body).Decode(&empty))
	assert.Empty(t, empty)
}

func TestAPI_DeleteConversation(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1", "role": "user", "content": "doomed",
	}).Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/conversations/conv-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/conversations/conv-1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestAPI_StatsAndHealth(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1", "role": "user", "content": "hello",
	}).Body.Close()

	statsResp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats store.Stats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 1, stats.Messages)

	healthResp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

// dialWS attaches a WebSocket client to the test server
func dialWS(t *testing.T, ts *httptest.Server, source string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?source=" + source
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *wireEnvelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wireEnvelope
	require.NoError(t, ws.ReadJSON(&env))
	return &env
}

func TestWS_RejectsUnknownSource(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?source=telegraph"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWS_JoinSyncAndMessageFlow(t *testing.T) {
	_, ts := newTestServer(t)

	// Seed history through the integration path
	postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversationId": "conv-1", "role": "user", "content": "earlier message",
	}).Body.Close()

	desktop := dialWS(t, ts, "desktop")
	require.NoError(t, desktop.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))

	sync := readEnvelope(t, desktop)
	require.Equal(t, "sync", sync.Type)
	var syncData struct {
		Messages []*store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(sync.Data, &syncData))
	require.Len(t, syncData.Messages, 1)
	assert.Equal(t, "earlier message", syncData.Messages[0].Content)

	// Second client joins; first sees presence, second sees only its sync
	web := dialWS(t, ts, "web")
	require.NoError(t, web.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))

	webSync := readEnvelope(t, web)
	assert.Equal(t, "sync", webSync.Type)

	presence := readEnvelope(t, desktop)
	require.Equal(t, "presence", presence.Type)
	var presenceData struct {
		Action string `json:"action"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(presence.Data, &presenceData))
	assert.Equal(t, "joined", presenceData.Action)
	assert.Equal(t, "web", presenceData.Source)

	// Web sends; desktop receives the message envelope, web does not echo
	require.NoError(t, web.WriteJSON(map[string]any{
		"action": "message", "conversationId": "conv-1", "content": "Hello from web!",
	}))

	msg := readEnvelope(t, desktop)
	require.Equal(t, "message", msg.Type)
	assert.Equal(t, "web", msg.Source)
	var msgData struct {
		Message *store.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &msgData))
	assert.Equal(t, "Hello from web!", msgData.Message.Content)
	assert.Equal(t, store.RoleUser, msgData.Message.Role, "role defaults to user on socket frames")
}

func TestWS_MessagesArriveInSubmissionOrder(t *testing.T) {
	_, ts := newTestServer(t)

	sender := dialWS(t, ts, "desktop")
	require.NoError(t, sender.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))
	readEnvelope(t, sender) // sync

	observer := dialWS(t, ts, "web")
	require.NoError(t, observer.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))
	readEnvelope(t, observer) // sync
	readEnvelope(t, sender)   // presence

	for i := 1; i <= 5; i++ {
		require.NoError(t, sender.WriteJSON(map[string]any{
			"action": "message", "conversationId": "conv-1",
			"content": fmt.Sprintf("Message %d", i),
		}))
	}

	for i := 1; i <= 5; i++ {
		env := readEnvelope(t, observer)
		require.Equal(t, "message", env.Type)
		var data struct {
			Message *store.Message `json:"message"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, fmt.Sprintf("Message %d", i), data.Message.Content)
	}
}

func TestWS_InvalidFrameGetsErrorEnvelope(t *testing.T) {
	_, ts := newTestServer(t)

	ws := dialWS(t, ts, "desktop")
	require.NoError(t, ws.WriteJSON(map[string]any{"action": "message", "conversationId": "conv-1"}))

	env := readEnvelope(t, ws)
	require.Equal(t, "error", env.Type)
	var data struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "validation_error", data.Code)
}

func TestWS_DisconnectAnnouncesPresence(t *testing.T) {
	_, ts := newTestServer(t)

	watcher := dialWS(t, ts, "desktop")
	require.NoError(t, watcher.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))
	readEnvelope(t, watcher) // sync

	leaver := dialWS(t, ts, "iphone")
	require.NoError(t, leaver.WriteJSON(map[string]any{"action": "join", "conversationId": "conv-1"}))
	readEnvelope(t, leaver)  // sync
	readEnvelope(t, watcher) // presence joined

	require.NoError(t, leaver.Close())

	env := readEnvelope(t, watcher)
	require.Equal(t, "presence", env.Type)
	var data struct {
		Action string `json:"action"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "disconnected", data.Action)
	assert.Equal(t, "iphone", data.Source)
}
