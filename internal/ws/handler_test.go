package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wirews "ai-voice-gateway/backend/pkg/ws"
)

func newBareClient(hub *Hub, id string, buffer int) *Client {
	c := &Client{
		ID:   id,
		Hub:  hub,
		Send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	c.log = testLogger()
	c.session = newSession(c, nil)
	return c
}

func TestHubRegistryTracksConnectionsPerUser(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	hub := h.hub

	a1 := newBareClient(hub, "a1", 4)
	a2 := newBareClient(hub, "a2", 4)
	anon := newBareClient(hub, "anon", 4)

	hub.Add(a1)
	hub.Add(a2)
	hub.Add(anon)
	hub.Bind(a1, "alice")
	hub.Bind(a2, "alice")

	// The harness connection counts too.
	assert.Equal(t, 4, hub.ConnectionCount())

	// Fan-out reaches every connection the user holds, and nothing else.
	sent := hub.SendToUser("alice", wirews.NewErrorFrame("ping"))
	assert.Equal(t, 2, sent)
	assert.Len(t, a1.Send, 1)
	assert.Len(t, a2.Send, 1)
	assert.Len(t, anon.Send, 0)

	// Rebinding moves a connection between users.
	hub.Bind(a2, "bob")
	assert.Equal(t, 1, hub.SendToUser("alice", wirews.NewErrorFrame("ping")))
	assert.Equal(t, 1, hub.SendToUser("bob", wirews.NewErrorFrame("ping")))

	// Remove is idempotent.
	hub.Remove(a1)
	hub.Remove(a1)
	assert.Equal(t, 0, hub.SendToUser("alice", wirews.NewErrorFrame("ping")))
	assert.Equal(t, 3, hub.ConnectionCount())
}

func TestSlowConnectionIsClosedNotBuffered(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	c := newBareClient(h.hub, "slow", 1)

	require.True(t, c.trySend([]byte(`{"type":"error"}`)))

	// The queue is full and nobody is draining it.
	assert.False(t, c.trySend([]byte(`{"type":"error"}`)))

	select {
	case <-c.done:
	default:
		t.Fatal("slow connection was not closed")
	}
	assert.Equal(t, websocket.ClosePolicyViolation, c.closeCode)

	// Later sends fail fast without another close.
	assert.False(t, c.trySend([]byte(`{"type":"error"}`)))
}

// wsTestServer runs ServeWs behind httptest for full-socket tests.
func wsTestServer(t *testing.T, h *harness) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h.hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWs(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWireFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &m))
	return m
}

func writeControl(t *testing.T, conn *websocket.Conn, frame wirews.ControlFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestServeWsRejectsMissingTokenWhenAuthRequired(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	_, wsURL := wsTestServer(t, h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"Authentication required"}`, string(body))
}

func TestServeWsRejectsInvalidTokenWhenAuthRequired(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	_, wsURL := wsTestServer(t, h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWsGreetsAnonymousConnection(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL)

	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeConnectionEstablished, frame["type"])
	assert.Equal(t, "Connection established", frame["message"])
	assert.Equal(t, false, frame["authenticated"])
}

func TestServeWsGreetsAuthenticatedConnection(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL+"/?token=good-token")

	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeConnectionEstablished, frame["type"])
	assert.Equal(t, true, frame["authenticated"])
}

func TestEndToEndTextTurn(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL+"/?token=good-token")
	readWireFrame(t, conn) // connection_established

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-1"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "what's the weather like"})

	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeSpeechResponse, frame["type"])
	assert.Equal(t, true, frame["success"])
	assert.Equal(t, "It's sunny.", frame["textResponse"])

	frame = readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeAudioContent, frame["type"])
	assert.NotEmpty(t, frame["audioContent"])
}

func TestEndToEndVoiceTurn(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL+"/?token=good-token")
	readWireFrame(t, conn)

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-1"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeStartStream})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("wav-bytes")))
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeEndStream})

	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeSpeechResponse, frame["type"])
	assert.Equal(t, true, frame["success"])
	assert.Equal(t, "what's the weather like", frame["transcription"])

	frame = readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeAudioContent, frame["type"])

	calls := h.store.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "voice", calls[0].source)
}

func TestEndToEndAuthUpgradeOverAnonymousConnection(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL)
	readWireFrame(t, conn)

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeAuth, Token: "good-token"})
	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeAuthSuccess, frame["type"])
	assert.Equal(t, "user-1", frame["userId"])

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-1"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "hello there"})

	frame = readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeSpeechResponse, frame["type"])
	assert.Equal(t, true, frame["success"])
}

func TestEndToEndForeignChatStaysOpen(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	h.verifier.identities["other-token"] = &Identity{UserID: "user-2", Role: "user"}
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL+"/?token=other-token")
	readWireFrame(t, conn)

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-1"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "let me in"})

	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeError, frame["type"])
	assert.Equal(t, "forbidden", frame["error"])

	// The connection survives the refusal and can serve the user's own chat.
	h.store.mu.Lock()
	h.store.owners["chat-2"] = "user-2"
	h.store.mu.Unlock()
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-2"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "my own chat"})

	frame = readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeSpeechResponse, frame["type"])
	assert.Equal(t, true, frame["success"])
}

func TestEndToEndBusyThenDrain(t *testing.T) {
	h := newHarness(t, Config{RequireAuth: true}, nil)
	h.resolver.gate = make(chan struct{})
	h.resolver.started = make(chan struct{})
	_, wsURL := wsTestServer(t, h)

	conn := dialWs(t, wsURL+"/?token=good-token")
	readWireFrame(t, conn)

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: "chat-1"})
	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "first"})
	<-h.resolver.started

	writeControl(t, conn, wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: "second"})
	frame := readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeError, frame["type"])
	assert.Equal(t, "Busy", frame["error"])

	close(h.resolver.gate)
	frame = readWireFrame(t, conn)
	assert.Equal(t, wirews.TypeSpeechResponse, frame["type"])
	assert.Equal(t, true, frame["success"])

	// Only the first turn reached the resolver.
	assert.Len(t, h.resolver.resolveCalls(), 1)
}
