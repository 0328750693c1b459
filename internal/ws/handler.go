// Package ws implements the realtime conversation endpoint: one WebSocket
// per client, JSON control frames in both directions, one binary WAV frame
// per voice turn, and base64 MP3 coming back.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ai-voice-gateway/backend/pkg/logger"
	wirews "ai-voice-gateway/backend/pkg/ws"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge proxy.
		return true
	},
}

// Hub owns the connection registry and the adapter clients shared by all
// connections. The registry is keyed by userId so replies can be fanned
// out to every connection a user holds; connections that have not
// identified themselves yet live in the anonymous set.
type Hub struct {
	verifier TokenVerifier
	store    SessionStore
	stt      SpeechToText
	tts      TextToSpeech
	resolver QueryResolver
	config   Config
	log      *logger.Logger

	mu        sync.RWMutex
	byUser    map[string]map[*Client]struct{}
	anonymous map[*Client]struct{}
}

// NewHub wires the adapter clients into a hub. The zero values of cfg are
// replaced with DefaultConfig values so a partially filled Config is safe.
func NewHub(verifier TokenVerifier, store SessionStore, stt SpeechToText, tts TextToSpeech, resolver QueryResolver, cfg Config, log *logger.Logger) *Hub {
	def := DefaultConfig()
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = def.STTTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = def.TTSTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.SendBufferFrames <= 0 {
		cfg.SendBufferFrames = def.SendBufferFrames
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	return &Hub{
		verifier:  verifier,
		store:     store,
		stt:       stt,
		tts:       tts,
		resolver:  resolver,
		config:    cfg,
		log:       log,
		byUser:    make(map[string]map[*Client]struct{}),
		anonymous: make(map[*Client]struct{}),
	}
}

// Add registers a freshly upgraded connection in the anonymous set.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.anonymous[c] = struct{}{}
	h.mu.Unlock()
	connectionsActive.Inc()
	h.log.Info("Client connected", "connectionId", c.ID)
}

// Bind moves a connection under a userId, either from the anonymous set
// or from a previous userId.
func (h *Hub) Bind(c *Client, userID string) {
	h.mu.Lock()
	h.removeLocked(c)
	c.userID = userID
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Remove drops a connection from the registry. Safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if removed {
		connectionsActive.Dec()
		h.log.Info("Client disconnected", "connectionId", c.ID)
	}
}

func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.anonymous[c]; ok {
		delete(h.anonymous, c)
		return true
	}
	set, ok := h.byUser[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
	return true
}

// SendToUser queues a frame on every connection the user currently holds
// and returns how many connections accepted it.
func (h *Hub) SendToUser(userID string, frame interface{}) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("Failed to encode frame for user fan-out", "error", err, "userId", userID)
		return 0
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.trySend(payload) {
			sent++
		}
	}
	return sent
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.anonymous)
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}

// Client is one WebSocket connection. All writes to the socket go through
// the Send channel and are performed by WritePump alone, which is what
// keeps reply frames from interleaving.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	session *Session
	log     *logger.Logger

	// userID is the registry binding; guarded by Hub.mu.
	userID string

	closeOnce sync.Once
	closeCode int
	closeText string
	done      chan struct{}
}

// beginClose records the close status and wakes WritePump to deliver it.
// Only the first caller wins.
func (c *Client) beginClose(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// trySend queues a payload without blocking. A full queue means the peer
// has stopped reading, so the connection is closed with policy-violation
// instead of buffering without bound.
func (c *Client) trySend(payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("Send queue full, closing slow connection")
		backpressureCloses.Inc()
		c.beginClose(websocket.ClosePolicyViolation, "client not reading fast enough")
		return false
	}
}

func (c *Client) sendFrame(frame interface{}) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("Failed to encode outbound frame", "error", err)
		return false
	}
	return c.trySend(payload)
}

func (c *Client) sendError(msg string) {
	c.sendFrame(wirews.NewErrorFrame(msg))
}

// ReadPump reads frames from the socket and feeds them to the session
// manager, one at a time and in arrival order. It runs on its own
// goroutine; when it returns the connection is gone.
func (c *Client) ReadPump() {
	defer func() {
		c.session.OnClose()
		c.Hub.Remove(c)
		c.beginClose(websocket.CloseNormalClosure, "")
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, payload, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			c.session.OnBinary(payload)
		case websocket.TextMessage:
			c.session.OnControl(payload)
		}
	}
}

// WritePump is the single writer for the socket. It drains the Send
// queue, keeps the connection alive with pings, and delivers the close
// frame recorded by beginClose.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			// Flush anything that queued while we were writing.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades an HTTP request to a WebSocket connection. The token
// query parameter is verified before the upgrade: a valid token starts
// the connection authenticated, a missing or invalid one is rejected with
// 401 when auth is required and admitted anonymously otherwise.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	var identity *Identity
	if token := r.URL.Query().Get("token"); token != "" {
		id, err := hub.verifier.Verify(token)
		if err != nil {
			hub.log.Warn("Rejected connection token", "error", err)
		} else {
			identity = id
		}
	}
	if identity == nil && hub.config.RequireAuth {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Authentication required"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		ID:   uuid.NewString(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, hub.config.SendBufferFrames),
		done: make(chan struct{}),
	}
	client.log = hub.log.WithConnectionID(client.ID)
	client.session = newSession(client, identity)

	hub.Add(client)
	if identity != nil {
		hub.Bind(client, identity.UserID)
		client.log = client.log.WithUserID(identity.UserID)
	}

	// Queued before the pumps start, so it is the first frame on the wire.
	client.sendFrame(wirews.NewConnectionEstablished("Connection established", identity != nil))

	go client.WritePump()
	go client.ReadPump()
}
