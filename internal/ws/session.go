package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"ai-voice-gateway/backend/internal/models"
	wirews "ai-voice-gateway/backend/pkg/ws"
)

// maxPendingControl bounds the control frames buffered while a turn is in
// flight. Beyond it the connection is treated like any other peer that
// outruns its buffers and closed with policy-violation.
const maxPendingControl = 32

// Client-visible guard and protocol errors. The exact strings are part of
// the wire contract.
const (
	errAuthRequired   = "Authentication required"
	errNoActiveChat   = "No active chat session"
	errBusy           = "Busy"
	errMalformedFrame = "Invalid JSON message format"
	errUnknownControl = "Unknown control type"
	errInvalidToken   = "Invalid or expired token"
)

// TurnState tracks where a connection is in its turn cycle.
type TurnState int

const (
	// StateIdle accepts a new turn.
	StateIdle TurnState = iota
	// StateAwaitingAudio is Idle that has seen start_stream. Purely
	// advisory: audio is accepted from Idle as well.
	StateAwaitingAudio
	// StateProcessing has a turn in flight.
	StateProcessing
	// StateClosed is terminal.
	StateClosed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAudio:
		return "awaiting_audio"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// turnInput is one utterance handed to the pipeline: audio bytes for a
// voice turn, text for a text turn.
type turnInput struct {
	text   string
	audio  []byte
	source string
}

// Session is the per-connection manager. It applies the pre-turn guards,
// runs the turn state machine, and buffers control frames that arrive
// while a turn is in flight. Frames arrive one at a time from ReadPump;
// the mutex exists because turn completion lands on the pipeline
// goroutine.
type Session struct {
	client *Client

	mu             sync.Mutex
	identity       *Identity
	authenticated  bool
	chatID         string
	state          TurnState
	pendingControl []wirews.ControlFrame
	turnCancel     context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(client *Client, identity *Identity) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client:        client,
		identity:      identity,
		authenticated: identity != nil,
		state:         StateIdle,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// OnControl handles one inbound text frame. Malformed and unknown frames
// are answered immediately regardless of turn state; recognised non-turn
// frames that arrive mid-turn are buffered and applied after the turn.
func (s *Session) OnControl(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	var frame wirews.ControlFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		s.client.sendError(errMalformedFrame)
		return
	}
	if !isRecognisedControl(frame.Type) {
		s.client.sendError(errUnknownControl)
		return
	}

	if s.state == StateProcessing {
		if frame.Type == wirews.TypeTextMessage {
			s.client.sendError(errBusy)
			return
		}
		if len(s.pendingControl) >= maxPendingControl {
			s.client.log.Warn("Control buffer full, closing connection")
			s.client.beginClose(websocket.ClosePolicyViolation, "control frame flood")
			return
		}
		s.pendingControl = append(s.pendingControl, frame)
		return
	}

	s.applyControlLocked(frame)
}

// OnBinary handles one inbound audio frame: a complete WAV utterance that
// starts a voice turn.
func (s *Session) OnBinary(audio []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return
	case StateProcessing:
		s.client.sendError(errBusy)
		return
	}

	s.beginTurnLocked(turnInput{audio: audio, source: models.SourceVoice})
}

// OnClose tears the session down and cancels any in-flight turn. Called
// from ReadPump when the socket is gone; idempotent.
func (s *Session) OnClose() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.pendingControl = nil
	s.mu.Unlock()
	s.cancel()
}

func isRecognisedControl(t string) bool {
	switch t {
	case wirews.TypeAuth, wirews.TypeUserInfo, wirews.TypeSetChatID,
		wirews.TypeStartStream, wirews.TypeEndStream,
		wirews.TypeTextMessage, wirews.TypeClearContext:
		return true
	}
	return false
}

func (s *Session) applyControlLocked(frame wirews.ControlFrame) {
	switch frame.Type {
	case wirews.TypeAuth:
		s.handleAuthLocked(frame.Token)

	case wirews.TypeUserInfo:
		// Identifies the caller on anonymous deployments. A verified
		// identity always wins, so this is ignored once authenticated.
		if s.authenticated {
			return
		}
		if frame.UserID == "" {
			return
		}
		s.identity = &Identity{UserID: frame.UserID, Role: "user"}
		s.client.Hub.Bind(s.client, frame.UserID)

	case wirews.TypeSetChatID:
		// Ownership is enforced when the turn first touches the store,
		// so any id is accepted here.
		s.chatID = frame.ChatID

	case wirews.TypeStartStream:
		if s.state == StateIdle {
			s.state = StateAwaitingAudio
		}

	case wirews.TypeEndStream:
		// Advisory. The turn begins when the audio frame arrives.

	case wirews.TypeClearContext:
		// Deprecated: clients should start a new chat instead.
		s.client.log.Debug("Ignoring clear_context frame")

	case wirews.TypeTextMessage:
		s.beginTurnLocked(turnInput{text: frame.Text, source: models.SourceText})
	}
}

func (s *Session) handleAuthLocked(token string) {
	identity, err := s.client.Hub.verifier.Verify(token)
	if err != nil {
		// A failed re-auth downgrades the connection: an expired token
		// must not keep privileges it no longer proves.
		s.authenticated = false
		s.client.log.Warn("Auth frame rejected", "error", err)
		s.client.sendFrame(wirews.NewAuthError(errInvalidToken))
		return
	}
	s.identity = identity
	s.authenticated = true
	s.client.Hub.Bind(s.client, identity.UserID)
	s.client.sendFrame(wirews.NewAuthSuccess(identity.UserID))
}

// beginTurnLocked applies the pre-turn guards and, if they pass, moves to
// Processing and hands the input to the pipeline goroutine.
func (s *Session) beginTurnLocked(in turnInput) {
	if s.client.Hub.config.RequireAuth && !s.authenticated {
		s.client.sendError(errAuthRequired)
		return
	}
	if s.chatID == "" {
		s.client.sendError(errNoActiveChat)
		return
	}

	// An empty utterance never reaches the resolver. Answering here
	// mirrors the empty-transcript outcome of the recognise phase.
	if in.source == models.SourceText && strings.TrimSpace(in.text) == "" {
		s.client.sendFrame(wirews.NewSpeechFailure(wirews.ReasonNoSpeech))
		return
	}
	if in.source == models.SourceVoice && len(in.audio) == 0 {
		s.client.sendFrame(wirews.NewSpeechFailure(wirews.ReasonNoSpeech))
		return
	}

	userID := ""
	if s.identity != nil {
		userID = s.identity.UserID
	}

	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	s.state = StateProcessing

	go s.runTurn(turnCtx, in, s.chatID, userID)
}

// completeTurn returns the session to Idle and applies, in arrival order,
// the control frames that were buffered while the turn ran. Runs on the
// pipeline goroutine.
func (s *Session) completeTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	if s.state == StateClosed {
		return
	}
	s.state = StateIdle

	pending := s.pendingControl
	s.pendingControl = nil
	for _, frame := range pending {
		s.applyControlLocked(frame)
	}
}
