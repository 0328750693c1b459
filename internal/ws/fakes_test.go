package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-voice-gateway/backend/pkg/logger"
	wirews "ai-voice-gateway/backend/pkg/ws"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ErrorLevel, JSON: true, Output: io.Discard})
}

type fakeVerifier struct {
	identities map[string]*Identity
}

func (f *fakeVerifier) Verify(token string) (*Identity, error) {
	if id, ok := f.identities[token]; ok {
		return id, nil
	}
	return nil, fmt.Errorf("token not recognised")
}

type appendCall struct {
	chatID, role, text, source string
}

type fakeStore struct {
	mu          sync.Mutex
	owners      map[string]string
	validateErr error
	appendErr   error
	appendErrOn string // role whose appends fail; empty fails every role
	appends     []appendCall
	seq         int
}

func (f *fakeStore) ValidateOwnership(ctx context.Context, chatID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateErr != nil {
		return f.validateErr
	}
	if owner, ok := f.owners[chatID]; !ok || owner != userID {
		return ErrForbidden
	}
	return nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, chatID, role, text, sourceType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil && (f.appendErrOn == "" || f.appendErrOn == role) {
		return "", f.appendErr
	}
	f.seq++
	f.appends = append(f.appends, appendCall{chatID, role, text, sourceType})
	return fmt.Sprintf("msg-%d", f.seq), nil
}

func (f *fakeStore) calls() []appendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]appendCall, len(f.appends))
	copy(out, f.appends)
	return out
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte) (*Transcription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Transcription{Text: f.text, Confidence: 0.9}, nil
}

type fakeTTS struct {
	audio []byte
	err   error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

type resolveCall struct {
	userID, query string
}

// fakeResolver answers immediately unless gate is set, in which case it
// blocks until the gate closes or the turn is cancelled. started is
// closed on the first call so tests can wait for a turn to be in flight.
type fakeResolver struct {
	answer  QueryAnswer
	err     error
	gate    chan struct{}
	started chan struct{}
	once    sync.Once

	mu    sync.Mutex
	calls []resolveCall
}

func (f *fakeResolver) Resolve(ctx context.Context, userID, query string) (*QueryAnswer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, resolveCall{userID, query})
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	a := f.answer
	return &a, nil
}

func (f *fakeResolver) resolveCalls() []resolveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]resolveCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// harness wires a session to fakes without a real socket. Frames the
// session emits land on client.Send where tests read them back.
type harness struct {
	hub      *Hub
	client   *Client
	session  *Session
	verifier *fakeVerifier
	store    *fakeStore
	stt      *fakeSTT
	tts      *fakeTTS
	resolver *fakeResolver
}

func newHarness(t *testing.T, cfg Config, identity *Identity) *harness {
	t.Helper()

	h := &harness{
		verifier: &fakeVerifier{identities: map[string]*Identity{
			"good-token": {UserID: "user-1", Role: "user"},
		}},
		store: &fakeStore{owners: map[string]string{"chat-1": "user-1"}},
		stt:   &fakeSTT{text: "what's the weather like"},
		tts:   &fakeTTS{audio: []byte("mp3-bytes")},
		resolver: &fakeResolver{answer: QueryAnswer{
			Text:       "It's sunny.",
			Intent:     "WEATHER_QUERY",
			Confidence: 0.92,
		}},
	}

	h.hub = NewHub(h.verifier, h.store, h.stt, h.tts, h.resolver, cfg, testLogger())
	h.client = &Client{
		ID:   "conn-under-test",
		Hub:  h.hub,
		Send: make(chan []byte, h.hub.config.SendBufferFrames),
		done: make(chan struct{}),
	}
	h.client.log = testLogger()
	h.client.session = newSession(h.client, identity)
	h.session = h.client.session

	h.hub.Add(h.client)
	if identity != nil {
		h.hub.Bind(h.client, identity.UserID)
	}
	return h
}

func (h *harness) control(t *testing.T, frame wirews.ControlFrame) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	h.session.OnControl(raw)
}

func (h *harness) nextFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case payload := <-h.client.Send:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (h *harness) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case payload := <-h.client.Send:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) state() TurnState {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.state
}

func (h *harness) chatID() string {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.chatID
}

func (h *harness) waitForState(t *testing.T, want TurnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.state() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached state %s, still %s", want, h.state())
}

func (h *harness) waitForAppends(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.store.calls()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("store saw %d appends, wanted %d", len(h.store.calls()), n)
}
