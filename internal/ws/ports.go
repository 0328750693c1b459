package ws

import (
	"context"
	"errors"
	"time"
)

// The gateway talks to every external system through the five interfaces
// below. Adapters in internal/service bridge the concrete clients onto
// them; tests substitute in-memory fakes.

var (
	// ErrForbidden is returned by SessionStore when the requested chat
	// exists under a different owner, or does not exist at all. Callers
	// answer both cases identically so that chat ids cannot be probed.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable marks an adapter that is missing its endpoint or
	// credentials. It is a deployment fault, not a per-call failure.
	ErrUnavailable = errors.New("service unavailable")
)

// Identity is the verified (or client-asserted, for anonymous flows)
// principal behind a connection.
type Identity struct {
	UserID string
	Role   string
}

// Transcription is the STT result for one utterance. An empty Text is a
// legal outcome, not an error.
type Transcription struct {
	Text       string
	Confidence float64
}

// QueryAnswer is the resolver's reply to one utterance.
type QueryAnswer struct {
	Text       string
	Intent     string
	Confidence float64
}

// TokenVerifier checks a bearer token. It is called synchronously during
// the upgrade and again for mid-connection auth frames, so it must be
// cheap and safe for concurrent use.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// SessionStore persists chat sessions and their messages.
type SessionStore interface {
	// ValidateOwnership reports whether userID owns chatID. A nil error
	// means the turn may persist into the chat; ErrForbidden means it
	// must not. Any other error is a store fault.
	ValidateOwnership(ctx context.Context, chatID, userID string) error

	// AppendMessage writes one message and advances the session's
	// lastUpdated. The returned id is server-assigned before the first
	// write attempt, so retries after a cancellation are idempotent.
	AppendMessage(ctx context.Context, chatID, role, text, sourceType string) (string, error)
}

// SpeechToText transcribes one complete utterance.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (*Transcription, error)
}

// TextToSpeech renders a reply as MP3 bytes.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// QueryResolver answers one utterance for one user.
type QueryResolver interface {
	Resolve(ctx context.Context, userID, query string) (*QueryAnswer, error)
}

// Config carries the per-connection policy knobs.
type Config struct {
	// RequireAuth rejects un-tokened upgrades with 401 and refuses
	// turns from unauthenticated connections.
	RequireAuth bool

	// Per-phase deadlines for external calls.
	STTTimeout   time.Duration
	QueryTimeout time.Duration
	TTSTimeout   time.Duration
	StoreTimeout time.Duration

	// SendBufferFrames is the outbound queue depth per connection.
	// A connection that lets the queue fill is closed with a
	// policy-violation status rather than buffered without bound.
	SendBufferFrames int

	// MaxMessageBytes caps a single inbound frame. One voice turn is a
	// single WAV binary frame, so this bounds utterance length.
	MaxMessageBytes int64
}

// DefaultConfig returns the deadlines and limits used when no explicit
// configuration is supplied.
func DefaultConfig() Config {
	return Config{
		STTTimeout:       15 * time.Second,
		QueryTimeout:     20 * time.Second,
		TTSTimeout:       15 * time.Second,
		StoreTimeout:     5 * time.Second,
		SendBufferFrames: 64,
		MaxMessageBytes:  1 << 20,
	}
}
