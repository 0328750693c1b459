package service

import (
	"context"
	"errors"
	"fmt"

	"ai-voice-gateway/backend/ai"
	"ai-voice-gateway/backend/internal/ws"
	"ai-voice-gateway/backend/pkg/jwt"
)

// The adapters below bridge the concrete clients onto the interfaces the
// ws package consumes, converting types and collapsing error taxonomies
// at the boundary.

// TokenVerifierAdapter adapts the jwt.Service to the ws.TokenVerifier interface.
type TokenVerifierAdapter struct {
	service *jwt.Service
}

// NewTokenVerifierAdapter creates a new adapter for the jwt.Service.
func NewTokenVerifierAdapter(service *jwt.Service) *TokenVerifierAdapter {
	return &TokenVerifierAdapter{service: service}
}

// Verify implements the ws.TokenVerifier interface.
func (a *TokenVerifierAdapter) Verify(token string) (*ws.Identity, error) {
	identity, err := a.service.Verify(token)
	if err != nil {
		return nil, err
	}
	return &ws.Identity{UserID: identity.UserID, Role: string(identity.Role)}, nil
}

// SessionStoreAdapter adapts the SessionService to the ws.SessionStore interface.
type SessionStoreAdapter struct {
	service *SessionService
}

// NewSessionStoreAdapter creates a new adapter for the SessionService.
func NewSessionStoreAdapter(service *SessionService) *SessionStoreAdapter {
	return &SessionStoreAdapter{service: service}
}

// ValidateOwnership implements the ws.SessionStore interface. Unknown and
// foreign chats both map to ws.ErrForbidden so callers cannot tell them
// apart.
func (a *SessionStoreAdapter) ValidateOwnership(ctx context.Context, chatID, userID string) error {
	err := a.service.ValidateOwnership(ctx, chatID, userID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionDenied) {
		return ws.ErrForbidden
	}
	return err
}

// AppendMessage implements the ws.SessionStore interface.
func (a *SessionStoreAdapter) AppendMessage(ctx context.Context, chatID, role, text, sourceType string) (string, error) {
	return a.service.AppendMessage(ctx, chatID, role, text, sourceType)
}

// STTAdapter adapts the ai.STTClient to the ws.SpeechToText interface.
type STTAdapter struct {
	client *ai.STTClient
}

// NewSTTAdapter creates a new adapter for the ai.STTClient.
func NewSTTAdapter(client *ai.STTClient) *STTAdapter {
	return &STTAdapter{client: client}
}

// Transcribe implements the ws.SpeechToText interface.
func (a *STTAdapter) Transcribe(ctx context.Context, audio []byte) (*ws.Transcription, error) {
	tr, err := a.client.Transcribe(ctx, audio)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return &ws.Transcription{Text: tr.Text, Confidence: tr.Confidence}, nil
}

// TTSAdapter adapts the ai.TTSClient to the ws.TextToSpeech interface.
type TTSAdapter struct {
	client *ai.TTSClient
}

// NewTTSAdapter creates a new adapter for the ai.TTSClient.
func NewTTSAdapter(client *ai.TTSClient) *TTSAdapter {
	return &TTSAdapter{client: client}
}

// Synthesize implements the ws.TextToSpeech interface.
func (a *TTSAdapter) Synthesize(ctx context.Context, text string) ([]byte, error) {
	audio, err := a.client.Synthesize(ctx, text)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return audio, nil
}

// ResolverAdapter adapts the ai.ResolverClient to the ws.QueryResolver interface.
type ResolverAdapter struct {
	client *ai.ResolverClient
}

// NewResolverAdapter creates a new adapter for the ai.ResolverClient.
func NewResolverAdapter(client *ai.ResolverClient) *ResolverAdapter {
	return &ResolverAdapter{client: client}
}

// Resolve implements the ws.QueryResolver interface.
func (a *ResolverAdapter) Resolve(ctx context.Context, userID, query string) (*ws.QueryAnswer, error) {
	res, err := a.client.Resolve(ctx, userID, query)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return &ws.QueryAnswer{Text: res.Response, Intent: res.Intent, Confidence: res.Confidence}, nil
}

// mapProviderError turns a missing-endpoint fault into ws.ErrUnavailable
// while keeping per-call failures as they are.
func mapProviderError(err error) error {
	if errors.Is(err, ai.ErrNotConfigured) {
		return fmt.Errorf("%w: %s", ws.ErrUnavailable, err)
	}
	return err
}
