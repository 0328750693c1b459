// Package service implements the chat session operations used by both
// the REST surface and the websocket turn pipeline.
package service

import (
	"context"
	"errors"
	"time"

	"ai-voice-gateway/backend/internal/models"
	"ai-voice-gateway/backend/internal/repository"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/middleware"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound means no session exists for the chat id
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrSessionDenied means the session belongs to another user
	ErrSessionDenied = errors.New("chat session belongs to another user")
)

const (
	storeAttempts     = 3
	storeRetryBackoff = 100 * time.Millisecond
)

// SessionService mediates access to the session store. Writes retry on
// transient failures within the store deadline; message ids are
// assigned before the first attempt so retries stay idempotent.
type SessionService struct {
	repo    repository.SessionRepository
	cache   OwnershipCache
	log     *logger.Logger
	timeout time.Duration
}

func NewSessionService(repo repository.SessionRepository, cache OwnershipCache, log *logger.Logger, timeout time.Duration) *SessionService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SessionService{
		repo:    repo,
		cache:   cache,
		log:     log,
		timeout: timeout,
	}
}

// CreateSession writes a new session owned by userID with
// createdAt = lastUpdated = now.
func (s *SessionService) CreateSession(ctx context.Context, userID, title string) (*models.ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if title == "" {
		title = "New Chat"
	}

	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.CreateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.cache.SetOwner(ctx, session.ID, userID)
	return session, nil
}

// AppendMessage persists one message and returns its server-assigned id.
func (s *SessionService) AppendMessage(ctx context.Context, chatID, role, text, sourceType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	message := &models.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		Role:       role,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		SourceType: sourceType,
	}

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.AppendMessage(ctx, message)
	})
	if err != nil {
		return "", err
	}

	return message.ID, nil
}

// GetSession loads a session by chat id.
func (s *SessionService) GetSession(ctx context.Context, chatID string) (*models.ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.repo.GetSession(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// ValidateOwnership checks that userID owns the session. It returns
// ErrSessionDenied for a foreign session and ErrSessionNotFound when no
// session exists; callers answer both identically so that session ids
// cannot be probed.
func (s *SessionService) ValidateOwnership(ctx context.Context, chatID, userID string) error {
	if owner, found := s.cache.GetOwner(ctx, chatID); found {
		if owner != userID {
			return ErrSessionDenied
		}
		return nil
	}

	session, err := s.GetSession(ctx, chatID)
	if err != nil {
		return err
	}

	s.cache.SetOwner(ctx, chatID, session.UserID)
	if session.UserID != userID {
		return ErrSessionDenied
	}
	return nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.ListSessions(ctx, userID)
}

// ListMessages returns the session transcript in timestamp order.
func (s *SessionService) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.ListMessages(ctx, chatID)
}

// ListMessagesPage returns one window of the transcript for clients that
// page long histories instead of replaying them whole.
func (s *SessionService) ListMessagesPage(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.ListMessagesPaginated(ctx, chatID, limit, offset)
}

// withRetry reruns op on transient store errors, bounded by the store
// deadline carried on ctx.
func (s *SessionService) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	log := s.log
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		log = log.WithRequestID(reqID)
	}

	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(storeRetryBackoff):
			}
			log.Warn("Retrying store write", "attempt", attempt, "error", err.Error())
		}

		err = op(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
