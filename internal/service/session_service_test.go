package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ai-voice-gateway/backend/internal/models"
	"ai-voice-gateway/backend/pkg/cache"
	"ai-voice-gateway/backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ErrorLevel, JSON: true, Output: io.Discard})
}

// fakeRepo is an in-memory SessionRepository. Error queues are popped one
// per call, so tests can script a failure followed by a success.
type fakeRepo struct {
	mu         sync.Mutex
	sessions   map[string]models.ChatSession
	messages   []models.Message
	createErrs []error
	appendErrs []error
	getCalls   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]models.ChatSession)}
}

func (f *fakeRepo) popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *fakeRepo) CreateSession(ctx context.Context, session *models.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.createErrs); err != nil {
		return err
	}
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeRepo) GetSession(ctx context.Context, chatID string) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	session, ok := f.sessions[chatID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &session, nil
}

func (f *fakeRepo) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendMessage(ctx context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.appendErrs); err != nil {
		return err
	}
	for _, m := range f.messages {
		if m.ID == message.ID {
			return nil
		}
	}
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeRepo) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListMessagesPaginated(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	all, _ := f.ListMessages(ctx, chatID)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func newTestService(repo *fakeRepo) *SessionService {
	return NewSessionService(repo, NewMemoryOwnershipCache(cache.NewCache()), quietLogger(), 2*time.Second)
}

func TestCreateSessionDefaultsTitleAndPrimesCache(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	session, err := svc.CreateSession(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "New Chat", session.Title)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, session.CreatedAt, session.LastUpdated)

	// Ownership of a fresh session is answered from the cache.
	require.NoError(t, svc.ValidateOwnership(context.Background(), session.ID, "user-1"))
	assert.Zero(t, repo.getCalls)
}

func TestAppendMessageAssignsServerSideID(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	id, err := svc.AppendMessage(context.Background(), "chat-1", models.RoleUser, "hello", models.SourceText)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, repo.messages, 1)
	assert.Equal(t, id, repo.messages[0].ID)
	assert.Equal(t, "hello", repo.messages[0].Text)
	assert.False(t, repo.messages[0].Timestamp.IsZero())
}

func TestAppendMessageRetriesTransientFailures(t *testing.T) {
	repo := newFakeRepo()
	repo.appendErrs = []error{errors.New("connection reset"), errors.New("connection reset")}
	svc := newTestService(repo)

	id, err := svc.AppendMessage(context.Background(), "chat-1", models.RoleUser, "hello", models.SourceText)
	require.NoError(t, err)

	// All attempts reused the same message id.
	require.Len(t, repo.messages, 1)
	assert.Equal(t, id, repo.messages[0].ID)
}

func TestAppendMessageGivesUpWhenRetriesExhausted(t *testing.T) {
	repo := newFakeRepo()
	repo.appendErrs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}
	svc := newTestService(repo)

	_, err := svc.AppendMessage(context.Background(), "chat-1", models.RoleUser, "hello", models.SourceText)
	assert.Error(t, err)
	assert.Empty(t, repo.messages)
}

func TestAppendMessageDoesNotRetryCancellation(t *testing.T) {
	repo := newFakeRepo()
	repo.appendErrs = []error{context.Canceled, errors.New("must not be reached")}
	svc := newTestService(repo)

	_, err := svc.AppendMessage(context.Background(), "chat-1", models.RoleUser, "hello", models.SourceText)
	assert.ErrorIs(t, err, context.Canceled)

	// Only the first attempt ran.
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.appendErrs, 1)
}

func TestValidateOwnershipCachesTheOwner(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["chat-1"] = models.ChatSession{ID: "chat-1", UserID: "user-1"}
	svc := newTestService(repo)

	require.NoError(t, svc.ValidateOwnership(context.Background(), "chat-1", "user-1"))
	assert.Equal(t, 1, repo.getCalls)

	// The second check is answered from the cache.
	require.NoError(t, svc.ValidateOwnership(context.Background(), "chat-1", "user-1"))
	assert.Equal(t, 1, repo.getCalls)

	// So is a denial.
	assert.ErrorIs(t, svc.ValidateOwnership(context.Background(), "chat-1", "user-2"), ErrSessionDenied)
	assert.Equal(t, 1, repo.getCalls)
}

func TestValidateOwnershipUnknownChat(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	err := svc.ValidateOwnership(context.Background(), "no-such-chat", "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Misses are not cached; the chat may be created later.
	_ = svc.ValidateOwnership(context.Background(), "no-such-chat", "user-1")
	assert.Equal(t, 2, repo.getCalls)
}

func TestValidateOwnershipForeignChat(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["chat-1"] = models.ChatSession{ID: "chat-1", UserID: "user-1"}
	svc := newTestService(repo)

	err := svc.ValidateOwnership(context.Background(), "chat-1", "user-2")
	assert.ErrorIs(t, err, ErrSessionDenied)
}
