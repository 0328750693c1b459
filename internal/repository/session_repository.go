// Package repository is the persistence boundary for chat sessions.
package repository

import (
	"context"

	"ai-voice-gateway/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, chatID string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	AppendMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	ListMessagesPaginated(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error)
}

type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) CreateSession(ctx context.Context, session *models.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *GormSessionRepository) GetSession(ctx context.Context, chatID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", chatID).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *GormSessionRepository) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_updated DESC").
		Find(&sessions).Error
	return sessions, err
}

// AppendMessage inserts the message and advances the session's
// last_updated in one transaction. Replaying an already-persisted
// message id is a no-op for both writes, which makes retries after a
// cancelled turn safe.
func (r *GormSessionRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(message)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		// The guard keeps last_updated monotonic even if appends land
		// out of timestamp order.
		return tx.Model(&models.ChatSession{}).
			Where("id = ? AND last_updated < ?", message.ChatID, message.Timestamp).
			Update("last_updated", message.Timestamp).Error
	})
}

func (r *GormSessionRepository) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormSessionRepository) ListMessagesPaginated(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}
