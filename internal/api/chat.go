package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ai-voice-gateway/backend/internal/models"
	"ai-voice-gateway/backend/internal/service"
	apperrors "ai-voice-gateway/backend/pkg/errors"
	"ai-voice-gateway/backend/pkg/jwt"
	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/middleware"
)

// seedGreeting opens every new chat, so clients render a non-empty
// transcript before the first turn.
const seedGreeting = "How can I help you today?"

// ChatController handles session bootstrap and history reads. Clients call
// POST /api/chat/new to obtain a chatId before opening the WebSocket.
type ChatController struct {
	sessions *service.SessionService
	log      *logger.Logger
}

// NewChatController creates a new chat controller.
func NewChatController(sessions *service.SessionService, log *logger.Logger) *ChatController {
	return &ChatController{sessions: sessions, log: log}
}

// RegisterRoutes mounts the chat endpoints behind bearer auth.
func (cc *ChatController) RegisterRoutes(router *gin.Engine, jwtService *jwt.Service) {
	group := router.Group("/api/chat")
	group.Use(middleware.JWTAuthMiddleware(jwtService, cc.log))
	{
		group.POST("/new", cc.NewChat)
		group.GET("/sessions", cc.ListSessions)
		group.GET("/:chatId/messages", cc.ListMessages)
	}
}

// NewChat creates a chat session owned by the caller and seeds it with the
// assistant greeting.
func (cc *ChatController) NewChat(ctx *gin.Context) {
	// The body is optional; an absent title falls back to the default.
	var request struct {
		Title string `json:"title"`
	}
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format").WithDetails(err.Error()))
			return
		}
	}

	userID := ctx.GetString("userId")
	if userID == "" {
		ctx.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return
	}

	session, err := cc.sessions.CreateSession(ctx.Request.Context(), userID, request.Title)
	if err != nil {
		cc.log.LogError(err, "Failed to create chat session", "userId", userID)
		ctx.Error(apperrors.NewInternalServerError("CHAT_CREATE_FAILED", "Could not create chat session"))
		return
	}

	if _, err := cc.sessions.AppendMessage(ctx.Request.Context(), session.ID, models.RoleAssistant, seedGreeting, models.SourceText); err != nil {
		cc.log.LogError(err, "Failed to seed chat greeting", "chatId", session.ID)
		ctx.Error(apperrors.NewInternalServerError("CHAT_CREATE_FAILED", "Could not create chat session"))
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"chatId":      session.ID,
			"title":       session.Title,
			"createdAt":   session.CreatedAt,
			"lastUpdated": session.LastUpdated,
		},
	})
}

// ListSessions returns the caller's chat sessions, most recently updated
// first.
func (cc *ChatController) ListSessions(ctx *gin.Context) {
	userID := ctx.GetString("userId")
	if userID == "" {
		ctx.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return
	}

	sessions, err := cc.sessions.ListSessions(ctx.Request.Context(), userID)
	if err != nil {
		cc.log.LogError(err, "Failed to list chat sessions", "userId", userID)
		ctx.Error(apperrors.NewInternalServerError("CHAT_LIST_FAILED", "Could not list chat sessions"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sessions,
		"count":   len(sessions),
	})
}

// ListMessages returns a chat's transcript in timestamp order. Foreign and
// unknown chat ids get the same forbidden answer. Long transcripts can be
// windowed with the limit and offset query parameters.
func (cc *ChatController) ListMessages(ctx *gin.Context) {
	userID := ctx.GetString("userId")
	if userID == "" {
		ctx.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return
	}
	chatID := ctx.Param("chatId")

	limit, offset, err := pageParams(ctx)
	if err != nil {
		ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid pagination parameters").WithDetails(err.Error()))
		return
	}

	if err := cc.sessions.ValidateOwnership(ctx.Request.Context(), chatID, userID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrSessionDenied) {
			ctx.Error(apperrors.NewForbiddenError("FORBIDDEN", "forbidden"))
			return
		}
		cc.log.LogError(err, "Failed to check chat ownership", "chatId", chatID)
		ctx.Error(apperrors.NewInternalServerError("CHAT_READ_FAILED", "Could not load messages"))
		return
	}

	var messages []models.Message
	if limit > 0 {
		messages, err = cc.sessions.ListMessagesPage(ctx.Request.Context(), chatID, limit, offset)
	} else {
		messages, err = cc.sessions.ListMessages(ctx.Request.Context(), chatID)
	}
	if err != nil {
		cc.log.LogError(err, "Failed to list messages", "chatId", chatID)
		ctx.Error(apperrors.NewInternalServerError("CHAT_READ_FAILED", "Could not load messages"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    messages,
		"count":   len(messages),
	})
}

// pageParams reads the optional limit and offset query parameters. Both
// default to zero, which selects the full transcript.
func pageParams(ctx *gin.Context) (limit, offset int, err error) {
	if raw := ctx.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, errors.New("limit must be a non-negative integer")
		}
	}
	if raw := ctx.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
