package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"lokamart/internal/usecase"
	"lokamart/pkg/errors"
	"lokamart/pkg/logger"
	"lokamart/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type createConversationRequest struct {
	ProductID     string `json:"product_id" validate:"required"`
	CounterpartID string `json:"counterpart_id" validate:"required"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Text           string `json:"text" validate:"required,max=2000"`
}

// CreateConversation resolves or creates the caller's conversation about a
// product. Returns the same conversation on every repeat call.
func (h *ChatHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetOrCreateConversation(c.Request().Context(), userID, usecase.CreateConversationInput{
		ProductID:     req.ProductID,
		CounterpartID: req.CounterpartID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// SendMessage appends a message to a conversation the caller participates in.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ConversationID: req.ConversationID,
		Text:           req.Text,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// ListConversations returns the caller's conversation directory, most recent
// activity first.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	userID := c.Get("uid").(string)
	limit, offset := pagination(c)

	conversations, total, err := h.chatUseCase.ListConversations(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, conversations, total, limit, offset)
}

func (h *ChatHandler) GetConversation(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetConversationByID(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetConversationByProduct looks up the caller's conversation with a
// product's seller without creating one.
func (h *ChatHandler) GetConversationByProduct(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetConversationByProduct(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

func (h *ChatHandler) ListMessages(c echo.Context) error {
	userID := c.Get("uid").(string)
	limit, offset := pagination(c)

	messages, total, err := h.chatUseCase.ListMessages(c.Request().Context(), userID, c.Param("id"), limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, messages, total, limit, offset)
}

// MarkRead advances the caller's read marker. Best-effort: a store failure is
// logged and acknowledged anyway, since the marker converges on the next
// successful call. Authorization failures still surface.
func (h *ChatHandler) MarkRead(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")

	if err := h.chatUseCase.MarkRead(c.Request().Context(), userID, conversationID); err != nil {
		if errors.Is(err, "FORBIDDEN") || errors.Is(err, "NOT_FOUND") {
			return response.Error(c, err)
		}
		logger.Warn("Mark-read failed for conversation %s, user %s: %v", conversationID, userID, err)
	}

	return response.Success(c, map[string]interface{}{"read": true})
}

func pagination(c echo.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}
