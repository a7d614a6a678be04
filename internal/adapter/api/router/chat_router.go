package router

import (
	"github.com/labstack/echo/v4"

	"lokamart/internal/adapter/api/handler"
	"lokamart/internal/adapter/api/middleware"
)

// SetupChatRouter wires the conversation and message endpoints (excluding
// WebSocket).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	v1 := e.Group("/v1")
	v1.Use(authMiddleware.Authenticate)

	// Conversations
	v1.POST("/conversations", chatHandler.CreateConversation)            // POST /v1/conversations - resolve or create
	v1.GET("/conversations", chatHandler.ListConversations)              // GET /v1/conversations - caller's directory
	v1.GET("/conversations/:id", chatHandler.GetConversation)            // GET /v1/conversations/:id
	v1.GET("/conversations/:id/messages", chatHandler.ListMessages)      // GET /v1/conversations/:id/messages
	v1.POST("/conversations/:id/read", chatHandler.MarkRead)             // POST /v1/conversations/:id/read
	v1.GET("/products/:id/conversation", chatHandler.GetConversationByProduct) // GET /v1/products/:id/conversation

	// Messages
	v1.POST("/messages", chatHandler.SendMessage) // POST /v1/messages
}
