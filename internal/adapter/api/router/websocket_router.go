package router

import (
	"github.com/labstack/echo/v4"

	"lokamart/internal/adapter/api/handler"
)

// SetupWebSocketRouter wires the realtime endpoint. Auth happens inside the
// handler: the token arrives as a query parameter, not a header.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
