package handler

import (
	"context"
	"log/slog"
	"net/http"

	"hivechat/internal/middleware"
	"hivechat/internal/observability"
	ws "hivechat/internal/websocket"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades HTTP requests into chat connections.
type WebSocketHandler struct {
	hub      *ws.Hub
	handler  ws.SessionHandler
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler whose upgrades are restricted
// to the given origins. An empty list or a "*" entry allows any
// origin, which is intended for development.
func NewWebSocketHandler(hub *ws.Hub, handler ws.SessionHandler, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleConnection upgrades the request and starts the connection's
// read and write pumps. Each connection gets a fresh session ID; the
// client only becomes visible to rooms once it sends joinRoom.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The request context dies when this handler returns; the hijacked
	// connection outlives it, so only the request ID is carried over.
	sessionID := uuid.New().String()
	ctx := observability.WithRequestID(context.Background(), chimiddleware.GetReqID(r.Context()))
	client := ws.NewClient(ctx, h.hub, conn, sessionID, h.handler)

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		return middleware.OriginAllowed(allowed, origin)
	}
}
