// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the notification socket.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Subscription token is not valid for the requested recipient.
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "parchi"
