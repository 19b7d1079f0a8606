// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/parchi/internal/middleware"
	"github.com/jason-s-yu/parchi/internal/notify"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 3 * time.Second

// TokenVerifier checks a subscription token and returns the recipient it was
// issued for.
type TokenVerifier interface {
	Authenticate(token string) (int64, error)
}

// subscriptionToken reads the token from the "token" query parameter or the
// auth_token cookie.
func subscriptionToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if c, err := r.Cookie("auth_token"); err == nil {
		return c.Value
	}
	return ""
}

// NotifyWSHandler upgrades /ws/{recipient} and streams every notification for
// that user or chat id as a text frame until either side closes. The request
// must carry a token issued for the same recipient.
func NotifyWSHandler(logger *logrus.Logger, hub *notify.Hub, tokens TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient, err := strconv.ParseInt(r.PathValue("recipient"), 10, 64)
		if err != nil {
			http.Error(w, "invalid recipient id", http.StatusBadRequest)
			return
		}

		authorized := false
		if tok := subscriptionToken(r); tok != "" {
			owner, err := tokens.Authenticate(tok)
			authorized = err == nil && owner == recipient
			if err != nil {
				logger.WithField("recipient", recipient).WithError(err).Debug("rejected subscription token")
			}
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for recipient %d: %v", recipient, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "Client must use the '"+Subprotocol+"' subprotocol.")
			return
		}
		if !authorized {
			c.Close(InvalidAuthTokenError, "Missing or invalid token for this recipient.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		msgs, unsubscribe := hub.Subscribe(recipient)
		defer unsubscribe()

		// clients only listen; CloseRead handles their close frame
		ctx := c.CloseRead(r.Context())
		err = writeNotifications(ctx, c, msgs)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
		if err == nil {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func writeNotifications(ctx context.Context, c *websocket.Conn, msgs <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			// peer went away or the request was cancelled
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.Write(wctx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
