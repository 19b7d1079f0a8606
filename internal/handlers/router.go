// internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/parchi/internal/middleware"
	"github.com/jason-s-yu/parchi/internal/notify"
	"github.com/jason-s-yu/parchi/internal/room"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every endpoint behind the request logger.
func NewRouter(logger *logrus.Logger, svc *room.Service, hub *notify.Hub, tokens TokenVerifier, botToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", PingHandler)
	mux.HandleFunc("POST /bot/{token}", BotWebhookHandler(logger, svc, botToken))
	mux.HandleFunc("GET /ws/{recipient}", NotifyWSHandler(logger, hub, tokens))
	return middleware.LogMiddleware(logger)(mux)
}

// PingHandler answers health checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong"))
}
