// internal/handlers/bot.go
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jason-s-yu/parchi/internal/room"
	"github.com/sirupsen/logrus"
)

// Update is the subset of a messaging-bot webhook update that the bot reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// DisplayName prefers the first name and falls back to the username or id.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}

const helpText = `16 Parchi Dhap
/start - create a room in this chat
/join - join the room
/begin - deal cards (4-6 players)
/pass <card> - pass a card to the next player
/hand - show your hand
/stop - end the game and close the room`

// BotWebhookHandler receives updates at /bot/{token} and runs the command in
// the message text. It answers 200 for every well-formed update so the bot
// platform does not redeliver it.
func BotWebhookHandler(logger *logrus.Logger, svc *room.Service, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.PathValue("token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.NotFound(w, r)
			return
		}

		var upd Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, "bad update payload", http.StatusBadRequest)
			return
		}

		if upd.Message != nil && upd.Message.From != nil {
			dispatchCommand(r.Context(), logger, svc, upd.Message)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// parseCommand splits "/pass@parchibot 3" into ("pass", ["3"]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:], cmd != ""
}

func dispatchCommand(ctx context.Context, logger *logrus.Logger, svc *room.Service, msg *Message) {
	cmd, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	logger.WithFields(logrus.Fields{
		"chat":    chatID,
		"user":    userID,
		"command": cmd,
	}).Debug("bot command")

	var err error
	switch cmd {
	case "start":
		_, err = svc.Start(ctx, chatID)
	case "join":
		err = svc.Join(ctx, chatID, userID, msg.From.DisplayName())
	case "begin":
		_, err = svc.Begin(ctx, chatID)
	case "pass":
		card, convErr := parseCard(args)
		if convErr != nil {
			svc.Reply(ctx, chatID, "Usage: /pass <card_value>")
			return
		}
		err = svc.Pass(ctx, chatID, userID, card)
	case "hand":
		_, err = svc.Hand(ctx, chatID, userID)
	case "stop":
		err = svc.Stop(ctx, chatID)
	case "help":
		svc.Reply(ctx, chatID, helpText)
	default:
		return
	}
	if err != nil {
		svc.ReportError(ctx, chatID, err)
	}
}

func parseCard(args []string) (int, error) {
	if len(args) == 0 {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(args[0])
}
