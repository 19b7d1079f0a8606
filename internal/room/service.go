// internal/room/service.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/parchi/internal/database"
	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
	"github.com/jason-s-yu/parchi/internal/notify"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMinPlayers = 4
	DefaultMaxPlayers = 6
)

var (
	ErrNoRoom         = errors.New("no room for this chat")
	ErrNoGame         = errors.New("no active game")
	ErrGameInProgress = errors.New("a game is already running in this room")
	ErrPlayerCount    = errors.New("wrong number of players")
	ErrNotPlayer      = errors.New("user is not playing in this game")
)

// PlayerCountError is returned by Begin when the roster is too small or too large.
type PlayerCountError struct {
	Min, Max, Have int
}

func (e *PlayerCountError) Error() string {
	return fmt.Sprintf("need %d-%d players, have %d", e.Min, e.Max, e.Have)
}

func (e *PlayerCountError) Is(target error) bool {
	return target == ErrPlayerCount
}

// Store is the persistence the service needs. database.Store satisfies it.
type Store interface {
	game.GameRepository
	CreateRoom(ctx context.Context, chatID int64) (*models.Room, error)
	GetRoomByChat(ctx context.Context, chatID int64) (*models.Room, error)
	AddMember(ctx context.Context, roomID, userID int64, name string) error
	ListMembers(ctx context.Context, roomID int64) ([]models.Member, error)
	RemoveRoom(ctx context.Context, roomID int64) error
}

// ActionPublisher receives every applied move.
type ActionPublisher interface {
	PublishGameAction(ctx context.Context, action models.GameAction) error
}

// TokenIssuer signs the token a client needs to subscribe to a recipient's
// notifications.
type TokenIssuer interface {
	CreateToken(recipient int64) (string, error)
}

// Service runs the bot commands for every room. Commands for one chat are
// serialized; the game engine itself is not safe for concurrent use.
type Service struct {
	store    Store
	notifier notify.Notifier
	actions  ActionPublisher
	tokens   TokenIssuer
	logger   *logrus.Logger
	locks    *keyedMutex

	minPlayers int
	maxPlayers int
	now        func() time.Time
	newGame    func(players []int64) (*game.Game, error)
}

type Option func(*Service)

// WithActionPublisher forwards applied moves to p.
func WithActionPublisher(p ActionPublisher) Option {
	return func(s *Service) { s.actions = p }
}

// WithTokenIssuer attaches a notification subscription token to the room
// announcement and to every hand message.
func WithTokenIssuer(t TokenIssuer) Option {
	return func(s *Service) { s.tokens = t }
}

// WithPlayerLimits sets the roster bounds checked by Begin.
func WithPlayerLimits(lo, hi int) Option {
	return func(s *Service) {
		s.minPlayers = lo
		s.maxPlayers = hi
	}
}

// WithGameFactory replaces how games are dealt, e.g. to fix hands in tests.
func WithGameFactory(f func(players []int64) (*game.Game, error)) Option {
	return func(s *Service) { s.newGame = f }
}

func NewService(store Store, notifier notify.Notifier, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		locks:      newKeyedMutex(),
		minPlayers: DefaultMinPlayers,
		maxPlayers: DefaultMaxPlayers,
		now:        time.Now,
		newGame: func(players []int64) (*game.Game, error) {
			return game.NewGame(players)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the room for chatID. Starting twice keeps the existing room.
func (s *Service) Start(ctx context.Context, chatID int64) (*models.Room, error) {
	defer s.locks.Lock(chatID)()

	r, err := s.store.CreateRoom(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"chat": chatID, "room": r.ID}).Info("room created")
	s.send(ctx, chatID, fmt.Sprintf("Room %d created. Players can /join.", r.ID)+s.subscription(chatID))
	return r, nil
}

// Join seats userID in the chat's room. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, chatID, userID int64, name string) error {
	defer s.locks.Lock(chatID)()

	r, err := s.room(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := s.loadGame(ctx, r.ID); err == nil {
		return ErrGameInProgress
	} else if !errors.Is(err, ErrNoGame) {
		return err
	}

	if err := s.store.AddMember(ctx, r.ID, userID, name); err != nil {
		return fmt.Errorf("join room %d: %w", r.ID, err)
	}
	s.logger.WithFields(logrus.Fields{"chat": chatID, "room": r.ID, "user": userID}).Info("player joined")
	s.send(ctx, chatID, fmt.Sprintf("%s joined room %d.", name, r.ID))
	return nil
}

// Begin deals a new game for everyone who joined, then tells every player
// their hand and whose turn it is.
func (s *Service) Begin(ctx context.Context, chatID int64) (*game.Game, error) {
	defer s.locks.Lock(chatID)()

	r, err := s.room(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadGame(ctx, r.ID); err == nil {
		return nil, ErrGameInProgress
	} else if !errors.Is(err, ErrNoGame) {
		return nil, err
	}

	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("list members of room %d: %w", r.ID, err)
	}
	if len(members) < s.minPlayers || len(members) > s.maxPlayers {
		return nil, &PlayerCountError{Min: s.minPlayers, Max: s.maxPlayers, Have: len(members)}
	}

	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	g, err := s.newGame(ids)
	if err != nil {
		return nil, fmt.Errorf("deal game: %w", err)
	}
	if err := s.store.Save(ctx, r.ID, g); err != nil {
		return nil, fmt.Errorf("save game: %w", err)
	}

	names := nameIndex(members)
	current := names.of(g.CurrentPlayer())
	for _, p := range g.Players() {
		hand, _ := g.Hand(p)
		s.send(ctx, p, fmt.Sprintf("Your hand: %s\nIt's %s's turn.", FormatHand(hand), current)+s.subscription(p))
	}
	s.logger.WithFields(logrus.Fields{"chat": chatID, "room": r.ID, "game": g.ID, "players": len(ids)}).Info("game started")
	s.send(ctx, chatID, "Game started!")
	return g, nil
}

// Pass applies userID's move. Engine errors come back unchanged and leave the
// stored game as it was.
func (s *Service) Pass(ctx context.Context, chatID, userID int64, card int) error {
	defer s.locks.Lock(chatID)()

	r, err := s.room(ctx, chatID)
	if err != nil {
		return err
	}
	g, err := s.loadGame(ctx, r.ID)
	if err != nil {
		return err
	}

	hand, winner, err := g.PassCard(userID, card)
	if err != nil {
		return err
	}
	log := s.logger.WithFields(logrus.Fields{"chat": chatID, "room": r.ID, "user": userID, "card": card})

	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list members of room %d: %w", r.ID, err)
	}
	names := nameIndex(members)

	action := models.GameAction{
		GameID:      g.ID,
		RoomID:      r.ID,
		ActionIndex: g.Moves(),
		ActorID:     userID,
		ActionType:  models.ActionPass,
		Card:        card,
		Timestamp:   s.now(),
	}

	// the finished game is stored first so a failed cleanup cannot leave the
	// room playable
	if err := s.store.Save(ctx, r.ID, g); err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	if winner != nil {
		action.ActionType = models.ActionWin
	}
	s.publish(ctx, action)

	next := g.CurrentPlayer()
	s.send(ctx, userID, fmt.Sprintf("You passed %d. Your new hand: %s", card, FormatHand(hand)))
	s.send(ctx, chatID, fmt.Sprintf("%s passed a card to %s.", names.of(userID), names.of(next)))

	if winner != nil {
		s.send(ctx, chatID, fmt.Sprintf("🎉 %s won!", names.of(*winner)))
		log.WithField("winner", *winner).Info("game won")
		if err := s.store.RemoveRoom(ctx, r.ID); err != nil {
			return fmt.Errorf("remove finished room %d: %w", r.ID, err)
		}
		return nil
	}

	log.Debug("card passed")
	nextHand, _ := g.Hand(next)
	s.send(ctx, next, fmt.Sprintf("Your hand: %s\nIt's your turn.", FormatHand(nextHand)))
	return nil
}

// Hand sends userID their current hand.
func (s *Service) Hand(ctx context.Context, chatID, userID int64) ([]int, error) {
	defer s.locks.Lock(chatID)()

	r, err := s.room(ctx, chatID)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGame(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	hand, ok := g.Hand(userID)
	if !ok {
		return nil, ErrNotPlayer
	}
	text := "Your hand: " + FormatHand(hand)
	if g.CurrentPlayer() == userID {
		text += "\nIt's your turn."
	}
	s.send(ctx, userID, text+s.subscription(userID))
	return hand, nil
}

// Stop cancels any running game and removes the room.
func (s *Service) Stop(ctx context.Context, chatID int64) error {
	defer s.locks.Lock(chatID)()

	r, err := s.room(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveRoom(ctx, r.ID); err != nil {
		return fmt.Errorf("remove room %d: %w", r.ID, err)
	}
	s.logger.WithFields(logrus.Fields{"chat": chatID, "room": r.ID}).Info("room stopped")
	s.send(ctx, chatID, "Game stopped.")
	return nil
}

// Reply sends free-form text to a chat or user.
func (s *Service) Reply(ctx context.Context, recipient int64, text string) {
	s.send(ctx, recipient, text)
}

// ReportError tells the chat why a command failed. Failures that are not the
// user's fault are logged and reported generically.
func (s *Service) ReportError(ctx context.Context, chatID int64, err error) {
	s.send(ctx, chatID, ErrorText(err))
	if !IsUserError(err) {
		s.logger.WithField("chat", chatID).WithError(err).Error("command failed")
	}
}

// IsUserError reports whether err is caused by the command itself rather than
// by the service.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrNoRoom, ErrNoGame, ErrGameInProgress, ErrPlayerCount, ErrNotPlayer,
		game.ErrNotYourTurn, game.ErrCardNotHeld, game.ErrGameOver,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorText is the reply shown for a failed command.
func ErrorText(err error) string {
	var countErr *PlayerCountError
	switch {
	case errors.As(err, &countErr):
		return fmt.Sprintf("Need %d-%d players to begin.", countErr.Min, countErr.Max)
	case errors.Is(err, ErrNoRoom):
		return "No room. Use /start first."
	case errors.Is(err, ErrNoGame):
		return "No active game."
	case errors.Is(err, ErrGameInProgress):
		return "A game is already running in this room."
	case errors.Is(err, ErrNotPlayer):
		return "You are not playing in this game."
	case errors.Is(err, game.ErrNotYourTurn):
		return "Not your turn"
	case errors.Is(err, game.ErrCardNotHeld):
		return "You do not have that card"
	case errors.Is(err, game.ErrGameOver):
		return "The game is already over."
	default:
		return "Something went wrong, please try again."
	}
}

// FormatHand renders a hand as "[1, 2, 3, 4]".
func FormatHand(hand []int) string {
	parts := make([]string, len(hand))
	for i, c := range hand {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (s *Service) room(ctx context.Context, chatID int64) (*models.Room, error) {
	r, err := s.store.GetRoomByChat(ctx, chatID)
	if errors.Is(err, database.ErrRoomNotFound) {
		return nil, ErrNoRoom
	}
	if err != nil {
		return nil, fmt.Errorf("get room for chat %d: %w", chatID, err)
	}
	return r, nil
}

// loadGame returns the running game of the room. A finished game left behind
// by a failed cleanup counts as no game.
func (s *Service) loadGame(ctx context.Context, roomID int64) (*game.Game, error) {
	g, err := s.store.Load(ctx, roomID)
	if errors.Is(err, game.ErrGameNotFound) {
		return nil, ErrNoGame
	}
	if err != nil {
		return nil, fmt.Errorf("load game for room %d: %w", roomID, err)
	}
	if g.IsFinished() {
		return nil, ErrNoGame
	}
	return g, nil
}

// subscription is the line telling recipient how to follow its notifications
// over the websocket, or "" without a token issuer.
func (s *Service) subscription(recipient int64) string {
	if s.tokens == nil {
		return ""
	}
	tok, err := s.tokens.CreateToken(recipient)
	if err != nil {
		s.logger.WithField("recipient", recipient).WithError(err).Warn("failed to sign subscription token")
		return ""
	}
	return fmt.Sprintf("\nLive updates: /ws/%d?token=%s", recipient, tok)
}

func (s *Service) send(ctx context.Context, recipient int64, text string) {
	if err := s.notifier.Notify(ctx, recipient, text); err != nil {
		s.logger.WithField("recipient", recipient).WithError(err).Warn("failed to deliver notification")
	}
}

func (s *Service) publish(ctx context.Context, action models.GameAction) {
	if s.actions == nil {
		return
	}
	if err := s.actions.PublishGameAction(ctx, action); err != nil {
		s.logger.WithField("game", action.GameID).WithError(err).Warn("failed to publish game action")
	}
}

type names map[int64]string

func nameIndex(members []models.Member) names {
	n := make(names, len(members))
	for _, m := range members {
		n[m.UserID] = m.Name
	}
	return n
}

func (n names) of(userID int64) string {
	if name := n[userID]; name != "" {
		return name
	}
	return strconv.FormatInt(userID, 10)
}
