// internal/game/game.go
package game

import (
	"errors"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
)

const (
	// HandSize is the number of cards dealt to each player.
	HandSize = 4
	// CopiesPerRank is how many cards of each rank go into the deck.
	CopiesPerRank = 4
)

var (
	ErrInvalidPlayerCount = errors.New("a game needs at least one player")
	ErrDuplicatePlayer    = errors.New("player is listed more than once")
	ErrInvalidDeal        = errors.New("dealt hands do not form a full deck")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrCardNotHeld        = errors.New("you do not have that card")
	ErrGameOver           = errors.New("the game is already over")
)

// Shuffler permutes a deck in place.
type Shuffler func(deck []int)

// uniformShuffle is a Fisher-Yates shuffle over math/rand/v2.
func uniformShuffle(deck []int) {
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}

// Option configures NewGame.
type Option func(*options)

type options struct {
	shuffle Shuffler
	hands   map[int64][]int
	id      uuid.UUID
}

// WithShuffler replaces the uniform shuffle, mostly for tests.
func WithShuffler(s Shuffler) Option {
	return func(o *options) { o.shuffle = s }
}

// WithHands deals the given hands instead of shuffling a fresh deck.
// The hands must add up to a legal deck for the roster.
func WithHands(hands map[int64][]int) Option {
	return func(o *options) { o.hands = hands }
}

// WithID sets the game id instead of generating a random one.
func WithID(id uuid.UUID) Option {
	return func(o *options) { o.id = id }
}

// Game is the state of one round of 16 Parchi Dhap.
//
// Each move the current player passes one card on. The card passed by the
// previous mover lands in the current player's hand, so exactly one card is
// in transit once the first move has been made. The first player to hold four
// of a kind wins.
//
// Game does no locking; callers serialize access per game.
type Game struct {
	ID uuid.UUID

	players      []int64
	hands        map[int64][]int
	currentIndex int
	previousCard *int
	winner       *int64
	moves        int
}

// NewGame builds the deck for the roster, shuffles it and deals HandSize cards
// to every player in seat order.
func NewGame(players []int64, opts ...Option) (*Game, error) {
	if len(players) == 0 {
		return nil, ErrInvalidPlayerCount
	}
	seen := make(map[int64]struct{}, len(players))
	for _, p := range players {
		if _, dup := seen[p]; dup {
			return nil, ErrDuplicatePlayer
		}
		seen[p] = struct{}{}
	}

	o := options{shuffle: uniformShuffle}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}

	g := &Game{
		ID:      o.id,
		players: slices.Clone(players),
		hands:   make(map[int64][]int, len(players)),
	}

	if o.hands != nil {
		for _, p := range players {
			if len(o.hands[p]) != HandSize {
				return nil, ErrInvalidDeal
			}
			g.hands[p] = slices.Clone(o.hands[p])
		}
		if len(o.hands) != len(players) || !g.cardsConserved() {
			return nil, ErrInvalidDeal
		}
		return g, nil
	}

	deck := NewDeck(len(players))
	o.shuffle(deck)
	for _, p := range players {
		g.hands[p] = slices.Clone(deck[:HandSize])
		deck = deck[HandSize:]
	}
	return g, nil
}

// NewDeck returns an unshuffled deck of CopiesPerRank cards for every rank
// from 1 to n.
func NewDeck(n int) []int {
	deck := make([]int, 0, n*CopiesPerRank)
	for rank := 1; rank <= n; rank++ {
		for range CopiesPerRank {
			deck = append(deck, rank)
		}
	}
	return deck
}

// PassCard takes card out of actor's hand and hands it on to the next player.
// Whatever the previous mover passed is added to actor's hand first. It returns
// the actor's new hand and the winner, if the move finished the game.
// A failed call leaves the game untouched.
func (g *Game) PassCard(actor int64, card int) ([]int, *int64, error) {
	if g.winner != nil {
		return nil, nil, ErrGameOver
	}
	if actor != g.CurrentPlayer() {
		return nil, nil, ErrNotYourTurn
	}
	hand := g.hands[actor]
	idx := slices.Index(hand, card)
	if idx < 0 {
		return nil, nil, ErrCardNotHeld
	}

	hand = slices.Delete(hand, idx, idx+1)
	if g.previousCard != nil {
		hand = append(hand, *g.previousCard)
	}
	g.hands[actor] = hand
	passed := card
	g.previousCard = &passed

	if IsWinningHand(hand) {
		w := actor
		g.winner = &w
	}
	g.currentIndex = (g.currentIndex + 1) % len(g.players)
	g.moves++

	return slices.Clone(hand), g.winnerCopy(), nil
}

// IsWinningHand reports whether hand is four of a kind.
func IsWinningHand(hand []int) bool {
	return len(hand) == HandSize && isUniform(hand)
}

// isUniform reports whether hand is non-empty and holds a single value.
func isUniform(hand []int) bool {
	if len(hand) == 0 {
		return false
	}
	for _, c := range hand[1:] {
		if c != hand[0] {
			return false
		}
	}
	return true
}

func (g *Game) CurrentPlayer() int64 {
	return g.players[g.currentIndex]
}

func (g *Game) CurrentIndex() int {
	return g.currentIndex
}

// Players returns the seat order.
func (g *Game) Players() []int64 {
	return slices.Clone(g.players)
}

// Hand returns a copy of the player's hand.
func (g *Game) Hand(player int64) ([]int, bool) {
	h, ok := g.hands[player]
	if !ok {
		return nil, false
	}
	return slices.Clone(h), true
}

// PreviousCard returns the card in transit, if any.
func (g *Game) PreviousCard() (int, bool) {
	if g.previousCard == nil {
		return 0, false
	}
	return *g.previousCard, true
}

func (g *Game) IsFinished() bool {
	return g.winner != nil
}

func (g *Game) Winner() (int64, bool) {
	if g.winner == nil {
		return 0, false
	}
	return *g.winner, true
}

// Moves is the number of moves applied so far.
func (g *Game) Moves() int {
	return g.moves
}

func (g *Game) winnerCopy() *int64 {
	if g.winner == nil {
		return nil
	}
	w := *g.winner
	return &w
}

// cardsConserved checks that hands plus the card in transit make up exactly
// CopiesPerRank copies of every rank 1..N.
func (g *Game) cardsConserved() bool {
	n := len(g.players)
	counts := make(map[int]int, n)
	for _, p := range g.players {
		for _, c := range g.hands[p] {
			counts[c]++
		}
	}
	if g.previousCard != nil {
		counts[*g.previousCard]++
	}
	if len(counts) != n {
		return false
	}
	for rank := 1; rank <= n; rank++ {
		if counts[rank] != CopiesPerRank {
			return false
		}
	}
	return true
}
