// internal/game/codec.go
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported game state version")
	ErrCorruptState       = errors.New("corrupt game state")
)

// snapshotV1 is the stored form of a Game. Hands are listed in seat order so
// the encoding does not depend on map iteration.
type snapshotV1 struct {
	Version      int       `json:"v"`
	ID           uuid.UUID `json:"id"`
	Players      []int64   `json:"players"`
	Hands        [][]int   `json:"hands"`
	CurrentIndex int       `json:"current_index"`
	PreviousCard *int      `json:"previous_card,omitempty"`
	Winner       *int64    `json:"winner,omitempty"`
	Moves        int       `json:"moves"`
}

// Encode serializes g into a versioned, deterministic blob.
func Encode(g *Game) ([]byte, error) {
	snap := snapshotV1{
		Version:      SchemaVersion,
		ID:           g.ID,
		Players:      slices.Clone(g.players),
		Hands:        make([][]int, len(g.players)),
		CurrentIndex: g.currentIndex,
		PreviousCard: g.previousCard,
		Winner:       g.winner,
		Moves:        g.moves,
	}
	for i, p := range g.players {
		hand := g.hands[p]
		if hand == nil {
			hand = []int{}
		}
		snap.Hands[i] = hand
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game %s: %w", g.ID, err)
	}
	return data, nil
}

// Decode rebuilds a Game from a blob produced by Encode. The decoded state is
// checked against the game invariants before it is returned.
func Decode(data []byte) (*Game, error) {
	var header struct {
		Version int `json:"v"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if header.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	var snap snapshotV1
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return snap.toGame()
}

func (s snapshotV1) toGame() (*Game, error) {
	n := len(s.Players)
	if n == 0 {
		return nil, fmt.Errorf("%w: no players", ErrCorruptState)
	}
	if len(s.Hands) != n {
		return nil, fmt.Errorf("%w: %d hands for %d players", ErrCorruptState, len(s.Hands), n)
	}
	if s.CurrentIndex < 0 || s.CurrentIndex >= n {
		return nil, fmt.Errorf("%w: current index %d out of range", ErrCorruptState, s.CurrentIndex)
	}
	if s.Moves < 0 {
		return nil, fmt.Errorf("%w: negative move count %d", ErrCorruptState, s.Moves)
	}
	if s.CurrentIndex != s.Moves%n {
		return nil, fmt.Errorf("%w: current index %d after %d moves", ErrCorruptState, s.CurrentIndex, s.Moves)
	}
	if (s.PreviousCard != nil) != (s.Moves > 0) {
		return nil, fmt.Errorf("%w: card in transit does not match %d moves", ErrCorruptState, s.Moves)
	}
	for i, hand := range s.Hands {
		if len(hand) != handSizeAt(i, s.Moves) {
			return nil, fmt.Errorf("%w: seat %d holds %d cards", ErrCorruptState, i, len(hand))
		}
	}

	g := &Game{
		ID:           s.ID,
		players:      slices.Clone(s.Players),
		hands:        make(map[int64][]int, n),
		currentIndex: s.CurrentIndex,
		previousCard: s.PreviousCard,
		winner:       s.Winner,
		moves:        s.Moves,
	}
	for i, p := range s.Players {
		if _, dup := g.hands[p]; dup {
			return nil, fmt.Errorf("%w: player %d listed twice", ErrCorruptState, p)
		}
		g.hands[p] = slices.Clone(s.Hands[i])
	}
	if g.winner != nil {
		if err := g.checkWinner(); err != nil {
			return nil, err
		}
	}
	if !g.cardsConserved() {
		return nil, fmt.Errorf("%w: card count does not match the deck", ErrCorruptState)
	}
	return g, nil
}

// handSizeAt is the hand size of seat i after moves moves. The first mover
// receives nothing on the opening move and keeps one card fewer from then on.
func handSizeAt(seat, moves int) int {
	if seat == 0 && moves > 0 {
		return HandSize - 1
	}
	return HandSize
}

// checkWinner verifies that the winner made the last move and holds a
// winning hand.
func (g *Game) checkWinner() error {
	w := *g.winner
	hand, ok := g.hands[w]
	if !ok {
		return fmt.Errorf("%w: winner %d is not a player", ErrCorruptState, w)
	}
	if g.moves == 0 {
		return fmt.Errorf("%w: winner %d before any move", ErrCorruptState, w)
	}
	n := len(g.players)
	if last := g.players[(g.currentIndex-1+n)%n]; last != w {
		return fmt.Errorf("%w: winner %d did not make the last move", ErrCorruptState, w)
	}
	if !IsWinningHand(hand) {
		return fmt.Errorf("%w: winner %d does not hold four of a kind", ErrCorruptState, w)
	}
	return nil
}
