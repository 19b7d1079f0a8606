// internal/game/game_store.go
package game

import (
	"context"
	"errors"
	"sync"
)

var ErrGameNotFound = errors.New("no game stored for room")

// GameRepository persists live games keyed by room id.
type GameRepository interface {
	Save(ctx context.Context, roomID int64, g *Game) error
	Load(ctx context.Context, roomID int64) (*Game, error)
	Delete(ctx context.Context, roomID int64) error
}

// GameStore keeps games in memory. Games are stored encoded so that callers
// never share a *Game with the store.
type GameStore struct {
	mu    sync.Mutex
	games map[int64][]byte
}

func NewGameStore() *GameStore {
	return &GameStore{
		games: make(map[int64][]byte),
	}
}

func (s *GameStore) Save(_ context.Context, roomID int64, g *Game) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[roomID] = data
	return nil
}

func (s *GameStore) Load(_ context.Context, roomID int64) (*Game, error) {
	s.mu.Lock()
	data, ok := s.games[roomID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}
	return Decode(data)
}

func (s *GameStore) Delete(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, roomID)
	return nil
}

// Len returns the number of stored games.
func (s *GameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}
