// internal/database/memory.go
package database

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
)

type actionKey struct {
	gameID string
	index  int
}

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	*game.GameStore

	mu      sync.Mutex
	nextID  int64
	rooms   map[int64]*models.Room // keyed by chat id
	members map[int64][]models.Member
	actions map[actionKey]models.GameAction
}

func NewMemory() *Memory {
	return &Memory{
		GameStore: game.NewGameStore(),
		rooms:     make(map[int64]*models.Room),
		members:   make(map[int64][]models.Member),
		actions:   make(map[actionKey]models.GameAction),
	}
}

func (m *Memory) Migrate(context.Context) error { return nil }
func (m *Memory) Close() error                  { return nil }

func (m *Memory) CreateRoom(_ context.Context, chatID int64) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[chatID]; ok {
		cp := *r
		return &cp, nil
	}
	m.nextID++
	r := &models.Room{ID: m.nextID, ChatID: chatID, CreatedAt: time.Now()}
	m.rooms[chatID] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) GetRoomByChat(_ context.Context, chatID int64) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[chatID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) AddMember(_ context.Context, roomID, userID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members[roomID] {
		if mem.UserID == userID {
			return nil
		}
	}
	m.members[roomID] = append(m.members[roomID], models.Member{
		RoomID:   roomID,
		UserID:   userID,
		Name:     name,
		JoinedAt: time.Now(),
	})
	return nil
}

func (m *Memory) ListMembers(_ context.Context, roomID int64) ([]models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Member(nil), m.members[roomID]...), nil
}

func (m *Memory) RemoveRoom(ctx context.Context, roomID int64) error {
	m.mu.Lock()
	for chatID, r := range m.rooms {
		if r.ID == roomID {
			delete(m.rooms, chatID)
		}
	}
	delete(m.members, roomID)
	m.mu.Unlock()
	return m.GameStore.Delete(ctx, roomID)
}

// InsertActions ignores actions already stored under the same game and index.
func (m *Memory) InsertActions(_ context.Context, actions []models.GameAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range actions {
		k := actionKey{gameID: a.GameID.String(), index: a.ActionIndex}
		if _, ok := m.actions[k]; !ok {
			m.actions[k] = a
		}
	}
	return nil
}

// CountActions returns how many actions are stored for the game.
func (m *Memory) CountActions(_ context.Context, gameID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.actions {
		if k.gameID == gameID {
			n++
		}
	}
	return n, nil
}
