// internal/database/db.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// Store is the relational persistence behind the bot: rooms, their members,
// the serialized game of each room and the action history.
type Store interface {
	game.GameRepository

	// CreateRoom returns the room bound to chatID, creating it if needed.
	CreateRoom(ctx context.Context, chatID int64) (*models.Room, error)
	GetRoomByChat(ctx context.Context, chatID int64) (*models.Room, error)
	// AddMember is a no-op if the user already joined the room.
	AddMember(ctx context.Context, roomID, userID int64, name string) error
	// ListMembers returns members in join order.
	ListMembers(ctx context.Context, roomID int64) ([]models.Member, error)
	// RemoveRoom drops the room, its members and its game.
	RemoveRoom(ctx context.Context, roomID int64) error

	InsertActions(ctx context.Context, actions []models.GameAction) error

	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	DatabaseURL string
}

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		s, err = OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		s, err = ConnectPostgres(ctx, opts.DatabaseURL)
	case "memory":
		s = NewMemory()
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate %s schema: %w", opts.Driver, err)
	}
	return s, nil
}
