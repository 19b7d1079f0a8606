// internal/database/sqlite.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS room_users (
	room_id   INTEGER NOT NULL,
	user_id   INTEGER NOT NULL,
	name      TEXT    NOT NULL DEFAULT '',
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS games (
	room_id    INTEGER PRIMARY KEY,
	state      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS game_actions (
	game_id      TEXT    NOT NULL,
	action_index INTEGER NOT NULL,
	room_id      INTEGER NOT NULL,
	actor_id     INTEGER NOT NULL,
	action_type  TEXT    NOT NULL,
	card         INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (game_id, action_index)
);
`

// SQLite is the local store. Timestamps are kept as unix nanoseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "parchi.db"
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database %s: %w", path, err)
	}
	// a single connection keeps writers serialized and ":memory:" shared
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping error: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateRoom(ctx context.Context, chatID int64) (*models.Room, error) {
	q := `INSERT OR IGNORE INTO rooms (chat_id, created_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, chatID, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to insert room for chat %d: %w", chatID, err)
	}
	return s.GetRoomByChat(ctx, chatID)
}

func (s *SQLite) GetRoomByChat(ctx context.Context, chatID int64) (*models.Room, error) {
	var (
		r       models.Room
		created int64
	)
	q := `SELECT room_id, chat_id, created_at FROM rooms WHERE chat_id = ?`
	err := s.db.QueryRowContext(ctx, q, chatID).Scan(&r.ID, &r.ChatID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created)
	return &r, nil
}

func (s *SQLite) AddMember(ctx context.Context, roomID, userID int64, name string) error {
	q := `INSERT OR IGNORE INTO room_users (room_id, user_id, name, joined_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, roomID, userID, name, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add user %d to room %d: %w", userID, roomID, err)
	}
	return nil
}

func (s *SQLite) ListMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	q := `
		SELECT room_id, user_id, name, joined_at
		FROM room_users
		WHERE room_id = ?
		ORDER BY joined_at, rowid
	`
	rows, err := s.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var (
			m      models.Member
			joined int64
		)
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Name, &joined); err != nil {
			return nil, err
		}
		m.JoinedAt = time.Unix(0, joined)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLite) RemoveRoom(ctx context.Context, roomID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM rooms WHERE room_id = ?`,
			`DELETE FROM room_users WHERE room_id = ?`,
			`DELETE FROM games WHERE room_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, roomID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) Save(ctx context.Context, roomID int64, g *game.Game) error {
	blob, err := game.Encode(g)
	if err != nil {
		return err
	}
	q := `REPLACE INTO games (room_id, state, updated_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, roomID, blob, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to save game for room %d: %w", roomID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, roomID int64) (*game.Game, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM games WHERE room_id = ?`, roomID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return game.Decode(blob)
}

func (s *SQLite) Delete(ctx context.Context, roomID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE room_id = ?`, roomID)
	return err
}

func (s *SQLite) InsertActions(ctx context.Context, actions []models.GameAction) error {
	q := `
		INSERT OR IGNORE INTO game_actions (
			game_id, action_index, room_id, actor_id, action_type, card, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range actions {
			_, err := tx.ExecContext(ctx, q,
				a.GameID.String(), a.ActionIndex, a.RoomID, a.ActorID, a.ActionType, a.Card, a.Timestamp.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("insert action %d of game %s: %w", a.ActionIndex, a.GameID, err)
			}
		}
		return nil
	})
}

// CountActions returns how many actions are stored for the game.
func (s *SQLite) CountActions(ctx context.Context, gameID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_actions WHERE game_id = ?`, gameID).Scan(&n)
	return n, err
}

func (s *SQLite) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}
