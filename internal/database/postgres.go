// internal/database/postgres.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    BIGSERIAL PRIMARY KEY,
	chat_id    BIGINT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS room_users (
	room_id   BIGINT NOT NULL,
	user_id   BIGINT NOT NULL,
	name      TEXT   NOT NULL DEFAULT '',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS games (
	room_id    BIGINT PRIMARY KEY,
	state      BYTEA  NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS game_actions (
	game_id      UUID   NOT NULL,
	action_index INT    NOT NULL,
	room_id      BIGINT NOT NULL,
	actor_id     BIGINT NOT NULL,
	action_type  TEXT   NOT NULL,
	card         INT    NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, action_index)
);
`

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a pool for connStr and pings it.
func ConnectPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRoom(ctx context.Context, chatID int64) (*models.Room, error) {
	q := `INSERT INTO rooms (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, chatID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert room for chat %d: %w", chatID, err)
	}
	return p.GetRoomByChat(ctx, chatID)
}

func (p *Postgres) GetRoomByChat(ctx context.Context, chatID int64) (*models.Room, error) {
	var r models.Room
	q := `SELECT room_id, chat_id, created_at FROM rooms WHERE chat_id = $1`
	err := p.pool.QueryRow(ctx, q, chatID).Scan(&r.ID, &r.ChatID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) AddMember(ctx context.Context, roomID, userID int64, name string) error {
	q := `
		INSERT INTO room_users (room_id, user_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, roomID, userID, name)
		return err
	})
}

func (p *Postgres) ListMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	q := `
		SELECT room_id, user_id, name, joined_at
		FROM room_users
		WHERE room_id = $1
		ORDER BY joined_at, user_id
	`
	rows, err := p.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Name, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (p *Postgres) RemoveRoom(ctx context.Context, roomID int64) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM rooms WHERE room_id = $1`,
			`DELETE FROM room_users WHERE room_id = $1`,
			`DELETE FROM games WHERE room_id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, roomID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) Save(ctx context.Context, roomID int64, g *game.Game) error {
	blob, err := game.Encode(g)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO games (room_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`
	err = pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, roomID, blob)
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to save game for room %d: %w", roomID, err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, roomID int64) (*game.Game, error) {
	var blob []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM games WHERE room_id = $1`, roomID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return game.Decode(blob)
}

func (p *Postgres) Delete(ctx context.Context, roomID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM games WHERE room_id = $1`, roomID)
	return err
}

func (p *Postgres) InsertActions(ctx context.Context, actions []models.GameAction) error {
	q := `
		INSERT INTO game_actions (
			game_id, action_index, room_id, actor_id, action_type, card, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id, action_index) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range actions {
			batch.Queue(q, a.GameID, a.ActionIndex, a.RoomID, a.ActorID, a.ActionType, a.Card, a.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
