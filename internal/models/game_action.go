package models

import (
	"time"

	"github.com/google/uuid"
)

// GameAction is one applied move, as kept in the action history.
type GameAction struct {
	GameID      uuid.UUID `json:"game_id"`
	RoomID      int64     `json:"room_id"`
	ActionIndex int       `json:"action_index"`
	ActorID     int64     `json:"actor_id"`
	ActionType  string    `json:"action_type"`
	Card        int       `json:"card"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	ActionPass = "pass"
	ActionWin  = "win"
)
