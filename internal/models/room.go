// internal/models/room.go
package models

import "time"

// Room is one game table bound to a single chat.
type Room struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a user who joined a room. Members are seated in join order.
type Member struct {
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}
