package domain

import "time"

type (
	RoomName string
	RoomID   string
)

const (
	MaxRoomIDLen = 64

	DefaultBackground = "default"
)

// RoomConfig is the room document of the external store.
type RoomConfig struct {
	ID            RoomID   `json:"id"`
	Name          RoomName `json:"name"`
	Description   string   `json:"description"`
	Background    string   `json:"background"`
	Music         string   `json:"music"`
	MicLock       bool     `json:"micLock"`
	PinnedMessage *string  `json:"pinnedMessage"`
	Moderators    []UserID `json:"moderators"`
	StageSlots    []UserID `json:"stageSlots"`
}

// DefaultRoomConfig is used when the store has no document for the room.
func DefaultRoomConfig(id RoomID) RoomConfig {
	return RoomConfig{
		ID:         id,
		Name:       RoomName(id),
		Background: DefaultBackground,
	}
}

// RoomState is the full snapshot sent to late joiners and on every
// state-changing action.
type RoomState struct {
	ID            RoomID       `json:"id"`
	Name          RoomName     `json:"name"`
	Description   string       `json:"description"`
	Background    string       `json:"background"`
	Music         string       `json:"music"`
	MicLock       bool         `json:"micLock"`
	PinnedMessage *string      `json:"pinnedMessage"`
	Moderators    []UserID     `json:"moderators"`
	StageSlots    []UserID     `json:"stageSlots"`
	Members       []MemberView `json:"members"`
	ChatHistory   []Message    `json:"chatHistory"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// RoomInfo is the listing entry for active rooms.
type RoomInfo struct {
	ID          RoomID   `json:"id"`
	Name        RoomName `json:"name"`
	MemberCount int      `json:"memberCount"`
}
