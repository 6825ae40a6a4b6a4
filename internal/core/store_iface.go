package core

import (
	"context"

	"github.com/dkeye/voiceroom/internal/domain"
)

// Persister mirrors durable fields to the external store.
// Implementations must not block the caller.
type Persister interface {
	SaveProfile(id domain.UserID, fields domain.Fields)
	SaveRoomConfig(id domain.RoomID, fields domain.Fields)
	AppendMessage(id domain.RoomID, msg domain.Message)
}

// RoomConfigSource seeds rooms on first join.
type RoomConfigSource interface {
	GetRoomConfig(ctx context.Context, id domain.RoomID) (*domain.RoomConfig, error)
}

// ProfileSource resolves stored profiles on join.
type ProfileSource interface {
	GetProfile(ctx context.Context, id domain.UserID) (*domain.Profile, error)
}

// MessageSource reads back the mirrored chat backlog of a room, oldest
// first.
type MessageSource interface {
	Messages(ctx context.Context, id domain.RoomID) ([]domain.Message, error)
}

type nopPersister struct{}

func (nopPersister) SaveProfile(domain.UserID, domain.Fields)    {}
func (nopPersister) SaveRoomConfig(domain.RoomID, domain.Fields) {}
func (nopPersister) AppendMessage(domain.RoomID, domain.Message) {}

// NopPersister drops every write.
func NopPersister() Persister { return nopPersister{} }
