package core

import (
	"context"
	"errors"

	"github.com/dkeye/voiceroom/internal/domain"
)

// ErrRoomClosed is returned by Join on a room whose membership already
// reached zero. The manager drops it and creates a fresh one.
var ErrRoomClosed = errors.New("room closed")

// Removal describes a member forced out by moderation.
type Removal struct {
	UserID  domain.UserID
	Session SessionID
	Banned  bool
}

// ModerationOutcome is what the actor is told plus who has to be unbound.
type ModerationOutcome struct {
	Result  domain.Result
	Removed *Removal
}

// RoomService is the core-facing API of a room. Every method is atomic with
// respect to the other methods of the same room, and broadcasts go out in
// application order. It owns the membership set but never touches transport
// resources beyond TrySend.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	Snapshot() domain.RoomState
	Member(uid domain.UserID) (domain.MemberView, bool)

	Join(sid SessionID, ident domain.Identity, conn SignalConnection) (domain.MemberView, error)
	// Leave is a no-op when uid is not a member or, for a non-empty sid,
	// when uid is bound to another session. empty reports teardown.
	Leave(uid domain.UserID, sid SessionID) (left bool, empty bool)

	Chat(uid domain.UserID, text string) (domain.Message, error)
	Private(uid, recipient domain.UserID, text string) (domain.Message, error)
	Announce(uid domain.UserID, text string) (domain.Message, error)
	SendGift(uid, recipient domain.UserID, gift domain.Gift) (domain.Message, error)

	AcquireMic(uid domain.UserID) (int, error)
	ReleaseMic(uid domain.UserID) bool
	TransferMic(actor, target domain.UserID, slot int) error

	Moderate(actor, target domain.UserID, action domain.ModerationAction) (ModerationOutcome, error)

	SetPinned(actor domain.UserID, text *string) error
	SetMicLock(actor domain.UserID, lock bool) error
	SetBackground(actor domain.UserID, value string) error
	SetMusic(actor domain.UserID, value string) error

	SetSpeaking(uid domain.UserID, speaking bool) error
	SetMicActive(uid domain.UserID, active bool) error
}

// RoomManager owns the table of active rooms: create on first join,
// destroy when membership reaches zero.
type RoomManager interface {
	Join(ctx context.Context, id domain.RoomID, sid SessionID, ident domain.Identity, conn SignalConnection) (RoomService, domain.MemberView, error)
	Leave(id domain.RoomID, uid domain.UserID, sid SessionID) bool
	Get(id domain.RoomID) (RoomService, bool)
	List() []domain.RoomInfo
}
