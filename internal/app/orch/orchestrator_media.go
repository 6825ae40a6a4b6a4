package orch

import (
	"encoding/json"

	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

// Signal relays an offer, answer or candidate to another member of the
// sender's room. A vanished target is silently ignored.
func (o *Orchestrator) Signal(sid core.SessionID, target domain.UserID, kind app.SignalKind, payload json.RawMessage) error {
	ident, err := o.Registry.Resolve(sid)
	if err != nil {
		return err
	}
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	if _, err := kind.Event(); err != nil {
		return err
	}
	o.Relay.Forward(roomID, ident.ID, target, kind, payload)
	return nil
}

// ToggleMic tells the room that the local microphone went on or off so
// every mesh can add or drop links to this member.
func (o *Orchestrator) ToggleMic(sid core.SessionID, active bool) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetMicActive(ident.ID, active)
}

func (o *Orchestrator) Speaking(sid core.SessionID, speaking bool) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetSpeaking(ident.ID, speaking)
}
