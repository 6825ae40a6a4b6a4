package orch

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrBanned rejects a join from a profile flagged in the store.
var ErrBanned = fmt.Errorf("%w: banned from the service", domain.ErrForbidden)

// ErrNotInRoom is returned for room actions from an unbound connection.
var ErrNotInRoom = fmt.Errorf("%w: not in a room", domain.ErrNotFound)

type Orchestrator struct {
	Registry     *app.Registry
	Rooms        core.RoomManager
	Policy       app.Policy
	Relay        *app.Relay
	Profiles     core.ProfileSource
	Mirror       core.Persister
	StoreTimeout time.Duration
	// History serves the chat backlog of a room; nil disables it.
	History core.MessageSource

	// users banned by this process; the store learns it asynchronously
	banned sync.Map
}

// OnBackpressure is handed to the rooms; it runs under a room lock, so it
// only closes the transport and lets the read loop do the disconnect.
func (o *Orchestrator) OnBackpressure(roomID domain.RoomID, sid core.SessionID) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(roomID, sid) {
	case app.KickMember:
		if conn, ok := o.Registry.Conn(sid); ok {
			log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("sid", string(sid)).Msg("slow connection dropped")
			conn.Close()
		}
		// a slow peer gets no drain
		o.Registry.Cancel(sid)
	case app.MarkSlow:
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("sid", string(sid)).Msg("slow connection")
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("sid", string(sid)).Msg("frame dropped")
	}
}

// Disconnect is an implicit leave: slot release, membership removal and
// the userLeft broadcast all happen as for an explicit leave.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	snap, roomID, ok := o.Registry.Unregister(sid)
	if !ok || roomID == "" || snap.Identity.ID == "" {
		return
	}
	o.Rooms.Leave(roomID, snap.Identity.ID, sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("disconnected")
}

func (o *Orchestrator) resolveRoom(sid core.SessionID) (domain.Identity, core.RoomService, error) {
	ident, err := o.Registry.Resolve(sid)
	if err != nil {
		return domain.Identity{}, nil, err
	}
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.Identity{}, nil, ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return domain.Identity{}, nil, ErrNotInRoom
	}
	return ident, room, nil
}

func (o *Orchestrator) persister() core.Persister {
	if o.Mirror == nil {
		return core.NopPersister()
	}
	return o.Mirror
}
