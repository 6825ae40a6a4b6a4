package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrUnknownConnection is returned for sessions without a registered identity.
var ErrUnknownConnection = fmt.Errorf("%w: unknown connection", domain.ErrNotFound)

type sessionEntry struct {
	RoomID   domain.RoomID
	Identity *domain.Identity
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
}

// Registry maps live connections to identities and rooms. Reads run
// concurrently; writes are serialized.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]core.SessionID),
	}
}

// BindSignal attaches a fresh transport; the identity comes later on join.
func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Conn = conn
		e.Cancel = cancel
	} else {
		r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// Register records the verified identity of a bound connection. The newest
// session of a user wins the user index.
func (r *Registry) Register(sid core.SessionID, ident domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownConnection
	}
	if e.Identity != nil && e.Identity.ID != ident.ID {
		if r.users[e.Identity.ID] == sid {
			delete(r.users, e.Identity.ID)
		}
	}
	e.Identity = &ident
	r.users[ident.ID] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("registered identity")
	return nil
}

func (r *Registry) Resolve(sid core.SessionID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Identity == nil {
		return domain.Identity{}, ErrUnknownConnection
	}
	return *e.Identity, nil
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok && e.Conn != nil {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) SessionOf(uid domain.UserID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.users[uid]
	return sid, ok
}

// SessionsOf lists every live session registered to uid, including the
// older ones the user index no longer points at.
func (r *Registry) SessionsOf(uid domain.UserID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SessionID
	for sid, e := range r.sessions {
		if e.Identity != nil && e.Identity.ID == uid {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) BindRoom(sid core.SessionID, roomID domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Identity == nil {
		return ErrUnknownConnection
	}
	e.RoomID = roomID
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("bound room")
	return nil
}

// UnbindRoom clears the room association and reports the previous room.
func (r *Registry) UnbindRoom(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	prev := e.RoomID
	e.RoomID = ""
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(prev)).Msg("removed room association")
	return prev, true
}

// UnbindRoomIf only clears the association when it still points at roomID.
func (r *Registry) UnbindRoomIf(sid core.SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID != roomID {
		return false
	}
	e.RoomID = ""
	return true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

type regSnap struct {
	SID      core.SessionID
	Identity domain.Identity
	Conn     core.SignalConnection
}

// Unregister forgets the session entirely and returns what it was bound to.
func (r *Registry) Unregister(sid core.SessionID) (regSnap, domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return regSnap{}, "", false
	}
	delete(r.sessions, sid)
	snap := regSnap{SID: sid, Conn: e.Conn}
	if e.Identity != nil {
		snap.Identity = *e.Identity
		if r.users[e.Identity.ID] == sid {
			delete(r.users, e.Identity.ID)
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return snap, e.RoomID, true
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
