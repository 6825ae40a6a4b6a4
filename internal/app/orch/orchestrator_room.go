package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, ident domain.Identity) (domain.MemberView, error) {
	if roomID == "" || len(roomID) > domain.MaxRoomIDLen {
		return domain.MemberView{}, fmt.Errorf("%w: bad room id", domain.ErrInvalidInput)
	}
	if ident.Role == "" {
		ident.Role = domain.RoleMember
	}
	ident.XP, ident.GiftsReceived, ident.CanMicAscent = 0, 0, true
	if err := ident.Validate(); err != nil {
		return domain.MemberView{}, err
	}
	conn, ok := o.Registry.Conn(sid)
	if !ok {
		return domain.MemberView{}, app.ErrUnknownConnection
	}
	if _, banned := o.banned.Load(ident.ID); banned {
		return domain.MemberView{}, ErrBanned
	}

	ident, err := o.loadProfile(ctx, ident)
	if err != nil {
		return domain.MemberView{}, err
	}

	prev, prevErr := o.Registry.Resolve(sid)
	cur, bound := o.Registry.RoomOf(sid)
	if bound && (cur != roomID || (prevErr == nil && prev.ID != ident.ID)) {
		o.Registry.UnbindRoom(sid)
		o.Rooms.Leave(cur, prev.ID, sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(cur)).Msg("left previous room")
		bound = false
	}

	if err := o.Registry.Register(sid, ident); err != nil {
		return domain.MemberView{}, err
	}
	// bound before the room announces the newcomer, so offers sent on
	// userJoined already reach it
	if err := o.Registry.BindRoom(sid, roomID); err != nil {
		return domain.MemberView{}, err
	}
	_, view, err := o.Rooms.Join(ctx, roomID, sid, ident, conn)
	if err != nil {
		if !bound {
			o.Registry.UnbindRoomIf(sid, roomID)
		}
		return domain.MemberView{}, err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(ident.ID)).Str("room", string(roomID)).Msg("added to room")
	return view, nil
}

func (o *Orchestrator) loadProfile(ctx context.Context, ident domain.Identity) (domain.Identity, error) {
	if o.Profiles == nil {
		return ident, nil
	}
	if o.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.StoreTimeout)
		defer cancel()
	}
	p, err := o.Profiles.GetProfile(ctx, ident.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		o.persister().SaveProfile(ident.ID, domain.ProfileOf(&ident))
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("user", string(ident.ID)).Msg("profile unavailable, using identity as is")
	case p.IsBanned:
		return ident, ErrBanned
	default:
		ident.ApplyProfile(p)
	}
	return ident, nil
}

// Leave is idempotent: leaving twice or without a room is not an error.
func (o *Orchestrator) Leave(sid core.SessionID) error {
	ident, err := o.Registry.Resolve(sid)
	if err != nil {
		return err
	}
	roomID, ok := o.Registry.UnbindRoom(sid)
	if !ok {
		return nil
	}
	o.Rooms.Leave(roomID, ident.ID, sid)
	return nil
}

func (o *Orchestrator) Chat(sid core.SessionID, text string) (domain.Message, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return domain.Message{}, err
	}
	return room.Chat(ident.ID, text)
}

func (o *Orchestrator) Private(sid core.SessionID, to domain.UserID, text string) (domain.Message, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return domain.Message{}, err
	}
	return room.Private(ident.ID, to, text)
}

func (o *Orchestrator) Announce(sid core.SessionID, text string) (domain.Message, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return domain.Message{}, err
	}
	return room.Announce(ident.ID, text)
}

func (o *Orchestrator) Gift(sid core.SessionID, to domain.UserID, gift domain.Gift) (domain.Message, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return domain.Message{}, err
	}
	return room.SendGift(ident.ID, to, gift)
}

func (o *Orchestrator) MicAscent(sid core.SessionID) (int, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return 0, err
	}
	return room.AcquireMic(ident.ID)
}

func (o *Orchestrator) MicDescent(sid core.SessionID) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	room.ReleaseMic(ident.ID)
	return nil
}

func (o *Orchestrator) TransferMic(sid core.SessionID, target domain.UserID, slot int) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.TransferMic(ident.ID, target, slot)
}

// Moderate applies a moderation action and evicts whoever it removed.
// Failures reach the actor only.
func (o *Orchestrator) Moderate(sid core.SessionID, target domain.UserID, action domain.ModerationAction) (domain.Result, error) {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return domain.Fail(err), err
	}
	out, err := room.Moderate(ident.ID, target, action)
	if err != nil {
		log.Info().Err(err).Str("module", "orch").Str("actor", string(ident.ID)).Str("target", string(target)).Str("action", string(action)).Msg("moderation rejected")
		return domain.Fail(err), err
	}
	if out.Removed != nil {
		o.evict(room.ID(), *out.Removed)
	}
	return out.Result, nil
}

// evict unbinds a kicked session. A ban covers the whole service: every
// session of the user is dropped, whatever room it sits in.
func (o *Orchestrator) evict(roomID domain.RoomID, rm core.Removal) {
	if !rm.Banned {
		o.Registry.UnbindRoomIf(rm.Session, roomID)
		return
	}
	o.banned.Store(rm.UserID, struct{}{})
	sids := o.Registry.SessionsOf(rm.UserID)
	if len(sids) == 0 {
		sids = []core.SessionID{rm.Session}
	}
	for _, sid := range sids {
		snap, bound, ok := o.Registry.Unregister(sid)
		if !ok {
			continue
		}
		if sid != rm.Session {
			if bound != "" {
				o.Rooms.Leave(bound, rm.UserID, sid)
			}
			if snap.Conn != nil {
				if frame, err := core.Encode(core.EvBannedFromApp, core.TerminalPayload{Reason: "banned"}); err == nil {
					_ = snap.Conn.TrySend(frame)
				}
			}
		}
		if snap.Conn != nil {
			// Close drains the queued bannedFromApp notice before hanging up.
			snap.Conn.Close()
		}
		log.Info().Str("module", "orch").Str("user", string(rm.UserID)).Str("sid", string(sid)).Msg("banned user disconnected")
	}
}

func (o *Orchestrator) SetMicLock(sid core.SessionID, lock bool) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetMicLock(ident.ID, lock)
}

func (o *Orchestrator) SetPinned(sid core.SessionID, text *string) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetPinned(ident.ID, text)
}

func (o *Orchestrator) SetBackground(sid core.SessionID, value string) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetBackground(ident.ID, value)
}

func (o *Orchestrator) SetMusic(sid core.SessionID, value string) error {
	ident, room, err := o.resolveRoom(sid)
	if err != nil {
		return err
	}
	return room.SetMusic(ident.ID, value)
}
