package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxSettingLen = 256

type RoomOptions struct {
	StageSlots  int
	HistorySize int
	ChatMaxLen  int
	XPPerChat   int64
	Persister   Persister
	// OnBackpressure runs under the room lock and must not call back into
	// the room.
	OnBackpressure func(room domain.RoomID, sid SessionID)
	Now            func() time.Time
}

func (o RoomOptions) withDefaults() RoomOptions {
	if o.StageSlots <= 0 {
		o.StageSlots = 10
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 50
	}
	if o.ChatMaxLen <= 0 {
		o.ChatMaxLen = 500
	}
	if o.Persister == nil {
		o.Persister = NopPersister()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type memberEntry struct {
	view domain.MemberView
	sid  SessionID
	conn SignalConnection
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	opts RoomOptions

	mu          sync.Mutex
	id          domain.RoomID
	name        domain.RoomName
	description string
	background  string
	music       string
	micLock     bool
	pinned      *string
	moderators  map[domain.UserID]struct{}
	members     map[domain.UserID]*memberEntry
	stage       *stage
	history     *history
	createdAt   time.Time
	closed      bool
}

func NewRoomService(cfg domain.RoomConfig, opts RoomOptions) RoomService {
	opts = opts.withDefaults()
	r := &roomImpl{
		opts:        opts,
		id:          cfg.ID,
		name:        cfg.Name,
		description: cfg.Description,
		background:  cfg.Background,
		music:       cfg.Music,
		micLock:     cfg.MicLock,
		pinned:      cfg.PinnedMessage,
		moderators:  make(map[domain.UserID]struct{}, len(cfg.Moderators)),
		members:     make(map[domain.UserID]*memberEntry),
		stage:       newStage(opts.StageSlots),
		history:     newHistory(opts.HistorySize),
		createdAt:   opts.Now().UTC(),
	}
	if r.name == "" {
		r.name = domain.RoomName(cfg.ID)
	}
	if r.background == "" {
		r.background = domain.DefaultBackground
	}
	for _, id := range cfg.Moderators {
		r.moderators[id] = struct{}{}
	}
	return r
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *roomImpl) Snapshot() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *roomImpl) Member(uid domain.UserID) (domain.MemberView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[uid]
	if !ok {
		return domain.MemberView{}, false
	}
	return m.view, true
}

func (r *roomImpl) Join(sid SessionID, ident domain.Identity, conn SignalConnection) (domain.MemberView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.MemberView{}, ErrRoomClosed
	}

	if m, ok := r.members[ident.ID]; ok {
		m.sid = sid
		m.conn = conn
		m.view.Username = ident.Username
		m.view.Avatar = ident.Avatar
		r.sendLocked(m, EvRoomStateUpdate, r.snapshotLocked())
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("member refreshed")
		return m.view, nil
	}

	if _, ok := r.moderators[ident.ID]; ok && ident.Role.Rank() < domain.RoleModerator.Rank() {
		ident.Role = domain.RoleModerator
	}
	m := &memberEntry{
		view: *domain.NewMember(ident, r.opts.Now().UTC()),
		sid:  sid,
		conn: conn,
	}
	r.members[ident.ID] = m
	r.sendLocked(m, EvRoomStateUpdate, r.snapshotLocked())
	r.broadcastLocked(EvUserJoined, m.view, ident.ID)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("member added")
	return m.view, nil
}

func (r *roomImpl) Leave(uid domain.UserID, sid SessionID) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[uid]
	if !ok {
		return false, r.closed
	}
	if sid != "" && m.sid != sid {
		return false, false
	}
	r.removeLocked(m, true)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(uid)).Bool("empty", r.closed).Msg("member removed")
	return true, r.closed
}

func (r *roomImpl) Chat(uid domain.UserID, text string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return domain.Message{}, err
	}
	if m.view.IsMuted {
		return domain.Message{}, fmt.Errorf("%w: you are muted", domain.ErrForbidden)
	}
	text, err = r.cleanText(text)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.NewMessage(domain.MessageChat, &m.view.Identity, text, r.opts.Now())
	if r.opts.XPPerChat > 0 {
		m.view.XP += r.opts.XPPerChat
		r.opts.Persister.SaveProfile(uid, domain.Fields{"xp": m.view.XP})
	}
	r.appendLocked(msg)
	return msg, nil
}

func (r *roomImpl) Private(uid, recipient domain.UserID, text string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return domain.Message{}, err
	}
	if m.view.IsMuted {
		return domain.Message{}, fmt.Errorf("%w: you are muted", domain.ErrForbidden)
	}
	if recipient == uid {
		return domain.Message{}, fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidInput)
	}
	to, err := r.memberLocked(recipient)
	if err != nil {
		return domain.Message{}, err
	}
	text, err = r.cleanText(text)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.NewMessage(domain.MessagePrivate, &m.view.Identity, text, r.opts.Now())
	msg.RecipientID = recipient
	r.sendLocked(m, EvPrivateMessage, msg)
	r.sendLocked(to, EvPrivateMessage, msg)
	return msg, nil
}

func (r *roomImpl) Announce(uid domain.UserID, text string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return domain.Message{}, err
	}
	if err := AuthorizeSetting(m.view.Role, "announcement"); err != nil {
		return domain.Message{}, err
	}
	text, err = r.cleanText(text)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.NewMessage(domain.MessageAnnouncement, &m.view.Identity, text, r.opts.Now())
	r.appendLocked(msg)
	return msg, nil
}

func (r *roomImpl) SendGift(uid, recipient domain.UserID, gift domain.Gift) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, err := r.memberLocked(uid)
	if err != nil {
		return domain.Message{}, err
	}
	if recipient == uid {
		return domain.Message{}, fmt.Errorf("%w: cannot gift yourself", domain.ErrConflict)
	}
	to, err := r.memberLocked(recipient)
	if err != nil {
		return domain.Message{}, err
	}
	gift.Name = strings.TrimSpace(gift.Name)
	if gift.Name == "" || gift.Value <= 0 || len(gift.Name) > maxSettingLen {
		return domain.Message{}, fmt.Errorf("%w: bad gift", domain.ErrInvalidInput)
	}

	from.view.XP += gift.Value
	to.view.GiftsReceived++
	r.opts.Persister.SaveProfile(uid, domain.Fields{"xp": from.view.XP})
	r.opts.Persister.SaveProfile(recipient, domain.Fields{"giftsReceived": to.view.GiftsReceived})

	text := fmt.Sprintf("%s sent %s to %s", from.view.Username, gift.Name, to.view.Username)
	msg := domain.NewMessage(domain.MessageGift, &from.view.Identity, text, r.opts.Now())
	msg.RecipientID = recipient
	g := gift
	msg.Gift = &g
	r.appendLocked(msg)
	r.broadcastStateLocked()
	return msg, nil
}

func (r *roomImpl) AcquireMic(uid domain.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return 0, err
	}
	if r.micLock && !m.view.Role.IsStaff() {
		return 0, fmt.Errorf("%w: mics are locked", domain.ErrForbidden)
	}
	if !m.view.CanMicAscent {
		return 0, fmt.Errorf("%w: mic ascent disabled", domain.ErrForbidden)
	}
	slot, err := r.stage.acquire(uid)
	if err != nil {
		return 0, err
	}
	m.view.SetSlot(slot)
	r.broadcastStateLocked()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(uid)).Int("slot", slot).Msg("mic acquired")
	return slot, nil
}

func (r *roomImpl) ReleaseMic(uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[uid]
	if !ok {
		return false
	}
	if r.stage.release(uid) == 0 {
		return false
	}
	m.view.SetSlot(0)
	r.broadcastStateLocked()
	return true
}

func (r *roomImpl) TransferMic(actorID, targetID domain.UserID, slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, err := r.memberLocked(actorID)
	if err != nil {
		return err
	}
	if err := AuthorizeSetting(actor.view.Role, "mic transfer"); err != nil {
		return err
	}
	target, err := r.memberLocked(targetID)
	if err != nil {
		return err
	}
	if targetID != actorID && target.view.Role.IsStaff() && actor.view.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: cannot move a %s", domain.ErrForbidden, target.view.Role)
	}
	prev, err := r.stage.place(targetID, slot)
	if err != nil {
		return err
	}
	if prev == slot {
		return nil
	}
	target.view.SetSlot(slot)
	r.broadcastStateLocked()
	return nil
}

func (r *roomImpl) Moderate(actorID, targetID domain.UserID, action domain.ModerationAction) (ModerationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, err := r.memberLocked(actorID)
	if err != nil {
		return ModerationOutcome{}, err
	}
	if err := Authorize(actor.view.Role, "", action); err != nil {
		return ModerationOutcome{}, err
	}

	var target *memberEntry
	if action.Targeted() {
		if targetID == actorID {
			return ModerationOutcome{}, fmt.Errorf("%w: cannot %s yourself", domain.ErrForbidden, action)
		}
		if target, err = r.memberLocked(targetID); err != nil {
			return ModerationOutcome{}, err
		}
		if err := Authorize(actor.view.Role, target.view.Role, action); err != nil {
			return ModerationOutcome{}, err
		}
	}

	out := ModerationOutcome{}
	targetName := ""
	if target != nil {
		targetName = target.view.Username
	}

	switch action {
	case domain.ActionMute:
		if target.view.IsMuted {
			return out, fmt.Errorf("%w: %s is already muted", domain.ErrConflict, targetName)
		}
		target.view.IsMuted = true
	case domain.ActionUnmute:
		if !target.view.IsMuted {
			return out, fmt.Errorf("%w: %s is not muted", domain.ErrConflict, targetName)
		}
		target.view.IsMuted = false
	case domain.ActionKick:
		out.Removed = &Removal{UserID: targetID, Session: target.sid}
		r.sendLocked(target, EvKickedFromRoom, TerminalPayload{Reason: "kicked by " + actor.view.Username})
		r.removeLocked(target, false)
	case domain.ActionBan:
		out.Removed = &Removal{UserID: targetID, Session: target.sid, Banned: true}
		r.sendLocked(target, EvBannedFromApp, TerminalPayload{Reason: "banned by " + actor.view.Username})
		r.removeLocked(target, false)
		r.opts.Persister.SaveProfile(targetID, domain.Fields{"isBanned": true})
	case domain.ActionAssignModerator:
		if target.view.Role.IsStaff() {
			return out, fmt.Errorf("%w: %s is already %s", domain.ErrConflict, targetName, target.view.Role)
		}
		target.view.Role = domain.RoleModerator
		r.moderators[targetID] = struct{}{}
		r.opts.Persister.SaveProfile(targetID, domain.Fields{"role": string(domain.RoleModerator)})
		r.opts.Persister.SaveRoomConfig(r.id, domain.Fields{"moderators": r.moderatorListLocked()})
	case domain.ActionRemoveModerator:
		if target.view.Role != domain.RoleModerator {
			return out, fmt.Errorf("%w: %s is not a moderator", domain.ErrConflict, targetName)
		}
		target.view.Role = domain.RoleMember
		delete(r.moderators, targetID)
		r.opts.Persister.SaveProfile(targetID, domain.Fields{"role": string(domain.RoleMember)})
		r.opts.Persister.SaveRoomConfig(r.id, domain.Fields{"moderators": r.moderatorListLocked()})
	case domain.ActionMuteAll:
		for uid, m := range r.members {
			if uid == actorID || m.view.Role.IsStaff() {
				continue
			}
			m.view.IsMuted = true
		}
	}

	text := systemText(actor.view.Username, targetName, action)
	r.broadcastStateLocked()
	r.appendLocked(domain.NewMessage(domain.MessageSystem, nil, text, r.opts.Now()))
	out.Result = domain.Ok(text)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("actor", string(actorID)).Str("target", string(targetID)).Str("action", string(action)).Msg("moderation applied")
	return out, nil
}

func (r *roomImpl) SetPinned(actorID domain.UserID, text *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorizeSettingLocked(actorID, "pinned message"); err != nil {
		return err
	}
	if text != nil {
		t, err := r.cleanText(*text)
		if err != nil {
			return err
		}
		text = &t
	}
	r.pinned = text
	var stored any
	if text != nil {
		stored = *text
	}
	r.opts.Persister.SaveRoomConfig(r.id, domain.Fields{"pinnedMessage": stored})
	r.broadcastStateLocked()
	return nil
}

func (r *roomImpl) SetMicLock(actorID domain.UserID, lock bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorizeSettingLocked(actorID, "mic lock"); err != nil {
		return err
	}
	if r.micLock == lock {
		return nil
	}
	r.micLock = lock
	r.opts.Persister.SaveRoomConfig(r.id, domain.Fields{"micLock": lock})
	r.broadcastLocked(EvMicLockUpdate, lock, "")
	r.broadcastStateLocked()
	return nil
}

func (r *roomImpl) SetBackground(actorID domain.UserID, value string) error {
	return r.setAppearance(actorID, "background", value, &r.background)
}

func (r *roomImpl) SetMusic(actorID domain.UserID, value string) error {
	return r.setAppearance(actorID, "music", value, &r.music)
}

func (r *roomImpl) setAppearance(actorID domain.UserID, field, value string, dst *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorizeSettingLocked(actorID, field); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if len(value) > maxSettingLen {
		return fmt.Errorf("%w: %s too long", domain.ErrInvalidInput, field)
	}
	*dst = value
	r.opts.Persister.SaveRoomConfig(r.id, domain.Fields{field: value})
	r.broadcastStateLocked()
	return nil
}

func (r *roomImpl) SetSpeaking(uid domain.UserID, speaking bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return err
	}
	if m.view.IsSpeaking == speaking {
		return nil
	}
	m.view.IsSpeaking = speaking
	r.broadcastLocked(EvSpeakingStatus, SpeakingStatusPayload{UserID: uid, IsSpeaking: speaking}, "")
	return nil
}

func (r *roomImpl) SetMicActive(uid domain.UserID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.memberLocked(uid)
	if err != nil {
		return err
	}
	if m.view.MicActive == active {
		return nil
	}
	m.view.MicActive = active
	if !active {
		m.view.IsSpeaking = false
	}
	r.broadcastLocked(EvMicStatus, MicStatusPayload{UserID: uid, Active: active}, uid)
	return nil
}

func (r *roomImpl) memberLocked(uid domain.UserID) (*memberEntry, error) {
	m, ok := r.members[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in room %s", domain.ErrNotFound, uid, r.id)
	}
	return m, nil
}

func (r *roomImpl) authorizeSettingLocked(actorID domain.UserID, what string) error {
	m, err := r.memberLocked(actorID)
	if err != nil {
		return err
	}
	return AuthorizeSetting(m.view.Role, what)
}

func (r *roomImpl) cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > r.opts.ChatMaxLen {
		return "", fmt.Errorf("%w: message too long", domain.ErrInvalidInput)
	}
	return text, nil
}

// removeLocked drops the member, frees its slot and tears the room down
// when it was the last one. Callers that broadcast the state themselves
// pass announce=false.
func (r *roomImpl) removeLocked(m *memberEntry, announce bool) {
	uid := m.view.ID
	slot := r.stage.release(uid)
	delete(r.members, uid)
	r.broadcastLocked(EvUserLeft, UserLeftPayload{UserID: uid}, "")
	if slot > 0 && announce {
		r.broadcastStateLocked()
	}
	if len(r.members) == 0 {
		r.closed = true
	}
}

func (r *roomImpl) appendLocked(msg domain.Message) {
	r.history.push(msg)
	r.opts.Persister.AppendMessage(r.id, msg)
	r.broadcastLocked(EvChatMessage, msg, "")
}

func (r *roomImpl) broadcastStateLocked() {
	r.broadcastLocked(EvRoomStateUpdate, r.snapshotLocked(), "")
}

func (r *roomImpl) sendLocked(m *memberEntry, typ string, payload any) {
	if m.conn == nil {
		return
	}
	frame, err := Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("type", typ).Msg("encode")
		return
	}
	if err := m.conn.TrySend(frame); err != nil {
		r.dropLocked(m, err)
	}
}

func (r *roomImpl) broadcastLocked(typ string, payload any, except domain.UserID) {
	frame, err := Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("type", typ).Msg("encode")
		return
	}
	sent, dropped := 0, 0
	for uid, m := range r.members {
		if uid == except || m.conn == nil {
			continue
		}
		if err := m.conn.TrySend(frame); err != nil {
			dropped++
			r.dropLocked(m, err)
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("type", typ).Int("sent_to", sent).Int("dropped", dropped).Msg("broadcast result")
}

func (r *roomImpl) dropLocked(m *memberEntry, err error) {
	log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(m.sid)).Msg("send failed")
	if r.opts.OnBackpressure != nil {
		r.opts.OnBackpressure(r.id, m.sid)
	}
}

func (r *roomImpl) moderatorListLocked() []domain.UserID {
	out := make([]domain.UserID, 0, len(r.moderators))
	for id := range r.moderators {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) snapshotLocked() domain.RoomState {
	members := make([]domain.MemberView, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m.view)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ID < members[j].ID
	})
	var pinned *string
	if r.pinned != nil {
		p := *r.pinned
		pinned = &p
	}
	return domain.RoomState{
		ID:            r.id,
		Name:          r.name,
		Description:   r.description,
		Background:    r.background,
		Music:         r.music,
		MicLock:       r.micLock,
		PinnedMessage: pinned,
		Moderators:    r.moderatorListLocked(),
		StageSlots:    r.stage.snapshot(),
		Members:       members,
		ChatHistory:   r.history.list(),
		CreatedAt:     r.createdAt,
	}
}
