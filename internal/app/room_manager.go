package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]core.RoomService
	configs core.RoomConfigSource
	opts    core.RoomOptions
	timeout time.Duration
}

// NewRoomManager seeds new rooms from configs; a nil source means defaults.
func NewRoomManager(configs core.RoomConfigSource, opts core.RoomOptions, timeout time.Duration) *RoomManagerImpl {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RoomManagerImpl{
		rooms:   make(map[domain.RoomID]core.RoomService),
		configs: configs,
		opts:    opts,
		timeout: timeout,
	}
}

// SetBackpressureHandler must be called before the first join.
func (f *RoomManagerImpl) SetBackpressureHandler(fn func(domain.RoomID, core.SessionID)) {
	f.mu.Lock()
	f.opts.OnBackpressure = fn
	f.mu.Unlock()
}

func (f *RoomManagerImpl) Join(
	ctx context.Context,
	id domain.RoomID,
	sid core.SessionID,
	ident domain.Identity,
	conn core.SignalConnection,
) (core.RoomService, domain.MemberView, error) {
	for {
		room := f.getOrCreate(ctx, id)
		view, err := room.Join(sid, ident, conn)
		if errors.Is(err, core.ErrRoomClosed) {
			f.drop(id, room)
			continue
		}
		if err != nil {
			return nil, domain.MemberView{}, err
		}
		return room, view, nil
	}
}

func (f *RoomManagerImpl) Leave(id domain.RoomID, uid domain.UserID, sid core.SessionID) bool {
	room, ok := f.Get(id)
	if !ok {
		return false
	}
	left, empty := room.Leave(uid, sid)
	if empty {
		f.drop(id, room)
	}
	return left
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []domain.RoomInfo {
	f.mu.RLock()
	rooms := make([]core.RoomService, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		st := r.Snapshot()
		out = append(out, domain.RoomInfo{ID: st.ID, Name: st.Name, MemberCount: len(st.Members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *RoomManagerImpl) getOrCreate(ctx context.Context, id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}

	// the store call happens outside the lock so other rooms are not held up
	cfg := f.loadConfig(ctx, id)

	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(cfg, f.opts)
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) loadConfig(ctx context.Context, id domain.RoomID) domain.RoomConfig {
	def := domain.DefaultRoomConfig(id)
	if f.configs == nil {
		return def
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	cfg, err := f.configs.GetRoomConfig(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return def
	case err != nil:
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("room config unavailable, using defaults")
		return def
	}
	cfg.ID = id
	// persisted slots would reference users that are not here
	cfg.StageSlots = nil
	return *cfg
}

func (f *RoomManagerImpl) drop(id domain.RoomID, room core.RoomService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[id]; ok && cur == room {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room destroyed")
	}
}
