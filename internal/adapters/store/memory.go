package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voiceroom/internal/domain"
)

// Memory keeps documents in process. Used by default and in tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.Profile
	rooms    map[domain.RoomID]domain.RoomConfig
	messages map[domain.RoomID][]domain.Message
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[domain.UserID]domain.Profile),
		rooms:    make(map[domain.RoomID]domain.RoomConfig),
		messages: make(map[domain.RoomID][]domain.Message),
	}
}

func (m *Memory) GetProfile(ctx context.Context, id domain.UserID) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", domain.ErrNotFound, id)
	}
	p.ID = id
	return &p, nil
}

// PutProfile upserts: missing documents are created from the given fields.
func (m *Memory) PutProfile(ctx context.Context, id domain.UserID, f domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[id]
	if err := applyProfile(&p, f); err != nil {
		return err
	}
	m.profiles[id] = p
	return nil
}

func (m *Memory) GetRoomConfig(ctx context.Context, id domain.RoomID) (*domain.RoomConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	c.ID = id
	c.Moderators = append([]domain.UserID(nil), c.Moderators...)
	c.StageSlots = append([]domain.UserID(nil), c.StageSlots...)
	return &c, nil
}

func (m *Memory) PutRoomConfig(ctx context.Context, id domain.RoomID, f domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rooms[id]
	if !ok {
		c = domain.DefaultRoomConfig(id)
	}
	if err := applyRoomConfig(&c, f); err != nil {
		return err
	}
	m.rooms[id] = c
	return nil
}

// AppendMessage keeps at most keep messages per room; keep <= 0 keeps all.
func (m *Memory) AppendMessage(ctx context.Context, id domain.RoomID, msg domain.Message, keep int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.messages[id], msg)
	if keep > 0 && len(entries) > keep {
		entries = append([]domain.Message(nil), entries[len(entries)-keep:]...)
	}
	m.messages[id] = entries
	return nil
}

func (m *Memory) Messages(ctx context.Context, id domain.RoomID) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages[id]...), nil
}
