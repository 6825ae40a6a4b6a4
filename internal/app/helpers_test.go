package app

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Envelope
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func member(id string) domain.Identity {
	return domain.Identity{ID: domain.UserID(id), Username: id, Role: domain.RoleMember, CanMicAscent: true}
}
