package core

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/stretchr/testify/require"
)

type recConn struct {
	mu     sync.Mutex
	frames []Envelope
	full   bool
	closed bool
}

func (c *recConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *recConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *recConn) last(t *testing.T, typ string, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == typ {
			require.NoError(t, json.Unmarshal(c.frames[i].Payload, v))
			return
		}
	}
	t.Fatalf("no %s frame, got %v", typ, c.frames)
}

func (c *recConn) count(typ string) int {
	n := 0
	for _, tp := range c.types() {
		if tp == typ {
			n++
		}
	}
	return n
}

func (c *recConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type persistCall struct {
	kind   string
	id     string
	fields domain.Fields
}

type recPersister struct {
	mu    sync.Mutex
	calls []persistCall
}

func (p *recPersister) SaveProfile(id domain.UserID, f domain.Fields) {
	p.mu.Lock()
	p.calls = append(p.calls, persistCall{"profile", string(id), f})
	p.mu.Unlock()
}

func (p *recPersister) SaveRoomConfig(id domain.RoomID, f domain.Fields) {
	p.mu.Lock()
	p.calls = append(p.calls, persistCall{"room", string(id), f})
	p.mu.Unlock()
}

func (p *recPersister) AppendMessage(id domain.RoomID, m domain.Message) {
	p.mu.Lock()
	p.calls = append(p.calls, persistCall{"message", string(id), domain.Fields{"text": m.Text}})
	p.mu.Unlock()
}

func (p *recPersister) find(kind, id, field string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		c := p.calls[i]
		if c.kind == kind && c.id == id {
			if v, ok := c.fields[field]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

func ident(id string, role domain.Role) domain.Identity {
	return domain.Identity{ID: domain.UserID(id), Username: id, Role: role, CanMicAscent: true}
}

// tick returns a clock advancing one millisecond per call so join order is
// stable.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type fixture struct {
	room    RoomService
	persist *recPersister
	conns   map[string]*recConn
}

func newFixture(t *testing.T, opts RoomOptions) *fixture {
	t.Helper()
	p := &recPersister{}
	opts.Persister = p
	if opts.Now == nil {
		opts.Now = tick()
	}
	return &fixture{
		room:    NewRoomService(domain.DefaultRoomConfig("R1"), opts),
		persist: p,
		conns:   map[string]*recConn{},
	}
}

func (f *fixture) join(t *testing.T, id string, role domain.Role) *recConn {
	t.Helper()
	return f.joinIdent(t, ident(id, role))
}

func (f *fixture) joinIdent(t *testing.T, id domain.Identity) *recConn {
	t.Helper()
	c := &recConn{}
	_, err := f.room.Join(SessionID("sid-"+string(id.ID)), id, c)
	require.NoError(t, err)
	f.conns[string(id.ID)] = c
	return c
}
