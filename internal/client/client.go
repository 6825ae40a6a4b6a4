// Package client is a headless room participant: it speaks the signalling
// protocol over a websocket and keeps a peer mesh for the audio.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/client/mesh"
	"github.com/dkeye/voiceroom/internal/client/speaking"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrKicked = fmt.Errorf("%w: kicked from room", domain.ErrForbidden)
	ErrBanned = fmt.Errorf("%w: banned from the service", domain.ErrForbidden)
	ErrClosed = errors.New("client closed")
)

const writeWait = 5 * time.Second

type Options struct {
	// URL of the signalling endpoint, e.g. ws://localhost:8080/api/ws/signal
	URL      string
	Room     domain.RoomID
	Identity domain.Identity
	Speaking speaking.Options
	// OnEvent sees every server event after the client handled it.
	OnEvent func(typ string, payload json.RawMessage)
}

type Client struct {
	opts   Options
	conn   *websocket.Conn
	mesh   *mesh.Mesh
	speak  *speaking.Debouncer
	logger zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	state   *domain.RoomState
	joined  bool
	closed  bool
}

// Dial connects to the server. Links are built by factory; the room is not
// joined until Join.
func Dial(ctx context.Context, opts Options, factory mesh.LinkFactory) (*Client, error) {
	if err := opts.Identity.Validate(); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	c := &Client{
		opts: opts,
		conn: conn,
		logger: log.With().
			Str("module", "client").
			Str("user", string(opts.Identity.ID)).
			Str("room", string(opts.Room)).
			Logger(),
	}
	c.mesh = mesh.New(opts.Identity.ID, factory, c)
	c.speak = speaking.New(opts.Speaking, c.publishSpeaking)
	return c, nil
}

func (c *Client) Mesh() *mesh.Mesh { return c.mesh }

func (c *Client) Join() error {
	return c.send(core.EvJoinRoom, struct {
		RoomID   domain.RoomID   `json:"roomId"`
		Identity domain.Identity `json:"identity"`
	}{c.opts.Room, c.opts.Identity})
}

func (c *Client) Leave() error {
	c.mesh.Close()
	c.speak.Reset()
	c.mu.Lock()
	c.joined = false
	c.state = nil
	c.mu.Unlock()
	return c.send(core.EvLeaveRoom, nil)
}

func (c *Client) Chat(text string) error {
	return c.send(core.EvSendChatMessage, map[string]string{"text": text})
}

func (c *Client) Moderate(target domain.UserID, action domain.ModerationAction) error {
	return c.send(core.EvModerateUser, struct {
		TargetUserID domain.UserID           `json:"targetUserId"`
		Action       domain.ModerationAction `json:"action"`
	}{target, action})
}

// SetMic switches the local microphone and renegotiates the mesh.
func (c *Client) SetMic(ctx context.Context, on bool) error {
	if !on {
		c.speak.Reset()
	}
	return c.mesh.SetMic(ctx, on)
}

// Level feeds one audio level sample in [0,1] into speaking detection.
// Samples are ignored while the microphone is off.
func (c *Client) Level(level float64) {
	if !c.mesh.MicOn() {
		return
	}
	c.speak.Sample(level)
}

func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// State is the last room snapshot received, or nil before the join.
func (c *Client) State() *domain.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SendSignal(event string, to domain.UserID, payload json.RawMessage) error {
	return c.send(event, core.SignalPayload{TargetUserID: to, Payload: payload})
}

func (c *Client) SetMicActive(active bool) error {
	return c.send(core.EvToggleMic, map[string]bool{"active": active})
}

func (c *Client) publishSpeaking(speaking bool) {
	if err := c.send(core.EvSpeaking, map[string]bool{"isSpeaking": speaking}); err != nil {
		c.logger.Warn().Err(err).Msg("publish speaking")
	}
}

func (c *Client) send(typ string, payload any) error {
	frame, err := core.Encode(typ, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Run reads server events until the connection ends or ctx is done. It
// returns ErrKicked or ErrBanned for the terminal notices.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	defer c.mesh.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		err = c.handle(ctx, env)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env.Type, env.Payload)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) handle(ctx context.Context, env core.Envelope) error {
	switch env.Type {
	case core.EvRoomStateUpdate:
		var st domain.RoomState
		if err := json.Unmarshal(env.Payload, &st); err != nil {
			return nil
		}
		ids := make([]domain.UserID, 0, len(st.Members))
		for _, m := range st.Members {
			ids = append(ids, m.ID)
		}
		c.mu.Lock()
		c.state = &st
		c.joined = true
		c.mu.Unlock()
		c.mesh.Sync(ids)

	case core.EvUserJoined:
		var v domain.MemberView
		if err := json.Unmarshal(env.Payload, &v); err == nil {
			c.mesh.MemberJoined(ctx, v.ID)
		}

	case core.EvUserLeft:
		var p core.UserLeftPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mesh.MemberLeft(p.UserID)
		}

	case core.EvMicStatus:
		var p core.MicStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mesh.RemoteMic(ctx, p.UserID, p.Active)
		}

	case core.EvWebRTCOffer, core.EvWebRTCAnswer, core.EvWebRTCICECandidate:
		var p core.SignalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.From == "" {
			return nil
		}
		switch env.Type {
		case core.EvWebRTCOffer:
			c.mesh.HandleOffer(ctx, p.From, p.Payload)
		case core.EvWebRTCAnswer:
			c.mesh.HandleAnswer(p.From, p.Payload)
		default:
			c.mesh.HandleCandidate(p.From, p.Payload)
		}

	case core.EvKickedFromRoom, core.EvBannedFromApp:
		var p core.TerminalPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warn().Str("event", env.Type).Str("reason", p.Reason).Msg("removed from room")
		c.mesh.Close()
		c.speak.Reset()
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		if env.Type == core.EvBannedFromApp {
			return ErrBanned
		}
		return ErrKicked

	case core.EvChatMessage:
		var m domain.Message
		if err := json.Unmarshal(env.Payload, &m); err == nil {
			c.logger.Info().Str("from", string(m.SenderID)).Str("text", m.Text).Msg("chat")
		}

	case core.EvError:
		var p core.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warn().Str("action", p.Action).Str("code", p.Code).Msg(p.Message)
	}
	return nil
}

// Close ends the session; Run returns shortly after.
func (c *Client) Close() error {
	c.speak.Reset()
	c.mesh.Close()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
