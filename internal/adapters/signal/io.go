package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				log.Info().Str("module", "signal").Msg("writePump drained, closing")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

// readPump is the only reader of a connection, so events from one
// connection are handled strictly in arrival order.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid)
		if ctl.Chat != nil {
			ctl.Chat.Prune()
		}
		c.Close()
		cancel()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "", fmt.Errorf("%w: malformed envelope", domain.ErrInvalidInput))
		return
	}

	switch env.Type {
	case core.EvJoinRoom:
		ctl.handleJoin(sid, c, env.Payload)
	case core.EvLeaveRoom:
		ctl.handleLeave(sid, c)
	case core.EvSendChatMessage:
		ctl.handleChat(sid, c, env.Payload)
	case core.EvSendPrivateMessage:
		ctl.handlePrivate(sid, c, env.Payload)
	case core.EvSendAnnouncement:
		ctl.handleAnnouncement(sid, c, env.Payload)
	case core.EvSendGift:
		ctl.handleGift(sid, c, env.Payload)
	case core.EvRequestMicAscent:
		ctl.handleMicAscent(sid, c)
	case core.EvRequestMicDescent:
		ctl.handleMicDescent(sid, c)
	case core.EvTransferMic:
		ctl.handleTransferMic(sid, c, env.Payload)
	case core.EvModerateUser:
		ctl.handleModerate(sid, c, env.Payload)
	case core.EvToggleMicLock:
		ctl.handleMicLock(sid, c, env.Payload)
	case core.EvSetPinnedMessage:
		ctl.handlePinned(sid, c, env.Payload)
	case core.EvSetBackground, core.EvSetMusic:
		ctl.handleAppearance(sid, c, env.Type, env.Payload)
	case core.EvSpeaking:
		ctl.handleSpeaking(sid, c, env.Payload)
	case core.EvToggleMic:
		ctl.handleToggleMic(sid, c, env.Payload)
	case core.EvWebRTCOffer, core.EvWebRTCAnswer, core.EvWebRTCICECandidate:
		ctl.handleWebRTC(sid, c, env.Type, env.Payload)
	case core.EvPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env.Type, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidInput, env.Type))
	}
}

// decodePayload treats a missing payload as an empty object.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func (ctl *SignalWSController) send(c *WsSignalConn, typ string, payload any) {
	frame, err := core.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("send marshal")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", typ).Msg("send dropped")
	}
}

// sendError reports a rejected request to the sender only.
func (ctl *SignalWSController) sendError(c *WsSignalConn, action string, err error) {
	ctl.send(c, core.EvError, core.ErrorPayload{
		Action:  action,
		Code:    domain.Code(err),
		Message: err.Error(),
	})
}
