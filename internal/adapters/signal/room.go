package signal

import (
	"context"
	"errors"

	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	RoomID   domain.RoomID   `json:"roomId"`
	Identity domain.Identity `json:"identity"`
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p joinPayload
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvJoinRoom, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Str("user", string(p.Identity.ID)).Msg("join")

	_, err := ctl.Orch.Join(context.Background(), sid, p.RoomID, p.Identity)
	if errors.Is(err, orch.ErrBanned) {
		ctl.send(conn, core.EvBannedFromApp, core.TerminalPayload{Reason: "banned"})
		conn.Close()
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
		ctl.sendError(conn, core.EvJoinRoom, err)
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	if err := ctl.Orch.Leave(sid); err != nil {
		ctl.sendError(conn, core.EvLeaveRoom, err)
	}
}

func (ctl *SignalWSController) handleMicLock(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Lock bool `json:"lock"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvToggleMicLock, err)
		return
	}
	if err := ctl.Orch.SetMicLock(sid, p.Lock); err != nil {
		ctl.sendError(conn, core.EvToggleMicLock, err)
	}
}

func (ctl *SignalWSController) handlePinned(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Text *string `json:"text"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSetPinnedMessage, err)
		return
	}
	if err := ctl.Orch.SetPinned(sid, p.Text); err != nil {
		ctl.sendError(conn, core.EvSetPinnedMessage, err)
	}
}

func (ctl *SignalWSController) handleAppearance(sid core.SessionID, conn *WsSignalConn, typ string, data []byte) {
	var p struct {
		Value string `json:"value"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, typ, err)
		return
	}
	var err error
	if typ == core.EvSetMusic {
		err = ctl.Orch.SetMusic(sid, p.Value)
	} else {
		err = ctl.Orch.SetBackground(sid, p.Value)
	}
	if err != nil {
		ctl.sendError(conn, typ, err)
	}
}
