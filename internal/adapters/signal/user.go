package signal

import (
	"github.com/dkeye/voiceroom/internal/core"
)

func (ctl *SignalWSController) handleSpeaking(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		IsSpeaking bool `json:"isSpeaking"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSpeaking, err)
		return
	}
	if err := ctl.Orch.Speaking(sid, p.IsSpeaking); err != nil {
		ctl.sendError(conn, core.EvSpeaking, err)
	}
}

func (ctl *SignalWSController) handleToggleMic(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Active bool `json:"active"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvToggleMic, err)
		return
	}
	if err := ctl.Orch.ToggleMic(sid, p.Active); err != nil {
		ctl.sendError(conn, core.EvToggleMic, err)
	}
}
