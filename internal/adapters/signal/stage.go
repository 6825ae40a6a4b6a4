package signal

import (
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleMicAscent(sid core.SessionID, conn *WsSignalConn) {
	slot, err := ctl.Orch.MicAscent(sid)
	if err != nil {
		ctl.sendError(conn, core.EvRequestMicAscent, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("slot", slot).Msg("on stage")
}

func (ctl *SignalWSController) handleMicDescent(sid core.SessionID, conn *WsSignalConn) {
	if err := ctl.Orch.MicDescent(sid); err != nil {
		ctl.sendError(conn, core.EvRequestMicDescent, err)
	}
}

func (ctl *SignalWSController) handleTransferMic(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		TargetUserID domain.UserID `json:"targetUserId"`
		SlotIndex    int           `json:"slotIndex"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvTransferMic, err)
		return
	}
	if err := ctl.Orch.TransferMic(sid, p.TargetUserID, p.SlotIndex); err != nil {
		ctl.sendError(conn, core.EvTransferMic, err)
	}
}
