package signal

import (
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

// handleModerate always answers the actor with a moderationUpdate; the
// room itself only hears about actions that were applied.
func (ctl *SignalWSController) handleModerate(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		TargetUserID domain.UserID           `json:"targetUserId"`
		Action       domain.ModerationAction `json:"action"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvModerateUser, err)
		return
	}
	res, _ := ctl.Orch.Moderate(sid, p.TargetUserID, p.Action)
	ctl.send(conn, core.EvModerationUpdate, core.ModerationUpdatePayload{
		TargetUserID: p.TargetUserID,
		Action:       p.Action,
		Success:      res.Success,
		Message:      res.Message,
	})
}
