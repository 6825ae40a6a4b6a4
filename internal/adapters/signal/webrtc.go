package signal

import (
	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/core"
)

var signalKinds = map[string]app.SignalKind{
	core.EvWebRTCOffer:        app.SignalOffer,
	core.EvWebRTCAnswer:       app.SignalAnswer,
	core.EvWebRTCICECandidate: app.SignalICECandidate,
}

// handleWebRTC relays without looking at the SDP or candidate.
func (ctl *SignalWSController) handleWebRTC(sid core.SessionID, conn *WsSignalConn, typ string, data []byte) {
	var p core.SignalPayload
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, typ, err)
		return
	}
	if err := ctl.Orch.Signal(sid, p.TargetUserID, signalKinds[typ], p.Payload); err != nil {
		ctl.sendError(conn, typ, err)
	}
}
