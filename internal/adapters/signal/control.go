package signal

import "github.com/dkeye/voiceroom/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, core.EvPong, nil)
}
