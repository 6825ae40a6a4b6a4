package signal

import (
	"fmt"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

var errRateLimited = fmt.Errorf("%w: slow down", domain.ErrRateLimited)

// allowChat charges the chat window of the user behind sid.
func (ctl *SignalWSController) allowChat(sid core.SessionID) error {
	if ctl.Chat == nil {
		return nil
	}
	ident, err := ctl.Orch.Registry.Resolve(sid)
	if err != nil {
		return err
	}
	if !ctl.Chat.Allow(ident.ID) {
		return errRateLimited
	}
	return nil
}

func (ctl *SignalWSController) handleChat(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSendChatMessage, err)
		return
	}
	if err := ctl.allowChat(sid); err != nil {
		ctl.sendError(conn, core.EvSendChatMessage, err)
		return
	}
	if _, err := ctl.Orch.Chat(sid, p.Text); err != nil {
		ctl.sendError(conn, core.EvSendChatMessage, err)
	}
}

func (ctl *SignalWSController) handlePrivate(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		RecipientID domain.UserID `json:"recipientId"`
		Text        string        `json:"text"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSendPrivateMessage, err)
		return
	}
	if err := ctl.allowChat(sid); err != nil {
		ctl.sendError(conn, core.EvSendPrivateMessage, err)
		return
	}
	if _, err := ctl.Orch.Private(sid, p.RecipientID, p.Text); err != nil {
		ctl.sendError(conn, core.EvSendPrivateMessage, err)
	}
}

func (ctl *SignalWSController) handleAnnouncement(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSendAnnouncement, err)
		return
	}
	if _, err := ctl.Orch.Announce(sid, p.Text); err != nil {
		ctl.sendError(conn, core.EvSendAnnouncement, err)
	}
}

func (ctl *SignalWSController) handleGift(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p struct {
		RecipientID domain.UserID `json:"recipientId"`
		Gift        string        `json:"gift"`
		Value       int64         `json:"value"`
	}
	if err := decodePayload(data, &p); err != nil {
		ctl.sendError(conn, core.EvSendGift, err)
		return
	}
	if _, err := ctl.Orch.Gift(sid, p.RecipientID, domain.Gift{Name: p.Gift, Value: p.Value}); err != nil {
		ctl.sendError(conn, core.EvSendGift, err)
	}
}
