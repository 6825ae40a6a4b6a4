package core

import (
	"encoding/json"

	"github.com/dkeye/voiceroom/internal/domain"
)

// Client to server events.
const (
	EvJoinRoom           = "joinRoom"
	EvLeaveRoom          = "leaveRoom"
	EvSendChatMessage    = "sendChatMessage"
	EvSendPrivateMessage = "sendPrivateMessage"
	EvSendAnnouncement   = "sendAnnouncement"
	EvSendGift           = "sendGift"
	EvRequestMicAscent   = "requestMicAscent"
	EvRequestMicDescent  = "requestMicDescent"
	EvTransferMic        = "transferMic"
	EvModerateUser       = "moderateUser"
	EvToggleMicLock      = "toggleMicLock"
	EvSetPinnedMessage   = "setPinnedMessage"
	EvSetBackground      = "setBackground"
	EvSetMusic           = "setMusic"
	EvSpeaking           = "speaking"
	EvToggleMic          = "toggleMic"
	EvPing               = "ping"
)

// Server to client events.
const (
	EvRoomStateUpdate  = "roomStateUpdate"
	EvUserJoined       = "userJoined"
	EvUserLeft         = "userLeft"
	EvChatMessage      = "chatMessage"
	EvPrivateMessage   = "privateMessage"
	EvModerationUpdate = "moderationUpdate"
	EvMicLockUpdate    = "micLockUpdate"
	EvSpeakingStatus   = "speakingStatus"
	EvMicStatus        = "micStatus"
	EvKickedFromRoom   = "kickedFromRoom"
	EvBannedFromApp    = "bannedFromApp"
	EvPong             = "pong"
	EvError            = "error"
)

// Signaling events travel both ways.
const (
	EvWebRTCOffer        = "webrtc-offer"
	EvWebRTCAnswer       = "webrtc-answer"
	EvWebRTCICECandidate = "webrtc-ice-candidate"
)

// Envelope is the wire shape of every event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type UserLeftPayload struct {
	UserID domain.UserID `json:"userId"`
}

type SpeakingStatusPayload struct {
	UserID     domain.UserID `json:"userId"`
	IsSpeaking bool          `json:"isSpeaking"`
}

type MicStatusPayload struct {
	UserID domain.UserID `json:"userId"`
	Active bool          `json:"active"`
}

type TerminalPayload struct {
	Reason string `json:"reason"`
}

type ModerationUpdatePayload struct {
	TargetUserID domain.UserID           `json:"targetUserId"`
	Action       domain.ModerationAction `json:"action"`
	Success      bool                    `json:"success"`
	Message      string                  `json:"message"`
}

type ErrorPayload struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SignalPayload is forwarded verbatim; the server never looks inside Payload.
type SignalPayload struct {
	From         domain.UserID   `json:"from,omitempty"`
	TargetUserID domain.UserID   `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// Encode wraps payload into an envelope frame.
func Encode(typ string, payload any) (Frame, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
