package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Event is the wire event a signal kind travels as.
func (k SignalKind) Event() (string, error) {
	switch k {
	case SignalOffer:
		return core.EvWebRTCOffer, nil
	case SignalAnswer:
		return core.EvWebRTCAnswer, nil
	case SignalICECandidate:
		return core.EvWebRTCICECandidate, nil
	}
	return "", fmt.Errorf("%w: signal kind %q", domain.ErrInvalidInput, k)
}

// Relay forwards opaque signaling payloads between two peers of one room.
// It keeps no per-negotiation state and never inspects the payload.
type Relay struct {
	Registry *Registry
}

func NewRelay(reg *Registry) *Relay {
	return &Relay{Registry: reg}
}

// Forward reports whether the payload was handed to the target connection.
// A target that left or sits in another room is not an error for the sender.
func (r *Relay) Forward(room domain.RoomID, from, to domain.UserID, kind SignalKind, payload json.RawMessage) bool {
	logger := log.With().
		Str("module", "app.relay").
		Str("room", string(room)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("kind", string(kind)).
		Logger()

	ev, err := kind.Event()
	if err != nil {
		logger.Warn().Err(err).Msg("unknown signal kind")
		return false
	}
	sid, ok := r.Registry.SessionOf(to)
	if !ok {
		logger.Debug().Msg("target gone, dropping")
		return false
	}
	if bound, ok := r.Registry.RoomOf(sid); !ok || bound != room {
		logger.Debug().Msg("target not in room, dropping")
		return false
	}
	conn, ok := r.Registry.Conn(sid)
	if !ok {
		logger.Debug().Msg("target has no connection, dropping")
		return false
	}
	frame, err := core.Encode(ev, core.SignalPayload{From: from, Payload: payload})
	if err != nil {
		logger.Error().Err(err).Msg("encode")
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		logger.Warn().Err(err).Msg("forward failed")
		return false
	}
	return true
}
