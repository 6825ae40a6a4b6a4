package mesh

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voiceroom/internal/domain"
)

type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Link is one peer connection. Payloads are the opaque JSON the relay
// carries; only the Link implementation looks inside them.
type Link interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// LinkEvents are invoked from the link's own goroutines, never from inside
// a Link method call.
type LinkEvents struct {
	OnCandidate func(candidate json.RawMessage)
	OnState     func(s State)
}

type LinkFactory interface {
	NewLink(remote domain.UserID, events LinkEvents) (Link, error)
}

// Signaler is the client's way back to the server.
type Signaler interface {
	SendSignal(event string, to domain.UserID, payload json.RawMessage) error
	SetMicActive(active bool) error
}
