package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PionFactory builds links on pion peer connections. Offers and answers
// travel as SessionDescription JSON and candidates as ICECandidateInit
// JSON, the same shapes a browser produces.
type PionFactory struct {
	Config webrtc.Configuration
	// Track is the local microphone; nil links only receive.
	Track   webrtc.TrackLocal
	OnTrack func(remote domain.UserID, track *webrtc.TrackRemote)
}

func NewPionFactory(track webrtc.TrackLocal) *PionFactory {
	return &PionFactory{Config: DefaultWebRTCConfig(), Track: track}
}

var opusCodec = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// OpusTrack is the local microphone track shared by every link.
type OpusTrack struct {
	*webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	seq       uint16
	timestamp uint32
}

func NewOpusTrack(self domain.UserID) (*OpusTrack, error) {
	t, err := webrtc.NewTrackLocalStaticRTP(opusCodec, fmt.Sprintf("audio-%s", self), fmt.Sprintf("stream-%s", self))
	if err != nil {
		return nil, err
	}
	return &OpusTrack{TrackLocalStaticRTP: t}, nil
}

// WriteOpus sends one 20ms Opus frame; pion rewrites SSRC and payload type
// per link.
func (t *OpusTrack) WriteOpus(frame []byte) error {
	t.mu.Lock()
	seq, ts := t.seq, t.timestamp
	t.seq++
	t.timestamp += 960
	t.mu.Unlock()

	return t.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: frame,
	})
}

func (f *PionFactory) NewLink(remote domain.UserID, ev LinkEvents) (Link, error) {
	pc, err := webrtc.NewPeerConnection(f.Config)
	if err != nil {
		return nil, err
	}
	l := &pionLink{pc: pc, remote: remote}

	if f.Track != nil {
		sender, err := pc.AddTrack(f.Track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
		// RTCP has to be read for interceptors to work
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	} else if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add transceiver: %w", err)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || ev.OnCandidate == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		ev.OnCandidate(raw)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.webrtc").Str("peer", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if ev.OnState != nil {
			// Close fires this handler too; the mesh may still hold its lock
			go ev.OnState(stateOf(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "client.webrtc").
			Str("peer", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if f.OnTrack != nil {
			go f.OnTrack(remote, track)
		}
	})

	return l, nil
}

func stateOf(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateDisconnected:
		// disconnected may still recover
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}

type pionLink struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
}

func (l *pionLink) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (l *pionLink) AcceptOffer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("%w: offer: %v", domain.ErrInvalidInput, err)
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (l *pionLink) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("%w: answer: %v", domain.ErrInvalidInput, err)
	}
	return l.pc.SetRemoteDescription(answer)
}

func (l *pionLink) AddCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("%w: candidate: %v", domain.ErrInvalidInput, err)
	}
	return l.pc.AddICECandidate(ci)
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}
