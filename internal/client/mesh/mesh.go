// Package mesh keeps a full mesh of peer links to the other members of a
// room while the local microphone is on.
package mesh

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxEarlyCandidates = 64

type peer struct {
	link      Link
	state     State
	initiator bool
	// candidates that arrived before the offer/answer exchange finished
	pending []json.RawMessage
}

func (p *peer) exchanged() bool { return p.state == StateConnected }

type Mesh struct {
	mu      sync.Mutex
	self    domain.UserID
	factory LinkFactory
	sig     Signaler
	micOn   bool
	members map[domain.UserID]struct{}
	peers   map[domain.UserID]*peer
	early   map[domain.UserID][]json.RawMessage
}

func New(self domain.UserID, factory LinkFactory, sig Signaler) *Mesh {
	return &Mesh{
		self:    self,
		factory: factory,
		sig:     sig,
		members: make(map[domain.UserID]struct{}),
		peers:   make(map[domain.UserID]*peer),
		early:   make(map[domain.UserID][]json.RawMessage),
	}
}

// Sync replaces the member set from a full room snapshot and drops links to
// anyone who is gone. It never initiates: offers only follow a join or a
// mic switch.
func (m *Mesh) Sync(members []domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[domain.UserID]struct{}, len(members))
	for _, id := range members {
		if id != m.self {
			next[id] = struct{}{}
		}
	}
	for id := range m.peers {
		if _, ok := next[id]; !ok {
			m.teardownLocked(id, "member gone")
		}
	}
	m.members = next
}

// MemberJoined makes the existing member offer to the newcomer. The
// newcomer never offers first, which keeps one initiator per pair.
func (m *Mesh) MemberJoined(ctx context.Context, id domain.UserID) {
	if id == m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[id] = struct{}{}
	if m.micOn {
		m.offerLocked(ctx, id)
	}
}

// MemberLeft covers leave, kick and ban of a remote member.
func (m *Mesh) MemberLeft(id domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, id)
	delete(m.early, id)
	m.teardownLocked(id, "member left")
}

// RemoteMic reacts to another member switching their microphone. Their
// offers arrive on their own; a switch-off drops the inbound link. The pair
// shared that link, so with the local mic on a fresh offer replaces it.
func (m *Mesh) RemoteMic(ctx context.Context, id domain.UserID, active bool) {
	if active {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok || p.initiator {
		return
	}
	m.teardownLocked(id, "remote mic off")
	if _, member := m.members[id]; member && m.micOn {
		m.offerLocked(ctx, id)
	}
}

// SetMic switches the local microphone. On: fresh offers to every member.
// Off: every outgoing link is closed and the room is told.
func (m *Mesh) SetMic(ctx context.Context, on bool) error {
	m.mu.Lock()
	if m.micOn == on {
		m.mu.Unlock()
		return nil
	}
	m.micOn = on
	if on {
		for _, id := range m.sortedMembersLocked() {
			m.offerLocked(ctx, id)
		}
	} else {
		for id, p := range m.peers {
			if p.initiator {
				m.teardownLocked(id, "mic off")
			}
		}
	}
	m.mu.Unlock()
	return m.sig.SetMicActive(on)
}

func (m *Mesh) MicOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micOn
}

// HandleOffer answers an offer, creating the link on demand. When both
// sides offered at once the smaller user id yields and answers.
func (m *Mesh) HandleOffer(ctx context.Context, from domain.UserID, offer json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := log.With().Str("module", "client.mesh").Str("peer", string(from)).Logger()

	if p, ok := m.peers[from]; ok {
		if p.initiator && p.state == StateConnecting && m.self > from {
			logger.Debug().Msg("glare, keeping own offer")
			return
		}
		m.teardownLocked(from, "replaced by remote offer")
	}

	p, err := m.newPeerLocked(from, false)
	if err != nil {
		logger.Error().Err(err).Msg("create link")
		return
	}
	answer, err := p.link.AcceptOffer(ctx, offer)
	if err != nil {
		logger.Error().Err(err).Msg("accept offer")
		m.teardownLocked(from, "bad offer")
		return
	}
	if err := m.sig.SendSignal(core.EvWebRTCAnswer, from, answer); err != nil {
		logger.Warn().Err(err).Msg("send answer")
	}
	m.completeLocked(from, p)
}

func (m *Mesh) HandleAnswer(from domain.UserID, answer json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := log.With().Str("module", "client.mesh").Str("peer", string(from)).Logger()

	p, ok := m.peers[from]
	if !ok || !p.initiator || p.state != StateConnecting {
		logger.Debug().Msg("unexpected answer dropped")
		return
	}
	if err := p.link.AcceptAnswer(answer); err != nil {
		logger.Error().Err(err).Msg("accept answer")
		m.teardownLocked(from, "bad answer")
		return
	}
	m.completeLocked(from, p)
}

func (m *Mesh) HandleCandidate(from domain.UserID, candidate json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[from]
	if !ok {
		if len(m.early[from]) < maxEarlyCandidates {
			m.early[from] = append(m.early[from], candidate)
		}
		return
	}
	if !p.exchanged() {
		p.pending = append(p.pending, candidate)
		return
	}
	if err := p.link.AddCandidate(candidate); err != nil {
		log.Warn().Err(err).Str("module", "client.mesh").Str("peer", string(from)).Msg("add candidate")
	}
}

// Links reports the current state of every link.
func (m *Mesh) Links() map[domain.UserID]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]State, len(m.peers))
	for id, p := range m.peers {
		out[id] = p.state
	}
	return out
}

// Close tears everything down, e.g. after leaving the room.
func (m *Mesh) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.peers {
		m.teardownLocked(id, "mesh closed")
	}
	m.members = make(map[domain.UserID]struct{})
	m.early = make(map[domain.UserID][]json.RawMessage)
	m.micOn = false
}

func (m *Mesh) offerLocked(ctx context.Context, id domain.UserID) {
	if _, ok := m.peers[id]; ok {
		return
	}
	logger := log.With().Str("module", "client.mesh").Str("peer", string(id)).Logger()
	p, err := m.newPeerLocked(id, true)
	if err != nil {
		logger.Error().Err(err).Msg("create link")
		return
	}
	offer, err := p.link.CreateOffer(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("create offer")
		m.teardownLocked(id, "offer failed")
		return
	}
	p.state = StateConnecting
	if err := m.sig.SendSignal(core.EvWebRTCOffer, id, offer); err != nil {
		logger.Warn().Err(err).Msg("send offer")
	}
	logger.Info().Msg("offer sent")
}

func (m *Mesh) newPeerLocked(id domain.UserID, initiator bool) (*peer, error) {
	p := &peer{state: StateNew, initiator: initiator}
	link, err := m.factory.NewLink(id, LinkEvents{
		OnCandidate: func(c json.RawMessage) {
			if err := m.sig.SendSignal(core.EvWebRTCICECandidate, id, c); err != nil {
				log.Warn().Err(err).Str("module", "client.mesh").Str("peer", string(id)).Msg("send candidate")
			}
		},
		OnState: func(s State) { m.onLinkState(id, p, s) },
	})
	if err != nil {
		return nil, err
	}
	p.link = link
	p.pending = m.early[id]
	delete(m.early, id)
	m.peers[id] = p
	return p, nil
}

func (m *Mesh) completeLocked(id domain.UserID, p *peer) {
	p.state = StateConnected
	for _, c := range p.pending {
		if err := p.link.AddCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client.mesh").Str("peer", string(id)).Msg("add queued candidate")
		}
	}
	p.pending = nil
}

func (m *Mesh) onLinkState(id domain.UserID, p *peer, s State) {
	if s != StateFailed && s != StateClosed {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// ignore callbacks from a link that was already replaced
	if cur, ok := m.peers[id]; ok && cur == p {
		m.teardownLocked(id, "link "+s.String())
	}
}

func (m *Mesh) teardownLocked(id domain.UserID, reason string) {
	p, ok := m.peers[id]
	if !ok {
		return
	}
	delete(m.peers, id)
	p.state = StateClosed
	if err := p.link.Close(); err != nil {
		log.Warn().Err(err).Str("module", "client.mesh").Str("peer", string(id)).Msg("close link")
	}
	log.Info().Str("module", "client.mesh").Str("peer", string(id)).Str("reason", reason).Msg("link torn down")
}

func (m *Mesh) sortedMembersLocked() []domain.UserID {
	out := make([]domain.UserID, 0, len(m.members))
	for id := range m.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
