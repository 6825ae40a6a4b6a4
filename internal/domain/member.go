package domain

import "time"

// MemberView is the per-room projection of an identity.
// No transport or lifecycle logic here.
type MemberView struct {
	Identity
	IsMuted    bool      `json:"isMuted"`
	IsSpeaking bool      `json:"isSpeaking"`
	IsOnStage  bool      `json:"isOnStage"`
	MicActive  bool      `json:"micActive"`
	MicIndex   *int      `json:"micIndex"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(ident Identity, now time.Time) *MemberView {
	return &MemberView{Identity: ident, JoinedAt: now}
}

// SetSlot records the 1-based stage position, or clears it for slot <= 0.
func (m *MemberView) SetSlot(slot int) {
	if slot <= 0 {
		m.MicIndex = nil
		m.IsOnStage = false
		m.IsSpeaking = false
		return
	}
	idx := slot
	m.MicIndex = &idx
	m.IsOnStage = true
}
