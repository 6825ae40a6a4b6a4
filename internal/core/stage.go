package core

import (
	"fmt"

	"github.com/dkeye/voiceroom/internal/domain"
)

// stage holds the ordered mic slots of a room. Slots are 1-based outside
// this type. It relies on the owning room for locking.
type stage struct {
	slots []domain.UserID
}

func newStage(n int) *stage {
	if n <= 0 {
		n = 1
	}
	return &stage{slots: make([]domain.UserID, n)}
}

// slotOf returns the 1-based slot held by uid, or 0.
func (s *stage) slotOf(uid domain.UserID) int {
	for i, u := range s.slots {
		if u == uid {
			return i + 1
		}
	}
	return 0
}

func (s *stage) occupant(slot int) domain.UserID {
	if slot < 1 || slot > len(s.slots) {
		return ""
	}
	return s.slots[slot-1]
}

// acquire gives uid the lowest free slot.
func (s *stage) acquire(uid domain.UserID) (int, error) {
	if held := s.slotOf(uid); held > 0 {
		return 0, fmt.Errorf("%w: already on mic %d", domain.ErrConflict, held)
	}
	for i, u := range s.slots {
		if u == "" {
			s.slots[i] = uid
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: no free mic slot", domain.ErrUnavailable)
}

// release frees the slot of uid and reports which one it was.
func (s *stage) release(uid domain.UserID) int {
	slot := s.slotOf(uid)
	if slot > 0 {
		s.slots[slot-1] = ""
	}
	return slot
}

// place moves uid onto slot. It fails when another user holds the slot.
// The previous slot of uid, if any, is returned.
func (s *stage) place(uid domain.UserID, slot int) (int, error) {
	if slot < 1 || slot > len(s.slots) {
		return 0, fmt.Errorf("%w: mic slot %d", domain.ErrNotFound, slot)
	}
	cur := s.slots[slot-1]
	if cur == uid {
		return slot, nil
	}
	if cur != "" {
		return 0, fmt.Errorf("%w: mic slot %d is occupied", domain.ErrConflict, slot)
	}
	prev := s.release(uid)
	s.slots[slot-1] = uid
	return prev, nil
}

func (s *stage) snapshot() []domain.UserID {
	out := make([]domain.UserID, len(s.slots))
	copy(out, s.slots)
	return out
}
