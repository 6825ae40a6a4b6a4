package signal

import (
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
)

// RoomRateLimiter is a sliding window limiter keyed by user, so a
// reconnect does not start a fresh window.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	fresh := rl.freshLocked(uid, now.Add(-rl.interval))

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}

// Prune drops users whose window has fully expired.
func (rl *RoomRateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	windowStart := rl.now().Add(-rl.interval)
	for uid := range rl.history {
		if len(rl.freshLocked(uid, windowStart)) == 0 {
			delete(rl.history, uid)
		}
	}
}

func (rl *RoomRateLimiter) freshLocked(uid domain.UserID, windowStart time.Time) []time.Time {
	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
