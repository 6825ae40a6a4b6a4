package store

import (
	"fmt"

	"github.com/dkeye/voiceroom/internal/domain"
)

// applyProfile merges a partial update into p. Unknown keys are rejected so
// a typo never silently disappears.
func applyProfile(p *domain.Profile, f domain.Fields) error {
	for k, v := range f {
		var ok bool
		switch k {
		case "username":
			p.Username, ok = v.(string)
		case "avatar":
			p.Avatar, ok = v.(string)
		case "bio":
			p.Bio, ok = v.(string)
		case "role":
			var s string
			s, ok = v.(string)
			p.Role = domain.Role(s)
		case "xp":
			p.XP, ok = toInt64(v)
		case "giftsReceived":
			p.GiftsReceived, ok = toInt64(v)
		case "canMicAscent":
			p.CanMicAscent, ok = v.(bool)
		case "isBanned":
			p.IsBanned, ok = v.(bool)
		default:
			return fmt.Errorf("%w: unknown profile field %q", domain.ErrInvalidInput, k)
		}
		if !ok {
			return fmt.Errorf("%w: profile field %q has type %T", domain.ErrInvalidInput, k, v)
		}
	}
	return nil
}

func applyRoomConfig(c *domain.RoomConfig, f domain.Fields) error {
	for k, v := range f {
		var ok bool
		switch k {
		case "name":
			var s string
			s, ok = v.(string)
			c.Name = domain.RoomName(s)
		case "description":
			c.Description, ok = v.(string)
		case "background":
			c.Background, ok = v.(string)
		case "music":
			c.Music, ok = v.(string)
		case "micLock":
			c.MicLock, ok = v.(bool)
		case "pinnedMessage":
			c.PinnedMessage, ok = toPinned(v)
		case "moderators":
			c.Moderators, ok = v.([]domain.UserID)
		case "stageSlots":
			c.StageSlots, ok = v.([]domain.UserID)
		default:
			return fmt.Errorf("%w: unknown room field %q", domain.ErrInvalidInput, k)
		}
		if !ok {
			return fmt.Errorf("%w: room field %q has type %T", domain.ErrInvalidInput, k, v)
		}
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toPinned(v any) (*string, bool) {
	switch p := v.(type) {
	case nil:
		return nil, true
	case *string:
		if p == nil {
			return nil, true
		}
		s := *p
		return &s, true
	case string:
		return &p, true
	}
	return nil, false
}
