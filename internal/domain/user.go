// Package domain holds the entities shared by every layer together with
// their validation rules and the error taxonomy mapped to wire codes.
package domain

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
	MaxAvatarLen   = 512
	MaxBioLen      = 280
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
)

type UserID string

type Role string

const (
	RoleGuest     Role = "guest"
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Rank orders roles; unknown roles rank below guest.
func (r Role) Rank() int {
	switch r {
	case RoleGuest:
		return 1
	case RoleMember:
		return 2
	case RoleModerator:
		return 3
	case RoleAdmin:
		return 4
	}
	return 0
}

func (r Role) Valid() bool { return r.Rank() > 0 }

// IsStaff reports moderator or admin.
func (r Role) IsStaff() bool { return r.Rank() >= RoleModerator.Rank() }

// Identity is the verified user as handed over by the auth layer, merged with
// the cached profile counters.
type Identity struct {
	ID            UserID `json:"id"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar"`
	Role          Role   `json:"role"`
	XP            int64  `json:"xp"`
	GiftsReceived int64  `json:"giftsReceived"`
	CanMicAscent  bool   `json:"canMicAscent"`
	Bio           string `json:"bio"`
}

// NewIdentity builds a validated identity with the defaults a fresh
// participant gets.
func NewIdentity(id UserID, username, avatar string, role Role) (*Identity, error) {
	if role == "" {
		role = RoleMember
	}
	ident := &Identity{ID: id, Avatar: avatar, Role: role, CanMicAscent: true}
	if err := ident.SetUsername(username); err != nil {
		return nil, err
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return ident, nil
}

// Validate rejects malformed identities before they reach any room logic.
func (u *Identity) Validate() error {
	switch {
	case len(u.ID) == 0:
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, ErrUserIDEmpty)
	case len(u.ID) > MaxUserIDLen:
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, ErrUserIDTooLong)
	case len(u.Username) == 0:
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, ErrUsernameEmpty)
	case len(u.Username) > MaxUsernameLen:
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, ErrUsernameTooLong)
	case len(u.Avatar) > MaxAvatarLen:
		return fmt.Errorf("%w: avatar too long", ErrInvalidIdentity)
	case !u.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, u.Role)
	case u.XP < 0 || u.GiftsReceived < 0:
		return fmt.Errorf("%w: negative counters", ErrInvalidIdentity)
	}
	return nil
}

func (u *Identity) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

// ApplyProfile overlays the stored profile; the store is authoritative for
// role and counters once a document exists.
func (u *Identity) ApplyProfile(p *Profile) {
	if p == nil {
		return
	}
	if p.Username != "" {
		u.Username = p.Username
	}
	if p.Avatar != "" {
		u.Avatar = p.Avatar
	}
	if p.Role.Valid() {
		u.Role = p.Role
	}
	u.XP = p.XP
	u.GiftsReceived = p.GiftsReceived
	u.CanMicAscent = p.CanMicAscent
	u.Bio = p.Bio
}

// Profile is the identity document of the external store.
type Profile struct {
	ID            UserID `json:"id" redis:"-"`
	Username      string `json:"username" redis:"username"`
	Avatar        string `json:"avatar" redis:"avatar"`
	Role          Role   `json:"role" redis:"role"`
	XP            int64  `json:"xp" redis:"xp"`
	GiftsReceived int64  `json:"giftsReceived" redis:"giftsReceived"`
	CanMicAscent  bool   `json:"canMicAscent" redis:"canMicAscent"`
	IsBanned      bool   `json:"isBanned" redis:"isBanned"`
	Bio           string `json:"bio" redis:"bio"`
}

// ProfileOf projects an identity into a fresh store document.
func ProfileOf(u *Identity) Fields {
	return Fields{
		"username":      u.Username,
		"avatar":        u.Avatar,
		"role":          string(u.Role),
		"xp":            u.XP,
		"giftsReceived": u.GiftsReceived,
		"canMicAscent":  u.CanMicAscent,
		"bio":           u.Bio,
	}
}

// Fields is a partial document update for the external store.
type Fields map[string]any
