package core

import (
	"fmt"

	"github.com/dkeye/voiceroom/internal/domain"
)

// Authorize checks a moderation action against the actor and target roles.
// It never mutates anything. target is ignored for room-wide actions.
func Authorize(actor, target domain.Role, action domain.ModerationAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
	}
	if !actor.IsStaff() {
		return fmt.Errorf("%w: %s requires moderator role", domain.ErrForbidden, action)
	}
	if action.AdminOnly() && actor != domain.RoleAdmin {
		return fmt.Errorf("%w: %s requires admin role", domain.ErrForbidden, action)
	}
	if action.Targeted() && target.IsStaff() && actor != domain.RoleAdmin {
		return fmt.Errorf("%w: cannot %s a %s", domain.ErrForbidden, action, target)
	}
	return nil
}

// AuthorizeSetting gates the privileged room mutators (pin, mic lock,
// background, music, announcements, mic transfer).
func AuthorizeSetting(actor domain.Role, what string) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: %s requires moderator role", domain.ErrForbidden, what)
	}
	return nil
}

func systemText(actor, target string, action domain.ModerationAction) string {
	switch action {
	case domain.ActionMute:
		return fmt.Sprintf("%s muted %s", actor, target)
	case domain.ActionUnmute:
		return fmt.Sprintf("%s unmuted %s", actor, target)
	case domain.ActionKick:
		return fmt.Sprintf("%s kicked %s from the room", actor, target)
	case domain.ActionBan:
		return fmt.Sprintf("%s banned %s", actor, target)
	case domain.ActionAssignModerator:
		return fmt.Sprintf("%s made %s a moderator", actor, target)
	case domain.ActionRemoveModerator:
		return fmt.Sprintf("%s removed %s from moderators", actor, target)
	case domain.ActionMuteAll:
		return fmt.Sprintf("%s muted everyone", actor)
	}
	return fmt.Sprintf("%s applied %s to %s", actor, action, target)
}
