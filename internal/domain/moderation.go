package domain

type ModerationAction string

const (
	ActionMute            ModerationAction = "mute"
	ActionUnmute          ModerationAction = "unmute"
	ActionKick            ModerationAction = "kick"
	ActionBan             ModerationAction = "ban"
	ActionAssignModerator ModerationAction = "assignModerator"
	ActionRemoveModerator ModerationAction = "removeModerator"
	ActionMuteAll         ModerationAction = "muteAll"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ActionMute, ActionUnmute, ActionKick, ActionBan,
		ActionAssignModerator, ActionRemoveModerator, ActionMuteAll:
		return true
	}
	return false
}

// AdminOnly lists actions that need the admin role on top of staff.
func (a ModerationAction) AdminOnly() bool {
	return a == ActionBan || a == ActionAssignModerator || a == ActionRemoveModerator
}

// Targeted is false for room-wide actions.
func (a ModerationAction) Targeted() bool { return a != ActionMuteAll }
