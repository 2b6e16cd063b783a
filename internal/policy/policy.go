// Package policy decides which session actions a role may perform.
package policy

import (
	"fmt"

	"syncplayer/pkg/types"
)

type Action int

const (
	ActionPlayback Action = iota
	ActionEditPlaylist
	ActionClearChat
	ActionVoice
	ActionManageControllers
	ActionManageAdmins
	ActionDeleteSession
	ActionChat
	ActionLeave
	ActionHeartbeat
	ActionView
)

var actionNames = map[Action]string{
	ActionPlayback:          "control playback",
	ActionEditPlaylist:      "update the playlist",
	ActionClearChat:         "clear the chat",
	ActionVoice:             "voice chat",
	ActionManageControllers: "manage controllers",
	ActionManageAdmins:      "manage admins",
	ActionDeleteSession:     "delete the room",
	ActionChat:              "chat",
	ActionLeave:             "leave",
	ActionHeartbeat:         "send heartbeats",
	ActionView:              "view the room",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// minimumRole is the lowest role allowed to perform each action. Playback
// additionally admits members when the session has no authority present.
var minimumRole = map[Action]types.Role{
	ActionPlayback:          types.RoleController,
	ActionEditPlaylist:      types.RoleAdmin,
	ActionClearChat:         types.RoleAdmin,
	ActionVoice:             types.RoleAdmin,
	ActionManageControllers: types.RoleAdmin,
	ActionManageAdmins:      types.RoleOwner,
	ActionDeleteSession:     types.RoleOwner,
	ActionChat:              types.RoleMember,
	ActionLeave:             types.RoleMember,
	ActionHeartbeat:         types.RoleMember,
	ActionView:              types.RoleMember,
}

// Required returns the lowest role that may perform a.
func Required(a Action) types.Role {
	if r, ok := minimumRole[a]; ok {
		return r
	}
	return types.RoleOwner
}

// Check returns nil when role may perform a in s, or an authorization error
// naming the required role.
func Check(s *types.Session, role types.Role, a Action) error {
	required := Required(a)
	if role >= required {
		return nil
	}
	if a == ActionPlayback && role == types.RoleMember {
		if s == nil || !s.AuthorityPresent() {
			return nil
		}
		return types.Forbiddenf("member can not %s while an owner, admin or controller is in the room. You need %s access for this action", a, required)
	}
	return types.Forbiddenf("%s can not %s. You need %s access for this action", role, a, required)
}

// Allowed is the boolean form of Check.
func Allowed(s *types.Session, role types.Role, a Action) bool {
	return Check(s, role, a) == nil
}
