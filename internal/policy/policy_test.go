package policy

import (
	"errors"
	"strings"
	"testing"

	"syncplayer/pkg/types"
)

func sessionWith(roles ...types.Role) *types.Session {
	s := &types.Session{OwnerID: "owner"}
	for i, r := range roles {
		s.Members = append(s.Members, types.Member{ID: string(rune('a' + i)), Role: r})
	}
	return s
}

func TestCheck_Matrix(t *testing.T) {
	governed := sessionWith(types.RoleMember, types.RoleController)
	tests := []struct {
		action Action
		role   types.Role
		allow  bool
	}{
		{ActionPlayback, types.RoleMember, false},
		{ActionPlayback, types.RoleController, true},
		{ActionPlayback, types.RoleAdmin, true},
		{ActionPlayback, types.RoleOwner, true},

		{ActionEditPlaylist, types.RoleMember, false},
		{ActionEditPlaylist, types.RoleController, false},
		{ActionEditPlaylist, types.RoleAdmin, true},
		{ActionEditPlaylist, types.RoleOwner, true},

		{ActionClearChat, types.RoleController, false},
		{ActionClearChat, types.RoleAdmin, true},
		{ActionVoice, types.RoleController, false},
		{ActionVoice, types.RoleAdmin, true},

		{ActionManageControllers, types.RoleController, false},
		{ActionManageControllers, types.RoleAdmin, true},
		{ActionManageControllers, types.RoleOwner, true},

		{ActionManageAdmins, types.RoleAdmin, false},
		{ActionManageAdmins, types.RoleOwner, true},

		{ActionDeleteSession, types.RoleAdmin, false},
		{ActionDeleteSession, types.RoleOwner, true},

		{ActionChat, types.RoleMember, true},
		{ActionLeave, types.RoleMember, true},
		{ActionHeartbeat, types.RoleMember, true},
	}
	for _, tt := range tests {
		t.Run(tt.action.String()+"/"+tt.role.String(), func(t *testing.T) {
			err := Check(governed, tt.role, tt.action)
			if tt.allow && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allow {
				if !errors.Is(err, types.ErrAuthorization) {
					t.Fatalf("expected authorization error, got %v", err)
				}
				if !strings.Contains(err.Error(), Required(tt.action).String()) {
					t.Errorf("error %q should name required role %s", err, Required(tt.action))
				}
			}
		})
	}
}

func TestCheck_UngovernedRoomMemberPlayback(t *testing.T) {
	s := sessionWith(types.RoleMember, types.RoleMember)
	if !Allowed(s, types.RoleMember, ActionPlayback) {
		t.Fatal("members may control playback when no authority is present")
	}
	if Allowed(s, types.RoleMember, ActionEditPlaylist) {
		t.Error("ungoverned rooms still deny playlist edits to members")
	}
	if Allowed(s, types.RoleMember, ActionClearChat) {
		t.Error("ungoverned rooms still deny clearing chat to members")
	}

	for _, r := range []types.Role{types.RoleController, types.RoleAdmin, types.RoleOwner} {
		s.Members = append(s.Members, types.Member{ID: "late", Role: r})
		if Allowed(s, types.RoleMember, ActionPlayback) {
			t.Errorf("a %s joining must revoke member playback", r)
		}
		s.Members = s.Members[:2]
	}
}

func TestAction_String(t *testing.T) {
	if ActionManageAdmins.String() != "manage admins" {
		t.Errorf("String() = %q", ActionManageAdmins.String())
	}
	if Action(99).String() != "action(99)" {
		t.Errorf("unknown action String() = %q", Action(99).String())
	}
	if Required(Action(99)) != types.RoleOwner {
		t.Error("unknown actions should require owner")
	}
}
