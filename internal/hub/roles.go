package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"syncplayer/internal/policy"
	"syncplayer/internal/session"
	"syncplayer/pkg/types"
)

// ChangeRole grants or revokes admin or controller authority. Granting an
// existing grant or revoking an absent one is a no-op. Admin changes are
// persisted; controller grants live only as long as the session.
//
// When the room is not resident, admin changes are applied to the room store
// directly; controller changes require a resident session.
func (h *Hub) ChangeRole(ctx context.Context, req *types.RoleRequest, role types.Role, grant bool) error {
	if role != types.RoleAdmin && role != types.RoleController {
		return types.Validationf("only admin and controller roles can be changed")
	}
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, ok := h.registry.Get(req.RoomID)
		if !ok {
			if role == types.RoleController {
				return types.NotFoundf("room is not active")
			}
			return h.changeStoredAdmins(ctx, req, grant)
		}

		action := policy.ActionManageControllers
		if role == types.RoleAdmin {
			action = policy.ActionManageAdmins
		}
		if err := policy.Check(s, s.RoleOf(req.UserID), action); err != nil {
			return err
		}
		if req.TargetUserID == s.OwnerID {
			return types.Capacityf("the owner's role can not be changed")
		}
		target, err := h.lookupTarget(ctx, s, req.TargetUserID)
		if err != nil {
			return err
		}

		set := s.Controllers
		if role == types.RoleAdmin {
			set = s.Admins
		}
		next, changed := toggle(set, req.TargetUserID, grant)
		if !changed {
			return nil
		}

		patch := session.Patch{Controllers: &next}
		if role == types.RoleAdmin {
			patch = session.Patch{Admins: &next}
		}
		updated, err := h.registry.Upsert(req.RoomID, patch)
		if err != nil {
			return err
		}
		if role == types.RoleAdmin {
			h.persist.SaveAdmins(req.RoomID, updated.Admins)
		}

		h.broadcastUsers(updated)
		h.broadcaster.Broadcast(req.RoomID, types.EventRolesChange, types.RolesChange{
			ID:          updated.ID,
			Admins:      updated.Admins,
			Controllers: updated.Controllers,
			Users:       updated.Members,
		})
		name := target.Name
		if name == "" {
			name = target.ID
		}
		title, description := roleNotice(name, role, grant)
		h.notify(req.RoomID, title, description)
		return nil
	})
}

func (h *Hub) changeStoredAdmins(ctx context.Context, req *types.RoleRequest, grant bool) error {
	rec, err := h.rooms.LoadRoom(ctx, req.RoomID)
	if errors.Is(err, types.ErrNotFound) {
		return types.NotFoundf("room not found")
	}
	if err != nil {
		return fmt.Errorf("load room %s: %w", req.RoomID, err)
	}
	if req.UserID != rec.OwnerID {
		return policy.Check(nil, types.RoleMember, policy.ActionManageAdmins)
	}
	if req.TargetUserID == rec.OwnerID {
		return types.Capacityf("the owner's role can not be changed")
	}
	if _, err := h.lookupTarget(ctx, nil, req.TargetUserID); err != nil {
		return err
	}
	next, changed := toggle(rec.Admins, req.TargetUserID, grant)
	if !changed {
		return nil
	}
	if err := h.rooms.SaveRoomAdmins(ctx, req.RoomID, next); err != nil {
		return types.PersistenceErr(err, "could not update room admins")
	}
	return nil
}

// lookupTarget resolves the account being promoted or demoted, preferring
// the resident member record.
func (h *Hub) lookupTarget(ctx context.Context, s *types.Session, userID string) (types.Account, error) {
	if s != nil {
		if m, ok := s.Member(userID); ok {
			return types.Account{ID: m.ID, Name: m.Name, Email: m.Email, ProfileImage: m.ProfileImage}, nil
		}
	}
	acct, err := h.accounts.LookupUser(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return types.Account{}, types.NotFoundf("user not found")
	}
	if err != nil {
		return types.Account{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return acct, nil
}

func toggle(set []string, id string, grant bool) ([]string, bool) {
	has := slices.Contains(set, id)
	switch {
	case grant && !has:
		return append(slices.Clone(set), id), true
	case !grant && has:
		return slices.DeleteFunc(slices.Clone(set), func(s string) bool { return s == id }), true
	default:
		return set, false
	}
}

func roleNotice(name string, role types.Role, grant bool) (string, string) {
	if grant {
		return fmt.Sprintf("%s promoted to %s", name, role), fmt.Sprintf("%s is now a room %s", name, role)
	}
	return fmt.Sprintf("%s demoted from %s", name, role), fmt.Sprintf("%s is no longer a room %s", name, role)
}
