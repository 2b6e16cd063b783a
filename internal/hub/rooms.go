package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"syncplayer/internal/policy"
	"syncplayer/pkg/types"
)

// CreateRoom stores a new durable room owned by owner. Track ids the catalog
// does not know are skipped.
func (h *Hub) CreateRoom(ctx context.Context, owner types.Account, name string, trackIDs []string) (types.RoomRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.RoomRecord{}, types.Validationf("room name is required")
	}
	if owner.ID == "" {
		return types.RoomRecord{}, types.Validationf("room owner is required")
	}

	playlist := make([]types.Track, 0, len(trackIDs))
	seen := make(map[string]struct{}, len(trackIDs))
	for _, id := range trackIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t, err := h.catalog.FindTrack(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return types.RoomRecord{}, fmt.Errorf("find track %s: %w", id, err)
		}
		playlist = append(playlist, t)
	}

	now := h.now()
	rec := types.RoomRecord{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   owner.ID,
		Admins:    []string{},
		Playlist:  playlist,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.rooms.CreateRoom(ctx, rec); err != nil {
		return types.RoomRecord{}, types.PersistenceErr(err, "could not create room")
	}
	h.log.Info().Str("room", rec.ID).Str("owner", owner.ID).Int("tracks", len(playlist)).Msg("room created")
	return rec, nil
}

// DeleteRoom removes the durable room and, when resident, tears down the
// session after telling every peer they left. Only the owner may delete.
func (h *Hub) DeleteRoom(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, resident := h.registry.Get(req.RoomID)
		ownerID := ""
		if resident {
			ownerID = s.OwnerID
		} else {
			rec, err := h.rooms.LoadRoom(ctx, req.RoomID)
			if errors.Is(err, types.ErrNotFound) {
				return types.NotFoundf("room not found")
			}
			if err != nil {
				return fmt.Errorf("load room %s: %w", req.RoomID, err)
			}
			ownerID = rec.OwnerID
		}

		role := types.RoleMember
		if resident {
			role = s.RoleOf(req.UserID)
		} else if req.UserID == ownerID {
			role = types.RoleOwner
		}
		if err := policy.Check(s, role, policy.ActionDeleteSession); err != nil {
			return err
		}

		if err := h.rooms.DeleteRoom(ctx, req.RoomID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return types.PersistenceErr(err, "could not delete room")
		}
		if resident {
			h.notify(req.RoomID, "Room deleted", fmt.Sprintf("%s was deleted by its owner", s.Name))
			h.broadcaster.Broadcast(req.RoomID, types.EventLeftRoom, types.LeftRoom{ID: req.RoomID})
			h.destroy(req.RoomID, "deleted by owner")
		}
		h.persist.Discard(req.RoomID)
		return nil
	})
}
