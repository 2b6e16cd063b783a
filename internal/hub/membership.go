package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"syncplayer/internal/policy"
	"syncplayer/internal/session"
	"syncplayer/pkg/types"
)

// Join adds the user to the room, hydrating the session from the room store
// when it is not resident. A user already in another room leaves it first.
func (h *Hub) Join(ctx context.Context, req *types.JoinRequest) error {
	if prev, ok := h.registry.RoomOf(req.UserID); ok && prev != req.RoomID {
		err := h.submit(ctx, prev, func(ctx context.Context) error {
			return h.leave(prev, req.UserID, false)
		})
		if err != nil {
			return err
		}
	}
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		return h.join(ctx, req)
	})
}

func (h *Hub) join(ctx context.Context, req *types.JoinRequest) error {
	now := h.now()
	var patch session.Patch

	s, resident := h.registry.Get(req.RoomID)
	if !resident {
		rec, err := h.rooms.LoadRoom(ctx, req.RoomID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return types.NotFoundf("room not found")
			}
			return fmt.Errorf("load room %s: %w", req.RoomID, err)
		}
		s = hydrate(rec, now)
		patch = session.Patch{
			Name:            &s.Name,
			OwnerID:         &s.OwnerID,
			Admins:          &s.Admins,
			Controllers:     &s.Controllers,
			Playlist:        &s.Playlist,
			CurrentTrackID:  &s.CurrentTrackID,
			Paused:          session.Ptr(false),
			PositionSeconds: session.Ptr(0.0),
			PositionSetAt:   &now,
			ChatLog:         &s.ChatLog,
		}
	}

	member := types.Member{
		ID:              req.UserID,
		Name:            strings.TrimSpace(req.Name),
		Email:           req.Email,
		ProfileImage:    req.ProfileImage,
		LastHeartbeatAt: now,
	}
	members := slices.Clone(s.Members)
	if i := s.MemberIndex(req.UserID); i >= 0 {
		members[i] = member
	} else {
		members = append(members, member)
	}
	patch.Members = &members

	updated, err := h.registry.Upsert(req.RoomID, patch)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSeed):
			return types.Validationf("room %s has no owner or playlist", req.RoomID)
		case errors.Is(err, session.ErrMemberElsewhere):
			return types.Capacityf("user is already in another room")
		}
		return err
	}
	if !resident {
		h.metrics.SetActiveSessions(h.registry.Len())
		h.log.Info().Str("room", req.RoomID).Int("tracks", len(updated.Playlist)).Msg("session hydrated")
	}

	h.broadcaster.Subscribe(req.RoomID, req.UserID)
	h.broadcaster.SendTo(req.UserID, types.EventJoinedRoom, updated)
	h.notify(req.RoomID, fmt.Sprintf("%s joined the room", displayName(member)), "")
	h.broadcastUsers(updated)
	return nil
}

// hydrate builds the initial in-memory state from the durable record. The
// first track is selected and playing from zero.
func hydrate(rec types.RoomRecord, now time.Time) *types.Session {
	s := &types.Session{
		ID:            rec.ID,
		Name:          rec.Name,
		OwnerID:       rec.OwnerID,
		Admins:        slices.Clone(rec.Admins),
		Controllers:   []string{},
		Playlist:      slices.Clone(rec.Playlist),
		PositionSetAt: now,
		ChatLog:       []types.ChatMessage{},
	}
	if s.Admins == nil {
		s.Admins = []string{}
	}
	if s.Playlist == nil {
		s.Playlist = []types.Track{}
	}
	if len(s.Playlist) > 0 {
		s.CurrentTrackID = s.Playlist[0].ID
	}
	return s
}

// Leave removes the user. The requester always receives left-room.
func (h *Hub) Leave(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		return h.leave(req.RoomID, req.UserID, true)
	})
}

func (h *Hub) leave(roomID, userID string, confirm bool) error {
	if confirm {
		defer h.broadcaster.SendTo(userID, types.EventLeftRoom, types.LeftRoom{ID: roomID})
	}
	h.broadcaster.Unsubscribe(roomID, userID)

	s, ok := h.registry.Get(roomID)
	if !ok {
		return nil
	}
	i := s.MemberIndex(userID)
	if i < 0 {
		return nil
	}
	member := s.Members[i]
	members := slices.Delete(slices.Clone(s.Members), i, i+1)
	if len(members) == 0 {
		h.destroy(roomID, "last member left")
		return nil
	}

	updated, err := h.registry.Upsert(roomID, session.Patch{Members: &members})
	if err != nil {
		return err
	}
	h.notify(roomID, fmt.Sprintf("%s left the room", displayName(member)), "")
	h.broadcastUsers(updated)
	return nil
}

// Heartbeat refreshes the member's liveness. Unknown rooms and members are
// ignored without error.
func (h *Hub) Heartbeat(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, ok := h.registry.Get(req.RoomID)
		if !ok {
			return nil
		}
		i := s.MemberIndex(req.UserID)
		if i < 0 {
			return nil
		}
		members := slices.Clone(s.Members)
		members[i].LastHeartbeatAt = h.now()
		_, err := h.registry.Upsert(req.RoomID, session.Patch{Members: &members})
		return err
	})
}

// GetRoom sends the current snapshot to the requester only.
func (h *Hub) GetRoom(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionView); err != nil {
			return err
		}
		h.broadcaster.SendTo(req.UserID, types.EventGetRoom, types.RoomPayload{Room: s})
		return nil
	})
}

// Eviction is the outcome of one presence check.
type Eviction struct {
	Evicted   []string
	Destroyed bool
}

// Evict removes members whose last heartbeat is at least threshold old and
// destroys the session when nobody live remains.
func (h *Hub) Evict(ctx context.Context, roomID string, threshold time.Duration) (Eviction, error) {
	var out Eviction
	err := h.submit(ctx, roomID, func(ctx context.Context) error {
		s, ok := h.registry.Get(roomID)
		if !ok {
			return nil
		}
		now := h.now()
		var live, stale []types.Member
		for _, m := range s.Members {
			if now.Sub(m.LastHeartbeatAt) < threshold {
				live = append(live, m)
			} else {
				stale = append(stale, m)
			}
		}
		for _, m := range stale {
			out.Evicted = append(out.Evicted, m.ID)
		}
		if len(stale) == 0 {
			return nil
		}
		if len(live) == 0 {
			out.Destroyed = true
			h.destroy(roomID, "no live members")
			return nil
		}

		updated, err := h.registry.Upsert(roomID, session.Patch{Members: &live})
		if err != nil {
			return err
		}
		names := make([]string, len(stale))
		for i, m := range stale {
			h.broadcaster.Unsubscribe(roomID, m.ID)
			names[i] = displayName(m)
		}
		h.broadcastUsers(updated)
		h.notify(roomID, "Inactive users removed",
			fmt.Sprintf("Removed [%s] from the room as they were not found active", strings.Join(names, ", ")))
		return nil
	})
	return out, err
}

func displayName(m types.Member) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
