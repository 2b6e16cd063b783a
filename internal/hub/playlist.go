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

// UpdatePlaylist puts the supplied tracks first, in the supplied order,
// followed by the rest of the existing playlist. Ids unknown to both the
// playlist and the catalog are dropped.
func (h *Hub) UpdatePlaylist(ctx context.Context, req *types.UpdatePlaylistRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionEditPlaylist); err != nil {
			return err
		}

		playlist := make([]types.Track, 0, len(req.SongIDs)+len(s.Playlist))
		seen := make(map[string]struct{}, cap(playlist))
		for _, id := range req.SongIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			var track types.Track
			if i := s.TrackIndex(id); i >= 0 {
				track = s.Playlist[i]
			} else {
				track, err = h.catalog.FindTrack(ctx, id)
				if errors.Is(err, types.ErrNotFound) {
					h.log.Debug().Str("room", req.RoomID).Str("track", id).Msg("dropping unknown track from playlist update")
					continue
				}
				if err != nil {
					return fmt.Errorf("find track %s: %w", id, err)
				}
			}
			seen[id] = struct{}{}
			playlist = append(playlist, track)
		}
		for _, t := range s.Playlist {
			if _, dup := seen[t.ID]; !dup {
				seen[t.ID] = struct{}{}
				playlist = append(playlist, t)
			}
		}

		updated, err := h.registry.Upsert(req.RoomID, session.Patch{Playlist: &playlist})
		if err != nil {
			return err
		}
		h.persist.SavePlaylist(req.RoomID, trackIDs(updated.Playlist))
		h.broadcaster.Broadcast(req.RoomID, types.EventUpdatePlaylist, playlistState(updated))
		h.notify(req.RoomID, "Playlist updated", fmt.Sprintf("%s updated the playlist", displayName(m)))
		return nil
	})
}

// AddSong appends a catalog track. Tracks already in the playlist are
// declined.
func (h *Hub) AddSong(ctx context.Context, req *types.AddSongRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionEditPlaylist); err != nil {
			return err
		}
		if s.TrackIndex(req.Song.ID) >= 0 {
			return types.Validationf("song is already in the playlist")
		}
		track, err := h.catalog.FindTrack(ctx, req.Song.ID)
		if errors.Is(err, types.ErrNotFound) {
			return types.NotFoundf("song not found")
		}
		if err != nil {
			return fmt.Errorf("find track %s: %w", req.Song.ID, err)
		}

		playlist := append(slices.Clone(s.Playlist), track)
		updated, err := h.registry.Upsert(req.RoomID, session.Patch{Playlist: &playlist})
		if err != nil {
			return err
		}
		h.persist.SavePlaylist(req.RoomID, trackIDs(updated.Playlist))
		h.broadcaster.Broadcast(req.RoomID, types.EventAddSong, playlistState(updated))
		h.notify(req.RoomID, "New song added", fmt.Sprintf("%s added %s", displayName(m), track.Title))
		return nil
	})
}

// DeleteSong removes a track. Removing the current track stops playback at
// zero; the engine does not advance on its own.
func (h *Hub) DeleteSong(ctx context.Context, req *types.SongRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionEditPlaylist); err != nil {
			return err
		}
		i := s.TrackIndex(req.SongID)
		if i < 0 {
			return types.NotFoundf("song not found in the playlist")
		}
		removed := s.Playlist[i]
		playlist := slices.Delete(slices.Clone(s.Playlist), i, i+1)

		patch := session.Patch{Playlist: &playlist}
		if removed.ID == s.CurrentTrackID {
			now := h.now()
			patch.CurrentTrackID = session.Ptr("")
			patch.Paused = session.Ptr(true)
			patch.PositionSeconds = session.Ptr(0.0)
			patch.PositionSetAt = &now
		}
		updated, err := h.registry.Upsert(req.RoomID, patch)
		if err != nil {
			return err
		}
		h.persist.SavePlaylist(req.RoomID, trackIDs(updated.Playlist))
		h.broadcaster.Broadcast(req.RoomID, types.EventDeleteSong, playlistState(updated))
		h.notify(req.RoomID, "Song removed", fmt.Sprintf("%s removed song: %s", displayName(m), removed.Title))
		return nil
	})
}

func playlistState(s *types.Session) types.PlaylistState {
	return types.PlaylistState{
		Playlist:    s.Playlist,
		CurrentSong: s.CurrentTrackID,
		Paused:      s.Paused,
	}
}
