package hub

import (
	"context"
	"fmt"

	"syncplayer/internal/policy"
	"syncplayer/internal/session"
	"syncplayer/pkg/types"
)

// PlayPause toggles playback. The interpolated position is folded into the
// anchor so peers resume from where playback stopped.
func (h *Hub) PlayPause(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionPlayback); err != nil {
			return err
		}

		now := h.now()
		paused := !s.Paused
		updated, err := h.registry.Upsert(req.RoomID, session.Patch{
			Paused:          &paused,
			PositionSeconds: session.Ptr(s.PositionAt(now)),
			PositionSetAt:   &now,
		})
		if err != nil {
			return err
		}

		h.broadcaster.Broadcast(req.RoomID, types.EventPlayPause, updated.Playback())
		verb := "played"
		if paused {
			verb = "paused"
		}
		title := ""
		if t, ok := updated.CurrentTrack(); ok {
			title = t.Title
		}
		h.notify(req.RoomID,
			fmt.Sprintf("%s by %s", verb, displayName(m)),
			fmt.Sprintf("%s %s the song: %s", displayName(m), verb, title))
		return nil
	})
}

// Seek moves the anchor and resumes playback. Positions past the end of the
// current track are declined.
func (h *Hub) Seek(ctx context.Context, req *types.SeekRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionPlayback); err != nil {
			return err
		}
		track, ok := s.CurrentTrack()
		if !ok {
			return types.NotFoundf("no song is selected")
		}
		seconds := *req.SeekSeconds
		if track.Length > 0 && seconds > track.Length {
			return types.Capacityf("Can not seek to %s in a %s song", formatClock(seconds), formatClock(track.Length))
		}

		now := h.now()
		updated, err := h.registry.Upsert(req.RoomID, session.Patch{
			PositionSeconds: &seconds,
			PositionSetAt:   &now,
			Paused:          session.Ptr(false),
		})
		if err != nil {
			return err
		}

		h.broadcaster.Broadcast(req.RoomID, types.EventSeek, updated.Playback())
		h.notify(req.RoomID,
			fmt.Sprintf("Seeked to %s", formatClock(seconds)),
			fmt.Sprintf("%s seeked the song: %s to %s", displayName(m), track.Title, formatClock(seconds)))
		return nil
	})
}

// Sync re-anchors the clock from a client report without a broadcast. The
// reported position is clamped to the track length.
func (h *Hub) Sync(ctx context.Context, req *types.SyncRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionPlayback); err != nil {
			return err
		}
		track, ok := s.CurrentTrack()
		if !ok {
			return types.NotFoundf("no song is selected")
		}
		seconds := *req.SecondsPlayed
		if track.Length > 0 && seconds > track.Length {
			seconds = track.Length
		}
		now := h.now()
		_, err = h.registry.Upsert(req.RoomID, session.Patch{
			PositionSeconds: &seconds,
			PositionSetAt:   &now,
		})
		return err
	})
}

func (h *Hub) Next(ctx context.Context, req *types.StepRequest) error {
	return h.step(ctx, req, 1, types.EventNext)
}

func (h *Hub) Prev(ctx context.Context, req *types.StepRequest) error {
	return h.step(ctx, req, -1, types.EventPrev)
}

// step advances from the track the client believes is current, wrapping at
// both ends. When the target is already current the event is a no-op, so
// duplicate requests from several peers advance the session once.
func (h *Hub) step(ctx context.Context, req *types.StepRequest, dir int, event string) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionPlayback); err != nil {
			return err
		}
		n := len(s.Playlist)
		if n == 0 {
			return types.NotFoundf("playlist is empty")
		}
		i := s.TrackIndex(req.CurrentSongID)
		if i < 0 {
			return types.NotFoundf("song not found in the playlist")
		}
		target := s.Playlist[((i+dir)%n+n)%n]
		if target.ID == s.CurrentTrackID {
			return nil
		}

		var title, description string
		switch {
		case event == types.EventPrev:
			title = fmt.Sprintf("Previous song played by %s", displayName(m))
			description = fmt.Sprintf("%s played %q as a previous song", displayName(m), target.Title)
		case req.AutoPlay:
			title = "Next song"
			description = fmt.Sprintf("Auto played next song: %s", target.Title)
		default:
			title = "Next song"
			description = fmt.Sprintf("%s played %q as a next song", displayName(m), target.Title)
		}
		return h.startTrack(req.RoomID, target, event, title, description)
	})
}

// PlaySong jumps to a track in the playlist and restarts it from zero, even
// when it is already current.
func (h *Hub) PlaySong(ctx context.Context, req *types.SongRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionPlayback); err != nil {
			return err
		}
		i := s.TrackIndex(req.SongID)
		if i < 0 {
			return types.NotFoundf("song not found in the playlist")
		}
		target := s.Playlist[i]
		return h.startTrack(req.RoomID, target, types.EventPlaySong,
			target.Title, fmt.Sprintf("%s played %q", displayName(m), target.Title))
	})
}

// startTrack resets the anchor to the start of target and counts the play.
func (h *Hub) startTrack(roomID string, target types.Track, event, title, description string) error {
	now := h.now()
	updated, err := h.registry.Upsert(roomID, session.Patch{
		CurrentTrackID:  &target.ID,
		PositionSeconds: session.Ptr(0.0),
		PositionSetAt:   &now,
		Paused:          session.Ptr(false),
	})
	if err != nil {
		return err
	}
	h.persist.CountPlay(target.ID)
	h.broadcaster.Broadcast(roomID, event, updated.Playback())
	h.notify(roomID, title, description)
	return nil
}
