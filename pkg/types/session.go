package types

import (
	"slices"
	"time"
)

// Clone returns a deep copy so callers can never mutate registry state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Admins = slices.Clone(s.Admins)
	c.Controllers = slices.Clone(s.Controllers)
	c.Members = slices.Clone(s.Members)
	c.Playlist = slices.Clone(s.Playlist)
	c.ChatLog = slices.Clone(s.ChatLog)
	return &c
}

// RoleOf derives the role of userID from the authority sets. Membership is
// not required.
func (s *Session) RoleOf(userID string) Role {
	switch {
	case userID == s.OwnerID:
		return RoleOwner
	case slices.Contains(s.Admins, userID):
		return RoleAdmin
	case slices.Contains(s.Controllers, userID):
		return RoleController
	default:
		return RoleMember
	}
}

func (s *Session) MemberIndex(userID string) int {
	return slices.IndexFunc(s.Members, func(m Member) bool { return m.ID == userID })
}

func (s *Session) Member(userID string) (Member, bool) {
	if i := s.MemberIndex(userID); i >= 0 {
		return s.Members[i], true
	}
	return Member{}, false
}

// AuthorityPresent reports whether any member above the member tier is in
// the session.
func (s *Session) AuthorityPresent() bool {
	return slices.ContainsFunc(s.Members, func(m Member) bool { return m.Role > RoleMember })
}

func (s *Session) TrackIndex(trackID string) int {
	return slices.IndexFunc(s.Playlist, func(t Track) bool { return t.ID == trackID })
}

func (s *Session) CurrentTrack() (Track, bool) {
	if s.CurrentTrackID == "" {
		return Track{}, false
	}
	if i := s.TrackIndex(s.CurrentTrackID); i >= 0 {
		return s.Playlist[i], true
	}
	return Track{}, false
}

// PositionAt interpolates the playback clock at now, bounded by the current
// track's length.
func (s *Session) PositionAt(now time.Time) float64 {
	pos := s.PositionSeconds
	if !s.Paused && !s.PositionSetAt.IsZero() {
		pos += now.Sub(s.PositionSetAt).Seconds()
	}
	if pos < 0 {
		pos = 0
	}
	if t, ok := s.CurrentTrack(); ok && t.Length > 0 && pos > t.Length {
		pos = t.Length
	}
	return pos
}

// Normalize restores the structural invariants after a merge: the owner is
// never an admin or controller, id sets and the playlist are duplicate-free,
// the current track is in the playlist, and every member role matches the
// authority sets.
func (s *Session) Normalize() {
	s.Admins = uniqueWithout(s.Admins, s.OwnerID)
	s.Controllers = uniqueWithout(s.Controllers, s.OwnerID)

	seenTracks := make(map[string]struct{}, len(s.Playlist))
	playlist := s.Playlist[:0:0]
	for _, t := range s.Playlist {
		if _, dup := seenTracks[t.ID]; dup || t.ID == "" {
			continue
		}
		seenTracks[t.ID] = struct{}{}
		playlist = append(playlist, t)
	}
	s.Playlist = playlist
	if _, ok := seenTracks[s.CurrentTrackID]; !ok {
		s.CurrentTrackID = ""
	}
	if s.CurrentTrackID == "" {
		s.PositionSeconds = 0
	}

	seenMembers := make(map[string]struct{}, len(s.Members))
	members := s.Members[:0:0]
	for _, m := range s.Members {
		if _, dup := seenMembers[m.ID]; dup {
			continue
		}
		seenMembers[m.ID] = struct{}{}
		m.Role = s.RoleOf(m.ID)
		members = append(members, m)
	}
	s.Members = members
}

func uniqueWithout(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Summary returns the listing view of the session.
func (s *Session) Summary() RoomSummary {
	return RoomSummary{
		ID:          s.ID,
		Name:        s.Name,
		OwnerID:     s.OwnerID,
		MemberCount: len(s.Members),
		CurrentSong: s.CurrentTrackID,
	}
}
