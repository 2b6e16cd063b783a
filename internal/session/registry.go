package session

import (
	"slices"
	"sort"
	"sync"
	"time"

	"syncplayer/pkg/types"
)

// Patch is a shallow update: every non-nil field replaces the matching
// top-level field of the session.
type Patch struct {
	Name            *string
	OwnerID         *string
	Admins          *[]string
	Controllers     *[]string
	Members         *[]types.Member
	Playlist        *[]types.Track
	CurrentTrackID  *string
	Paused          *bool
	PositionSeconds *float64
	PositionSetAt   *time.Time
	ChatLog         *[]types.ChatMessage
}

// Ptr is a helper for building patches.
func Ptr[T any](v T) *T { return &v }

// Registry stores resident sessions. It guards its maps but is not a
// serialization point for a session: callers must funnel every mutation of a
// given room through that room's actor.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	byUser   map[string]string // userID -> roomID
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*types.Session),
		byUser:   make(map[string]string),
		now:      now,
	}
}

// Get returns a copy of the resident session.
func (r *Registry) Get(id string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Upsert merges p into the session and returns a copy of the result. A new
// session is created only when p carries an owner and a playlist.
func (r *Registry) Upsert(id string, p Patch) (*types.Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	current, exists := r.sessions[id]
	var next *types.Session
	if exists {
		if p.OwnerID != nil && *p.OwnerID != current.OwnerID {
			return nil, ErrOwnerImmutable
		}
		next = current.Clone()
	} else {
		if p.OwnerID == nil || *p.OwnerID == "" || p.Playlist == nil {
			return nil, ErrInvalidSeed
		}
		next = &types.Session{ID: id, CreatedAt: now}
	}

	apply(next, p)
	next.Normalize()
	if next.Admins == nil {
		next.Admins = []string{}
	}
	if next.Controllers == nil {
		next.Controllers = []string{}
	}
	if next.ChatLog == nil {
		next.ChatLog = []types.ChatMessage{}
	}
	if next.Members == nil {
		next.Members = []types.Member{}
	}
	if next.Playlist == nil {
		next.Playlist = []types.Track{}
	}
	next.UpdatedAt = now

	for _, m := range next.Members {
		if room, ok := r.byUser[m.ID]; ok && room != id {
			return nil, ErrMemberElsewhere
		}
	}

	if exists {
		for _, m := range current.Members {
			if next.MemberIndex(m.ID) < 0 {
				delete(r.byUser, m.ID)
			}
		}
	}
	for _, m := range next.Members {
		r.byUser[m.ID] = id
	}
	r.sessions[id] = next
	return next.Clone(), nil
}

func apply(s *types.Session, p Patch) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.OwnerID != nil {
		s.OwnerID = *p.OwnerID
	}
	if p.Admins != nil {
		s.Admins = slices.Clone(*p.Admins)
	}
	if p.Controllers != nil {
		s.Controllers = slices.Clone(*p.Controllers)
	}
	if p.Members != nil {
		s.Members = slices.Clone(*p.Members)
	}
	if p.Playlist != nil {
		s.Playlist = slices.Clone(*p.Playlist)
	}
	if p.CurrentTrackID != nil {
		s.CurrentTrackID = *p.CurrentTrackID
	}
	if p.Paused != nil {
		s.Paused = *p.Paused
	}
	if p.PositionSeconds != nil {
		s.PositionSeconds = *p.PositionSeconds
	}
	if p.PositionSetAt != nil {
		s.PositionSetAt = *p.PositionSetAt
	}
	if p.ChatLog != nil {
		s.ChatLog = slices.Clone(*p.ChatLog)
	}
}

// Remove deletes the session and releases its members. It reports whether a
// session was resident.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	for _, m := range s.Members {
		if r.byUser[m.ID] == id {
			delete(r.byUser, m.ID)
		}
	}
	delete(r.sessions, id)
	return true
}

// RoomOf returns the session the user currently belongs to.
func (r *Registry) RoomOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[userID]
	return id, ok
}

// IDs returns the resident session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) List() []types.RoomSummary {
	r.mu.RLock()
	out := make([]types.RoomSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
