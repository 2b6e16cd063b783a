package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the authority tier of a session member. Values are ordered so that
// a higher value always carries every permission of a lower one.
type Role int

const (
	RoleMember Role = iota
	RoleController
	RoleAdmin
	RoleOwner
)

var roleNames = [...]string{"member", "controller", "admin", "owner"}

func (r Role) String() string {
	if r < RoleMember || r > RoleOwner {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole maps a wire name back to a Role.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return RoleMember, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Account is an identity resolved through the account directory.
type Account struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Track is a playlist entry. Length is in seconds.
type Track struct {
	ID          string  `json:"_id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	Length      float64 `json:"length"`
	URL         string  `json:"url,omitempty"`
	Cover       string  `json:"cover,omitempty"`
	TimesPlayed int     `json:"timesPlayed"`
}

// Member is a participant of a resident session.
type Member struct {
	ID              string    `json:"_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	ProfileImage    string    `json:"profileImage,omitempty"`
	Role            Role      `json:"role"`
	LastHeartbeatAt time.Time `json:"heartbeat"`
}

// ChatAuthor is the author snapshot stored with each chat message.
type ChatAuthor struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

type ChatMessage struct {
	ID     string     `json:"_id"`
	Author ChatAuthor `json:"user"`
	Text   string     `json:"message"`
	SentAt time.Time  `json:"timestamp"`
}

// Session is the in-memory state of an active listening room.
//
// Admins and Controllers are kept as ordered id sets. CurrentTrackID is empty
// when no track is selected. While not paused, the playback position is
// PositionSeconds plus the time elapsed since PositionSetAt.
type Session struct {
	ID              string        `json:"_id"`
	Name            string        `json:"name"`
	OwnerID         string        `json:"ownerId"`
	Admins          []string      `json:"admins"`
	Controllers     []string      `json:"controllers"`
	Members         []Member      `json:"users"`
	Playlist        []Track       `json:"playlist"`
	CurrentTrackID  string        `json:"currentSong,omitempty"`
	Paused          bool          `json:"paused"`
	PositionSeconds float64       `json:"secondsPlayed"`
	PositionSetAt   time.Time     `json:"lastPlayedAt"`
	ChatLog         []ChatMessage `json:"chats"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// RoomRecord is the durable projection of a room.
type RoomRecord struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Admins    []string  `json:"admins"`
	Playlist  []Track   `json:"playlist"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoomSummary is the listing view of a resident session.
type RoomSummary struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	MemberCount int    `json:"memberCount"`
	CurrentSong string `json:"currentSong,omitempty"`
}
