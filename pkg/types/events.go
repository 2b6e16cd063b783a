package types

import (
	"encoding/json"
	"time"
)

// Inbound socket events.
const (
	EventJoin              = "join"
	EventLeave             = "leave"
	EventAlive             = "alive"
	EventGetRoom           = "get-room"
	EventPlayPause         = "play-pause"
	EventSeek              = "seek"
	EventSync              = "sync"
	EventNext              = "next"
	EventPrev              = "prev"
	EventPlaySong          = "play-song"
	EventUpdatePlaylist    = "update-playlist"
	EventDeleteSong        = "delete-song"
	EventAddSong           = "add-song"
	EventChat              = "chat"
	EventClearChat         = "clear-chat"
	EventVoice             = "voice"
	EventPromoteAdmin      = "promote-admin"
	EventDemoteAdmin       = "demote-admin"
	EventPromoteController = "promote-controller"
	EventDemoteController  = "demote-controller"
	EventDeleteRoom        = "delete-room"
)

// Outbound-only socket events. Mutating inbound events are echoed to peers
// under their own name.
const (
	EventNotification = "notification"
	EventUsersChange  = "users-change"
	EventRolesChange  = "roles-change"
	EventJoinedRoom   = "joined-room"
	EventLeftRoom     = "left-room"
	EventError        = "error"
)

// Frame is the socket envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// PlaybackState is broadcast after every change to the playback anchor.
type PlaybackState struct {
	CurrentSong   string    `json:"currentSong,omitempty"`
	Paused        bool      `json:"paused"`
	SecondsPlayed float64   `json:"secondsPlayed"`
	LastPlayedAt  time.Time `json:"lastPlayedAt"`
}

func (s *Session) Playback() PlaybackState {
	return PlaybackState{
		CurrentSong:   s.CurrentTrackID,
		Paused:        s.Paused,
		SecondsPlayed: s.PositionSeconds,
		LastPlayedAt:  s.PositionSetAt,
	}
}

type PlaylistState struct {
	Playlist    []Track `json:"playlist"`
	CurrentSong string  `json:"currentSong,omitempty"`
	Paused      bool    `json:"paused"`
}

type ChatState struct {
	Chats []ChatMessage `json:"chats"`
}

type UsersChange struct {
	Users []Member `json:"users"`
	ID    string   `json:"_id"`
}

type RolesChange struct {
	ID          string   `json:"_id"`
	Admins      []string `json:"admins"`
	Controllers []string `json:"controllers"`
	Users       []Member `json:"users"`
}

type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type LeftRoom struct {
	ID string `json:"_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type VoicePayload struct {
	UserID    string     `json:"userId"`
	User      ChatAuthor `json:"user"`
	Audio     string     `json:"audio"`
	Timestamp time.Time  `json:"timestamp"`
}

type RoomPayload struct {
	Room *Session `json:"room"`
}
