package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Request is implemented by every typed inbound payload.
type Request interface {
	Room() string
	Actor() string
	Validate() error
}

// Base carries the addressing fields shared by every event.
type Base struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (b Base) Room() string  { return b.RoomID }
func (b Base) Actor() string { return b.UserID }

func (b Base) Validate() error {
	if strings.TrimSpace(b.RoomID) == "" {
		return Validationf("roomId is required")
	}
	if strings.TrimSpace(b.UserID) == "" {
		return Validationf("userId is required")
	}
	return nil
}

type JoinRequest struct {
	Base
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage"`
}

type SeekRequest struct {
	Base
	SeekSeconds *float64 `json:"seekSeconds"`
}

func (r SeekRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.SeekSeconds == nil {
		return Validationf("seekSeconds is required")
	}
	if *r.SeekSeconds < 0 {
		return Validationf("Can not seek to %gseconds", *r.SeekSeconds)
	}
	return nil
}

type SyncRequest struct {
	Base
	SecondsPlayed *float64 `json:"secondsPlayed"`
}

func (r SyncRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.SecondsPlayed == nil || *r.SecondsPlayed < 0 {
		return Validationf("secondsPlayed must be a non-negative number")
	}
	return nil
}

// StepRequest carries next and prev. AutoPlay is only meaningful for next.
type StepRequest struct {
	Base
	CurrentSongID string `json:"currentSongId"`
	AutoPlay      bool   `json:"autoPlay"`
}

func (r StepRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.CurrentSongID == "" {
		return Validationf("currentSongId is required")
	}
	return nil
}

// SongRequest carries play-song and delete-song.
type SongRequest struct {
	Base
	SongID string `json:"songId"`
}

func (r SongRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.SongID == "" {
		return Validationf("songId is required")
	}
	return nil
}

type UpdatePlaylistRequest struct {
	Base
	SongIDs []string `json:"songIds"`
}

func (r UpdatePlaylistRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.SongIDs == nil {
		return Validationf("songIds is required")
	}
	for _, id := range r.SongIDs {
		if id == "" {
			return Validationf("songIds must not contain empty ids")
		}
	}
	return nil
}

// SongRef accepts either a bare track id or a track object.
type SongRef struct {
	ID string
}

func (s *SongRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		s.ID = id
		return nil
	}
	var t Track
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	s.ID = t.ID
	return nil
}

type AddSongRequest struct {
	Base
	Song SongRef `json:"song"`
}

func (r AddSongRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.Song.ID == "" {
		return Validationf("song not found")
	}
	return nil
}

type ChatRequest struct {
	Base
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (r ChatRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return Validationf("message can not be empty")
	}
	if r.Timestamp < 0 || r.Timestamp > maxChatTimestamp {
		return Validationf("timestamp out of range")
	}
	return nil
}

// maxChatTimestamp is the last millisecond of year 9999, the largest time
// that encodes as RFC 3339.
var maxChatTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli()

// MaxChatClockSkew bounds how far ahead of the server a client timestamp may be.
const MaxChatClockSkew = 24 * time.Hour

// SentAt returns the client timestamp (epoch milliseconds), or fallback when
// the client sent none or its clock runs more than MaxChatClockSkew ahead.
func (r ChatRequest) SentAt(fallback time.Time) time.Time {
	if r.Timestamp <= 0 || r.Timestamp > maxChatTimestamp {
		return fallback
	}
	sent := time.UnixMilli(r.Timestamp).UTC()
	if sent.After(fallback.Add(MaxChatClockSkew)) {
		return fallback
	}
	return sent
}

type VoiceRequest struct {
	Base
	Audio string `json:"audio"`
}

func (r VoiceRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.Audio == "" {
		return Validationf("audio required to voice chat")
	}
	return nil
}

// RoleRequest carries promote and demote events.
type RoleRequest struct {
	Base
	TargetUserID string `json:"targetUserId"`
}

func (r RoleRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if r.TargetUserID == "" {
		return Validationf("targetUserId is required")
	}
	return nil
}

// DecodeRequest unmarshals the payload of an inbound event into its typed
// request. Unknown events are a validation error.
func DecodeRequest(event string, data json.RawMessage) (Request, error) {
	var req Request
	switch event {
	case EventJoin:
		req = &JoinRequest{}
	case EventLeave, EventAlive, EventGetRoom, EventPlayPause, EventClearChat, EventDeleteRoom:
		req = &Base{}
	case EventSeek:
		req = &SeekRequest{}
	case EventSync:
		req = &SyncRequest{}
	case EventNext, EventPrev:
		req = &StepRequest{}
	case EventPlaySong, EventDeleteSong:
		req = &SongRequest{}
	case EventUpdatePlaylist:
		req = &UpdatePlaylistRequest{}
	case EventAddSong:
		req = &AddSongRequest{}
	case EventChat:
		req = &ChatRequest{}
	case EventVoice:
		req = &VoiceRequest{}
	case EventPromoteAdmin, EventDemoteAdmin, EventPromoteController, EventDemoteController:
		req = &RoleRequest{}
	default:
		return nil, Validationf("unknown event %q", event)
	}
	if len(data) == 0 {
		return nil, Validationf("%s: payload is required", event)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, Validationf("%s: malformed payload", event)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
